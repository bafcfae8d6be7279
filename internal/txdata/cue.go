package txdata

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/txmod/internal/value"
)

// CUEPolicy includes an entity when its document
//
//	{kind: <kind>, key: <key>, props: {...}}
//
// unifies with the compiled constraint and the result is concrete.
// Examples:
//
//	kind: "person"
//	kind: "person" | "company"
//	kind: "person", props: age: >=18
//
// A constraint on a property the entity lacks excludes the entity.
//
// Each evaluation compiles the constraint into its own cue.Context. A
// context retains every value built in it, and is not safe for concurrent use.
type CUEPolicy struct {
	source string
}

var _ EntityPolicy = (*CUEPolicy)(nil)

// CompileCUE compiles a CUE constraint. The source is the body of a struct,
// so `kind: "person"` and `{kind: "person"}` are both accepted.
func CompileCUE(source string) (*CUEPolicy, error) {
	src := strings.TrimSpace(source)
	if src == "" {
		return nil, fmt.Errorf("compile policy: empty constraint")
	}

	if _, err := compileConstraint(cuecontext.New(), src); err != nil {
		return nil, err
	}
	return &CUEPolicy{source: src}, nil
}

func compileConstraint(ctx *cue.Context, src string) (cue.Value, error) {
	constraint := ctx.CompileString("{\n"+src+"\n}", cue.Filename("policy.cue"))
	if err := constraint.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("compile policy %q: %w", src, err)
	}
	return constraint, nil
}

// MustCompileCUE is like CompileCUE but panics on error.
// Use only in tests or with constant sources.
func MustCompileCUE(source string) *CUEPolicy {
	p, err := CompileCUE(source)
	if err != nil {
		panic(err)
	}
	return p
}

// Source returns the constraint as written.
func (p *CUEPolicy) Source() string {
	return p.source
}

// IncludeEntity implements EntityPolicy.
func (p *CUEPolicy) IncludeEntity(e Entity) bool {
	ctx := cuecontext.New()
	constraint, err := compileConstraint(ctx, p.source)
	if err != nil {
		return false
	}

	doc := ctx.Encode(map[string]any{
		"kind":  e.Kind,
		"key":   e.Key,
		"props": value.ToAny(e.Props),
	})
	if doc.Err() != nil {
		return false
	}

	return constraint.Unify(doc).Validate(cue.Concrete(true)) == nil
}

// Describe implements EntityPolicy.
func (p *CUEPolicy) Describe() value.Value {
	return value.Object{"type": value.String("cue"), "source": value.String(p.source)}
}
