// Package modules maps configured module types to constructors.
package modules

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/txmod/internal/config"
	"github.com/roach88/txmod/internal/module"
	"github.com/roach88/txmod/internal/modules/kindcount"
)

// Constructor builds a module from its id and resolved configuration.
type Constructor func(id string, cfg module.BaseConfig, logger *slog.Logger) (module.Module, error)

// Catalog is a set of known module types.
type Catalog struct {
	constructors map[string]Constructor
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{constructors: make(map[string]Constructor)}
}

// Builtin returns a catalog with every module type shipped with txmod.
func Builtin() *Catalog {
	c := NewCatalog()
	c.Add(kindcount.Type, func(id string, cfg module.BaseConfig, logger *slog.Logger) (module.Module, error) {
		m, err := kindcount.New(id, cfg, logger)
		if err != nil {
			return nil, err
		}
		return m, nil
	})
	return c
}

// Add registers a constructor, replacing any previous one for typ.
func (c *Catalog) Add(typ string, ctor Constructor) {
	c.constructors[typ] = ctor
}

// Types returns the known type names, sorted.
func (c *Catalog) Types() []string {
	out := make([]string, 0, len(c.constructors))
	for t := range c.constructors {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Build constructs the module declared by mc.
func (c *Catalog) Build(mc config.ModuleConfig, logger *slog.Logger) (module.Module, error) {
	ctor, ok := c.constructors[mc.Type]
	if !ok {
		return nil, fmt.Errorf("module %q: unknown type %q (known: %v)", mc.ID, mc.Type, c.Types())
	}

	policies, err := mc.Policies()
	if err != nil {
		return nil, err
	}
	settings, err := mc.SettingsObject()
	if err != nil {
		return nil, err
	}

	cfg := module.NewConfig().WithPolicies(policies).WithInitializeUntil(mc.InitializeUntil)
	cfg.Settings = settings

	return ctor(mc.ID, cfg, logger)
}

// BuildAll constructs every configured module, in order.
func (c *Catalog) BuildAll(mcs []config.ModuleConfig, logger *slog.Logger) ([]module.Module, error) {
	out := make([]module.Module, 0, len(mcs))
	for _, mc := range mcs {
		m, err := c.Build(mc, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
