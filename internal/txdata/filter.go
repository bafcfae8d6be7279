package txdata

// Filtered is a module's view of a transaction, restricted by its Policies.
type Filtered struct {
	changes []Change
}

var _ Data = (*Filtered)(nil)

// Filter derives the view of data seen through policies.
//
// Rules, per change:
//   - the before and after images are tested against the entity policy;
//     an update that moves an entity into the policy is seen as a creation,
//     one that moves it out is seen as a deletion
//   - an update whose changed properties are all excluded is dropped
//   - property maps are projected through the property policy
//
// Images are copied; data is never modified.
func Filter(data Data, policies Policies) *Filtered {
	entities := policies.entities()
	props := policies.properties()

	var out []Change
	for _, c := range data.Changes() {
		before := c.Before != nil && entities.IncludeEntity(*c.Before)
		after := c.After != nil && entities.IncludeEntity(*c.After)

		switch {
		case before && after:
			projected := Change{
				Op:     c.Op,
				Before: project(c.Before, props),
				After:  project(c.After, props),
			}
			if c.Op == OpUpdated && len(projected.ChangedKeys()) == 0 {
				continue
			}
			out = append(out, projected)
		case after:
			out = append(out, Change{Op: OpCreated, After: project(c.After, props)})
		case before:
			out = append(out, Change{Op: OpDeleted, Before: project(c.Before, props)})
		}
	}

	return &Filtered{changes: out}
}

func project(e *Entity, policy PropertyPolicy) *Entity {
	cp := e.Clone()
	for k := range cp.Props {
		if !policy.IncludeProperty(k, *e) {
			delete(cp.Props, k)
		}
	}
	return &cp
}

// MutationsOccurred implements Data.
func (f *Filtered) MutationsOccurred() bool {
	return len(f.changes) > 0
}

// Changes implements Data.
func (f *Filtered) Changes() []Change {
	cp := make([]Change, len(f.changes))
	copy(cp, f.changes)
	return cp
}

// Created implements Data.
func (f *Filtered) Created() []Change { return byOp(f.changes, OpCreated) }

// Updated implements Data.
func (f *Filtered) Updated() []Change { return byOp(f.changes, OpUpdated) }

// Deleted implements Data.
func (f *Filtered) Deleted() []Change { return byOp(f.changes, OpDeleted) }
