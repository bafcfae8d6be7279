package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/txmod/internal/host"
	"github.com/roach88/txmod/internal/module"
	"github.com/roach88/txmod/internal/store"
	"github.com/roach88/txmod/internal/txdata"
)

// scripted is a module whose behavior comes from a Script. Every hook call
// is recorded.
type scripted struct {
	id     string
	config module.BaseConfig
	script Script
	rec    *recorder
}

var (
	_ module.Module           = (*scripted)(nil)
	_ module.CommitObserver   = (*scripted)(nil)
	_ module.RollbackObserver = (*scripted)(nil)
	_ module.Starter          = (*scripted)(nil)
)

func (m *scripted) ID() string { return m.id }

func (m *scripted) Config() module.Config { return m.config }

func (m *scripted) call(name, detail string) {
	m.rec.add(TraceEvent{Type: EventCall, Name: name, Module: m.id, Detail: detail})
}

func (m *scripted) Initialize(context.Context, *host.DB) error {
	m.call("initialize", "")
	return m.initResult()
}

func (m *scripted) Reinitialize(_ context.Context, _ *host.DB, previous *store.ModuleMetadata) error {
	detail := "no previous metadata"
	if previous != nil {
		detail = "previous " + previous.LastInitializedAt.UTC().Format("2006-01-02T15:04:05Z")
	}
	m.call("reinitialize", detail)
	return m.initResult()
}

func (m *scripted) initResult() error {
	switch {
	case m.script.FailInitialize:
		return errors.New("scripted initialization failure")
	case m.script.DriftOnInitialize:
		return module.NeedsReinitialization("scripted drift")
	}
	return nil
}

func (m *scripted) Start(context.Context, *host.DB) error {
	m.call("start", "")
	if m.script.FailStart {
		return errors.New("scripted start failure")
	}
	return nil
}

func (m *scripted) BeforeCommit(_ context.Context, _ *host.Tx, data txdata.Data) (any, error) {
	m.call("beforeCommit", describe(data))

	state := m.id + "-state"
	switch {
	case touches(data, m.script.AbortOn):
		return state, module.Abort("scripted abort on " + m.script.AbortOn)
	case touches(data, m.script.FailOn):
		return state, fmt.Errorf("scripted failure on %s", m.script.FailOn)
	case touches(data, m.script.DriftOn):
		return state, module.NeedsReinitialization("scripted drift on " + m.script.DriftOn)
	}
	return state, nil
}

func (m *scripted) AfterCommit(_ context.Context, state any) error {
	m.call("afterCommit", fmt.Sprint(state))
	if m.script.DriftAfterCommit {
		return module.NeedsReinitialization("scripted drift after commit")
	}
	return nil
}

func (m *scripted) AfterRollback(_ context.Context, state any) error {
	m.call("afterRollback", fmt.Sprint(state))
	return nil
}

func (m *scripted) Shutdown(context.Context) error {
	m.call("shutdown", "")
	return nil
}

func touches(data txdata.Data, kind string) bool {
	if kind == "" {
		return false
	}
	for _, c := range data.Changes() {
		if c.Ref().Kind == kind {
			return true
		}
	}
	return false
}

// describe summarizes a view as "created person/ada, deleted pet/rex".
// Updates list their changed properties: "updated person/ada[age]".
func describe(data txdata.Data) string {
	parts := make([]string, 0, len(data.Changes()))
	for _, c := range data.Changes() {
		part := c.Op.String() + " " + c.Ref().String()
		if c.Op == txdata.OpUpdated {
			part += "[" + strings.Join(c.ChangedKeys(), ",") + "]"
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ", ")
}
