package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/txmod/internal/engine"
	"github.com/roach88/txmod/internal/modules"
	"github.com/roach88/txmod/internal/store"
)

// ActionRemove is reported for stored modules that are no longer configured.
const ActionRemove = "REMOVE"

// ModuleStatus is one row of the status report.
type ModuleStatus struct {
	Module              string     `json:"module"`
	Type                string     `json:"type,omitempty"`
	Configured          bool       `json:"configured"`
	Fingerprint         string     `json:"fingerprint,omitempty"`
	LastInitializedAt   *time.Time `json:"last_initialized_at,omitempty"`
	NeedsInitialization bool       `json:"needs_initialization"`
	NextStart           string     `json:"next_start"`
	Reason              string     `json:"reason,omitempty"`
}

// StatusReport lists configured and stored modules.
type StatusReport struct {
	Database string         `json:"database"`
	Modules  []ModuleStatus `json:"modules"`
}

// RenderText implements TextRenderer.
func (r StatusReport) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "Database: %s\n", r.Database)
	if len(r.Modules) == 0 {
		fmt.Fprintln(w, "No modules configured or recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODULE\tTYPE\tFINGERPRINT\tLAST INITIALIZED\tNEXT START\tREASON")
	for _, m := range r.Modules {
		last := "-"
		if m.LastInitializedAt != nil {
			last = m.LastInitializedAt.Format(time.RFC3339)
		}
		typ := m.Type
		if typ == "" {
			typ = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", m.Module, typ, shortFingerprint(m.Fingerprint), last, m.NextStart, m.Reason)
	}
	return tw.Flush()
}

func shortFingerprint(fp string) string {
	switch {
	case fp == "":
		return "-"
	case len(fp) > 12:
		return fp[:12]
	default:
		return fp
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show module metadata and what the next start will do",
		Long: `Compare the configured modules with the metadata stored in the database.

For each module the report shows the stored fingerprint, the last
initialization time and the action the next start will take. The runtime is
not started and no module hook runs.

Example:
  txmod status --config txmod.yaml
  txmod status --db ./txmod.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), rootOpts, cmd, time.Now().UTC())
		},
	}
	return cmd
}

func runStatus(ctx context.Context, opts *RootOptions, cmd *cobra.Command, now time.Time) error {
	out := opts.formatter(cmd)
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return out.Fail(ExitCommandError, CodeConfig, "invalid configuration", err)
	}
	mods, err := modules.Builtin().BuildAll(cfg.Modules, nil)
	if err != nil {
		return out.Fail(ExitCommandError, CodeConfig, "invalid module configuration", err)
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to open database", err)
	}
	defer st.Close()

	stored, err := st.ReadAllModuleMetadata(ctx)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to read metadata", err)
	}
	byID := make(map[string]store.ModuleMetadata, len(stored))
	for _, md := range stored {
		byID[md.ModuleID] = md
	}

	report := StatusReport{Database: cfg.Database, Modules: []ModuleStatus{}}
	configured := make(map[string]bool, len(mods))
	for i, m := range mods {
		configured[m.ID()] = true
		row := ModuleStatus{Module: m.ID(), Type: cfg.Modules[i].Type, Configured: true}

		fp, err := m.Config().Fingerprint()
		if err != nil {
			return out.Fail(ExitCommandError, CodeConfig, "failed to fingerprint module", err)
		}

		var current *store.ModuleMetadata
		corrupt := false
		if md, ok := byID[m.ID()]; ok {
			fillStored(&row, md)
			corrupt = md.Fingerprint == "" || md.LastInitializedAt.IsZero()
			if !corrupt {
				current = &md
			}
		}

		d := engine.Decide(current, corrupt, fp, m.Config().InitializeUntil(), now)
		row.NextStart, row.Reason = string(d.Action), d.Reason
		report.Modules = append(report.Modules, row)
	}

	for _, md := range stored {
		if configured[md.ModuleID] {
			continue
		}
		row := ModuleStatus{Module: md.ModuleID, NextStart: ActionRemove, Reason: "no longer configured"}
		fillStored(&row, md)
		report.Modules = append(report.Modules, row)
	}

	return out.Success(report)
}

func fillStored(row *ModuleStatus, md store.ModuleMetadata) {
	row.Fingerprint = md.Fingerprint
	if !md.LastInitializedAt.IsZero() {
		t := md.LastInitializedAt
		row.LastInitializedAt = &t
	}
	row.NeedsInitialization = md.NeedsInitialization()
}
