package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/txmod/internal/engine"
	"github.com/roach88/txmod/internal/host"
	"github.com/roach88/txmod/internal/txdata"
	"github.com/roach88/txmod/internal/value"
)

// Mutation is one write of a batch.
type Mutation struct {
	Op    string         `yaml:"op"` // "put" | "delete"
	Kind  string         `yaml:"kind"`
	Key   string         `yaml:"key"`
	Props map[string]any `yaml:"props"`
}

// CommitResult reports a committed transaction.
type CommitResult struct {
	TxID   string `json:"tx_id"`
	Writes int    `json:"writes"`
}

// RenderText implements TextRenderer.
func (r CommitResult) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Committed %d write(s) in transaction %s\n", r.Writes, r.TxID)
	return err
}

// NewPutCommand creates the put command.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "put <kind> <key> [prop=value...]",
		Short: "Create or replace an entity",
		Long: `Create or replace one entity in a single transaction.

Property values are integers, true/false, or strings. Every configured module
sees the transaction and may reject it.

Example:
  txmod put person ada name=Ada age=36 admin=true`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			props, err := parseProps(args[2:])
			if err != nil {
				return out.Fail(ExitCommandError, CodeInput, "invalid property", err)
			}
			m := Mutation{Op: "put", Kind: args[0], Key: args[1], Props: props}
			return commit(cmd, rootOpts, []Mutation{m})
		},
	}
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <kind> <key>",
		Short: "Delete an entity",
		Long: `Delete one entity in a single transaction. Deleting a missing entity
commits an empty transaction.

Example:
  txmod delete person ada`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return commit(cmd, rootOpts, []Mutation{{Op: "delete", Kind: args[0], Key: args[1]}})
		},
	}
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <file.yaml>",
		Short: "Apply a batch of writes in one transaction",
		Long: `Apply a YAML list of writes in one transaction. Either every write
commits or none does.

File format:
  - op: put
    kind: person
    key: ada
    props: {name: Ada, age: 36}
  - op: delete
    kind: person
    key: bob

Example:
  txmod apply --config txmod.yaml batch.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			batch, err := readBatch(args[0])
			if err != nil {
				return out.Fail(ExitCommandError, CodeInput, "invalid batch file", err)
			}
			return commit(cmd, rootOpts, batch)
		},
	}
}

func readBatch(path string) ([]Mutation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var batch []Mutation
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&batch); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, m := range batch {
		if m.Op != "put" && m.Op != "delete" {
			return nil, fmt.Errorf("[%d]: op must be put or delete, got %q", i, m.Op)
		}
	}
	return batch, nil
}

// parseProps turns prop=value arguments into properties.
func parseProps(args []string) (map[string]any, error) {
	props := make(map[string]any, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%q: expected prop=value", arg)
		}
		props[k] = parseScalar(v)
	}
	return props, nil
}

func parseScalar(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(s); err == nil && (s == "true" || s == "false") {
		return b
	}
	return s
}

func commit(cmd *cobra.Command, opts *RootOptions, batch []Mutation) error {
	out := opts.formatter(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	entities := make([]*txdata.Entity, len(batch))
	for i, m := range batch {
		if m.Op == "delete" {
			continue
		}
		props, err := value.ObjectFromAny(m.Props)
		if err != nil {
			return out.Fail(ExitCommandError, CodeInput, fmt.Sprintf("invalid properties for %s/%s", m.Kind, m.Key), err)
		}
		entities[i] = &txdata.Entity{Kind: m.Kind, Key: m.Key, Props: props}
	}

	var result CommitResult
	err := withRuntime(ctx, opts, out.GetErrWriter(), func(rt *runtime) error {
		return rt.db.Update(ctx, func(tx *host.Tx) error {
			result.TxID = tx.ID()
			for i, m := range batch {
				var err error
				if entities[i] != nil {
					err = tx.Put(ctx, *entities[i])
				} else {
					err = tx.Delete(ctx, txdata.Ref{Kind: m.Kind, Key: m.Key})
				}
				if err != nil {
					return err
				}
				result.Writes++
			}
			return nil
		})
	})
	if err != nil {
		return reportError(out, err)
	}
	return out.Success(result)
}

// reportError prints err in the configured format and returns it as an
// ExitError carrying the matching exit code.
func reportError(out *OutputFormatter, err error) error {
	var exitErr *ExitError
	switch {
	case engine.IsCommitError(err):
		return out.Fail(ExitFailure, CodeRejected, "transaction rejected", err)
	case engine.IsInitializationError(err), engine.IsStateError(err):
		return out.Fail(ExitFailure, CodeStart, "runtime failed to start", err)
	case errors.As(err, &exitErr):
		code := CodeStore
		if exitErr.Code == ExitCommandError {
			code = CodeConfig
		}
		return out.Fail(exitErr.Code, code, exitErr.Message, exitErr.Err)
	default:
		return out.Fail(ExitFailure, CodeStore, "transaction failed", err)
	}
}
