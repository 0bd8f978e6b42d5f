package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/p-blackswan/memgraph/internal/graph"
	"github.com/p-blackswan/memgraph/internal/store"
)

type sourceOptions struct {
	dbPath  string
	graphID string
}

func (o *sourceOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.dbPath, "db", "", "read the snapshot from this SQLite database instead of a file")
	cmd.Flags().StringVar(&o.graphID, "graph", "default", "graph id to read with --db")
}

// load reads a graph from a snapshot file or, with --db, from the store.
func (o *sourceOptions) load(ctx context.Context, args []string) (*graph.Engine, error) {
	logger := zerolog.Nop()
	if o.dbPath != "" {
		if len(args) > 0 {
			return nil, &ExitError{Code: ExitCommandError, Message: "give either a snapshot file or --db, not both"}
		}
		st, err := store.New(o.dbPath, logger)
		if err != nil {
			return nil, &ExitError{Code: ExitCommandError, Message: "opening database", Err: err}
		}
		defer st.Close()
		snap, err := st.LoadSnapshot(ctx, o.graphID)
		if err != nil {
			return nil, &ExitError{Code: ExitCommandError, Message: "loading snapshot", Err: err}
		}
		e, err := graph.FromSnapshot(snap, graph.Config{}, nil, logger)
		if err != nil {
			return nil, &ExitError{Code: ExitCommandError, Message: "loading snapshot", Err: err}
		}
		return e, nil
	}

	if len(args) != 1 {
		return nil, &ExitError{Code: ExitCommandError, Message: "a snapshot file is required"}
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, &ExitError{Code: ExitCommandError, Message: "reading snapshot", Err: err}
	}
	e, err := graph.Load(data, graph.Config{}, nil, logger)
	if err != nil {
		return nil, &ExitError{Code: ExitCommandError, Message: "loading snapshot", Err: err}
	}
	return e, nil
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	src := &sourceOptions{}
	cmd := &cobra.Command{
		Use:   "validate [snapshot.json]",
		Short: "Check a graph snapshot for integrity errors",
		Long: `Load a graph snapshot and report dangling relationships, duplicate ids,
invalid node attributes and other integrity problems.

Exits 1 when the graph has errors. Warnings do not fail the command.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := src.load(cmd.Context(), args)
			if err != nil {
				return err
			}
			return writeValidation(cmd.OutOrStdout(), rootOpts.Format, e.Info(), e.ValidateGraph())
		},
	}
	src.bind(cmd)
	return cmd
}

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand(rootOpts *RootOptions) *cobra.Command {
	src := &sourceOptions{}
	cmd := &cobra.Command{
		Use:           "analyze [snapshot.json]",
		Short:         "Print size, distribution and completeness metrics for a snapshot",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := src.load(cmd.Context(), args)
			if err != nil {
				return err
			}
			return writeAnalysis(cmd.OutOrStdout(), rootOpts.Format, e.Info(), e.AnalyzeGraph())
		},
	}
	src.bind(cmd)
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeValidation(w io.Writer, format string, info graph.Info, r graph.ValidationReport) error {
	if format == "json" {
		if err := writeJSON(w, r); err != nil {
			return err
		}
	} else {
		if r.IsValid {
			fmt.Fprintf(w, "✓ graph %s is valid (%d nodes, %d relationships)\n", info.ID, info.NodeCount, info.RelationshipCount)
		} else {
			fmt.Fprintf(w, "✗ graph %s has %d error(s)\n", info.ID, len(r.Errors))
			for _, is := range r.Errors {
				fmt.Fprintf(w, "  error   %-24s %s\n", is.Code, is.Message)
			}
		}
		for _, is := range r.Warnings {
			fmt.Fprintf(w, "  warning %-24s %s\n", is.Code, is.Message)
		}
	}
	if !r.IsValid {
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("validation failed with %d error(s)", len(r.Errors))}
	}
	return nil
}

func writeAnalysis(w io.Writer, format string, info graph.Info, a graph.Analysis) error {
	if format == "json" {
		return writeJSON(w, a)
	}
	fmt.Fprintf(w, "graph %s (%s)\n", info.ID, info.Name)
	fmt.Fprintf(w, "  nodes:          %d\n", a.TotalNodes)
	fmt.Fprintf(w, "  relationships:  %d\n", a.TotalRelationships)
	fmt.Fprintf(w, "  complexity:     %.2f\n", a.Complexity)
	fmt.Fprintf(w, "  completeness:   %.0f%%\n", a.Completeness*100)
	fmt.Fprintf(w, "  orphan nodes:   %d\n", a.OrphanNodes)

	if len(a.NodeTypeDistribution) > 0 {
		fmt.Fprintln(w, "  node types:")
		for _, t := range graph.NodeTypes {
			if n := a.NodeTypeDistribution[t]; n > 0 {
				fmt.Fprintf(w, "    %-12s %d\n", t, n)
			}
		}
	}
	if len(a.RelationshipTypeDistribution) > 0 {
		fmt.Fprintln(w, "  relationship types:")
		keys := make([]string, 0, len(a.RelationshipTypeDistribution))
		for t := range a.RelationshipTypeDistribution {
			keys = append(keys, string(t))
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "    %-12s %d\n", k, a.RelationshipTypeDistribution[graph.RelationshipType(k)])
		}
	}
	return nil
}
