package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/ade/internal/ir"
	"github.com/roach88/ade/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	GoalID   int64
	Token    string
}

// GoalTrace is one goal with its lifecycle events and the sub-goals an
// open-world goal spawned.
type GoalTrace struct {
	Hash     string         `json:"hash"`
	Goal     ir.GoalRecord  `json:"goal"`
	Events   []ir.GoalEvent `json:"events"`
	Children []GoalTrace    `json:"children,omitempty"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Goals []GoalTrace `json:"goals"`
	Stats TraceStats  `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	Goals     int `json:"goals"`
	Events    int `json:"events"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Open      int `json:"open"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the recorded history of goals",
		Long: `Show goals recorded by earlier runs: their outcome, the action
chosen for each, world updates, lifecycle events and spawned sub-goals.

Without --goal or --token every top-level goal is shown.

Examples:
  ade trace --db ./ade.db
  ade trace --db ./ade.db --goal 1729012345678
  ade trace --db ./ade.db --token 0190c0de-... --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().Int64Var(&opts.GoalID, "goal", 0, "goal ID to trace")
	cmd.Flags().StringVar(&opts.Token, "token", "", "goal token to trace")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := newFormatter(opts.RootOptions, cmd)

	st, err := openExisting(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	defer st.Close()

	roots, err := selectGoals(ctx, st, opts)
	if errors.Is(err, store.ErrNotFound) {
		return formatter.Fail(ExitFailure, ErrCodeNotFound, "goal not found", err)
	}
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read goals", err)
	}

	result := TraceResult{Goals: []GoalTrace{}}
	for _, g := range roots {
		gt, err := buildGoalTrace(ctx, st, g)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read goal history", err)
		}
		result.Goals = append(result.Goals, gt)
		countStats(&result.Stats, gt)
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	return outputTraceText(formatter.Writer, result, opts.Verbose)
}

// openExisting opens a database that must already exist.
func openExisting(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("database %s: %w", path, err)
	}
	return store.Open(path)
}

// selectGoals resolves the goals to trace: one by ID or token, or every
// top-level goal.
func selectGoals(ctx context.Context, st *store.Store, opts *TraceOptions) ([]ir.GoalRecord, error) {
	if opts.GoalID != 0 {
		g, err := st.ReadGoal(ctx, opts.GoalID)
		if err != nil {
			return nil, err
		}
		return []ir.GoalRecord{g}, nil
	}
	all, err := st.ReadGoals(ctx)
	if err != nil {
		return nil, err
	}
	var out []ir.GoalRecord
	for _, g := range all {
		switch {
		case opts.Token != "":
			if g.Token == opts.Token {
				return []ir.GoalRecord{g}, nil
			}
		case g.Parent == 0:
			out = append(out, g)
		}
	}
	if opts.Token != "" {
		return nil, fmt.Errorf("goal with token %s: %w", opts.Token, store.ErrNotFound)
	}
	return out, nil
}

func buildGoalTrace(ctx context.Context, st *store.Store, g ir.GoalRecord) (GoalTrace, error) {
	events, err := st.ReadEvents(ctx, g.ID)
	if err != nil {
		return GoalTrace{}, err
	}
	hash, err := ir.GoalHash(g.Predicate, g.ID)
	if err != nil {
		return GoalTrace{}, err
	}
	gt := GoalTrace{Hash: hash, Goal: g, Events: events}
	children, err := st.ReadChildren(ctx, g.ID)
	if err != nil {
		return GoalTrace{}, err
	}
	for _, c := range children {
		ct, err := buildGoalTrace(ctx, st, c)
		if err != nil {
			return GoalTrace{}, err
		}
		gt.Children = append(gt.Children, ct)
	}
	return gt, nil
}

func countStats(stats *TraceStats, gt GoalTrace) {
	stats.Goals++
	stats.Events += len(gt.Events)
	switch {
	case gt.Goal.Status == ir.StatusSucceeded:
		stats.Succeeded++
	case gt.Goal.Status.Terminal():
		stats.Failed++
	default:
		stats.Open++
	}
	for _, c := range gt.Children {
		countStats(stats, c)
	}
}

func outputTraceText(w io.Writer, result TraceResult, verbose bool) error {
	if len(result.Goals) == 0 {
		fmt.Fprintln(w, "No goals recorded")
		return nil
	}
	for _, gt := range result.Goals {
		writeGoalTrace(w, gt, 0, verbose)
	}
	fmt.Fprintf(w, "\n%d goal(s), %d event(s): %d succeeded, %d failed, %d open\n",
		result.Stats.Goals, result.Stats.Events, result.Stats.Succeeded, result.Stats.Failed, result.Stats.Open)
	return nil
}

func writeGoalTrace(w io.Writer, gt GoalTrace, depth int, verbose bool) {
	indent := strings.Repeat("  ", depth)
	g := gt.Goal
	fmt.Fprintf(w, "%s[%d] %s: %s", indent, g.ID, g.Predicate.String(), g.Status.String())
	if g.Action != "" {
		fmt.Fprintf(w, " via %s", g.Action)
	}
	if g.Error != "" {
		fmt.Fprintf(w, " (%s)", g.Error)
	}
	fmt.Fprintln(w)
	if verbose {
		fmt.Fprintf(w, "%s    token %s, priority %.2f\n", indent, g.Token, g.Priority)
	}
	for _, u := range g.Updates {
		fmt.Fprintf(w, "%s    + %s\n", indent, u.Ground().String())
	}
	for _, ev := range gt.Events {
		fmt.Fprintf(w, "%s    %d %s %s", indent, ev.Seq, ev.Kind, ev.Status.String())
		if ev.Detail != "" {
			fmt.Fprintf(w, " %s", ev.Detail)
		}
		fmt.Fprintln(w)
	}
	for _, c := range gt.Children {
		writeGoalTrace(w, c, depth+1, verbose)
	}
}
