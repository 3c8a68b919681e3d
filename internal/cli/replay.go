package cli

import (
	"context"
	"fmt"
	"reflect"

	"github.com/spf13/cobra"

	"github.com/roach88/ade/internal/actiondb"
	"github.com/roach88/ade/internal/ir"
	"github.com/roach88/ade/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	After    int64
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Events        []ir.GoalEvent `json:"events"`
	LastSeq       int64          `json:"last_seq"`
	Interrupted   []int64        `json:"interrupted,omitempty"`
	FactsRestored int            `json:"facts_restored"`
	Facts         []string       `json:"facts"`
	Deterministic bool           `json:"deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the goal log and restore facts",
		Long: `Replay the goal event log in sequence order and restore the saved
world facts into a fresh database.

The log is read twice and compared to verify it replays identically.
Goals still open in the log, left by a run that did not finish, are
listed as interrupted. Use --after to resume from a known sequence.

Exit codes:
  0 - Log replayed identically
  1 - Replays differ
  2 - Command error (database not found, etc.)

Examples:
  ade replay --db ./ade.db
  ade replay --db ./ade.db --after 42 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().Int64Var(&opts.After, "after", 0, "replay events after this sequence number")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := newFormatter(opts.RootOptions, cmd)

	st, err := openExisting(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	defer st.Close()

	result, err := replayLog(ctx, st, opts.After)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "replay failed", err)
	}

	if opts.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		outputReplayText(formatter, result)
	}
	if !result.Deterministic {
		return NewExitError(ExitFailure, "replays of the goal log differ")
	}
	return nil
}

func replayLog(ctx context.Context, st *store.Store, after int64) (ReplayResult, error) {
	first, err := st.ReadLog(ctx, after)
	if err != nil {
		return ReplayResult{}, err
	}
	second, err := st.ReadLog(ctx, after)
	if err != nil {
		return ReplayResult{}, err
	}
	result := ReplayResult{
		Events:        first,
		LastSeq:       after,
		Deterministic: reflect.DeepEqual(first, second),
		Facts:         []string{},
	}
	if result.Events == nil {
		result.Events = []ir.GoalEvent{}
	}
	if n := len(first); n > 0 {
		result.LastSeq = first[n-1].Seq
	}

	open, err := st.FindInterrupted(ctx)
	if err != nil {
		return ReplayResult{}, err
	}
	for _, g := range open {
		result.Interrupted = append(result.Interrupted, g.ID)
	}

	db := actiondb.New()
	if result.FactsRestored, err = st.RestoreFacts(ctx, db); err != nil {
		return ReplayResult{}, err
	}
	for _, f := range db.Facts() {
		result.Facts = append(result.Facts, factLine(f))
	}
	return result, nil
}

func outputReplayText(formatter *OutputFormatter, result ReplayResult) {
	w := formatter.Writer
	for _, ev := range result.Events {
		fmt.Fprintf(w, "%d goal %d %s %s", ev.Seq, ev.GoalID, ev.Kind, ev.Status.String())
		if ev.Detail != "" {
			fmt.Fprintf(w, " %s", ev.Detail)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "\nReplayed %d event(s) up to seq %d\n", len(result.Events), result.LastSeq)
	if len(result.Interrupted) > 0 {
		fmt.Fprintf(w, "Interrupted goals: %v\n", result.Interrupted)
	}
	fmt.Fprintf(w, "Restored %d fact(s)\n", result.FactsRestored)
	for _, f := range result.Facts {
		fmt.Fprintf(w, "  %s\n", f)
	}
	if result.Deterministic {
		fmt.Fprintln(w, "✓ Log replays identically")
	} else {
		fmt.Fprintln(w, "✗ Replays differ")
	}
}
