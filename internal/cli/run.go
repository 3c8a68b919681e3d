package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/ade/internal/actiondb"
	"github.com/roach88/ade/internal/config"
	"github.com/roach88/ade/internal/interp"
	"github.com/roach88/ade/internal/ir"
	"github.com/roach88/ade/internal/scheduler"
	"github.com/roach88/ade/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Goals    []string
	Config   string
	Database string
	Policy   string
	Fail     []string
	Timeout  time.Duration

	// Tokens overrides the goal token generator (for testing).
	// If nil, defaults to UUIDv7Tokens.
	Tokens scheduler.TokenGenerator
}

// GoalResult is the outcome of one submitted goal.
type GoalResult struct {
	ID      int64    `json:"id"`
	Goal    string   `json:"goal"`
	Token   string   `json:"token"`
	Action  string   `json:"action,omitempty"`
	Status  string   `json:"status"`
	Updates []string `json:"updates,omitempty"`
	Error   string   `json:"error,omitempty"`

	// UpdatesHash identifies the update set, so outcomes can be compared
	// across runs.
	UpdatesHash string `json:"updates_hash,omitempty"`
}

// RunResult is the output of the run command.
type RunResult struct {
	Goals []GoalResult `json:"goals"`
	Calls []string     `json:"calls"`
	Facts []string     `json:"facts"`
}

// Tally counts the goals by outcome.
func (r RunResult) Tally() GoalTally {
	t := GoalTally{Total: len(r.Goals)}
	for _, g := range r.Goals {
		if g.Status == ir.StatusSucceeded.String() {
			t.Succeeded++
		} else {
			t.Failed++
		}
	}
	return t
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <specs>",
		Short: "Achieve goals against compiled specs",
		Long: `Load action specs, submit goals and run the scheduler until every
goal terminates.

Primitive actions are dry-run: each call is recorded and succeeds unless
named with --fail. With --db, the goal log and final facts persist in a
SQLite database, and facts from an earlier run are restored first.

Example:
  ade run ./specs --goal "holding(self, cup1)"
  ade run ./specs --db ./ade.db --config ade.yaml --goal "at(self, kitchen)"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGoals(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Goals, "goal", "g", nil, "goal predicate to achieve (repeatable)")
	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "configuration file (.yaml or .toml)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default: in memory)")
	cmd.Flags().StringVar(&opts.Policy, "policy", "", "scheduling policy: linear, priority or affective")
	cmd.Flags().StringSliceVar(&opts.Fail, "fail", nil, "primitive actions whose calls fail")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "maximum time to wait for all goals")
	_ = cmd.MarkFlagRequired("goal")

	return cmd
}

func runGoals(opts *RunOptions, specsPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg := config.Default()
	if opts.Config != "" {
		var err error
		if cfg, err = config.Load(opts.Config); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
		}
	}
	if opts.Policy != "" {
		cfg.Policy = opts.Policy
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if cfg.Database == "" {
		cfg.Database = ":memory:"
	}

	goals, err := ir.ParsePredicates(opts.Goals)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGoal, "invalid goal", err)
	}

	loadResult, err := LoadSpecs(specsPath)
	if err != nil {
		return formatter.Fail(ExitCommandError, loadErrorCode(err), "failed to load specs", err)
	}
	slog.Info("specs loaded", "path", specsPath, "defs", len(loadResult.Spec.Defs), "facts", len(loadResult.Spec.Facts))

	st, err := store.Open(cfg.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	db, sched, rec, err := buildEngine(ctx, opts, cfg, loadResult, st)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDefinition, "failed to start engine", err)
	}

	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	result := RunResult{}
	ids := make([]scheduler.GoalID, len(goals))
	for i, g := range goals {
		id, err := sched.Submit(ctx, g)
		ids[i] = id
		if err != nil && !errors.Is(err, scheduler.ErrUnachievable) {
			cancel()
			<-done
			return formatter.Fail(ExitFailure, ErrCodeGoal, "failed to submit goal", err)
		}
		slog.Debug("goal submitted", "goal_id", int64(id), "goal", g.String())
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, opts.Timeout)
	for _, id := range ids {
		if _, err := sched.Wait(waitCtx, id); err != nil {
			slog.Warn("goal did not terminate", "goal_id", int64(id), "error", err)
			_ = sched.Cancel(id)
		}
	}
	waitCancel()

	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "scheduler error", err)
	}

	for i, id := range ids {
		gr := GoalResult{ID: int64(id), Goal: goals[i].String()}
		if record, ok := sched.Goal(id); ok {
			gr.Token = record.Token
			gr.Action = record.Action
			gr.Status = record.Status.String()
			gr.Error = record.Error
			for _, u := range record.Updates {
				gr.Updates = append(gr.Updates, u.Ground().String())
			}
			if len(record.Updates) > 0 {
				if gr.UpdatesHash, err = ir.UpdatesHash(record.Updates); err != nil {
					slog.Warn("hash updates", "goal_id", int64(id), "error", err)
				}
			}
		}
		result.Goals = append(result.Goals, gr)
	}
	for _, c := range rec.Calls() {
		result.Calls = append(result.Calls, strings.TrimSpace(c.Name+" "+strings.Join(c.Args, " ")))
	}
	facts := db.Facts()
	for _, f := range facts {
		result.Facts = append(result.Facts, factLine(f))
	}

	if err := st.WriteFacts(context.WithoutCancel(parentCtx), facts); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to save facts", err)
	}

	tally := result.Tally()
	if err := outputRunResult(formatter, result, tally); err != nil {
		return err
	}
	if !tally.Achieved() {
		return NewExitError(ExitFailure, tally.String())
	}
	return nil
}

// buildEngine prepares the database and scheduler: interrupted goals from
// an earlier run are cancelled, saved facts restored, then specs applied.
func buildEngine(ctx context.Context, opts *RunOptions, cfg *config.Config, loaded *LoadResult, st *store.Store) (*actiondb.Database, *scheduler.Scheduler, *interp.Recorder, error) {
	aborted, err := st.AbortInterrupted(ctx, time.Now())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("abort interrupted goals: %w", err)
	}
	if len(aborted) > 0 {
		slog.Warn("cancelled interrupted goals", "count", len(aborted))
	}

	db := actiondb.New()
	if errs := loaded.Spec.Apply(db); len(errs) > 0 {
		return nil, nil, nil, errors.Join(errs...)
	}
	restored, err := st.RestoreFacts(ctx, db)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("restore facts: %w", err)
	}
	slog.Info("facts restored", "count", restored)
	if err := cfg.ApplyForbidden(db); err != nil {
		return nil, nil, nil, err
	}

	locks, err := cfg.Locks()
	if err != nil {
		return nil, nil, nil, err
	}
	schedOpts, err := cfg.Options()
	if err != nil {
		return nil, nil, nil, err
	}
	seq, err := st.MaxSeq(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read log sequence: %w", err)
	}

	rec := &interp.Recorder{Fail: make(map[string]bool, len(opts.Fail))}
	for _, name := range opts.Fail {
		rec.Fail[strings.ToLower(name)] = true
	}
	tokens := opts.Tokens
	if tokens == nil {
		tokens = scheduler.UUIDv7Tokens{}
	}
	schedOpts = append(schedOpts,
		scheduler.WithActuator(rec),
		scheduler.WithRecorder(st),
		scheduler.WithSequence(scheduler.NewSequenceAt(seq)),
		scheduler.WithTokens(tokens),
	)
	return db, scheduler.New(db, locks, schedOpts...), rec, nil
}

// factLine renders a fact as "pred" or "pred = value".
func factLine(f actiondb.Fact) string {
	if f.Value == nil {
		return f.Predicate.String()
	}
	return f.Predicate.String() + " = " + ir.ValueString(f.Value)
}

func outputRunResult(formatter *OutputFormatter, result RunResult, tally GoalTally) error {
	if formatter.JSON() {
		return formatter.Goals(result, tally)
	}
	for _, g := range result.Goals {
		mark := "✓"
		if g.Status != ir.StatusSucceeded.String() {
			mark = "✗"
		}
		fmt.Fprintf(formatter.Writer, "%s goal %s: %s", mark, g.Goal, g.Status)
		if g.Action != "" {
			fmt.Fprintf(formatter.Writer, " via %s", g.Action)
		}
		if g.Error != "" {
			fmt.Fprintf(formatter.Writer, " (%s)", g.Error)
		}
		fmt.Fprintln(formatter.Writer)
	}
	if len(result.Calls) > 0 {
		fmt.Fprintln(formatter.Writer, "\nCalls:")
		for _, c := range result.Calls {
			fmt.Fprintf(formatter.Writer, "  %s\n", c)
		}
	}
	if len(result.Facts) > 0 {
		fmt.Fprintln(formatter.Writer, "\nFacts:")
		for _, f := range result.Facts {
			fmt.Fprintf(formatter.Writer, "  %s\n", f)
		}
	}
	return nil
}
