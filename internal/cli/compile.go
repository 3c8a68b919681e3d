package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/ade/internal/compiler"
	"github.com/roach88/ade/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompilationResult holds the compiled definitions and initial facts.
type CompilationResult struct {
	SchemaVersion    string         `json:"schema_version"`
	Defs             []ir.ActionDef `json:"defs"`
	Facts            []string       `json:"facts"`
	ForbiddenActions []string       `json:"forbidden_actions,omitempty"`
	ForbiddenStates  []string       `json:"forbidden_states,omitempty"`
}

// CompilationStats holds summary statistics.
type CompilationStats struct {
	TypeCount      int
	ActionCount    int
	PrimitiveCount int
	FactCount      int
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <specs>",
		Short: "Compile CUE specs to JSON definitions",
		Long: `Compile CUE type and action specs to JSON.

The compiler parses CUE files, checks them against the spec schema and
writes the action definitions and initial facts the database loads.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, specsPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	loadResult, err := LoadSpecs(specsPath)
	if err != nil {
		return formatter.Fail(ExitCommandError, loadErrorCode(err), "compilation failed", err)
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, specsPath)

	result := NewCompilationResult(loadResult.Spec)
	stats := calculateStats(result)

	if opts.Output != "" {
		if err := writeIRToFile(result, opts.Output); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, "failed to write output", err)
		}
		formatter.VerboseLog("Wrote definitions to %s", opts.Output)
	}

	return outputCompileSuccess(formatter, result, stats, opts.Output)
}

// NewCompilationResult flattens a compiled spec into its JSON form.
func NewCompilationResult(spec *compiler.Spec) *CompilationResult {
	result := &CompilationResult{
		SchemaVersion:    ir.SchemaVersion,
		Defs:             spec.Defs,
		Facts:            make([]string, 0, len(spec.Facts)),
		ForbiddenActions: spec.ForbiddenActions,
	}
	if result.Defs == nil {
		result.Defs = []ir.ActionDef{}
	}
	for _, f := range spec.Facts {
		line := f.Predicate.String()
		if f.Value != nil {
			line += " = " + ir.ValueString(f.Value)
		}
		result.Facts = append(result.Facts, line)
	}
	for _, p := range spec.ForbiddenStates {
		result.ForbiddenStates = append(result.ForbiddenStates, p.String())
	}
	return result
}

// calculateStats computes summary statistics from a compilation result.
func calculateStats(result *CompilationResult) CompilationStats {
	stats := CompilationStats{FactCount: len(result.Facts)}
	for _, d := range result.Defs {
		switch {
		case d.Primitive:
			stats.PrimitiveCount++
			stats.ActionCount++
		case len(d.Roles) > 0 || len(d.Events) > 0 || len(d.Effects) > 0:
			stats.ActionCount++
		default:
			stats.TypeCount++
		}
	}
	return stats
}

// outputCompileSuccess outputs successful compilation results.
func outputCompileSuccess(formatter *OutputFormatter, result *CompilationResult, stats CompilationStats, outputFile string) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Compiled %d type(s), %d action(s) (%d primitive), %d fact(s)\n\n",
		stats.TypeCount, stats.ActionCount, stats.PrimitiveCount, stats.FactCount)

	if stats.ActionCount > 0 {
		fmt.Fprintln(formatter.Writer, "Actions:")
		for _, d := range result.Defs {
			if !d.Primitive && len(d.Roles) == 0 && len(d.Events) == 0 && len(d.Effects) == 0 {
				continue
			}
			roles := make([]string, len(d.Roles))
			for i, r := range d.Roles {
				roles[i] = r.Name + ":" + r.Type
			}
			kind := fmt.Sprintf("%d step(s)", len(d.Events))
			if d.Primitive {
				kind = "primitive"
			}
			fmt.Fprintf(formatter.Writer, "  %s(%s): %s\n", d.Type, strings.Join(roles, ", "), kind)
		}
		fmt.Fprintln(formatter.Writer)
	}

	if outputFile != "" {
		fmt.Fprintf(formatter.Writer, "Wrote definitions to %s\n", outputFile)
	}

	return nil
}

// loadErrorCode returns the code carried by a *LoadError.
func loadErrorCode(err error) string {
	if le, ok := err.(*LoadError); ok {
		return le.Code
	}
	return ErrCodeGeneric
}

// writeIRToFile writes the compilation result as indented JSON.
func writeIRToFile(result *CompilationResult, filename string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling definitions: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}

	return nil
}
