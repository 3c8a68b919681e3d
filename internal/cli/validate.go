package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/ade/internal/actiondb"
	"github.com/roach88/ade/internal/compiler"
)

// ValidationResult holds validation results. Warnings never make specs
// invalid.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []Warning                  `json:"warnings,omitempty"`
}

// Warning is a non-fatal finding: a possible script recursion or a
// definition the database accepted best-effort.
type Warning struct {
	Code    string   `json:"code"`
	Type    string   `json:"type,omitempty"`
	Message string   `json:"message"`
	Path    []string `json:"path,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <specs>",
		Short: "Validate specs without running anything",
		Long: `Validate CUE action specs without running any goal.

Checks CUE syntax, field types, role declarations, predicate syntax,
script block balance and script variables, then loads the definitions
into a scratch database to report unknown supertypes and supertype
cycles. Script call cycles are reported as warnings.

<specs> is a directory holding one CUE package, or a single .cue file.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, specsPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	loadResult, err := LoadSpecs(specsPath)
	if err != nil {
		return outputLoadError(formatter, err)
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, specsPath)

	result := ValidateSpec(loadResult.Spec)
	for _, w := range result.Warnings {
		formatter.VerboseLog("warning %s: %s", w.Code, w.Message)
	}
	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}
	return outputValidateSuccess(formatter, result)
}

// ValidateSpec runs every static check on a compiled spec.
func ValidateSpec(spec *compiler.Spec) ValidationResult {
	result := ValidationResult{Errors: compiler.Validate(spec)}

	db := actiondb.New(actiondb.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	for _, err := range spec.Apply(db) {
		ve := compiler.ValidationError{Field: "definition", Message: err.Error(), Code: ErrCodeDefinition}
		var de *actiondb.DefinitionError
		if errors.As(err, &de) {
			ve.Field = de.Type
			ve.Message = de.Message
		}
		result.Errors = append(result.Errors, ve)
	}
	for _, de := range db.Warnings() {
		result.Warnings = append(result.Warnings, Warning{Code: string(de.Code), Type: de.Type, Message: de.Message})
	}
	for _, cw := range compiler.AnalyzeCycles(spec.Defs) {
		result.Warnings = append(result.Warnings, Warning{Code: "CYCLE", Message: cw.Message, Path: cw.Path})
	}

	result.Valid = len(result.Errors) == 0
	return result
}

// outputLoadError reports a spec that could not be loaded at all.
func outputLoadError(formatter *OutputFormatter, err error) error {
	code, message := ErrCodeGeneric, err.Error()
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		code, message = loadErr.Code, loadErr.Error()
	}
	_ = formatter.Error(code, message, nil)
	if code == ErrCodeNotFound || code == ErrCodeNoFiles || code == ErrCodeScanError {
		return NewExitError(ExitCommandError, message)
	}
	return NewExitError(ExitFailure, message)
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.JSON() {
		return formatter.Success(result)
	}

	fmt.Fprintln(formatter.Writer, "✓ All specs valid")
	for _, w := range result.Warnings {
		fmt.Fprintf(formatter.Writer, "  warning %s: %s\n", w.Code, w.Message)
	}
	return nil
}

// outputValidationErrors outputs every validation error.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	errs := result.Errors
	message := fmt.Sprintf("validation failed with %d error(s)", len(errs))
	if formatter.JSON() {
		return formatter.Partial(result, errs[0].Code, message)
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		fmt.Fprintf(formatter.Writer, "  %s %s: %s\n", err.Code, err.Field, err.Message)
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(formatter.Writer, "  warning %s: %s\n", w.Code, w.Message)
	}
	return NewExitError(ExitFailure, message)
}
