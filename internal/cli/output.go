package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Goal or scenario failure, invalid specs
	ExitCommandError = 2 // Command error (invalid paths, database not found, etc.)
)

// ExitError carries the process exit code out of a command.
type ExitError struct {
	Code    int
	Message string
	Err     error // optional cause
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error; anything that is not
// an ExitError maps to ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// CLIResponse is the JSON envelope every command writes in json format.
type CLIResponse struct {
	Status string     `json:"status"` // "ok" or "error"
	Data   any        `json:"data,omitempty"`
	Error  *CLIError  `json:"error,omitempty"`
	Goals  *GoalTally `json:"goals,omitempty"` // set by run
}

// CLIError is the error part of a CLIResponse.
type CLIError struct {
	Code    string `json:"code"` // "E001", "E101", etc.
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// GoalTally counts goal outcomes by terminal status.
type GoalTally struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Achieved reports whether every goal succeeded.
func (t GoalTally) Achieved() bool {
	return t.Failed == 0
}

func (t GoalTally) String() string {
	return fmt.Sprintf("%d of %d goal(s) not achieved", t.Failed, t.Total)
}

// OutputFormatter writes command results as text or a JSON envelope.
// Diagnostics go to ErrWriter so they never mix with JSON on Writer.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

// newFormatter builds the formatter for a command from the root flags.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// JSON reports whether the formatter writes JSON envelopes.
func (f *OutputFormatter) JSON() bool {
	return f.Format == "json"
}

func (f *OutputFormatter) encode(resp CLIResponse, indent bool) error {
	enc := json.NewEncoder(f.Writer)
	if indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(resp)
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.JSON() {
		return f.encode(CLIResponse{Status: "ok", Data: data}, false)
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.JSON() {
		return f.encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		}, false)
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err under code and returns it wrapped with exitCode.
func (f *OutputFormatter) Fail(exitCode int, code, message string, err error) error {
	_ = f.Error(code, err.Error(), nil)
	return WrapExitError(exitCode, message, err)
}

// Partial writes a result that carries both data and an error, such as a
// failed validation or a scenario run with failures, and returns an
// ExitFailure error with message. Text output is left to the caller.
func (f *OutputFormatter) Partial(data any, code, message string) error {
	if f.JSON() {
		resp := CLIResponse{Status: "error", Data: data, Error: &CLIError{Code: code, Message: message}}
		if err := f.encode(resp, true); err != nil {
			return err
		}
	}
	return NewExitError(ExitFailure, message)
}

// Goals writes a run result with its tally. The envelope is an error when
// any goal was not achieved.
func (f *OutputFormatter) Goals(data any, tally GoalTally) error {
	if !f.JSON() {
		return nil
	}
	resp := CLIResponse{Status: "ok", Data: data, Goals: &tally}
	if !tally.Achieved() {
		resp.Status = "error"
		resp.Error = &CLIError{Code: ErrCodeGoal, Message: tally.String()}
	}
	return f.encode(resp, false)
}

// VerboseLog writes a diagnostic line when verbose mode is enabled.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}
