package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue/token"

	"github.com/roach88/ade/internal/compiler"
)

// LoadResult contains the compiled specs loaded from a path.
type LoadResult struct {
	Spec      *compiler.Spec
	FileCount int // Number of CUE files found
}

// LoadError represents an error that occurred during spec loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadSpecs compiles the CUE specs at path, a directory (one CUE package)
// or a single file. Failures are returned as *LoadError.
func LoadSpecs(path string) (*LoadResult, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("specs not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing specs: %v", err)}
	}

	count := 1
	if info.IsDir() {
		files, err := compiler.FindCUEFiles(path)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
		}
		if len(files) == 0 {
			return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", path)}
		}
		count = len(files)
	}

	spec, err := compiler.Load(path)
	if err != nil {
		return nil, convertCompileError(err)
	}
	if len(spec.Defs) == 0 && len(spec.Facts) == 0 {
		return nil, &LoadError{Code: ErrCodeGeneric, Message: "no types, actions or facts found in specs"}
	}
	return &LoadResult{Spec: spec, FileCount: count}, nil
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{Code: ErrCodeLoadFailed, Message: err.Error()}
}

// Error code constants - unified across all CLI commands. Spec validation
// codes (E101-E108) come from the compiler.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build or syntax error
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeDefinition  = "E008" // Database rejected a definition
	ErrCodeGoal        = "E009" // Goal did not parse or could not be achieved
	ErrCodeConfig      = "E010" // Configuration file error
	ErrCodeStore       = "E011" // Database error
)

// MapFieldToErrorCode maps a compiler error field, such as
// "action.fetch.roles" or "cost", to an error code.
func MapFieldToErrorCode(field string) string {
	if i := strings.LastIndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	switch field {
	case "cue":
		return ErrCodeBuildFailed
	case "roles":
		return compiler.ErrInvalidRole
	case "action", "type":
		return compiler.ErrEmptyType
	case "pre", "conditions", "overall", "effects", "success", "failure", "fact", "states":
		return compiler.ErrInvalidPredicate
	case "cost", "benefit", "timeout":
		return compiler.ErrNegativeValue
	case "min", "max", "urgency":
		return compiler.ErrUrgencyRange
	default:
		return ErrCodeGeneric
	}
}
