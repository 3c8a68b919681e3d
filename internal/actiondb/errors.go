package actiondb

import (
	"errors"
	"fmt"
)

// Lookup failures. A goal with no matching action is unachievable; a goal
// whose matching actions were all filtered as forbidden has no permissible
// action. Callers distinguish them with errors.Is.
var (
	ErrNoAction            = errors.New("no action achieves goal")
	ErrNoPermissibleAction = errors.New("no permissible action achieves goal")
)

// DefinitionErrorCode categorizes definition errors.
type DefinitionErrorCode string

const (
	// ErrCodeUndefinedType indicates a reference to a type that is not in the database.
	ErrCodeUndefinedType DefinitionErrorCode = "UNDEFINED_TYPE"

	// ErrCodeArityMismatch indicates supplied arguments do not match declared roles.
	ErrCodeArityMismatch DefinitionErrorCode = "ARITY_MISMATCH"

	// ErrCodeCyclicSupertype indicates the supertype chain loops.
	ErrCodeCyclicSupertype DefinitionErrorCode = "CYCLIC_SUPERTYPE"

	// ErrCodeDuplicateType indicates a type name registered twice.
	ErrCodeDuplicateType DefinitionErrorCode = "DUPLICATE_TYPE"

	// ErrCodeInvalidPredicate indicates a condition or effect that does not parse,
	// or a fact that violates its declared predicate schema.
	ErrCodeInvalidPredicate DefinitionErrorCode = "INVALID_PREDICATE"

	// ErrCodeInvalidDefinition indicates a structurally invalid definition.
	ErrCodeInvalidDefinition DefinitionErrorCode = "INVALID_DEFINITION"
)

// DefinitionError reports a problem with an action or type definition.
// Definition errors are logged and execution continues best-effort.
type DefinitionError struct {
	Code    DefinitionErrorCode
	Type    string
	Message string
}

func (e *DefinitionError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s: %s (type=%s)", e.Code, e.Message, e.Type)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsDefinitionError returns true if err wraps a *DefinitionError with the
// given code. An empty code matches any definition error.
func IsDefinitionError(err error, code DefinitionErrorCode) bool {
	var de *DefinitionError
	if errors.As(err, &de) {
		return code == "" || de.Code == code
	}
	return false
}
