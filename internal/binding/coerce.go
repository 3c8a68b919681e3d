package binding

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/roach88/ade/internal/ir"
)

// CoercionError reports a value that could not be converted to a cell's
// numeric type. The raw value is kept in the cell.
type CoercionError struct {
	Name  string
	Type  string
	Value string
	Err   error
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("binding %s: cannot coerce %q to %s: %v", e.Name, e.Value, e.Type, e.Err)
}

func (e *CoercionError) Unwrap() error {
	return e.Err
}

// IsCoercionError returns true if err wraps a *CoercionError.
func IsCoercionError(err error) bool {
	var ce *CoercionError
	return errors.As(err, &ce)
}

// Coerce converts v to the representation of typ. Non-numeric types pass
// values through unchanged.
func Coerce(typ string, v ir.IRValue) (ir.IRValue, error) {
	if v == nil {
		return nil, nil
	}
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "double", "float":
		return toFloat(v)
	case "long", "integer", "int":
		return toInt(v)
	default:
		return v, nil
	}
}

func toFloat(v ir.IRValue) (ir.IRValue, error) {
	switch val := v.(type) {
	case ir.IRFloat:
		return val, nil
	case ir.IRInt:
		return ir.IRFloat(val), nil
	case ir.IRString:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(val)), 64)
		if err != nil {
			return nil, err
		}
		return ir.IRFloat(f), nil
	default:
		return nil, fmt.Errorf("not a number: %T", v)
	}
}

func toInt(v ir.IRValue) (ir.IRValue, error) {
	switch val := v.(type) {
	case ir.IRInt:
		return val, nil
	case ir.IRFloat:
		return floatToInt(float64(val))
	case ir.IRString:
		s := strings.TrimSpace(string(val))
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return ir.IRInt(i), nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, err
		}
		return floatToInt(f)
	default:
		return nil, fmt.Errorf("not a number: %T", v)
	}
}

func floatToInt(f float64) (ir.IRValue, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f < math.MinInt64 {
		return nil, fmt.Errorf("%v out of integer range", f)
	}
	return ir.IRInt(int64(f)), nil
}
