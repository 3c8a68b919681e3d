package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/ade/internal/ir"
)

// marshalPredicates stores predicates as a JSON array of their text forms.
func marshalPredicates(ps []ir.Predicate) (string, error) {
	texts := make([]string, len(ps))
	for i, p := range ps {
		texts[i] = p.String()
	}
	data, err := json.Marshal(texts)
	if err != nil {
		return "", fmt.Errorf("marshal predicates: %w", err)
	}
	return string(data), nil
}

func unmarshalPredicates(data string) ([]ir.Predicate, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var texts []string
	if err := json.Unmarshal([]byte(data), &texts); err != nil {
		return nil, fmt.Errorf("unmarshal predicates: %w", err)
	}
	ps, err := ir.ParsePredicates(texts)
	if err != nil {
		return nil, fmt.Errorf("unmarshal predicates: %w", err)
	}
	return ps, nil
}

// marshalValue stores a fact value as canonical JSON; no value is "".
func marshalValue(v ir.IRValue) (string, error) {
	if _, null := v.(ir.IRNull); v == nil || null {
		return "", nil
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	return string(data), nil
}

func unmarshalValue(data string) (ir.IRValue, error) {
	if data == "" {
		return nil, nil
	}
	v, err := ir.UnmarshalIRValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return v, nil
}

// Times are stored as Unix milliseconds; 0 is the zero time.
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
