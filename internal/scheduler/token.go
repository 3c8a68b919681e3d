package scheduler

import "github.com/google/uuid"

// TokenGenerator generates goal correlation tokens.
// Implemented by UUIDv7Tokens (production) and testutil.FixedTokens (tests).
type TokenGenerator interface {
	Generate() string
}

// UUIDv7Tokens generates time-sortable UUIDv7 tokens, so goal logs from
// several runs interleave in submission order.
//
// Thread-safety: UUIDv7Tokens is stateless and safe for concurrent use.
type UUIDv7Tokens struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Tokens) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
