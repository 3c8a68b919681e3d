package ir

import "strings"

// Tokenize splits a script step on whitespace outside parentheses and
// double quotes, so "assert holding(self, cup1)" yields two tokens.
func Tokenize(step string) []string {
	var (
		toks  []string
		cur   strings.Builder
		depth int
		quote bool
	)
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	for _, r := range step {
		switch {
		case r == '"':
			quote = !quote
			cur.WriteRune(r)
		case quote:
			cur.WriteRune(r)
		case r == '(':
			depth++
			cur.WriteRune(r)
		case r == ')':
			if depth > 0 {
				depth--
			}
			cur.WriteRune(r)
		case (r == ' ' || r == '\t' || r == '\n') && depth == 0:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return toks
}

// TokenizeAll tokenizes each step, dropping empty ones.
func TokenizeAll(steps []string) [][]string {
	out := make([][]string, 0, len(steps))
	for _, s := range steps {
		if toks := Tokenize(s); len(toks) > 0 {
			out = append(out, toks)
		}
	}
	return out
}
