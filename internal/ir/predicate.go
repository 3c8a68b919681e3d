package ir

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

var folder = cases.Fold()

// FoldName case-folds a type, action or predicate name. All name-keyed maps
// in the engine are keyed by the folded form.
func FoldName(name string) string {
	return folder.String(strings.TrimSpace(name))
}

// SameName reports whether two names are equal ignoring case.
func SameName(a, b string) bool {
	return FoldName(a) == FoldName(b)
}

// Term is one argument of a predicate.
//
// Text forms:
//
//	cup1          untyped symbol
//	cup1:object   typed symbol
//	?o            untyped variable
//	?o:object     typed variable
//	on(a,b)       nested predicate
type Term struct {
	Name string     `json:"name"`
	Type string     `json:"type,omitempty"`
	Var  bool       `json:"var,omitempty"`
	Pred *Predicate `json:"pred,omitempty"`
}

// Typed reports whether the term declares a type.
func (t Term) Typed() bool {
	return t.Type != ""
}

// String renders the term in its text form.
func (t Term) String() string {
	if t.Pred != nil {
		return t.Pred.String()
	}
	var b strings.Builder
	if t.Var {
		b.WriteByte('?')
	}
	b.WriteString(t.Name)
	if t.Type != "" {
		b.WriteByte(':')
		b.WriteString(t.Type)
	}
	return b.String()
}

// Predicate is a named, ordered tuple of terms: a goal, condition or effect.
type Predicate struct {
	Name    string `json:"name"`
	Args    []Term `json:"args,omitempty"`
	Negated bool   `json:"negated,omitempty"`
}

// Arity returns the number of arguments.
func (p Predicate) Arity() int {
	return len(p.Args)
}

// String renders the predicate as text, e.g. "holding(self:actor,cup1:object)".
func (p Predicate) String() string {
	var b strings.Builder
	if p.Negated {
		b.WriteString("not(")
	}
	b.WriteString(p.Name)
	if len(p.Args) > 0 {
		b.WriteByte('(')
		for i, a := range p.Args {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(a.String())
		}
		b.WriteByte(')')
	}
	if p.Negated {
		b.WriteByte(')')
	}
	return b.String()
}

// Key is the folded text form used to index facts.
func (p Predicate) Key() string {
	return FoldName(p.String())
}

// Ground returns a copy with argument types stripped, e.g. "holding(self,cup1)".
func (p Predicate) Ground() Predicate {
	out := Predicate{Name: p.Name, Negated: p.Negated, Args: make([]Term, len(p.Args))}
	for i, a := range p.Args {
		if a.Pred != nil {
			g := a.Pred.Ground()
			out.Args[i] = Term{Pred: &g}
			continue
		}
		out.Args[i] = Term{Name: a.Name, Var: a.Var}
	}
	if len(out.Args) == 0 {
		out.Args = nil
	}
	return out
}

// Positive returns the predicate without negation.
func (p Predicate) Positive() Predicate {
	p.Negated = false
	return p
}

// HasVars reports whether any argument, at any depth, is a variable.
func (p Predicate) HasVars() bool {
	for _, a := range p.Args {
		if a.Var {
			return true
		}
		if a.Pred != nil && a.Pred.HasVars() {
			return true
		}
	}
	return false
}

// Substitute replaces variables using lookup. Variables lookup cannot
// resolve are kept. Substituted terms keep the variable's declared type.
func (p Predicate) Substitute(lookup func(name string) (string, bool)) Predicate {
	out := Predicate{Name: p.Name, Negated: p.Negated}
	if len(p.Args) > 0 {
		out.Args = make([]Term, len(p.Args))
	}
	for i, a := range p.Args {
		switch {
		case a.Pred != nil:
			s := a.Pred.Substitute(lookup)
			out.Args[i] = Term{Pred: &s}
		case a.Var:
			if v, ok := lookup(a.Name); ok {
				out.Args[i] = Term{Name: v, Type: a.Type}
				continue
			}
			out.Args[i] = a
		default:
			out.Args[i] = a
		}
	}
	return out
}

// ParsePredicate parses predicate text such as "holding(self:actor, cup1:object)",
// "likes(?x:person,?y:entity)", "ready" or "not(at(self,kitchen))".
func ParsePredicate(text string) (Predicate, error) {
	p := &predParser{src: text}
	pred, err := p.predicate()
	if err != nil {
		return Predicate{}, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return Predicate{}, fmt.Errorf("parse predicate %q: unexpected %q at offset %d", text, p.src[p.pos:], p.pos)
	}
	return pred, nil
}

// MustParsePredicate is like ParsePredicate but panics on error.
// Use only in tests or with constant input.
func MustParsePredicate(text string) Predicate {
	p, err := ParsePredicate(text)
	if err != nil {
		panic(err)
	}
	return p
}

// ParsePredicates parses each string, failing on the first error.
func ParsePredicates(texts []string) ([]Predicate, error) {
	out := make([]Predicate, 0, len(texts))
	for _, t := range texts {
		p, err := ParsePredicate(t)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ParseTerm parses a single argument term.
func ParseTerm(text string) (Term, error) {
	p := &predParser{src: text}
	t, err := p.term()
	if err != nil {
		return Term{}, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return Term{}, fmt.Errorf("parse term %q: trailing input", text)
	}
	return t, nil
}

type predParser struct {
	src string
	pos int
}

func (p *predParser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t' || p.src[p.pos] == '\n') {
		p.pos++
	}
}

func (p *predParser) ident() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '(' || c == ')' || c == ',' || c == ':' || c == ' ' || c == '\t' || c == '\n' {
			break
		}
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *predParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *predParser) predicate() (Predicate, error) {
	name := p.ident()
	if name == "" {
		return Predicate{}, fmt.Errorf("parse predicate %q: missing name at offset %d", p.src, p.pos)
	}
	pred := Predicate{Name: name}
	if p.peek() != '(' {
		return pred, nil
	}
	p.pos++
	if p.peek() == ')' {
		p.pos++
		return pred, nil
	}
	for {
		t, err := p.term()
		if err != nil {
			return Predicate{}, err
		}
		pred.Args = append(pred.Args, t)
		switch p.peek() {
		case ',':
			p.pos++
		case ')':
			p.pos++
			if strings.EqualFold(pred.Name, "not") && len(pred.Args) == 1 && pred.Args[0].Pred != nil {
				inner := *pred.Args[0].Pred
				inner.Negated = !inner.Negated
				return inner, nil
			}
			return pred, nil
		default:
			return Predicate{}, fmt.Errorf("parse predicate %q: expected ',' or ')' at offset %d", p.src, p.pos)
		}
	}
}

func (p *predParser) term() (Term, error) {
	p.skipSpace()
	var t Term
	if p.pos < len(p.src) && p.src[p.pos] == '?' {
		t.Var = true
		p.pos++
	}
	start := p.pos
	name := p.ident()
	if name == "" {
		return Term{}, fmt.Errorf("parse term %q: missing name at offset %d", p.src, p.pos)
	}
	if !t.Var && p.peek() == '(' {
		p.pos = start
		nested, err := p.predicate()
		if err != nil {
			return Term{}, err
		}
		return Term{Pred: &nested}, nil
	}
	t.Name = name
	if p.peek() == ':' {
		p.pos++
		t.Type = p.ident()
		if t.Type == "" {
			return Term{}, fmt.Errorf("parse term %q: missing type after ':' at offset %d", p.src, p.pos)
		}
	}
	return t, nil
}
