package interp

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/roach88/ade/internal/binding"
	"github.com/roach88/ade/internal/ir"
)

// condEnv is the environment script expressions compile against.
//
//	?speed > 0.5 && fact("battery") > 20
//	holds("at(self,kitchen)") || now_ms > 1000
type condEnv struct {
	Vars  map[string]any         `expr:"vars"`
	NowMs int64                  `expr:"now_ms"`
	Fact  func(name string) any  `expr:"fact"`
	Holds func(pred string) bool `expr:"holds"`
}

var varRef = regexp.MustCompile(`\?([A-Za-z_][A-Za-z0-9_\-]*)`)

// rewriteVars turns ?name references into vars lookups.
func rewriteVars(src string) string {
	return varRef.ReplaceAllStringFunc(src, func(m string) string {
		return fmt.Sprintf("vars[%q]", binding.Key(m))
	})
}

type programKey struct {
	src     string
	boolean bool
}

var programs sync.Map // programKey -> *vm.Program

func compileExpr(src string, boolean bool) (*vm.Program, error) {
	key := programKey{src: src, boolean: boolean}
	if p, ok := programs.Load(key); ok {
		return p.(*vm.Program), nil
	}
	opts := []expr.Option{expr.Env(condEnv{}), expr.AllowUndefinedVariables()}
	if boolean {
		opts = append(opts, expr.AsBool())
	}
	p, err := expr.Compile(rewriteVars(src), opts...)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", src, err)
	}
	programs.Store(key, p)
	return p, nil
}

func (i *Interpreter) env(f *Frame) condEnv {
	vars := make(map[string]any)
	// Caller bindings are visible unless shadowed.
	chain := []*Frame{}
	for id := f.id; id != NoFrame; id = i.frames[id].caller {
		chain = append(chain, i.frames[id])
	}
	for j := len(chain) - 1; j >= 0; j-- {
		for k, v := range chain[j].roles.Values() {
			vars[k] = v
		}
	}
	return condEnv{
		Vars:  vars,
		NowMs: i.clock.Now().UnixMilli(),
		Fact: func(name string) any {
			v, ok := i.db.QueryFact(name)
			if !ok {
				return nil
			}
			return ir.ToNative(v)
		},
		Holds: func(pred string) bool {
			p, err := ir.ParsePredicate(pred)
			if err != nil {
				return false
			}
			return i.conditionHolds(f, p)
		},
	}
}

// evalCondition evaluates tokens as a boolean expression in f's scope.
// A nil result is false.
func (i *Interpreter) evalCondition(f *Frame, toks []string) (bool, error) {
	src := strings.Join(toks, " ")
	p, err := compileExpr(src, true)
	if err != nil {
		return false, err
	}
	out, err := expr.Run(p, i.env(f))
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", src, err)
	}
	switch v := out.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	default:
		return false, fmt.Errorf("evaluate %q: expected bool, got %T", src, out)
	}
}

// evalValue evaluates the value part of set/assert. A single token is a
// variable reference or a literal; several tokens form an expression.
// Expressions that fail to evaluate yield their source text.
func (i *Interpreter) evalValue(f *Frame, toks []string) ir.IRValue {
	if len(toks) == 1 {
		t := toks[0]
		if strings.HasPrefix(t, "?") {
			name, _ := splitTyped(t)
			if c, ok := f.roles.Lookup(name); ok {
				return c.GetDeep()
			}
			return ir.IRNull{}
		}
		if !strings.ContainsAny(t, "()+-*/<>=!&|") || isNumber(t) {
			return literal(t)
		}
	}
	src := strings.Join(toks, " ")
	p, err := compileExpr(src, false)
	if err != nil {
		slog.Warn("value expression rejected", "goal", i.id, "expression", src, "error", err)
		return ir.IRString(src)
	}
	out, err := expr.Run(p, i.env(f))
	if err != nil {
		slog.Warn("value expression failed", "goal", i.id, "expression", src, "error", err)
		return ir.IRString(src)
	}
	return ir.FromNative(out)
}

func isNumber(s string) bool {
	switch literal(s).(type) {
	case ir.IRInt, ir.IRFloat:
		return true
	}
	return false
}
