package interp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/ade/internal/actiondb"
	"github.com/roach88/ade/internal/binding"
	"github.com/roach88/ade/internal/ir"
	"github.com/roach88/ade/internal/lock"
)

// Script keywords. Anything else is a sub-action, a nested goal via
// "goal", or a primitive.
const (
	kwIf        = "if"
	kwElseIf    = "elseif"
	kwElse      = "else"
	kwEndIf     = "endif"
	kwWhile     = "while"
	kwEndWhile  = "endwhile"
	kwExit      = "exit"
	kwSucceed   = "succeed"
	kwFail      = "fail"
	kwAcquire   = "acquire"
	kwRelease   = "release"
	kwAssert    = "assert"
	kwRetract   = "retract"
	kwSet       = "set"
	kwGoal      = "goal"
	kwWait      = "wait"
	kwWaitUntil = "wait_until"
)

var keywords = map[string]bool{
	kwIf: true, kwElseIf: true, kwElse: true, kwEndIf: true,
	kwWhile: true, kwEndWhile: true, kwExit: true, kwSucceed: true,
	kwFail: true, kwAcquire: true, kwRelease: true, kwAssert: true,
	kwRetract: true, kwSet: true, kwGoal: true, kwWait: true,
	kwWaitUntil: true,
}

// IsKeyword reports whether head is a script construct rather than an
// action name.
func IsKeyword(head string) bool {
	return keywords[ir.FoldName(head)]
}

func (i *Interpreter) execute(ctx context.Context, f *Frame, ev []string) {
	args := ev[1:]
	switch ir.FoldName(ev[0]) {
	case kwIf:
		i.condition(f, args, pendingIf)
	case kwElseIf, kwElse:
		// Reached by falling out of a taken branch.
		i.GetEventSpec(f.id, []string{kwEndIf}, kwIf, kwEndIf)
	case kwEndIf:
	case kwWhile:
		i.SetJumpPC(f.id)
		i.condition(f, args, pendingWhile)
	case kwEndWhile:
		i.RestoreJumpPC(f.id)
	case kwExit:
		i.exitStep(f, len(args) == 0 || parseBool(args[0]))
	case kwSucceed:
		i.exitStep(f, true)
	case kwFail:
		i.exitStep(f, false)
	case kwAcquire:
		i.acquireStep(ctx, f, args)
	case kwRelease:
		for _, name := range args {
			i.releaseLock(f, name)
		}
	case kwAssert:
		i.assertStep(f, args, false)
	case kwRetract:
		i.assertStep(f, args, true)
	case kwSet:
		i.setStep(f, args)
	case kwGoal:
		i.goalStep(f, args)
	case kwWait:
		i.waitStep(f, args)
	case kwWaitUntil:
		f.waitCond = args
	default:
		i.call(ctx, f, ev)
	}
}

// call runs a sub-action when the head names an entry, otherwise
// dispatches a primitive with resolved parameters.
func (i *Interpreter) call(ctx context.Context, f *Frame, ev []string) {
	if _, ok := i.db.Lookup(ev[0]); ok {
		if _, err := i.AddEvent(f.id, ev); err != nil {
			i.failWith(f, err)
		}
		return
	}
	_ = i.dispatch(ctx, f, ev[0], i.ResolveParams(f.id, ev[1:]))
}

// condition evaluates an if/while head. A head naming an action runs that
// action as a condition frame and the branch is taken when it succeeds;
// anything else is an expression.
func (i *Interpreter) condition(f *Frame, toks []string, kind pendingKind) {
	if len(toks) == 0 {
		i.fail(f, ErrCodeConditionError, "empty condition")
		return
	}
	if e, ok := i.db.Lookup(toks[0]); ok && !e.IsA(actiondb.TypeFact) {
		id, err := i.AddEvent(f.id, toks)
		if err != nil {
			i.failWith(f, err)
			return
		}
		i.frames[id].condition = true
		f.pending = kind
		return
	}
	ok, err := i.evalCondition(f, toks)
	if err != nil {
		i.fail(f, ErrCodeConditionError, err.Error())
		return
	}
	i.branch(f, kind, ok)
}

func (i *Interpreter) branch(f *Frame, kind pendingKind, ok bool) {
	if ok {
		return
	}
	switch kind {
	case pendingIf:
		ev, found := i.GetEventSpec(f.id, []string{kwElseIf, kwElse, kwEndIf}, kwIf, kwEndIf)
		if found && ir.FoldName(ev[0]) == kwElseIf {
			i.condition(f, ev[1:], pendingIf)
		}
	case pendingWhile:
		i.DiscardJumpPC(f.id)
		i.GetEventSpec(f.id, []string{kwEndWhile}, kwWhile, kwEndWhile)
	}
}

// GetEventSpec advances the frame's pc past the next event whose head is
// one of targets, skipping nested open/close blocks. It returns that event.
// If none is found the pc ends past the last event.
func (i *Interpreter) GetEventSpec(id FrameID, targets []string, open, close string) ([]string, bool) {
	f := i.frames[id]
	events := f.events()
	depth := 0
	for f.pc < len(events) {
		ev := events[f.pc]
		f.pc++
		head := ir.FoldName(ev[0])
		switch {
		case head == open:
			depth++
		case depth > 0 && head == close:
			depth--
		case depth == 0 && containsFold(targets, head):
			return ev, true
		}
	}
	return nil, false
}

// SetJumpPC saves the pc of the event just executed as a loop head.
func (i *Interpreter) SetJumpPC(id FrameID) {
	f := i.frames[id]
	f.jumpStack = append(f.jumpStack, f.pc-1)
}

// RestoreJumpPC pops the innermost loop head and jumps to it.
func (i *Interpreter) RestoreJumpPC(id FrameID) {
	f := i.frames[id]
	if n := len(f.jumpStack); n > 0 {
		f.pc = f.jumpStack[n-1]
		f.jumpStack = f.jumpStack[:n-1]
	}
}

// DiscardJumpPC pops the innermost loop head without jumping.
func (i *Interpreter) DiscardJumpPC(id FrameID) {
	f := i.frames[id]
	if n := len(f.jumpStack); n > 0 {
		f.jumpStack = f.jumpStack[:n-1]
	}
}

// Exit terminates frame id and its caller with the given status. A
// transparent caller passes the exit on to its own caller.
func (i *Interpreter) Exit(id FrameID, success bool) {
	f := i.frames[id]
	f.status = success
	f.pc = len(f.events())
	f.done = true
	if f.caller == NoFrame {
		return
	}
	c := i.frames[f.caller]
	c.childStatus = success
	c.status = success
	c.pc = len(c.events())
	c.done = true
	if c.entry != nil && c.entry.Transparent() {
		i.Exit(c.id, success)
	}
}

// exitStep runs an exit event: a transient frame is pushed and exited, so
// the frame executing the event terminates.
func (i *Interpreter) exitStep(f *Frame, success bool) {
	t := i.newFrame(nil, f.id)
	t.started = true
	i.Exit(t.id, success)
}

// AddEvent pushes a child frame for the event spec: the head names the
// entry and the rest are positional parameters. The child's timing window
// is its own timeout clipped to the caller's deadline, or the caller's
// window unchanged when it has no timeout.
func (i *Interpreter) AddEvent(caller FrameID, spec []string) (FrameID, error) {
	if len(spec) == 0 {
		return NoFrame, &RuntimeError{Code: ErrCodeUnknownAction, Message: "empty event", Goal: i.id}
	}
	e, ok := i.db.Lookup(spec[0])
	if !ok {
		return NoFrame, &RuntimeError{Code: ErrCodeUnknownAction, Message: fmt.Sprintf("no action named %s", spec[0]), Goal: i.id}
	}
	cf := i.frames[caller]
	child := i.push(cf, e)
	i.bindParams(cf, child, spec[1:])
	return child.id, nil
}

func (i *Interpreter) push(cf *Frame, e *actiondb.Entry) *Frame {
	child := i.newFrame(e, cf.id)
	if t := e.TimeoutMillis(); t > 0 {
		child.start = i.clock.Now()
		child.deadline = child.start.Add(time.Duration(t) * time.Millisecond)
		if !cf.deadline.IsZero() && cf.deadline.Before(child.deadline) {
			child.deadline = cf.deadline
		}
	} else {
		child.start, child.deadline = cf.start, cf.deadline
	}
	cf.child = child.id
	i.current = child.id
	slog.Debug("frame pushed",
		"goal", i.id,
		"action", e.Type(),
		"caller", cf.action(),
	)
	return child
}

func (i *Interpreter) bindParams(cf, child *Frame, params []string) {
	args := child.roles.Args()
	required := 0
	for _, c := range args {
		if c.Default == nil {
			required++
		}
	}
	if len(params) > len(args) || len(params) < required {
		i.db.Warn(&actiondb.DefinitionError{
			Code:    actiondb.ErrCodeArityMismatch,
			Type:    child.action(),
			Message: fmt.Sprintf("called from %s with %d parameters, %d roles declared", cf.action(), len(params), len(args)),
		})
	}

	for j, cell := range args {
		if j >= len(params) {
			if cell.Default == nil && !cell.IsBound() {
				// Placeholder: the role's own name.
				i.bindFailed(child, cell, cell.Bind(ir.IRString(binding.Key(cell.Name))))
			}
			continue
		}
		p := params[j]
		if strings.HasPrefix(p, "?") {
			name, typ := splitTyped(p)
			src := i.cellFor(cf, name, typ)
			i.bindFailed(child, cell, cell.AliasTo(src))
			continue
		}
		if src, v := i.resolveParam(cf, child, p); src != nil {
			// A defaulted role found by its own type keeps its default.
			if src != cell {
				i.bindFailed(child, cell, cell.AliasTo(src))
			}
		} else {
			i.bindFailed(child, cell, cell.Bind(v))
		}
	}
}

// bindFailed logs a rejected binding or alias. The cell keeps the raw value
// and the frame runs on.
func (i *Interpreter) bindFailed(f *Frame, cell *binding.Cell, err error) {
	if err == nil {
		return
	}
	slog.Warn("binding rejected", "goal", i.id, "action", f.action(), "role", cell.Name, "error", err)
}

// ResolveParams resolves each parameter in the context of frame id to its
// value: variables by their binding, bare type names by the nearest role of
// that type, anything else as a literal.
func (i *Interpreter) ResolveParams(id FrameID, params []string) []ir.IRValue {
	f := i.frames[id]
	out := make([]ir.IRValue, len(params))
	for j, p := range params {
		if strings.HasPrefix(p, "?") {
			name, _ := splitTyped(p)
			if c, ok := f.roles.Lookup(name); ok {
				out[j] = c.GetDeep()
				continue
			}
			out[j] = ir.IRString(p)
			continue
		}
		if c, v := i.resolveParam(f, nil, p); c != nil {
			out[j] = c.GetDeep()
		} else {
			out[j] = v
		}
	}
	return out
}

// resolveParam finds the binding a bare type-name parameter refers to: a
// same-named role, then a role whose type isA the name, searched in the
// invoking frame, the new frame's already-bound roles, then up the caller
// chain. Parameters that are not type names resolve to literals.
func (i *Interpreter) resolveParam(cf, child *Frame, param string) (*binding.Cell, ir.IRValue) {
	name, _ := splitTyped(param)
	if _, ok := i.db.Lookup(name); !ok {
		return nil, literal(name)
	}
	search := func(s *binding.Set) *binding.Cell {
		if c, ok := s.Lookup(name); ok && (c.IsBound() || c.Default != nil) {
			return c
		}
		for _, c := range s.Cells() {
			if t := c.GetTypeDeep(); t != "" && i.db.IsA(t, name) && (c.IsBound() || c.Default != nil) {
				return c
			}
		}
		return nil
	}
	if c := search(cf.roles); c != nil {
		return c, nil
	}
	if child != nil {
		if c := search(child.roles); c != nil {
			return c, nil
		}
	}
	for id := cf.caller; id != NoFrame; id = i.frames[id].caller {
		if c := search(i.frames[id].roles); c != nil {
			return c, nil
		}
	}
	return nil, literal(name)
}

// cellFor returns f's cell for name, declaring a local when absent.
func (i *Interpreter) cellFor(f *Frame, name, typ string) *binding.Cell {
	if c, ok := f.roles.Lookup(name); ok {
		return c
	}
	c := binding.New(binding.Key(name), typ)
	c.Local = true
	f.roles.Add(c)
	return c
}

func (i *Interpreter) acquireStep(ctx context.Context, f *Frame, args []string) {
	if len(args) == 0 {
		i.fail(f, ErrCodeLockUnavailable, "acquire without a lock name")
		return
	}
	attempts := i.lockAttempts
	if len(args) > 1 {
		if ir.SameName(args[1], "forever") {
			attempts = lock.Forever
		} else if n, err := strconv.Atoi(args[1]); err == nil {
			attempts = n
		}
	}
	i.acquire(ctx, f, args[0], attempts)
}

func (i *Interpreter) assertStep(f *Frame, args []string, retract bool) {
	if len(args) == 0 {
		i.fail(f, ErrCodeConditionError, "assert without a predicate")
		return
	}
	p, err := ir.ParsePredicate(args[0])
	if err != nil {
		i.fail(f, ErrCodeConditionError, err.Error())
		return
	}
	g := p.Substitute(f.roles.Resolve).Ground()
	if retract {
		g.Negated = !g.Negated
	}
	var value ir.IRValue
	if len(args) > 1 {
		value = i.evalValue(f, args[1:])
	}
	if err := i.db.Assert(g, value); err != nil {
		slog.Warn("assert rejected", "goal", i.id, "predicate", g.String(), "error", err)
		return
	}
	i.mu.Lock()
	i.updates = append(i.updates, g)
	i.mu.Unlock()
}

func (i *Interpreter) setStep(f *Frame, args []string) {
	if len(args) < 2 {
		i.fail(f, ErrCodeConditionError, "set needs a variable and a value")
		return
	}
	name, typ := splitTyped(args[0])
	c := i.cellFor(f, name, typ)
	if err := c.BindDeep(i.evalValue(f, args[1:])); err != nil {
		slog.Warn("set coercion failed", "goal", i.id, "variable", name, "error", err)
	}
}

func (i *Interpreter) waitStep(f *Frame, args []string) {
	var ms int64
	if len(args) > 0 {
		switch v := i.evalValue(f, args[:1]).(type) {
		case ir.IRInt:
			ms = int64(v)
		case ir.IRFloat:
			ms = int64(v)
		}
	}
	f.waitUntil = i.clock.Now().Add(time.Duration(ms) * time.Millisecond)
}

// goalStep posts a nested goal: when it does not already hold, the best
// permissible action achieving it runs as a child frame.
func (i *Interpreter) goalStep(f *Frame, args []string) {
	if len(args) == 0 {
		i.fail(f, ErrCodeUnachievable, "goal without a predicate")
		return
	}
	p, err := ir.ParsePredicate(strings.Join(args, " "))
	if err != nil {
		i.fail(f, ErrCodeConditionError, err.Error())
		return
	}
	sub := p.Substitute(f.roles.Resolve)
	if !sub.HasVars() && i.db.Holds(sub) {
		return
	}
	m, err := ResolveGoal(i.db, i.overrider, sub)
	if err != nil {
		i.fail(f, ErrCodeUnachievable, err.Error())
		return
	}
	child := i.push(f, m.Entry)
	for name, t := range m.Bindings(sub) {
		cell := i.cellFor(child, name, "")
		switch {
		case t.Var:
			i.bindFailed(child, cell, cell.AliasTo(i.cellFor(f, t.Name, t.Type)))
		case t.Pred != nil:
			i.bindFailed(child, cell, cell.Bind(ir.IRString(t.Pred.String())))
		default:
			i.bindFailed(child, cell, cell.Bind(literal(t.Name)))
		}
	}
}

// ResolveGoal picks the action for goal. When every candidate is filtered
// by forbidden actions or states, the overrider may approve a candidate by
// overriding each of its conflicts.
func ResolveGoal(db *actiondb.Database, o Overrider, goal ir.Predicate) (actiondb.Match, error) {
	m, err := db.LookupPostcondition(goal)
	if err == nil || o == nil || !errors.Is(err, actiondb.ErrNoPermissibleAction) {
		return m, err
	}
	for _, c := range db.Candidates(goal) {
		conflicts := c.Conflicts
		if c.Forbidden {
			conflicts = append([]ir.Predicate{{Name: c.Entry.Type()}}, conflicts...)
		}
		approved := true
		for _, cf := range conflicts {
			if !o.Override(cf, goal) {
				approved = false
				break
			}
		}
		if approved {
			slog.Info("forbidden action overridden",
				"action", c.Entry.Type(),
				"goal", goal.String(),
			)
			return c, nil
		}
	}
	return actiondb.Match{}, err
}

func splitTyped(tok string) (name, typ string) {
	tok = strings.TrimPrefix(tok, "?")
	name, typ, _ = strings.Cut(tok, ":")
	return name, typ
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if ir.FoldName(v) == s {
			return true
		}
	}
	return false
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(strings.ToLower(s))
	return err == nil && b
}

// literal converts a script token to a value: numbers and booleans to
// their types, quoted text unquoted, anything else a string.
func literal(tok string) ir.IRValue {
	if n, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return ir.IRInt(n)
	}
	if f, err := strconv.ParseFloat(tok, 64); err == nil {
		return ir.IRFloat(f)
	}
	switch strings.ToLower(tok) {
	case "true":
		return ir.IRBool(true)
	case "false":
		return ir.IRBool(false)
	}
	if s, err := strconv.Unquote(tok); err == nil {
		return ir.IRString(s)
	}
	return ir.IRString(tok)
}
