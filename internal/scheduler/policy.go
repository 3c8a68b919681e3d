package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/ade/internal/actiondb"
)

// Instance is a live goal as seen by a policy.
type Instance struct {
	ID       GoalID
	Seq      int // submission order; higher is newer
	Entry    *actiondb.Entry
	Start    time.Time
	Deadline time.Time // zero means no timeout
	Priority float64

	// Affect is read and decayed through these hooks so policies do not
	// depend on the interpreter.
	Affect      func() (pos, neg float64)
	DecayAffect func(step float64)
}

// Urgency computes clamp01(elapsed/allowed)*(max-min)+min. Without a
// deadline the time term is 0. An entry declaring no urgency range is
// neutral (1); one declaring only a minimum stays at that minimum.
func Urgency(now time.Time, in *Instance) float64 {
	lo, hi := in.Entry.Urgency()
	if lo == 0 && hi == 0 {
		return 1
	}
	hi = max(hi, lo)
	frac := 0.0
	if !in.Deadline.IsZero() {
		allowed := in.Deadline.Sub(in.Start)
		if allowed > 0 {
			frac = clamp01(float64(now.Sub(in.Start)) / float64(allowed))
		}
	}
	return frac*(hi-lo) + lo
}

// Expired reports whether the instance is past its allowed time.
func Expired(now time.Time, in *Instance) bool {
	return !in.Deadline.IsZero() && !now.Before(in.Deadline)
}

func clamp01(x float64) float64 {
	return min(1, max(0, x))
}

// Policy recomputes instance priorities once per tick.
type Policy interface {
	Name() string
	// Prioritize updates Priority on each instance. Instances past their
	// allowed time keep their previous priority.
	Prioritize(now time.Time, live []*Instance)
	// Ordered reports whether admission follows priority (true) or the
	// submission stack (false).
	Ordered() bool
}

// Linear never reprioritizes: goals run in stack order, newest first.
type Linear struct{}

func (Linear) Name() string { return "linear" }

func (Linear) Prioritize(time.Time, []*Instance) {}

func (Linear) Ordered() bool { return false }

// Priority ranks by urgency * (benefit - cost).
type Priority struct{}

func (Priority) Name() string  { return "priority" }
func (Priority) Ordered() bool { return true }

func (Priority) Prioritize(now time.Time, live []*Instance) {
	for _, in := range live {
		if Expired(now, in) {
			continue
		}
		in.Priority = Urgency(now, in) * in.Entry.Utility()
	}
}

// Affective ranks by urgency * ((1 + pos² - neg²) * benefit - cost) and
// lets affect fade: each instance by InstanceDecay per tick, the global
// mood by GlobalDecay after accumulating GlobalGain of every instance's
// affect.
type Affective struct {
	InstanceDecay float64
	GlobalDecay   float64
	GlobalGain    float64

	moodPos float64
	moodNeg float64
}

// NewAffective returns an Affective policy with the default rates.
func NewAffective() *Affective {
	return &Affective{InstanceDecay: 0.01, GlobalDecay: 0.001, GlobalGain: 0.01}
}

func (*Affective) Name() string  { return "affective" }
func (*Affective) Ordered() bool { return true }

func (a *Affective) Prioritize(now time.Time, live []*Instance) {
	for _, in := range live {
		pos, neg := 0.0, 0.0
		if in.Affect != nil {
			pos, neg = in.Affect()
		}
		a.moodPos += a.GlobalGain * pos
		a.moodNeg += a.GlobalGain * neg
		if !Expired(now, in) {
			utility := (1+pos*pos-neg*neg)*in.Entry.Benefit() - in.Entry.Cost()
			in.Priority = Urgency(now, in) * utility
		}
		if in.DecayAffect != nil {
			in.DecayAffect(a.InstanceDecay)
		}
	}
	a.moodPos = clamp01(a.moodPos - a.GlobalDecay)
	a.moodNeg = clamp01(a.moodNeg - a.GlobalDecay)
}

// Mood returns the global affect accumulators.
func (a *Affective) Mood() (pos, neg float64) {
	return a.moodPos, a.moodNeg
}

// ParsePolicy returns the policy named s (case-insensitive).
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "linear":
		return Linear{}, nil
	case "priority":
		return Priority{}, nil
	case "affective":
		return NewAffective(), nil
	default:
		return nil, fmt.Errorf("unknown scheduling policy %q (want linear, priority or affective)", s)
	}
}
