package lock

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"
)

// Policy selects the lock implementation a Registry creates.
type Policy string

const (
	PolicyFCFS       Policy = "fcfs"
	PolicyPreemptive Policy = "preemptive"
)

// ParsePolicy parses a policy name case-insensitively.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyFCFS, PolicyPreemptive:
		return p, nil
	case "":
		return PolicyFCFS, nil
	default:
		return "", fmt.Errorf("unknown lock policy %q (want fcfs or preemptive)", s)
	}
}

var fold = cases.Fold()

// Registry hands out named locks, creating them on first use.
type Registry struct {
	mu     sync.Mutex
	policy Policy
	locks  map[string]*stack
}

// NewRegistry creates a registry whose locks follow policy.
func NewRegistry(policy Policy) *Registry {
	return &Registry{policy: policy, locks: make(map[string]*stack)}
}

// Policy returns the registry's lock policy.
func (r *Registry) Policy() Policy {
	return r.policy
}

// Get returns the lock named name, creating it if needed. Names are
// case-insensitive.
func (r *Registry) Get(name string) Lock {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := fold.String(name)
	if l, ok := r.locks[key]; ok {
		return l
	}
	var l *stack
	if r.policy == PolicyPreemptive {
		l = NewPreemptive(name).stack
	} else {
		l = NewFCFS(name).stack
	}
	r.locks[key] = l
	return l
}

// Names returns the names of all created locks, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.locks))
	for _, l := range r.locks {
		out = append(out, l.name)
	}
	sort.Strings(out)
	return out
}

// ReleaseAll removes every ownership entry of req from every lock and
// returns the names of the locks it held.
func (r *Registry) ReleaseAll(req Requester) []string {
	r.mu.Lock()
	locks := make([]*stack, 0, len(r.locks))
	for _, l := range r.locks {
		locks = append(locks, l)
	}
	r.mu.Unlock()

	var released []string
	for _, l := range locks {
		if l.releaseAll(req) > 0 {
			released = append(released, l.name)
		}
	}
	sort.Strings(released)
	return released
}

// Held returns the names of locks where req has an ownership entry, and
// whether req is on top of every one of them.
func (r *Registry) Held(req Requester) (names []string, owner bool) {
	r.mu.Lock()
	locks := make([]*stack, 0, len(r.locks))
	for _, l := range r.locks {
		locks = append(locks, l)
	}
	r.mu.Unlock()

	owner = true
	for _, l := range locks {
		hs := l.Holders()
		for _, h := range hs {
			if h.ID() == req.ID() {
				names = append(names, l.name)
				if hs[len(hs)-1].ID() != req.ID() {
					owner = false
				}
				break
			}
		}
	}
	sort.Strings(names)
	return names, owner
}
