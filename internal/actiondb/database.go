// Package actiondb is the action and type database.
//
// A Database owns every process-scoped map of the engine: prototypes by type
// name, the postcondition index, forbidden actions and states, facts,
// declared predicate schemas and the binding-name generator. Reads take a
// shared lock; Put, Learn and fact mutation take the exclusive lock.
package actiondb

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/ade/internal/ir"
)

// Root types registered by New.
const (
	TypeAction = "action"
	TypeFact   = "fact"
	TypeObject = "object"
	TypeEntity = "entity"
)

type postRef struct {
	template ir.Predicate
	entry    *Entry
}

// Database is the action/type database.
type Database struct {
	mu sync.RWMutex

	entries   map[string]*Entry
	order     []*Entry
	children  map[string][]*Entry
	postIndex map[string][]postRef

	forbiddenActions map[string]bool
	forbiddenStates  []ir.Predicate

	facts      map[string]*Fact
	factSeq    int64
	predicates map[string]ir.Predicate
	names      map[string]int

	warnings []*DefinitionError
	logger   *slog.Logger
}

// Option configures a Database.
type Option func(*Database)

// WithLogger sets the logger for definition warnings.
func WithLogger(l *slog.Logger) Option {
	return func(db *Database) {
		db.logger = l
	}
}

// New creates a database holding the root types.
func New(opts ...Option) *Database {
	db := &Database{
		entries:          make(map[string]*Entry),
		children:         make(map[string][]*Entry),
		postIndex:        make(map[string][]postRef),
		forbiddenActions: make(map[string]bool),
		facts:            make(map[string]*Fact),
		predicates:       make(map[string]ir.Predicate),
		names:            make(map[string]int),
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(db)
	}
	for _, def := range []ir.ActionDef{
		{Type: TypeEntity},
		{Type: TypeObject, Super: TypeEntity},
		{Type: TypeAction},
		{Type: TypeFact},
	} {
		if _, err := db.Put(def); err != nil {
			panic(err) // static definitions
		}
	}
	return db
}

// Put registers one definition. The supertype must already be present;
// use PutAll to load definitions in any order.
//
// An unknown supertype is a definition error that is logged and recorded
// (see Warnings); the entry is registered as a root. Duplicate types,
// self-cycles and unparseable predicates are returned as errors and the
// entry is not registered.
func (db *Database) Put(def ir.ActionDef) (*Entry, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.putLocked(def)
}

func (db *Database) putLocked(def ir.ActionDef) (*Entry, error) {
	key := ir.FoldName(def.Type)
	for _, ve := range def.Validate() {
		code := ErrCodeInvalidDefinition
		if slices.Contains([]string{"start_conditions", "overall_conditions", "effects", "success_effects", "failure_effects"}, fieldRoot(ve.Field)) {
			code = ErrCodeInvalidPredicate
		}
		if ve.Field == "super" {
			code = ErrCodeCyclicSupertype
		}
		return nil, &DefinitionError{Code: code, Type: def.Type, Message: ve.Error()}
	}
	if _, dup := db.entries[key]; dup {
		return nil, &DefinitionError{Code: ErrCodeDuplicateType, Type: def.Type, Message: "type already defined"}
	}

	e := &Entry{def: def, key: key, order: len(db.order)}
	var err error
	if e.startConds, err = ir.ParsePredicates(def.StartConditions); err != nil {
		return nil, &DefinitionError{Code: ErrCodeInvalidPredicate, Type: def.Type, Message: err.Error()}
	}
	if e.overAllConds, err = ir.ParsePredicates(def.OverAllConditions); err != nil {
		return nil, &DefinitionError{Code: ErrCodeInvalidPredicate, Type: def.Type, Message: err.Error()}
	}
	if e.effects, err = ir.ParsePredicates(def.Effects); err != nil {
		return nil, &DefinitionError{Code: ErrCodeInvalidPredicate, Type: def.Type, Message: err.Error()}
	}
	if e.success, err = ir.ParsePredicates(def.SuccessEffects); err != nil {
		return nil, &DefinitionError{Code: ErrCodeInvalidPredicate, Type: def.Type, Message: err.Error()}
	}
	if e.failure, err = ir.ParsePredicates(def.FailureEffects); err != nil {
		return nil, &DefinitionError{Code: ErrCodeInvalidPredicate, Type: def.Type, Message: err.Error()}
	}

	if def.Super != "" {
		parent, ok := db.entries[ir.FoldName(def.Super)]
		if ok {
			e.parent = parent
			db.children[parent.key] = append(db.children[parent.key], e)
		} else {
			db.warnLocked(&DefinitionError{
				Code:    ErrCodeUndefinedType,
				Type:    def.Type,
				Message: fmt.Sprintf("supertype %q is not defined; registered as a root", def.Super),
			})
		}
	}

	db.entries[key] = e
	db.order = append(db.order, e)
	for _, p := range e.Postconditions() {
		if p.Negated {
			continue
		}
		name := ir.FoldName(p.Name)
		db.postIndex[name] = append(db.postIndex[name], postRef{template: p, entry: e})
	}
	return e, nil
}

func fieldRoot(field string) string {
	for i, c := range field {
		if c == '[' || c == '.' {
			return field[:i]
		}
	}
	return field
}

// PutAll registers definitions in dependency order so a supertype may
// appear after its subtypes. Definitions whose supertype chain loops within
// the batch are rejected with CYCLIC_SUPERTYPE. Every failing definition is
// reported; the rest are registered.
func (db *Database) PutAll(defs []ir.ActionDef) ([]*Entry, []error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	pending := make(map[string]ir.ActionDef, len(defs))
	var keys []string
	for _, d := range defs {
		k := ir.FoldName(d.Type)
		if _, dup := pending[k]; !dup {
			keys = append(keys, k)
		}
		pending[k] = d
	}

	var (
		out     []*Entry
		errs    []error
		state   = make(map[string]int) // 0 unvisited, 1 visiting, 2 done
		visit   func(k string) bool
		reportd = make(map[string]bool)
	)
	visit = func(k string) bool {
		switch state[k] {
		case 1:
			return false
		case 2:
			return true
		}
		state[k] = 1
		d := pending[k]
		ok := true
		if d.Super != "" {
			sk := ir.FoldName(d.Super)
			if _, inBatch := pending[sk]; inBatch {
				ok = visit(sk)
			}
		}
		state[k] = 2
		if !ok {
			if !reportd[k] {
				reportd[k] = true
				errs = append(errs, &DefinitionError{Code: ErrCodeCyclicSupertype, Type: d.Type, Message: fmt.Sprintf("supertype chain through %q loops", d.Super)})
			}
			return false
		}
		e, err := db.putLocked(d)
		if err != nil {
			errs = append(errs, err)
			return true
		}
		out = append(out, e)
		return true
	}
	for _, k := range keys {
		visit(k)
	}
	return out, errs
}

func (db *Database) warnLocked(de *DefinitionError) {
	db.warnings = append(db.warnings, de)
	db.logger.Warn("definition error", "code", string(de.Code), "type", de.Type, "error", de.Message)
}

// Warn records and logs a definition error found outside of Put, such as an
// arity mismatch detected by the interpreter.
func (db *Database) Warn(de *DefinitionError) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.warnLocked(de)
}

// Warnings returns the definition errors recorded so far.
func (db *Database) Warnings() []*DefinitionError {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return slices.Clone(db.warnings)
}

// Lookup returns the entry for a type name, case-insensitively.
func (db *Database) Lookup(typ string) (*Entry, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	e, ok := db.entries[ir.FoldName(typ)]
	return e, ok
}

// Children returns the direct subtypes of e in registration order.
func (db *Database) Children(e *Entry) []*Entry {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return slices.Clone(db.children[e.key])
}

// Entries returns all entries in registration order.
func (db *Database) Entries() []*Entry {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return slices.Clone(db.order)
}

// Len returns the number of entries, root types included.
func (db *Database) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.order)
}

// IsA reports whether type name sub equals or descends from super.
// Unknown types fall back to case-insensitive string equality.
func (db *Database) IsA(sub, super string) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.typeIsALocked(sub, super)
}

func (db *Database) typeIsALocked(sub, super string) bool {
	se, ok := db.entries[ir.FoldName(sub)]
	if !ok {
		return ir.SameName(sub, super)
	}
	if _, ok := db.entries[ir.FoldName(super)]; !ok {
		return ir.SameName(sub, super)
	}
	return se.IsA(super)
}

// NextName returns a fresh name with the given prefix: prefix1, prefix2, ...
// Counters are per prefix and shared by every interpreter using this database.
func (db *Database) NextName(prefix string) string {
	db.mu.Lock()
	defer db.mu.Unlock()
	k := ir.FoldName(prefix)
	db.names[k]++
	return fmt.Sprintf("%s%d", prefix, db.names[k])
}
