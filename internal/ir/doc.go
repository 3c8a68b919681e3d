// Package ir provides the shared representation types of the action engine.
//
// This package contains data types only. Every other internal package
// imports ir; ir imports nothing internal, so it stays the foundation layer
// with no circular dependencies.
//
// Contents:
//   - IRValue: the sealed value union stored in bindings and facts
//   - Term and Predicate: symbolic goals, conditions and effects, plus their parser
//   - RoleDef and ActionDef: action definitions as produced by a loader
//   - GoalStatus: the lifecycle enum reported by the scheduler
//   - Canonical JSON and domain-separated hashing for stable identities
//
// All JSON tags use snake_case.
package ir
