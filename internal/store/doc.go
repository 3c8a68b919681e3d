// Package store provides SQLite-backed durable storage for goal lifecycles.
//
// The store keeps three tables:
//   - goals: one row per submitted goal, rewritten until it terminates
//   - goal_events: append-only lifecycle log (submitted, update, terminated)
//   - facts: the world facts at the last snapshot
//
// # Ordering
//
// Events are ordered by seq, the scheduler's logical counter, never by wall
// time. Goals are ordered by id, which is time-derived and strictly
// increasing. Every query carries an explicit ORDER BY.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Predicates are stored in their text form and parsed back on read;
// fact values as canonical JSON.
package store
