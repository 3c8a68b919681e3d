// Package harness runs conformance scenarios against the action execution
// engine.
//
// A scenario loads CUE action specs into a fresh database, submits goals to
// a live scheduler backed by a recording actuator and an in-memory store,
// and checks each goal's outcome, the trace of primitive calls, the final
// facts and the persisted goal log.
//
// # Scenario Format
//
//	name: fetch_cup
//	description: "Fetching a cup walks to the kitchen and grasps it"
//	specs:
//	  - ../specs/kitchen.cue
//	facts:
//	  - at(self, hall)
//	policy: priority          # linear (default), priority, affective
//	lock_policy: fcfs         # fcfs (default), preemptive
//	planner: false
//	fail: [grasp]             # primitives that fail
//	tokens: [tok-1]
//	timeout: 5s
//	goals:
//	  - goal: holding(self:actor, cup1:object)
//	    wait: [door_open]
//	    fail: [alarm]
//	    args: { speed: 2 }
//	    expect:
//	      status: succeeded
//	      action: fetch
//	      updates: [holding(self, cup1)]
//	assertions:
//	  - type: trace_contains
//	    action: grasp
//	    args: [cup1]
//	  - type: trace_order
//	    actions: [move, grasp]
//	  - type: trace_count
//	    action: grasp
//	    count: 1
//	  - type: final_state
//	    holds: [holding(self, cup1)]
//	    absent: [at(self, hall)]
//	  - type: goal_events
//	    goal: 1
//	    events: [submitted, update, terminated]
//
// # Determinism
//
// Goals are submitted one at a time and each is awaited before the next,
// so calls are traced in a reproducible order. Tokens come from the
// scenario or default to "token-<n>". Goal IDs are time based and never
// appear in the trace; goals are referenced by their 1-based index.
//
// Golden snapshots are canonical JSON and live in testdata/golden.
package harness
