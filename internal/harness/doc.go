// Package harness runs YAML scenarios against a session orchestrator.
//
// A scenario fixes everything that is normally nondeterministic: time is a
// manual scheduler, directory responses are held until a step releases
// them, the directory itself is a fixture, and ledger IDs and timestamps
// are fixed. The same scenario therefore always produces the same trace,
// which is compared against a golden file.
//
// # Scenario Format
//
//	name: book_priest
//	description: "Booking a priest records a Booked entry"
//	identity: { id: "9437000000", fullName: "Asha", role: seeker }
//	directory:
//	  services:
//	    Priest Booking:
//	      - { id: pr1, name: "Pandit Mishra", ... }
//	steps:
//	  - intent: { op: select_service, service: Priest Booking }
//	    expect:
//	      state: { discovery.status: pending }
//	  - release: Priest Booking
//	  - intent: { op: open_booking, provider: pr1 }
//	  - intent: { op: confirm_booking }
//	    expect:
//	      result: { entry.status: Booked }
//	  - advance: 1s
//	assertions:
//	  - type: trace_order
//	    ops: [select_service, confirm_booking]
//	  - type: final_state
//	    path: history.#
//	    equals: 1
//
// Each step is exactly one of intent, advance, release or release_all.
// After every step the harness drains the session queue, so whatever the
// step caused (fixes, timer ticks, directory responses) is applied before
// expectations are checked.
//
// # Paths
//
// expect.state, expect.result and final_state address the JSON form of the
// snapshot or result with dotted paths. Numeric segments index arrays and
// a trailing "#" yields the length of an array or object. A missing path
// reads as null.
package harness
