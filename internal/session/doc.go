// Package session implements the Session Orchestrator: one authenticated
// user's location tracking, provider discovery, engagement dialogs and
// history, composed behind a single contract.
//
// The orchestrator is a single-writer state machine. Positioning
// callbacks, directory responses, timer ticks and job offers arrive on
// other goroutines; they are posted to an event queue and applied one at a
// time by whichever goroutine owns the orchestrator. That owner is either
// Run (production, with other goroutines submitting intents through Do) or
// a test calling intents directly and then Drain.
//
// Every asynchronous callback carries a generation tag from the session's
// logical clock. Closing or replacing the thing that issued a tag makes
// the callback a no-op when it is finally applied.
package session
