// Package ledger provides the session-scoped history of engagements.
//
// The ledger is an append-only log with two mutations: attaching a review to
// a completed entry, and deleting an entry on explicit user request.
//
// # Storage
//
// Entries live in SQLite. The session opens the ledger at ":memory:" when a
// user logs in and closes it on logout, so history never outlives the
// authenticated session. The connection pool is pinned to one connection;
// an in-memory database is private to its connection.
//
// # Ordering
//
//   - Every row carries a seq drawn from the session's logical clock
//   - List returns ORDER BY seq DESC, i.e. newest first
//   - Deleting a row never renumbers the rest, so relative order is stable
package ledger
