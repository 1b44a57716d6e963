// Package device stores push-network device registrations.
//
// A device row is keyed by (network, registration_id) and carries the
// listening address (current_address, current_token) written by the latest
// registration, the lazily created broker endpoint reference and a running
// message count. Rows are never deleted.
//
// Two Repository implementations exist: SQLiteRepository (plain SQL with
// squirrel for IN lists) and PostgresRepository (bun). Every mutating
// operation is a single statement, so concurrent registrations and counter
// increments need no application-level locking.
package device
