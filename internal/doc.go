// Package internal contains helpers that are private to gmpAuth, chiefly
// secure random generation.
//
// # Sub-packages
//
//   - audit — async audit event dispatch (Dispatcher + Sink implementations)
//   - flows — login and MFA orchestrators driven by dependency structs
//   - ids — monotonic ULID generation for persisted records
//   - limiters — per-IP login throttling and per-user wrong-code budgets
//   - stores — TTL key/value backends (Redis, memory)
//   - sweeper — periodic expiry of lapsed role assignments
//
// # What this package must NOT do
//
//   - Export types that appear in the public gmpAuth API.
//   - Be imported by any package outside the gmpAuth module.
package internal
