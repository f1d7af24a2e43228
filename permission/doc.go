// Package permission resolves what a principal may do: global and
// organization-scoped roles and permissions, and per-subsystem access
// levels.
//
// Organization scope comes from assignments, which carry an effective window
// and an approval state machine:
//
//	PENDING -> APPROVED | REJECTED
//	ACTIVE | APPROVED -> EXPIRED | REVOKED
//
// Only ACTIVE and APPROVED rows inside their window grant anything. At most
// one such row may exist per (user, organization, role).
//
// Subsystem access is the union of a declarative role map
// ([SubsystemGrants]) and SubsystemPermission rows, highest level winning.
// Every user with at least one active role reads [BaselineSubsystem].
//
// Queries that match nothing return empty sets, never errors.
package permission
