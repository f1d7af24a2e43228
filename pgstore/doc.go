// Package pgstore persists accounts and authorization data in PostgreSQL.
//
// [Store] implements both gmpAuth.UserStore and permission.Store over
// database/sql with the pgx driver. [Store.Migrate] applies the bundled
// schema, which is idempotent.
//
// Constraint violations are mapped to domain errors: a duplicate active
// assignment or role grant becomes permission.ErrAssignmentConflict and a
// dangling reference becomes permission.ErrNotFound. Every other driver
// error is returned wrapped, and the engine reports it as unavailable.
package pgstore
