// Package gmpAuth is the shared security core of the GMP back-office suite:
// login with account lockout and TOTP second factor, JWT access and refresh
// tokens with revocation, password governance, and role and permission
// resolution across organizations and subsystems.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// gmpAuth is the public surface. It exposes [Engine], [Builder], [Config],
// the [UserStore] contract and value types. The building blocks live in
// their own packages (password, otp, jwt, session, permission) and the
// login state machine lives in internal/flows, which only sees function
// dependencies wired by the engine.
//
// # What this package must NOT do
//
//   - Expose Redis clients, key layouts or encodings in its public API.
//   - Enforce password expiry at login. Expiry is reported in LoginResult.
//   - Retry backend calls. Failures surface as ErrUnavailable.
//   - Import any sub-package that re-imports gmpAuth.
package gmpAuth
