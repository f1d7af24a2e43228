// Package session holds pre-authenticated MFA sessions: the short-lived
// record created after a correct password when a second factor is still
// owed.
//
// # Lifecycle
//
// [Store.Create] issues a random UUID and persists a [MfaSession] with a
// fixed TTL (10 minutes by default). [Store.RecordFailure] atomically bumps
// the failure counter; once it reaches the attempt limit the session is
// locked and every later read reports [ErrSessionLocked] until the TTL
// removes it. [Store.Invalidate] removes the session after a successful
// second factor or an abandoned login.
//
// # Binary encoding
//
// Sessions are stored as a compact, versioned binary record. Decoding rejects
// unknown versions instead of guessing.
//
// # What this package must NOT do
//
//   - Import gmpAuth, jwt, or permission.
//   - Verify OTP codes or issue tokens.
package session
