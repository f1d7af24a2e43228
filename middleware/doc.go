// Package middleware adapts gmpAuth.Engine to net/http.
//
// # Guards
//
//   - [Guard] validates the bearer access token and stores its claims.
//   - [RequirePermission], [RequireRole] and [RequireSubsystem] check the
//     caller's current grants after Guard.
//   - [ClientIP] records the caller address for unauthenticated routes.
//
// Failures answer 401 when no valid token is present and 403 when the
// token is valid but the grant is missing.
//
// # What this package must NOT do
//
//   - Parse or sign JWTs directly.
//   - Decide authorization itself; every decision comes from the Engine.
package middleware
