// Package limiters throttles login attempts per client address and wrong
// second-factor codes per user.
//
// [LoginLimiter] keeps one golang.org/x/time/rate token bucket per address
// in process and forgets idle buckets on [LoginLimiter.Sweep]. A nil
// limiter allows everything.
//
// [TotpLimiter] counts wrong TOTP and recovery codes per user in an
// internal/stores.KV, so with Redis the budget is shared by every instance.
//
// Per-account password lockout is not here: failed-attempt counts live in
// the user store so they survive restarts and are shared across instances.
//
// # What this package must NOT do
//
//   - Import gmpAuth or any public sibling package.
//   - Decide consequences; callers map ErrLoginThrottled and
//     ErrTotpRateLimited.
package limiters
