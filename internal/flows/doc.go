// Package flows contains the orchestration behind Engine login, MFA,
// refresh and logout.
//
// Each flow function (RunLoginWithResult, RunVerifyMfa, RunRefresh,
// RunLogout) accepts a typed dependency struct of function fields and
// returns results without side-effects beyond those dependencies. Tests
// drive the flows with hand-written fakes.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the user store, MFA session store,
// token service, rate limiter, audit dispatcher and metrics. They do NOT own
// any of these resources; ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import gmpAuth (to avoid import cycles).
//   - Perform I/O directly; all I/O is mediated through dependency functions.
package flows
