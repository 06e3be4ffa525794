// Package auth provides pluggable authentication for the plauder server.
//
// Authentication uses a chain-of-responsibility pattern with three-outcome
// voting: each authenticator returns Yes (identity found), No (credentials
// invalid), or Abstain (can't handle). A configurable default voter decides
// when all authenticators abstain.
//
// Auth is implemented as HTTP middleware, keeping it decoupled from the
// engine and chat logic. The middleware also injects the caller's tenant
// into the request context so document storage is scoped per tenant, and
// applies an optional per-subject token bucket.
package auth
