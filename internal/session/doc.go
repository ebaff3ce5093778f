// Package session derives authentication state from the credential store.
// The token is treated as opaque for authorization; presence alone decides
// IsAuthenticated. Initialized latches true after the first resolution and
// never goes back, which keeps route guards from redirecting during startup.
package session
