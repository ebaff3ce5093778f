// Package keys implements the API key dashboard flow: listing, creating,
// toggling, deleting, and test-driving keys. Mutations apply optimistically
// to the cached list and always reconcile against a fresh fetch, so the
// view converges on server state whether the call succeeded or not.
package keys
