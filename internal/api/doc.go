// Package api is the HTTP client for the cocoGate backend.
//
// # Request Classes
//
// Every request carries a Class that decides its credential headers:
//
//   - ClassStandard: Authorization and X-Username are attached only when
//     both a token and a username are stored; otherwise the request goes
//     out bare
//   - ClassChat: Authorization, X-API-Key, and X-Username are mandatory;
//     a missing token or key fails the call before it reaches the network
//
// # Error Taxonomy
//
// Every failure leaving this package is an *Error with a Kind. Sentinel
// values (ErrUnauthorized, ErrForbidden, ...) match via errors.Is, so
// callers branch on Kind without string inspection. UserMessage returns
// text fit for display.
//
// # Token Rotation
//
// Successful chat-class responses may carry a fresh session token; the
// client stores it silently so long-lived sessions never see an expiry.
package api
