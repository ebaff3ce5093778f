// ABOUTME: Route guard deciding whether a view renders, waits, or redirects
// ABOUTME: Pure decision function over session state and the requested view

package guard

import "github.com/cocogate/gate-client/internal/session"

// View identifies a navigable view of the client.
type View string

// Views of the client. Chat, settings and keys require authentication.
const (
	ViewHome     View = "home"
	ViewLogin    View = "login"
	ViewRegister View = "register"
	ViewChat     View = "chat"
	ViewSettings View = "settings"
	ViewKeys     View = "keys"
)

// Action is the outcome of a guard decision.
type Action int

const (
	// Render shows the requested view.
	Render Action = iota
	// Pending shows a placeholder until the session has been resolved at
	// least once. Not an error state.
	Pending
	// RedirectLogin sends the user to the login view, carrying the view
	// they originally asked for.
	RedirectLogin
)

// Decision is a guard outcome. ReturnTo is set only for RedirectLogin so
// login can send the user back where they were headed.
type Decision struct {
	Action   Action
	ReturnTo View
}

// protected lists the views that require an authenticated session.
var protected = map[View]bool{
	ViewChat:     true,
	ViewSettings: true,
	ViewKeys:     true,
}

// Protected reports whether the view requires authentication.
func Protected(v View) bool {
	return protected[v]
}

// Decide returns the single action for the requested view under the given
// state. It never redirects while the session is unresolved, so a client
// that has not yet read its credential store cannot bounce a logged-in
// user to the login view.
func Decide(state session.State, view View) Decision {
	if !protected[view] {
		return Decision{Action: Render}
	}
	if !state.Initialized {
		return Decision{Action: Pending}
	}
	if !state.IsAuthenticated {
		return Decision{Action: RedirectLogin, ReturnTo: view}
	}
	return Decision{Action: Render}
}
