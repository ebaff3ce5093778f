// ABOUTME: Tests for route guard decisions
// ABOUTME: Covers the pending gate, login redirects, and public views

package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cocogate/gate-client/internal/session"
)

func TestDecide(t *testing.T) {
	uninitialized := session.State{}
	anonymous := session.State{Initialized: true}
	authenticated := session.State{Initialized: true, IsAuthenticated: true}

	tests := []struct {
		name  string
		state session.State
		view  View
		want  Decision
	}{
		{"public view renders regardless", uninitialized, ViewHome, Decision{Action: Render}},
		{"login renders for anonymous", anonymous, ViewLogin, Decision{Action: Render}},
		{"protected view waits before init", uninitialized, ViewChat, Decision{Action: Pending}},
		{"protected view redirects anonymous", anonymous, ViewChat, Decision{Action: RedirectLogin, ReturnTo: ViewChat}},
		{"settings redirect preserves target", anonymous, ViewSettings, Decision{Action: RedirectLogin, ReturnTo: ViewSettings}},
		{"keys redirect preserves target", anonymous, ViewKeys, Decision{Action: RedirectLogin, ReturnTo: ViewKeys}},
		{"protected view renders when authenticated", authenticated, ViewChat, Decision{Action: Render}},
		{"keys render when authenticated", authenticated, ViewKeys, Decision{Action: Render}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.state, tt.view))
		})
	}
}

func TestDecide_NeverRedirectsBeforeInit(t *testing.T) {
	// No premature redirect: an unresolved session must never bounce to login
	for _, view := range []View{ViewHome, ViewLogin, ViewRegister, ViewChat, ViewSettings, ViewKeys} {
		d := Decide(session.State{IsAuthenticated: false, Initialized: false}, view)
		assert.NotEqual(t, RedirectLogin, d.Action, "view %s", view)
	}
}

func TestProtected(t *testing.T) {
	assert.True(t, Protected(ViewChat))
	assert.True(t, Protected(ViewSettings))
	assert.True(t, Protected(ViewKeys))
	assert.False(t, Protected(ViewHome))
	assert.False(t, Protected(ViewLogin))
	assert.False(t, Protected(ViewRegister))
}
