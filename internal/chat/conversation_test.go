// ABOUTME: Tests for the chat send state machine and reply extraction
// ABOUTME: Covers the single-flight gate, history window, and redirect policy

package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cocogate/gate-client/internal/api"
	"github.com/cocogate/gate-client/internal/credstore"
	"github.com/cocogate/gate-client/internal/guard"
	"github.com/cocogate/gate-client/internal/session"
)

func seededStore(t *testing.T, withKey bool) *credstore.Store {
	t.Helper()
	s, err := credstore.New(credstore.NewMemoryBackend())
	require.NoError(t, err)
	require.NoError(t, s.SetIdentity(credstore.Identity{Username: "mina", Token: "tok-1"}))
	if withKey {
		require.NoError(t, s.SetAPIKey("sk-test-123"))
	}
	return s
}

func newConversation(t *testing.T, baseURL string, store *credstore.Store, opts Options) *Conversation {
	t.Helper()
	client := api.New(baseURL, 2*time.Second, store)
	return NewConversation(client, store, session.NewResolver(store), opts)
}

func botMessages(c *Conversation) []Message {
	var out []Message
	for _, m := range c.Messages() {
		if m.Role == RoleBot {
			out = append(out, m)
		}
	}
	return out
}

func TestNewConversation_StartsWithGreeting(t *testing.T) {
	store := seededStore(t, true)
	c := newConversation(t, "http://127.0.0.1:0", store, Options{})

	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, RoleBot, msgs[0].Role)
	assert.NotEmpty(t, msgs[0].Content)
}

func TestSend_WithoutAPIKeyIssuesNoRequest(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	var navigated guard.View
	store := seededStore(t, false)
	c := newConversation(t, srv.URL, store, Options{
		Navigate: func(v guard.View) { navigated = v },
	})

	err := c.Send(context.Background(), "hello")
	assert.ErrorIs(t, err, api.ErrMissingCredential)
	assert.Zero(t, calls.Load())
	assert.Equal(t, guard.ViewSettings, navigated)
	assert.Len(t, c.Messages(), 1, "no user message is appended when the transition aborts")
}

func TestSend_AppendsUserThenBot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"response": "hi there"})
	}))
	defer srv.Close()

	store := seededStore(t, true)
	c := newConversation(t, srv.URL, store, Options{})

	require.NoError(t, c.Send(context.Background(), "hello"))

	msgs := c.Messages()
	require.Len(t, msgs, 3) // greeting, user, bot
	assert.Equal(t, RoleUser, msgs[1].Role)
	assert.Equal(t, "hello", msgs[1].Content)
	assert.Equal(t, RoleBot, msgs[2].Role)
	assert.Equal(t, "hi there", msgs[2].Content)
}

func TestSend_SingleFlight(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		json.NewEncoder(w).Encode(map[string]string{"response": "done"})
	}))
	defer srv.Close()

	store := seededStore(t, true)
	c := newConversation(t, srv.URL, store, Options{})

	firstDone := make(chan error, 1)
	go func() { firstDone <- c.Send(context.Background(), "first") }()

	require.Eventually(t, c.Sending, time.Second, 5*time.Millisecond)

	// Second send while the first is in flight is ignored
	err := c.Send(context.Background(), "second")
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-firstDone)

	assert.EqualValues(t, 1, calls.Load(), "exactly one network call")
	require.Len(t, botMessages(c), 2, "greeting plus exactly one reply")
	// The ignored send leaves no trace in the sequence
	for _, m := range c.Messages() {
		assert.NotEqual(t, "second", m.Content)
	}
}

func TestSend_HistoryWindowIsTenInclusive(t *testing.T) {
	var lastHistory []historyPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Message  string           `json:"message"`
			History  []historyPayload `json:"history"`
			Username string           `json:"username"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		lastHistory = body.History
		assert.Equal(t, "mina", body.Username)
		json.NewEncoder(w).Encode(map[string]string{"response": "ok"})
	}))
	defer srv.Close()

	store := seededStore(t, true)
	c := newConversation(t, srv.URL, store, Options{})

	for i := 0; i < 7; i++ {
		require.NoError(t, c.Send(context.Background(), "turn"))
	}

	require.Len(t, lastHistory, 10)
	last := lastHistory[len(lastHistory)-1]
	assert.Equal(t, "user", last.Role)
	assert.Equal(t, "turn", last.Content, "window includes the message being sent")
}

func TestSend_ReplyExtraction(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"response field wins", `{"response":"from response","message":"from message"}`, "from response"},
		{"message field next", `{"message":"from message"}`, "from message"},
		{"bare string body", `"plain reply"`, "plain reply"},
		{"nothing usable", `{"usage":42}`, fallbackReply},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			store := seededStore(t, true)
			c := newConversation(t, srv.URL, store, Options{})
			require.NoError(t, c.Send(context.Background(), "hello"))

			bots := botMessages(c)
			require.Len(t, bots, 2)
			assert.Equal(t, tt.want, bots[1].Content)
		})
	}
}

func TestSend_ForbiddenRedirectsToSettingsAfterDelay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{"error": "api key disabled"})
	}))
	defer srv.Close()

	var navigated atomic.Value
	store := seededStore(t, true)
	c := newConversation(t, srv.URL, store, Options{
		RedirectDelay: 20 * time.Millisecond,
		Navigate:      func(v guard.View) { navigated.Store(v) },
	})

	err := c.Send(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrForbidden)

	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "api key disabled", apiErr.UserMessage())

	assert.Len(t, botMessages(c), 1, "no bot message on failure")
	assert.Nil(t, navigated.Load(), "redirect waits for the fixed delay")
	assert.Eventually(t, func() bool {
		v, _ := navigated.Load().(guard.View)
		return v == guard.ViewSettings
	}, time.Second, 5*time.Millisecond)
}

func TestSend_UnauthorizedGoesThroughAuthHandler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	var handled atomic.Bool
	store := seededStore(t, true)
	c := newConversation(t, srv.URL, store, Options{
		OnAuthError: func(err error) error {
			handled.Store(true)
			return err
		},
	})

	err := c.Send(context.Background(), "hello")
	assert.ErrorIs(t, err, api.ErrUnauthorized)
	assert.True(t, handled.Load())
}

func TestSend_EmptyMessage(t *testing.T) {
	store := seededStore(t, true)
	c := newConversation(t, "http://127.0.0.1:0", store, Options{})
	assert.ErrorIs(t, c.Send(context.Background(), ""), ErrEmptyMessage)
}

func TestExportHTML_RendersMarkdownForBot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"response": "use **bold** text"})
	}))
	defer srv.Close()

	store := seededStore(t, true)
	c := newConversation(t, srv.URL, store, Options{})
	require.NoError(t, c.Send(context.Background(), "tips <script>"))

	var sb strings.Builder
	require.NoError(t, c.ExportHTML(&sb))
	out := sb.String()

	assert.Contains(t, out, "<strong>bold</strong>", "bot markdown is converted")
	assert.Contains(t, out, "tips &lt;script&gt;", "user text is escaped")
	assert.Contains(t, out, "<!DOCTYPE html>")
}
