// ABOUTME: Chat conversation state machine with a single-flight send gate
// ABOUTME: Appends messages optimistically and routes credential failures to settings

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cocogate/gate-client/internal/api"
	"github.com/cocogate/gate-client/internal/credstore"
	"github.com/cocogate/gate-client/internal/guard"
	"github.com/cocogate/gate-client/internal/session"
)

// Role marks who authored a message.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// greeting opens every conversation.
const greeting = "Hello! How can I help you today?"

// fallbackReply is appended when a successful response carries nothing the
// client can display.
const fallbackReply = "Sorry, I can't process that response right now."

// ErrBusy is returned when a send arrives while another is in flight. The
// new send is ignored: no queueing, no cancellation of the prior request.
var ErrBusy = errors.New("a send is already in progress")

// ErrEmptyMessage is returned for blank input.
var ErrEmptyMessage = errors.New("message is empty")

// Message is one entry in the ordered, append-only conversation sequence.
type Message struct {
	ID      string
	Role    Role
	Content string
}

// Options tunes a conversation. Zero values pick the defaults.
type Options struct {
	// HistoryLimit caps how many trailing messages accompany each send.
	HistoryLimit int
	// RedirectDelay is how long an API-key failure stays on screen before
	// the client navigates to settings.
	RedirectDelay time.Duration
	// Navigate is invoked for redirects and may be nil.
	Navigate func(guard.View)
	// OnAuthError sees every request error before it is surfaced, letting
	// the auth flow apply its forced-logout policy. May be nil.
	OnAuthError func(error) error
}

// Conversation owns the message sequence of one chat view and the Sending
// gate that serializes its mutations.
type Conversation struct {
	client   *api.Client
	creds    *credstore.Store
	resolver *session.Resolver
	opts     Options
	logger   *slog.Logger

	sending atomic.Bool

	mu       sync.Mutex
	messages []Message
	appended map[string]bool
}

// NewConversation creates a conversation seeded with the greeting.
func NewConversation(client *api.Client, creds *credstore.Store, resolver *session.Resolver, opts Options) *Conversation {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 10
	}
	if opts.RedirectDelay <= 0 {
		opts.RedirectDelay = 2 * time.Second
	}
	if opts.Navigate == nil {
		opts.Navigate = func(guard.View) {}
	}
	if opts.OnAuthError == nil {
		opts.OnAuthError = func(err error) error { return err }
	}
	return &Conversation{
		client:   client,
		creds:    creds,
		resolver: resolver,
		opts:     opts,
		logger:   slog.Default().With("component", "chat"),
		messages: []Message{{ID: uuid.New().String(), Role: RoleBot, Content: greeting}},
		appended: make(map[string]bool),
	}
}

// Messages returns a copy of the conversation so far.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Sending reports whether a send is in flight.
func (c *Conversation) Sending() bool {
	return c.sending.Load()
}

// historyPayload is the {role, content} shape the backend expects.
type historyPayload struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Send submits a user message. The user message is appended before the
// request is issued; exactly one bot message is appended on success. A send
// without an API key issues no request and routes to the settings view.
func (c *Conversation) Send(ctx context.Context, text string) error {
	if text == "" {
		return ErrEmptyMessage
	}

	state := c.resolver.Resolve()
	if !state.HasAPIKey {
		c.logger.Info("send without api key, routing to settings")
		c.opts.Navigate(guard.ViewSettings)
		return &api.Error{Kind: api.KindMissingCredential, Message: "No API key registered. Add one in settings."}
	}

	if !c.sending.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer c.sending.Store(false)

	sendID := uuid.New().String()

	c.mu.Lock()
	c.messages = append(c.messages, Message{ID: sendID, Role: RoleUser, Content: text})
	history := make([]historyPayload, 0, c.opts.HistoryLimit)
	start := len(c.messages) - c.opts.HistoryLimit
	if start < 0 {
		start = 0
	}
	for _, m := range c.messages[start:] {
		history = append(history, historyPayload{Role: string(m.Role), Content: m.Content})
	}
	c.mu.Unlock()

	resp, err := c.client.Do(ctx, api.Request{
		Class:  api.ClassChat,
		Method: http.MethodPost,
		Path:   "/api/chat/send",
		Body: map[string]any{
			"message":  text,
			"history":  history,
			"username": c.creds.Get().Username,
		},
	})
	if err != nil {
		return c.handleSendError(err)
	}

	c.appendBotOnce(sendID, extractReply(resp.Body))
	return nil
}

// appendBotOnce appends the bot reply for sendID at most once, guarding
// against double-append under rapid re-invocation.
func (c *Conversation) appendBotOnce(sendID, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.appended[sendID] {
		return
	}
	c.appended[sendID] = true
	c.messages = append(c.messages, Message{ID: uuid.New().String(), Role: RoleBot, Content: content})
}

// handleSendError surfaces the failure and applies the redirect policy: a
// missing or rejected API key navigates to settings after the fixed delay,
// a rejected identity goes through the forced-logout handler.
func (c *Conversation) handleSendError(err error) error {
	err = c.opts.OnAuthError(err)

	if errors.Is(err, api.ErrForbidden) || errors.Is(err, api.ErrMissingCredential) {
		c.logger.Warn("api key rejected, scheduling settings redirect", "delay", c.opts.RedirectDelay)
		time.AfterFunc(c.opts.RedirectDelay, func() {
			c.opts.Navigate(guard.ViewSettings)
		})
	}
	return err
}

// extractReply picks the displayed bot text from a send response: the
// response field, else the message field, else the body itself when it is a
// bare JSON string, else the fixed fallback.
func extractReply(body []byte) string {
	var payload struct {
		Response string `json:"response"`
		Message  string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Response != "" {
			return payload.Response
		}
		if payload.Message != "" {
			return payload.Message
		}
	}

	var raw string
	if err := json.Unmarshal(body, &raw); err == nil && raw != "" {
		return raw
	}

	return fallbackReply
}
