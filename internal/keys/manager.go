// ABOUTME: API-key dashboard flow: list, create, toggle, delete, and test
// ABOUTME: Applies optimistic updates locally and reconciles against re-fetched state

package keys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cocogate/gate-client/internal/api"
	"github.com/cocogate/gate-client/internal/session"
)

// ErrKeyNotFound is returned when a raw key has no matching cached record.
var ErrKeyNotFound = errors.New("api key not found")

// ErrNotConfirmed is returned when the user declines a destructive action.
var ErrNotConfirmed = errors.New("action not confirmed")

// Record is the client's cached view of a server-owned API key. The cache
// is an eventually-consistent mirror: every mutation is followed by a full
// re-fetch rather than trusted locally.
type Record struct {
	ID           string
	Name         string
	Key          string
	Active       bool
	TokensUsed   int64
	RequestCount int64
	LastUsedAt   *time.Time
}

// flexID accepts the id field as either a JSON number or a string.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	*f = flexID(strings.Trim(string(data), `"`))
	return nil
}

// wireRecord is the backend payload. Older backends send active, newer ones
// isActive, some both; the two are one boolean to the client, true when
// neither is present.
type wireRecord struct {
	ID           flexID     `json:"id"`
	Name         string     `json:"name"`
	Key          string     `json:"key"`
	IsActive     *bool      `json:"isActive"`
	Active       *bool      `json:"active"`
	TokensUsed   int64      `json:"tokensUsed"`
	RequestCount int64      `json:"requestCount"`
	LastUsedAt   *time.Time `json:"lastUsedAt"`
}

func (w wireRecord) toRecord() Record {
	active := true
	switch {
	case w.IsActive != nil:
		active = *w.IsActive
	case w.Active != nil:
		active = *w.Active
	}
	return Record{
		ID:           string(w.ID),
		Name:         w.Name,
		Key:          w.Key,
		Active:       active,
		TokensUsed:   w.TokensUsed,
		RequestCount: w.RequestCount,
		LastUsedAt:   w.LastUsedAt,
	}
}

// TestResult reports the outcome of exercising a key against the chat test
// endpoint.
type TestResult struct {
	Reply      string
	TokensUsed int64
}

// Manager owns the key dashboard flow. All operations require an
// authenticated session.
type Manager struct {
	client      *api.Client
	resolver    *session.Resolver
	onAuthError func(error) error
	logger      *slog.Logger

	mu    sync.Mutex
	cache []Record
}

// NewManager creates the key manager. onAuthError sees every request error
// so the auth flow can apply forced logout; it may be nil.
func NewManager(client *api.Client, resolver *session.Resolver, onAuthError func(error) error) *Manager {
	if onAuthError == nil {
		onAuthError = func(err error) error { return err }
	}
	return &Manager{
		client:      client,
		resolver:    resolver,
		onAuthError: onAuthError,
		logger:      slog.Default().With("component", "keys"),
	}
}

// Keys returns a copy of the cached records.
func (m *Manager) Keys() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.cache))
	copy(out, m.cache)
	return out
}

func (m *Manager) requireAuth() error {
	if !m.resolver.Resolve().IsAuthenticated {
		return &api.Error{Kind: api.KindMissingCredential, Message: "Please sign in first."}
	}
	return nil
}

// List fetches all records for the current identity and replaces the cache.
func (m *Manager) List(ctx context.Context) ([]Record, error) {
	if err := m.requireAuth(); err != nil {
		return nil, err
	}

	resp, err := m.client.Do(ctx, api.Request{
		Class:  api.ClassStandard,
		Method: http.MethodGet,
		Path:   "/api/keys",
	})
	if err != nil {
		return nil, m.onAuthError(err)
	}

	var wire []wireRecord
	if err := resp.Decode(&wire); err != nil {
		return nil, err
	}
	records := make([]Record, len(wire))
	for i, w := range wire {
		records[i] = w.toRecord()
	}

	m.mu.Lock()
	m.cache = records
	m.mu.Unlock()

	return m.Keys(), nil
}

// Create requests a new key under the given name and appends it to the
// cache with zero usage.
func (m *Manager) Create(ctx context.Context, name string) (Record, error) {
	if strings.TrimSpace(name) == "" {
		return Record{}, &api.Error{Kind: api.KindValidation, Message: "please enter a key name"}
	}
	if err := m.requireAuth(); err != nil {
		return Record{}, err
	}

	resp, err := m.client.Do(ctx, api.Request{
		Class:  api.ClassStandard,
		Method: http.MethodPost,
		Path:   "/api/keys?name=" + url.QueryEscape(name),
	})
	if err != nil {
		return Record{}, m.onAuthError(err)
	}

	var wire wireRecord
	if err := resp.Decode(&wire); err != nil {
		return Record{}, err
	}
	record := wire.toRecord()
	record.TokensUsed = 0
	record.RequestCount = 0

	m.mu.Lock()
	m.cache = append(m.cache, record)
	m.mu.Unlock()

	m.logger.Info("api key created", "name", record.Name, "id", record.ID)
	return record, nil
}

// Toggle flips a key's active state optimistically, confirms with the
// server, and reconciles from a full re-fetch either way. A failed confirm
// leaves the re-fetched (rolled back) state in place and surfaces the error.
func (m *Manager) Toggle(ctx context.Context, id string) error {
	return m.applyThenConfirm(ctx,
		func(records []Record) {
			for i := range records {
				if records[i].ID == id {
					records[i].Active = !records[i].Active
				}
			}
		},
		func(ctx context.Context) error {
			_, err := m.client.Do(ctx, api.Request{
				Class:  api.ClassStandard,
				Method: http.MethodPut,
				Path:   "/api/keys/" + url.PathEscape(id) + "/toggle",
			})
			return err
		},
	)
}

// applyThenConfirm is the optimistic-mutation helper: apply the change to
// the local cache, confirm it remotely, then reconcile by re-fetching the
// authoritative list on both success and failure. The subsequent List is
// always trusted over local state.
func (m *Manager) applyThenConfirm(ctx context.Context, apply func([]Record), confirm func(context.Context) error) error {
	if err := m.requireAuth(); err != nil {
		return err
	}

	m.mu.Lock()
	apply(m.cache)
	m.mu.Unlock()

	confirmErr := confirm(ctx)
	if confirmErr != nil {
		confirmErr = m.onAuthError(confirmErr)
		m.logger.Warn("optimistic update rejected, rolling back", "error", confirmErr)
	}

	if _, listErr := m.List(ctx); listErr != nil && confirmErr == nil {
		return fmt.Errorf("reconciling after mutation: %w", listErr)
	}
	return confirmErr
}

// Remove deletes a key after explicit confirmation, then re-fetches.
func (m *Manager) Remove(ctx context.Context, id string, confirm func() bool) error {
	if err := m.requireAuth(); err != nil {
		return err
	}
	if confirm == nil || !confirm() {
		return ErrNotConfirmed
	}

	_, err := m.client.Do(ctx, api.Request{
		Class:  api.ClassStandard,
		Method: http.MethodDelete,
		Path:   "/api/keys/" + url.PathEscape(id),
	})
	if err != nil {
		return m.onAuthError(err)
	}

	m.logger.Info("api key deleted", "id", id)
	_, err = m.List(ctx)
	return err
}

// Test exercises a key against the chat test endpoint, records the reported
// token usage against the key's server ID, and re-fetches the counters.
// Proxy-prefixed keys are routed to the proxy test endpoint.
func (m *Manager) Test(ctx context.Context, rawKey string) (TestResult, error) {
	if err := m.requireAuth(); err != nil {
		return TestResult{}, err
	}

	record, ok := m.findByKey(rawKey)
	if !ok {
		return TestResult{}, ErrKeyNotFound
	}

	path := "/api/chat/test"
	if strings.HasPrefix(rawKey, "proxy_") {
		path = "/api/chat/proxy-send"
	}

	resp, err := m.client.Do(ctx, api.Request{
		Class:  api.ClassChat,
		Method: http.MethodPost,
		Path:   path,
		Body:   map[string]any{"message": "connection test", "history": []any{}},
		APIKey: rawKey,
	})
	if err != nil {
		return TestResult{}, m.onAuthError(err)
	}

	var payload struct {
		Response   string `json:"response"`
		TokensUsed int64  `json:"tokens_used"`
	}
	if err := resp.Decode(&payload); err != nil {
		return TestResult{}, err
	}

	if payload.TokensUsed > 0 {
		if err := m.recordUsage(ctx, record.ID, payload.TokensUsed); err != nil {
			// Losing a usage sample is not worth failing a successful test
			m.logger.Warn("recording key usage", "id", record.ID, "error", err)
		}
	}

	if _, err := m.List(ctx); err != nil {
		return TestResult{}, err
	}
	return TestResult{Reply: payload.Response, TokensUsed: payload.TokensUsed}, nil
}

// recordUsage reports consumed tokens for a key, by server ID, never by the
// raw key itself.
func (m *Manager) recordUsage(ctx context.Context, id string, tokens int64) error {
	_, err := m.client.Do(ctx, api.Request{
		Class:  api.ClassStandard,
		Method: http.MethodPost,
		Path:   "/api/keys/usage",
		Body: map[string]any{
			"keyId":      id,
			"tokensUsed": tokens,
			"operation":  "test",
		},
	})
	return err
}

func (m *Manager) findByKey(rawKey string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.cache {
		if r.Key == rawKey {
			return r, true
		}
	}
	return Record{}, false
}
