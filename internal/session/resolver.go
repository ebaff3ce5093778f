// ABOUTME: Session state resolution from credential store contents
// ABOUTME: Latches initialization once and re-resolves on credential changes

package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cocogate/gate-client/internal/credstore"
)

// State is the derived authentication status. It is recomputed from the
// credential store on demand and never persisted.
type State struct {
	IsAuthenticated bool
	HasAPIKey       bool
	Initialized     bool
}

// Resolver computes State from the credential store. A single resolver is
// shared by the route guard and the flows.
type Resolver struct {
	store  *credstore.Store
	logger *slog.Logger

	initOnce    sync.Once
	initialized bool

	mu       sync.Mutex
	onChange func(State)
}

// NewResolver creates a resolver over the store and subscribes to token and
// API-key changes so state stays consistent across client instances without
// a restart.
func NewResolver(store *credstore.Store) *Resolver {
	r := &Resolver{
		store:  store,
		logger: slog.Default().With("component", "session"),
	}
	store.Subscribe(func(c credstore.Change) {
		if c.Key != credstore.KeyToken && c.Key != credstore.KeyAPIKey {
			return
		}
		state := r.Resolve()
		r.logger.Debug("session re-resolved",
			"key", c.Key,
			"authenticated", state.IsAuthenticated,
			"has_api_key", state.HasAPIKey,
		)
		r.mu.Lock()
		fn := r.onChange
		r.mu.Unlock()
		if fn != nil {
			fn(state)
		}
	})
	return r
}

// Resolve returns the current state. Initialized becomes true on the first
// call and never reverts.
func (r *Resolver) Resolve() State {
	creds := r.store.Get()
	r.initOnce.Do(func() { r.initialized = true })
	return State{
		IsAuthenticated: creds.Token != "",
		HasAPIKey:       creds.APIKey != "",
		Initialized:     r.initialized,
	}
}

// OnChange sets the callback invoked with the freshly resolved state after
// any token or API-key change. Passing nil removes it.
func (r *Resolver) OnChange(fn func(State)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// TokenExpiry reports the bearer token's exp claim, for display only. The
// token is treated as opaque for all authorization decisions; the claims
// are read without verification and a missing or malformed claim yields a
// zero time.
func (r *Resolver) TokenExpiry() time.Time {
	token := r.store.Get().Token
	if token == "" {
		return time.Time{}
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
