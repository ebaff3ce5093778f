// ABOUTME: Credential store holding the identity token, username, email and API key
// ABOUTME: Wraps an injectable backend and notifies subscribers on every mutation

package credstore

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Well-known credential keys. These are the only rows the store manages.
const (
	KeyToken    = "token"
	KeyUsername = "username"
	KeyEmail    = "email"
	KeyAPIKey   = "api_key"
)

// ErrNotFound is returned by backends when a key has no value.
var ErrNotFound = errors.New("not found")

// Identity is the logged-in user as issued by the backend at login or
// registration. The token is an opaque bearer credential.
type Identity struct {
	Username string
	Email    string
	Token    string
}

// Credentials is a point-in-time snapshot of everything the store holds.
// Absent fields are empty strings.
type Credentials struct {
	Identity
	APIKey string
}

// Change describes a single credential mutation, local or observed from
// another client instance via Watch.
type Change struct {
	Key   string
	Value string
}

// Backend is the persistence layer behind the store. Implementations must
// make writes immediately visible to subsequent reads.
type Backend interface {
	Get(key string) (string, error)
	Set(key, value string) error
	// DeleteAll removes every credential key in a single operation.
	DeleteAll(keys []string) error
	Close() error
}

var allKeys = []string{KeyToken, KeyUsername, KeyEmail, KeyAPIKey}

// Store is the process-wide credential store. All methods are safe for
// concurrent use.
type Store struct {
	mu       sync.Mutex
	backend  Backend
	logger   *slog.Logger
	snapshot map[string]string

	subMu   sync.Mutex
	subs    map[int]func(Change)
	nextSub int
}

// New creates a store over the given backend and primes the in-memory
// snapshot used for change diffing.
func New(backend Backend) (*Store, error) {
	s := &Store{
		backend:  backend,
		logger:   slog.Default().With("component", "credstore"),
		snapshot: make(map[string]string, len(allKeys)),
		subs:     make(map[int]func(Change)),
	}
	if _, err := s.readAll(); err != nil {
		return nil, fmt.Errorf("priming credential snapshot: %w", err)
	}
	return s, nil
}

// Get returns the current credentials.
func (s *Store) Get() Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Credentials{
		Identity: Identity{
			Username: s.snapshot[KeyUsername],
			Email:    s.snapshot[KeyEmail],
			Token:    s.snapshot[KeyToken],
		},
		APIKey: s.snapshot[KeyAPIKey],
	}
}

// SetIdentity writes the identity through to the backend, overwriting any
// previous identity. Each changed key raises one notification.
func (s *Store) SetIdentity(id Identity) error {
	return s.setMany(map[string]string{
		KeyToken:    id.Token,
		KeyUsername: id.Username,
		KeyEmail:    id.Email,
	})
}

// SetToken overwrites only the identity token. Used for silent token
// rotation on chat responses.
func (s *Store) SetToken(token string) error {
	return s.setMany(map[string]string{KeyToken: token})
}

// SetAPIKey writes the active API key through to the backend.
func (s *Store) SetAPIKey(key string) error {
	return s.setMany(map[string]string{KeyAPIKey: key})
}

// Clear removes all credentials. The backend delete covers every key at
// once so no partial-clear state is observable.
func (s *Store) Clear() error {
	s.mu.Lock()
	if err := s.backend.DeleteAll(allKeys); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("clearing credentials: %w", err)
	}
	var changes []Change
	for _, k := range allKeys {
		if s.snapshot[k] != "" {
			changes = append(changes, Change{Key: k})
		}
		delete(s.snapshot, k)
	}
	s.mu.Unlock()

	s.logger.Info("credentials cleared")
	for _, c := range changes {
		s.notify(c)
	}
	return nil
}

// Subscribe registers a callback invoked once per credential change. The
// returned function removes the subscription.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// Close closes the underlying backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) setMany(values map[string]string) error {
	s.mu.Lock()
	var changes []Change
	for key, value := range values {
		if s.snapshot[key] == value {
			continue
		}
		if err := s.backend.Set(key, value); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("writing %s: %w", key, err)
		}
		s.snapshot[key] = value
		changes = append(changes, Change{Key: key, Value: value})
	}
	s.mu.Unlock()

	for _, c := range changes {
		s.logger.Debug("credential updated", "key", c.Key)
		s.notify(c)
	}
	return nil
}

// readAll refreshes the snapshot from the backend and returns the changes
// relative to the previous snapshot. Caller must not hold s.mu.
func (s *Store) readAll() ([]Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changes []Change
	for _, key := range allKeys {
		value, err := s.backend.Get(key)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("reading %s: %w", key, err)
		}
		if s.snapshot[key] != value {
			changes = append(changes, Change{Key: key, Value: value})
			if value == "" {
				delete(s.snapshot, key)
			} else {
				s.snapshot[key] = value
			}
		}
	}
	return changes, nil
}

func (s *Store) notify(c Change) {
	s.subMu.Lock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}
