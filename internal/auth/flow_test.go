// ABOUTME: Tests for login, registration, key save, and forced logout
// ABOUTME: Uses an httptest backend minting real HS256 tokens

package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cocogate/gate-client/internal/api"
	"github.com/cocogate/gate-client/internal/credstore"
	"github.com/cocogate/gate-client/internal/guard"
)

func newTestStore(t *testing.T) *credstore.Store {
	t.Helper()
	s, err := credstore.New(credstore.NewMemoryBackend())
	require.NoError(t, err)
	return s
}

func mintToken(t *testing.T, username string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": username,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

// fakeBackend implements the auth endpoints the flow touches.
func fakeBackend(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var authHeaders []string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["password"] != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "bad credentials"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"token":    mintToken(t, body["username"]),
			"username": body["username"],
			"email":    body["username"] + "@example.com",
		})
	})
	mux.HandleFunc("POST /api/auth/register", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		json.NewEncoder(w).Encode(map[string]string{
			"token":    mintToken(t, body["username"]),
			"username": body["username"],
			"email":    body["email"],
		})
	})
	mux.HandleFunc("GET /api/user/api-key", func(w http.ResponseWriter, r *http.Request) {
		authHeaders = append(authHeaders, r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]string{"apiKey": "sk-saved-on-profile"})
	})
	mux.HandleFunc("POST /api/user/api-key", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"message": "API key saved"})
	})
	return httptest.NewServer(mux), &authHeaders
}

func newTestFlow(t *testing.T, baseURL string, store *credstore.Store, navigate func(guard.View)) *Flow {
	t.Helper()
	return NewFlow(api.New(baseURL, time.Second, store), store, navigate)
}

func TestLogin_StoresIdentityAndBootstrapsKey(t *testing.T) {
	srv, authHeaders := fakeBackend(t)
	defer srv.Close()
	store := newTestStore(t)
	flow := newTestFlow(t, srv.URL, store, nil)

	require.NoError(t, flow.Login(context.Background(), "mina", "hunter2"))

	creds := store.Get()
	assert.Equal(t, "mina", creds.Username)
	assert.Equal(t, "mina@example.com", creds.Email)
	assert.NotEmpty(t, creds.Token)
	assert.Equal(t, "sk-saved-on-profile", creds.APIKey, "post-login bootstrap stores the profile key")

	// The key fetch must carry the token that login just returned
	require.Len(t, *authHeaders, 1)
	assert.Equal(t, "Bearer "+creds.Token, (*authHeaders)[0])
}

func TestLogin_BadCredentials(t *testing.T) {
	srv, _ := fakeBackend(t)
	defer srv.Close()
	store := newTestStore(t)
	flow := newTestFlow(t, srv.URL, store, nil)

	err := flow.Login(context.Background(), "mina", "wrong")
	assert.ErrorIs(t, err, api.ErrUnauthorized)
	assert.Empty(t, store.Get().Token, "no identity may be stored on failure")
}

func TestRegister_StoresIdentity(t *testing.T) {
	srv, _ := fakeBackend(t)
	defer srv.Close()
	store := newTestStore(t)
	flow := newTestFlow(t, srv.URL, store, nil)

	require.NoError(t, flow.Register(context.Background(), "jun", "jun@example.com", "hunter2"))

	creds := store.Get()
	assert.Equal(t, "jun", creds.Username)
	assert.Equal(t, "jun@example.com", creds.Email)
	assert.NotEmpty(t, creds.Token)
}

func TestRegister_LocalValidation(t *testing.T) {
	store := newTestStore(t)
	flow := newTestFlow(t, "http://127.0.0.1:0", store, nil)

	err := flow.Register(context.Background(), "  ", "", "")
	assert.ErrorIs(t, err, api.ErrValidation)
}

func TestSaveAPIKey_Validation(t *testing.T) {
	store := newTestStore(t)
	flow := newTestFlow(t, "http://127.0.0.1:0", store, nil)

	tests := []struct {
		name string
		key  string
	}{
		{"blank", "   "},
		{"wrong prefix", "abc-123"},
		{"inner whitespace", "sk-abc def"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := flow.SaveAPIKey(context.Background(), tt.key)
			assert.ErrorIs(t, err, api.ErrValidation)
		})
	}
	assert.Empty(t, store.Get().APIKey)
}

func TestSaveAPIKey_StoresTrimmedKey(t *testing.T) {
	srv, _ := fakeBackend(t)
	defer srv.Close()
	store := newTestStore(t)
	require.NoError(t, store.SetIdentity(credstore.Identity{Username: "mina", Token: "tok-1"}))
	flow := newTestFlow(t, srv.URL, store, nil)

	msg, err := flow.SaveAPIKey(context.Background(), "  sk-new-key-456  ")
	require.NoError(t, err)
	assert.Equal(t, "API key saved", msg)
	assert.Equal(t, "sk-new-key-456", store.Get().APIKey)
}

func TestSaveAPIKey_AcceptsProxyKeys(t *testing.T) {
	srv, _ := fakeBackend(t)
	defer srv.Close()
	store := newTestStore(t)
	flow := newTestFlow(t, srv.URL, store, nil)

	_, err := flow.SaveAPIKey(context.Background(), "proxy_abcdef")
	require.NoError(t, err)
	assert.Equal(t, "proxy_abcdef", store.Get().APIKey)
}

func TestLogout_ClearsEverything(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SetIdentity(credstore.Identity{Username: "mina", Token: "tok-1"}))
	require.NoError(t, store.SetAPIKey("sk-test-123"))
	flow := newTestFlow(t, "http://127.0.0.1:0", store, nil)

	require.NoError(t, flow.Logout())
	creds := store.Get()
	assert.Empty(t, creds.Token)
	assert.Empty(t, creds.APIKey)
}

func TestHandleAuthError_ForcesLogoutOn401(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SetIdentity(credstore.Identity{Username: "mina", Token: "tok-stale"}))

	var redirected guard.View
	flow := newTestFlow(t, "http://127.0.0.1:0", store, func(v guard.View) { redirected = v })

	err := flow.HandleAuthError(&api.Error{Kind: api.KindUnauthorized, Status: 401})
	assert.ErrorIs(t, err, api.ErrUnauthorized, "the original error is preserved")
	assert.Empty(t, store.Get().Token)
	assert.Equal(t, guard.ViewLogin, redirected)
}

func TestHandleAuthError_IgnoresOtherKinds(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SetIdentity(credstore.Identity{Username: "mina", Token: "tok-1"}))
	flow := newTestFlow(t, "http://127.0.0.1:0", store, nil)

	err := flow.HandleAuthError(&api.Error{Kind: api.KindServer, Status: 500})
	assert.ErrorIs(t, err, api.ErrServer)
	assert.Equal(t, "tok-1", store.Get().Token, "non-401 failures keep the session")
}
