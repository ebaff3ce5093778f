// ABOUTME: Login, registration, and API-key save flows
// ABOUTME: Writes the credential store on success and handles forced logout

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cocogate/gate-client/internal/api"
	"github.com/cocogate/gate-client/internal/credstore"
	"github.com/cocogate/gate-client/internal/guard"
)

// Flow performs account and key-registration operations against the
// backend and keeps the credential store in sync with the outcomes.
type Flow struct {
	client   *api.Client
	store    *credstore.Store
	navigate func(guard.View)
	logger   *slog.Logger
}

// NewFlow creates the auth flow. navigate is invoked for forced redirects
// (for example to the login view after a 401) and may be nil.
func NewFlow(client *api.Client, store *credstore.Store, navigate func(guard.View)) *Flow {
	if navigate == nil {
		navigate = func(guard.View) {}
	}
	return &Flow{
		client:   client,
		store:    store,
		navigate: navigate,
		logger:   slog.Default().With("component", "auth"),
	}
}

// identityResponse is the backend reply to login and registration.
type identityResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Register creates an account and signs the user in with the returned
// identity.
func (f *Flow) Register(ctx context.Context, username, email, password string) error {
	if strings.TrimSpace(username) == "" || password == "" {
		return &api.Error{Kind: api.KindValidation, Message: "username and password are required"}
	}

	resp, err := f.client.Do(ctx, api.Request{
		Class:  api.ClassStandard,
		Method: http.MethodPost,
		Path:   "/api/auth/register",
		Body:   map[string]string{"username": username, "email": email, "password": password},
	})
	if err != nil {
		return err
	}
	return f.storeIdentity(resp)
}

// Login authenticates and stores the returned identity, overwriting any
// previous one. After a successful login the user's saved API key is
// fetched best-effort so chat works without a trip to settings.
func (f *Flow) Login(ctx context.Context, username, password string) error {
	resp, err := f.client.Do(ctx, api.Request{
		Class:  api.ClassStandard,
		Method: http.MethodPost,
		Path:   "/api/auth/login",
		Body:   map[string]string{"username": username, "password": password},
	})
	if err != nil {
		return err
	}
	if err := f.storeIdentity(resp); err != nil {
		return err
	}

	if err := f.FetchAPIKey(ctx); err != nil {
		// Not fatal: the account may simply have no key yet
		f.logger.Debug("post-login api key fetch failed", "error", err)
	}
	return nil
}

func (f *Flow) storeIdentity(resp *api.Response) error {
	var id identityResponse
	if err := resp.Decode(&id); err != nil {
		return &api.Error{Kind: api.KindUnknown, Message: "unexpected sign-in response", Err: err}
	}
	if id.Token == "" {
		return &api.Error{Kind: api.KindUnknown, Message: "sign-in response carried no token"}
	}
	if err := f.store.SetIdentity(credstore.Identity{
		Username: id.Username,
		Email:    id.Email,
		Token:    id.Token,
	}); err != nil {
		return fmt.Errorf("storing identity: %w", err)
	}
	f.logger.Info("signed in", "username", id.Username)
	return nil
}

// FetchAPIKey retrieves the key saved on the user's profile and stores it
// locally when present.
func (f *Flow) FetchAPIKey(ctx context.Context) error {
	resp, err := f.client.Do(ctx, api.Request{
		Class:  api.ClassStandard,
		Method: http.MethodGet,
		Path:   "/api/user/api-key",
	})
	if err != nil {
		return err
	}
	var payload struct {
		APIKey string `json:"apiKey"`
	}
	if err := resp.Decode(&payload); err != nil {
		return err
	}
	if payload.APIKey == "" {
		return nil
	}
	return f.store.SetAPIKey(payload.APIKey)
}

// SaveAPIKey validates the key locally, registers it on the user's profile,
// and stores it as the active key. Returns the backend's confirmation
// message.
func (f *Flow) SaveAPIKey(ctx context.Context, key string) (string, error) {
	clean := strings.TrimSpace(key)
	if clean == "" {
		return "", &api.Error{Kind: api.KindValidation, Message: "please enter an API key"}
	}
	if strings.ContainsAny(clean, " \t\n") {
		return "", &api.Error{Kind: api.KindValidation, Message: "API keys cannot contain whitespace"}
	}
	if !strings.HasPrefix(clean, "sk-") && !strings.HasPrefix(clean, "proxy_") {
		return "", &api.Error{Kind: api.KindValidation, Message: `API keys start with "sk-" or "proxy_"`}
	}

	resp, err := f.client.Do(ctx, api.Request{
		Class:  api.ClassStandard,
		Method: http.MethodPost,
		Path:   "/api/user/api-key",
		Body:   map[string]string{"apiKey": clean},
	})
	if err != nil {
		return "", f.checkUnauthorized(err)
	}

	var payload struct {
		Message string `json:"message"`
	}
	if err := resp.Decode(&payload); err != nil {
		return "", err
	}
	if err := f.store.SetAPIKey(clean); err != nil {
		return "", fmt.Errorf("storing api key: %w", err)
	}
	f.logger.Info("api key saved", "length", len(clean))
	return payload.Message, nil
}

// Logout clears all stored credentials in one operation.
func (f *Flow) Logout() error {
	return f.store.Clear()
}

// checkUnauthorized applies the forced-logout policy: a 401 during any
// protected call clears credentials and routes to the login view. The
// original error is returned either way.
func (f *Flow) checkUnauthorized(err error) error {
	if !errors.Is(err, api.ErrUnauthorized) {
		return err
	}
	f.logger.Warn("identity rejected by backend, signing out")
	if clearErr := f.store.Clear(); clearErr != nil {
		f.logger.Error("clearing credentials after 401", "error", clearErr)
	}
	f.navigate(guard.ViewLogin)
	return err
}

// HandleAuthError exposes the forced-logout policy to the other flows.
func (f *Flow) HandleAuthError(err error) error {
	return f.checkUnauthorized(err)
}
