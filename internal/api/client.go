// ABOUTME: HTTP client for the cocoGate backend with per-class credential headers
// ABOUTME: Fails chat calls fast without credentials and applies silent token rotation

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cocogate/gate-client/internal/credstore"
)

const userAgent = "gate-client/1.0"

// Class selects which credential headers a request carries.
type Class int

const (
	// ClassStandard attaches identity headers when present and otherwise
	// issues the request bare, letting the backend reject it.
	ClassStandard Class = iota
	// ClassChat requires both an identity token and an API key before the
	// request may reach the network.
	ClassChat
)

// Request describes one backend call. APIKey overrides the stored key for
// chat-class requests; the key-test flow uses it to exercise a specific key.
type Request struct {
	Class  Class
	Method string
	Path   string
	Body   any
	APIKey string
}

// Response is a successful (2xx) backend reply.
type Response struct {
	Status int
	Body   []byte
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// Client issues requests against the backend. All failures are returned as
// *Error values carrying the taxonomy kind.
type Client struct {
	baseURL string
	http    *http.Client
	creds   *credstore.Store
	logger  *slog.Logger
}

// New creates a client for the given base URL. The credential store
// supplies headers per request, so rotation is picked up without rebuilds.
func New(baseURL string, timeout time.Duration, creds *credstore.Store) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		creds:   creds,
		logger:  slog.Default().With("component", "api"),
	}
}

// Do issues the request and returns the response, or a typed error. Chat
// requests fail with a missing-credential error before any network I/O if
// the token or API key is absent.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	creds := c.creds.Get()

	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = creds.APIKey
	}
	if req.Class == ClassChat && (creds.Token == "" || apiKey == "") {
		return nil, &Error{Kind: KindMissingCredential}
	}

	var bodyReader io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, &Error{Kind: KindValidation, Message: "request could not be encoded", Err: err}
		}
		bodyReader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, bodyReader)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Message: "request could not be built", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)

	switch req.Class {
	case ClassChat:
		httpReq.Header.Set("Authorization", "Bearer "+creds.Token)
		httpReq.Header.Set("X-API-Key", apiKey)
		httpReq.Header.Set("X-Username", creds.Username)
	default:
		// Both or neither: a token without a username would let the
		// backend attribute the call to nobody.
		if creds.Token != "" && creds.Username != "" {
			httpReq.Header.Set("Authorization", "Bearer "+creds.Token)
			httpReq.Header.Set("X-Username", creds.Username)
		}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Warn("request failed", "method", req.Method, "path", req.Path, "error", err)
		return nil, &Error{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Err: fmt.Errorf("reading response body: %w", err)}
	}

	c.logger.Debug("request completed", "method", req.Method, "path", req.Path, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{
			Kind:    statusKind(resp.StatusCode),
			Status:  resp.StatusCode,
			Message: serverMessage(body),
		}
	}

	if req.Class == ClassChat {
		c.rotateToken(body)
	}

	return &Response{Status: resp.StatusCode, Body: body}, nil
}

// rotateToken persists a refreshed token carried in a chat response before
// the response reaches the caller. Rotation is silent; a store failure is
// logged but does not fail the call that already succeeded.
func (c *Client) rotateToken(body []byte) {
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Token == "" {
		return
	}
	if err := c.creds.SetToken(payload.Token); err != nil {
		c.logger.Error("storing rotated token", "error", err)
		return
	}
	c.logger.Debug("token rotated")
}

// serverMessage extracts the user-facing error text from a failure body.
// The backend uses "error" for most failures and "message" for a few.
func serverMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Error != "" {
		return payload.Error
	}
	return payload.Message
}
