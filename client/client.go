// Package client is the Go client for the interview session API. Client
// wraps the HTTP surface; Controller layers the membership state machine a
// session view needs on top of it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	apperrors "github.com/pairprep/interview-server-go/internal/errors"
	"github.com/pairprep/interview-server-go/internal/model"
	"github.com/pairprep/interview-server-go/internal/stream"
)

const defaultTimeout = 10 * time.Second

// APIError is a structured error returned by the server.
type APIError struct {
	StatusCode int
	Code       apperrors.ErrorCode
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsSessionFull reports whether err is a capacity rejection. Capacity is the
// one join failure that must not be retried while the session stays full.
func IsSessionFull(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.Code == apperrors.ErrCodeSessionFull
}

// IsNotFound reports whether err says the session no longer exists.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.Code == apperrors.ErrCodeNotFound
}

// SessionResult is a mutation response: the updated session plus an optional
// server message.
type SessionResult struct {
	Session model.SessionView `json:"session"`
	Message string            `json:"message,omitempty"`
}

// Client talks to the session API as one authenticated user.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func New(baseURL, bearerToken string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		token:   bearerToken,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type CreateSessionRequest struct {
	Problem         string `json:"problem"`
	Difficulty      string `json:"difficulty"`
	MaxParticipants int    `json:"maxParticipants,omitempty"`
}

func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (*SessionResult, error) {
	return c.sessionCall(ctx, http.MethodPost, "/sessions", req)
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (*model.SessionView, error) {
	result, err := c.sessionCall(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return nil, err
	}
	return &result.Session, nil
}

func (c *Client) ListActiveSessions(ctx context.Context) ([]model.SessionView, error) {
	return c.listCall(ctx, "/sessions")
}

// ListMySessions lists sessions the user hosts or participates in,
// optionally filtered by status ("active" or "completed").
func (c *Client) ListMySessions(ctx context.Context, status string) ([]model.SessionView, error) {
	path := "/sessions/mine"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	return c.listCall(ctx, path)
}

func (c *Client) Join(ctx context.Context, sessionID string) (*SessionResult, error) {
	return c.sessionCall(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/join", nil)
}

func (c *Client) Leave(ctx context.Context, sessionID string) (*SessionResult, error) {
	return c.sessionCall(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/leave", nil)
}

func (c *Client) RemoveParticipant(ctx context.Context, sessionID, participantID string) (*SessionResult, error) {
	body := map[string]string{"participantId": participantID}
	return c.sessionCall(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/remove-participant", body)
}

func (c *Client) End(ctx context.Context, sessionID string) (*SessionResult, error) {
	return c.sessionCall(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/end", nil)
}

// Credentials fetches the realtime provider credentials for the
// authenticated user.
func (c *Client) Credentials(ctx context.Context) (*stream.UserCredentials, error) {
	var creds stream.UserCredentials
	if err := c.do(ctx, http.MethodGet, "/chat/token", nil, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

func (c *Client) sessionCall(ctx context.Context, method, path string, body any) (*SessionResult, error) {
	var result SessionResult
	if err := c.do(ctx, method, path, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) listCall(ctx context.Context, path string) ([]model.SessionView, error) {
	var result struct {
		Sessions []model.SessionView `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Sessions, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var payload struct {
		Error string              `json:"error"`
		Code  apperrors.ErrorCode `json:"code"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err := json.Unmarshal(data, &payload); err != nil || payload.Code == "" {
		return &APIError{
			StatusCode: resp.StatusCode,
			Code:       apperrors.ErrCodeInternal,
			Message:    http.StatusText(resp.StatusCode),
		}
	}
	return &APIError{
		StatusCode: resp.StatusCode,
		Code:       payload.Code,
		Message:    payload.Error,
	}
}
