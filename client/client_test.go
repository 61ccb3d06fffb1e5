package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/pairprep/interview-server-go/internal/errors"
)

type recordedRequest struct {
	method string
	path   string
	auth   string
	body   map[string]any
}

func newTestServer(t *testing.T, status int, response any) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var requests []recordedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{
			method: r.Method,
			path:   r.URL.Path,
			auth:   r.Header.Get("Authorization"),
		}
		if r.Body != nil {
			json.NewDecoder(r.Body).Decode(&rec.body)
		}
		requests = append(requests, rec)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(response)
	}))
	t.Cleanup(server.Close)
	return server, &requests
}

func TestClientCreateSession(t *testing.T) {
	server, requests := newTestServer(t, http.StatusCreated, map[string]any{
		"session": map[string]any{"id": "sess-1", "problem": "Two Sum"},
	})
	c := New(server.URL, "tok-1")

	result, err := c.CreateSession(context.Background(), CreateSessionRequest{
		Problem:    "Two Sum",
		Difficulty: "easy",
	})

	require.NoError(t, err)
	assert.Equal(t, "sess-1", result.Session.ID)

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "/sessions", req.path)
	assert.Equal(t, "Bearer tok-1", req.auth)
	assert.Equal(t, "Two Sum", req.body["problem"])
	assert.Equal(t, "easy", req.body["difficulty"])
}

func TestClientJoin(t *testing.T) {
	server, requests := newTestServer(t, http.StatusOK, map[string]any{
		"session": map[string]any{"id": "sess-1"},
		"message": "Rejoined session",
	})
	c := New(server.URL, "tok-1")

	result, err := c.Join(context.Background(), "sess-1")

	require.NoError(t, err)
	assert.Equal(t, "Rejoined session", result.Message)
	assert.Equal(t, "/sessions/sess-1/join", (*requests)[0].path)
}

func TestClientListMySessions(t *testing.T) {
	server, _ := newTestServer(t, http.StatusOK, map[string]any{
		"sessions": []map[string]any{{"id": "sess-1"}, {"id": "sess-2"}},
	})
	c := New(server.URL, "tok-1")

	sessions, err := c.ListMySessions(context.Background(), "completed")

	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestClientRemoveParticipant(t *testing.T) {
	server, requests := newTestServer(t, http.StatusOK, map[string]any{
		"session": map[string]any{"id": "sess-1"},
		"message": "Participant removed",
	})
	c := New(server.URL, "tok-1")

	_, err := c.RemoveParticipant(context.Background(), "sess-1", "user-2")

	require.NoError(t, err)
	req := (*requests)[0]
	assert.Equal(t, "/sessions/sess-1/remove-participant", req.path)
	assert.Equal(t, "user-2", req.body["participantId"])
}

func TestClientDecodesStructuredErrors(t *testing.T) {
	server, _ := newTestServer(t, http.StatusConflict, map[string]any{
		"error": "Session is full (max 3 participants)",
		"code":  "SESSION_FULL",
	})
	c := New(server.URL, "tok-1")

	_, err := c.Join(context.Background(), "sess-1")

	require.Error(t, err)
	assert.True(t, IsSessionFull(err))

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, apperrors.ErrCodeSessionFull, apiErr.Code)
	assert.Equal(t, "Session is full (max 3 participants)", apiErr.Message)
}

func TestClientHandlesUnstructuredErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)
	c := New(server.URL, "tok-1")

	_, err := c.GetSession(context.Background(), "sess-1")

	require.Error(t, err)
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.False(t, IsSessionFull(err))
}

func TestClientCredentials(t *testing.T) {
	server, requests := newTestServer(t, http.StatusOK, map[string]any{
		"apiKey": "key-1",
		"token":  "user-token",
	})
	c := New(server.URL, "tok-1")

	creds, err := c.Credentials(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "key-1", creds.APIKey)
	assert.Equal(t, "user-token", creds.Token)
	assert.Equal(t, "/chat/token", (*requests)[0].path)
}
