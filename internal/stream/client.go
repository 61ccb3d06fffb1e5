package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	requestTimeout = 5 * time.Second

	// The provider pins calls and channels to fixed types; every session
	// uses the default call type and the messaging channel type.
	callType    = "default"
	channelType = "messaging"
)

// Client talks to the provider's REST API. Server-side requests are
// authenticated with a short-lived JWT signed by the API secret.
type Client struct {
	baseURL   string
	apiKey    string
	apiSecret string
	client    *http.Client
}

var _ Provisioner = (*Client)(nil)

func NewClient(baseURL, apiKey, apiSecret string) *Client {
	return &Client{
		baseURL:   baseURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		client: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

func (c *Client) CreateCall(ctx context.Context, callID string, meta CallMetadata) error {
	payload := map[string]any{
		"data": map[string]any{
			"created_by_id": meta.CreatedByID,
			"custom": map[string]string{
				"problem":    meta.Problem,
				"difficulty": meta.Difficulty,
				"session_id": meta.SessionID,
			},
		},
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/video/call/%s/%s", callType, url.PathEscape(callID)), payload)
}

func (c *Client) DeleteCall(ctx context.Context, callID string) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/video/call/%s/%s?hard=true", callType, url.PathEscape(callID)), nil)
}

func (c *Client) CreateChatChannel(ctx context.Context, callID string, meta ChannelMetadata) error {
	payload := map[string]any{
		"data": map[string]any{
			"name":          meta.Name,
			"created_by_id": meta.CreatedByID,
			"members":       meta.Members,
		},
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/channels/%s/%s", channelType, url.PathEscape(callID)), payload)
}

func (c *Client) DeleteChatChannel(ctx context.Context, callID string) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/channels/%s/%s", channelType, url.PathEscape(callID)), nil)
}

func (c *Client) AddMembers(ctx context.Context, callID string, externalIDs []string) error {
	payload := map[string]any{"add_members": externalIDs}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/channels/%s/%s", channelType, url.PathEscape(callID)), payload)
}

func (c *Client) RemoveMembers(ctx context.Context, callID string, externalIDs []string) error {
	payload := map[string]any{"remove_members": externalIDs}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/channels/%s/%s", channelType, url.PathEscape(callID)), payload)
}

func (c *Client) do(ctx context.Context, method, path string, payload any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	serverToken, err := c.serverToken()
	if err != nil {
		return fmt.Errorf("sign server token: %w", err)
	}

	reqURL := c.baseURL + path
	if u, err := url.Parse(reqURL); err == nil {
		q := u.Query()
		q.Set("api_key", c.apiKey)
		u.RawQuery = q.Encode()
		reqURL = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", serverToken)
	req.Header.Set("Stream-Auth-Type", "jwt")

	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		log.Error().
			Err(err).
			Str("method", method).
			Str("path", path).
			Dur("elapsed", elapsed).
			Msg("provider request error")
		return fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error().
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode).
			Dur("elapsed", elapsed).
			Msg("provider request failed")
		return fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).
		Msg("provider request ok")

	return nil
}
