// Package telnyx is a thin client for the Telnyx call-control and messaging
// REST APIs. Only the handful of actions the voice pipeline needs are
// implemented.
package telnyx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const defaultBaseURL = "https://api.telnyx.com"

// Client calls the Telnyx v2 API.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a Telnyx API client.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// WithBaseURL points the client elsewhere; used by tests.
func (c *Client) WithBaseURL(url string) *Client {
	c.baseURL = url
	return c
}

// Answer accepts an incoming call.
func (c *Client) Answer(ctx context.Context, callControlID string) error {
	path := fmt.Sprintf("/v2/calls/%s/actions/answer", callControlID)
	return c.post(ctx, path, map[string]any{})
}

// StartStreaming asks Telnyx to open a media-stream websocket to streamURL
// for the call.
func (c *Client) StartStreaming(ctx context.Context, callControlID, streamURL string) error {
	path := fmt.Sprintf("/v2/calls/%s/actions/streaming_start", callControlID)
	return c.post(ctx, path, map[string]any{
		"stream_url":   streamURL,
		"stream_track": "both_tracks",
		"command_id":   uuid.NewString(),
	})
}

// Hangup terminates the call.
func (c *Client) Hangup(ctx context.Context, callControlID string) error {
	path := fmt.Sprintf("/v2/calls/%s/actions/hangup", callControlID)
	return c.post(ctx, path, map[string]any{})
}

// SendMessage sends an SMS. Failures are reported to the caller; the voice
// pipeline logs and keeps going.
func (c *Client) SendMessage(ctx context.Context, from, to, text string) error {
	err := c.post(ctx, "/v2/messages", map[string]any{
		"from": from,
		"to":   to,
		"text": text,
	})
	if err != nil {
		return fmt.Errorf("send sms from %s to %s: %w", from, to, err)
	}
	log.Printf("[telnyx] sms sent from=%s to=%s chars=%d", from, to, len(text))
	return nil
}

func (c *Client) post(ctx context.Context, path string, body map[string]any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode telnyx request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build telnyx request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telnyx %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telnyx %s returned %d: %s", path, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}
