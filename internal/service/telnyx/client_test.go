package telnyx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordedRequest struct {
	path string
	auth string
	body map[string]any
}

func newTestClient(t *testing.T, status int) (*Client, *[]recordedRequest) {
	t.Helper()
	requests := &[]recordedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		*requests = append(*requests, recordedRequest{
			path: r.URL.Path,
			auth: r.Header.Get("Authorization"),
			body: body,
		})
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return NewClient("test-key").WithBaseURL(srv.URL), requests
}

func TestAnswer(t *testing.T) {
	client, requests := newTestClient(t, http.StatusOK)

	if err := client.Answer(context.Background(), "cc-123"); err != nil {
		t.Fatalf("Answer: %v", err)
	}

	req := (*requests)[0]
	if req.path != "/v2/calls/cc-123/actions/answer" {
		t.Fatalf("path = %q", req.path)
	}
	if req.auth != "Bearer test-key" {
		t.Fatalf("authorization = %q", req.auth)
	}
}

func TestStartStreaming(t *testing.T) {
	client, requests := newTestClient(t, http.StatusOK)

	if err := client.StartStreaming(context.Background(), "cc-123", "wss://example.com/telnyx/ws/cc-123"); err != nil {
		t.Fatalf("StartStreaming: %v", err)
	}

	req := (*requests)[0]
	if req.path != "/v2/calls/cc-123/actions/streaming_start" {
		t.Fatalf("path = %q", req.path)
	}
	if req.body["stream_url"] != "wss://example.com/telnyx/ws/cc-123" {
		t.Fatalf("stream_url = %v", req.body["stream_url"])
	}
	if req.body["stream_track"] != "both_tracks" {
		t.Fatalf("stream_track = %v", req.body["stream_track"])
	}
	if req.body["command_id"] == "" {
		t.Fatal("command_id missing")
	}
}

func TestSendMessage(t *testing.T) {
	client, requests := newTestClient(t, http.StatusOK)

	if err := client.SendMessage(context.Background(), "+15550001111", "+15552223333", "see you soon"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	req := (*requests)[0]
	if req.path != "/v2/messages" {
		t.Fatalf("path = %q", req.path)
	}
	if req.body["from"] != "+15550001111" || req.body["to"] != "+15552223333" || req.body["text"] != "see you soon" {
		t.Fatalf("body = %v", req.body)
	}
}

func TestErrorStatusSurfaced(t *testing.T) {
	client, _ := newTestClient(t, http.StatusUnprocessableEntity)

	err := client.Hangup(context.Background(), "cc-123")
	if err == nil {
		t.Fatal("expected error for non-2xx response")
	}
	if !strings.Contains(err.Error(), "422") {
		t.Fatalf("err = %v", err)
	}
}
