package transcribe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeDeepgram accepts live connections and echoes every binary frame back
// as a Results payload.
type fakeDeepgram struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu      sync.Mutex
	dials   int
	queries []string
	auths   []string
}

func (f *fakeDeepgram) handler(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.dials++
	f.queries = append(f.queries, r.URL.RawQuery)
	f.auths = append(f.auths, r.Header.Get("Authorization"))
	f.mu.Unlock()

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.t.Errorf("upgrade: %v", err)
		return
	}
	defer conn.Close()

	for {
		kind, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.BinaryMessage {
			// Control messages like KeepAlive and CloseStream.
			continue
		}
		resp := map[string]any{
			"type": "Results",
			"channel": map[string]any{
				"alternatives": []map[string]any{
					{"transcript": string(raw)},
				},
			},
			"is_final": true,
		}
		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}

func newTestService(t *testing.T) (*Service, *fakeDeepgram) {
	t.Helper()
	fake := &fakeDeepgram{t: t}
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	t.Cleanup(srv.Close)

	svc := NewService(Config{
		APIKey:    "test-key",
		ListenURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
	})
	return svc, fake
}

func TestCreateSessionDeliversTranscripts(t *testing.T) {
	svc, fake := newTestService(t)

	transcripts := make(chan string, 4)
	if err := svc.CreateSession(context.Background(), "call-1", func(text string) {
		transcripts <- text
	}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	defer svc.DeleteSession("call-1")

	if err := svc.SendAudio("call-1", []byte("hello there")); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case text := <-transcripts:
		if text != "hello there" {
			t.Fatalf("transcript = %q", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transcript")
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.auths[0] != "Token test-key" {
		t.Fatalf("authorization header = %q", fake.auths[0])
	}
	for _, want := range []string{"model=nova-2", "encoding=mulaw", "sample_rate=8000", "endpointing=500"} {
		if !strings.Contains(fake.queries[0], want) {
			t.Fatalf("query %q missing %q", fake.queries[0], want)
		}
	}
}

func TestCreateSessionTwiceRejected(t *testing.T) {
	svc, fake := newTestService(t)

	if err := svc.CreateSession(context.Background(), "call-1", func(string) {}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	defer svc.DeleteSession("call-1")

	if err := svc.CreateSession(context.Background(), "call-1", func(string) {}); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("second create err = %v, want ErrSessionExists", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.dials != 1 {
		t.Fatalf("provider dialed %d times, want 1", fake.dials)
	}
}

func TestSendAudioUnknownSession(t *testing.T) {
	svc, _ := newTestService(t)

	if err := svc.SendAudio("nope", []byte("audio")); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestSendAudioEmptyChunkIgnored(t *testing.T) {
	svc, _ := newTestService(t)

	transcripts := make(chan string, 1)
	if err := svc.CreateSession(context.Background(), "call-1", func(text string) {
		transcripts <- text
	}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	defer svc.DeleteSession("call-1")

	if err := svc.SendAudio("call-1", nil); err != nil {
		t.Fatalf("empty chunk: %v", err)
	}

	select {
	case text := <-transcripts:
		t.Fatalf("unexpected transcript %q for empty chunk", text)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDeleteSessionUnknown(t *testing.T) {
	svc, _ := newTestService(t)

	if err := svc.DeleteSession("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestDeleteSessionAllowsRecreate(t *testing.T) {
	svc, _ := newTestService(t)

	if err := svc.CreateSession(context.Background(), "call-1", func(string) {}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := svc.DeleteSession("call-1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if err := svc.CreateSession(context.Background(), "call-1", func(string) {}); err != nil {
		t.Fatalf("recreate after delete: %v", err)
	}
	svc.DeleteSession("call-1")
}
