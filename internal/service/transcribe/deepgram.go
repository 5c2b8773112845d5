// Package transcribe wraps Deepgram's live speech-to-text websocket API as
// the per-call transcription gateway.
package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrSessionNotFound is returned for operations on an id with no live
	// connection.
	ErrSessionNotFound = errors.New("transcription session not found")
	// ErrSessionExists is returned when a session is created twice without
	// an intervening delete.
	ErrSessionExists = errors.New("transcription session already exists")
)

const (
	defaultListenURL  = "wss://api.deepgram.com/v1/listen"
	keepaliveInterval = 8 * time.Second
)

// Config holds Deepgram connection settings. Telephony defaults match the
// media-stream codecs Telnyx and Twilio deliver.
type Config struct {
	APIKey     string
	ListenURL  string // override for tests
	Model      string // e.g. "nova-2"
	Encoding   string // e.g. "mulaw"
	SampleRate int
}

// Service manages one live Deepgram connection per call.
type Service struct {
	cfg    Config
	dialer *websocket.Dialer

	mu       sync.Mutex
	sessions map[string]*liveSession
}

type liveSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	cancel  context.CancelFunc
}

// NewService creates the transcription gateway.
func NewService(cfg Config) *Service {
	if cfg.ListenURL == "" {
		cfg.ListenURL = defaultListenURL
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "mulaw"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 8000
	}
	return &Service{
		cfg:      cfg,
		dialer:   &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
		sessions: make(map[string]*liveSession),
	}
}

func (s *Service) listenURL() string {
	params := url.Values{}
	params.Set("model", s.cfg.Model)
	params.Set("encoding", s.cfg.Encoding)
	params.Set("sample_rate", fmt.Sprintf("%d", s.cfg.SampleRate))
	params.Set("channels", "1")
	params.Set("smart_format", "true")
	params.Set("filler_words", "true")
	params.Set("endpointing", "500")
	return s.cfg.ListenURL + "?" + params.Encode()
}

// CreateSession opens a live streaming connection for the call and delivers
// every non-empty transcript to onTranscript, in arrival order.
func (s *Service) CreateSession(ctx context.Context, sessionID string, onTranscript func(transcript string)) error {
	s.mu.Lock()
	if _, exists := s.sessions[sessionID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("session %s: %w", sessionID, ErrSessionExists)
	}
	// Reserve the slot before dialing so a concurrent create for the same
	// id fails fast instead of opening a second connection.
	s.sessions[sessionID] = nil
	s.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", "Token "+s.cfg.APIKey)

	conn, resp, err := s.dialer.DialContext(ctx, s.listenURL(), header)
	if err != nil {
		s.mu.Lock()
		delete(s.sessions, sessionID)
		s.mu.Unlock()
		if resp != nil {
			return fmt.Errorf("dial deepgram (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial deepgram: %w", err)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &liveSession{conn: conn, cancel: cancel}

	s.mu.Lock()
	s.sessions[sessionID] = sess
	total := len(s.sessions)
	s.mu.Unlock()

	go s.receiveLoop(sessCtx, sessionID, sess, onTranscript)
	go s.keepaliveLoop(sessCtx, sess)

	log.Printf("[transcribe] live session opened id=%s total=%d", sessionID, total)
	return nil
}

// SendAudio forwards raw audio to the live connection. Zero-length input is
// ignored; it shows up routinely between utterances and is not an error.
func (s *Service) SendAudio(sessionID string, audio []byte) error {
	if len(audio) == 0 {
		return nil
	}

	s.mu.Lock()
	sess := s.sessions[sessionID]
	s.mu.Unlock()
	if sess == nil {
		return fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}

	sess.writeMu.Lock()
	err := sess.conn.WriteMessage(websocket.BinaryMessage, audio)
	sess.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("send audio for session %s: %w", sessionID, err)
	}
	return nil
}

// DeleteSession closes the live connection and releases its resources.
func (s *Service) DeleteSession(sessionID string) error {
	s.mu.Lock()
	sess := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if sess == nil {
		return fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}

	sess.writeMu.Lock()
	// Ask Deepgram to finish the stream cleanly before tearing down.
	if err := sess.conn.WriteJSON(map[string]string{"type": "CloseStream"}); err != nil {
		log.Printf("[transcribe] close stream for session %s: %v", sessionID, err)
	}
	sess.writeMu.Unlock()

	sess.cancel()
	sess.conn.Close()
	log.Printf("[transcribe] live session closed id=%s", sessionID)
	return nil
}

// transcriptMessage is the slice of Deepgram's result payload we care about.
type transcriptMessage struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal bool `json:"is_final"`
}

func (s *Service) receiveLoop(ctx context.Context, sessionID string, sess *liveSession, onTranscript func(string)) {
	defer s.forget(sessionID, sess)

	for {
		_, raw, err := sess.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || isNormalClose(err) {
				return
			}
			log.Printf("[transcribe] read error for session %s: %v", sessionID, err)
			return
		}

		var msg transcriptMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("[transcribe] bad payload for session %s: %v", sessionID, err)
			continue
		}

		if msg.Type != "" && msg.Type != "Results" {
			continue
		}
		if len(msg.Channel.Alternatives) == 0 {
			continue
		}
		transcript := msg.Channel.Alternatives[0].Transcript
		// Non-speech audio produces empty transcripts; callers never see
		// those.
		if transcript == "" {
			continue
		}

		log.Printf("[transcribe] transcript session=%s text=%q", sessionID, transcript)
		onTranscript(transcript)
	}
}

func (s *Service) keepaliveLoop(ctx context.Context, sess *liveSession) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sess.writeMu.Lock()
			err := sess.conn.WriteJSON(map[string]string{"type": "KeepAlive"})
			sess.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// forget drops the bookkeeping entry when the provider closes the connection
// from its side. DeleteSession already removed it in the normal path.
func (s *Service) forget(sessionID string, sess *liveSession) {
	s.mu.Lock()
	if current, ok := s.sessions[sessionID]; ok && current == sess {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	sess.cancel()
	sess.conn.Close()
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		strings.Contains(err.Error(), "use of closed network connection")
}
