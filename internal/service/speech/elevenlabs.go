// Package speech wraps ElevenLabs text-to-speech as the synthesis gateway.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/steven-haddix/nomnom/internal/audio"
)

// ErrEmptyAudio is returned when the provider answers with no audio at all.
var ErrEmptyAudio = errors.New("synthesis returned no audio")

const (
	defaultBaseURL      = "https://api.elevenlabs.io"
	defaultVoiceID      = "21m00Tcm4TlvDq8ikWAM" // Rachel
	defaultModel        = "eleven_turbo_v2"
	defaultOutputFormat = "ulaw_8000" // telephony framing, matches the media streams
	readChunkSize       = 4096
)

// Config holds ElevenLabs settings.
type Config struct {
	APIKey       string
	VoiceID      string
	Model        string
	OutputFormat string
	BaseURL      string // override for tests
}

// Service synthesizes speech. Each synthesis call is an independent provider
// round trip; the returned stream is lazy, finite and not restartable.
type Service struct {
	cfg    Config
	client *http.Client
}

// NewService creates the synthesis gateway.
func NewService(cfg Config) *Service {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = defaultVoiceID
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = defaultOutputFormat
	}
	return &Service{
		cfg:    cfg,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

// SynthesizeSpeech converts text into an audio stream. A provider failure
// closes the stream with the error; callers own the fallback messaging.
func (s *Service) SynthesizeSpeech(ctx context.Context, text string) *audio.Stream {
	out := audio.NewStream(8)
	go func() {
		if err := s.roundTrip(ctx, text, out); err != nil {
			out.CloseWithError(err)
			return
		}
		out.Close()
	}()
	return out
}

// SynthesizeSpeechStream consumes text chunks and produces one continuous
// audio stream, one round trip per chunk, output in input order. The first
// failure fails the whole sequence.
func (s *Service) SynthesizeSpeechStream(ctx context.Context, texts <-chan string) *audio.Stream {
	out := audio.NewStream(8)
	go func() {
		for text := range texts {
			if text == "" {
				continue
			}
			if err := s.roundTrip(ctx, text, out); err != nil {
				out.CloseWithError(err)
				// Keep draining so the text producer can finish.
				for range texts {
				}
				return
			}
		}
		out.Close()
	}()
	return out
}

type synthesisRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// roundTrip performs one streaming synthesis call and pushes the audio onto
// out as it arrives.
func (s *Service) roundTrip(ctx context.Context, text string, out *audio.Stream) error {
	payload, err := json.Marshal(synthesisRequest{
		Text:    text,
		ModelID: s.cfg.Model,
		VoiceSettings: voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
	})
	if err != nil {
		return fmt.Errorf("encode synthesis request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s/stream?output_format=%s",
		s.cfg.BaseURL, s.cfg.VoiceID, s.cfg.OutputFormat)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("synthesis failed with status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var total int
	buf := make([]byte, readChunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			total += n
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if err := out.Push(ctx, chunk); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("read synthesis audio: %w", readErr)
		}
	}

	if total == 0 {
		return ErrEmptyAudio
	}
	log.Printf("[speech] synthesized %d bytes for %d chars", total, len(text))
	return nil
}
