// Package audio carries synthesized audio between the speech gateway, the
// session manager and the telephony transports as lazy chunk streams.
package audio

import (
	"context"
	"sync"
)

// Stream is a finite, ordered sequence of audio chunks produced lazily by one
// goroutine and drained by one consumer. The producer closes the stream when
// the sequence ends; a stream that failed mid-flight is closed with the error,
// which the consumer reads via Err after the channel is drained.
type Stream struct {
	ch chan []byte

	mu     sync.Mutex
	err    error
	closed bool
}

// NewStream creates a stream with the given channel capacity.
func NewStream(buffer int) *Stream {
	return &Stream{ch: make(chan []byte, buffer)}
}

// Chunks exposes the receive side. It is closed when the producer is done.
func (s *Stream) Chunks() <-chan []byte {
	return s.ch
}

// Push delivers one chunk to the consumer, blocking until it is accepted or
// the context is cancelled. Must not be called after Close.
func (s *Stream) Push(ctx context.Context, chunk []byte) error {
	select {
	case s.ch <- chunk:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the stream normally.
func (s *Stream) Close() {
	s.CloseWithError(nil)
}

// CloseWithError ends the stream and records the failure that cut it short.
// Subsequent calls are no-ops.
func (s *Stream) CloseWithError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.ch)
}

// Err reports why the stream terminated. It is nil for a normal end and only
// meaningful once Chunks has been drained.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Drain discards the remainder of the stream. Used when audio has nowhere to
// go but the producer still needs to run to completion.
func (s *Stream) Drain() {
	for range s.ch {
	}
}
