package audio_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/steven-haddix/nomnom/internal/audio"
)

func collect(t *testing.T, s *audio.Stream) [][]byte {
	t.Helper()
	var frames [][]byte
	deadline := time.After(5 * time.Second)
	for {
		select {
		case frame, ok := <-s.Chunks():
			if !ok {
				return frames
			}
			frames = append(frames, frame)
		case <-deadline:
			t.Fatal("timed out draining stream")
		}
	}
}

func TestBatchCoalescesByInterval(t *testing.T) {
	in := audio.NewStream(8)
	out := audio.Batch(context.Background(), in, 100*time.Millisecond)

	// Chunks at ~0ms, ~30ms, ~60ms land before the first tick; the one at
	// ~120ms only leaves with the final flush when the input closes.
	go func() {
		schedule := []struct {
			at    time.Duration
			chunk []byte
		}{
			{0, []byte("aa")},
			{30 * time.Millisecond, []byte("bb")},
			{60 * time.Millisecond, []byte("cc")},
			{120 * time.Millisecond, []byte("dd")},
		}
		start := time.Now()
		for _, s := range schedule {
			time.Sleep(time.Until(start.Add(s.at)))
			in.Push(context.Background(), s.chunk)
		}
		time.Sleep(10 * time.Millisecond)
		in.Close()
	}()

	frames := collect(t, out)
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d: %q", len(frames), frames)
	}
	if !bytes.Equal(frames[0], []byte("aabbcc")) {
		t.Fatalf("first frame out of order: %q", frames[0])
	}
	if !bytes.Equal(frames[1], []byte("dd")) {
		t.Fatalf("final flush mismatch: %q", frames[1])
	}
	if out.Err() != nil {
		t.Fatalf("unexpected stream error: %v", out.Err())
	}
}

func TestBatchFlushesRemainderOnClose(t *testing.T) {
	in := audio.NewStream(4)
	out := audio.Batch(context.Background(), in, time.Hour)

	in.Push(context.Background(), []byte("one"))
	in.Push(context.Background(), []byte("two"))
	in.Close()

	frames := collect(t, out)
	if len(frames) != 1 {
		t.Fatalf("expected single final frame, got %d", len(frames))
	}
	if !bytes.Equal(frames[0], []byte("onetwo")) {
		t.Fatalf("unexpected frame: %q", frames[0])
	}
}

func TestBatchEmptyInputEmitsNothing(t *testing.T) {
	in := audio.NewStream(1)
	out := audio.Batch(context.Background(), in, 10*time.Millisecond)
	in.Close()

	if frames := collect(t, out); len(frames) != 0 {
		t.Fatalf("expected no frames, got %d", len(frames))
	}
}

func TestBatchPropagatesSourceError(t *testing.T) {
	in := audio.NewStream(1)
	out := audio.Batch(context.Background(), in, time.Hour)

	wantErr := errors.New("synthesis failed")
	in.Push(context.Background(), []byte("partial"))
	in.CloseWithError(wantErr)

	frames := collect(t, out)
	if len(frames) != 1 || !bytes.Equal(frames[0], []byte("partial")) {
		t.Fatalf("expected partial flush before error, got %q", frames)
	}
	if !errors.Is(out.Err(), wantErr) {
		t.Fatalf("expected source error, got %v", out.Err())
	}
}

func TestBatchStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	in := audio.NewStream(1)
	out := audio.Batch(ctx, in, time.Hour)

	cancel()
	collect(t, out)
	if !errors.Is(out.Err(), context.Canceled) {
		t.Fatalf("expected context error, got %v", out.Err())
	}
}
