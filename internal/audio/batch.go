package audio

import (
	"context"
	"time"
)

// DefaultFlushInterval is the cadence Telnyx media streams are comfortable
// with; finer-grained writes trip the provider's framing expectations.
const DefaultFlushInterval = time.Second

// Batch coalesces a stream of small chunks into coarser frames. Everything
// received since the previous flush is concatenated, in arrival order, and
// emitted once per interval; whatever remains when the input ends is flushed
// as a final partial frame. The input's terminal error is carried through.
//
// Transports that tolerate fine-grained writes should consume the source
// stream directly instead of batching.
func Batch(ctx context.Context, in *Stream, interval time.Duration) *Stream {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	out := NewStream(1)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var pending [][]byte
		var pendingLen int

		flush := func() error {
			if pendingLen == 0 {
				return nil
			}
			frame := make([]byte, 0, pendingLen)
			for _, chunk := range pending {
				frame = append(frame, chunk...)
			}
			pending = pending[:0]
			pendingLen = 0
			return out.Push(ctx, frame)
		}

		for {
			select {
			case chunk, ok := <-in.Chunks():
				if !ok {
					if err := flush(); err != nil {
						out.CloseWithError(err)
						return
					}
					out.CloseWithError(in.Err())
					return
				}
				pending = append(pending, chunk)
				pendingLen += len(chunk)
			case <-ticker.C:
				if err := flush(); err != nil {
					out.CloseWithError(err)
					return
				}
			case <-ctx.Done():
				out.CloseWithError(ctx.Err())
				return
			}
		}
	}()

	return out
}
