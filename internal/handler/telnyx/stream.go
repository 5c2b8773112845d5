package telnyx

import (
	"context"
	"encoding/base64"
	"errors"
	"log"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/steven-haddix/nomnom/internal/audio"
	callservice "github.com/steven-haddix/nomnom/internal/service/call"
)

// endCall drops the in-memory session, tolerating the close race where it is
// already gone.
func (h *Handler) endCall(callID string) {
	if err := h.calls.EndCall(callID); err != nil && !errors.Is(err, callservice.ErrSessionNotFound) {
		log.Printf("[telnyx] end call %s: %v", callID, err)
	}
}

// handleMediaStream carries one call's bidirectional audio. Telnyx connects
// here after StartStreaming; inbound frames feed the transcriber, synthesized
// speech flows back as base64 media frames batched to roughly one per second.
func (h *Handler) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "id")
	if callID == "" {
		http.Error(w, "call id is required", http.StatusBadRequest)
		return
	}

	record, err := h.calls.FetchCall(r.Context(), callID)
	if err != nil {
		if errors.Is(err, callservice.ErrSessionNotFound) {
			http.Error(w, "call not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load call", http.StatusInternalServerError)
		return
	}

	agentCtx, err := h.contexts.CreateContext(r.Context(), callID, record.To, record.From)
	if err != nil {
		log.Printf("[telnyx] context for call %s: %v", callID, err)
		h.endCall(callID)
		http.Error(w, "no business for call", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[telnyx] upgrade failed for call %s: %v", callID, err)
		h.endCall(callID)
		return
	}
	defer conn.Close()

	log.Printf("[telnyx] media stream connected call=%s", callID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Serializes frame writes between concurrent speech deliveries.
	var writeMu sync.Mutex

	sink := func(speech *audio.Stream) {
		batched := audio.Batch(ctx, speech, audio.DefaultFlushInterval)
		for chunk := range batched.Chunks() {
			frame := outboundMedia{
				Event:    eventMedia,
				StreamID: callID,
				Media:    outboundAudio{Payload: base64.StdEncoding.EncodeToString(chunk)},
			}
			writeMu.Lock()
			writeErr := conn.WriteJSON(frame)
			writeMu.Unlock()
			if writeErr != nil {
				log.Printf("[telnyx] write media frame for %s: %v", callID, writeErr)
				batched.Drain()
				return
			}
		}
		if err := batched.Err(); err != nil {
			log.Printf("[telnyx] speech stream for %s: %v", callID, err)
		}
	}

	defer func() {
		h.endCall(callID)
		log.Printf("[telnyx] media stream closed call=%s", callID)
	}()

	// The agent attaches process-wide lifecycle listeners, so it is created
	// only once the socket is up; the deferred end detaches it again.
	if _, err := h.agents.CreateAgent(agentCtx); err != nil {
		log.Printf("[telnyx] agent for call %s: %v", callID, err)
		return
	}

	for {
		var event streamEvent
		if err := conn.ReadJSON(&event); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[telnyx] read frame for %s: %v", callID, err)
			}
			return
		}

		switch event.Event {
		case eventConnected:
			log.Printf("[telnyx] stream handshake complete call=%s", callID)

		case eventStart:
			if err := h.calls.StartCall(ctx, callID, sink); err != nil {
				log.Printf("[telnyx] start call %s: %v", callID, err)
				return
			}

		case eventMedia:
			if event.Media == nil || event.Media.Track != trackInbound {
				continue
			}
			chunk, decodeErr := base64.StdEncoding.DecodeString(event.Media.Payload)
			if decodeErr != nil {
				log.Printf("[telnyx] decode media frame for %s: %v", callID, decodeErr)
				continue
			}
			if err := h.calls.HandleCallAudio(callID, chunk); err != nil {
				log.Printf("[telnyx] forward audio for %s: %v", callID, err)
				return
			}

		case eventStop:
			log.Printf("[telnyx] stream stopped call=%s", callID)
			return

		case eventError:
			if event.Payload != nil {
				log.Printf("[telnyx] stream error call=%s code=%d title=%s", callID, event.Payload.Code, event.Payload.Title)
			} else {
				log.Printf("[telnyx] stream error call=%s", callID)
			}
			return

		default:
			log.Printf("[telnyx] unhandled stream event %q call=%s", event.Event, callID)
		}
	}
}
