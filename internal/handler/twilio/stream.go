package twilio

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
		log.Printf("[twilio] end call %s: %v", callID, err)
	}
}

// handleMediaStream carries one call's bidirectional audio. Twilio paces
// playback itself, so synthesized chunks are forwarded as they arrive with a
// mark frame after each utterance rather than being batched.
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
		log.Printf("[twilio] context for call %s: %v", callID, err)
		h.endCall(callID)
		http.Error(w, "no business for call", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[twilio] upgrade failed for call %s: %v", callID, err)
		h.endCall(callID)
		return
	}
	defer conn.Close()

	log.Printf("[twilio] media stream connected call=%s", callID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var writeMu sync.Mutex

	writeFrame := func(frame any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(frame)
	}

	// Outbound frames must carry Twilio's stream sid, which only the start
	// event reveals; the session itself stays keyed by call sid.
	makeSink := func(streamSid string) callservice.Sink {
		return func(speech *audio.Stream) {
			for chunk := range speech.Chunks() {
				frame := outboundMedia{
					Event:     eventMedia,
					StreamSid: streamSid,
					Media:     outboundAudio{Payload: base64.StdEncoding.EncodeToString(chunk)},
				}
				if err := writeFrame(frame); err != nil {
					log.Printf("[twilio] write media frame for %s: %v", callID, err)
					speech.Drain()
					return
				}
			}
			if err := speech.Err(); err != nil {
				log.Printf("[twilio] speech stream for %s: %v", callID, err)
				return
			}
			mark := outboundMark{
				Event:     eventMark,
				StreamSid: streamSid,
				Mark:      markName{Name: "utterance complete"},
			}
			if err := writeFrame(mark); err != nil {
				log.Printf("[twilio] write mark frame for %s: %v", callID, err)
			}
		}
	}

	defer func() {
		h.endCall(callID)
		log.Printf("[twilio] media stream closed call=%s", callID)
	}()

	// The agent attaches process-wide lifecycle listeners, so it is created
	// only once the socket is up; the deferred end detaches it again.
	if _, err := h.agents.CreateAgent(agentCtx); err != nil {
		log.Printf("[twilio] agent for call %s: %v", callID, err)
		return
	}

	for {
		var event streamEvent
		if err := conn.ReadJSON(&event); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[twilio] read frame for %s: %v", callID, err)
			}
			return
		}

		switch event.Event {
		case eventConnected:
			log.Printf("[twilio] stream handshake complete call=%s", callID)

		case eventStart:
			streamSid := event.StreamSid
			if streamSid == "" && event.Start != nil {
				streamSid = event.Start.StreamSid
			}
			if err := h.calls.StartCall(ctx, callID, makeSink(streamSid)); err != nil {
				log.Printf("[twilio] start call %s: %v", callID, err)
				return
			}

		case eventMedia:
			if event.Media == nil || event.Media.Track != trackInbound {
				continue
			}
			chunk, decodeErr := base64.StdEncoding.DecodeString(event.Media.Payload)
			if decodeErr != nil {
				log.Printf("[twilio] decode media frame for %s: %v", callID, decodeErr)
				continue
			}
			if err := h.calls.HandleCallAudio(callID, chunk); err != nil {
				log.Printf("[twilio] forward audio for %s: %v", callID, err)
				return
			}

		case eventStop:
			log.Printf("[twilio] stream stopped call=%s", callID)
			return

		default:
			log.Printf("[twilio] unhandled stream event %q call=%s", event.Event, callID)
		}
	}
}
