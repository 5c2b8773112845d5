// Package telnyx terminates Telnyx webhooks and media-stream websockets,
// translating them onto the call session manager.
package telnyx

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	callmodel "github.com/steven-haddix/nomnom/internal/model/call"
	"github.com/steven-haddix/nomnom/internal/service/agent"
	callservice "github.com/steven-haddix/nomnom/internal/service/call"
	telnyxservice "github.com/steven-haddix/nomnom/internal/service/telnyx"
	"github.com/steven-haddix/nomnom/pkg/utils"
)

// Handler serves the Telnyx voice webhook, SMS webhook, and media websocket.
type Handler struct {
	calls    *callservice.Manager
	contexts *agent.ContextFactory
	agents   *agent.Factory
	client   *telnyxservice.Client
	wsURL    string
	upgrader websocket.Upgrader
}

// New builds the handler. wsURL is the externally reachable websocket base
// handed to Telnyx when streaming starts.
func New(calls *callservice.Manager, contexts *agent.ContextFactory, agents *agent.Factory, client *telnyxservice.Client, wsURL string) *Handler {
	return &Handler{
		calls:    calls,
		contexts: contexts,
		agents:   agents,
		client:   client,
		wsURL:    wsURL,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the Telnyx endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/telnyx/voice", h.handleVoiceWebhook)
	r.Post("/telnyx/sms", h.handleSMSWebhook)
	r.Get("/telnyx/ws/{id}", h.handleMediaStream)
}

// handleVoiceWebhook drives the call control flow: answer on initiation,
// register the session and start media streaming once answered. Telnyx
// retries non-2xx responses, so processing errors are logged and swallowed.
func (h *Handler) handleVoiceWebhook(w http.ResponseWriter, r *http.Request) {
	var envelope webhookEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	data := envelope.Data
	ctx := r.Context()

	switch data.EventType {
	case "call.initiated":
		log.Printf("[telnyx] call initiated from=%s to=%s", data.Payload.From, data.Payload.To)
		if err := h.client.Answer(ctx, data.Payload.CallControlID); err != nil {
			log.Printf("[telnyx] answer call %s: %v", data.Payload.CallControlID, err)
		}

	case "call.answered":
		callID := data.Payload.CallControlID
		log.Printf("[telnyx] call answered id=%s", callID)

		if err := h.calls.InitCall(ctx, callID, data.Payload.To, data.Payload.From, callmodel.ProviderTelnyx); err != nil {
			log.Printf("[telnyx] init call %s: %v", callID, err)
			break
		}

		streamURL := h.wsURL + "/telnyx/ws/" + callID
		if err := h.client.StartStreaming(ctx, callID, streamURL); err != nil {
			log.Printf("[telnyx] start streaming for %s: %v", callID, err)
			// No media stream will ever connect, so the session would
			// otherwise sit in the table until process exit.
			if endErr := h.calls.EndCall(callID); endErr != nil {
				log.Printf("[telnyx] end call %s: %v", callID, endErr)
			}
		}

	default:
		log.Printf("[telnyx] unhandled voice webhook event_type=%s", data.EventType)
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{})
}

// handleSMSWebhook answers inbound texts through an agent and logs delivery
// receipts for outbound ones.
func (h *Handler) handleSMSWebhook(w http.ResponseWriter, r *http.Request) {
	var envelope smsEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	data := envelope.Data
	ctx := r.Context()

	switch data.EventType {
	case "message.received":
		if len(data.Payload.To) == 0 {
			utils.RespondError(w, http.StatusBadRequest, "message has no recipient")
			return
		}
		to := data.Payload.To[0].PhoneNumber
		from := data.Payload.From.PhoneNumber

		agentCtx, err := h.contexts.CreateContext(ctx, "", to, from)
		if err != nil {
			log.Printf("[telnyx] sms context for %s: %v", to, err)
			break
		}
		smsAgent, err := h.agents.CreateAgent(agentCtx)
		if err != nil {
			log.Printf("[telnyx] sms agent for %s: %v", to, err)
			break
		}
		if err := smsAgent.HandleSMSMessage(ctx, data.Payload.Text); err != nil {
			log.Printf("[telnyx] handle sms from %s: %v", from, err)
			break
		}
		log.Printf("[telnyx] sms handled from=%s to=%s", from, to)

	case "message.finalized":
		if len(data.Payload.To) == 0 {
			break
		}
		switch status := data.Payload.To[0].Status; status {
		case "delivered":
			log.Printf("[telnyx] message delivered to=%s", data.Payload.To[0].PhoneNumber)
		case "sending_failed", "delivery_failed":
			log.Printf("[telnyx] message delivery failed to=%s status=%s", data.Payload.To[0].PhoneNumber, status)
		default:
			log.Printf("[telnyx] unhandled message status %q", status)
		}

	default:
		log.Printf("[telnyx] unhandled sms webhook event_type=%s", data.EventType)
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{})
}
