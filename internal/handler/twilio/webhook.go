// Package twilio terminates Twilio voice webhooks and media-stream
// websockets, translating them onto the call session manager.
package twilio

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	callmodel "github.com/steven-haddix/nomnom/internal/model/call"
	"github.com/steven-haddix/nomnom/internal/service/agent"
	callservice "github.com/steven-haddix/nomnom/internal/service/call"
	"github.com/steven-haddix/nomnom/pkg/utils"
)

// Handler serves the Twilio voice webhook and media websocket.
type Handler struct {
	calls    *callservice.Manager
	contexts *agent.ContextFactory
	agents   *agent.Factory
	client   *twilio.RestClient
	wsURL    string
	upgrader websocket.Upgrader
}

// New builds the handler. wsURL is the externally reachable websocket base
// handed to Twilio when the media stream is created.
func New(calls *callservice.Manager, contexts *agent.ContextFactory, agents *agent.Factory, client *twilio.RestClient, wsURL string) *Handler {
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

// RegisterRoutes mounts the Twilio endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/twilio/voice", h.handleVoiceWebhook)
	r.Get("/twilio/ws/{id}", h.handleMediaStream)
}

// handleVoiceWebhook registers the inbound call and asks Twilio to fork its
// audio to our media websocket.
func (h *Handler) handleVoiceWebhook(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	callSid := query.Get("CallSid")
	to := query.Get("To")
	from := query.Get("From")

	log.Printf("[twilio] voice webhook call=%s from=%s to=%s", callSid, from, to)

	if callSid == "" {
		utils.RespondError(w, http.StatusBadRequest, "missing 'CallSid' query parameter")
		return
	}
	if to == "" {
		utils.RespondError(w, http.StatusBadRequest, "missing 'To' query parameter")
		return
	}
	if from == "" {
		utils.RespondError(w, http.StatusBadRequest, "missing 'From' query parameter")
		return
	}

	if err := h.calls.InitCall(r.Context(), callSid, to, from, callmodel.ProviderTwilio); err != nil {
		log.Printf("[twilio] init call %s: %v", callSid, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to register call")
		return
	}

	params := &openapi.CreateStreamParams{}
	params.SetUrl(h.wsURL + "/twilio/ws/" + callSid)
	if _, err := h.client.Api.CreateStream(callSid, params); err != nil {
		log.Printf("[twilio] create stream for %s: %v", callSid, err)
		// No media stream will ever connect, so the session would
		// otherwise sit in the table until process exit.
		if endErr := h.calls.EndCall(callSid); endErr != nil {
			log.Printf("[twilio] end call %s: %v", callSid, endErr)
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to start media stream")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{})
}
