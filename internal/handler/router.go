package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	twilioclient "github.com/twilio/twilio-go"

	telnyxhandler "github.com/steven-haddix/nomnom/internal/handler/telnyx"
	twiliohandler "github.com/steven-haddix/nomnom/internal/handler/twilio"
	"github.com/steven-haddix/nomnom/internal/service/agent"
	callservice "github.com/steven-haddix/nomnom/internal/service/call"
	telnyxservice "github.com/steven-haddix/nomnom/internal/service/telnyx"
	"github.com/steven-haddix/nomnom/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(
	calls *callservice.Manager,
	contexts *agent.ContextFactory,
	agents *agent.Factory,
	telnyxClient *telnyxservice.Client,
	twilioClient *twilioclient.RestClient,
	wsURL string,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	telnyxHandler := telnyxhandler.New(calls, contexts, agents, telnyxClient, wsURL)
	telnyxHandler.RegisterRoutes(r)

	twilioHandler := twiliohandler.New(calls, contexts, agents, twilioClient, wsURL)
	twilioHandler.RegisterRoutes(r)

	return r
}
