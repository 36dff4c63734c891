// Package httptransport is the thin HTTP layer. It delegates to the
// orchestrator without embedding business logic so transport concerns remain
// isolated.
package httptransport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kopa/internal/orchestrator"
	dErrors "kopa/pkg/domain-errors"
)

type Handler struct {
	orch   *orchestrator.Orchestrator
	logger *slog.Logger
}

func NewHandler(orch *orchestrator.Orchestrator, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{orch: orch, logger: logger}
}

// NewRouter wires all public endpoints.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/calls/start", h.handleStartCall)
		r.Post("/calls/{sessionID}/end", h.handleEndCall)
		r.Post("/topups", h.handleTopUp)

		r.Get("/offers", h.handleAllOffers)
		r.Get("/offers/{ref}", h.handleGetOffer)
		r.Post("/offers/{ref}/opened", h.handleLinkOpened)
		r.Get("/offers/{ref}/explainability", h.handleExplainability)
		r.Post("/consent/{token}", h.handleConsent)

		r.Get("/subscribers/{msisdn}", h.handleSnapshot)
		r.Get("/loans", h.handleAllLoans)
		r.Get("/ledger", h.handleLedger)
		r.Get("/decisions/{decisionID}", h.handleDecision)
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError centralizes domain error translation to HTTP responses. The
// envelope carries the code and the caller-facing message only; causes stay
// in the logs.
func writeError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	message := "internal error"
	var de *dErrors.Error
	if errors.As(err, &de) && code != dErrors.CodeInternal {
		message = de.Message
	}
	writeJSON(w, dErrors.ToHTTPStatus(code), map[string]string{
		"error":   string(code),
		"message": message,
	})
}
