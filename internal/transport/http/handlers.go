package httptransport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"kopa/internal/domain"
	"kopa/internal/orchestrator"
	id "kopa/pkg/domain"
	dErrors "kopa/pkg/domain-errors"
)

type startCallRequest struct {
	MSISDN string `json:"msisdn"`
}

func (h *Handler) handleStartCall(w http.ResponseWriter, r *http.Request) {
	var req startCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	msisdn, err := id.ParseMSISDN(req.MSISDN)
	if err != nil {
		writeError(w, err)
		return
	}
	session, err := h.orch.StartCall(r.Context(), msisdn)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": session.ID,
		"started_at": session.StartedAt,
	})
}

func (h *Handler) handleEndCall(w http.ResponseWriter, r *http.Request) {
	sessionID := id.SessionID(chi.URLParam(r, "sessionID"))
	session, err := h.orch.EndCall(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": session.ID,
		"ended_at":   session.EndedAt,
	})
}

type topUpRequest struct {
	MSISDN  string  `json:"msisdn"`
	Amount  float64 `json:"amount"`
	Channel string  `json:"channel"`
}

func (h *Handler) handleTopUp(w http.ResponseWriter, r *http.Request) {
	var req topUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	msisdn, err := id.ParseMSISDN(req.MSISDN)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Channel == "" {
		req.Channel = "ussd"
	}
	topup, err := h.orch.SimulateTopUp(r.Context(), msisdn, req.Amount, req.Channel)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, topup)
}

func (h *Handler) handleGetOffer(w http.ResponseWriter, r *http.Request) {
	offer, err := h.orch.GetOfferByToken(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, offerView(offer))
}

func (h *Handler) handleLinkOpened(w http.ResponseWriter, r *http.Request) {
	offer, err := h.orch.MarkLinkOpened(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, offerView(offer))
}

type consentRequest struct {
	Action string `json:"action"`
}

func (h *Handler) handleConsent(w http.ResponseWriter, r *http.Request) {
	var req consentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	outcome, err := h.orch.HandleConsent(r.Context(), chi.URLParam(r, "token"), orchestrator.ConsentAction(req.Action))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (h *Handler) handleExplainability(w http.ResponseWriter, r *http.Request) {
	explain, err := h.orch.OfferExplainability(r.Context(), id.OfferID(chi.URLParam(r, "ref")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, explain)
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	msisdn, err := id.ParseMSISDN(chi.URLParam(r, "msisdn"))
	if err != nil {
		writeError(w, err)
		return
	}
	snapshot, err := h.orch.SubscriberSnapshot(r.Context(), msisdn)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleAllOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := h.orch.AllOffers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(offers))
	for _, o := range offers {
		views = append(views, offerView(o))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleAllLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := h.orch.AllLoans(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

func (h *Handler) handleLedger(w http.ResponseWriter, r *http.Request) {
	filter := orchestrator.LedgerFilter{
		EntityID: r.URL.Query().Get("entity_id"),
		Type:     domain.LedgerEventType(r.URL.Query().Get("type")),
		MSISDN:   id.MSISDN(r.URL.Query().Get("msisdn")),
	}
	events, err := h.orch.Ledger(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleDecision(w http.ResponseWriter, r *http.Request) {
	decision, err := h.orch.ModelDecision(r.Context(), id.DecisionID(chi.URLParam(r, "decisionID")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// offerView shapes an offer for the wire. The consent token doubles as the
// public handle, so internal fields stay out.
func offerView(o domain.Offer) map[string]any {
	return map[string]any{
		"id":            o.ID,
		"msisdn":        o.MSISDN,
		"amount":        o.Amount,
		"status":        o.Status,
		"created_at":    o.CreatedAt,
		"expires_at":    o.ExpiresAt,
		"consent_token": o.ConsentToken,
		"reasons":       o.Reasons,
		"benefit": map[string]float64{
			"voice_minutes": o.Benefit.VoiceMinutes,
			"data_days":     o.Benefit.DataDays,
		},
	}
}
