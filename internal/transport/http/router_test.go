package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kopa/internal/domain"
	"kopa/internal/eligibility"
	"kopa/internal/features"
	"kopa/internal/journey"
	"kopa/internal/ledger"
	"kopa/internal/offer"
	"kopa/internal/orchestrator"
	"kopa/internal/platform/lock"
	"kopa/internal/scheduler"
	"kopa/internal/scoring"
	"kopa/internal/settlement"
	"kopa/internal/signals"
	"kopa/internal/storage"
	"kopa/internal/stream"
	"kopa/internal/trigger"
)

func newTestServer(t *testing.T) (*httptest.Server, orchestrator.Stores) {
	t.Helper()
	logger := slog.Default()
	stores := orchestrator.Stores{
		Profiles:  storage.NewInMemoryProfileStore(),
		Balances:  storage.NewInMemoryBalanceStore(),
		Sessions:  storage.NewInMemorySessionStore(),
		TopUps:    storage.NewInMemoryTopUpStore(),
		Offers:    storage.NewInMemoryOfferStore(),
		Loans:     storage.NewInMemoryLoanStore(),
		Decisions: storage.NewInMemoryDecisionStore(),
	}
	recorder := ledger.NewRecorder(ledger.NewInMemoryStore())
	sched := scheduler.New()
	bus := stream.NewBus(logger)
	locks := lock.NewKeyed()

	source, err := signals.New(stores.Profiles, stores.Sessions, stores.Balances, stores.TopUps, locks, bus, sched, recorder, logger)
	require.NoError(t, err)
	gate, err := trigger.New(stores.Sessions, stores.Offers, stores.Loans, recorder, logger)
	require.NoError(t, err)
	aggregator, err := features.New(stores.Profiles, stores.TopUps, stores.Loans, stores.Offers)
	require.NoError(t, err)
	model, err := scoring.New(stores.Decisions)
	require.NoError(t, err)
	eligGate, err := eligibility.New(stores.Profiles, stores.Loans, aggregator, model, logger)
	require.NoError(t, err)
	offerSvc, err := offer.New(stores.Offers, recorder, logger)
	require.NoError(t, err)
	engine, err := settlement.New(stores.Loans, stores.Balances, offerSvc, locks, recorder, logger)
	require.NoError(t, err)
	projection, err := journey.New(storage.NewInMemoryJourneyStore(), logger)
	require.NoError(t, err)
	bus.Subscribe(projection)

	orch, err := orchestrator.New(orchestrator.Deps{
		Bus:        bus,
		Scheduler:  sched,
		Source:     source,
		Trigger:    gate,
		Gate:       eligGate,
		Offers:     offerSvc,
		Settlement: engine,
		Recorder:   recorder,
		Journey:    projection,
		Stores:     stores,
		Logger:     logger,
	})
	require.NoError(t, err)

	server := httptest.NewServer(NewRouter(NewHandler(orch, logger)))
	t.Cleanup(server.Close)
	t.Cleanup(sched.CancelAll)
	return server, stores
}

func TestRouterStatusMapping(t *testing.T) {
	server, stores := newTestServer(t)

	require.NoError(t, stores.Profiles.Save(context.Background(), domain.UserProfile{
		MSISDN:            "254700000001",
		ActivatedAt:       time.Now().Add(-240 * 24 * time.Hour),
		AvgTopUpAmount:    20,
		TopUpFrequency30d: 4,
		NetworkType:       "4g",
		DeviceTier:        "smartphone",
	}))

	t.Run("healthz", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("malformed body is a 400", func(t *testing.T) {
		resp, err := http.Post(server.URL+"/api/calls/start", "application/json", strings.NewReader("{"))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown subscriber is a 404", func(t *testing.T) {
		resp, err := http.Post(server.URL+"/api/calls/start", "application/json",
			strings.NewReader(`{"msisdn":"254799999999"}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusNotFound, resp.StatusCode)

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Equal(t, "not_found", body["error"])
	})

	t.Run("start call and double start conflict", func(t *testing.T) {
		resp, err := http.Post(server.URL+"/api/calls/start", "application/json",
			strings.NewReader(`{"msisdn":"254700000001"}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		sessionID, _ := body["session_id"].(string)
		require.NotEmpty(t, sessionID)

		dup, err := http.Post(server.URL+"/api/calls/start", "application/json",
			strings.NewReader(`{"msisdn":"254700000001"}`))
		require.NoError(t, err)
		defer dup.Body.Close()
		require.Equal(t, http.StatusConflict, dup.StatusCode)

		end, err := http.Post(server.URL+"/api/calls/"+sessionID+"/end", "application/json", nil)
		require.NoError(t, err)
		defer end.Body.Close()
		require.Equal(t, http.StatusOK, end.StatusCode)

		// Ending again is an illegal transition.
		again, err := http.Post(server.URL+"/api/calls/"+sessionID+"/end", "application/json", nil)
		require.NoError(t, err)
		defer again.Body.Close()
		require.Equal(t, http.StatusUnprocessableEntity, again.StatusCode)
	})

	t.Run("topup validation", func(t *testing.T) {
		resp, err := http.Post(server.URL+"/api/topups", "application/json",
			strings.NewReader(`{"msisdn":"254700000001","amount":-1}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("consent with unknown action is a 400", func(t *testing.T) {
		resp, err := http.Post(server.URL+"/api/consent/some-token", "application/json",
			strings.NewReader(`{"action":"maybe"}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("consent on unknown token is generic but successful HTTP", func(t *testing.T) {
		resp, err := http.Post(server.URL+"/api/consent/no-such-token", "application/json",
			strings.NewReader(`{"action":"accept"}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var outcome map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&outcome))
		require.Equal(t, false, outcome["success"])
		require.NotEmpty(t, outcome["message"])
	})

	t.Run("ledger with bogus type is a 400", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/api/ledger?type=bogus")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("snapshot round trip", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/api/subscribers/254700000001")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var snapshot map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&snapshot))
		require.Contains(t, snapshot, "profile")
		require.Contains(t, snapshot, "timeline")
	})
}
