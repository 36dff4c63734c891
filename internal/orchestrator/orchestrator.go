// Package orchestrator wires the pipeline together: it subscribes to the
// broadcast stream, reacts to usage signals with the trigger and eligibility
// gates, drives the offer and settlement flows, and exposes the command and
// query surface the transport layer calls.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"kopa/internal/domain"
	"kopa/internal/eligibility"
	"kopa/internal/journey"
	"kopa/internal/ledger"
	"kopa/internal/offer"
	"kopa/internal/platform/metrics"
	"kopa/internal/policy"
	"kopa/internal/scheduler"
	"kopa/internal/settlement"
	"kopa/internal/signals"
	"kopa/internal/storage"
	"kopa/internal/stream"
	"kopa/internal/trigger"
	id "kopa/pkg/domain"
	dErrors "kopa/pkg/domain-errors"
)

// Stores groups the read-side stores the query surface needs. The write paths
// go through the services, never through these directly.
type Stores struct {
	Profiles  storage.ProfileStore
	Balances  storage.BalanceStore
	Sessions  storage.SessionStore
	TopUps    storage.TopUpStore
	Offers    storage.OfferStore
	Loans     storage.LoanStore
	Decisions storage.DecisionStore
}

// Deps carries everything the orchestrator composes over. Metrics may be nil;
// all other fields are required.
type Deps struct {
	Bus        *stream.Bus
	Scheduler  *scheduler.Scheduler
	Source     *signals.Source
	Trigger    *trigger.Gate
	Gate       *eligibility.Gate
	Offers     *offer.Service
	Settlement *settlement.Engine
	Recorder   *ledger.Recorder
	Journey    *journey.Projection
	Stores     Stores
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

type Orchestrator struct {
	bus      *stream.Bus
	sched    *scheduler.Scheduler
	source   *signals.Source
	trigger  *trigger.Gate
	gate     *eligibility.Gate
	offers   *offer.Service
	engine   *settlement.Engine
	recorder *ledger.Recorder
	journey  *journey.Projection
	stores   Stores
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func New(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Bus == nil, deps.Scheduler == nil, deps.Source == nil,
		deps.Trigger == nil, deps.Gate == nil, deps.Offers == nil,
		deps.Settlement == nil, deps.Recorder == nil, deps.Journey == nil:
		return nil, dErrors.New(dErrors.CodeInternal, "orchestrator: missing dependency")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	o := &Orchestrator{
		bus:      deps.Bus,
		sched:    deps.Scheduler,
		source:   deps.Source,
		trigger:  deps.Trigger,
		gate:     deps.Gate,
		offers:   deps.Offers,
		engine:   deps.Settlement,
		recorder: deps.Recorder,
		journey:  deps.Journey,
		stores:   deps.Stores,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
	}
	deps.Bus.Subscribe(o)
	return o, nil
}

// HandleEvent reacts to operator signals on the stream. Everything else on
// the bus is the orchestrator's own output and is left to the projections.
func (o *Orchestrator) HandleEvent(ctx context.Context, envelope domain.Envelope) {
	if envelope.Type != domain.EventMNO {
		return
	}
	sub, _ := envelope.Data["event"].(string)
	switch sub {
	case domain.MNOBalanceUpdate:
		sample, ok := envelope.Data["sample"].(domain.BalanceSample)
		if !ok {
			return
		}
		o.onBalanceUpdate(ctx, sample)
	case domain.MNOTopUp:
		amount, _ := envelope.Data["amount"].(float64)
		channel, _ := envelope.Data["channel"].(string)
		o.onTopUp(ctx, domain.TopUpEvent{
			MSISDN:    envelope.MSISDN,
			Amount:    amount,
			Channel:   channel,
			Timestamp: time.Now(),
		})
	}
}

func (o *Orchestrator) onBalanceUpdate(ctx context.Context, sample domain.BalanceSample) {
	fired, err := o.trigger.Evaluate(ctx, sample)
	if err != nil {
		o.logger.Error("trigger evaluation failed",
			slog.String("msisdn", sample.MSISDN.String()),
			slog.String("error", err.Error()))
		return
	}
	if !fired {
		return
	}
	if o.metrics != nil {
		o.metrics.TriggersFired.Inc()
	}
	o.publish(ctx, domain.Envelope{
		Type:   domain.EventLowBalanceTrigger,
		MSISDN: sample.MSISDN,
		Data: map[string]any{
			"balance":    sample.Value,
			"session_id": sample.SessionID.String(),
		},
	})
	o.runPipeline(ctx, sample)
}

// runPipeline takes a fired trigger through eligibility and, when approved,
// offer creation and SMS scheduling.
func (o *Orchestrator) runPipeline(ctx context.Context, sample domain.BalanceSample) {
	result, err := o.gate.Evaluate(ctx, sample.MSISDN, sample.Timestamp)
	if err != nil {
		o.logger.Error("eligibility evaluation failed",
			slog.String("msisdn", sample.MSISDN.String()),
			slog.String("error", err.Error()))
		return
	}
	if !result.Approved {
		o.rejected(ctx, sample, result.Rejection)
		return
	}

	created, fresh, err := o.offers.Create(ctx, sample.MSISDN, sample.SessionID, result)
	if err != nil {
		o.logger.Error("offer creation failed",
			slog.String("msisdn", sample.MSISDN.String()),
			slog.String("error", err.Error()))
		return
	}
	if !fresh {
		return
	}
	if o.metrics != nil {
		o.metrics.OffersCreated.Inc()
	}
	o.publish(ctx, domain.Envelope{
		Type:   domain.EventOfferCreated,
		MSISDN: created.MSISDN,
		Data: map[string]any{
			"offer_id":      created.ID.String(),
			"amount":        created.Amount,
			"consent_token": created.ConsentToken,
			"reasons":       created.Reasons,
			"voice_minutes": created.Benefit.VoiceMinutes,
			"data_days":     created.Benefit.DataDays,
			"expires_at":    created.ExpiresAt,
		},
	})
	o.scheduleSMS(ctx, created)
}

func (o *Orchestrator) rejected(ctx context.Context, sample domain.BalanceSample, reason eligibility.RejectionReason) {
	if o.metrics != nil {
		o.metrics.IncrementOffersRejected(string(reason))
	}
	if err := o.recorder.Record(ctx, domain.LedgerEvent{
		Type:       domain.LedgerOfferRejected,
		EntityID:   sample.SessionID.String(),
		EntityType: "trigger",
		MSISDN:     sample.MSISDN,
		Payload:    map[string]any{"reason": string(reason)},
	}); err != nil {
		o.logger.Error("ledger append failed", slog.String("error", err.Error()))
	}
	o.publish(ctx, domain.Envelope{
		Type:   domain.EventOfferNotCreated,
		MSISDN: sample.MSISDN,
		Data:   map[string]any{"reason": string(reason)},
	})
}

// scheduleSMS marks the offer sms_sent after the delivery delay. The key is
// synthetic so it can never collide with the session's depletion tick.
func (o *Orchestrator) scheduleSMS(ctx context.Context, created domain.Offer) {
	key := scheduler.Key{MSISDN: created.MSISDN, Session: id.SessionID("sms-" + created.ID.String())}
	o.sched.ScheduleOnce(ctx, key, policy.SMSDeliveryDelay, func(cbCtx context.Context) {
		updated, err := o.offers.MarkSMSSent(cbCtx, created.ID)
		if err != nil {
			// The offer may have expired or been declined before delivery.
			o.logger.Warn("sms delivery skipped",
				slog.String("offer_id", created.ID.String()),
				slog.String("error", err.Error()))
			return
		}
		o.publish(cbCtx, domain.Envelope{
			Type:   domain.EventSMSSent,
			MSISDN: updated.MSISDN,
			Data: map[string]any{
				"offer_id":      updated.ID.String(),
				"consent_token": updated.ConsentToken,
			},
		})
	})
}

// onTopUp hands a detected top-up to settlement and broadcasts the outcome.
func (o *Orchestrator) onTopUp(ctx context.Context, topup domain.TopUpEvent) {
	settled, err := o.engine.ProcessTopUp(ctx, topup)
	if err != nil {
		o.logger.Error("top-up settlement failed",
			slog.String("msisdn", topup.MSISDN.String()),
			slog.String("error", err.Error()))
		return
	}
	data := map[string]any{
		"amount":  topup.Amount,
		"channel": topup.Channel,
	}
	if settled != nil {
		data["loan_id"] = settled.ID.String()
		data["loan_amount"] = settled.Amount
	}
	o.publish(ctx, domain.Envelope{
		Type:   domain.EventTopUpProcessed,
		MSISDN: topup.MSISDN,
		Data:   data,
	})
	if settled == nil {
		return
	}
	if o.metrics != nil {
		o.metrics.LoansRepaid.Inc()
	}
	o.publish(ctx, domain.Envelope{
		Type:   domain.EventRepaymentCompleted,
		MSISDN: topup.MSISDN,
		Data: map[string]any{
			"loan_id": settled.ID.String(),
			"amount":  settled.Amount,
		},
	})
}

func (o *Orchestrator) publish(ctx context.Context, envelope domain.Envelope) {
	if o.metrics != nil {
		o.metrics.IncrementEventsPublished(string(envelope.Type))
	}
	o.bus.Publish(ctx, envelope)
}
