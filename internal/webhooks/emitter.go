package webhooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/bazaarpay/walletd/internal/idgen"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	webhookEmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "walletd",
		Subsystem: "webhook",
		Name:      "emit_total",
		Help:      "Total webhook emit attempts by event type.",
	}, []string{"event_type"})

	webhookEmitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "walletd",
		Subsystem: "webhook",
		Name:      "emit_errors_total",
		Help:      "Total webhook emit failures by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(webhookEmitTotal, webhookEmitErrors)
}

// Emitter wraps a Dispatcher to emit lifecycle events across subsystems.
// All methods are fire-and-forget: errors are logged but never returned.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

// NewEmitter creates a new webhook emitter.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{d: d, logger: logger}
}

func (e *Emitter) emit(userID string, eventType EventType, data map[string]interface{}) {
	if e == nil || e.d == nil {
		return
	}
	webhookEmitTotal.WithLabelValues(string(eventType)).Inc()
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	// DispatchToUser only looks up subscriptions before handing off to
	// delivery goroutines, which run on their own deadline.
	if err := e.d.DispatchToUser(context.Background(), userID, event); err != nil {
		webhookEmitErrors.WithLabelValues(string(eventType)).Inc()
		e.logger.Warn("webhook emit failed", "event", eventType, "user", userID, "error", err)
	}
}

// --- Withdrawal events ---

// WithdrawalCompleted emits a withdrawal.completed event.
func (e *Emitter) WithdrawalCompleted(userID, withdrawalID, amount string) {
	e.emit(userID, EventWithdrawalCompleted, map[string]interface{}{
		"withdrawalId": withdrawalID,
		"userId":       userID,
		"amount":       amount,
	})
}

// WithdrawalFailed emits a withdrawal.failed event.
func (e *Emitter) WithdrawalFailed(userID, withdrawalID, amount, reason string) {
	e.emit(userID, EventWithdrawalFailed, map[string]interface{}{
		"withdrawalId": withdrawalID,
		"userId":       userID,
		"amount":       amount,
		"reason":       reason,
	})
}

// WithdrawalReversed emits a withdrawal.reversed event.
func (e *Emitter) WithdrawalReversed(userID, withdrawalID, amount string) {
	e.emit(userID, EventWithdrawalReversed, map[string]interface{}{
		"withdrawalId": withdrawalID,
		"userId":       userID,
		"amount":       amount,
	})
}

// --- Settlement events ---

// SettlementCompleted emits a settlement.completed event.
func (e *Emitter) SettlementCompleted(sellerID, settlementID, netAmount string) {
	e.emit(sellerID, EventSettlementCompleted, map[string]interface{}{
		"settlementId": settlementID,
		"sellerId":     sellerID,
		"netAmount":    netAmount,
	})
}

// SettlementFailed emits a settlement.failed event.
func (e *Emitter) SettlementFailed(sellerID, settlementID, reason string) {
	e.emit(sellerID, EventSettlementFailed, map[string]interface{}{
		"settlementId": settlementID,
		"sellerId":     sellerID,
		"reason":       reason,
	})
}

// --- Dispute events ---

// DisputeResolved emits a dispute.resolved event to the hold owner.
func (e *Emitter) DisputeResolved(userID, disputeID, resolution string) {
	e.emit(userID, EventDisputeResolved, map[string]interface{}{
		"disputeId":  disputeID,
		"userId":     userID,
		"resolution": resolution,
	})
}
