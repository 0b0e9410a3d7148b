package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/edbns/Stefna-sub010/internal/model"
	"github.com/edbns/Stefna-sub010/internal/service"
)

// Reconciler is the timeout watchdog: it periodically refunds reservations
// whose generation job never reported completion, so credits are not
// stranded in a reserved state forever. Refunding through Finalize keeps
// the sweep safe against a late provider callback.
type Reconciler struct {
	svc      service.LedgerService
	interval time.Duration
	ttl      time.Duration
}

func NewReconciler(svc service.LedgerService, interval, ttl time.Duration) *Reconciler {
	return &Reconciler{svc: svc, interval: interval, ttl: ttl}
}

// Start runs the sweep loop until ctx is cancelled.
func (w *Reconciler) Start(ctx context.Context) error {
	slog.Info("timeout reconciler is running",
		"interval", w.interval, "reservation_ttl", w.ttl)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("timeout reconciler shutting down")
			return nil
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// Stop implements the infrastructure.Server interface (shutdown is via ctx).
func (w *Reconciler) Stop(ctx context.Context) error {
	return nil
}

func (w *Reconciler) sweep(ctx context.Context) {
	refs, err := w.svc.StaleReservations(ctx, w.ttl)
	if err != nil {
		slog.Error("reconciler: listing stale reservations failed", "error", err)
		return
	}

	for _, ref := range refs {
		err := w.svc.Finalize(ctx, model.FinalizeRequest{
			UserID:    ref.UserID,
			RequestID: ref.RequestID,
			Outcome:   model.OutcomeRefund,
		})
		if err != nil {
			slog.Error("reconciler: refund failed",
				"user_id", ref.UserID, "request_id", ref.RequestID, "error", err)
			continue
		}
		slog.Info("reconciler: refunded stale reservation",
			"user_id", ref.UserID, "request_id", ref.RequestID)
	}
}
