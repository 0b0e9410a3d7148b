package nats

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/edbns/Stefna-sub010/internal/model"
	"github.com/edbns/Stefna-sub010/internal/repository"
	"github.com/edbns/Stefna-sub010/internal/service"
)

// Handler finalizes reservations from generation-pipeline callbacks
// delivered over NATS: a completed job commits its hold, a failed job
// refunds it. Finalize is idempotent, so a callback racing the timeout
// reconciler is harmless.
type Handler struct {
	svc  service.LedgerService
	nc   *nats.Conn
	subs []*nats.Subscription
}

func NewHandler(svc service.LedgerService, nc *nats.Conn) *Handler {
	return &Handler{svc: svc, nc: nc}
}

// Start subscribes to the callback topics and blocks until ctx is cancelled.
func (h *Handler) Start(ctx context.Context) error {
	s1, err := h.nc.QueueSubscribe("generation.completed", "credits_finalizers", func(m *nats.Msg) {
		h.handleResult(ctx, m.Data, model.OutcomeCommit)
	})
	if err != nil {
		return err
	}
	h.subs = append(h.subs, s1)

	s2, err := h.nc.QueueSubscribe("generation.failed", "credits_finalizers", func(m *nats.Msg) {
		h.handleResult(ctx, m.Data, model.OutcomeRefund)
	})
	if err != nil {
		return err
	}
	h.subs = append(h.subs, s2)

	slog.Info("generation callback handler is running")

	<-ctx.Done()
	slog.Info("callback handler shutting down, draining subscriptions...")

	for _, s := range h.subs {
		_ = s.Drain()
	}
	return nil
}

func (h *Handler) Stop(ctx context.Context) error {
	for _, s := range h.subs {
		_ = s.Unsubscribe()
	}
	return nil
}

func (h *Handler) handleResult(ctx context.Context, data []byte, outcome model.Outcome) {
	var result model.GenerationResult
	if err := json.Unmarshal(data, &result); err != nil {
		slog.Error("nats: failed to unmarshal generation result", "error", err)
		return
	}

	err := h.svc.Finalize(ctx, model.FinalizeRequest{
		UserID:    result.UserID,
		RequestID: result.RequestID,
		Outcome:   outcome,
	})
	if err != nil {
		// Unknown request id is a caller error, not retried.
		if errors.Is(err, repository.ErrNotFound) {
			slog.Warn("nats: callback for unknown reservation",
				"user_id", result.UserID, "request_id", result.RequestID)
			return
		}
		slog.Error("nats: finalize failed",
			"user_id", result.UserID, "request_id", result.RequestID,
			"outcome", outcome, "error", err)
	}
}
