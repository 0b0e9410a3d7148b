package service

import (
	"context"
	"time"

	"github.com/edbns/Stefna-sub010/internal/model"
)

// LedgerService defines the credit-ledger operations.
// All transport layers and the reconciler depend on this interface,
// not on the concrete repo.
type LedgerService interface {
	// Reserve atomically places a hold of req.Cost credits for a generation
	// request. Retries with the same (user_id, request_id) are absorbed and
	// return the current balance.
	Reserve(ctx context.Context, req model.ReserveRequest) (*model.ReserveResult, error)

	// Finalize commits or refunds a reservation. Safe to call more than once;
	// only the first call against a reserved entry has any effect.
	Finalize(ctx context.Context, req model.FinalizeRequest) error

	// Grant credits a user's balance, provisioning the balance row if needed.
	Grant(ctx context.Context, req model.GrantRequest) error

	// AllowedToday reports whether spending cost more credits today would
	// keep the user within the daily cap. Advisory: not atomic with Reserve.
	AllowedToday(ctx context.Context, userID string, cost int64) (bool, error)

	// DailyUsage returns the credits committed by the user on the given UTC day.
	DailyUsage(ctx context.Context, userID string, day time.Time) (int64, error)

	// Balance returns the user's current credit balance.
	Balance(ctx context.Context, userID string) (int64, error)

	// StaleReservations lists reservations older than olderThan that were
	// never finalized, for the timeout reconciler to refund.
	StaleReservations(ctx context.Context, olderThan time.Duration) ([]model.ReservationRef, error)
}
