package model

import (
	"encoding/json"
	"errors"
	"time"
)

// Status of a ledger entry. Debits are created as StatusReserved and
// transition exactly once to StatusCommitted or StatusRefunded; credits
// are written directly as StatusGranted.
type Status string

const (
	StatusReserved  Status = "reserved"
	StatusCommitted Status = "committed"
	StatusRefunded  Status = "refunded"
	StatusGranted   Status = "granted"
)

// Outcome selects how a reservation is finalized.
type Outcome string

const (
	OutcomeCommit Outcome = "commit"
	OutcomeRefund Outcome = "refund"
)

// Reserve result statuses.
const (
	ReserveStatusReserved  = "RESERVED"
	ReserveStatusDuplicate = "DUPLICATE"
)

type LedgerEntry struct {
	ID        int64           `json:"id"`
	UserID    string          `json:"user_id"`
	RequestID string          `json:"request_id"`
	Action    string          `json:"action"`
	Amount    int64           `json:"amount"`
	Status    Status          `json:"status"`
	Meta      json.RawMessage `json:"meta,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type ReserveRequest struct {
	UserID    string `json:"user_id"`
	RequestID string `json:"request_id"`
	Action    string `json:"action"`
	Cost      int64  `json:"cost"`
}

func (r ReserveRequest) Validate() error {
	if r.UserID == "" || r.RequestID == "" {
		return errors.New("user_id and request_id are required")
	}
	if r.Action == "" {
		return errors.New("action is required")
	}
	if r.Cost <= 0 {
		return errors.New("cost must be positive")
	}
	return nil
}

type ReserveResult struct {
	Balance int64  `json:"balance"`
	Status  string `json:"status"`
}

type FinalizeRequest struct {
	UserID    string  `json:"user_id"`
	RequestID string  `json:"request_id"`
	Outcome   Outcome `json:"outcome"`
}

func (r FinalizeRequest) Validate() error {
	if r.UserID == "" || r.RequestID == "" {
		return errors.New("user_id and request_id are required")
	}
	if r.Outcome != OutcomeCommit && r.Outcome != OutcomeRefund {
		return errors.New(`outcome must be "commit" or "refund"`)
	}
	return nil
}

type GrantRequest struct {
	UserID string          `json:"user_id"`
	Amount int64           `json:"amount"`
	Reason string          `json:"reason"`
	Meta   json.RawMessage `json:"meta,omitempty"`
}

func (r GrantRequest) Validate() error {
	if r.UserID == "" {
		return errors.New("user_id is required")
	}
	if r.Amount <= 0 {
		return errors.New("amount must be positive")
	}
	if r.Reason == "" {
		return errors.New("reason is required")
	}
	return nil
}

// ReservationRef identifies a reservation for the timeout reconciler.
type ReservationRef struct {
	UserID    string `json:"user_id"`
	RequestID string `json:"request_id"`
}

// LedgerEvent is published on the bus after each successful ledger mutation.
type LedgerEvent struct {
	Type      string    `json:"type"`
	UserID    string    `json:"user_id"`
	RequestID string    `json:"request_id"`
	Action    string    `json:"action"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// GenerationResult is the provider-callback payload delivered over the bus
// when an external generation job finishes or fails.
type GenerationResult struct {
	UserID    string `json:"user_id"`
	RequestID string `json:"request_id"`
	Reason    string `json:"reason,omitempty"`
}
