package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReserveRequestValidate(t *testing.T) {
	valid := ReserveRequest{UserID: "u1", RequestID: "r1", Action: "image.gen", Cost: 2}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name string
		req  ReserveRequest
	}{
		{"missing user", ReserveRequest{RequestID: "r1", Action: "image.gen", Cost: 2}},
		{"missing request id", ReserveRequest{UserID: "u1", Action: "image.gen", Cost: 2}},
		{"missing action", ReserveRequest{UserID: "u1", RequestID: "r1", Cost: 2}},
		{"zero cost", ReserveRequest{UserID: "u1", RequestID: "r1", Action: "image.gen"}},
		{"negative cost", ReserveRequest{UserID: "u1", RequestID: "r1", Action: "image.gen", Cost: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.req.Validate())
		})
	}
}

func TestFinalizeRequestValidate(t *testing.T) {
	assert.NoError(t, FinalizeRequest{UserID: "u1", RequestID: "r1", Outcome: OutcomeCommit}.Validate())
	assert.NoError(t, FinalizeRequest{UserID: "u1", RequestID: "r1", Outcome: OutcomeRefund}.Validate())

	assert.Error(t, FinalizeRequest{RequestID: "r1", Outcome: OutcomeCommit}.Validate())
	assert.Error(t, FinalizeRequest{UserID: "u1", Outcome: OutcomeCommit}.Validate())
	assert.Error(t, FinalizeRequest{UserID: "u1", RequestID: "r1", Outcome: "cancel"}.Validate())
	assert.Error(t, FinalizeRequest{UserID: "u1", RequestID: "r1"}.Validate())
}

func TestGrantRequestValidate(t *testing.T) {
	assert.NoError(t, GrantRequest{UserID: "u1", Amount: 25, Reason: "referral_bonus"}.Validate())

	assert.Error(t, GrantRequest{Amount: 25, Reason: "referral_bonus"}.Validate())
	assert.Error(t, GrantRequest{UserID: "u1", Reason: "referral_bonus"}.Validate())
	assert.Error(t, GrantRequest{UserID: "u1", Amount: -5, Reason: "referral_bonus"}.Validate())
	assert.Error(t, GrantRequest{UserID: "u1", Amount: 25}.Validate())
}
