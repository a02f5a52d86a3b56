/**
 * @description
 * This file defines the event payloads the ledger-service publishes to
 * RabbitMQ after funds movements and deposit-request transitions commit.
 * Downstream consumers (notification and analytics services) receive these
 * as JSON on the `ledger.events` topic exchange.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys on the ledger.events exchange.
const (
	EventPaymentCompleted       = "payment.completed"
	EventDepositRequestApproved = "deposit_request.approved"
	EventDepositRequestRejected = "deposit_request.rejected"
)

// PaymentCompletedEvent is published after any payment row commits.
type PaymentCompletedEvent struct {
	PaymentID uuid.UUID `json:"payment_id"`
	Reference string    `json:"reference"`
	From      string    `json:"from"` // party string form, e.g. "reserve" or "account:<uuid>"
	To        string    `json:"to"`
	Amount    int64     `json:"amount"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

// DepositRequestReviewedEvent is published after a deposit request reaches a
// terminal state. PaymentID is set only for approvals.
type DepositRequestReviewedEvent struct {
	RequestID       uuid.UUID  `json:"request_id"`
	AccountID       uuid.UUID  `json:"account_id"`
	Amount          int64      `json:"amount"`
	Status          string     `json:"status"`
	ProcessedBy     uuid.UUID  `json:"processed_by"`
	PaymentID       *uuid.UUID `json:"payment_id,omitempty"`
	RejectionReason *string    `json:"rejection_reason,omitempty"`
	Timestamp       time.Time  `json:"timestamp"`
}
