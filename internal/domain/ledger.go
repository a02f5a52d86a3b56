/**
 * @description
 * This file defines the core domain models for the ledger-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Using distinct types for API requests, database models, and event
 *   payloads ensures clear separation of concerns and type safety.
 * - Amounts are stored as `int64` to represent the value in the smallest currency
 *   unit (cents), which avoids floating-point inaccuracies with financial data.
 * - A payment side is a tagged PaymentParty (account or bank reserve), never a
 *   magic sentinel account id.
 */

package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Owner kinds for an account.
const (
	OwnerPersonal = "personal"
	OwnerBusiness = "business"
)

// Deposit request states. Pending is the only non-terminal state.
const (
	DepositPending  = "pending"
	DepositApproved = "approved"
	DepositRejected = "rejected"
)

// Staff departments. Finance is required to review deposit requests.
const (
	DepartmentAdmin   = "admin"
	DepartmentFinance = "finance"
	DepartmentLoan    = "loan"
)

// PartyKind discriminates the two sides a payment can touch.
type PartyKind string

const (
	PartyAccount PartyKind = "account"
	PartyReserve PartyKind = "reserve"
)

// PaymentParty identifies one side of a payment: either a customer account
// or the bank's own reserve. AccountID is meaningful only when Kind is
// PartyAccount.
type PaymentParty struct {
	Kind      PartyKind `json:"kind"`
	AccountID uuid.UUID `json:"account_id,omitempty"`
}

// AccountParty returns a party referencing a customer account.
func AccountParty(id uuid.UUID) PaymentParty {
	return PaymentParty{Kind: PartyAccount, AccountID: id}
}

// ReserveParty returns the party representing the bank reserve.
func ReserveParty() PaymentParty {
	return PaymentParty{Kind: PartyReserve}
}

// IsReserve reports whether the party is the bank reserve.
func (p PaymentParty) IsReserve() bool {
	return p.Kind == PartyReserve
}

// String renders the party for log lines and payment details.
func (p PaymentParty) String() string {
	if p.IsReserve() {
		return "reserve"
	}
	return fmt.Sprintf("account:%s", p.AccountID)
}

// Account represents a customer account row. Balances are mutated only by the
// payment engine; accounts are deactivated, never deleted, so historical
// payment rows keep valid references.
type Account struct {
	ID            uuid.UUID `json:"id"`
	AccountNumber string    `json:"account_number"` // formatted XXX-XXXX-XXX-XXXX
	OwnerKind     string    `json:"owner_kind"`
	DisplayName   string    `json:"display_name"`
	Balance       int64     `json:"balance"` // in cents
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// BankReserve is the singleton register holding the bank's own liquidity.
type BankReserve struct {
	Balance           int64      `json:"balance"` // in cents
	LastTxType        *string    `json:"last_transaction_type,omitempty"`
	LastTxAmount      *int64     `json:"last_transaction_amount,omitempty"`
	LastTxReference   *uuid.UUID `json:"last_transaction_reference,omitempty"`
	InitializedAt     time.Time  `json:"initialized_at"`
	LastTransactionAt *time.Time `json:"last_transaction_at,omitempty"`
}

// Payment is one immutable ledger entry. Exactly one row is written per
// committed funds movement and it is never mutated afterwards.
type Payment struct {
	ID                  uuid.UUID  `json:"id"`
	Reference           string     `json:"reference"` // external string form, e.g. PAY-...
	FromKind            PartyKind  `json:"from_kind"`
	FromAccountID       *uuid.UUID `json:"from_account_id,omitempty"`
	ToKind              PartyKind  `json:"to_kind"`
	ToAccountID         *uuid.UUID `json:"to_account_id,omitempty"`
	Amount              int64      `json:"amount"` // in cents, always > 0
	Detail              string     `json:"detail"`
	BalanceAfterPayment int64      `json:"balance_after_payment"` // receiving side, post-credit
	IdempotencyKey      *string    `json:"idempotency_key,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

// From returns the debited party of the payment.
func (p *Payment) From() PaymentParty {
	if p.FromKind == PartyReserve || p.FromAccountID == nil {
		return ReserveParty()
	}
	return AccountParty(*p.FromAccountID)
}

// To returns the credited party of the payment.
func (p *Payment) To() PaymentParty {
	if p.ToKind == PartyReserve || p.ToAccountID == nil {
		return ReserveParty()
	}
	return AccountParty(*p.ToAccountID)
}

// DepositRequest is a staff-reviewed request to move funds from the bank
// reserve into a customer account. It transitions exactly once, from pending
// to approved or rejected, and is never re-opened.
type DepositRequest struct {
	ID              uuid.UUID  `json:"id"`
	AccountID       uuid.UUID  `json:"account_id"`
	Amount          int64      `json:"amount"` // in cents
	Note            *string    `json:"note,omitempty"`
	Status          string     `json:"status"`
	PaymentID       *uuid.UUID `json:"payment_id,omitempty"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	ProcessedBy     *uuid.UUID `json:"processed_by,omitempty"`
	RejectionReason *string    `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Terminal reports whether the request has already been reviewed.
func (d *DepositRequest) Terminal() bool {
	return d.Status != DepositPending
}

// Staff represents a back-office actor. Only the department matters to the
// ledger core; authentication is the gateway's job.
type Staff struct {
	ID         uuid.UUID `json:"id"`
	FullName   string    `json:"full_name"`
	Department string    `json:"department"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// CreateAccountRequest is the DTO for admin account creation.
type CreateAccountRequest struct {
	OwnerKind      string `json:"owner_kind"`
	DisplayName    string `json:"display_name"`
	OpeningBalance int64  `json:"opening_balance"` // in cents, optional
}

// TransferRequest is the DTO for account-to-account transfers.
type TransferRequest struct {
	FromAccountID  uuid.UUID `json:"from_account_id"`
	ToAccountID    uuid.UUID `json:"to_account_id"`
	Amount         int64     `json:"amount"` // in cents
	Detail         string    `json:"detail"`
	IdempotencyKey *string   `json:"idempotency_key,omitempty"`
}

// WithdrawalRequest is the DTO for account-to-reserve withdrawals.
type WithdrawalRequest struct {
	FromAccountID  uuid.UUID `json:"from_account_id"`
	Amount         int64     `json:"amount"` // in cents
	Detail         string    `json:"detail"`
	IdempotencyKey *string   `json:"idempotency_key,omitempty"`
}

// CreateDepositRequestPayload is the DTO for a user's deposit request.
type CreateDepositRequestPayload struct {
	Amount int64   `json:"amount"` // in cents
	Note   *string `json:"note,omitempty"`
}

// RejectDepositRequestPayload carries the mandatory rejection reason.
type RejectDepositRequestPayload struct {
	Reason string `json:"reason"`
}

// InitializeReservePayload seeds or overrides the bank reserve.
type InitializeReservePayload struct {
	Amount   int64 `json:"amount"` // in cents
	Override bool  `json:"override"`
}

// PaymentListOptions controls pagination for account payment history.
type PaymentListOptions struct {
	Limit  int
	Offset int
}

// DepositRequestListOptions filters deposit request listings.
type DepositRequestListOptions struct {
	Status string
	Limit  int
	Offset int
}
