/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the ledger-service. By defining an interface,
 * we decouple the application's business logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * All funds-moving methods (Transfer, DepositFromReserve, WithdrawToReserve,
 * ApproveDepositRequest) are atomic: balance mutations, the payment row insert
 * and any status transition either all commit or none do.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/novabank/ledger-service/internal/domain"
)

// PaymentParams carries everything needed to write one payment row.
type PaymentParams struct {
	PaymentID      uuid.UUID
	Reference      string
	Amount         int64
	Detail         string
	IdempotencyKey *string
}

// LedgerAudit is the result of a conservation check over the whole ledger.
type LedgerAudit struct {
	AccountCount    int64
	AccountTotal    int64 // sum of all account balances, in cents
	ReserveBalance  int64
	DriftedAccounts int64 // accounts whose balance disagrees with their payment history
	ReserveDrift    int64 // reserve balance minus the balance implied by the audit log and payments
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Account methods
	CreateAccount(ctx context.Context, account *domain.Account) (*domain.Account, error)
	FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error)
	DeactivateAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)

	// Bank reserve methods
	GetReserve(ctx context.Context) (*domain.BankReserve, error)
	// InitializeReserve seeds the singleton reserve row. A second call fails
	// with ErrReserveAlreadyInitialized unless override is set; every call
	// writes its own reserve audit entry.
	InitializeReserve(ctx context.Context, amount int64, override bool) (*domain.BankReserve, error)

	// Payment engine methods. Each runs a single database transaction with
	// row-level locks: accounts in ascending id order, the reserve row before
	// any account row.
	Transfer(ctx context.Context, fromAccountID, toAccountID uuid.UUID, params PaymentParams) (*domain.Payment, error)
	DepositFromReserve(ctx context.Context, toAccountID uuid.UUID, params PaymentParams) (*domain.Payment, error)
	WithdrawToReserve(ctx context.Context, fromAccountID uuid.UUID, params PaymentParams) (*domain.Payment, error)

	// Payment history methods
	FindPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error)
	ListPaymentsByAccount(ctx context.Context, accountID uuid.UUID, opts domain.PaymentListOptions) ([]domain.Payment, error)

	// Deposit request workflow methods
	CreateDepositRequest(ctx context.Context, request *domain.DepositRequest) (*domain.DepositRequest, error)
	FindDepositRequestByID(ctx context.Context, requestID uuid.UUID) (*domain.DepositRequest, error)
	ListDepositRequests(ctx context.Context, opts domain.DepositRequestListOptions) ([]domain.DepositRequest, error)
	ListDepositRequestsByAccount(ctx context.Context, accountID uuid.UUID, opts domain.DepositRequestListOptions) ([]domain.DepositRequest, error)
	// ApproveDepositRequest locks the request row, verifies it is still
	// pending, moves the funds from the reserve and flips the status, all in
	// one transaction. On ErrReserveInsufficient the request stays pending.
	ApproveDepositRequest(ctx context.Context, requestID, staffID uuid.UUID, params PaymentParams) (*domain.DepositRequest, *domain.Payment, error)
	RejectDepositRequest(ctx context.Context, requestID, staffID uuid.UUID, reason string) (*domain.DepositRequest, error)

	// Staff methods
	FindStaffByID(ctx context.Context, staffID uuid.UUID) (*domain.Staff, error)

	// AuditLedger recomputes every balance from the payment log and reports drift.
	AuditLedger(ctx context.Context) (*LedgerAudit, error)
}
