/**
 * @description
 * This file contains the core business logic for the ledger-service. The `Service`
 * struct orchestrates all money movement operations, coordinating between the database
 * repository, the rate limiter and the message broker.
 *
 * Key features:
 * - Validates every precondition before touching storage, so a rejected
 *   operation never leaves a partial mutation behind.
 * - Delegates atomicity to the repository: each funds movement is one
 *   database transaction there.
 * - Re-checks the finance-department predicate on deposit review; general
 *   authentication is the gateway's concern.
 * - Publishes ledger events to RabbitMQ after commits; publishing failures
 *   are logged, never propagated.
 *
 * @dependencies
 * - context, crypto/rand, errors, fmt, log, strings, time: Standard Go libraries.
 * - github.com/google/uuid: For payment and request ids.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For event publishing.
 */

package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/novabank/ledger-service/internal/domain"
	"github.com/novabank/ledger-service/internal/store"
	"github.com/novabank/ledger-service/pkg/rabbitmq"
)

var (
	ErrInvalidAmount      = errors.New("amount must be greater than zero")
	ErrSameAccount        = errors.New("source and destination accounts must differ")
	ErrMissingReason      = errors.New("rejection reason is required")
	ErrUnauthorized       = errors.New("actor is not authorized for this operation")
	ErrInvalidOwnerKind   = errors.New("owner kind must be personal or business")
	ErrMissingDisplayName = errors.New("display name is required")
	ErrRateLimited        = errors.New("too many transfer attempts; retry later")
	// ErrStorageUnavailable wraps storage-layer failures (deadlock timeouts,
	// lost connections) so callers can tell them apart from business
	// rejections.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Service provides the core business logic for the ledger.
type Service struct {
	repo   store.Repository
	events rabbitmq.Publisher

	limiter                RateLimiter
	transferLimitPerMinute int
}

// NewService creates a new ledger service instance.
func NewService(repo store.Repository, events rabbitmq.Publisher) *Service {
	return &Service{
		repo:   repo,
		events: events,
	}
}

// SetRateLimiter installs a per-account transfer limiter. A nil limiter or a
// non-positive limit disables limiting.
func (s *Service) SetRateLimiter(limiter RateLimiter, limitPerMinute int) {
	s.limiter = limiter
	s.transferLimitPerMinute = limitPerMinute
}

// CreateAccount registers a new account. A non-zero opening balance is funded
// from the bank reserve so that every balance traces back to a payment row.
func (s *Service) CreateAccount(ctx context.Context, req domain.CreateAccountRequest) (*domain.Account, error) {
	kind := strings.ToLower(strings.TrimSpace(req.OwnerKind))
	if kind != domain.OwnerPersonal && kind != domain.OwnerBusiness {
		return nil, ErrInvalidOwnerKind
	}
	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		return nil, ErrMissingDisplayName
	}
	if req.OpeningBalance < 0 {
		return nil, ErrInvalidAmount
	}

	number, err := newAccountNumber()
	if err != nil {
		return nil, fmt.Errorf("account number generation failed: %w", err)
	}

	account, err := s.repo.CreateAccount(ctx, &domain.Account{
		ID:            uuid.New(),
		AccountNumber: number,
		OwnerKind:     kind,
		DisplayName:   name,
	})
	if err != nil {
		return nil, s.classify(err)
	}
	log.Printf("level=info component=ledger msg=\"account created\" account_id=%s account_number=%s owner_kind=%s", account.ID, account.AccountNumber, account.OwnerKind)

	if req.OpeningBalance > 0 {
		payment, err := s.executeDeposit(ctx, account.ID, req.OpeningBalance, "Opening balance")
		if err != nil {
			// The account exists with a zero balance at this point.
			log.Printf("level=error component=ledger msg=\"opening balance funding failed\" account_id=%s amount=%d err=%v", account.ID, req.OpeningBalance, err)
			return nil, err
		}
		account.Balance = payment.BalanceAfterPayment
	}

	return account, nil
}

// GetAccount resolves an account by internal UUID or formatted account number.
func (s *Service) GetAccount(ctx context.Context, ref string) (*domain.Account, error) {
	ref = strings.TrimSpace(ref)
	if id, err := uuid.Parse(ref); err == nil {
		account, err := s.repo.FindAccountByID(ctx, id)
		return account, s.classify(err)
	}
	account, err := s.repo.FindAccountByNumber(ctx, ref)
	return account, s.classify(err)
}

// DeactivateAccount retires an account from new payments without deleting it.
func (s *Service) DeactivateAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	account, err := s.repo.DeactivateAccount(ctx, accountID)
	if err != nil {
		return nil, s.classify(err)
	}
	log.Printf("level=info component=ledger msg=\"account deactivated\" account_id=%s", account.ID)
	return account, nil
}

// ListAccountPayments returns an account's payment history, newest first.
func (s *Service) ListAccountPayments(ctx context.Context, accountID uuid.UUID, opts domain.PaymentListOptions) ([]domain.Payment, error) {
	if _, err := s.repo.FindAccountByID(ctx, accountID); err != nil {
		return nil, s.classify(err)
	}
	payments, err := s.repo.ListPaymentsByAccount(ctx, accountID, opts)
	return payments, s.classify(err)
}

// GetReserve returns the bank reserve register.
func (s *Service) GetReserve(ctx context.Context) (*domain.BankReserve, error) {
	reserve, err := s.repo.GetReserve(ctx)
	return reserve, s.classify(err)
}

// InitializeReserve seeds the reserve. A repeat call without the override
// flag fails with ErrReserveAlreadyInitialized.
func (s *Service) InitializeReserve(ctx context.Context, payload domain.InitializeReservePayload) (*domain.BankReserve, error) {
	if payload.Amount < 0 {
		return nil, ErrInvalidAmount
	}
	reserve, err := s.repo.InitializeReserve(ctx, payload.Amount, payload.Override)
	if err != nil {
		return nil, s.classify(err)
	}
	log.Printf("level=info component=ledger msg=\"reserve initialized\" balance=%d override=%t", reserve.Balance, payload.Override)
	return reserve, nil
}

// Transfer executes an atomic account-to-account payment.
func (s *Service) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.Payment, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.FromAccountID == req.ToAccountID {
		return nil, ErrSameAccount
	}
	if err := s.consumeTransferBudget(ctx, req.FromAccountID); err != nil {
		return nil, err
	}

	payment, err := s.repo.Transfer(ctx, req.FromAccountID, req.ToAccountID, store.PaymentParams{
		PaymentID:      uuid.New(),
		Reference:      newPaymentReference(),
		Amount:         req.Amount,
		Detail:         strings.TrimSpace(req.Detail),
		IdempotencyKey: normalizeKey(req.IdempotencyKey),
	})
	if err != nil {
		return nil, s.classify(err)
	}

	log.Printf("level=info component=ledger msg=\"transfer committed\" payment_id=%s from=%s to=%s amount=%d", payment.ID, payment.From(), payment.To(), payment.Amount)
	s.publishPayment(ctx, payment)
	return payment, nil
}

// Withdraw executes an atomic account-to-reserve payment.
func (s *Service) Withdraw(ctx context.Context, req domain.WithdrawalRequest) (*domain.Payment, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := s.consumeTransferBudget(ctx, req.FromAccountID); err != nil {
		return nil, err
	}

	payment, err := s.repo.WithdrawToReserve(ctx, req.FromAccountID, store.PaymentParams{
		PaymentID:      uuid.New(),
		Reference:      newPaymentReference(),
		Amount:         req.Amount,
		Detail:         strings.TrimSpace(req.Detail),
		IdempotencyKey: normalizeKey(req.IdempotencyKey),
	})
	if err != nil {
		return nil, s.classify(err)
	}

	log.Printf("level=info component=ledger msg=\"withdrawal committed\" payment_id=%s from=%s amount=%d", payment.ID, payment.From(), payment.Amount)
	s.publishPayment(ctx, payment)
	return payment, nil
}

// CreateDepositRequest opens a pending deposit request for an account.
func (s *Service) CreateDepositRequest(ctx context.Context, accountID uuid.UUID, payload domain.CreateDepositRequestPayload) (*domain.DepositRequest, error) {
	if payload.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if _, err := s.repo.FindAccountByID(ctx, accountID); err != nil {
		return nil, s.classify(err)
	}

	request, err := s.repo.CreateDepositRequest(ctx, &domain.DepositRequest{
		ID:        uuid.New(),
		AccountID: accountID,
		Amount:    payload.Amount,
		Note:      payload.Note,
	})
	if err != nil {
		return nil, s.classify(err)
	}
	log.Printf("level=info component=ledger msg=\"deposit request created\" request_id=%s account_id=%s amount=%d", request.ID, request.AccountID, request.Amount)
	return request, nil
}

// ApproveDepositRequest transitions a pending request to approved, moving the
// funds from the reserve in the same storage transaction. If the movement
// fails the request stays pending.
func (s *Service) ApproveDepositRequest(ctx context.Context, requestID, staffID uuid.UUID) (*domain.DepositRequest, error) {
	if err := s.requireFinance(ctx, staffID); err != nil {
		return nil, err
	}

	request, payment, err := s.repo.ApproveDepositRequest(ctx, requestID, staffID, store.PaymentParams{
		PaymentID: uuid.New(),
		Reference: newPaymentReference(),
		Detail:    fmt.Sprintf("Deposit request %s", requestID),
	})
	if err != nil {
		return nil, s.classify(err)
	}

	log.Printf("level=info component=ledger msg=\"deposit request approved\" request_id=%s staff_id=%s payment_id=%s amount=%d", request.ID, staffID, payment.ID, payment.Amount)
	s.publishPayment(ctx, payment)
	s.publishDepositReview(ctx, request, staffID)
	return request, nil
}

// RejectDepositRequest transitions a pending request to rejected. No funds move.
func (s *Service) RejectDepositRequest(ctx context.Context, requestID, staffID uuid.UUID, reason string) (*domain.DepositRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrMissingReason
	}
	if err := s.requireFinance(ctx, staffID); err != nil {
		return nil, err
	}

	request, err := s.repo.RejectDepositRequest(ctx, requestID, staffID, reason)
	if err != nil {
		return nil, s.classify(err)
	}

	log.Printf("level=info component=ledger msg=\"deposit request rejected\" request_id=%s staff_id=%s reason=%q", request.ID, staffID, reason)
	s.publishDepositReview(ctx, request, staffID)
	return request, nil
}

// GetDepositRequest retrieves one deposit request.
func (s *Service) GetDepositRequest(ctx context.Context, requestID uuid.UUID) (*domain.DepositRequest, error) {
	request, err := s.repo.FindDepositRequestByID(ctx, requestID)
	return request, s.classify(err)
}

// ListDepositRequests returns the staff review queue.
func (s *Service) ListDepositRequests(ctx context.Context, opts domain.DepositRequestListOptions) ([]domain.DepositRequest, error) {
	requests, err := s.repo.ListDepositRequests(ctx, opts)
	return requests, s.classify(err)
}

// ListDepositRequestsByAccount returns one account's deposit requests.
func (s *Service) ListDepositRequestsByAccount(ctx context.Context, accountID uuid.UUID, opts domain.DepositRequestListOptions) ([]domain.DepositRequest, error) {
	requests, err := s.repo.ListDepositRequestsByAccount(ctx, accountID, opts)
	return requests, s.classify(err)
}

func (s *Service) executeDeposit(ctx context.Context, accountID uuid.UUID, amount int64, detail string) (*domain.Payment, error) {
	payment, err := s.repo.DepositFromReserve(ctx, accountID, store.PaymentParams{
		PaymentID: uuid.New(),
		Reference: newPaymentReference(),
		Amount:    amount,
		Detail:    detail,
	})
	if err != nil {
		return nil, s.classify(err)
	}
	s.publishPayment(ctx, payment)
	return payment, nil
}

// requireFinance verifies the acting staff member exists, is active and
// belongs to the finance department.
func (s *Service) requireFinance(ctx context.Context, staffID uuid.UUID) error {
	staff, err := s.repo.FindStaffByID(ctx, staffID)
	if err != nil {
		if errors.Is(err, store.ErrStaffNotFound) {
			return ErrUnauthorized
		}
		return s.classify(err)
	}
	if !staff.Active || staff.Department != domain.DepartmentFinance {
		return ErrUnauthorized
	}
	return nil
}

func (s *Service) consumeTransferBudget(ctx context.Context, accountID uuid.UUID) error {
	if s.limiter == nil || s.transferLimitPerMinute <= 0 {
		return nil
	}
	count, retryAfter, err := s.limiter.ConsumeRateLimit(ctx, "transfer", accountID.String(), s.transferLimitPerMinute, time.Minute)
	if err != nil {
		// The limiter is advisory; a broken Redis must not block payments.
		log.Printf("level=warn component=ledger msg=\"rate limiter unavailable; allowing transfer\" account_id=%s err=%v", accountID, err)
		return nil
	}
	if count > s.transferLimitPerMinute {
		log.Printf("level=warn component=ledger msg=\"transfer rate limited\" account_id=%s count=%d retry_after_s=%d", accountID, count, retryAfter)
		return ErrRateLimited
	}
	return nil
}

func (s *Service) publishPayment(ctx context.Context, payment *domain.Payment) {
	if s.events == nil {
		return
	}
	event := domain.PaymentCompletedEvent{
		PaymentID: payment.ID,
		Reference: payment.Reference,
		From:      payment.From().String(),
		To:        payment.To().String(),
		Amount:    payment.Amount,
		Detail:    payment.Detail,
		Timestamp: payment.CreatedAt,
	}
	if err := s.events.PublishPaymentCompleted(ctx, event); err != nil {
		log.Printf("level=warn component=ledger msg=\"payment event publish failed\" payment_id=%s err=%v", payment.ID, err)
	}
}

func (s *Service) publishDepositReview(ctx context.Context, request *domain.DepositRequest, staffID uuid.UUID) {
	if s.events == nil {
		return
	}
	event := domain.DepositRequestReviewedEvent{
		RequestID:       request.ID,
		AccountID:       request.AccountID,
		Amount:          request.Amount,
		Status:          request.Status,
		ProcessedBy:     staffID,
		PaymentID:       request.PaymentID,
		RejectionReason: request.RejectionReason,
		Timestamp:       time.Now().UTC(),
	}
	if err := s.events.PublishDepositRequestReviewed(ctx, event); err != nil {
		log.Printf("level=warn component=ledger msg=\"deposit review event publish failed\" request_id=%s err=%v", request.ID, err)
	}
}

// classify passes business rejections through untouched and wraps everything
// else as a storage failure.
func (s *Service) classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		store.ErrAccountNotFound,
		store.ErrAccountInactive,
		store.ErrInsufficientFunds,
		store.ErrReserveInsufficient,
		store.ErrReserveNotInitialized,
		store.ErrReserveAlreadyInitialized,
		store.ErrDepositRequestNotFound,
		store.ErrDepositRequestNotPending,
		store.ErrStaffNotFound,
		store.ErrPaymentNotFound,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}

// newPaymentReference builds the external string form of a payment id,
// e.g. PAY-1A2B3C4D5E6F.
func newPaymentReference() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))
	return "PAY-" + raw[:12]
}

// newAccountNumber generates a formatted XXX-XXXX-XXX-XXXX account number.
func newAccountNumber() (string, error) {
	buf := make([]byte, 14)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	digits := make([]byte, 14)
	for i, b := range buf {
		digits[i] = '0' + b%10
	}
	return fmt.Sprintf("%s-%s-%s-%s", digits[0:3], digits[3:7], digits[7:10], digits[10:14]), nil
}

func normalizeKey(key *string) *string {
	if key == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*key)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
