package app

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/novabank/ledger-service/internal/domain"
	"github.com/novabank/ledger-service/internal/store"
)

// memoryLedger is an in-memory Repository with real balance mutation. Unlike
// the per-method stubs it keeps the money honest: every movement debits one
// side and credits the other, so tests can assert conservation and
// balance-after arithmetic end to end through the service.
type memoryLedger struct {
	accounts        map[uuid.UUID]*domain.Account
	reserve         *domain.BankReserve
	reserveBaseline int64
	payments        []domain.Payment
	paymentsByKey   map[string]uuid.UUID
	requests        map[uuid.UUID]*domain.DepositRequest
	staff           map[uuid.UUID]*domain.Staff
}

var _ store.Repository = (*memoryLedger)(nil)

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{
		accounts:      make(map[uuid.UUID]*domain.Account),
		paymentsByKey: make(map[string]uuid.UUID),
		requests:      make(map[uuid.UUID]*domain.DepositRequest),
		staff:         make(map[uuid.UUID]*domain.Staff),
	}
}

func (m *memoryLedger) addStaff(department string, active bool) uuid.UUID {
	member := &domain.Staff{ID: uuid.New(), FullName: "Sam Ade", Department: department, Active: active, CreatedAt: time.Now().UTC()}
	m.staff[member.ID] = member
	return member.ID
}

func (m *memoryLedger) CreateAccount(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	created := *account
	created.Balance = 0
	created.Active = true
	created.CreatedAt = time.Now().UTC()
	created.UpdatedAt = created.CreatedAt
	m.accounts[created.ID] = &created
	copied := created
	return &copied, nil
}

func (m *memoryLedger) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	account, ok := m.accounts[accountID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (m *memoryLedger) FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	for _, account := range m.accounts {
		if account.AccountNumber == accountNumber {
			copied := *account
			return &copied, nil
		}
	}
	return nil, store.ErrAccountNotFound
}

func (m *memoryLedger) DeactivateAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	account, ok := m.accounts[accountID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	account.Active = false
	copied := *account
	return &copied, nil
}

func (m *memoryLedger) GetReserve(ctx context.Context) (*domain.BankReserve, error) {
	if m.reserve == nil {
		return nil, store.ErrReserveNotInitialized
	}
	copied := *m.reserve
	return &copied, nil
}

func (m *memoryLedger) InitializeReserve(ctx context.Context, amount int64, override bool) (*domain.BankReserve, error) {
	if m.reserve != nil && !override {
		return nil, store.ErrReserveAlreadyInitialized
	}
	m.reserve = &domain.BankReserve{Balance: amount, InitializedAt: time.Now().UTC()}
	m.reserveBaseline = amount
	copied := *m.reserve
	return &copied, nil
}

func (m *memoryLedger) Transfer(ctx context.Context, fromAccountID, toAccountID uuid.UUID, params store.PaymentParams) (*domain.Payment, error) {
	if existing := m.replayedPayment(params.IdempotencyKey); existing != nil {
		return existing, nil
	}
	from, ok := m.accounts[fromAccountID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	to, ok := m.accounts[toAccountID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	if !from.Active || !to.Active {
		return nil, store.ErrAccountInactive
	}
	if from.Balance < params.Amount {
		return nil, store.ErrInsufficientFunds
	}
	from.Balance -= params.Amount
	to.Balance += params.Amount
	return m.recordPayment(domain.AccountParty(fromAccountID), domain.AccountParty(toAccountID), params, to.Balance), nil
}

func (m *memoryLedger) DepositFromReserve(ctx context.Context, toAccountID uuid.UUID, params store.PaymentParams) (*domain.Payment, error) {
	if existing := m.replayedPayment(params.IdempotencyKey); existing != nil {
		return existing, nil
	}
	if m.reserve == nil {
		return nil, store.ErrReserveNotInitialized
	}
	if m.reserve.Balance < params.Amount {
		return nil, store.ErrReserveInsufficient
	}
	account, ok := m.accounts[toAccountID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	if !account.Active {
		return nil, store.ErrAccountInactive
	}
	m.reserve.Balance -= params.Amount
	account.Balance += params.Amount
	return m.recordPayment(domain.ReserveParty(), domain.AccountParty(toAccountID), params, account.Balance), nil
}

func (m *memoryLedger) WithdrawToReserve(ctx context.Context, fromAccountID uuid.UUID, params store.PaymentParams) (*domain.Payment, error) {
	if existing := m.replayedPayment(params.IdempotencyKey); existing != nil {
		return existing, nil
	}
	if m.reserve == nil {
		return nil, store.ErrReserveNotInitialized
	}
	account, ok := m.accounts[fromAccountID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	if !account.Active {
		return nil, store.ErrAccountInactive
	}
	if account.Balance < params.Amount {
		return nil, store.ErrInsufficientFunds
	}
	account.Balance -= params.Amount
	m.reserve.Balance += params.Amount
	return m.recordPayment(domain.AccountParty(fromAccountID), domain.ReserveParty(), params, m.reserve.Balance), nil
}

func (m *memoryLedger) FindPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	for i := range m.payments {
		if m.payments[i].ID == paymentID {
			copied := m.payments[i]
			return &copied, nil
		}
	}
	return nil, store.ErrPaymentNotFound
}

func (m *memoryLedger) ListPaymentsByAccount(ctx context.Context, accountID uuid.UUID, opts domain.PaymentListOptions) ([]domain.Payment, error) {
	var payments []domain.Payment
	for i := range m.payments {
		p := m.payments[i]
		if (p.FromAccountID != nil && *p.FromAccountID == accountID) || (p.ToAccountID != nil && *p.ToAccountID == accountID) {
			payments = append(payments, p)
		}
	}
	sort.SliceStable(payments, func(i, j int) bool { return payments[i].CreatedAt.After(payments[j].CreatedAt) })
	return payments, nil
}

func (m *memoryLedger) CreateDepositRequest(ctx context.Context, request *domain.DepositRequest) (*domain.DepositRequest, error) {
	created := *request
	created.Status = domain.DepositPending
	created.CreatedAt = time.Now().UTC()
	m.requests[created.ID] = &created
	copied := created
	return &copied, nil
}

func (m *memoryLedger) FindDepositRequestByID(ctx context.Context, requestID uuid.UUID) (*domain.DepositRequest, error) {
	request, ok := m.requests[requestID]
	if !ok {
		return nil, store.ErrDepositRequestNotFound
	}
	copied := *request
	return &copied, nil
}

func (m *memoryLedger) ListDepositRequests(ctx context.Context, opts domain.DepositRequestListOptions) ([]domain.DepositRequest, error) {
	var requests []domain.DepositRequest
	for _, request := range m.requests {
		if opts.Status == "" || request.Status == opts.Status {
			requests = append(requests, *request)
		}
	}
	return requests, nil
}

func (m *memoryLedger) ListDepositRequestsByAccount(ctx context.Context, accountID uuid.UUID, opts domain.DepositRequestListOptions) ([]domain.DepositRequest, error) {
	var requests []domain.DepositRequest
	for _, request := range m.requests {
		if request.AccountID != accountID {
			continue
		}
		if opts.Status == "" || request.Status == opts.Status {
			requests = append(requests, *request)
		}
	}
	return requests, nil
}

func (m *memoryLedger) ApproveDepositRequest(ctx context.Context, requestID, staffID uuid.UUID, params store.PaymentParams) (*domain.DepositRequest, *domain.Payment, error) {
	request, ok := m.requests[requestID]
	if !ok {
		return nil, nil, store.ErrDepositRequestNotFound
	}
	if request.Status != domain.DepositPending {
		return nil, nil, store.ErrDepositRequestNotPending
	}
	if m.reserve == nil {
		return nil, nil, store.ErrReserveNotInitialized
	}
	if m.reserve.Balance < request.Amount {
		return nil, nil, store.ErrReserveInsufficient
	}
	account, ok := m.accounts[request.AccountID]
	if !ok {
		return nil, nil, store.ErrAccountNotFound
	}
	if !account.Active {
		return nil, nil, store.ErrAccountInactive
	}

	m.reserve.Balance -= request.Amount
	account.Balance += request.Amount
	params.Amount = request.Amount
	payment := m.recordPayment(domain.ReserveParty(), domain.AccountParty(request.AccountID), params, account.Balance)

	now := time.Now().UTC()
	request.Status = domain.DepositApproved
	request.PaymentID = &payment.ID
	request.ProcessedAt = &now
	request.ProcessedBy = &staffID
	copied := *request
	return &copied, payment, nil
}

func (m *memoryLedger) RejectDepositRequest(ctx context.Context, requestID, staffID uuid.UUID, reason string) (*domain.DepositRequest, error) {
	request, ok := m.requests[requestID]
	if !ok {
		return nil, store.ErrDepositRequestNotFound
	}
	if request.Status != domain.DepositPending {
		return nil, store.ErrDepositRequestNotPending
	}
	now := time.Now().UTC()
	request.Status = domain.DepositRejected
	request.ProcessedAt = &now
	request.ProcessedBy = &staffID
	request.RejectionReason = &reason
	copied := *request
	return &copied, nil
}

func (m *memoryLedger) FindStaffByID(ctx context.Context, staffID uuid.UUID) (*domain.Staff, error) {
	member, ok := m.staff[staffID]
	if !ok {
		return nil, store.ErrStaffNotFound
	}
	copied := *member
	return &copied, nil
}

func (m *memoryLedger) AuditLedger(ctx context.Context) (*store.LedgerAudit, error) {
	var audit store.LedgerAudit
	derived := make(map[uuid.UUID]int64, len(m.accounts))
	var reserveFlow int64
	for i := range m.payments {
		p := m.payments[i]
		if p.FromAccountID != nil {
			derived[*p.FromAccountID] -= p.Amount
		} else {
			reserveFlow -= p.Amount
		}
		if p.ToAccountID != nil {
			derived[*p.ToAccountID] += p.Amount
		} else {
			reserveFlow += p.Amount
		}
	}
	for id, account := range m.accounts {
		audit.AccountCount++
		audit.AccountTotal += account.Balance
		if account.Balance != derived[id] {
			audit.DriftedAccounts++
		}
	}
	if m.reserve != nil {
		audit.ReserveBalance = m.reserve.Balance
		audit.ReserveDrift = m.reserve.Balance - (m.reserveBaseline + reserveFlow)
	}
	return &audit, nil
}

func (m *memoryLedger) replayedPayment(key *string) *domain.Payment {
	if key == nil || *key == "" {
		return nil
	}
	paymentID, ok := m.paymentsByKey[*key]
	if !ok {
		return nil
	}
	for i := range m.payments {
		if m.payments[i].ID == paymentID {
			copied := m.payments[i]
			return &copied
		}
	}
	return nil
}

func (m *memoryLedger) recordPayment(from, to domain.PaymentParty, params store.PaymentParams, balanceAfter int64) *domain.Payment {
	payment := domain.Payment{
		ID:                  params.PaymentID,
		Reference:           params.Reference,
		FromKind:            from.Kind,
		ToKind:              to.Kind,
		Amount:              params.Amount,
		Detail:              params.Detail,
		BalanceAfterPayment: balanceAfter,
		IdempotencyKey:      params.IdempotencyKey,
		CreatedAt:           time.Now().UTC(),
	}
	if !from.IsReserve() {
		id := from.AccountID
		payment.FromAccountID = &id
	}
	if !to.IsReserve() {
		id := to.AccountID
		payment.ToAccountID = &id
	}
	m.payments = append(m.payments, payment)
	if params.IdempotencyKey != nil && *params.IdempotencyKey != "" {
		m.paymentsByKey[*params.IdempotencyKey] = payment.ID
	}
	copied := payment
	return &copied
}

func requireCleanAudit(t *testing.T, ledger *memoryLedger) *store.LedgerAudit {
	t.Helper()
	audit, err := ledger.AuditLedger(context.Background())
	if err != nil {
		t.Fatalf("audit failed: %v", err)
	}
	if audit.DriftedAccounts != 0 {
		t.Fatalf("expected no drifted accounts, got %d", audit.DriftedAccounts)
	}
	if audit.ReserveDrift != 0 {
		t.Fatalf("expected no reserve drift, got %d", audit.ReserveDrift)
	}
	return audit
}

func seedAccount(t *testing.T, svc *Service, balance int64) uuid.UUID {
	t.Helper()
	account, err := svc.CreateAccount(context.Background(), domain.CreateAccountRequest{
		OwnerKind:      domain.OwnerPersonal,
		DisplayName:    "Test Holder",
		OpeningBalance: balance,
	})
	if err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
	return account.ID
}

func TestTransfer_MovesBalancesAndConservesTotal(t *testing.T) {
	ledger := newMemoryLedger()
	svc := NewService(ledger, &publisherStub{})
	ctx := context.Background()

	if _, err := svc.InitializeReserve(ctx, domain.InitializeReservePayload{Amount: 1000000}); err != nil {
		t.Fatalf("failed to initialize reserve: %v", err)
	}
	x := seedAccount(t, svc, 1000)
	y := seedAccount(t, svc, 500)

	payment, err := svc.Transfer(ctx, domain.TransferRequest{
		FromAccountID: x,
		ToAccountID:   y,
		Amount:        300,
		Detail:        "rent",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got := ledger.accounts[x].Balance; got != 700 {
		t.Fatalf("expected source balance 700, got %d", got)
	}
	if got := ledger.accounts[y].Balance; got != 800 {
		t.Fatalf("expected destination balance 800, got %d", got)
	}
	if payment.BalanceAfterPayment != 800 {
		t.Fatalf("expected balance after payment 800, got %d", payment.BalanceAfterPayment)
	}

	audit := requireCleanAudit(t, ledger)
	if audit.AccountTotal != 1500 {
		t.Fatalf("expected account total 1500, got %d", audit.AccountTotal)
	}
	if audit.ReserveBalance != 1000000-1500 {
		t.Fatalf("expected reserve to have funded both openings, got %d", audit.ReserveBalance)
	}
}

func TestTransfer_InsufficientFundsLeavesBalancesIntact(t *testing.T) {
	ledger := newMemoryLedger()
	svc := NewService(ledger, &publisherStub{})
	ctx := context.Background()

	if _, err := svc.InitializeReserve(ctx, domain.InitializeReservePayload{Amount: 1000000}); err != nil {
		t.Fatalf("failed to initialize reserve: %v", err)
	}
	x := seedAccount(t, svc, 100)
	y := seedAccount(t, svc, 0)

	_, err := svc.Transfer(ctx, domain.TransferRequest{FromAccountID: x, ToAccountID: y, Amount: 500})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := ledger.accounts[x].Balance; got != 100 {
		t.Fatalf("expected source balance unchanged at 100, got %d", got)
	}
	if got := ledger.accounts[y].Balance; got != 0 {
		t.Fatalf("expected destination balance unchanged at 0, got %d", got)
	}
	requireCleanAudit(t, ledger)
}

func TestTransfer_SameAccountLeavesLedgerIntact(t *testing.T) {
	ledger := newMemoryLedger()
	svc := NewService(ledger, &publisherStub{})
	ctx := context.Background()

	if _, err := svc.InitializeReserve(ctx, domain.InitializeReservePayload{Amount: 1000000}); err != nil {
		t.Fatalf("failed to initialize reserve: %v", err)
	}
	x := seedAccount(t, svc, 1000)
	before := len(ledger.payments)

	_, err := svc.Transfer(ctx, domain.TransferRequest{FromAccountID: x, ToAccountID: x, Amount: 50})
	if !errors.Is(err, ErrSameAccount) {
		t.Fatalf("expected ErrSameAccount, got %v", err)
	}
	if got := ledger.accounts[x].Balance; got != 1000 {
		t.Fatalf("expected balance unchanged at 1000, got %d", got)
	}
	if len(ledger.payments) != before {
		t.Fatal("expected no payment row for a rejected transfer")
	}
}

func TestTransfer_ReplayedKeyReturnsOriginalPayment(t *testing.T) {
	ledger := newMemoryLedger()
	svc := NewService(ledger, &publisherStub{})
	ctx := context.Background()

	if _, err := svc.InitializeReserve(ctx, domain.InitializeReservePayload{Amount: 1000000}); err != nil {
		t.Fatalf("failed to initialize reserve: %v", err)
	}
	x := seedAccount(t, svc, 1000)
	y := seedAccount(t, svc, 500)

	key := "retry-key-7"
	req := domain.TransferRequest{
		FromAccountID:  x,
		ToAccountID:    y,
		Amount:         300,
		Detail:         "rent",
		IdempotencyKey: &key,
	}

	first, err := svc.Transfer(ctx, req)
	if err != nil {
		t.Fatalf("expected nil error on first attempt, got %v", err)
	}
	paymentsAfterFirst := len(ledger.payments)

	second, err := svc.Transfer(ctx, req)
	if err != nil {
		t.Fatalf("expected nil error on retried attempt, got %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected retried call to return the original payment, got %s and %s", first.ID, second.ID)
	}
	if len(ledger.payments) != paymentsAfterFirst {
		t.Fatalf("expected no new payment row on replay, got %d rows", len(ledger.payments))
	}
	if got := ledger.accounts[x].Balance; got != 700 {
		t.Fatalf("expected funds to move exactly once, source balance %d", got)
	}
	if got := ledger.accounts[y].Balance; got != 800 {
		t.Fatalf("expected funds to move exactly once, destination balance %d", got)
	}
	requireCleanAudit(t, ledger)
}

func TestWithdraw_ReplayedKeySettlesOnce(t *testing.T) {
	ledger := newMemoryLedger()
	svc := NewService(ledger, &publisherStub{})
	ctx := context.Background()

	if _, err := svc.InitializeReserve(ctx, domain.InitializeReservePayload{Amount: 1000000}); err != nil {
		t.Fatalf("failed to initialize reserve: %v", err)
	}
	x := seedAccount(t, svc, 1000)

	key := "withdraw-key-1"
	req := domain.WithdrawalRequest{FromAccountID: x, Amount: 400, IdempotencyKey: &key}

	first, err := svc.Withdraw(ctx, req)
	if err != nil {
		t.Fatalf("expected nil error on first attempt, got %v", err)
	}
	second, err := svc.Withdraw(ctx, req)
	if err != nil {
		t.Fatalf("expected nil error on retried attempt, got %v", err)
	}
	if second.ID != first.ID {
		t.Fatal("expected retried withdrawal to return the original payment")
	}
	if got := ledger.accounts[x].Balance; got != 600 {
		t.Fatalf("expected account debited once, balance %d", got)
	}
	requireCleanAudit(t, ledger)
}

func TestApproveDepositRequest_DebitsReserveAndCreditsAccount(t *testing.T) {
	ledger := newMemoryLedger()
	svc := NewService(ledger, &publisherStub{})
	ctx := context.Background()
	staffID := ledger.addStaff(domain.DepartmentFinance, true)

	if _, err := svc.InitializeReserve(ctx, domain.InitializeReservePayload{Amount: 1000000}); err != nil {
		t.Fatalf("failed to initialize reserve: %v", err)
	}
	z := seedAccount(t, svc, 0)

	request, err := svc.CreateDepositRequest(ctx, z, domain.CreateDepositRequestPayload{Amount: 5000})
	if err != nil {
		t.Fatalf("failed to create deposit request: %v", err)
	}

	approved, err := svc.ApproveDepositRequest(ctx, request.ID, staffID)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if approved.Status != domain.DepositApproved {
		t.Fatalf("expected approved status, got %q", approved.Status)
	}
	if got := ledger.reserve.Balance; got != 995000 {
		t.Fatalf("expected reserve balance 995000, got %d", got)
	}
	if got := ledger.accounts[z].Balance; got != 5000 {
		t.Fatalf("expected account balance 5000, got %d", got)
	}
	if approved.PaymentID == nil {
		t.Fatal("expected approval to link the funding payment")
	}
	payment, err := ledger.FindPaymentByID(ctx, *approved.PaymentID)
	if err != nil {
		t.Fatalf("expected linked payment to exist, got %v", err)
	}
	if payment.BalanceAfterPayment != 5000 {
		t.Fatalf("expected balance after payment 5000, got %d", payment.BalanceAfterPayment)
	}
	requireCleanAudit(t, ledger)
}

func TestApproveDepositRequest_ReserveShortfallMutatesNothing(t *testing.T) {
	ledger := newMemoryLedger()
	svc := NewService(ledger, &publisherStub{})
	ctx := context.Background()
	staffID := ledger.addStaff(domain.DepartmentFinance, true)

	if _, err := svc.InitializeReserve(ctx, domain.InitializeReservePayload{Amount: 50}); err != nil {
		t.Fatalf("failed to initialize reserve: %v", err)
	}
	z := seedAccount(t, svc, 0)

	request, err := svc.CreateDepositRequest(ctx, z, domain.CreateDepositRequestPayload{Amount: 100})
	if err != nil {
		t.Fatalf("failed to create deposit request: %v", err)
	}

	_, err = svc.ApproveDepositRequest(ctx, request.ID, staffID)
	if !errors.Is(err, store.ErrReserveInsufficient) {
		t.Fatalf("expected ErrReserveInsufficient, got %v", err)
	}
	if got := ledger.reserve.Balance; got != 50 {
		t.Fatalf("expected reserve balance unchanged at 50, got %d", got)
	}
	if got := ledger.accounts[z].Balance; got != 0 {
		t.Fatalf("expected account balance unchanged at 0, got %d", got)
	}
	if got := ledger.requests[request.ID].Status; got != domain.DepositPending {
		t.Fatalf("expected request to stay pending, got %q", got)
	}
	requireCleanAudit(t, ledger)
}

func TestRejectDepositRequest_RecordsReasonWithoutMovingFunds(t *testing.T) {
	ledger := newMemoryLedger()
	svc := NewService(ledger, &publisherStub{})
	ctx := context.Background()
	staffID := ledger.addStaff(domain.DepartmentFinance, true)

	if _, err := svc.InitializeReserve(ctx, domain.InitializeReservePayload{Amount: 1000000}); err != nil {
		t.Fatalf("failed to initialize reserve: %v", err)
	}
	z := seedAccount(t, svc, 0)

	request, err := svc.CreateDepositRequest(ctx, z, domain.CreateDepositRequestPayload{Amount: 100})
	if err != nil {
		t.Fatalf("failed to create deposit request: %v", err)
	}
	reserveBefore := ledger.reserve.Balance
	paymentsBefore := len(ledger.payments)

	rejected, err := svc.RejectDepositRequest(ctx, request.ID, staffID, "duplicate")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if rejected.Status != domain.DepositRejected {
		t.Fatalf("expected rejected status, got %q", rejected.Status)
	}
	if rejected.RejectionReason == nil || *rejected.RejectionReason != "duplicate" {
		t.Fatal("expected the rejection reason to be recorded")
	}
	if ledger.reserve.Balance != reserveBefore {
		t.Fatal("expected no reserve movement on rejection")
	}
	if got := ledger.accounts[z].Balance; got != 0 {
		t.Fatalf("expected account balance unchanged at 0, got %d", got)
	}
	if len(ledger.payments) != paymentsBefore {
		t.Fatal("expected no payment row for a rejection")
	}
	requireCleanAudit(t, ledger)
}

func TestLedgerFlow_MixedOperationsConserveFunds(t *testing.T) {
	ledger := newMemoryLedger()
	svc := NewService(ledger, &publisherStub{})
	ctx := context.Background()
	staffID := ledger.addStaff(domain.DepartmentFinance, true)

	if _, err := svc.InitializeReserve(ctx, domain.InitializeReservePayload{Amount: 1000000}); err != nil {
		t.Fatalf("failed to initialize reserve: %v", err)
	}
	x := seedAccount(t, svc, 1000)
	y := seedAccount(t, svc, 500)

	if _, err := svc.Transfer(ctx, domain.TransferRequest{FromAccountID: x, ToAccountID: y, Amount: 300}); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if _, err := svc.Withdraw(ctx, domain.WithdrawalRequest{FromAccountID: y, Amount: 200}); err != nil {
		t.Fatalf("withdrawal failed: %v", err)
	}
	request, err := svc.CreateDepositRequest(ctx, x, domain.CreateDepositRequestPayload{Amount: 2500})
	if err != nil {
		t.Fatalf("failed to create deposit request: %v", err)
	}
	if _, err := svc.ApproveDepositRequest(ctx, request.ID, staffID); err != nil {
		t.Fatalf("approval failed: %v", err)
	}

	audit := requireCleanAudit(t, ledger)
	// Every unit in circulation came out of the reserve and nothing vanished.
	if audit.AccountTotal+audit.ReserveBalance != 1000000 {
		t.Fatalf("expected totals to sum to the initial reserve, got %d", audit.AccountTotal+audit.ReserveBalance)
	}
	if got := ledger.accounts[x].Balance; got != 1000-300+2500 {
		t.Fatalf("unexpected balance for first account: %d", got)
	}
	if got := ledger.accounts[y].Balance; got != 500+300-200 {
		t.Fatalf("unexpected balance for second account: %d", got)
	}
}
