/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * for accounts, the bank reserve, payments, deposit requests and staff.
 *
 * Every funds movement runs inside one database transaction. Account rows are
 * locked with `SELECT ... FOR UPDATE` in ascending id order, and the reserve
 * row is locked before any account row, so concurrent movements touching the
 * same rows serialize instead of deadlocking or losing updates.
 *
 * @dependencies
 * - context, errors, fmt: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/novabank/ledger-service/internal/domain"
)

var (
	ErrAccountNotFound           = errors.New("account not found")
	ErrAccountInactive           = errors.New("account is inactive")
	ErrInsufficientFunds         = errors.New("insufficient funds")
	ErrReserveInsufficient       = errors.New("bank reserve cannot cover the amount")
	ErrReserveNotInitialized     = errors.New("bank reserve is not initialized")
	ErrReserveAlreadyInitialized = errors.New("bank reserve is already initialized")
	ErrDepositRequestNotFound    = errors.New("deposit request not found")
	ErrDepositRequestNotPending  = errors.New("deposit request is not pending")
	ErrStaffNotFound             = errors.New("staff not found")
	ErrPaymentNotFound           = errors.New("payment not found")
)

const paymentColumns = `id, reference, from_kind, from_account_id, to_kind, to_account_id, amount, detail, balance_after, idempotency_key, created_at`

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateAccount inserts a new account row with a zero balance. Opening
// balances are funded afterwards through DepositFromReserve so that every
// non-zero balance traces back to a payment row.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	query := `
		INSERT INTO accounts (id, account_number, owner_kind, display_name, balance, active)
		VALUES ($1, $2, $3, $4, 0, true)
		RETURNING id, account_number, owner_kind, display_name, balance, active, created_at, updated_at
	`
	var created domain.Account
	err := r.db.QueryRow(ctx, query, account.ID, account.AccountNumber, account.OwnerKind, account.DisplayName).Scan(
		&created.ID, &created.AccountNumber, &created.OwnerKind, &created.DisplayName,
		&created.Balance, &created.Active, &created.CreatedAt, &created.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// FindAccountByID retrieves an account by its internal UUID.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	return r.findAccount(ctx, `SELECT id, account_number, owner_kind, display_name, balance, active, created_at, updated_at FROM accounts WHERE id = $1`, accountID)
}

// FindAccountByNumber retrieves an account by its formatted external number.
func (r *PostgresRepository) FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	return r.findAccount(ctx, `SELECT id, account_number, owner_kind, display_name, balance, active, created_at, updated_at FROM accounts WHERE account_number = $1`, accountNumber)
}

func (r *PostgresRepository) findAccount(ctx context.Context, query string, arg interface{}) (*domain.Account, error) {
	var account domain.Account
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&account.ID, &account.AccountNumber, &account.OwnerKind, &account.DisplayName,
		&account.Balance, &account.Active, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// DeactivateAccount flips the active flag. Accounts are never deleted so that
// historical payment rows keep valid references.
func (r *PostgresRepository) DeactivateAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	query := `
		UPDATE accounts SET active = false, updated_at = NOW()
		WHERE id = $1
		RETURNING id, account_number, owner_kind, display_name, balance, active, created_at, updated_at
	`
	var account domain.Account
	err := r.db.QueryRow(ctx, query, accountID).Scan(
		&account.ID, &account.AccountNumber, &account.OwnerKind, &account.DisplayName,
		&account.Balance, &account.Active, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetReserve returns the singleton bank reserve row.
func (r *PostgresRepository) GetReserve(ctx context.Context) (*domain.BankReserve, error) {
	var reserve domain.BankReserve
	query := `
		SELECT balance, last_tx_type, last_tx_amount, last_tx_reference, initialized_at, last_transaction_at
		FROM bank_reserve WHERE singleton = true
	`
	err := r.db.QueryRow(ctx, query).Scan(
		&reserve.Balance, &reserve.LastTxType, &reserve.LastTxAmount,
		&reserve.LastTxReference, &reserve.InitializedAt, &reserve.LastTransactionAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrReserveNotInitialized
		}
		return nil, err
	}
	return &reserve, nil
}

// InitializeReserve seeds the reserve row or, with override, resets it to a
// new balance. The operation writes its own reserve_audit row so overrides of
// a live balance are traceable.
func (r *PostgresRepository) InitializeReserve(ctx context.Context, amount int64, override bool) (*domain.BankReserve, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	exists := true
	var one int
	err = tx.QueryRow(ctx, `SELECT 1 FROM bank_reserve WHERE singleton = true FOR UPDATE`).Scan(&one)
	if err != nil {
		if err != pgx.ErrNoRows {
			return nil, err
		}
		exists = false
	}

	action := "initialize"
	if exists {
		if !override {
			return nil, ErrReserveAlreadyInitialized
		}
		action = "override"
		_, err = tx.Exec(ctx, `
			UPDATE bank_reserve
			SET balance = $1, last_tx_type = $2, last_tx_amount = $1, last_tx_reference = NULL, last_transaction_at = NOW()
			WHERE singleton = true
		`, amount, action)
	} else {
		_, err = tx.Exec(ctx, `
			INSERT INTO bank_reserve (singleton, balance, last_tx_type, last_tx_amount, initialized_at, last_transaction_at)
			VALUES (true, $1, $2, $1, NOW(), NOW())
		`, amount, action)
	}
	if err != nil {
		return nil, err
	}

	if _, err = tx.Exec(ctx, `INSERT INTO reserve_audit (action, amount, balance_after) VALUES ($1, $2, $2)`, action, amount); err != nil {
		return nil, err
	}

	var reserve domain.BankReserve
	err = tx.QueryRow(ctx, `
		SELECT balance, last_tx_type, last_tx_amount, last_tx_reference, initialized_at, last_transaction_at
		FROM bank_reserve WHERE singleton = true
	`).Scan(
		&reserve.Balance, &reserve.LastTxType, &reserve.LastTxAmount,
		&reserve.LastTxReference, &reserve.InitializedAt, &reserve.LastTransactionAt,
	)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &reserve, nil
}

// Transfer atomically moves funds between two accounts and writes the payment
// row. Both account rows are locked in ascending id order.
func (r *PostgresRepository) Transfer(ctx context.Context, fromAccountID, toAccountID uuid.UUID, params PaymentParams) (*domain.Payment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if existing, err := r.findReplayedPayment(ctx, tx, params.IdempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	// Lock both rows in one statement; ORDER BY id fixes the lock order so
	// two opposing transfers cannot deadlock.
	rows, err := tx.Query(ctx, `
		SELECT id, balance, active FROM accounts
		WHERE id = $1 OR id = $2
		ORDER BY id
		FOR UPDATE
	`, fromAccountID, toAccountID)
	if err != nil {
		return nil, err
	}

	balances := make(map[uuid.UUID]int64, 2)
	active := make(map[uuid.UUID]bool, 2)
	for rows.Next() {
		var id uuid.UUID
		var balance int64
		var isActive bool
		if err := rows.Scan(&id, &balance, &isActive); err != nil {
			rows.Close()
			return nil, err
		}
		balances[id] = balance
		active[id] = isActive
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range []uuid.UUID{fromAccountID, toAccountID} {
		if _, ok := balances[id]; !ok {
			return nil, ErrAccountNotFound
		}
		if !active[id] {
			return nil, ErrAccountInactive
		}
	}

	if balances[fromAccountID] < params.Amount {
		return nil, ErrInsufficientFunds
	}

	if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = balance - $1, updated_at = NOW() WHERE id = $2`, params.Amount, fromAccountID); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = balance + $1, updated_at = NOW() WHERE id = $2`, params.Amount, toAccountID); err != nil {
		return nil, err
	}

	balanceAfter := balances[toAccountID] + params.Amount
	payment, err := r.insertPayment(ctx, tx, insertPaymentParams{
		PaymentParams: params,
		From:          domain.AccountParty(fromAccountID),
		To:            domain.AccountParty(toAccountID),
		BalanceAfter:  balanceAfter,
	})
	if err != nil {
		return r.recoverReplayedPayment(ctx, err, params.IdempotencyKey)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return payment, nil
}

// DepositFromReserve atomically debits the bank reserve and credits an
// account, writing the payment row. The reserve row is locked first.
func (r *PostgresRepository) DepositFromReserve(ctx context.Context, toAccountID uuid.UUID, params PaymentParams) (*domain.Payment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if existing, err := r.findReplayedPayment(ctx, tx, params.IdempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	reserveBalance, err := lockReserve(ctx, tx)
	if err != nil {
		return nil, err
	}
	if reserveBalance < params.Amount {
		return nil, ErrReserveInsufficient
	}

	accountBalance, err := lockActiveAccount(ctx, tx, toAccountID)
	if err != nil {
		return nil, err
	}

	if err := adjustReserve(ctx, tx, -params.Amount, "deposit", params.PaymentID); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = balance + $1, updated_at = NOW() WHERE id = $2`, params.Amount, toAccountID); err != nil {
		return nil, err
	}

	payment, err := r.insertPayment(ctx, tx, insertPaymentParams{
		PaymentParams: params,
		From:          domain.ReserveParty(),
		To:            domain.AccountParty(toAccountID),
		BalanceAfter:  accountBalance + params.Amount,
	})
	if err != nil {
		return r.recoverReplayedPayment(ctx, err, params.IdempotencyKey)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return payment, nil
}

// WithdrawToReserve atomically debits an account and credits the bank
// reserve, writing the payment row.
func (r *PostgresRepository) WithdrawToReserve(ctx context.Context, fromAccountID uuid.UUID, params PaymentParams) (*domain.Payment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if existing, err := r.findReplayedPayment(ctx, tx, params.IdempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	reserveBalance, err := lockReserve(ctx, tx)
	if err != nil {
		return nil, err
	}

	accountBalance, err := lockActiveAccount(ctx, tx, fromAccountID)
	if err != nil {
		return nil, err
	}
	if accountBalance < params.Amount {
		return nil, ErrInsufficientFunds
	}

	if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = balance - $1, updated_at = NOW() WHERE id = $2`, params.Amount, fromAccountID); err != nil {
		return nil, err
	}
	if err := adjustReserve(ctx, tx, params.Amount, "withdrawal", params.PaymentID); err != nil {
		return nil, err
	}

	payment, err := r.insertPayment(ctx, tx, insertPaymentParams{
		PaymentParams: params,
		From:          domain.AccountParty(fromAccountID),
		To:            domain.ReserveParty(),
		BalanceAfter:  reserveBalance + params.Amount,
	})
	if err != nil {
		return r.recoverReplayedPayment(ctx, err, params.IdempotencyKey)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return payment, nil
}

// FindPaymentByID retrieves a single payment row.
func (r *PostgresRepository) FindPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	row := r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, paymentID)
	payment, err := scanPayment(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return payment, nil
}

// ListPaymentsByAccount retrieves payments touching an account, newest first.
func (r *PostgresRepository) ListPaymentsByAccount(ctx context.Context, accountID uuid.UUID, opts domain.PaymentListOptions) ([]domain.Payment, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE from_account_id = $1 OR to_account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *payment)
	}
	return payments, rows.Err()
}

// CreateDepositRequest inserts a new pending deposit request.
func (r *PostgresRepository) CreateDepositRequest(ctx context.Context, request *domain.DepositRequest) (*domain.DepositRequest, error) {
	query := `
		INSERT INTO deposit_requests (id, account_id, amount, note, status)
		VALUES ($1, $2, $3, $4, 'pending')
		RETURNING id, account_id, amount, note, status, payment_id, processed_at, processed_by, rejection_reason, created_at
	`
	row := r.db.QueryRow(ctx, query, request.ID, request.AccountID, request.Amount, request.Note)
	created, err := scanDepositRequest(row)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return created, nil
}

// FindDepositRequestByID retrieves one deposit request.
func (r *PostgresRepository) FindDepositRequestByID(ctx context.Context, requestID uuid.UUID) (*domain.DepositRequest, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, account_id, amount, note, status, payment_id, processed_at, processed_by, rejection_reason, created_at
		FROM deposit_requests WHERE id = $1
	`, requestID)
	request, err := scanDepositRequest(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrDepositRequestNotFound
		}
		return nil, err
	}
	return request, nil
}

// ListDepositRequests retrieves deposit requests across all accounts,
// optionally filtered by status. This backs the finance staff review queue.
func (r *PostgresRepository) ListDepositRequests(ctx context.Context, opts domain.DepositRequestListOptions) ([]domain.DepositRequest, error) {
	query := `
		SELECT id, account_id, amount, note, status, payment_id, processed_at, processed_by, rejection_reason, created_at
		FROM deposit_requests
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	return r.listDepositRequests(ctx, query, opts.Status, clampLimit(opts.Limit), clampOffset(opts.Offset))
}

// ListDepositRequestsByAccount retrieves one account's deposit requests.
func (r *PostgresRepository) ListDepositRequestsByAccount(ctx context.Context, accountID uuid.UUID, opts domain.DepositRequestListOptions) ([]domain.DepositRequest, error) {
	query := `
		SELECT id, account_id, amount, note, status, payment_id, processed_at, processed_by, rejection_reason, created_at
		FROM deposit_requests
		WHERE account_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	return r.listDepositRequests(ctx, query, accountID, opts.Status, clampLimit(opts.Limit), clampOffset(opts.Offset))
}

func (r *PostgresRepository) listDepositRequests(ctx context.Context, query string, args ...interface{}) ([]domain.DepositRequest, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []domain.DepositRequest
	for rows.Next() {
		request, err := scanDepositRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *request)
	}
	return requests, rows.Err()
}

// ApproveDepositRequest performs the approval atomically: the request row is
// locked and re-checked, the reserve is debited, the account credited, the
// payment row written and the status flipped. If the reserve cannot cover the
// amount nothing is mutated and the request stays pending.
func (r *PostgresRepository) ApproveDepositRequest(ctx context.Context, requestID, staffID uuid.UUID, params PaymentParams) (*domain.DepositRequest, *domain.Payment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	request, err := lockDepositRequest(ctx, tx, requestID)
	if err != nil {
		return nil, nil, err
	}
	if request.Status != domain.DepositPending {
		return nil, nil, ErrDepositRequestNotPending
	}

	reserveBalance, err := lockReserve(ctx, tx)
	if err != nil {
		return nil, nil, err
	}
	if reserveBalance < request.Amount {
		return nil, nil, ErrReserveInsufficient
	}

	accountBalance, err := lockActiveAccount(ctx, tx, request.AccountID)
	if err != nil {
		return nil, nil, err
	}

	if err := adjustReserve(ctx, tx, -request.Amount, "deposit", params.PaymentID); err != nil {
		return nil, nil, err
	}
	if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = balance + $1, updated_at = NOW() WHERE id = $2`, request.Amount, request.AccountID); err != nil {
		return nil, nil, err
	}

	params.Amount = request.Amount
	payment, err := r.insertPayment(ctx, tx, insertPaymentParams{
		PaymentParams: params,
		From:          domain.ReserveParty(),
		To:            domain.AccountParty(request.AccountID),
		BalanceAfter:  accountBalance + request.Amount,
	})
	if err != nil {
		return nil, nil, err
	}

	row := tx.QueryRow(ctx, `
		UPDATE deposit_requests
		SET status = 'approved', payment_id = $2, processed_at = NOW(), processed_by = $3
		WHERE id = $1
		RETURNING id, account_id, amount, note, status, payment_id, processed_at, processed_by, rejection_reason, created_at
	`, requestID, payment.ID, staffID)
	updated, err := scanDepositRequest(row)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return updated, payment, nil
}

// RejectDepositRequest flips a pending request to rejected. No funds move.
// The lock and the pending check share the transaction with the update so a
// concurrent approve cannot also succeed.
func (r *PostgresRepository) RejectDepositRequest(ctx context.Context, requestID, staffID uuid.UUID, reason string) (*domain.DepositRequest, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	request, err := lockDepositRequest(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}
	if request.Status != domain.DepositPending {
		return nil, ErrDepositRequestNotPending
	}

	row := tx.QueryRow(ctx, `
		UPDATE deposit_requests
		SET status = 'rejected', processed_at = NOW(), processed_by = $2, rejection_reason = $3
		WHERE id = $1
		RETURNING id, account_id, amount, note, status, payment_id, processed_at, processed_by, rejection_reason, created_at
	`, requestID, staffID, reason)
	updated, err := scanDepositRequest(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

// FindStaffByID retrieves a staff actor for the department check.
func (r *PostgresRepository) FindStaffByID(ctx context.Context, staffID uuid.UUID) (*domain.Staff, error) {
	var staff domain.Staff
	query := `SELECT id, full_name, department, active, created_at FROM staff WHERE id = $1`
	err := r.db.QueryRow(ctx, query, staffID).Scan(&staff.ID, &staff.FullName, &staff.Department, &staff.Active, &staff.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrStaffNotFound
		}
		return nil, err
	}
	return &staff, nil
}

// AuditLedger recomputes every account balance from the payment log and the
// reserve balance from the last audit baseline plus subsequent flows.
func (r *PostgresRepository) AuditLedger(ctx context.Context) (*LedgerAudit, error) {
	var audit LedgerAudit

	err := r.db.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(balance), 0) FROM accounts`).Scan(&audit.AccountCount, &audit.AccountTotal)
	if err != nil {
		return nil, err
	}

	err = r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM accounts a
		WHERE a.balance <>
			COALESCE((SELECT SUM(p.amount) FROM payments p WHERE p.to_account_id = a.id), 0)
			- COALESCE((SELECT SUM(p.amount) FROM payments p WHERE p.from_account_id = a.id), 0)
	`).Scan(&audit.DriftedAccounts)
	if err != nil {
		return nil, err
	}

	reserve, err := r.GetReserve(ctx)
	if err != nil {
		if errors.Is(err, ErrReserveNotInitialized) {
			return &audit, nil
		}
		return nil, err
	}
	audit.ReserveBalance = reserve.Balance

	var baseline int64
	var implied int64
	// balance_after already reflects every payment up to and including the
	// baseline instant, so only strictly later payments count as flow.
	err = r.db.QueryRow(ctx, `
		WITH last_audit AS (
			SELECT balance_after, created_at
			FROM reserve_audit
			ORDER BY id DESC
			LIMIT 1
		)
		SELECT la.balance_after,
			la.balance_after
			+ COALESCE((SELECT SUM(p.amount) FROM payments p WHERE p.to_kind = 'reserve' AND p.created_at > la.created_at), 0)
			- COALESCE((SELECT SUM(p.amount) FROM payments p WHERE p.from_kind = 'reserve' AND p.created_at > la.created_at), 0)
		FROM last_audit la
	`).Scan(&baseline, &implied)
	if err != nil {
		if err == pgx.ErrNoRows {
			return &audit, nil
		}
		return nil, err
	}
	audit.ReserveDrift = audit.ReserveBalance - implied

	return &audit, nil
}

type insertPaymentParams struct {
	PaymentParams
	From         domain.PaymentParty
	To           domain.PaymentParty
	BalanceAfter int64
}

func (r *PostgresRepository) insertPayment(ctx context.Context, tx pgx.Tx, params insertPaymentParams) (*domain.Payment, error) {
	var fromAccountID, toAccountID *uuid.UUID
	if !params.From.IsReserve() {
		id := params.From.AccountID
		fromAccountID = &id
	}
	if !params.To.IsReserve() {
		id := params.To.AccountID
		toAccountID = &id
	}

	query := `
		INSERT INTO payments (id, reference, from_kind, from_account_id, to_kind, to_account_id, amount, detail, balance_after, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + paymentColumns
	row := tx.QueryRow(ctx, query,
		params.PaymentID, params.Reference,
		string(params.From.Kind), fromAccountID,
		string(params.To.Kind), toAccountID,
		params.Amount, params.Detail, params.BalanceAfter, params.IdempotencyKey,
	)
	return scanPayment(row)
}

// findReplayedPayment returns the previously committed payment for a client
// idempotency key, if any, so retried requests do not move funds twice.
func (r *PostgresRepository) findReplayedPayment(ctx context.Context, tx pgx.Tx, key *string) (*domain.Payment, error) {
	if key == nil || *key == "" {
		return nil, nil
	}
	row := tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE idempotency_key = $1`, *key)
	payment, err := scanPayment(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return payment, nil
}

// recoverReplayedPayment handles the race where two requests with the same
// idempotency key pass the pre-check: the loser's insert hits the unique
// index, its transaction rolls back untouched, and the winner's payment is
// returned instead.
func (r *PostgresRepository) recoverReplayedPayment(ctx context.Context, insertErr error, key *string) (*domain.Payment, error) {
	if key == nil || !isUniqueViolation(insertErr, "payments_idempotency_key_idx") {
		return nil, insertErr
	}
	row := r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE idempotency_key = $1`, *key)
	payment, err := scanPayment(row)
	if err != nil {
		return nil, fmt.Errorf("idempotency replay lookup failed: %w", err)
	}
	return payment, nil
}

func lockReserve(ctx context.Context, tx pgx.Tx) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `SELECT balance FROM bank_reserve WHERE singleton = true FOR UPDATE`).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, ErrReserveNotInitialized
		}
		return 0, err
	}
	return balance, nil
}

func adjustReserve(ctx context.Context, tx pgx.Tx, delta int64, txType string, reference uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE bank_reserve
		SET balance = balance + $1, last_tx_type = $2, last_tx_amount = $3, last_tx_reference = $4, last_transaction_at = NOW()
		WHERE singleton = true
	`, delta, txType, abs64(delta), reference)
	return err
}

func lockActiveAccount(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (int64, error) {
	var balance int64
	var isActive bool
	err := tx.QueryRow(ctx, `SELECT balance, active FROM accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&balance, &isActive)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}
	if !isActive {
		return 0, ErrAccountInactive
	}
	return balance, nil
}

func lockDepositRequest(ctx context.Context, tx pgx.Tx, requestID uuid.UUID) (*domain.DepositRequest, error) {
	row := tx.QueryRow(ctx, `
		SELECT id, account_id, amount, note, status, payment_id, processed_at, processed_by, rejection_reason, created_at
		FROM deposit_requests
		WHERE id = $1
		FOR UPDATE
	`, requestID)
	request, err := scanDepositRequest(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrDepositRequestNotFound
		}
		return nil, err
	}
	return request, nil
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var payment domain.Payment
	var fromKind, toKind string
	err := row.Scan(
		&payment.ID, &payment.Reference,
		&fromKind, &payment.FromAccountID,
		&toKind, &payment.ToAccountID,
		&payment.Amount, &payment.Detail, &payment.BalanceAfterPayment,
		&payment.IdempotencyKey, &payment.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	payment.FromKind = domain.PartyKind(fromKind)
	payment.ToKind = domain.PartyKind(toKind)
	return &payment, nil
}

func scanDepositRequest(row pgx.Row) (*domain.DepositRequest, error) {
	var request domain.DepositRequest
	err := row.Scan(
		&request.ID, &request.AccountID, &request.Amount, &request.Note,
		&request.Status, &request.PaymentID, &request.ProcessedAt,
		&request.ProcessedBy, &request.RejectionReason, &request.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &request, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}

func clampOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
