/**
 * @description
 * This file contains the HTTP handlers for the ledger-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * Business errors from the core arrive as typed sentinels and are translated
 * verbatim into client-facing responses; only storage failures become 503s.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/novabank/ledger-service/internal/app"
	"github.com/novabank/ledger-service/internal/domain"
	"github.com/novabank/ledger-service/internal/store"
)

// LedgerHandlers holds the application service that handlers will use.
type LedgerHandlers struct {
	service *app.Service
}

// NewLedgerHandlers creates a new instance of LedgerHandlers.
func NewLedgerHandlers(service *app.Service) *LedgerHandlers {
	return &LedgerHandlers{service: service}
}

type errorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// paymentResponse mirrors the payment shape the frontend reads, with the
// party sides rendered as tagged strings rather than sentinel ids.
type paymentResponse struct {
	PaymentID           string  `json:"payment_id"`
	Reference           string  `json:"reference"`
	From                string  `json:"from"`
	To                  string  `json:"to"`
	Amount              int64   `json:"amount"`
	Detail              string  `json:"detail"`
	BalanceAfterPayment int64   `json:"balance_after_payment"`
	IdempotencyKey      *string `json:"idempotency_key,omitempty"`
	CreatedAt           string  `json:"created_at"`
}

func buildPaymentResponse(payment *domain.Payment) paymentResponse {
	return paymentResponse{
		PaymentID:           payment.ID.String(),
		Reference:           payment.Reference,
		From:                payment.From().String(),
		To:                  payment.To().String(),
		Amount:              payment.Amount,
		Detail:              payment.Detail,
		BalanceAfterPayment: payment.BalanceAfterPayment,
		IdempotencyKey:      payment.IdempotencyKey,
		CreatedAt:           payment.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

// CreateAccountHandler handles admin account registration.
func (h *LedgerHandlers) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=create_account outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, "invalid_body", fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	account, err := h.service.CreateAccount(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, "create_account", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, account)
}

// GetAccountHandler resolves an account by internal id or account number.
func (h *LedgerHandlers) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "id")
	account, err := h.service.GetAccount(r.Context(), ref)
	if err != nil {
		h.respondServiceError(w, "get_account", err)
		return
	}
	h.writeJSON(w, http.StatusOK, account)
}

// DeactivateAccountHandler retires an account from new payments.
func (h *LedgerHandlers) DeactivateAccountHandler(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_id", "Account id must be a UUID")
		return
	}
	account, err := h.service.DeactivateAccount(r.Context(), accountID)
	if err != nil {
		h.respondServiceError(w, "deactivate_account", err)
		return
	}
	h.writeJSON(w, http.StatusOK, account)
}

// ListAccountPaymentsHandler returns an account's payment history.
func (h *LedgerHandlers) ListAccountPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_id", "Account id must be a UUID")
		return
	}

	opts := domain.PaymentListOptions{
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	}
	payments, err := h.service.ListAccountPayments(r.Context(), accountID, opts)
	if err != nil {
		h.respondServiceError(w, "list_payments", err)
		return
	}

	responses := make([]paymentResponse, 0, len(payments))
	for i := range payments {
		responses = append(responses, buildPaymentResponse(&payments[i]))
	}
	h.writeJSON(w, http.StatusOK, responses)
}

// GetReserveHandler returns the bank reserve register.
func (h *LedgerHandlers) GetReserveHandler(w http.ResponseWriter, r *http.Request) {
	reserve, err := h.service.GetReserve(r.Context())
	if err != nil {
		h.respondServiceError(w, "get_reserve", err)
		return
	}
	h.writeJSON(w, http.StatusOK, reserve)
}

// InitializeReserveHandler seeds or (with override) resets the reserve.
func (h *LedgerHandlers) InitializeReserveHandler(w http.ResponseWriter, r *http.Request) {
	var payload domain.InitializeReservePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_body", fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	reserve, err := h.service.InitializeReserve(r.Context(), payload)
	if err != nil {
		h.respondServiceError(w, "initialize_reserve", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, reserve)
}

// TransferHandler executes an account-to-account payment.
func (h *LedgerHandlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := GetIdentity(r.Context())
	if !ok {
		http.Error(w, "Could not get caller identity from context", http.StatusInternalServerError)
		return
	}

	var req domain.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=transfer outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, "invalid_body", fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	// Customers may only move their own funds; staff and admin may act on any account.
	if identity.Role == RoleCustomer {
		if identity.AccountID == nil || *identity.AccountID != req.FromAccountID {
			h.writeError(w, http.StatusForbidden, "unauthorized", "You can only transfer from your own account")
			return
		}
	}

	payment, err := h.service.Transfer(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, "transfer", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, buildPaymentResponse(payment))
}

// WithdrawalHandler executes an account-to-reserve payment.
func (h *LedgerHandlers) WithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := GetIdentity(r.Context())
	if !ok {
		http.Error(w, "Could not get caller identity from context", http.StatusInternalServerError)
		return
	}

	var req domain.WithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_body", fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	if identity.Role == RoleCustomer {
		if identity.AccountID == nil || *identity.AccountID != req.FromAccountID {
			h.writeError(w, http.StatusForbidden, "unauthorized", "You can only withdraw from your own account")
			return
		}
	}

	payment, err := h.service.Withdraw(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, "withdrawal", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, buildPaymentResponse(payment))
}

// CreateDepositRequestHandler opens a pending deposit request for the
// caller's own account.
func (h *LedgerHandlers) CreateDepositRequestHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := GetIdentity(r.Context())
	if !ok {
		http.Error(w, "Could not get caller identity from context", http.StatusInternalServerError)
		return
	}
	if identity.AccountID == nil {
		h.writeError(w, http.StatusForbidden, "unauthorized", "No account associated with this caller")
		return
	}

	var payload domain.CreateDepositRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_body", fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	request, err := h.service.CreateDepositRequest(r.Context(), *identity.AccountID, payload)
	if err != nil {
		h.respondServiceError(w, "create_deposit_request", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, request)
}

// ListDepositRequestsHandler returns the staff review queue, or the caller's
// own requests for customers.
func (h *LedgerHandlers) ListDepositRequestsHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := GetIdentity(r.Context())
	if !ok {
		http.Error(w, "Could not get caller identity from context", http.StatusInternalServerError)
		return
	}

	opts := domain.DepositRequestListOptions{
		Status: strings.TrimSpace(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	}

	var requests []domain.DepositRequest
	var err error
	if identity.Role == RoleCustomer {
		if identity.AccountID == nil {
			h.writeError(w, http.StatusForbidden, "unauthorized", "No account associated with this caller")
			return
		}
		requests, err = h.service.ListDepositRequestsByAccount(r.Context(), *identity.AccountID, opts)
	} else {
		requests, err = h.service.ListDepositRequests(r.Context(), opts)
	}
	if err != nil {
		h.respondServiceError(w, "list_deposit_requests", err)
		return
	}
	h.writeJSON(w, http.StatusOK, requests)
}

// GetDepositRequestHandler returns one deposit request. Customers can only
// read requests for their own account.
func (h *LedgerHandlers) GetDepositRequestHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := GetIdentity(r.Context())
	if !ok {
		http.Error(w, "Could not get caller identity from context", http.StatusInternalServerError)
		return
	}
	requestID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_id", "Request id must be a UUID")
		return
	}

	request, err := h.service.GetDepositRequest(r.Context(), requestID)
	if err != nil {
		h.respondServiceError(w, "get_deposit_request", err)
		return
	}
	if identity.Role == RoleCustomer {
		if identity.AccountID == nil || *identity.AccountID != request.AccountID {
			h.writeError(w, http.StatusNotFound, "request_not_found", "deposit request not found")
			return
		}
	}
	h.writeJSON(w, http.StatusOK, request)
}

// ApproveDepositRequestHandler approves a pending deposit request, moving
// funds from the reserve. The acting staff id comes from the token subject.
func (h *LedgerHandlers) ApproveDepositRequestHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := GetIdentity(r.Context())
	if !ok {
		http.Error(w, "Could not get caller identity from context", http.StatusInternalServerError)
		return
	}
	requestID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_id", "Request id must be a UUID")
		return
	}

	request, err := h.service.ApproveDepositRequest(r.Context(), requestID, identity.SubjectID)
	if err != nil {
		h.respondServiceError(w, "approve_deposit_request", err)
		return
	}
	h.writeJSON(w, http.StatusOK, request)
}

// RejectDepositRequestHandler rejects a pending deposit request. No funds move.
func (h *LedgerHandlers) RejectDepositRequestHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := GetIdentity(r.Context())
	if !ok {
		http.Error(w, "Could not get caller identity from context", http.StatusInternalServerError)
		return
	}
	requestID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_id", "Request id must be a UUID")
		return
	}

	var payload domain.RejectDepositRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_body", fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	request, err := h.service.RejectDepositRequest(r.Context(), requestID, identity.SubjectID, payload.Reason)
	if err != nil {
		h.respondServiceError(w, "reject_deposit_request", err)
		return
	}
	h.writeJSON(w, http.StatusOK, request)
}

// respondServiceError maps core errors onto HTTP statuses with a
// machine-readable kind, keeping business rejections distinct from storage
// failures.
func (h *LedgerHandlers) respondServiceError(w http.ResponseWriter, endpoint string, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidAmount):
		h.writeError(w, http.StatusBadRequest, "invalid_amount", err.Error())
	case errors.Is(err, app.ErrSameAccount):
		h.writeError(w, http.StatusBadRequest, "same_account", err.Error())
	case errors.Is(err, app.ErrMissingReason):
		h.writeError(w, http.StatusBadRequest, "missing_reason", err.Error())
	case errors.Is(err, app.ErrInvalidOwnerKind), errors.Is(err, app.ErrMissingDisplayName):
		h.writeError(w, http.StatusBadRequest, "invalid_account", err.Error())
	case errors.Is(err, app.ErrUnauthorized):
		h.writeError(w, http.StatusForbidden, "unauthorized", err.Error())
	case errors.Is(err, store.ErrAccountNotFound):
		h.writeError(w, http.StatusNotFound, "account_not_found", err.Error())
	case errors.Is(err, store.ErrDepositRequestNotFound):
		h.writeError(w, http.StatusNotFound, "request_not_found", err.Error())
	case errors.Is(err, store.ErrPaymentNotFound):
		h.writeError(w, http.StatusNotFound, "payment_not_found", err.Error())
	case errors.Is(err, store.ErrReserveNotInitialized):
		h.writeError(w, http.StatusNotFound, "reserve_not_initialized", err.Error())
	case errors.Is(err, store.ErrDepositRequestNotPending):
		h.writeError(w, http.StatusConflict, "not_pending", err.Error())
	case errors.Is(err, store.ErrReserveAlreadyInitialized):
		h.writeError(w, http.StatusConflict, "already_initialized", err.Error())
	case errors.Is(err, store.ErrAccountInactive):
		h.writeError(w, http.StatusConflict, "account_inactive", err.Error())
	case errors.Is(err, store.ErrInsufficientFunds):
		h.writeError(w, http.StatusUnprocessableEntity, "insufficient_funds", err.Error())
	case errors.Is(err, store.ErrReserveInsufficient):
		h.writeError(w, http.StatusUnprocessableEntity, "reserve_insufficient", err.Error())
	case errors.Is(err, app.ErrRateLimited):
		h.writeError(w, http.StatusTooManyRequests, "rate_limited", err.Error())
	case errors.Is(err, app.ErrStorageUnavailable):
		log.Printf("level=error component=api endpoint=%s msg=\"storage failure\" err=%v", endpoint, err)
		h.writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "Storage is temporarily unavailable")
	default:
		log.Printf("level=error component=api endpoint=%s msg=\"unexpected error\" err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "internal", "Internal server error")
	}
}

func (h *LedgerHandlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("level=error component=api msg=\"response encode failed\" err=%v", err)
	}
}

func (h *LedgerHandlers) writeError(w http.ResponseWriter, status int, kind, message string) {
	h.writeJSON(w, status, errorResponse{Kind: kind, Message: message})
}

func queryInt(r *http.Request, key string) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return value
}
