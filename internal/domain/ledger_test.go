package domain

import (
	"testing"

	"github.com/google/uuid"
)

func TestPaymentPartyString(t *testing.T) {
	accountID := uuid.MustParse("2f77c2f5-c857-4895-9589-e3915e85a43e")

	if got := ReserveParty().String(); got != "reserve" {
		t.Fatalf("expected reserve, got %q", got)
	}
	if got := AccountParty(accountID).String(); got != "account:2f77c2f5-c857-4895-9589-e3915e85a43e" {
		t.Fatalf("unexpected account party string %q", got)
	}
}

func TestPaymentSidesFallBackToReserve(t *testing.T) {
	accountID := uuid.New()
	payment := Payment{
		FromKind:    PartyReserve,
		ToKind:      PartyAccount,
		ToAccountID: &accountID,
	}

	if !payment.From().IsReserve() {
		t.Fatal("expected reserve debit side")
	}
	if payment.To().IsReserve() {
		t.Fatal("expected account credit side")
	}
	if payment.To().AccountID != accountID {
		t.Fatal("expected credit side to carry the account id")
	}

	// A row with an account kind but no id cannot name an account.
	orphan := Payment{FromKind: PartyAccount, ToKind: PartyReserve}
	if !orphan.From().IsReserve() {
		t.Fatal("expected missing account id to resolve to reserve")
	}
}

func TestDepositRequestTerminal(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{DepositPending, false},
		{DepositApproved, true},
		{DepositRejected, true},
	}

	for _, tt := range tests {
		request := DepositRequest{Status: tt.status}
		if got := request.Terminal(); got != tt.want {
			t.Fatalf("status %q: expected terminal=%t, got %t", tt.status, tt.want, got)
		}
	}
}
