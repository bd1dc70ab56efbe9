package credits

import (
	"context"
	"errors"
	"testing"
)

func TestDeductAndBalance(t *testing.T) {
	ledger := NewLedger()
	ctx := context.Background()

	if err := ledger.Add(ctx, "acct-1", 100, "signup grant"); err != nil {
		t.Fatalf("add: %v", err)
	}

	applied, err := ledger.Deduct(ctx, "acct-1", 30, "run-1", "analysis run")
	if err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if !applied {
		t.Fatal("first deduction should apply")
	}

	balance, err := ledger.Balance(ctx, "acct-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Balance != 70 {
		t.Fatalf("balance: got %d want 70", balance.Balance)
	}
}

func TestDeductIdempotentPerRun(t *testing.T) {
	ledger := NewLedger()
	ctx := context.Background()

	if err := ledger.Add(ctx, "acct-1", 100, "grant"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := ledger.Deduct(ctx, "acct-1", 30, "run-1", "analysis run"); err != nil {
		t.Fatalf("deduct: %v", err)
	}

	applied, err := ledger.Deduct(ctx, "acct-1", 30, "run-1", "analysis run")
	if err != nil {
		t.Fatalf("repeat deduct: %v", err)
	}
	if applied {
		t.Fatal("repeated deduction for the same run must be a no-op")
	}

	balance, _ := ledger.Balance(ctx, "acct-1")
	if balance.Balance != 70 {
		t.Fatalf("balance after repeat: got %d want 70", balance.Balance)
	}
}

func TestDeductInsufficient(t *testing.T) {
	ledger := NewLedger()
	ctx := context.Background()

	if err := ledger.Add(ctx, "acct-1", 10, "grant"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := ledger.Deduct(ctx, "acct-1", 30, "run-1", "analysis run"); !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("got %v want ErrInsufficientCredits", err)
	}

	balance, _ := ledger.Balance(ctx, "acct-1")
	if balance.Balance != 10 {
		t.Fatalf("failed deduction must not change balance: got %d", balance.Balance)
	}
}

func TestRefundIdempotentPerRun(t *testing.T) {
	ledger := NewLedger()
	ctx := context.Background()

	if err := ledger.Add(ctx, "acct-1", 100, "grant"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := ledger.Deduct(ctx, "acct-1", 30, "run-1", "analysis run"); err != nil {
		t.Fatalf("deduct: %v", err)
	}

	applied, err := ledger.Refund(ctx, "acct-1", 30, "run-1", "analysis run failed")
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if !applied {
		t.Fatal("first refund should apply")
	}

	applied, err = ledger.Refund(ctx, "acct-1", 30, "run-1", "analysis run failed")
	if err != nil {
		t.Fatalf("repeat refund: %v", err)
	}
	if applied {
		t.Fatal("repeated refund for the same run must be a no-op")
	}

	balance, _ := ledger.Balance(ctx, "acct-1")
	if balance.Balance != 100 {
		t.Fatalf("balance after deduct+refund: got %d want 100", balance.Balance)
	}
}

func TestHasSufficient(t *testing.T) {
	ledger := NewLedger()
	ctx := context.Background()

	ok, _, err := ledger.HasSufficient(ctx, "acct-1", 10)
	if err != nil {
		t.Fatalf("has sufficient: %v", err)
	}
	if ok {
		t.Fatal("empty account cannot cover 10")
	}

	if err := ledger.Add(ctx, "acct-1", 10, "grant"); err != nil {
		t.Fatalf("add: %v", err)
	}
	ok, balance, err := ledger.HasSufficient(ctx, "acct-1", 10)
	if err != nil {
		t.Fatalf("has sufficient: %v", err)
	}
	if !ok || balance.Balance != 10 {
		t.Fatalf("expected exact balance to suffice: ok=%v balance=%d", ok, balance.Balance)
	}
}
