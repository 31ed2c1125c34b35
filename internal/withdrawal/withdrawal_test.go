package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/bazaarpay/walletd/internal/ledger"
	"github.com/bazaarpay/walletd/internal/locks"
	"github.com/bazaarpay/walletd/internal/tiers"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// stubGateway returns a scripted result or error and records calls.
type stubGateway struct {
	result  *TransferResult
	err     error
	calls   int
	lastReq TransferRequest
}

func (g *stubGateway) InitiateTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	g.calls++
	g.lastReq = req
	if g.err != nil {
		return nil, g.err
	}
	return g.result, nil
}

type fixture struct {
	engine    *ledger.Engine
	manager   *locks.Manager
	processor *Processor
	gateway   *stubGateway
	store     *MemoryStore
}

func newFixture(provider tiers.Provider) *fixture {
	engine := ledger.New(ledger.NewMemoryStore())
	manager := locks.NewManager(locks.NewMemoryStore(), engine)
	gateway := &stubGateway{result: &TransferResult{GatewayTransferID: "gw_1", Status: "ACCEPTED"}}
	store := NewMemoryStore()
	if provider == nil {
		provider = tiers.StaticProvider{}
	}
	processor := NewProcessor(store, manager, engine, gateway, provider)
	return &fixture{engine: engine, manager: manager, processor: processor, gateway: gateway, store: store}
}

func (f *fixture) fund(t *testing.T, userID, amount string) {
	t.Helper()
	if _, err := f.engine.Credit(context.Background(), userID, dec(amount), "topup", "t1", ""); err != nil {
		t.Fatalf("funding %s failed: %v", userID, err)
	}
}

func (f *fixture) balance(t *testing.T, userID string) *ledger.Wallet {
	t.Helper()
	w, err := f.engine.Balance(context.Background(), userID)
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	return w
}

func (f *fixture) request(t *testing.T, userID, amount string, method Method) *Request {
	t.Helper()
	req, err := f.processor.Request(context.Background(), RequestInput{
		UserID: userID, Amount: dec(amount), Method: method,
		Destination: Destination{Name: "A Seller", UPIAddress: "seller@upi"},
	})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	return req
}

func TestProcessor_Request(t *testing.T) {
	f := newFixture(nil)
	f.fund(t, "user1", "10000.00")

	req := f.request(t, "user1", "5000.00", MethodUPI)
	if req.Status != StatusPending {
		t.Errorf("status = %s, want pending", req.Status)
	}
	if req.LockID == "" {
		t.Error("lock id not recorded")
	}

	w := f.balance(t, "user1")
	if !w.Available.Equal(dec("5000.00")) || !w.Locked.Equal(dec("5000.00")) {
		t.Errorf("wallet = %s/%s, want 5000.00/5000.00", w.Available, w.Locked)
	}

	lock, err := f.manager.Get(context.Background(), req.LockID)
	if err != nil {
		t.Fatalf("Get lock failed: %v", err)
	}
	if lock.Status != locks.StatusActive {
		t.Errorf("lock status = %s, want active", lock.Status)
	}
	if lock.ReferenceID != req.ID {
		t.Errorf("lock reference = %s, want %s", lock.ReferenceID, req.ID)
	}
}

func TestProcessor_RequestBelowMinimum(t *testing.T) {
	f := newFixture(nil)
	f.fund(t, "user1", "10000.00")

	_, err := f.processor.Request(context.Background(), RequestInput{
		UserID: "user1", Amount: dec("50.00"), Method: MethodUPI,
	})
	if !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("err = %v, want ErrBelowMinimum", err)
	}
	if w := f.balance(t, "user1"); !w.Locked.IsZero() {
		t.Errorf("locked = %s, want 0", w.Locked)
	}
}

func TestProcessor_RequestInvalidMethod(t *testing.T) {
	f := newFixture(nil)
	_, err := f.processor.Request(context.Background(), RequestInput{
		UserID: "user1", Amount: dec("500.00"), Method: "cheque",
	})
	if !errors.Is(err, ErrInvalidMethod) {
		t.Fatalf("err = %v, want ErrInvalidMethod", err)
	}
}

func TestProcessor_RequestInsufficientFunds(t *testing.T) {
	f := newFixture(nil)
	f.fund(t, "user1", "100.00")

	_, err := f.processor.Request(context.Background(), RequestInput{
		UserID: "user1", Amount: dec("500.00"), Method: MethodUPI,
	})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}

	list, err := f.processor.ListByUser(context.Background(), "user1", 10)
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("requests recorded = %d, want 0", len(list))
	}
}

func TestProcessor_RequestDailyLimit(t *testing.T) {
	// Basic tier allows 25000 per day.
	f := newFixture(nil)
	f.fund(t, "user1", "60000.00")

	f.request(t, "user1", "20000.00", MethodBankTransfer)

	_, err := f.processor.Request(context.Background(), RequestInput{
		UserID: "user1", Amount: dec("10000.00"), Method: MethodBankTransfer,
	})
	if !errors.Is(err, ErrDailyLimitExceeded) {
		t.Fatalf("err = %v, want ErrDailyLimitExceeded", err)
	}

	// Still room below the limit.
	f.request(t, "user1", "5000.00", MethodBankTransfer)
}

func TestProcessor_RequestDailyLimitIgnoresFailed(t *testing.T) {
	f := newFixture(nil)
	f.fund(t, "user1", "60000.00")

	first := f.request(t, "user1", "20000.00", MethodBankTransfer)
	f.gateway.err = fmt.Errorf("%w: beneficiary account invalid", ErrTransferDeclined)
	if _, err := f.processor.Process(context.Background(), first.ID); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	// The failed 20000 no longer counts against the 25000 limit.
	f.request(t, "user1", "10000.00", MethodBankTransfer)
}

func TestProcessor_ProcessSuccess(t *testing.T) {
	f := newFixture(nil)
	f.fund(t, "user1", "10000.00")
	req := f.request(t, "user1", "5000.00", MethodUPI)

	f.gateway.result = &TransferResult{GatewayTransferID: "gw_123", Status: "ACCEPTED"}
	processed, err := f.processor.Process(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if processed.Status != StatusProcessing {
		t.Errorf("status = %s, want processing", processed.Status)
	}
	if processed.GatewayTransferID != "gw_123" {
		t.Errorf("gateway transfer id = %s, want gw_123", processed.GatewayTransferID)
	}
	if processed.ProcessedAt == nil {
		t.Error("processedAt not set")
	}

	w := f.balance(t, "user1")
	if !w.Available.Equal(dec("5000.00")) || !w.Locked.IsZero() {
		t.Errorf("wallet = %s/%s, want 5000.00/0", w.Available, w.Locked)
	}

	entry, err := f.engine.FindByReference(context.Background(), "withdrawal", "gw_123", ledger.EntryDebit)
	if err != nil {
		t.Fatalf("FindByReference failed: %v", err)
	}
	if entry == nil {
		t.Fatal("debit entry not tagged with gateway transfer id")
	}
	if !entry.Amount.Equal(dec("-5000.00")) {
		t.Errorf("debit amount = %s, want -5000.00", entry.Amount)
	}

	if f.gateway.lastReq.TransferID != req.ID {
		t.Errorf("gateway transfer id = %s, want %s", f.gateway.lastReq.TransferID, req.ID)
	}
}

func TestProcessor_ProcessNotPending(t *testing.T) {
	f := newFixture(nil)
	f.fund(t, "user1", "10000.00")
	req := f.request(t, "user1", "5000.00", MethodUPI)

	if _, err := f.processor.Process(context.Background(), req.ID); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if _, err := f.processor.Process(context.Background(), req.ID); !errors.Is(err, ErrWithdrawalNotPending) {
		t.Fatalf("err = %v, want ErrWithdrawalNotPending", err)
	}
	if f.gateway.calls != 1 {
		t.Errorf("gateway calls = %d, want 1", f.gateway.calls)
	}
}

func TestProcessor_ProcessGatewayUnavailableStaysPending(t *testing.T) {
	f := newFixture(nil)
	f.fund(t, "user1", "10000.00")
	req := f.request(t, "user1", "5000.00", MethodUPI)

	f.gateway.err = fmt.Errorf("%w: connection refused", ErrGatewayUnavailable)
	_, err := f.processor.Process(context.Background(), req.ID)
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("err = %v, want ErrGatewayUnavailable", err)
	}

	stored, err := f.processor.Get(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Status != StatusPending {
		t.Errorf("status = %s, want pending", stored.Status)
	}
	if w := f.balance(t, "user1"); !w.Locked.Equal(dec("5000.00")) {
		t.Errorf("locked = %s, want 5000.00", w.Locked)
	}

	// Retry succeeds once the gateway recovers.
	f.gateway.err = nil
	processed, err := f.processor.Process(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if processed.Status != StatusProcessing {
		t.Errorf("status after retry = %s, want processing", processed.Status)
	}
}

func TestProcessor_ProcessDeclined(t *testing.T) {
	f := newFixture(nil)
	f.fund(t, "user1", "10000.00")
	req := f.request(t, "user1", "5000.00", MethodUPI)

	f.gateway.err = fmt.Errorf("%w: beneficiary account invalid", ErrTransferDeclined)
	processed, err := f.processor.Process(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if processed.Status != StatusFailed {
		t.Errorf("status = %s, want failed", processed.Status)
	}
	if processed.FailureReason == "" {
		t.Error("failure reason not recorded")
	}

	w := f.balance(t, "user1")
	if !w.Available.Equal(dec("10000.00")) || !w.Locked.IsZero() {
		t.Errorf("wallet = %s/%s, want 10000.00/0", w.Available, w.Locked)
	}
}

// flakyLocks delegates to a real manager but fails Release on demand.
type flakyLocks struct {
	*locks.Manager
	releaseErr error
}

func (f *flakyLocks) Release(ctx context.Context, id, reason string) (*locks.Lock, error) {
	if f.releaseErr != nil {
		err := f.releaseErr
		f.releaseErr = nil
		return nil, err
	}
	return f.Manager.Release(ctx, id, reason)
}

func TestProcessor_ProcessReleaseFailureStaysPending(t *testing.T) {
	engine := ledger.New(ledger.NewMemoryStore())
	manager := locks.NewManager(locks.NewMemoryStore(), engine)
	flaky := &flakyLocks{Manager: manager, releaseErr: errors.New("lock store unavailable")}
	gateway := &stubGateway{result: &TransferResult{GatewayTransferID: "gw_1", Status: "ACCEPTED"}}
	processor := NewProcessor(NewMemoryStore(), flaky, engine, gateway, tiers.StaticProvider{})

	ctx := context.Background()
	if _, err := engine.Credit(ctx, "user1", dec("1000.00"), "topup", "t1", ""); err != nil {
		t.Fatalf("funding failed: %v", err)
	}
	req, err := processor.Request(ctx, RequestInput{
		UserID: "user1", Amount: dec("400.00"), Method: MethodUPI,
	})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if _, err := processor.Process(ctx, req.ID); err == nil {
		t.Fatal("Process succeeded despite release failure")
	}

	stored, err := processor.Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Status != StatusPending {
		t.Errorf("status = %s, want pending", stored.Status)
	}
	w, err := engine.Balance(ctx, "user1")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if !w.Available.Equal(dec("600.00")) || !w.Locked.Equal(dec("400.00")) {
		t.Errorf("wallet = %s/%s, want 600.00/400.00", w.Available, w.Locked)
	}

	// Retry succeeds once the lock store recovers.
	processed, err := processor.Process(ctx, req.ID)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if processed.Status != StatusProcessing {
		t.Errorf("status after retry = %s, want processing", processed.Status)
	}
	w, err = engine.Balance(ctx, "user1")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if !w.Available.Equal(dec("600.00")) || !w.Locked.IsZero() {
		t.Errorf("wallet = %s/%s, want 600.00/0", w.Available, w.Locked)
	}
}

// flakyLedger delegates to a real engine but fails Debit on demand.
type flakyLedger struct {
	*ledger.Engine
	debitErr error
}

func (f *flakyLedger) Debit(ctx context.Context, userID string, amount decimal.Decimal, referenceType, referenceID, description string) (*ledger.Entry, error) {
	if f.debitErr != nil {
		err := f.debitErr
		f.debitErr = nil
		return nil, err
	}
	return f.Engine.Debit(ctx, userID, amount, referenceType, referenceID, description)
}

func TestProcessor_ProcessDebitFailureRestoresLock(t *testing.T) {
	engine := ledger.New(ledger.NewMemoryStore())
	manager := locks.NewManager(locks.NewMemoryStore(), engine)
	flaky := &flakyLedger{Engine: engine, debitErr: errors.New("ledger store unavailable")}
	gateway := &stubGateway{result: &TransferResult{GatewayTransferID: "gw_1", Status: "ACCEPTED"}}
	processor := NewProcessor(NewMemoryStore(), manager, flaky, gateway, tiers.StaticProvider{})

	ctx := context.Background()
	if _, err := engine.Credit(ctx, "user1", dec("1000.00"), "topup", "t1", ""); err != nil {
		t.Fatalf("funding failed: %v", err)
	}
	req, err := processor.Request(ctx, RequestInput{
		UserID: "user1", Amount: dec("400.00"), Method: MethodUPI,
	})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if _, err := processor.Process(ctx, req.ID); err == nil {
		t.Fatal("Process succeeded despite debit failure")
	}

	stored, err := processor.Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Status != StatusPending {
		t.Errorf("status = %s, want pending", stored.Status)
	}
	if stored.LockID == req.LockID {
		t.Error("restored lock id not recorded")
	}
	w, err := engine.Balance(ctx, "user1")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if !w.Available.Equal(dec("600.00")) || !w.Locked.Equal(dec("400.00")) {
		t.Errorf("wallet = %s/%s, want 600.00/400.00", w.Available, w.Locked)
	}

	// Retry completes the payout against the restored lock.
	processed, err := processor.Process(ctx, req.ID)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if processed.Status != StatusProcessing {
		t.Errorf("status after retry = %s, want processing", processed.Status)
	}
	w, err = engine.Balance(ctx, "user1")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if !w.Available.Equal(dec("600.00")) || !w.Locked.IsZero() {
		t.Errorf("wallet = %s/%s, want 600.00/0", w.Available, w.Locked)
	}
}

func TestProcessor_CallbackSuccess(t *testing.T) {
	f := newFixture(nil)
	f.fund(t, "user1", "10000.00")
	req := f.request(t, "user1", "5000.00", MethodUPI)
	if _, err := f.processor.Process(context.Background(), req.ID); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	updated, err := f.processor.HandlePayoutCallback(context.Background(), "gw_1", OutcomeSuccess, "utr_99", "")
	if err != nil {
		t.Fatalf("callback failed: %v", err)
	}
	if updated.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", updated.Status)
	}
	if w := f.balance(t, "user1"); !w.Available.Equal(dec("5000.00")) {
		t.Errorf("available = %s, want 5000.00", w.Available)
	}
}

func TestProcessor_CallbackFailedRestoresBalance(t *testing.T) {
	f := newFixture(nil)
	f.fund(t, "user1", "8000.00")
	req := f.request(t, "user1", "5000.00", MethodBankTransfer)
	if _, err := f.processor.Process(context.Background(), req.ID); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if w := f.balance(t, "user1"); !w.Available.Equal(dec("3000.00")) {
		t.Fatalf("available after payout = %s, want 3000.00", w.Available)
	}

	updated, err := f.processor.HandlePayoutCallback(context.Background(), "gw_1", OutcomeFailed, "utr_99", "bank rejected transfer")
	if err != nil {
		t.Fatalf("callback failed: %v", err)
	}
	if updated.Status != StatusFailed {
		t.Errorf("status = %s, want failed", updated.Status)
	}
	if updated.FailureReason != "bank rejected transfer" {
		t.Errorf("failure reason = %q", updated.FailureReason)
	}

	w := f.balance(t, "user1")
	if !w.Available.Equal(dec("8000.00")) || !w.Locked.IsZero() {
		t.Errorf("wallet = %s/%s, want 8000.00/0", w.Available, w.Locked)
	}
}

func TestProcessor_CallbackReversed(t *testing.T) {
	f := newFixture(nil)
	f.fund(t, "user1", "8000.00")
	req := f.request(t, "user1", "5000.00", MethodBankTransfer)
	if _, err := f.processor.Process(context.Background(), req.ID); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if _, err := f.processor.HandlePayoutCallback(context.Background(), "gw_1", OutcomeSuccess, "", ""); err != nil {
		t.Fatalf("success callback failed: %v", err)
	}

	updated, err := f.processor.HandlePayoutCallback(context.Background(), "gw_1", OutcomeReversed, "utr_100", "beneficiary bank returned funds")
	if err != nil {
		t.Fatalf("reversal callback failed: %v", err)
	}
	if updated.Status != StatusReversed {
		t.Errorf("status = %s, want reversed", updated.Status)
	}
	if w := f.balance(t, "user1"); !w.Available.Equal(dec("8000.00")) {
		t.Errorf("available = %s, want 8000.00", w.Available)
	}

	entry, err := f.engine.FindByReference(context.Background(), "withdrawal_reversal", "utr_100", ledger.EntryCredit)
	if err != nil {
		t.Fatalf("FindByReference failed: %v", err)
	}
	if entry == nil {
		t.Fatal("reversal credit entry missing")
	}
}

func TestProcessor_CallbackUnknownTransfer(t *testing.T) {
	f := newFixture(nil)
	_, err := f.processor.HandlePayoutCallback(context.Background(), "gw_missing", OutcomeSuccess, "", "")
	if !errors.Is(err, ErrWithdrawalNotFound) {
		t.Fatalf("err = %v, want ErrWithdrawalNotFound", err)
	}
}

func TestProcessor_CallbackUnknownOutcome(t *testing.T) {
	f := newFixture(nil)
	f.fund(t, "user1", "10000.00")
	req := f.request(t, "user1", "5000.00", MethodUPI)
	if _, err := f.processor.Process(context.Background(), req.ID); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	_, err := f.processor.HandlePayoutCallback(context.Background(), "gw_1", "MAYBE", "", "")
	if !errors.Is(err, ErrUnknownOutcome) {
		t.Fatalf("err = %v, want ErrUnknownOutcome", err)
	}
}

func TestProcessor_TierLimits(t *testing.T) {
	provider := tiers.StaticProvider{"premium1": tiers.TierPremium}
	f := newFixture(provider)
	f.fund(t, "premium1", "600000.00")

	// Premium tier allows 500000 per day.
	f.request(t, "premium1", "450000.00", MethodBankTransfer)
	_, err := f.processor.Request(context.Background(), RequestInput{
		UserID: "premium1", Amount: dec("60000.00"), Method: MethodBankTransfer,
	})
	if !errors.Is(err, ErrDailyLimitExceeded) {
		t.Fatalf("err = %v, want ErrDailyLimitExceeded", err)
	}
}
