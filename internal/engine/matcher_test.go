package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/efreitasn/simexchange/internal/domain"
	"github.com/efreitasn/simexchange/internal/store"
)

var t0 = time.Date(2025, 1, 1, 9, 30, 0, 0, time.UTC)

// fataler is satisfied by both *testing.T and *rapid.T.
type fataler interface {
	Helper()
	Fatalf(format string, args ...any)
}

// newTestMatcher creates a Matcher over a fresh in-memory repository.
func newTestMatcher() (*Matcher, *store.MemoryRepository) {
	repo := store.NewMemoryRepository()
	return NewMatcher(repo, zap.NewNop(), nil), repo
}

// seedHolding credits qty of symbol to participant.
func seedHolding(t fataler, repo store.Repository, participant, symbol string, qty int64) {
	t.Helper()
	err := repo.Update(context.Background(), func(tx store.Tx) error {
		_, err := tx.UpsertHolding(participant, symbol, qty)
		return err
	})
	if err != nil {
		t.Fatalf("seed holding: %v", err)
	}
}

// place inserts a pending order directly, bypassing Submit, so tests can
// control CreatedAt.
func place(t fataler, repo store.Repository, id, participant string, side domain.OrderSide, price, qty int64, at time.Time) *domain.Order {
	t.Helper()
	o := &domain.Order{
		OrderID:           id,
		ParticipantID:     participant,
		Symbol:            "AAPL",
		Side:              side,
		Price:             price,
		Quantity:          qty,
		RemainingQuantity: qty,
		Status:            domain.OrderStatusPending,
		CreatedAt:         at,
	}
	if err := repo.InsertOrder(context.Background(), o); err != nil {
		t.Fatalf("insert order: %v", err)
	}
	return o
}

func newOrder(participant string, side domain.OrderSide, price, qty int64) *domain.Order {
	return &domain.Order{
		ParticipantID: participant,
		Symbol:        "AAPL",
		Side:          side,
		Price:         price,
		Quantity:      qty,
	}
}

func mustGet(t *testing.T, repo store.Repository, id string) *domain.Order {
	t.Helper()
	o, err := repo.GetOrder(context.Background(), id)
	if err != nil {
		t.Fatalf("get order %s: %v", id, err)
	}
	return o
}

func mustHolding(t *testing.T, repo store.Repository, participant string) int64 {
	t.Helper()
	qty, err := repo.Holding(context.Background(), participant, "AAPL")
	if err != nil {
		t.Fatalf("holding: %v", err)
	}
	return qty
}

func TestMatch_EarlierBuyFilledFirst_ResidualStaysPending(t *testing.T) {
	m, repo := newTestMatcher()
	seedHolding(t, repo, "seller", "AAPL", 6)
	place(t, repo, "b1", "alice", domain.OrderSideBuy, 100, 5, t0.Add(1*time.Second))
	place(t, repo, "b2", "bob", domain.OrderSideBuy, 100, 3, t0.Add(2*time.Second))
	place(t, repo, "s1", "seller", domain.OrderSideSell, 100, 6, t0.Add(3*time.Second))

	trades, err := m.Match(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	if trades[0].BuyOrderID != "b1" || trades[0].Quantity != 5 {
		t.Errorf("trade 0 = (%s, %d), want (b1, 5)", trades[0].BuyOrderID, trades[0].Quantity)
	}
	if trades[1].BuyOrderID != "b2" || trades[1].Quantity != 1 {
		t.Errorf("trade 1 = (%s, %d), want (b2, 1)", trades[1].BuyOrderID, trades[1].Quantity)
	}

	b1 := mustGet(t, repo, "b1")
	if b1.Status != domain.OrderStatusMatched || b1.RemainingQuantity != 0 {
		t.Errorf("b1 = (%s, %d), want (matched, 0)", b1.Status, b1.RemainingQuantity)
	}
	b2 := mustGet(t, repo, "b2")
	if b2.Status != domain.OrderStatusPending || b2.RemainingQuantity != 2 {
		t.Errorf("b2 = (%s, %d), want (pending, 2)", b2.Status, b2.RemainingQuantity)
	}
	if b2.FilledQuantity != 1 {
		t.Errorf("b2 filled = %d, want 1", b2.FilledQuantity)
	}
	s1 := mustGet(t, repo, "s1")
	if s1.Status != domain.OrderStatusMatched {
		t.Errorf("s1 status = %s, want matched", s1.Status)
	}
}

func TestMatch_NoCross_NoTrades(t *testing.T) {
	m, repo := newTestMatcher()
	seedHolding(t, repo, "seller", "AAPL", 10)
	place(t, repo, "b1", "alice", domain.OrderSideBuy, 99, 5, t0)
	place(t, repo, "s1", "seller", domain.OrderSideSell, 100, 5, t0)

	trades, err := m.Match(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trades) != 0 {
		t.Errorf("expected 0 trades, got %d", len(trades))
	}
	if mustGet(t, repo, "b1").RemainingQuantity != 5 {
		t.Error("buy order should be untouched")
	}
}

func TestMatch_EmptyBook(t *testing.T) {
	m, _ := newTestMatcher()

	trades, err := m.Match(context.Background(), "MSFT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trades) != 0 {
		t.Errorf("expected 0 trades, got %d", len(trades))
	}
}

func TestMatch_ExecutionPrice(t *testing.T) {
	tests := []struct {
		name     string
		buyAt    time.Time
		sellAt   time.Time
		expected int64
	}{
		{"sell rested first", t0.Add(time.Second), t0, 100},
		{"buy rested first", t0, t0.Add(time.Second), 105},
		{"simultaneous uses sell price", t0, t0, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, repo := newTestMatcher()
			seedHolding(t, repo, "seller", "AAPL", 1)
			place(t, repo, "b", "buyer", domain.OrderSideBuy, 105, 1, tt.buyAt)
			place(t, repo, "s", "seller", domain.OrderSideSell, 100, 1, tt.sellAt)

			trades, err := m.Match(context.Background(), "AAPL")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(trades) != 1 {
				t.Fatalf("expected 1 trade, got %d", len(trades))
			}
			if trades[0].Price != tt.expected {
				t.Errorf("price = %d, want %d", trades[0].Price, tt.expected)
			}
		})
	}
}

func TestMatch_OneBuyWalksSells(t *testing.T) {
	m, repo := newTestMatcher()
	seedHolding(t, repo, "s", "AAPL", 12)
	place(t, repo, "s3", "s", domain.OrderSideSell, 102, 5, t0)
	place(t, repo, "s1", "s", domain.OrderSideSell, 100, 3, t0)
	place(t, repo, "s2", "s", domain.OrderSideSell, 101, 4, t0)
	place(t, repo, "b", "buyer", domain.OrderSideBuy, 110, 10, t0.Add(time.Second))

	trades, err := m.Match(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []struct {
		sell string
		qty  int64
	}{{"s1", 3}, {"s2", 4}, {"s3", 3}}
	if len(trades) != len(want) {
		t.Fatalf("expected %d trades, got %d", len(want), len(trades))
	}
	for i, w := range want {
		if trades[i].SellOrderID != w.sell || trades[i].Quantity != w.qty {
			t.Errorf("trade %d = (%s, %d), want (%s, %d)", i, trades[i].SellOrderID, trades[i].Quantity, w.sell, w.qty)
		}
	}
	if got := mustGet(t, repo, "s3").RemainingQuantity; got != 2 {
		t.Errorf("s3 remaining = %d, want 2", got)
	}
	if got := mustGet(t, repo, "b").Status; got != domain.OrderStatusMatched {
		t.Errorf("buy status = %s, want matched", got)
	}
}

func TestMatch_PriorityPreservedAcrossPasses(t *testing.T) {
	m, repo := newTestMatcher()
	ctx := context.Background()
	seedHolding(t, repo, "seller", "AAPL", 7)
	place(t, repo, "b1", "alice", domain.OrderSideBuy, 100, 5, t0)
	place(t, repo, "b2", "bob", domain.OrderSideBuy, 100, 5, t0)
	place(t, repo, "s1", "seller", domain.OrderSideSell, 100, 3, t0.Add(time.Second))

	if _, err := m.Match(ctx, "AAPL"); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if got := mustGet(t, repo, "b2").FilledQuantity; got != 0 {
		t.Fatalf("b2 filled before b1 completed: %d", got)
	}

	place(t, repo, "s2", "seller", domain.OrderSideSell, 100, 4, t0.Add(2*time.Second))
	trades, err := m.Match(ctx, "AAPL")
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	if trades[0].BuyOrderID != "b1" || trades[0].Quantity != 2 {
		t.Errorf("trade 0 = (%s, %d), want (b1, 2)", trades[0].BuyOrderID, trades[0].Quantity)
	}
	if trades[1].BuyOrderID != "b2" || trades[1].Quantity != 2 {
		t.Errorf("trade 1 = (%s, %d), want (b2, 2)", trades[1].BuyOrderID, trades[1].Quantity)
	}
}

func TestMatch_UpdatesHoldingsAndTicks(t *testing.T) {
	m, repo := newTestMatcher()
	ctx := context.Background()
	seedHolding(t, repo, "seller", "AAPL", 4)
	place(t, repo, "b", "buyer", domain.OrderSideBuy, 100, 4, t0)
	place(t, repo, "s", "seller", domain.OrderSideSell, 100, 4, t0)

	if _, err := m.Match(ctx, "AAPL"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := mustHolding(t, repo, "buyer"); got != 4 {
		t.Errorf("buyer holding = %d, want 4", got)
	}
	holdings, _ := repo.Holdings(ctx, "seller")
	if len(holdings) != 0 {
		t.Errorf("seller holding at zero should be removed, got %+v", holdings)
	}

	ltp, ok, _ := repo.LastTradedPrice(ctx, "AAPL")
	if !ok || ltp != 100 {
		t.Errorf("last traded price = (%d, %v), want (100, true)", ltp, ok)
	}
	ticks, _ := repo.ListTicks(ctx, "AAPL", 0)
	if len(ticks) != 1 || ticks[0].Amount != 400 {
		t.Errorf("expected one tick with amount 400, got %+v", ticks)
	}
}

// flakyRepo fails the failOn-th Update after running its closure, so the
// staged writes must be discarded.
type flakyRepo struct {
	store.Repository
	mu     sync.Mutex
	failOn int
	calls  int
}

var errDisk = errors.New("disk unavailable")

func (r *flakyRepo) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	r.mu.Lock()
	r.calls++
	fail := r.calls == r.failOn
	r.mu.Unlock()
	if !fail {
		return r.Repository.Update(ctx, fn)
	}
	return r.Repository.Update(ctx, func(tx store.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		return errDisk
	})
}

func TestMatch_StepFailure_RollsBackAndReportsTransient(t *testing.T) {
	inner := store.NewMemoryRepository()
	repo := &flakyRepo{Repository: inner, failOn: 2}
	m := NewMatcher(repo, zap.NewNop(), nil)
	ctx := context.Background()

	seedHolding(t, inner, "seller", "AAPL", 6)
	place(t, inner, "b1", "alice", domain.OrderSideBuy, 100, 5, t0)
	place(t, inner, "b2", "bob", domain.OrderSideBuy, 100, 3, t0.Add(time.Second))
	place(t, inner, "s1", "seller", domain.OrderSideSell, 100, 6, t0.Add(2*time.Second))

	trades, err := m.Match(ctx, "AAPL")
	if !errors.Is(err, domain.ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
	if !errors.Is(err, errDisk) {
		t.Errorf("expected cause to be preserved, got %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected the 1 committed trade, got %d", len(trades))
	}

	if got := mustGet(t, inner, "b2").RemainingQuantity; got != 3 {
		t.Errorf("b2 remaining = %d, want 3 (failed step rolled back)", got)
	}
	if got := mustGet(t, inner, "s1").RemainingQuantity; got != 1 {
		t.Errorf("s1 remaining = %d, want 1", got)
	}
	if got := mustHolding(t, inner, "bob"); got != 0 {
		t.Errorf("bob holding = %d, want 0", got)
	}
	stored, _ := inner.ListTrades(ctx, store.TradeFilter{})
	if len(stored) != 1 {
		t.Errorf("stored trades = %d, want 1", len(stored))
	}

	// The caller retries; the residual matches on the next pass.
	trades, err = m.Match(ctx, "AAPL")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(trades) != 1 || trades[0].BuyOrderID != "b2" || trades[0].Quantity != 1 {
		t.Errorf("retry trades = %+v, want one trade of 1 with b2", trades)
	}
}

func TestMatch_SellerWithoutHoldings_Aborts(t *testing.T) {
	m, repo := newTestMatcher()
	ctx := context.Background()
	place(t, repo, "b", "buyer", domain.OrderSideBuy, 100, 5, t0)
	place(t, repo, "s", "naked", domain.OrderSideSell, 100, 5, t0)

	trades, err := m.Match(ctx, "AAPL")
	if !errors.Is(err, domain.ErrInsufficientHoldings) {
		t.Fatalf("expected ErrInsufficientHoldings, got %v", err)
	}
	if errors.Is(err, domain.ErrTransient) {
		t.Error("holdings violation must not be reported as transient")
	}
	if len(trades) != 0 {
		t.Errorf("expected 0 trades, got %d", len(trades))
	}
	if got := mustGet(t, repo, "b").RemainingQuantity; got != 5 {
		t.Errorf("buy remaining = %d, want 5", got)
	}
	if got := mustHolding(t, repo, "buyer"); got != 0 {
		t.Errorf("buyer holding = %d, want 0", got)
	}
}

func TestMatch_BuyerHoldingOverflow_Aborts(t *testing.T) {
	m, repo := newTestMatcher()
	ctx := context.Background()
	seedHolding(t, repo, "whale", "AAPL", math.MaxInt64)
	seedHolding(t, repo, "small", "AAPL", 1)
	place(t, repo, "b", "whale", domain.OrderSideBuy, 100, 1, t0)
	place(t, repo, "s", "small", domain.OrderSideSell, 100, 1, t0)

	trades, err := m.Match(ctx, "AAPL")
	if !errors.Is(err, domain.ErrHoldingOverflow) {
		t.Fatalf("expected ErrHoldingOverflow, got %v", err)
	}
	if errors.Is(err, domain.ErrTransient) {
		t.Error("holding overflow must not be reported as transient")
	}
	if len(trades) != 0 {
		t.Errorf("expected 0 trades, got %d", len(trades))
	}
	if got := mustHolding(t, repo, "whale"); got != math.MaxInt64 {
		t.Errorf("whale holding = %d, want MaxInt64", got)
	}
	if got := mustHolding(t, repo, "small"); got != 1 {
		t.Errorf("small holding = %d, want 1", got)
	}
	if got := mustGet(t, repo, "s").RemainingQuantity; got != 1 {
		t.Errorf("sell remaining = %d, want 1", got)
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	trades []*domain.Trade
}

func (p *recordingPublisher) PublishTrades(trades []*domain.Trade) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trades = append(p.trades, trades...)
}

func TestMatch_PublishesTrades(t *testing.T) {
	m, repo := newTestMatcher()
	pub := &recordingPublisher{}
	m.SetPublisher(pub)
	seedHolding(t, repo, "seller", "AAPL", 2)
	place(t, repo, "b", "buyer", domain.OrderSideBuy, 100, 2, t0)
	place(t, repo, "s", "seller", domain.OrderSideSell, 100, 2, t0)

	if _, err := m.Match(context.Background(), "AAPL"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pub.trades) != 1 {
		t.Errorf("published %d trades, want 1", len(pub.trades))
	}
}

func TestSubmit_AssignsIdentityAndPending(t *testing.T) {
	m, repo := newTestMatcher()

	o, err := m.Submit(context.Background(), newOrder("alice", domain.OrderSideBuy, 100, 5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.OrderID == "" {
		t.Error("expected order_id to be assigned")
	}
	if o.Status != domain.OrderStatusPending || o.RemainingQuantity != 5 {
		t.Errorf("order = (%s, %d), want (pending, 5)", o.Status, o.RemainingQuantity)
	}
	if o.Seq == 0 {
		t.Error("expected seq to be assigned")
	}
	stored := mustGet(t, repo, o.OrderID)
	if !stored.CreatedAt.Equal(o.CreatedAt) {
		t.Errorf("stored created_at = %v, want %v", stored.CreatedAt, o.CreatedAt)
	}
}

func TestSubmit_SellRequiresUncommittedHoldings(t *testing.T) {
	m, repo := newTestMatcher()
	ctx := context.Background()
	seedHolding(t, repo, "seller", "AAPL", 10)

	if _, err := m.Submit(ctx, newOrder("seller", domain.OrderSideSell, 100, 6)); err != nil {
		t.Fatalf("first sell: %v", err)
	}
	_, err := m.Submit(ctx, newOrder("seller", domain.OrderSideSell, 100, 5))
	if !errors.Is(err, domain.ErrInsufficientHoldings) {
		t.Fatalf("expected ErrInsufficientHoldings, got %v", err)
	}
	if _, err := m.Submit(ctx, newOrder("seller", domain.OrderSideSell, 100, 4)); err != nil {
		t.Fatalf("sell within remaining holdings: %v", err)
	}
	if _, err := m.Submit(ctx, newOrder("nobody", domain.OrderSideSell, 100, 1)); !errors.Is(err, domain.ErrInsufficientHoldings) {
		t.Errorf("expected ErrInsufficientHoldings for participant without holdings, got %v", err)
	}
}

func TestSubmit_TimestampsStrictlyIncrease(t *testing.T) {
	m, _ := newTestMatcher()
	m.now = func() time.Time { return t0 }

	var prev time.Time
	for i := 0; i < 5; i++ {
		o, err := m.Submit(context.Background(), newOrder("alice", domain.OrderSideBuy, 100, 1))
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		if !o.CreatedAt.After(prev) {
			t.Fatalf("created_at %v not after %v", o.CreatedAt, prev)
		}
		prev = o.CreatedAt
	}
}

func TestCancel(t *testing.T) {
	m, repo := newTestMatcher()
	ctx := context.Background()

	o, _ := m.Submit(ctx, newOrder("alice", domain.OrderSideBuy, 100, 5))
	cancelled, err := m.Cancel(ctx, o.OrderID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled || cancelled.CancelledAt == nil {
		t.Errorf("cancelled = (%s, %v), want cancelled with timestamp", cancelled.Status, cancelled.CancelledAt)
	}
	pending, _ := repo.ListPendingOrders(ctx, "AAPL", domain.OrderSideBuy)
	if len(pending) != 0 {
		t.Errorf("cancelled order still pending")
	}

	if _, err := m.Cancel(ctx, o.OrderID); !errors.Is(err, domain.ErrOrderNotCancellable) {
		t.Errorf("second cancel: expected ErrOrderNotCancellable, got %v", err)
	}
	if _, err := m.Cancel(ctx, "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestCancel_MatchedOrderNotCancellable(t *testing.T) {
	m, repo := newTestMatcher()
	ctx := context.Background()
	seedHolding(t, repo, "seller", "AAPL", 1)
	place(t, repo, "b", "buyer", domain.OrderSideBuy, 100, 1, t0)
	place(t, repo, "s", "seller", domain.OrderSideSell, 100, 1, t0)
	if _, err := m.Match(ctx, "AAPL"); err != nil {
		t.Fatalf("match: %v", err)
	}

	if _, err := m.Cancel(ctx, "b"); !errors.Is(err, domain.ErrOrderNotCancellable) {
		t.Errorf("expected ErrOrderNotCancellable, got %v", err)
	}
}

func TestMatcher_ConcurrentSubmitAndMatch(t *testing.T) {
	m, repo := newTestMatcher()
	ctx := context.Background()
	const sellers = 4
	for i := 0; i < sellers; i++ {
		seedHolding(t, repo, fmt.Sprintf("seller-%d", i), "AAPL", 1000)
	}

	var wg sync.WaitGroup
	for i := 0; i < sellers; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for k := 0; k < 25; k++ {
				_, _ = m.Submit(ctx, newOrder(fmt.Sprintf("seller-%d", i), domain.OrderSideSell, 100+int64(k%3), 7))
			}
		}(i)
		go func(i int) {
			defer wg.Done()
			for k := 0; k < 25; k++ {
				_, _ = m.Submit(ctx, newOrder(fmt.Sprintf("buyer-%d", i), domain.OrderSideBuy, 100+int64(k%4), 5))
				if _, err := m.Match(ctx, "AAPL"); err != nil {
					t.Errorf("match: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()
	if _, err := m.Match(ctx, "AAPL"); err != nil {
		t.Fatalf("final match: %v", err)
	}

	holdings, _ := repo.HoldingsBySymbol(ctx, "AAPL")
	var total int64
	for _, h := range holdings {
		total += h.Quantity
		if h.Quantity < 0 {
			t.Errorf("%s holds %d", h.ParticipantID, h.Quantity)
		}
	}
	if total != sellers*1000 {
		t.Errorf("total holdings = %d, want %d", total, sellers*1000)
	}

	orders, _, _ := repo.ListOrders(ctx, store.OrderFilter{})
	for _, o := range orders {
		if o.FilledQuantity+o.RemainingQuantity != o.Quantity {
			t.Errorf("order %s: filled %d + remaining %d != %d", o.OrderID, o.FilledQuantity, o.RemainingQuantity, o.Quantity)
		}
	}
	assertUncrossed(t, repo)
}

func assertUncrossed(t fataler, repo store.Repository) {
	t.Helper()
	ctx := context.Background()
	buys, _ := repo.ListPendingOrders(ctx, "AAPL", domain.OrderSideBuy)
	sells, _ := repo.ListPendingOrders(ctx, "AAPL", domain.OrderSideSell)
	if len(buys) > 0 && len(sells) > 0 && buys[0].Price >= sells[0].Price {
		t.Fatalf("book is crossed: best buy %d >= best sell %d", buys[0].Price, sells[0].Price)
	}
}

func TestSymbolLocks_SameSymbolSameMutex(t *testing.T) {
	l := NewSymbolLocks()
	if l.get("AAPL") != l.get("AAPL") {
		t.Error("expected the same mutex for the same symbol")
	}
	if l.get("AAPL") == l.get("MSFT") {
		t.Error("expected distinct mutexes for distinct symbols")
	}

	unlock := l.Lock("AAPL")
	acquired := make(chan struct{})
	go func() {
		defer l.Lock("MSFT")()
		close(acquired)
	}()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock on another symbol blocked")
	}
	unlock()
}
