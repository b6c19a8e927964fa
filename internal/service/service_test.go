package service

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/efreitasn/simexchange/internal/domain"
	"github.com/efreitasn/simexchange/internal/engine"
	"github.com/efreitasn/simexchange/internal/store"
)

const defaultWindow = 5 * time.Minute

// testEnv bundles all dependencies needed for service tests.
type testEnv struct {
	repo           *store.MemoryRepository
	symbols        *domain.SymbolRegistry
	matcher        *engine.Matcher
	orderSvc       *OrderService
	participantSvc *ParticipantService
	marketSvc      *MarketService
	settlementSvc  *SettlementService
}

func newTestEnv() *testEnv {
	repo := store.NewMemoryRepository()
	sr := domain.NewSymbolRegistry("AAPL", "MSFT")
	m := engine.NewMatcher(repo, zap.NewNop(), nil)
	return &testEnv{
		repo:           repo,
		symbols:        sr,
		matcher:        m,
		orderSvc:       NewOrderService(m, repo, sr, nil),
		participantSvc: NewParticipantService(repo, sr),
		marketSvc:      NewMarketService(repo, sr, 10000, defaultWindow),
		settlementSvc:  NewSettlementService(repo, zap.NewNop(), nil),
	}
}

// register is a helper that registers a participant with optional holdings.
func (env *testEnv) register(t *testing.T, id string, holdings ...HoldingInput) {
	t.Helper()
	_, err := env.participantSvc.Register(context.Background(), RegisterParticipantRequest{
		ParticipantID:   id,
		InitialHoldings: holdings,
	})
	if err != nil {
		t.Fatalf("failed to register participant %s: %v", id, err)
	}
}

// submit is a helper that submits an order and fails the test on error.
func (env *testEnv) submit(t *testing.T, participant string, side domain.OrderSide, symbol string, price float64, qty int64) *domain.Order {
	t.Helper()
	o, err := env.orderSvc.SubmitOrder(context.Background(), SubmitOrderRequest{
		ParticipantID: participant,
		Side:          side,
		Symbol:        symbol,
		Price:         price,
		Quantity:      qty,
	})
	if err != nil {
		t.Fatalf("submit %s %s %d@%v: %v", participant, side, qty, price, err)
	}
	return o
}

// trade submits a crossing buy and sell and runs a matching pass.
func (env *testEnv) trade(t *testing.T, buyer, seller, symbol string, price float64, qty int64) []*domain.Trade {
	t.Helper()
	env.submit(t, buyer, domain.OrderSideBuy, symbol, price, qty)
	env.submit(t, seller, domain.OrderSideSell, symbol, price, qty)
	trades, err := env.orderSvc.Match(context.Background(), symbol)
	if err != nil {
		t.Fatalf("match %s: %v", symbol, err)
	}
	return trades
}
