package store

import (
	"context"

	"github.com/efreitasn/simexchange/internal/domain"
)

// OrderFilter selects orders for ListOrders. Zero-valued fields do not
// filter. Pagination is 1-based; a zero Limit returns every match.
type OrderFilter struct {
	ParticipantID string
	Symbol        string
	Status        *domain.OrderStatus
	Page          int
	Limit         int
}

// TradeFilter selects trades for ListTrades. ParticipantID matches either
// the buyer or the seller.
type TradeFilter struct {
	Symbol        string
	ParticipantID string
}

// Repository is the durable store of orders, holdings, trades and market
// ticks. Every method is safe for concurrent use. Orders returned by the
// repository are copies; mutations only become visible through Update.
type Repository interface {
	CreateParticipant(ctx context.Context, p *domain.Participant) error
	GetParticipant(ctx context.Context, id string) (*domain.Participant, error)
	ListParticipants(ctx context.Context) ([]*domain.Participant, error)

	// InsertOrder stores a new order and assigns its Seq.
	InsertOrder(ctx context.Context, o *domain.Order) error
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	// ListOrders returns matching orders newest first along with the total
	// number of matches before pagination.
	ListOrders(ctx context.Context, f OrderFilter) ([]*domain.Order, int, error)
	// ListPendingOrders returns the pending orders of one side of a symbol
	// in price-time priority: buys by price descending, sells by price
	// ascending, then CreatedAt ascending, then Seq ascending.
	ListPendingOrders(ctx context.Context, symbol string, side domain.OrderSide) ([]*domain.Order, error)

	// Update runs fn as one atomic unit. If fn returns an error, or the
	// commit fails, none of the writes staged through tx are applied.
	Update(ctx context.Context, fn func(tx Tx) error) error

	Holding(ctx context.Context, participantID, symbol string) (int64, error)
	Holdings(ctx context.Context, participantID string) ([]domain.Holding, error)
	HoldingsBySymbol(ctx context.Context, symbol string) ([]domain.Holding, error)

	// ListTrades returns matching trades in execution order from a single
	// consistent snapshot.
	ListTrades(ctx context.Context, f TradeFilter) ([]*domain.Trade, error)
	// ListTicks returns up to limit of the most recent ticks of a symbol in
	// chronological order. A non-positive limit returns all of them.
	ListTicks(ctx context.Context, symbol string, limit int) ([]*domain.MarketTick, error)
	// LastTradedPrice returns the price of the symbol's latest tick, or
	// false when the symbol never traded.
	LastTradedPrice(ctx context.Context, symbol string) (int64, bool, error)

	Close() error
}

// Tx stages writes for Repository.Update. Reads through a Tx observe the
// writes already staged in it.
type Tx interface {
	// CreateParticipant stages a new participant. The unit fails with
	// domain.ErrParticipantAlreadyExists if the ID is taken when it commits.
	CreateParticipant(p *domain.Participant) error
	GetOrder(id string) (*domain.Order, error)
	UpdateOrder(o *domain.Order) error
	InsertTrade(t *domain.Trade) error
	InsertTick(k *domain.MarketTick) error
	// UpsertHolding adds delta to the (participant, symbol) holding and
	// returns the resulting quantity. The holding is created on first use
	// and removed when it reaches exactly zero. A sum that does not fit in
	// an int64 fails with domain.ErrHoldingOverflow.
	UpsertHolding(participantID, symbol string, delta int64) (int64, error)
}

// paginate applies 1-based pagination to a filtered, already ordered slice.
func paginate(orders []*domain.Order, page, limit int) []*domain.Order {
	if limit <= 0 {
		return orders
	}
	if page < 1 {
		page = 1
	}
	total := len(orders)
	start := (page - 1) * limit
	if start >= total {
		return []*domain.Order{}
	}
	end := start + limit
	if end > total {
		end = total
	}
	return orders[start:end]
}

func matchesOrder(o *domain.Order, f OrderFilter) bool {
	if f.ParticipantID != "" && o.ParticipantID != f.ParticipantID {
		return false
	}
	if f.Symbol != "" && o.Symbol != f.Symbol {
		return false
	}
	if f.Status != nil && o.Status != *f.Status {
		return false
	}
	return true
}

func matchesTrade(t *domain.Trade, f TradeFilter) bool {
	if f.Symbol != "" && t.Symbol != f.Symbol {
		return false
	}
	if f.ParticipantID != "" && t.BuyerID != f.ParticipantID && t.SellerID != f.ParticipantID {
		return false
	}
	return true
}

// lastN returns the trailing n elements of s, or all of s when n <= 0.
func lastN[T any](s []T, n int) []T {
	if n <= 0 || n >= len(s) {
		return s
	}
	return s[len(s)-n:]
}
