package service

import (
	"context"
	"fmt"
	"time"

	"github.com/efreitasn/simexchange/internal/domain"
	"github.com/efreitasn/simexchange/internal/store"
)

// PriceResponse represents the response for GET /stocks/{symbol}/price.
type PriceResponse struct {
	Symbol        string
	LastPrice     int64 // default price while the symbol never traded
	Traded        bool
	VWAP          *int64 // nil when no tick falls in the window
	Window        string
	TicksInWindow int
	LastTradeAt   *time.Time
}

// BookPriceLevel represents an aggregated price level in the book response.
type BookPriceLevel struct {
	Price         int64
	TotalQuantity int64
	OrderCount    int
}

// BookResponse represents the response for GET /stocks/{symbol}/book.
type BookResponse struct {
	Symbol     string
	Bids       []BookPriceLevel
	Asks       []BookPriceLevel
	Spread     *int64 // nil if either side empty
	SnapshotAt time.Time
}

// SymbolSummary is one row of the listed-symbols response.
type SymbolSummary struct {
	Symbol    string
	LastPrice int64
	Traded    bool
}

// SymbolHoldings lists every position in a symbol. Total is the sum of all
// positions and stays constant under trading.
type SymbolHoldings struct {
	Symbol   string
	Holdings []domain.Holding
	Total    int64
}

// MarketService answers market-data queries: prices, the pending book,
// the tick history and positions per symbol.
type MarketService struct {
	repo         store.Repository
	symbols      *domain.SymbolRegistry
	defaultPrice int64
	vwapWindow   time.Duration
	now          func() time.Time
}

// NewMarketService creates a new MarketService. defaultPrice (cents) is
// reported as the last price of a symbol that never traded.
func NewMarketService(
	repo store.Repository,
	symbols *domain.SymbolRegistry,
	defaultPrice int64,
	vwapWindow time.Duration,
) *MarketService {
	return &MarketService{
		repo:         repo,
		symbols:      symbols,
		defaultPrice: defaultPrice,
		vwapWindow:   vwapWindow,
		now:          time.Now,
	}
}

// LastPrice returns the last traded price of symbol, or the default price
// and false when it never traded.
func (s *MarketService) LastPrice(ctx context.Context, symbol string) (int64, bool, error) {
	price, ok, err := s.repo.LastTradedPrice(ctx, symbol)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return s.defaultPrice, false, nil
	}
	return price, true, nil
}

// GetPrice returns the last traded price of a symbol together with the
// VWAP of the ticks inside the configured window.
func (s *MarketService) GetPrice(ctx context.Context, symbol string) (*PriceResponse, error) {
	if !s.symbols.Exists(symbol) {
		return nil, domain.ErrSymbolNotFound
	}

	ticks, err := s.repo.ListTicks(ctx, symbol, 0)
	if err != nil {
		return nil, err
	}

	resp := &PriceResponse{
		Symbol:    symbol,
		LastPrice: s.defaultPrice,
		Window:    formatDuration(s.vwapWindow),
	}
	if len(ticks) == 0 {
		return resp, nil
	}

	last := ticks[len(ticks)-1]
	resp.LastPrice = last.Price
	resp.Traded = true
	resp.LastTradeAt = &last.TradedAt

	// Walk back from the newest tick until one falls outside the window.
	windowStart := s.now().Add(-s.vwapWindow)
	var sumAmount, sumQty int64
	for i := len(ticks) - 1; i >= 0; i-- {
		k := ticks[i]
		if k.TradedAt.Before(windowStart) {
			break
		}
		sumAmount += k.Amount
		sumQty += k.Quantity
		resp.TicksInWindow++
	}
	if sumQty > 0 {
		vwap := sumAmount / sumQty
		resp.VWAP = &vwap
	}
	return resp, nil
}

// GetBook returns the top depth price levels of each side of the pending
// book of a symbol.
func (s *MarketService) GetBook(ctx context.Context, symbol string, depth int) (*BookResponse, error) {
	if !s.symbols.Exists(symbol) {
		return nil, domain.ErrSymbolNotFound
	}

	if depth < 1 || depth > 50 {
		return nil, &domain.ValidationError{
			Message: "depth must be between 1 and 50",
		}
	}

	buys, err := s.repo.ListPendingOrders(ctx, symbol, domain.OrderSideBuy)
	if err != nil {
		return nil, err
	}
	sells, err := s.repo.ListPendingOrders(ctx, symbol, domain.OrderSideSell)
	if err != nil {
		return nil, err
	}

	resp := &BookResponse{
		Symbol:     symbol,
		Bids:       aggregateLevels(buys, depth),
		Asks:       aggregateLevels(sells, depth),
		SnapshotAt: s.now().UTC(),
	}
	if len(resp.Bids) > 0 && len(resp.Asks) > 0 {
		spread := resp.Asks[0].Price - resp.Bids[0].Price
		resp.Spread = &spread
	}
	return resp, nil
}

// aggregateLevels folds orders, already in priority order, into at most
// depth price levels.
func aggregateLevels(orders []*domain.Order, depth int) []BookPriceLevel {
	levels := make([]BookPriceLevel, 0, depth)
	for _, o := range orders {
		n := len(levels)
		if n > 0 && levels[n-1].Price == o.Price {
			levels[n-1].TotalQuantity += o.RemainingQuantity
			levels[n-1].OrderCount++
			continue
		}
		if n == depth {
			break
		}
		levels = append(levels, BookPriceLevel{
			Price:         o.Price,
			TotalQuantity: o.RemainingQuantity,
			OrderCount:    1,
		})
	}
	return levels
}

// ListTicks returns up to limit of the most recent ticks of a symbol in
// chronological order.
func (s *MarketService) ListTicks(ctx context.Context, symbol string, limit int) ([]*domain.MarketTick, error) {
	if !s.symbols.Exists(symbol) {
		return nil, domain.ErrSymbolNotFound
	}
	if limit < 1 || limit > 1000 {
		return nil, &domain.ValidationError{
			Message: "limit must be between 1 and 1000",
		}
	}
	return s.repo.ListTicks(ctx, symbol, limit)
}

// ListSymbols returns every listed symbol with its last price.
func (s *MarketService) ListSymbols(ctx context.Context) ([]SymbolSummary, error) {
	symbols := s.symbols.List()
	out := make([]SymbolSummary, len(symbols))
	for i, sym := range symbols {
		price, traded, err := s.LastPrice(ctx, sym)
		if err != nil {
			return nil, fmt.Errorf("last price of %s: %w", sym, err)
		}
		out[i] = SymbolSummary{Symbol: sym, LastPrice: price, Traded: traded}
	}
	return out, nil
}

// HoldingsBySymbol returns every participant's position in symbol.
func (s *MarketService) HoldingsBySymbol(ctx context.Context, symbol string) (*SymbolHoldings, error) {
	if !s.symbols.Exists(symbol) {
		return nil, domain.ErrSymbolNotFound
	}
	holdings, err := s.repo.HoldingsBySymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}
	resp := &SymbolHoldings{Symbol: symbol, Holdings: holdings}
	for _, h := range holdings {
		resp.Total += h.Quantity
	}
	return resp, nil
}

// formatDuration converts a time.Duration to a human-readable string
// like "5m" for the window field.
func formatDuration(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	minutes := int(d.Minutes())
	if d == time.Duration(minutes)*time.Minute && minutes > 0 {
		return fmt.Sprintf("%dm", minutes)
	}
	return d.String()
}
