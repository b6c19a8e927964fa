package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/efreitasn/simexchange/internal/domain"
	"github.com/efreitasn/simexchange/internal/metrics"
	"github.com/efreitasn/simexchange/internal/store"
)

// TradePublisher receives the trades of a matching pass once the symbol
// lock has been released.
type TradePublisher interface {
	PublishTrades(trades []*domain.Trade)
}

// Matcher runs the continuous double auction over the pending orders held
// by the repository.
type Matcher struct {
	repo      store.Repository
	locks     *SymbolLocks
	logger    *zap.Logger
	metrics   *metrics.Metrics
	publisher TradePublisher

	now    func() time.Time
	clock  sync.Mutex
	lastTS time.Time
}

// NewMatcher creates a new Matcher with the given dependencies. metrics
// may be nil.
func NewMatcher(repo store.Repository, logger *zap.Logger, m *metrics.Metrics) *Matcher {
	return &Matcher{
		repo:    repo,
		locks:   NewSymbolLocks(),
		logger:  logger.Named("matcher"),
		metrics: m,
		now:     time.Now,
	}
}

// SetPublisher installs the sink for executed trades. It must be called
// before the matcher is used concurrently.
func (m *Matcher) SetPublisher(p TradePublisher) {
	m.publisher = p
}

// timestamp returns a strictly increasing submission time.
func (m *Matcher) timestamp() time.Time {
	m.clock.Lock()
	defer m.clock.Unlock()

	t := m.now().UTC()
	if !t.After(m.lastTS) {
		t = m.lastTS.Add(time.Nanosecond)
	}
	m.lastTS = t
	return t
}

// Submit places a validated order on the book as pending. The caller
// provides ParticipantID, Symbol, Side, Price and Quantity; the matcher
// assigns OrderID and CreatedAt.
//
// A sell is accepted only if the participant's holding, less the quantity
// still pending in its other sells of the symbol, covers it.
func (m *Matcher) Submit(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	unlock := m.locks.Lock(order.Symbol)
	defer unlock()

	if order.Side == domain.OrderSideSell {
		available, err := m.availableToSell(ctx, order.ParticipantID, order.Symbol)
		if err != nil {
			return nil, err
		}
		if available < order.Quantity {
			m.metrics.OrderRejected("insufficient_holdings")
			return nil, domain.ErrInsufficientHoldings
		}
	}

	order.OrderID = uuid.New().String()
	order.CreatedAt = m.timestamp()
	order.RemainingQuantity = order.Quantity
	order.FilledQuantity = 0
	order.Status = domain.OrderStatusPending
	order.CancelledAt = nil

	if err := m.repo.InsertOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	m.metrics.OrderSubmitted(order.Symbol, string(order.Side))
	m.logger.Debug("order submitted",
		zap.String("order_id", order.OrderID),
		zap.String("participant_id", order.ParticipantID),
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.Int64("price", order.Price),
		zap.Int64("quantity", order.Quantity),
	)
	return order, nil
}

func (m *Matcher) availableToSell(ctx context.Context, participantID, symbol string) (int64, error) {
	held, err := m.repo.Holding(ctx, participantID, symbol)
	if err != nil {
		return 0, fmt.Errorf("load holding: %w", err)
	}
	sells, err := m.repo.ListPendingOrders(ctx, symbol, domain.OrderSideSell)
	if err != nil {
		return 0, fmt.Errorf("load pending sells: %w", err)
	}
	for _, o := range sells {
		if o.ParticipantID == participantID {
			held -= o.RemainingQuantity
		}
	}
	return held, nil
}

// Cancel transitions a pending order to cancelled. Orders in any other
// state yield domain.ErrOrderNotCancellable.
func (m *Matcher) Cancel(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := m.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	unlock := m.locks.Lock(order.Symbol)
	defer unlock()

	// Re-read inside the unit; a pass may have filled it meanwhile.
	var cancelled *domain.Order
	err = m.repo.Update(ctx, func(tx store.Tx) error {
		cur, err := tx.GetOrder(orderID)
		if err != nil {
			return err
		}
		if cur.Status != domain.OrderStatusPending {
			return domain.ErrOrderNotCancellable
		}
		now := m.now().UTC()
		cur.Status = domain.OrderStatusCancelled
		cur.CancelledAt = &now
		cancelled = cur
		return tx.UpdateOrder(cur)
	})
	if err != nil {
		return nil, err
	}
	m.metrics.OrderCancelled(cancelled.Symbol)
	return cancelled, nil
}

// Match runs one matching pass over the pending orders of symbol and
// returns the trades it executed.
//
// Buys (best price first) and sells (best price first) are merged with one
// cursor each. While the orders under both cursors cross, they trade the
// smaller remaining quantity at the price of whichever arrived first, or
// the sell price when both arrived at the same instant. Each trade is one
// atomic repository unit covering both orders, the trade, its market tick
// and both holdings. A cursor only advances once its order is fully filled,
// so a partially filled order keeps its place for the next counter-order
// and for the next pass.
//
// If a unit fails, nothing of that step is applied and Match returns the
// trades already committed along with the error; failures of the store
// wrap domain.ErrTransient. Match does not retry.
func (m *Matcher) Match(ctx context.Context, symbol string) ([]*domain.Trade, error) {
	start := time.Now()

	unlock := m.locks.Lock(symbol)
	trades, err := m.match(ctx, symbol)
	unlock()

	m.metrics.MatchPass(symbol, time.Since(start), err != nil)
	if err != nil {
		m.logger.Warn("matching pass aborted",
			zap.String("symbol", symbol),
			zap.Int("trades", len(trades)),
			zap.Error(err),
		)
	} else if len(trades) > 0 {
		m.logger.Info("matching pass complete",
			zap.String("symbol", symbol),
			zap.Int("trades", len(trades)),
			zap.Duration("took", time.Since(start)),
		)
	}
	if len(trades) > 0 && m.publisher != nil {
		m.publisher.PublishTrades(trades)
	}
	return trades, err
}

func (m *Matcher) match(ctx context.Context, symbol string) ([]*domain.Trade, error) {
	buys, err := m.repo.ListPendingOrders(ctx, symbol, domain.OrderSideBuy)
	if err != nil {
		return nil, fmt.Errorf("load pending buys of %s: %w: %w", symbol, domain.ErrTransient, err)
	}
	sells, err := m.repo.ListPendingOrders(ctx, symbol, domain.OrderSideSell)
	if err != nil {
		return nil, fmt.Errorf("load pending sells of %s: %w: %w", symbol, domain.ErrTransient, err)
	}

	trades := make([]*domain.Trade, 0)
	i, j := 0, 0
	for i < len(buys) && j < len(sells) {
		buy, sell := buys[i], sells[j]
		if buy.Price < sell.Price {
			break
		}

		filled := min(buy.RemainingQuantity, sell.RemainingQuantity)
		trade := &domain.Trade{
			TradeID:     uuid.New().String(),
			Symbol:      symbol,
			BuyOrderID:  buy.OrderID,
			SellOrderID: sell.OrderID,
			BuyerID:     buy.ParticipantID,
			SellerID:    sell.ParticipantID,
			Price:       executionPrice(buy, sell),
			Quantity:    filled,
			ExecutedAt:  m.now().UTC(),
		}

		nextBuy, nextSell := buy.Clone(), sell.Clone()
		nextBuy.Fill(filled)
		nextSell.Fill(filled)

		err := m.repo.Update(ctx, func(tx store.Tx) error {
			if err := tx.UpdateOrder(nextBuy); err != nil {
				return err
			}
			if err := tx.UpdateOrder(nextSell); err != nil {
				return err
			}
			if err := tx.InsertTrade(trade); err != nil {
				return err
			}
			if err := tx.InsertTick(domain.NewMarketTick(trade)); err != nil {
				return err
			}
			return ApplyTrade(tx, trade)
		})
		if err != nil {
			if errors.Is(err, domain.ErrInsufficientHoldings) || errors.Is(err, domain.ErrHoldingOverflow) {
				return trades, fmt.Errorf("match %s: %w", symbol, err)
			}
			return trades, fmt.Errorf("match %s: %w: %w", symbol, domain.ErrTransient, err)
		}

		trades = append(trades, trade)
		m.metrics.TradeExecuted(symbol, filled)
		m.logger.Debug("trade executed",
			zap.String("trade_id", trade.TradeID),
			zap.String("symbol", symbol),
			zap.String("buyer_id", trade.BuyerID),
			zap.String("seller_id", trade.SellerID),
			zap.Int64("price", trade.Price),
			zap.Int64("quantity", filled),
		)

		buys[i], sells[j] = nextBuy, nextSell
		if nextBuy.RemainingQuantity == 0 {
			i++
		}
		if nextSell.RemainingQuantity == 0 {
			j++
		}
	}
	return trades, nil
}

// executionPrice returns the price of the order that arrived first. When
// both arrived at the same instant the sell price is used.
func executionPrice(buy, sell *domain.Order) int64 {
	if buy.ArrivedBefore(sell) {
		return buy.Price
	}
	return sell.Price
}
