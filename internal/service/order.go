package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/efreitasn/simexchange/internal/domain"
	"github.com/efreitasn/simexchange/internal/engine"
	"github.com/efreitasn/simexchange/internal/metrics"
	"github.com/efreitasn/simexchange/internal/store"
)

var participantIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// SubmitOrderRequest represents the input for order submission.
type SubmitOrderRequest struct {
	ParticipantID string
	Side          domain.OrderSide
	Symbol        string
	Price         float64 // dollars
	Quantity      int64
}

// OrderService handles order submission, retrieval, cancellation and
// matching passes.
type OrderService struct {
	matcher *engine.Matcher
	repo    store.Repository
	symbols *domain.SymbolRegistry
	metrics *metrics.Metrics
}

// NewOrderService creates a new OrderService with the given dependencies.
// metrics may be nil.
func NewOrderService(
	matcher *engine.Matcher,
	repo store.Repository,
	symbols *domain.SymbolRegistry,
	m *metrics.Metrics,
) *OrderService {
	return &OrderService{
		matcher: matcher,
		repo:    repo,
		symbols: symbols,
		metrics: m,
	}
}

// SubmitOrder validates the request and places the order on the book as
// pending. It does not run a matching pass.
func (s *OrderService) SubmitOrder(ctx context.Context, req SubmitOrderRequest) (*domain.Order, error) {
	price, err := s.validate(req)
	if err != nil {
		s.metrics.OrderRejected("validation")
		return nil, err
	}

	if _, err := s.repo.GetParticipant(ctx, req.ParticipantID); err != nil {
		s.metrics.OrderRejected("unknown_participant")
		return nil, err
	}

	return s.matcher.Submit(ctx, &domain.Order{
		ParticipantID: req.ParticipantID,
		Side:          req.Side,
		Symbol:        req.Symbol,
		Price:         price,
		Quantity:      req.Quantity,
	})
}

// validate checks the request fields and returns the price in cents.
func (s *OrderService) validate(req SubmitOrderRequest) (int64, error) {
	if !participantIDRegex.MatchString(req.ParticipantID) {
		return 0, &domain.ValidationError{
			Message: "participant_id must match ^[a-zA-Z0-9_-]{1,64}$",
		}
	}
	if !req.Side.Valid() {
		return 0, &domain.ValidationError{
			Message: "side must be 'buy' or 'sell'",
		}
	}
	if !s.symbols.Exists(req.Symbol) {
		return 0, &domain.ValidationError{
			Message: fmt.Sprintf("symbol %q is not listed", req.Symbol),
		}
	}
	price, err := domain.DollarsToCents(req.Price)
	if errors.Is(err, domain.ErrAmountOutOfRange) {
		return 0, &domain.ValidationError{
			Message: "price is out of range",
		}
	}
	if err != nil {
		return 0, &domain.ValidationError{
			Message: "price must have at most 2 decimal places",
		}
	}
	if price <= 0 {
		return 0, &domain.ValidationError{
			Message: "price must be greater than 0",
		}
	}
	if req.Quantity <= 0 {
		return 0, &domain.ValidationError{
			Message: "quantity must be a positive integer",
		}
	}
	if req.Quantity > domain.MaxQuantity {
		return 0, &domain.ValidationError{
			Message: fmt.Sprintf("quantity must not exceed %d", domain.MaxQuantity),
		}
	}
	if _, err := domain.Notional(price, req.Quantity); err != nil {
		return 0, &domain.ValidationError{
			Message: "price × quantity is out of range",
		}
	}
	return price, nil
}

// GetOrder retrieves an order by ID.
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.repo.GetOrder(ctx, orderID)
}

// CancelOrder cancels a pending order.
func (s *OrderService) CancelOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.matcher.Cancel(ctx, orderID)
}

// Match runs one matching pass over a listed symbol. On a failed step the
// trades committed before it are returned along with the error.
func (s *OrderService) Match(ctx context.Context, symbol string) ([]*domain.Trade, error) {
	if !s.symbols.Exists(symbol) {
		return nil, domain.ErrSymbolNotFound
	}
	return s.matcher.Match(ctx, symbol)
}
