package service

import (
	"context"
	"fmt"
	"time"

	"github.com/efreitasn/simexchange/internal/domain"
	"github.com/efreitasn/simexchange/internal/store"
)

// RegisterParticipantRequest represents the input for participant
// registration.
type RegisterParticipantRequest struct {
	ParticipantID   string
	InitialHoldings []HoldingInput
}

// HoldingInput represents a single holding in a registration request.
type HoldingInput struct {
	Symbol   string
	Quantity int64
}

// HoldingsResponse represents the response for the holdings endpoint.
type HoldingsResponse struct {
	ParticipantID string
	Holdings      []HoldingBalance
}

// HoldingBalance is one position. PendingSell is the quantity committed to
// the participant's pending sell orders of the symbol.
type HoldingBalance struct {
	Symbol            string
	Quantity          int64
	PendingSell       int64
	AvailableQuantity int64
}

// ParticipantService handles participant registration and position
// queries.
type ParticipantService struct {
	repo    store.Repository
	symbols *domain.SymbolRegistry
	now     func() time.Time
}

// NewParticipantService creates a new ParticipantService.
func NewParticipantService(repo store.Repository, symbols *domain.SymbolRegistry) *ParticipantService {
	return &ParticipantService{
		repo:    repo,
		symbols: symbols,
		now:     time.Now,
	}
}

// Register validates the request, creates the participant and credits its
// initial holdings in one unit.
func (s *ParticipantService) Register(ctx context.Context, req RegisterParticipantRequest) (*domain.Participant, error) {
	if !participantIDRegex.MatchString(req.ParticipantID) {
		return nil, &domain.ValidationError{
			Message: "participant_id must match ^[a-zA-Z0-9_-]{1,64}$",
		}
	}

	seen := make(map[string]bool, len(req.InitialHoldings))
	for _, h := range req.InitialHoldings {
		if !s.symbols.Exists(h.Symbol) {
			return nil, &domain.ValidationError{
				Message: fmt.Sprintf("symbol %q is not listed", h.Symbol),
			}
		}
		if seen[h.Symbol] {
			return nil, &domain.ValidationError{
				Message: fmt.Sprintf("duplicate holding for symbol %s", h.Symbol),
			}
		}
		seen[h.Symbol] = true
		if h.Quantity <= 0 {
			return nil, &domain.ValidationError{
				Message: "holding quantity must be a positive integer",
			}
		}
		if h.Quantity > domain.MaxQuantity {
			return nil, &domain.ValidationError{
				Message: fmt.Sprintf("holding quantity must not exceed %d", domain.MaxQuantity),
			}
		}
	}

	p := &domain.Participant{
		ParticipantID: req.ParticipantID,
		CreatedAt:     s.now().UTC(),
	}
	err := s.repo.Update(ctx, func(tx store.Tx) error {
		if err := tx.CreateParticipant(p); err != nil {
			return err
		}
		for _, h := range req.InitialHoldings {
			if _, err := tx.UpsertHolding(p.ParticipantID, h.Symbol, h.Quantity); err != nil {
				return fmt.Errorf("credit initial %s: %w", h.Symbol, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetHoldings returns the participant's positions along with the quantity
// already committed to pending sells.
func (s *ParticipantService) GetHoldings(ctx context.Context, participantID string) (*HoldingsResponse, error) {
	if _, err := s.repo.GetParticipant(ctx, participantID); err != nil {
		return nil, err
	}

	holdings, err := s.repo.Holdings(ctx, participantID)
	if err != nil {
		return nil, err
	}

	pending := domain.OrderStatusPending
	orders, _, err := s.repo.ListOrders(ctx, store.OrderFilter{
		ParticipantID: participantID,
		Status:        &pending,
	})
	if err != nil {
		return nil, err
	}
	committed := make(map[string]int64)
	for _, o := range orders {
		if o.Side == domain.OrderSideSell {
			committed[o.Symbol] += o.RemainingQuantity
		}
	}

	resp := &HoldingsResponse{
		ParticipantID: participantID,
		Holdings:      make([]HoldingBalance, len(holdings)),
	}
	for i, h := range holdings {
		resp.Holdings[i] = HoldingBalance{
			Symbol:            h.Symbol,
			Quantity:          h.Quantity,
			PendingSell:       committed[h.Symbol],
			AvailableQuantity: h.Quantity - committed[h.Symbol],
		}
	}
	return resp, nil
}

// ListOrders returns a paginated list of a participant's orders, newest
// first, with optional status filtering.
func (s *ParticipantService) ListOrders(ctx context.Context, participantID string, status *domain.OrderStatus, page, limit int) ([]*domain.Order, int, error) {
	if _, err := s.repo.GetParticipant(ctx, participantID); err != nil {
		return nil, 0, err
	}

	if status != nil && !status.Valid() {
		return nil, 0, &domain.ValidationError{
			Message: fmt.Sprintf("Invalid status filter: '%s'. Must be one of: pending, matched, cancelled", *status),
		}
	}
	if page < 1 {
		return nil, 0, &domain.ValidationError{
			Message: "page must be >= 1",
		}
	}
	if limit < 1 || limit > 100 {
		return nil, 0, &domain.ValidationError{
			Message: "limit must be between 1 and 100",
		}
	}

	return s.repo.ListOrders(ctx, store.OrderFilter{
		ParticipantID: participantID,
		Status:        status,
		Page:          page,
		Limit:         limit,
	})
}
