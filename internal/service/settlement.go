package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"go.uber.org/zap"

	"github.com/efreitasn/simexchange/internal/domain"
	"github.com/efreitasn/simexchange/internal/metrics"
	"github.com/efreitasn/simexchange/internal/settlement"
	"github.com/efreitasn/simexchange/internal/store"
)

// Stage selects how far a settlement graph is reduced.
type Stage string

const (
	StageRaw        Stage = "raw"
	StageNormalized Stage = "normalized"
	StageNetted     Stage = "netted"
)

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageRaw, StageNormalized, StageNetted:
		return true
	}
	return false
}

// GraphFilter narrows the trades a settlement graph is built from. Entity
// matches either side of a trade. Empty fields do not filter.
type GraphFilter struct {
	Entity string
	Symbol string
}

// GraphResponse is a settlement graph at one stage.
type GraphResponse struct {
	Stage   Stage
	Trades  int
	Dropped int // self-obligations discarded
	Edges   []settlement.Edge
}

// SettlementService builds obligation graphs from executed trades and
// reduces them.
type SettlementService struct {
	repo    store.Repository
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewSettlementService creates a new SettlementService. metrics may be nil.
func NewSettlementService(repo store.Repository, logger *zap.Logger, m *metrics.Metrics) *SettlementService {
	return &SettlementService{
		repo:    repo,
		logger:  logger.Named("settlement"),
		metrics: m,
	}
}

// Entities returns every participant that appears in a trade, sorted.
func (s *SettlementService) Entities(ctx context.Context) ([]string, error) {
	trades, err := s.repo.ListTrades(ctx, store.TradeFilter{})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, t := range trades {
		seen[t.BuyerID] = true
		seen[t.SellerID] = true
	}
	return slices.Sorted(maps.Keys(seen)), nil
}

// Symbols returns every symbol that has traded, sorted.
func (s *SettlementService) Symbols(ctx context.Context) ([]string, error) {
	trades, err := s.repo.ListTrades(ctx, store.TradeFilter{})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, t := range trades {
		seen[t.Symbol] = true
	}
	return slices.Sorted(maps.Keys(seen)), nil
}

// Graph builds the obligation graph of the trades selected by f from one
// consistent snapshot and reduces it to stage.
func (s *SettlementService) Graph(ctx context.Context, f GraphFilter, stage Stage) (*GraphResponse, error) {
	if !stage.Valid() {
		return nil, &domain.ValidationError{
			Message: fmt.Sprintf("Invalid stage: '%s'. Must be one of: raw, normalized, netted", stage),
		}
	}

	trades, err := s.repo.ListTrades(ctx, store.TradeFilter{
		Symbol:        f.Symbol,
		ParticipantID: f.Entity,
	})
	if err != nil {
		return nil, err
	}

	g := settlement.NewGraph()
	if err := g.AddTrades(trades); err != nil {
		return nil, fmt.Errorf("build graph: %w", err)
	}
	s.metrics.SettlementEdges(string(StageRaw), g.Len())

	if err := s.reduce(g, stage); err != nil {
		return nil, err
	}

	resp := &GraphResponse{
		Stage:   stage,
		Trades:  len(trades),
		Edges:   g.Edges(),
		Dropped: g.Dropped(),
	}
	s.logger.Debug("settlement graph built",
		zap.String("entity", f.Entity),
		zap.String("symbol", f.Symbol),
		zap.String("stage", string(stage)),
		zap.Int("trades", len(trades)),
		zap.Int("edges", len(resp.Edges)),
	)
	return resp, nil
}

// NetEdges reduces externally supplied obligations to stage. Invalid
// edges are reported as validation errors.
func (s *SettlementService) NetEdges(edges []settlement.Edge, stage Stage) (*GraphResponse, error) {
	if !stage.Valid() {
		return nil, &domain.ValidationError{
			Message: fmt.Sprintf("Invalid stage: '%s'. Must be one of: raw, normalized, netted", stage),
		}
	}

	g := settlement.NewGraph()
	if err := g.AddAll(edges); err != nil {
		if errors.Is(err, settlement.ErrInvalidQuantity) || errors.Is(err, settlement.ErrMissingParty) {
			return nil, &domain.ValidationError{Message: err.Error()}
		}
		return nil, err
	}
	s.metrics.SettlementEdges(string(StageRaw), g.Len())

	if err := s.reduce(g, stage); err != nil {
		return nil, err
	}
	return &GraphResponse{
		Stage:   stage,
		Dropped: g.Dropped(),
		Edges:   g.Edges(),
	}, nil
}

func (s *SettlementService) reduce(g *settlement.Graph, stage Stage) error {
	switch stage {
	case StageNormalized:
		g.Normalize()
	case StageNetted:
		if err := g.Net(); err != nil {
			s.logger.Error("netting failed", zap.Error(err))
			return err
		}
	default:
		return nil
	}
	s.metrics.SettlementEdges(string(stage), g.Len())
	return nil
}
