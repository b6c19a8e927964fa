package settlement

import (
	"fmt"

	"github.com/efreitasn/simexchange/internal/domain"
)

// Normalize returns edges with parallel obligations summed and reciprocal
// pairs replaced by their difference. The input is not modified.
func Normalize(edges []Edge) ([]Edge, error) {
	g := NewGraph()
	if err := g.AddAll(edges); err != nil {
		return nil, err
	}
	g.Normalize()
	return g.Edges(), nil
}

// Net returns the netted, balance-equivalent form of edges: normalized,
// with every cycle collapsed. Each participant's balance per symbol is the
// same before and after. The input is not modified.
func Net(edges []Edge) ([]Edge, error) {
	g := NewGraph()
	if err := g.AddAll(edges); err != nil {
		return nil, err
	}
	if err := g.Net(); err != nil {
		return nil, err
	}
	return g.Edges(), nil
}

// AddTrades adds the obligation of every trade: the buyer owes the seller
// the traded quantity of the symbol, at the trade price in dollars. Trades
// between a participant and itself are counted in Dropped.
func (g *Graph) AddTrades(trades []*domain.Trade) error {
	for _, t := range trades {
		rate := domain.CentsToDecimal(t.Price)
		err := g.Add(Edge{
			Source:   t.BuyerID,
			Target:   t.SellerID,
			Symbol:   t.Symbol,
			Quantity: t.Quantity,
			Rate:     &rate,
		})
		if err != nil {
			return fmt.Errorf("trade %s: %w", t.TradeID, err)
		}
	}
	return nil
}

// FromTrades aggregates trades into obligations. See Graph.AddTrades.
func FromTrades(trades []*domain.Trade) []Edge {
	g := NewGraph()
	// Quantities of stored trades are always positive.
	_ = g.AddTrades(trades)
	return g.Edges()
}
