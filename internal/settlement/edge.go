// Package settlement reduces bilateral obligations between participants to
// a smaller, balance-equivalent set of settlement instructions.
package settlement

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"
)

// RatePlaces is the number of decimal places reference rates are rounded
// to when several obligations are combined.
const RatePlaces = 8

var (
	ErrInvalidQuantity = errors.New("obligation quantity must be positive")
	ErrMissingParty    = errors.New("obligation source and target are required")

	// ErrUnbalanced reports a component whose balances do not sum to zero,
	// or a reconstruction that does not reproduce them.
	ErrUnbalanced = errors.New("settlement component is unbalanced")
)

// Edge is a directed obligation: Source owes Target Quantity of Symbol.
// Rate is the optional reference rate (price per unit) of the obligation.
type Edge struct {
	Source   string           `json:"source"`
	Target   string           `json:"target"`
	Symbol   string           `json:"symbol"`
	Quantity int64            `json:"quantity"`
	Rate     *decimal.Decimal `json:"rate,omitempty"`
}

// Position identifies one participant's position in one symbol.
type Position struct {
	Participant string
	Symbol      string
}

// Balances returns every participant's net balance per symbol: outgoing
// minus incoming quantity. Positive is a net debtor, negative a net
// creditor. Participants that net to zero are omitted.
func Balances(edges []Edge) map[Position]int64 {
	out := make(map[Position]int64)
	for _, e := range edges {
		out[Position{e.Source, e.Symbol}] += e.Quantity
		out[Position{e.Target, e.Symbol}] -= e.Quantity
	}
	for k, v := range out {
		if v == 0 {
			delete(out, k)
		}
	}
	return out
}

// Participants returns the distinct participants named by edges, sorted.
func Participants(edges []Edge) []string {
	return distinct(edges, func(e Edge) []string { return []string{e.Source, e.Target} })
}

// Symbols returns the distinct symbols of edges, sorted.
func Symbols(edges []Edge) []string {
	return distinct(edges, func(e Edge) []string { return []string{e.Symbol} })
}

func distinct(edges []Edge, keys func(Edge) []string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, e := range edges {
		for _, k := range keys(e) {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	sort.Strings(out)
	return out
}

// sortEdges orders edges by symbol, source, target.
func sortEdges(edges []Edge) {
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.Target < b.Target
	})
}
