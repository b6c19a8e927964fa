package settlement

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

type edgeKey struct {
	source string
	target string
	symbol string
}

// weight is the accumulated quantity of one edge together with the
// quantity-weighted rate of the obligations folded into it.
type weight struct {
	qty      int64
	ratedQty int64           // quantity of contributing obligations that carried a rate
	notional decimal.Decimal // sum of quantity × rate over those obligations
}

func newWeight(qty int64, rate *decimal.Decimal) *weight {
	w := &weight{qty: qty, notional: decimal.Zero}
	if rate != nil {
		w.ratedQty = qty
		w.notional = rate.Mul(decimal.NewFromInt(qty))
	}
	return w
}

// absorb folds the rate contribution of o into w.
func (w *weight) absorb(o *weight) {
	w.ratedQty += o.ratedQty
	w.notional = w.notional.Add(o.notional)
}

func (w *weight) rate() *decimal.Decimal {
	if w.ratedQty == 0 {
		return nil
	}
	r := w.notional.DivRound(decimal.NewFromInt(w.ratedQty), RatePlaces)
	return &r
}

// Graph is a directed multigraph of obligations with at most one edge per
// (source, target, symbol). It is built per netting run from a snapshot
// and is not safe for concurrent use.
type Graph struct {
	edges   map[edgeKey]*weight
	dropped int
}

// NewGraph creates an empty Graph.
func NewGraph() *Graph {
	return &Graph{edges: make(map[edgeKey]*weight)}
}

// Add inserts an obligation, summing it into an existing edge with the
// same source, target and symbol. Obligations a participant owes itself
// are dropped and counted in Dropped.
func (g *Graph) Add(e Edge) error {
	if e.Quantity <= 0 {
		return fmt.Errorf("%s -> %s %s: %w", e.Source, e.Target, e.Symbol, ErrInvalidQuantity)
	}
	if e.Source == "" || e.Target == "" {
		return ErrMissingParty
	}
	if e.Source == e.Target {
		g.dropped++
		return nil
	}
	k := edgeKey{e.Source, e.Target, e.Symbol}
	w := newWeight(e.Quantity, e.Rate)
	if cur, ok := g.edges[k]; ok {
		cur.qty += w.qty
		cur.absorb(w)
		return nil
	}
	g.edges[k] = w
	return nil
}

// AddAll adds every edge, stopping at the first invalid one.
func (g *Graph) AddAll(edges []Edge) error {
	for _, e := range edges {
		if err := g.Add(e); err != nil {
			return err
		}
	}
	return nil
}

// Dropped returns how many self-obligations were discarded by Add.
func (g *Graph) Dropped() int { return g.dropped }

// Len returns the number of edges.
func (g *Graph) Len() int { return len(g.edges) }

// Edges returns the graph's edges ordered by symbol, source, target.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for k, w := range g.edges {
		out = append(out, Edge{
			Source:   k.source,
			Target:   k.target,
			Symbol:   k.symbol,
			Quantity: w.qty,
			Rate:     w.rate(),
		})
	}
	sortEdges(out)
	return out
}

func (g *Graph) sortedKeys() []edgeKey {
	keys := make([]edgeKey, 0, len(g.edges))
	for k := range g.edges {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.symbol != b.symbol {
			return a.symbol < b.symbol
		}
		if a.source != b.source {
			return a.source < b.source
		}
		return a.target < b.target
	})
	return keys
}

// Normalize replaces every reciprocal pair A->B, B->A of the same symbol
// with a single edge of the difference, directed from the net debtor to
// the net creditor. A pair that cancels exactly leaves no edge. Applying
// Normalize to a normalized graph changes nothing.
func (g *Graph) Normalize() {
	for _, k := range g.sortedKeys() {
		fwd, ok := g.edges[k]
		if !ok {
			continue // consumed as the reverse of an earlier pair
		}
		rk := edgeKey{k.target, k.source, k.symbol}
		rev, ok := g.edges[rk]
		if !ok {
			continue
		}
		delete(g.edges, k)
		delete(g.edges, rk)

		diff := fwd.qty - rev.qty
		merged := &weight{notional: decimal.Zero}
		merged.absorb(fwd)
		merged.absorb(rev)
		switch {
		case diff > 0:
			merged.qty = diff
			g.edges[k] = merged
		case diff < 0:
			merged.qty = -diff
			g.edges[rk] = merged
		}
	}
}

// Net normalizes the graph, then collapses every cycle. Each symbol's
// graph is split into strongly connected components; components of one
// participant are left as they are. For larger components the internal
// edges are replaced by a debtor-to-creditor edge set that reproduces each
// member's net balance.
//
// Reconstruction repeatedly settles the largest net debtor against the
// largest net creditor. This keeps the edge count low but is not
// guaranteed to be minimal. Every reconstructed edge carries the
// quantity-weighted rate of the component's original edges.
//
// The result has no cycles, so netting it again changes nothing.
func (g *Graph) Net() error {
	g.Normalize()

	bySymbol := make(map[string][]edgeKey)
	for _, k := range g.sortedKeys() {
		bySymbol[k.symbol] = append(bySymbol[k.symbol], k)
	}
	symbols := make([]string, 0, len(bySymbol))
	for s := range bySymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		if err := g.netSymbol(symbol, bySymbol[symbol]); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) netSymbol(symbol string, keys []edgeKey) error {
	idx, names := indexParticipants(keys)
	adj := make([][]int, len(names))
	for _, k := range keys {
		adj[idx[k.source]] = append(adj[idx[k.source]], idx[k.target])
	}

	for _, comp := range stronglyConnected(adj) {
		if len(comp) < 2 {
			continue
		}
		members := make(map[string]bool, len(comp))
		for _, n := range comp {
			members[names[n]] = true
		}
		if err := g.collapse(symbol, keys, members); err != nil {
			return err
		}
	}
	return nil
}

// collapse replaces the internal edges of one component.
func (g *Graph) collapse(symbol string, keys []edgeKey, members map[string]bool) error {
	balances := make(map[string]int64, len(members))
	combined := &weight{notional: decimal.Zero}

	for _, k := range keys {
		if !members[k.source] || !members[k.target] {
			continue
		}
		w := g.edges[k]
		balances[k.source] += w.qty
		balances[k.target] -= w.qty
		combined.absorb(w)
		delete(g.edges, k)
	}

	var sum int64
	for _, b := range balances {
		sum += b
	}
	if sum != 0 {
		return fmt.Errorf("%s: balances sum to %d: %w", symbol, sum, ErrUnbalanced)
	}

	transfers := settle(balances)

	got := make(map[string]int64, len(balances))
	for _, t := range transfers {
		got[t.source] += t.qty
		got[t.target] -= t.qty
		w := &weight{qty: t.qty, ratedQty: combined.ratedQty, notional: combined.notional}
		g.edges[edgeKey{t.source, t.target, symbol}] = w
	}
	for p, want := range balances {
		if got[p] != want {
			return fmt.Errorf("%s: %s reconstructed to %d, want %d: %w", symbol, p, got[p], want, ErrUnbalanced)
		}
	}
	return nil
}

type transfer struct {
	source string
	target string
	qty    int64
}

// settle pairs the largest remaining debtor with the largest remaining
// creditor until every balance is zero. Ties go to the smaller
// participant ID. balances must sum to zero.
func settle(balances map[string]int64) []transfer {
	remaining := make(map[string]int64, len(balances))
	names := make([]string, 0, len(balances))
	for p, b := range balances {
		if b != 0 {
			remaining[p] = b
			names = append(names, p)
		}
	}
	sort.Strings(names)

	var out []transfer
	for {
		debtor, creditor := "", ""
		for _, p := range names {
			b := remaining[p]
			if b > 0 && (debtor == "" || b > remaining[debtor]) {
				debtor = p
			}
			if b < 0 && (creditor == "" || b < remaining[creditor]) {
				creditor = p
			}
		}
		if debtor == "" || creditor == "" {
			return out
		}
		qty := min(remaining[debtor], -remaining[creditor])
		out = append(out, transfer{debtor, creditor, qty})
		remaining[debtor] -= qty
		remaining[creditor] += qty
	}
}

// indexParticipants assigns dense indices to the participants of keys in
// ID order.
func indexParticipants(keys []edgeKey) (map[string]int, []string) {
	seen := make(map[string]bool)
	var names []string
	for _, k := range keys {
		for _, p := range [2]string{k.source, k.target} {
			if !seen[p] {
				seen[p] = true
				names = append(names, p)
			}
		}
	}
	sort.Strings(names)
	idx := make(map[string]int, len(names))
	for i, n := range names {
		idx[n] = i
	}
	return idx, names
}
