package store

import (
	"time"

	"github.com/efreitasn/simexchange/internal/domain"
	"github.com/google/btree"
)

// bookEntry is the priority key of one pending order.
type bookEntry struct {
	Price     int64
	CreatedAt time.Time
	Seq       uint64
	OrderID   string
}

func entryFor(o *domain.Order) bookEntry {
	return bookEntry{
		Price:     o.Price,
		CreatedAt: o.CreatedAt,
		Seq:       o.Seq,
		OrderID:   o.OrderID,
	}
}

// buyLess orders the buy side: price descending, then created_at
// ascending, then seq ascending. Min() is the best bid.
func buyLess(a, b bookEntry) bool {
	if a.Price != b.Price {
		return a.Price > b.Price
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Seq < b.Seq
}

// sellLess orders the sell side: price ascending, then created_at
// ascending, then seq ascending. Min() is the best offer.
func sellLess(a, b bookEntry) bool {
	if a.Price != b.Price {
		return a.Price < b.Price
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Seq < b.Seq
}

// pendingBook indexes the pending orders of a single symbol.
type pendingBook struct {
	buys  *btree.BTreeG[bookEntry]
	sells *btree.BTreeG[bookEntry]
}

func newPendingBook() *pendingBook {
	const degree = 32
	return &pendingBook{
		buys:  btree.NewG[bookEntry](degree, buyLess),
		sells: btree.NewG[bookEntry](degree, sellLess),
	}
}

func (b *pendingBook) side(s domain.OrderSide) *btree.BTreeG[bookEntry] {
	if s == domain.OrderSideBuy {
		return b.buys
	}
	return b.sells
}

func (b *pendingBook) insert(o *domain.Order) {
	b.side(o.Side).ReplaceOrInsert(entryFor(o))
}

func (b *pendingBook) remove(o *domain.Order) {
	b.side(o.Side).Delete(entryFor(o))
}

// walk visits the entries of one side in priority order until fn
// returns false.
func (b *pendingBook) walk(s domain.OrderSide, fn func(bookEntry) bool) {
	b.side(s).Ascend(fn)
}
