package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/efreitasn/simexchange/internal/domain"
)

type holdingKey struct {
	participantID string
	symbol        string
}

// MemoryRepository is a thread-safe in-memory Repository. Pending orders
// are indexed per symbol in B-trees kept in price-time order. Writes made
// through Update are staged and applied under a single write lock, so
// readers never observe a partially applied unit.
type MemoryRepository struct {
	mu                sync.RWMutex
	seq               uint64
	participants      map[string]*domain.Participant
	orders            map[string]*domain.Order
	participantOrders map[string][]string // participant_id → order ids (append-only)
	books             map[string]*pendingBook
	holdings          map[holdingKey]int64
	trades            []*domain.Trade // chronological
	ticks             map[string][]*domain.MarketTick
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		participants:      make(map[string]*domain.Participant),
		orders:            make(map[string]*domain.Order),
		participantOrders: make(map[string][]string),
		books:             make(map[string]*pendingBook),
		holdings:          make(map[holdingKey]int64),
		ticks:             make(map[string][]*domain.MarketTick),
	}
}

var _ Repository = (*MemoryRepository)(nil)

// CreateParticipant stores a participant. It returns
// domain.ErrParticipantAlreadyExists for a duplicate ID.
func (r *MemoryRepository) CreateParticipant(ctx context.Context, p *domain.Participant) error {
	return r.Update(ctx, func(tx Tx) error { return tx.CreateParticipant(p) })
}

// GetParticipant returns domain.ErrParticipantNotFound for an unknown ID.
func (r *MemoryRepository) GetParticipant(_ context.Context, id string) (*domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.participants[id]
	if !ok {
		return nil, domain.ErrParticipantNotFound
	}
	cp := *p
	return &cp, nil
}

// ListParticipants returns all participants ordered by ID.
func (r *MemoryRepository) ListParticipants(_ context.Context) ([]*domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out, nil
}

func (r *MemoryRepository) book(symbol string) *pendingBook {
	b, ok := r.books[symbol]
	if !ok {
		b = newPendingBook()
		r.books[symbol] = b
	}
	return b
}

// InsertOrder stores a new order, assigns its Seq and, if it is pending,
// places it in the symbol's pending index.
func (r *MemoryRepository) InsertOrder(_ context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[o.OrderID]; exists {
		return fmt.Errorf("order %s already exists", o.OrderID)
	}
	r.seq++
	o.Seq = r.seq

	stored := o.Clone()
	r.orders[o.OrderID] = stored
	r.participantOrders[o.ParticipantID] = append(r.participantOrders[o.ParticipantID], o.OrderID)
	if stored.Status == domain.OrderStatusPending && stored.RemainingQuantity > 0 {
		r.book(stored.Symbol).insert(stored)
	}
	return nil
}

// GetOrder returns domain.ErrOrderNotFound for an unknown ID.
func (r *MemoryRepository) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o.Clone(), nil
}

// ListOrders returns matching orders newest first. When a participant is
// given only that participant's secondary index is scanned.
func (r *MemoryRepository) ListOrders(_ context.Context, f OrderFilter) ([]*domain.Order, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidates []*domain.Order
	if f.ParticipantID != "" {
		ids := r.participantOrders[f.ParticipantID]
		candidates = make([]*domain.Order, 0, len(ids))
		for _, id := range ids {
			candidates = append(candidates, r.orders[id])
		}
	} else {
		candidates = make([]*domain.Order, 0, len(r.orders))
		for _, o := range r.orders {
			candidates = append(candidates, o)
		}
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].Seq < candidates[j].Seq })
	}

	filtered := make([]*domain.Order, 0)
	for i := len(candidates) - 1; i >= 0; i-- {
		if matchesOrder(candidates[i], f) {
			filtered = append(filtered, candidates[i].Clone())
		}
	}
	return paginate(filtered, f.Page, f.Limit), len(filtered), nil
}

// ListPendingOrders walks the symbol's B-tree for the requested side.
func (r *MemoryRepository) ListPendingOrders(_ context.Context, symbol string, side domain.OrderSide) ([]*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.books[symbol]
	if !ok {
		return []*domain.Order{}, nil
	}
	out := make([]*domain.Order, 0, b.side(side).Len())
	b.walk(side, func(e bookEntry) bool {
		out = append(out, r.orders[e.OrderID].Clone())
		return true
	})
	return out, nil
}

// Update stages the writes made by fn and applies them atomically.
func (r *MemoryRepository) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memoryTx{
		repo:     r,
		orders:   make(map[string]*domain.Order),
		holdings: make(map[holdingKey]int64),
	}
	if err := fn(tx); err != nil {
		return err
	}
	return r.commit(tx)
}

func (r *MemoryRepository) commit(tx *memoryTx) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range tx.participants {
		if _, exists := r.participants[p.ParticipantID]; exists {
			return domain.ErrParticipantAlreadyExists
		}
	}
	for _, p := range tx.participants {
		r.participants[p.ParticipantID] = p
	}
	for _, id := range tx.orderIDs {
		next := tx.orders[id]
		prev := r.orders[id]
		if prev.Status == domain.OrderStatusPending {
			r.book(prev.Symbol).remove(prev)
		}
		r.orders[id] = next
		if next.Status == domain.OrderStatusPending && next.RemainingQuantity > 0 {
			r.book(next.Symbol).insert(next)
		}
	}
	for _, k := range tx.holdingKeys {
		qty := r.holdings[k] + tx.holdings[k]
		if qty == 0 {
			delete(r.holdings, k)
		} else {
			r.holdings[k] = qty
		}
	}
	r.trades = append(r.trades, tx.trades...)
	for _, k := range tx.ticks {
		r.ticks[k.Symbol] = append(r.ticks[k.Symbol], k)
	}
	return nil
}

// Holding returns the participant's quantity in symbol, 0 when absent.
func (r *MemoryRepository) Holding(_ context.Context, participantID, symbol string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.holdings[holdingKey{participantID, symbol}], nil
}

// Holdings returns every holding of a participant ordered by symbol.
func (r *MemoryRepository) Holdings(_ context.Context, participantID string) ([]domain.Holding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Holding, 0)
	for k, qty := range r.holdings {
		if k.participantID == participantID {
			out = append(out, domain.Holding{ParticipantID: k.participantID, Symbol: k.symbol, Quantity: qty})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// HoldingsBySymbol returns every holding in symbol ordered by participant.
func (r *MemoryRepository) HoldingsBySymbol(_ context.Context, symbol string) ([]domain.Holding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Holding, 0)
	for k, qty := range r.holdings {
		if k.symbol == symbol {
			out = append(out, domain.Holding{ParticipantID: k.participantID, Symbol: k.symbol, Quantity: qty})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out, nil
}

// ListTrades filters the chronological trade log under one read lock.
func (r *MemoryRepository) ListTrades(_ context.Context, f TradeFilter) ([]*domain.Trade, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Trade, 0)
	for _, t := range r.trades {
		if matchesTrade(t, f) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ListTicks returns the most recent ticks of a symbol.
func (r *MemoryRepository) ListTicks(_ context.Context, symbol string, limit int) ([]*domain.MarketTick, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ticks := lastN(r.ticks[symbol], limit)
	out := make([]*domain.MarketTick, len(ticks))
	for i, k := range ticks {
		cp := *k
		out[i] = &cp
	}
	return out, nil
}

// LastTradedPrice returns the price of the latest tick of symbol.
func (r *MemoryRepository) LastTradedPrice(_ context.Context, symbol string) (int64, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ticks := r.ticks[symbol]
	if len(ticks) == 0 {
		return 0, false, nil
	}
	return ticks[len(ticks)-1].Price, true, nil
}

// Close is a no-op.
func (r *MemoryRepository) Close() error { return nil }

// memoryTx buffers writes until MemoryRepository.commit.
type memoryTx struct {
	repo         *MemoryRepository
	participants []*domain.Participant
	orders       map[string]*domain.Order
	orderIDs     []string
	holdings     map[holdingKey]int64 // staged deltas
	holdingKeys  []holdingKey
	trades       []*domain.Trade
	ticks        []*domain.MarketTick
}

func (tx *memoryTx) CreateParticipant(p *domain.Participant) error {
	if _, err := tx.repo.GetParticipant(context.Background(), p.ParticipantID); err == nil {
		return domain.ErrParticipantAlreadyExists
	}
	for _, staged := range tx.participants {
		if staged.ParticipantID == p.ParticipantID {
			return domain.ErrParticipantAlreadyExists
		}
	}
	cp := *p
	tx.participants = append(tx.participants, &cp)
	return nil
}

func (tx *memoryTx) GetOrder(id string) (*domain.Order, error) {
	if o, ok := tx.orders[id]; ok {
		return o.Clone(), nil
	}
	return tx.repo.GetOrder(context.Background(), id)
}

func (tx *memoryTx) UpdateOrder(o *domain.Order) error {
	if _, ok := tx.orders[o.OrderID]; !ok {
		if _, err := tx.repo.GetOrder(context.Background(), o.OrderID); err != nil {
			return err
		}
		tx.orderIDs = append(tx.orderIDs, o.OrderID)
	}
	tx.orders[o.OrderID] = o.Clone()
	return nil
}

func (tx *memoryTx) InsertTrade(t *domain.Trade) error {
	cp := *t
	tx.trades = append(tx.trades, &cp)
	return nil
}

func (tx *memoryTx) InsertTick(k *domain.MarketTick) error {
	cp := *k
	tx.ticks = append(tx.ticks, &cp)
	return nil
}

func (tx *memoryTx) UpsertHolding(participantID, symbol string, delta int64) (int64, error) {
	k := holdingKey{participantID, symbol}
	committed, _ := tx.repo.Holding(context.Background(), participantID, symbol)
	qty, err := domain.AddQuantity(committed+tx.holdings[k], delta)
	if err != nil {
		return 0, err
	}
	if _, ok := tx.holdings[k]; !ok {
		tx.holdingKeys = append(tx.holdingKeys, k)
	}
	tx.holdings[k] = qty - committed
	return qty, nil
}
