package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"

	"github.com/efreitasn/simexchange/internal/domain"
)

// PebbleRepository is a Repository persisted in a Pebble database.
//
// Keys are laid out so that prefix iteration already yields the order the
// queries need:
//
//	participant/<id>                                   participant JSON
//	order/<id>                                         order JSON
//	porder/<participant>/<seq>                         order id
//	pending/<symbol>/<side>/<price>/<created>/<seq>    order id
//	holding/<participant>/<symbol>                     int64
//	sholding/<symbol>/<participant>                    int64
//	trade/<seq>                                        trade JSON
//	tick/<symbol>/<seq>                                tick JSON
//	meta/seq                                           uint64
//
// Numbers are zero-padded to 20 digits. Buy prices are stored inverted so
// the best bid sorts first.
type PebbleRepository struct {
	db  *pebble.DB
	seq atomic.Uint64
	// commitMu serializes commits so meta/seq only ever moves forward.
	commitMu sync.Mutex
}

// OpenPebble opens (or creates) a Pebble-backed repository at path. opts
// may be nil.
func OpenPebble(path string, opts *pebble.Options) (*PebbleRepository, error) {
	if opts == nil {
		opts = &pebble.Options{}
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	r := &PebbleRepository{db: db}

	val, closer, err := db.Get(kSeq())
	switch {
	case err == nil:
		r.seq.Store(binary.BigEndian.Uint64(val))
		closer.Close()
	case errors.Is(err, pebble.ErrNotFound):
	default:
		db.Close()
		return nil, fmt.Errorf("load sequence: %w", err)
	}
	return r, nil
}

var _ Repository = (*PebbleRepository)(nil)

func kSeq() []byte                   { return []byte("meta/seq") }
func kParticipant(id string) []byte  { return []byte("participant/" + id) }
func kOrder(id string) []byte        { return []byte("order/" + id) }
func kTrade(seq uint64) []byte       { return []byte(fmt.Sprintf("trade/%020d", seq)) }
func kTick(sym string, seq uint64) []byte {
	return []byte(fmt.Sprintf("tick/%s/%020d", sym, seq))
}
func kParticipantOrder(participant string, seq uint64) []byte {
	return []byte(fmt.Sprintf("porder/%s/%020d", participant, seq))
}
func kHolding(participant, symbol string) []byte {
	return []byte("holding/" + participant + "/" + symbol)
}
func kSymbolHolding(symbol, participant string) []byte {
	return []byte("sholding/" + symbol + "/" + participant)
}

func pendingPrefix(symbol string, side domain.OrderSide) []byte {
	return []byte("pending/" + symbol + "/" + string(side) + "/")
}

func kPending(o *domain.Order) []byte {
	price := o.Price
	if o.Side == domain.OrderSideBuy {
		price = math.MaxInt64 - price
	}
	return []byte(fmt.Sprintf("%s%020d/%020d/%020d",
		pendingPrefix(o.Symbol, o.Side), price, o.CreatedAt.UnixNano(), o.Seq))
}

// prefixBounds returns iterator bounds covering every key with prefix.
func prefixBounds(prefix []byte) *pebble.IterOptions {
	upper := append(bytes.Clone(prefix), 0xff)
	return &pebble.IterOptions{LowerBound: prefix, UpperBound: upper}
}

func encodeInt(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

func decodeInt(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, errors.New("invalid holding length")
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// reader is satisfied by both *pebble.DB and an indexed *pebble.Batch.
type reader interface {
	Get(key []byte) ([]byte, io.Closer, error)
}

// getJSON decodes the value at key into v. It reports false when the key
// does not exist.
func getJSON(r reader, key []byte, v any) (bool, error) {
	val, closer, err := r.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	defer closer.Close()
	if err := json.Unmarshal(val, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func getInt(r reader, key []byte) (int64, error) {
	val, closer, err := r.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	defer closer.Close()
	return decodeInt(val)
}

// scan iterates every key with prefix in ascending (or descending) order.
func (r *PebbleRepository) scan(prefix []byte, reverse bool, fn func(key, val []byte) (bool, error)) error {
	iter, err := r.db.NewIter(prefixBounds(prefix))
	if err != nil {
		return err
	}
	defer iter.Close()

	valid := iter.First()
	if reverse {
		valid = iter.Last()
	}
	for valid {
		more, err := fn(iter.Key(), iter.Value())
		if err != nil {
			return err
		}
		if !more {
			break
		}
		if reverse {
			valid = iter.Prev()
		} else {
			valid = iter.Next()
		}
	}
	return iter.Error()
}

// CreateParticipant stores a participant. It returns
// domain.ErrParticipantAlreadyExists for a duplicate ID.
func (r *PebbleRepository) CreateParticipant(ctx context.Context, p *domain.Participant) error {
	return r.Update(ctx, func(tx Tx) error { return tx.CreateParticipant(p) })
}

func (r *PebbleRepository) GetParticipant(_ context.Context, id string) (*domain.Participant, error) {
	var p domain.Participant
	found, err := getJSON(r.db, kParticipant(id), &p)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.ErrParticipantNotFound
	}
	return &p, nil
}

func (r *PebbleRepository) ListParticipants(_ context.Context) ([]*domain.Participant, error) {
	out := make([]*domain.Participant, 0)
	err := r.scan([]byte("participant/"), false, func(_, val []byte) (bool, error) {
		var p domain.Participant
		if err := json.Unmarshal(val, &p); err != nil {
			return false, err
		}
		out = append(out, &p)
		return true, nil
	})
	return out, err
}

// InsertOrder stores a new order together with its participant and
// pending index entries in one batch.
func (r *PebbleRepository) InsertOrder(_ context.Context, o *domain.Order) error {
	r.commitMu.Lock()
	defer r.commitMu.Unlock()

	var existing domain.Order
	found, err := getJSON(r.db, kOrder(o.OrderID), &existing)
	if err != nil {
		return err
	}
	if found {
		return fmt.Errorf("order %s already exists", o.OrderID)
	}

	o.Seq = r.seq.Add(1)
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}

	b := r.db.NewBatch()
	defer b.Close()
	_ = b.Set(kOrder(o.OrderID), data, nil)
	_ = b.Set(kParticipantOrder(o.ParticipantID, o.Seq), []byte(o.OrderID), nil)
	if o.Status == domain.OrderStatusPending && o.RemainingQuantity > 0 {
		_ = b.Set(kPending(o), []byte(o.OrderID), nil)
	}
	_ = b.Set(kSeq(), encodeInt(int64(r.seq.Load())), nil)
	return b.Commit(pebble.Sync)
}

func (r *PebbleRepository) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	var o domain.Order
	found, err := getJSON(r.db, kOrder(id), &o)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.ErrOrderNotFound
	}
	return &o, nil
}

// ListOrders scans a participant's index newest first, or every order
// when no participant is given.
func (r *PebbleRepository) ListOrders(ctx context.Context, f OrderFilter) ([]*domain.Order, int, error) {
	filtered := make([]*domain.Order, 0)

	if f.ParticipantID != "" {
		err := r.scan([]byte("porder/"+f.ParticipantID+"/"), true, func(_, val []byte) (bool, error) {
			o, err := r.GetOrder(ctx, string(val))
			if err != nil {
				return false, err
			}
			if matchesOrder(o, f) {
				filtered = append(filtered, o)
			}
			return true, nil
		})
		if err != nil {
			return nil, 0, err
		}
	} else {
		err := r.scan([]byte("order/"), false, func(_, val []byte) (bool, error) {
			var o domain.Order
			if err := json.Unmarshal(val, &o); err != nil {
				return false, err
			}
			if matchesOrder(&o, f) {
				filtered = append(filtered, &o)
			}
			return true, nil
		})
		if err != nil {
			return nil, 0, err
		}
		sort.Slice(filtered, func(i, j int) bool { return filtered[i].Seq > filtered[j].Seq })
	}
	return paginate(filtered, f.Page, f.Limit), len(filtered), nil
}

// ListPendingOrders iterates the pending index, which is stored in
// price-time priority.
func (r *PebbleRepository) ListPendingOrders(ctx context.Context, symbol string, side domain.OrderSide) ([]*domain.Order, error) {
	ids := make([]string, 0)
	err := r.scan(pendingPrefix(symbol, side), false, func(_, val []byte) (bool, error) {
		ids = append(ids, string(val))
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Order, 0, len(ids))
	for _, id := range ids {
		o, err := r.GetOrder(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("pending index points at %s: %w", id, err)
		}
		out = append(out, o)
	}
	return out, nil
}

// Update runs fn against an indexed batch and commits it with
// pebble.Sync. The batch is discarded if fn fails.
func (r *PebbleRepository) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := r.db.NewIndexedBatch()
	defer b.Close()

	tx := &pebbleTx{repo: r, batch: b}
	if err := fn(tx); err != nil {
		return err
	}

	r.commitMu.Lock()
	defer r.commitMu.Unlock()
	for _, id := range tx.participants {
		var existing domain.Participant
		found, err := getJSON(r.db, kParticipant(id), &existing)
		if err != nil {
			return err
		}
		if found {
			return domain.ErrParticipantAlreadyExists
		}
	}
	if tx.usedSeq {
		_ = b.Set(kSeq(), encodeInt(int64(r.seq.Load())), nil)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *PebbleRepository) Holding(_ context.Context, participantID, symbol string) (int64, error) {
	return getInt(r.db, kHolding(participantID, symbol))
}

func (r *PebbleRepository) Holdings(_ context.Context, participantID string) ([]domain.Holding, error) {
	prefix := []byte("holding/" + participantID + "/")
	out := make([]domain.Holding, 0)
	err := r.scan(prefix, false, func(key, val []byte) (bool, error) {
		qty, err := decodeInt(val)
		if err != nil {
			return false, err
		}
		out = append(out, domain.Holding{
			ParticipantID: participantID,
			Symbol:        string(key[len(prefix):]),
			Quantity:      qty,
		})
		return true, nil
	})
	return out, err
}

func (r *PebbleRepository) HoldingsBySymbol(_ context.Context, symbol string) ([]domain.Holding, error) {
	prefix := []byte("sholding/" + symbol + "/")
	out := make([]domain.Holding, 0)
	err := r.scan(prefix, false, func(key, val []byte) (bool, error) {
		qty, err := decodeInt(val)
		if err != nil {
			return false, err
		}
		out = append(out, domain.Holding{
			ParticipantID: string(key[len(prefix):]),
			Symbol:        symbol,
			Quantity:      qty,
		})
		return true, nil
	})
	return out, err
}

// ListTrades reads the trade log through a single iterator, which sees a
// point-in-time view of the database.
func (r *PebbleRepository) ListTrades(_ context.Context, f TradeFilter) ([]*domain.Trade, error) {
	out := make([]*domain.Trade, 0)
	err := r.scan([]byte("trade/"), false, func(_, val []byte) (bool, error) {
		var t domain.Trade
		if err := json.Unmarshal(val, &t); err != nil {
			return false, err
		}
		if matchesTrade(&t, f) {
			out = append(out, &t)
		}
		return true, nil
	})
	return out, err
}

func (r *PebbleRepository) ListTicks(_ context.Context, symbol string, limit int) ([]*domain.MarketTick, error) {
	out := make([]*domain.MarketTick, 0)
	err := r.scan([]byte("tick/"+symbol+"/"), true, func(_, val []byte) (bool, error) {
		var k domain.MarketTick
		if err := json.Unmarshal(val, &k); err != nil {
			return false, err
		}
		out = append(out, &k)
		return limit <= 0 || len(out) < limit, nil
	})
	if err != nil {
		return nil, err
	}
	// Collected newest first; return chronological.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *PebbleRepository) LastTradedPrice(ctx context.Context, symbol string) (int64, bool, error) {
	ticks, err := r.ListTicks(ctx, symbol, 1)
	if err != nil || len(ticks) == 0 {
		return 0, false, err
	}
	return ticks[0].Price, true, nil
}

func (r *PebbleRepository) Close() error { return r.db.Close() }

// pebbleTx writes into an indexed batch, so its reads see its own writes.
type pebbleTx struct {
	repo         *PebbleRepository
	batch        *pebble.Batch
	usedSeq      bool
	participants []string
}

func (tx *pebbleTx) nextSeq() uint64 {
	tx.usedSeq = true
	return tx.repo.seq.Add(1)
}

func (tx *pebbleTx) CreateParticipant(p *domain.Participant) error {
	var existing domain.Participant
	found, err := getJSON(tx.batch, kParticipant(p.ParticipantID), &existing)
	if err != nil {
		return err
	}
	if found {
		return domain.ErrParticipantAlreadyExists
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal participant: %w", err)
	}
	tx.participants = append(tx.participants, p.ParticipantID)
	return tx.batch.Set(kParticipant(p.ParticipantID), data, nil)
}

func (tx *pebbleTx) GetOrder(id string) (*domain.Order, error) {
	var o domain.Order
	found, err := getJSON(tx.batch, kOrder(id), &o)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.ErrOrderNotFound
	}
	return &o, nil
}

func (tx *pebbleTx) UpdateOrder(o *domain.Order) error {
	prev, err := tx.GetOrder(o.OrderID)
	if err != nil {
		return err
	}
	if prev.Status == domain.OrderStatusPending {
		if err := tx.batch.Delete(kPending(prev), nil); err != nil {
			return err
		}
	}
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	if err := tx.batch.Set(kOrder(o.OrderID), data, nil); err != nil {
		return err
	}
	if o.Status == domain.OrderStatusPending && o.RemainingQuantity > 0 {
		return tx.batch.Set(kPending(o), []byte(o.OrderID), nil)
	}
	return nil
}

func (tx *pebbleTx) InsertTrade(t *domain.Trade) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal trade: %w", err)
	}
	return tx.batch.Set(kTrade(tx.nextSeq()), data, nil)
}

func (tx *pebbleTx) InsertTick(k *domain.MarketTick) error {
	data, err := json.Marshal(k)
	if err != nil {
		return fmt.Errorf("marshal tick: %w", err)
	}
	return tx.batch.Set(kTick(k.Symbol, tx.nextSeq()), data, nil)
}

func (tx *pebbleTx) UpsertHolding(participantID, symbol string, delta int64) (int64, error) {
	cur, err := getInt(tx.batch, kHolding(participantID, symbol))
	if err != nil {
		return 0, err
	}
	qty, err := domain.AddQuantity(cur, delta)
	if err != nil {
		return 0, err
	}
	if qty == 0 {
		if err := tx.batch.Delete(kHolding(participantID, symbol), nil); err != nil {
			return 0, err
		}
		return 0, tx.batch.Delete(kSymbolHolding(symbol, participantID), nil)
	}
	if err := tx.batch.Set(kHolding(participantID, symbol), encodeInt(qty), nil); err != nil {
		return 0, err
	}
	return qty, tx.batch.Set(kSymbolHolding(symbol, participantID), encodeInt(qty), nil)
}
