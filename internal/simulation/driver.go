// Package simulation generates synthetic order flow against the venue.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/efreitasn/simexchange/internal/config"
	"github.com/efreitasn/simexchange/internal/domain"
	"github.com/efreitasn/simexchange/internal/metrics"
	"github.com/efreitasn/simexchange/internal/service"
)

// ErrAlreadyRunning is returned by Start while the loop is active.
var ErrAlreadyRunning = errors.New("simulation_already_running")

// Synthetic prices stay within this band around the last traded price.
const (
	priceBandLow  = 0.98
	priceBandHigh = 1.02
	maxQuantity   = 100
)

// OrderFlow is the order entry the driver submits through.
type OrderFlow interface {
	SubmitOrder(ctx context.Context, req service.SubmitOrderRequest) (*domain.Order, error)
	Match(ctx context.Context, symbol string) ([]*domain.Trade, error)
}

// Registrar creates the simulated participants.
type Registrar interface {
	Register(ctx context.Context, req service.RegisterParticipantRequest) (*domain.Participant, error)
}

// PriceSource returns the reference price of a symbol in cents.
type PriceSource interface {
	LastPrice(ctx context.Context, symbol string) (int64, bool, error)
}

// TickResult summarizes one tick.
type TickResult struct {
	Generated int
	Submitted int
	Trades    int
}

// Status is a snapshot of the driver's lifecycle.
type Status struct {
	Running    bool
	Ticks      uint64
	LastTickAt *time.Time
}

// Driver periodically submits a random batch of orders and runs a matching
// pass over every symbol. It is safe for concurrent use.
type Driver struct {
	cfg          config.Simulation
	symbols      []string
	orders       OrderFlow
	participants Registrar
	prices       PriceSource
	logger       *zap.Logger
	metrics      *metrics.Metrics

	rngMu sync.Mutex
	rng   *rand.Rand

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	ticks    atomic.Uint64
	lastTick atomic.Pointer[time.Time]
}

// NewDriver creates a stopped Driver. metrics may be nil.
func NewDriver(
	cfg config.Simulation,
	symbols []string,
	orders OrderFlow,
	participants Registrar,
	prices PriceSource,
	rng *rand.Rand,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Driver {
	return &Driver{
		cfg:          cfg,
		symbols:      symbols,
		orders:       orders,
		participants: participants,
		prices:       prices,
		rng:          rng,
		logger:       logger.Named("simulation"),
		metrics:      m,
	}
}

// NewRand returns the random source for a seed. A zero seed picks a random
// one.
func NewRand(seed uint64) *rand.Rand {
	if seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(seed, seed))
}

// ParticipantID returns the ID of the n-th simulated participant, 1-based.
func ParticipantID(n int) string {
	return fmt.Sprintf("sim-%02d", n)
}

// Seed registers the simulated participants with SeedQuantity of every
// symbol. Participants that already exist are left untouched. It returns
// how many were created.
func (d *Driver) Seed(ctx context.Context) (int, error) {
	holdings := make([]service.HoldingInput, 0, len(d.symbols))
	if d.cfg.SeedQuantity > 0 {
		for _, s := range d.symbols {
			holdings = append(holdings, service.HoldingInput{Symbol: s, Quantity: d.cfg.SeedQuantity})
		}
	}

	created := 0
	for i := 1; i <= d.cfg.Participants; i++ {
		_, err := d.participants.Register(ctx, service.RegisterParticipantRequest{
			ParticipantID:   ParticipantID(i),
			InitialHoldings: holdings,
		})
		if errors.Is(err, domain.ErrParticipantAlreadyExists) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("seed %s: %w", ParticipantID(i), err)
		}
		created++
	}
	d.logger.Info("simulated participants seeded",
		zap.Int("created", created),
		zap.Int("participants", d.cfg.Participants),
	)
	return created, nil
}

// Start launches the loop. It returns ErrAlreadyRunning if the loop is
// active. The loop ends when ctx is cancelled or Stop is called.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return ErrAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	d.running, d.cancel, d.done = true, cancel, done
	d.metrics.SimulationRunning(true)
	d.logger.Info("simulation started")

	go d.run(loopCtx, done)
	return nil
}

// Stop ends the loop and waits for the in-flight tick to finish. Stopping
// a stopped driver does nothing.
func (d *Driver) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	cancel()
	<-done
}

// Running reports whether the loop is active.
func (d *Driver) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Status returns the lifecycle snapshot.
func (d *Driver) Status() Status {
	return Status{
		Running:    d.Running(),
		Ticks:      d.ticks.Load(),
		LastTickAt: d.lastTick.Load(),
	}
}

func (d *Driver) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		d.mu.Lock()
		if d.done == done {
			d.running, d.cancel, d.done = false, nil, nil
		}
		d.mu.Unlock()
		d.metrics.SimulationRunning(false)
		d.logger.Info("simulation stopped")
	}()

	for {
		// A tick is never interrupted half way; cancellation is only
		// observed between ticks.
		if _, err := d.Tick(context.WithoutCancel(ctx)); err != nil {
			d.logger.Warn("simulation tick failed", zap.Error(err))
		}

		timer := time.NewTimer(d.interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Tick submits one random batch of orders and then matches every symbol
// in parallel. Orders rejected by validation or the holdings check are
// skipped.
func (d *Driver) Tick(ctx context.Context) (TickResult, error) {
	var res TickResult

	batch := d.batch()
	res.Generated = len(batch)
	for _, draw := range batch {
		req, err := d.order(ctx, draw)
		if err != nil {
			d.logger.Warn("price lookup failed", zap.String("symbol", draw.symbol), zap.Error(err))
			continue
		}
		if _, err := d.orders.SubmitOrder(ctx, req); err != nil {
			var ve *domain.ValidationError
			if errors.As(err, &ve) || errors.Is(err, domain.ErrInsufficientHoldings) || errors.Is(err, domain.ErrParticipantNotFound) {
				d.logger.Debug("synthetic order skipped",
					zap.String("participant_id", req.ParticipantID),
					zap.String("symbol", req.Symbol),
					zap.String("side", string(req.Side)),
					zap.Error(err),
				)
				continue
			}
			return res, fmt.Errorf("submit synthetic order: %w", err)
		}
		res.Submitted++
	}

	var trades atomic.Int64
	var g errgroup.Group
	for _, symbol := range d.symbols {
		g.Go(func() error {
			executed, err := d.orders.Match(ctx, symbol)
			trades.Add(int64(len(executed)))
			return err
		})
	}
	err := g.Wait()
	res.Trades = int(trades.Load())

	now := time.Now().UTC()
	d.lastTick.Store(&now)
	d.ticks.Add(1)
	d.metrics.SimulationTick()
	d.logger.Debug("simulation tick",
		zap.Int("generated", res.Generated),
		zap.Int("submitted", res.Submitted),
		zap.Int("trades", res.Trades),
	)
	if err != nil {
		return res, fmt.Errorf("match: %w", err)
	}
	return res, nil
}

// draw holds the random choices behind one synthetic order.
type draw struct {
	symbol      string
	participant string
	side        domain.OrderSide
	factor      float64
	quantity    int64
}

// batch draws between BatchMin and BatchMax independent orders.
func (d *Driver) batch() []draw {
	d.rngMu.Lock()
	defer d.rngMu.Unlock()

	n := d.cfg.BatchMin + d.rng.IntN(d.cfg.BatchMax-d.cfg.BatchMin+1)
	out := make([]draw, 0, n)
	for i := 0; i < n; i++ {
		side := domain.OrderSideBuy
		if d.rng.IntN(2) == 1 {
			side = domain.OrderSideSell
		}
		out = append(out, draw{
			symbol:      d.symbols[d.rng.IntN(len(d.symbols))],
			participant: ParticipantID(d.rng.IntN(d.cfg.Participants) + 1),
			side:        side,
			factor:      priceBandLow + d.rng.Float64()*(priceBandHigh-priceBandLow),
			quantity:    d.rng.Int64N(maxQuantity) + 1,
		})
	}
	return out
}

func (d *Driver) order(ctx context.Context, dr draw) (service.SubmitOrderRequest, error) {
	ref, _, err := d.prices.LastPrice(ctx, dr.symbol)
	if err != nil {
		return service.SubmitOrderRequest{}, err
	}
	cents := max(int64(math.Round(float64(ref)*dr.factor)), 1)
	return service.SubmitOrderRequest{
		ParticipantID: dr.participant,
		Side:          dr.side,
		Symbol:        dr.symbol,
		Price:         domain.CentsToDollars(cents),
		Quantity:      dr.quantity,
	}, nil
}

// interval draws the pause before the next tick from [MinInterval,
// MaxInterval].
func (d *Driver) interval() time.Duration {
	spread := d.cfg.MaxInterval - d.cfg.MinInterval
	if spread <= 0 {
		return d.cfg.MinInterval
	}
	d.rngMu.Lock()
	defer d.rngMu.Unlock()
	return d.cfg.MinInterval + time.Duration(d.rng.Int64N(int64(spread)+1))
}
