package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/screa/deti-coin-miner/internal/logger"
	"github.com/screa/deti-coin-miner/internal/sha1lane"
	"github.com/screa/deti-coin-miner/pkg/coin"
	"github.com/screa/deti-coin-miner/pkg/types"
)

// reportCheckBatches is how many batches pass between looks at the clock for
// the periodic attempts report.
const reportCheckBatches = 1 << 10

// ErrNoTemplate is returned when a worker is built without a template
var ErrNoTemplate = errors.New("worker needs a coin template")

// Leaser is the worker's view of the coordinator
type Leaser interface {
	Join(ctx context.Context) (int, error)
	RequestWork(ctx context.Context, id int) (types.Range, bool, error)
	ReportAttempts(ctx context.Context, id int, cumulative uint64) error
	ReportCoin(ctx context.Context, id int, c types.Coin) error
	ReportDone(ctx context.Context, id int) error
	Stopping() <-chan struct{}
}

// Config contains configuration for individual workers
type Config struct {
	Template       *coin.Template
	Target         uint32
	Lanes          int
	ReportInterval time.Duration
	// Clock returns the seed word; Unix seconds when nil.
	Clock  func() uint32
	Logger *logger.Logger
}

// Worker searches leased ranges, one batch of lanes at a time
type Worker struct {
	cfg      Config
	lease    Leaser
	log      *logger.Logger
	id       int
	engine   *sha1lane.Engine
	batch    *sha1lane.Batch
	sums     *sha1lane.Digests
	detector *Detector
	found    []types.Coin
	attempts atomic.Uint64
	coins    atomic.Int64

	batches    uint64
	lastReport time.Time

	// observe sees every counter range handed to the digest engine
	observe func(start, n uint64)
}

// NewWorker creates a new worker instance
func NewWorker(cfg Config, lease Leaser) (*Worker, error) {
	if cfg.Template == nil {
		return nil, ErrNoTemplate
	}
	if cfg.Lanes < 1 {
		cfg.Lanes = sha1lane.DefaultLanes()
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = 2 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = unixSeed
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	w := &Worker{
		cfg:      cfg,
		lease:    lease,
		log:      cfg.Logger.Named("worker"),
		engine:   sha1lane.NewEngine(cfg.Lanes),
		batch:    sha1lane.NewBatch(cfg.Lanes),
		sums:     sha1lane.NewDigests(cfg.Lanes),
		detector: NewDetector(cfg.Target),
	}
	cfg.Template.Prime(w.batch)
	return w, nil
}

// ID returns the id assigned by the coordinator, zero before Run joins
func (w *Worker) ID() int { return w.id }

// Attempts returns the number of candidates hashed so far
func (w *Worker) Attempts() uint64 { return w.attempts.Load() }

// Coins returns the number of coins this worker found
func (w *Worker) Coins() int { return int(w.coins.Load()) }

// Rejected returns how many target matches failed the newline rule
func (w *Worker) Rejected() uint64 { return w.detector.Rejected() }

// Run joins the coordinator and searches leased ranges until it is told to
// shut down, a stop is observed or ctx ends. The final attempt count and the
// done message are always sent before Run returns.
func (w *Worker) Run(ctx context.Context) (err error) {
	id, err := w.lease.Join(ctx)
	if err != nil {
		return fmt.Errorf("join coordinator: %w", err)
	}
	w.id = id
	w.log = w.log.With("worker", id)
	w.lastReport = time.Now()
	w.log.Debugw("worker started", "lanes", w.cfg.Lanes)

	defer func() {
		fctx := context.WithoutCancel(ctx)
		if rerr := w.lease.ReportAttempts(fctx, id, w.Attempts()); rerr != nil {
			w.log.Warnw("final attempts report failed", "attempts", w.Attempts(), "error", rerr)
		}
		if derr := w.lease.ReportDone(fctx, id); derr != nil {
			w.log.Warnw("done report failed", "error", derr)
		}
		w.log.Debugw("worker finished", "attempts", w.Attempts(), "coins", w.Coins(), "rejected", w.Rejected())
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := w.report(ctx); err != nil {
			return err
		}
		r, ok, err := w.lease.RequestWork(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("request work: %w", err)
		}
		if !ok {
			w.log.Debugw("shutdown notice received")
			return nil
		}

		_, reason, err := w.Search(ctx, r)
		if err != nil {
			return err
		}
		if reason == types.Stopped {
			return nil
		}
	}
}

// Search hashes every counter of r unless a stop is observed first. Stops
// are honoured at batch boundaries, after the batch has been checked. The
// last batch of a range shorter than the lane count only checks and counts
// the lanes inside the range.
func (w *Worker) Search(ctx context.Context, r types.Range) (uint64, types.StopReason, error) {
	done := ctx.Done()
	stop := w.lease.Stopping()
	lanes := uint64(w.cfg.Lanes)

	var n uint64
	for counter := r.Start; counter < r.End; {
		active := lanes
		if rem := r.End - counter; rem < lanes {
			active = rem
		}

		w.cfg.Template.Fill(w.batch, counter, w.cfg.Clock())
		w.engine.Compress(w.batch, w.sums)
		if w.observe != nil {
			w.observe(counter, active)
		}

		w.found = w.detector.Check(w.batch, w.sums, int(active), w.found[:0])
		counter += active
		n += active
		w.attempts.Add(active)

		for i, c := range w.found {
			w.coins.Add(1)
			if err := w.lease.ReportCoin(ctx, w.id, c); err != nil {
				for _, lost := range w.found[i:] {
					w.log.Errorw("coin not delivered", "coin", lost.Hex(), "error", err)
				}
				return n, types.Stopped, fmt.Errorf("report coin: %w", err)
			}
		}

		w.batches++
		if w.batches%reportCheckBatches == 0 && time.Since(w.lastReport) >= w.cfg.ReportInterval {
			if err := w.report(ctx); err != nil {
				return n, types.Stopped, err
			}
		}

		select {
		case <-done:
			return n, types.Stopped, nil
		case <-stop:
			return n, types.Stopped, nil
		default:
		}
	}
	return n, types.Exhausted, nil
}

func (w *Worker) report(ctx context.Context) error {
	w.lastReport = time.Now()
	if err := w.lease.ReportAttempts(ctx, w.id, w.Attempts()); err != nil {
		return fmt.Errorf("report attempts: %w", err)
	}
	return nil
}

func unixSeed() uint32 {
	return uint32(time.Now().Unix())
}
