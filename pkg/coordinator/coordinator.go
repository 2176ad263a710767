// Package coordinator leases disjoint counter ranges to workers, aggregates
// their attempt counts and drives an orderly shutdown of one run.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/screa/deti-coin-miner/internal/logger"
	"github.com/screa/deti-coin-miner/pkg/coin"
	"github.com/screa/deti-coin-miner/pkg/types"
)

// DefaultChunkSize is the number of counters per lease
const DefaultChunkSize = 100_000_000

// ErrUnrecorded is returned by Close when coins could not be stored
var ErrUnrecorded = errors.New("coins left unrecorded")

// Options configures a Coordinator
type Options struct {
	ChunkSize   uint64
	Start       uint64
	// End bounds the counter space; zero means all of it
	End         uint64
	TimeLimit   time.Duration
	LogInterval time.Duration
	Recorder    types.Recorder
	// Accept decides whether a reported coin is genuine. Nil accepts any
	// correctly framed coin.
	Accept      func(types.Coin) bool
	Logger      *logger.Logger
}

// MatchTarget accepts correctly framed coins whose digest starts with target
func MatchTarget(target uint32) func(types.Coin) bool {
	return func(c types.Coin) bool {
		return coin.Matches(c, target)
	}
}

type workerState struct {
	attempts uint64
	lease    types.Range
	leases   int
	coins    int
	retired  bool
}

// Coordinator owns the counter space of one run. All methods are safe for
// concurrent use; a single mutex serializes every state change.
type Coordinator struct {
	chunk       uint64
	end         uint64
	timeLimit   time.Duration
	logInterval time.Duration
	rec         types.Recorder
	accept      func(types.Coin) bool
	log         *logger.Logger
	start       time.Time

	mu       sync.Mutex
	started  uint64
	next     uint64
	nextID   int
	active   int
	workers  map[int]*workerState
	total    uint64
	coins    int
	rejected int
	seen     map[types.Coin]struct{}
	pending  []types.Coin
	stopped  bool
	finished bool
	stopping chan struct{}
	done     chan struct{}
}

// New creates a coordinator whose first lease starts at opts.Start
func New(opts Options) *Coordinator {
	if opts.ChunkSize == 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.LogInterval <= 0 {
		opts.LogInterval = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.End == 0 {
		opts.End = math.MaxUint64
	}
	if opts.Accept == nil {
		opts.Accept = coin.Valid
	}
	return &Coordinator{
		chunk:       opts.ChunkSize,
		end:         opts.End,
		timeLimit:   opts.TimeLimit,
		logInterval: opts.LogInterval,
		rec:         opts.Recorder,
		accept:      opts.Accept,
		log:         opts.Logger.Named("coordinator"),
		start:       time.Now(),
		started:     opts.Start,
		next:        opts.Start,
		nextID:      1,
		workers:     make(map[int]*workerState),
		seen:        make(map[types.Coin]struct{}),
		stopping:    make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// ChunkSize returns the lease length
func (c *Coordinator) ChunkSize() uint64 { return c.chunk }

// Join registers a new worker and returns its id
func (c *Coordinator) Join() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.workers[id] = &workerState{}
	c.active++
	c.log.Debugw("worker joined", "worker", id, "active", c.active)
	return id
}

// RequestWork leases the next chunk to worker id. The last lease is cut
// short at the end of the counter space, after which a stop is requested.
// It returns false, the shutdown notice, once a stop has been requested; the
// worker is then no longer counted as active.
func (c *Coordinator) RequestWork(id int) (types.Range, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.workers[id]
	if !ok {
		c.log.Warnw("work requested by unknown worker", "worker", id)
		return types.Range{}, false
	}
	if w.retired {
		return types.Range{}, false
	}
	if !c.stopped && c.next >= c.end {
		c.log.Infow("counter space exhausted", "end", c.end)
		c.stopLocked()
	}
	if c.stopped {
		c.retireLocked(id, w)
		return types.Range{}, false
	}

	r := types.Range{Start: c.next, End: c.end}
	if c.end-c.next > c.chunk {
		r.End = c.next + c.chunk
	}
	c.next = r.End
	w.lease = r
	w.leases++
	c.log.Debugw("work granted", "worker", id, "start", r.Start, "end", r.End)
	return r, true
}

// ReportAttempts stores the cumulative attempt count of worker id. Reports
// replace the previous value, so repeated or lost reports never double count.
func (c *Coordinator) ReportAttempts(id int, cumulative uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.workers[id]
	if !ok {
		c.log.Warnw("attempts from unknown worker", "worker", id)
		return
	}
	w.attempts = cumulative
	var total uint64
	for _, ws := range c.workers {
		total += ws.attempts
	}
	c.total = total
}

// ReportCoin hands a discovered coin to the recorder and flushes it. Coins
// that fail to record stay pending and are retried on the next report and on
// Close. It returns false for coins that are not genuine for this run; those
// are logged and dropped.
func (c *Coordinator) ReportCoin(id int, found types.Coin) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.accept(found) {
		c.rejected++
		c.log.Warnw("coin rejected", "worker", id, "coin", found.Hex())
		return false
	}
	if _, dup := c.seen[found]; dup {
		c.log.Debugw("duplicate coin report", "worker", id, "coin", found.Hex())
		return true
	}
	c.seen[found] = struct{}{}
	c.coins++
	if w, ok := c.workers[id]; ok {
		w.coins++
	}
	c.log.Infow("coin found", "number", c.coins, "worker", id, "coin", found.String())

	if c.rec == nil {
		return true
	}
	c.pending = append(c.pending, found)
	c.drainLocked()
	return true
}

// ReportDone retires worker id. Retiring twice has no effect.
func (c *Coordinator) ReportDone(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.workers[id]
	if !ok {
		c.log.Warnw("done from unknown worker", "worker", id)
		return
	}
	c.retireLocked(id, w)
}

// Abandon retires a worker whose connection went away without a done
// message. Its current lease is not searched again.
func (c *Coordinator) Abandon(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.workers[id]
	if !ok || w.retired {
		return
	}
	c.log.Warnw("worker lost", "worker", id, "start", w.lease.Start, "end", w.lease.End)
	c.retireLocked(id, w)
}

// RequestStop stops granting work. It is idempotent.
func (c *Coordinator) RequestStop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// Stopping is closed once a stop has been requested
func (c *Coordinator) Stopping() <-chan struct{} { return c.stopping }

// Done is closed once no active workers remain
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Stats returns a snapshot of the run
func (c *Coordinator) Stats() types.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return types.Stats{
		Attempts: c.total,
		Issued:   c.next - c.started,
		Coins:    c.coins,
		Rejected: c.rejected,
		Active:   c.active,
		Joined:   len(c.workers),
		Elapsed:  time.Since(c.start),
	}
}

// Run performs housekeeping until every worker has retired: it requests a
// stop when ctx ends or the time limit passes and logs progress. The
// recorder is flushed before Run returns.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.logInterval)
	defer ticker.Stop()

	var limit <-chan time.Time
	if c.timeLimit > 0 {
		timer := time.NewTimer(c.timeLimit - time.Since(c.start))
		defer timer.Stop()
		limit = timer.C
	}

	ctxDone := ctx.Done()
	for {
		select {
		case <-ctxDone:
			ctxDone = nil
			c.log.Infow("stopping all workers", "reason", ctx.Err())
			c.RequestStop()
		case <-limit:
			limit = nil
			c.log.Infow("time limit reached", "limit", c.timeLimit)
			c.RequestStop()
		case <-ticker.C:
			c.logProgress("progress")
		case <-c.done:
			err := c.Close()
			c.logProgress("finished")
			return err
		}
	}
}

// Close retries pending coins and flushes the recorder
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drainLocked()
	if n := len(c.pending); n > 0 {
		return fmt.Errorf("%w: %d", ErrUnrecorded, n)
	}
	if c.rec != nil {
		if err := c.rec.Flush(); err != nil {
			return fmt.Errorf("flush recorder: %w", err)
		}
	}
	return nil
}

// Pending returns the coins that could not be recorded yet
func (c *Coordinator) Pending() []types.Coin {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Coin(nil), c.pending...)
}

func (c *Coordinator) logProgress(msg string) {
	s := c.Stats()
	c.log.Infow(msg,
		"elapsed", s.Elapsed.Round(time.Second).String(),
		"attempts", s.Attempts,
		"mhps", fmt.Sprintf("%.2f", s.Rate()/1e6),
		"coins", s.Coins,
		"workers", s.Active,
	)
}

func (c *Coordinator) stopLocked() {
	if c.stopped {
		return
	}
	c.stopped = true
	close(c.stopping)
	if c.active == 0 {
		c.finishLocked()
	}
}

func (c *Coordinator) retireLocked(id int, w *workerState) {
	if w.retired {
		return
	}
	w.retired = true
	c.active--
	c.log.Debugw("worker retired", "worker", id, "attempts", w.attempts, "active", c.active)
	if c.active == 0 {
		c.finishLocked()
	}
}

func (c *Coordinator) finishLocked() {
	if c.finished {
		return
	}
	c.finished = true
	close(c.done)
}

func (c *Coordinator) drainLocked() {
	if c.rec == nil || len(c.pending) == 0 {
		return
	}
	var kept []types.Coin
	for _, found := range c.pending {
		if err := c.rec.Record(found); err != nil {
			c.log.Errorw("record coin failed", "coin", found.Hex(), "error", err)
			kept = append(kept, found)
		}
	}
	if err := c.rec.Flush(); err != nil {
		c.log.Errorw("flush recorder failed", "error", err)
		// a failed flush may have lost buffered coins; keep them for retry
		kept = c.pending
	}
	c.pending = kept
}
