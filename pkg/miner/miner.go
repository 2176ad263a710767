package miner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/screa/deti-coin-miner/internal/config"
	"github.com/screa/deti-coin-miner/internal/logger"
	"github.com/screa/deti-coin-miner/pkg/coordinator"
	"github.com/screa/deti-coin-miner/pkg/types"
	"github.com/screa/deti-coin-miner/pkg/worker"
	"golang.org/x/sync/errgroup"
)

// ErrNoRecorder is returned by NewMiner without a place to store coins
var ErrNoRecorder = errors.New("miner needs a coin recorder")

// Miner runs a coordinator and its workers inside one process
type Miner struct {
	config *config.Config
	logger *logger.Logger
	runID  uuid.UUID

	coord   *coordinator.Coordinator
	workers []*worker.Worker
	once    sync.Once
}

// Option adjusts a Miner
type Option func(*worker.Config)

// WithClock replaces the Unix time seed source of every worker
func WithClock(clock func() uint32) Option {
	return func(c *worker.Config) { c.Clock = clock }
}

// NewMiner creates a new miner instance. Configuration errors are reported
// here, before any goroutine starts.
func NewMiner(cfg *config.Config, rec types.Recorder, log *logger.Logger, opts ...Option) (*Miner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNoRecorder
	}
	if log == nil {
		log = logger.Nop()
	}
	tmpl, err := cfg.Template()
	if err != nil {
		return nil, err
	}
	target, err := cfg.TargetValue()
	if err != nil {
		return nil, err
	}

	runID := uuid.New()
	log = log.With("run", runID.String())
	coord := coordinator.New(coordinator.Options{
		ChunkSize:   cfg.ChunkSize,
		TimeLimit:   cfg.TimeLimit,
		LogInterval: cfg.LogInterval,
		Recorder:    rec,
		Accept:      coordinator.MatchTarget(target),
		Logger:      log,
	})

	m := &Miner{
		config: cfg,
		logger: log,
		runID:  runID,
		coord:  coord,
	}
	wcfg := worker.Config{
		Template:       tmpl,
		Target:         target,
		Lanes:          cfg.Lanes,
		ReportInterval: cfg.ReportInterval,
		Logger:         log,
	}
	for _, opt := range opts {
		opt(&wcfg)
	}
	for i := 0; i < cfg.Workers; i++ {
		w, err := worker.NewWorker(wcfg, coordinator.Local{C: coord})
		if err != nil {
			return nil, err
		}
		m.workers = append(m.workers, w)
	}
	return m, nil
}

// RunID identifies this run in the logs
func (m *Miner) RunID() uuid.UUID { return m.runID }

// Coordinator returns the coordinator driving the workers
func (m *Miner) Coordinator() *coordinator.Coordinator { return m.coord }

// Mine searches until ctx ends, the time limit passes or Stop is called,
// then waits for every worker to retire and returns the final statistics.
// Mine may be called once.
func (m *Miner) Mine(ctx context.Context) (types.Stats, error) {
	m.logger.Infow("mining started",
		"workers", len(m.workers),
		"lanes", m.config.Lanes,
		"chunk", m.config.ChunkSize,
		"target", m.config.GetTargetDescription(),
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range m.workers {
		w := w
		g.Go(func() error { return w.Run(gctx) })
	}

	// the coordinator outlives gctx so it can still collect final reports
	cerr := make(chan error, 1)
	go func() { cerr <- m.coord.Run(ctx) }()

	werr := g.Wait()
	if werr != nil {
		// a failed worker takes its siblings down through gctx; make sure the
		// coordinator stops granting too
		m.Stop()
	}
	err := <-cerr

	stats := m.coord.Stats()
	if werr != nil {
		return stats, fmt.Errorf("worker: %w", werr)
	}
	return stats, err
}

// Stop asks every worker to finish its current batch and return
func (m *Miner) Stop() {
	m.once.Do(func() {
		m.logger.Infow("stop requested")
		m.coord.RequestStop()
	})
}
