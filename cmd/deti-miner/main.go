package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/cpuid/v2"
	"github.com/screa/deti-coin-miner/internal/config"
	logpkg "github.com/screa/deti-coin-miner/internal/logger"
	"github.com/screa/deti-coin-miner/pkg/coin"
	"github.com/screa/deti-coin-miner/pkg/coordinator"
	minerpkg "github.com/screa/deti-coin-miner/pkg/miner"
	"github.com/screa/deti-coin-miner/pkg/transport"
	"github.com/screa/deti-coin-miner/pkg/vault"
	"github.com/screa/deti-coin-miner/pkg/worker"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

var (
	cfg        = config.NewConfig()
	configPath string
	logger     *logpkg.Logger
	logFile    *os.File
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "deti-miner",
		Short: "DETI coin miner",
		Long: `A command line utility for mining DETI coins: 55 byte messages whose
SHA-1 digest starts with a fixed 32-bit signature.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}

	f := rootCmd.PersistentFlags()
	f.StringVarP(&configPath, "config", "c", "", "YAML config file; explicit flags override it")
	f.IntVarP(&cfg.Workers, "workers", "w", cfg.Workers, "Number of worker goroutines")
	f.IntVarP(&cfg.Lanes, "lanes", "L", cfg.Lanes, "Candidates hashed together per batch")
	f.Uint64Var(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "Counters per work lease")
	f.StringVar(&cfg.Tag, "tag", cfg.Tag, "12 byte message tag")
	f.StringVarP(&cfg.Payload, "payload", "p", cfg.Payload, "Printable text placed after the tag (at most 27 bytes)")
	f.StringVarP(&cfg.Target, "target", "t", cfg.Target, "Signature the first digest word must equal (hex)")
	f.DurationVarP(&cfg.TimeLimit, "time-limit", "T", cfg.TimeLimit, "Stop after this long (0 runs until interrupted)")
	f.DurationVarP(&cfg.LogInterval, "log-interval", "i", cfg.LogInterval, "Progress logging interval")
	f.DurationVar(&cfg.ReportInterval, "report-interval", cfg.ReportInterval, "Worker attempt report interval")
	f.StringVarP(&cfg.VaultPath, "vault", "o", cfg.VaultPath, "File coins are appended to")
	f.StringVarP(&cfg.LogFile, "log-file", "l", cfg.LogFile, "Log file (default: stdout)")
	f.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Verbose output")
	f.StringVar(&cfg.Listen, "listen", cfg.Listen, "Address the coordinator listens on")
	f.StringVar(&cfg.Coordinator, "coordinator", cfg.Coordinator, "Coordinator websocket URL for worker mode")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "mine",
			Short: "Mine with local workers",
			Args:  cobra.NoArgs,
			RunE:  runMine,
		},
		&cobra.Command{
			Use:   "coordinator",
			Short: "Lease work to remote workers",
			Args:  cobra.NoArgs,
			RunE:  runCoordinator,
		},
		&cobra.Command{
			Use:   "worker",
			Short: "Mine for a remote coordinator",
			Args:  cobra.NoArgs,
			RunE:  runWorker,
		},
		&cobra.Command{
			Use:   "verify FILE",
			Short: "Check every coin stored in a vault file",
			Args:  cobra.ExactArgs(1),
			RunE:  runVerify,
		},
	)
	return rootCmd
}

// loadConfig reads the config file and then re-applies the flags that were
// set on the command line, so they win over the file.
func loadConfig(cmd *cobra.Command, _ []string) error {
	if configPath == "" {
		return nil
	}
	changed := map[string]string{}
	cmd.Flags().Visit(func(fl *pflag.Flag) {
		changed[fl.Name] = fl.Value.String()
	})
	if err := cfg.Load(configPath); err != nil {
		return err
	}
	for name, value := range changed {
		if err := cmd.Flags().Set(name, value); err != nil {
			return fmt.Errorf("reapply --%s: %w", name, err)
		}
	}
	return nil
}

func setupLogging() error {
	if cfg.LogFile != "" {
		file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		logFile = file
		logger = logpkg.NewWriter(file)
	} else {
		logger = logpkg.New()
	}
	logger.SetVerbose(cfg.Verbose)
	return nil
}

// closeLogging flushes the logger and closes the log file. Every run
// function defers it right after setupLogging so error paths flush too.
func closeLogging() {
	if logger != nil {
		_ = logger.Close()
	}
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

func logHost(run uuid.UUID) {
	logger.Infow("host",
		"run", run.String(),
		"cpu", cpuid.CPU.BrandName,
		"cores", cpuid.CPU.PhysicalCores,
		"threads", cpuid.CPU.LogicalCores,
		"avx2", cpuid.CPU.Supports(cpuid.AVX2),
		"avx512", cpuid.CPU.Supports(cpuid.AVX512F),
	)
}

// onSignal calls stop on the first SIGINT or SIGTERM. The returned function
// releases the handler.
func onSignal(stop func()) func() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	quit := make(chan struct{})
	go func() {
		select {
		case sig := <-sigChan:
			logger.Infow("received signal, stopping", "signal", sig.String())
			stop()
		case <-quit:
		}
	}()
	return func() {
		signal.Stop(sigChan)
		close(quit)
	}
}

func runMine(cmd *cobra.Command, _ []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := setupLogging(); err != nil {
		return err
	}
	defer closeLogging()

	v, err := vault.Open(cfg.VaultPath)
	if err != nil {
		return err
	}
	defer v.Close()

	miner, err := minerpkg.NewMiner(cfg, v, logger)
	if err != nil {
		return err
	}
	logHost(miner.RunID())
	logger.Infow("starting DETI coin miner",
		"workers", cfg.Workers,
		"lanes", cfg.Lanes,
		"search", cfg.GetTargetDescription(),
		"vault", v.Path(),
		"stored", v.Len(),
	)

	release := onSignal(miner.Stop)
	defer release()

	stats, err := miner.Mine(cmd.Context())
	logStats(stats.Attempts, stats.Coins, stats.Elapsed, stats.Rate())
	if err != nil {
		return err
	}
	return v.Close()
}

func runCoordinator(cmd *cobra.Command, _ []string) error {
	if err := cfg.ValidateCoordinator(); err != nil {
		return err
	}
	if err := setupLogging(); err != nil {
		return err
	}
	defer closeLogging()

	target, err := cfg.TargetValue()
	if err != nil {
		return err
	}
	v, err := vault.Open(cfg.VaultPath)
	if err != nil {
		return err
	}
	defer v.Close()

	run := uuid.New()
	logHost(run)
	log := logger.With("run", run.String())
	coord := coordinator.New(coordinator.Options{
		ChunkSize:   cfg.ChunkSize,
		TimeLimit:   cfg.TimeLimit,
		LogInterval: cfg.LogInterval,
		Recorder:    v,
		Accept:      coordinator.MatchTarget(target),
		Logger:      log,
	})

	srv := transport.NewServer(coord, log)
	httpSrv := &http.Server{Handler: srv, ReadHeaderTimeout: 10 * time.Second}
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	log.Infow("coordinator listening", "addr", ln.Addr().String(), "chunk", cfg.ChunkSize,
		"target", fmt.Sprintf("0x%08X", target), "vault", v.Path())

	serveErr := make(chan error, 1)
	go func() { serveErr <- httpSrv.Serve(ln) }()

	release := onSignal(coord.RequestStop)
	defer release()

	runErr := coord.Run(cmd.Context())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("http shutdown", "error", err)
	}
	if err := srv.Close(); err != nil {
		log.Debugw("closing connections", "error", err)
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}

	stats := coord.Stats()
	logStats(stats.Attempts, stats.Coins, stats.Elapsed, stats.Rate())
	if runErr != nil {
		return runErr
	}
	return v.Close()
}

func runWorker(cmd *cobra.Command, _ []string) error {
	if err := cfg.ValidateWorker(); err != nil {
		return err
	}
	if err := setupLogging(); err != nil {
		return err
	}
	defer closeLogging()
	tmpl, err := cfg.Template()
	if err != nil {
		return err
	}
	target, err := cfg.TargetValue()
	if err != nil {
		return err
	}

	logHost(uuid.New())
	client, err := transport.Dial(cmd.Context(), cfg.Coordinator, logger)
	if err != nil {
		return err
	}
	defer client.Close()
	logger.Infow("connected to coordinator", "url", cfg.Coordinator, "workers", cfg.Workers, "lanes", cfg.Lanes)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	release := onSignal(cancel)
	defer release()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Workers; i++ {
		w, err := worker.NewWorker(worker.Config{
			Template:       tmpl,
			Target:         target,
			Lanes:          cfg.Lanes,
			ReportInterval: cfg.ReportInterval,
			Logger:         logger,
		}, client)
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(gctx) })
	}
	return g.Wait()
}

func runVerify(_ *cobra.Command, args []string) error {
	target, err := cfg.TargetValue()
	if err != nil {
		return err
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	coins, malformed, err := vault.Read(f)
	if err != nil {
		return err
	}
	bad := malformed
	for i, c := range coins {
		switch {
		case !coin.Valid(c):
			fmt.Printf("%4d  invalid  %s\n", i+1, c)
			bad++
		case !coin.Matches(c, target):
			fmt.Printf("%4d  no match %s\n", i+1, c)
			bad++
		default:
			fmt.Printf("%4d  ok       %s\n", i+1, c)
		}
	}
	fmt.Printf("%d coins, %d malformed lines, %d rejected\n", len(coins), malformed, bad-malformed)
	if bad > 0 {
		return fmt.Errorf("%d entries failed verification", bad)
	}
	return nil
}

func logStats(attempts uint64, coins int, elapsed time.Duration, rate float64) {
	logger.Infow("mining finished",
		"attempts", attempts,
		"coins", coins,
		"duration", elapsed.Round(time.Millisecond).String(),
		"mhps", fmt.Sprintf("%.2f", rate/1e6),
	)
}
