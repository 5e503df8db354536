package app

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	clts "gswapcopy/clients"
	"gswapcopy/clients/blockfeed"
	"gswapcopy/clients/notifier"
	"gswapcopy/config"
	"gswapcopy/internal/analyzer"
	"gswapcopy/internal/executor"
	"gswapcopy/internal/filter"
	"gswapcopy/internal/health"
	"gswapcopy/internal/journal"
	"gswapcopy/internal/ledger"
	"gswapcopy/internal/observability"
	"gswapcopy/internal/positions"
	"gswapcopy/internal/queue"
	"gswapcopy/internal/state"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ensure Runner implements ConfigObserver
var _ config.ConfigObserver = (*Runner)(nil)

// Build info - populated from embedded VCS info at init time
var (
	BuildCommit = "dev"
	BuildTime   = "unknown"
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if setting.Value != "" {
					BuildCommit = setting.Value
				}
			case "vcs.time":
				BuildTime = setting.Value
			}
		}
	}
}

// Runner builds every pipeline stage once and owns their goroutines.
type Runner struct {
	clients    *clts.Clients
	liveConfig *config.LiveConfig
	logger     *zap.Logger
	notifier   notifier.Notifier
	now        func() time.Time

	filter    *filter.Filter
	processor *queue.Processor
	ledger    *ledger.Ledger
	analyzer  *analyzer.Analyzer
	portfolio *analyzer.PortfolioEstimator
	executor  *executor.Executor
	positions *positions.Tracker
	store     *state.Store
	breakers  *health.Breakers
	errors    *health.Tracker
	monitor   *health.Monitor
	metrics   *observability.Metrics
	targets   *config.TargetsWatcher
	journal   *journal.Journal

	healthServer *http.Server
	startTime    time.Time

	targetsMu   sync.Mutex
	lastTargets []string

	// activities counts handled activities; walletsSynced is the count at
	// the last ledger export into the state store.
	activities    atomic.Uint64
	walletsSynced uint64
}

// NewRunner constructs every component from the current config. Nothing
// touches the network or the filesystem until Run.
func NewRunner(clients *clts.Clients, liveConfig *config.LiveConfig) *Runner {
	logger := clients.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := liveConfig.Get()

	r := &Runner{
		clients:    clients,
		liveConfig: liveConfig,
		logger:     logger,
		now:        time.Now,
		metrics:    observability.NewMetrics(""),
	}

	var sink notifier.Notifier = notifier.Nop{}
	if clients.Notifier != nil {
		sink = clients.Notifier
	}
	r.notifier = countingNotifier{next: sink, metrics: r.metrics}

	targets := cfg.Targets.Wallets
	r.lastTargets = targetAddresses(targets)

	r.filter = filter.New(logger, filter.Config{
		BatchSubmitOpCode: cfg.Feed.BatchSubmitOpCode,
		AllowTokens:       cfg.Copy.AllowTokens,
		DenyTokens:        cfg.Copy.DenyTokens,
	}, targets)

	r.processor = queue.NewProcessor(logger, queue.Config{
		ProcessInterval: cfg.Queue.ProcessInterval,
		Capacity:        cfg.Queue.Capacity,
		SeenCapacity:    cfg.Queue.SeenCapacity,
		MaxAttempts:     cfg.Queue.MaxAttempts,
	}, r.handleActivity)

	r.store = state.New(logger, cfg.State)
	r.store.OnSave(r.metrics.RecordStateSave)

	r.ledger = ledger.New(logger, cfg.Ledger, targets, r.notifier)

	r.breakers = health.NewBreakers(logger, health.BreakerSettings{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Window:           cfg.Breaker.Window,
		Cooldown:         cfg.Breaker.Cooldown,
	})
	r.errors = health.NewTracker(logger, cfg.Health.ErrorHistorySize)

	var pools analyzer.PoolSource
	var exchange executor.Exchange
	if clients.GSwap != nil {
		pools = clients.GSwap
		exchange = clients.GSwap
	}

	r.portfolio = analyzer.NewPortfolioEstimator(logger, pools, r.breakers.Get("read"), analyzer.PortfolioConfig{
		Owner:           cfg.GSwap.WalletAddress,
		QuoteToken:      cfg.GSwap.QuoteToken,
		RefreshInterval: cfg.Copy.PortfolioRefreshInterval,
		Default:         cfg.Copy.DefaultPortfolioSize,
	})

	r.analyzer = analyzer.New(logger, analyzer.ConfigFrom(cfg), targets, analyzer.Deps{
		State:     r.store,
		Stats:     r.ledger,
		Portfolio: r.portfolio,
		Scorer:    analyzer.NewScorer(cfg.Copy),
	})

	r.executor = executor.New(logger, executor.Config{
		TickInterval:   cfg.Executor.TickInterval,
		MaxAttempts:    cfg.Executor.MaxAttempts,
		RetryBaseDelay: cfg.Executor.RetryBaseDelay,
		MaxRetryDelay:  cfg.Executor.MaxRetryDelay,
		CallTimeout:    cfg.Executor.CallTimeout,
		Recipient:      cfg.GSwap.WalletAddress,
	}, executor.Deps{
		Exchange:     exchange,
		TradeBreaker: r.breakers.Get("trade"),
		ReadBreaker:  r.breakers.Get("read"),
		Tracker:      r.errors,
		Notifier:     r.notifier,
	})

	r.positions = positions.New(logger, cfg.Positions, r.store, r.notifier)

	monitorCfg := health.MonitorConfig{
		Interval:     cfg.Health.CheckInterval,
		StaleAfter:   cfg.Health.IngestionStaleAfter,
		Store:        r.store,
		Tracker:      r.errors,
		Breakers:     r.breakers,
		OnTransition: r.onHealthTransition,
	}
	if clients.Feed != nil {
		monitorCfg.Feed = clients.Feed
	}
	r.monitor = health.NewMonitor(logger, monitorCfg)

	r.targets = config.NewTargetsWatcher(logger, liveConfig)

	return r
}

// OnConfigUpdate is called when the config changes.
// Implements config.ConfigObserver interface.
func (r *Runner) OnConfigUpdate(cfg *config.Config) {
	after := targetAddresses(cfg.Targets.Wallets)
	r.targetsMu.Lock()
	before := r.lastTargets
	r.lastTargets = after
	r.targetsMu.Unlock()

	r.filter.SetTargets(cfg.Targets.Wallets)
	r.filter.SetTokenPolicy(filter.NewTokenPolicy(cfg.Copy.AllowTokens, cfg.Copy.DenyTokens))
	r.ledger.SetTargets(cfg.Targets.Wallets)
	r.analyzer.SetConfig(analyzer.ConfigFrom(cfg), analyzer.NewScorer(cfg.Copy))
	r.analyzer.SetTargets(cfg.Targets.Wallets)

	r.logger.Info("config update propagated",
		zap.Int("targets", len(after)),
		zap.Strings("added", difference(after, before)),
		zap.Strings("removed", difference(before, after)),
		zap.String("mode", string(cfg.Copy.Mode)),
		zap.Bool("autoExecute", cfg.Copy.AutoExecute),
	)
}

// Run restores persisted state, starts every stage and blocks until ctx is
// cancelled or a stage fails fatally. Once state is restored, it is flushed
// before Run returns.
func (r *Runner) Run(ctx context.Context) error {
	logger := r.logger
	cfg := r.liveConfig.Get()
	r.startTime = r.now()

	logger.Info("starting copy trader",
		zap.String("commit", BuildCommit),
		zap.String("buildTime", BuildTime),
		zap.Bool("isProd", cfg.IsProd),
		zap.Int("targets", len(targetAddresses(cfg.Targets.Wallets))),
		zap.String("mode", string(cfg.Copy.Mode)),
		zap.Bool("autoExecute", cfg.Copy.AutoExecute),
		zap.String("wallet", shortID(cfg.GSwap.WalletAddress)),
	)

	if err := r.restore(); err != nil {
		return err
	}

	r.liveConfig.AddObserver(r)
	defer r.liveConfig.RemoveObserver(r)

	if cfg.Journal.PostgresDSN != "" {
		openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		j, err := journal.Open(openCtx, logger, cfg.Journal.PostgresDSN, cfg.Journal.InsertTimeout, r.metrics)
		cancel()
		if err != nil {
			logger.Warn("trade journal unavailable, continuing without it", zap.Error(err))
		} else {
			r.journal = j
		}
	}

	if cfg.HealthServer.Enabled {
		r.startHealthServer(cfg.HealthServer.Port)
		logger.Info("health server started", zap.Int("port", cfg.HealthServer.Port))
	}

	g, gctx := errgroup.WithContext(ctx)

	if r.clients.Feed != nil {
		feed := r.clients.Feed
		g.Go(func() error { return feed.Run(gctx) })
		g.Go(func() error { r.runIngest(gctx, feed.Blocks()); return nil })
		g.Go(func() error { r.watchFeedEvents(gctx, feed.Events()); return nil })
	}

	// The processor abandons its queue and the executor cancels pending
	// executions and closes Results when gctx ends; the consumer drains
	// Results until then.
	g.Go(func() error { r.processor.Run(gctx); return nil })
	g.Go(func() error { r.executor.Run(gctx); return nil })
	g.Go(func() error { r.consumeResults(); return nil })

	g.Go(func() error { r.ledger.Run(gctx); return nil })
	g.Go(func() error { r.positions.Run(gctx); return nil })
	g.Go(func() error { r.store.Run(gctx); return nil })
	g.Go(func() error { r.monitor.Run(gctx); return nil })
	g.Go(func() error { r.portfolio.Run(gctx); return nil })
	g.Go(func() error { r.targets.Run(gctx); return nil })
	g.Go(func() error { r.runSampler(gctx, cfg.Health.CheckInterval); return nil })

	logger.Info("pipeline started",
		zap.Int("queueCapacity", cfg.Queue.Capacity),
		zap.Duration("executionDelay", cfg.Copy.ExecutionDelay),
		zap.Float64("slippageTolerance", cfg.Copy.SlippageTolerance),
	)

	err := g.Wait()
	if err != nil {
		logger.Error("pipeline stopped with error", zap.Error(err))
	} else {
		logger.Info("runner shutting down")
	}

	if shutdownErr := r.shutdown(); shutdownErr != nil {
		logger.Warn("shutdown completed with errors", zap.Error(shutdownErr))
	}
	return err
}

// restore loads the state file and seeds the ledger and position tracker
// from it.
func (r *Runner) restore() error {
	if err := r.store.Load(); err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	restored := r.positions.Restore(r.store.Positions())
	imported := r.ledger.Import(ledger.Snapshot{
		Version:   state.Version,
		Timestamp: r.store.SavedAt(),
		Wallets:   r.store.Wallets(),
	})
	counters := r.store.Counters()
	open, _, _ := r.positions.Counts()
	r.metrics.SetOpenPositions(open)

	r.logger.Info("restored state",
		zap.String("path", r.store.Path()),
		zap.Int("positions", restored),
		zap.Int("wallets", imported),
		zap.Int("trades", counters.TotalTrades),
		zap.Int("activeCooldowns", len(r.store.ActiveCooldowns(r.now()))),
	)
	return nil
}

// shutdown runs after every stage has stopped: it flushes state exactly
// once and releases the remaining resources.
func (r *Runner) shutdown() error {
	var err error

	r.syncWallets(true)
	if saveErr := r.store.Save(); saveErr != nil {
		err = multierr.Append(err, fmt.Errorf("final state flush: %w", saveErr))
	} else {
		r.logger.Info("state flushed", zap.String("path", r.store.Path()))
	}

	if r.healthServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = multierr.Append(err, r.healthServer.Shutdown(shutdownCtx))
		shutdownCancel()
	}

	if r.journal != nil {
		r.journal.Close()
	}

	err = multierr.Append(err, r.clients.Close())

	qs := r.processor.Stats()
	es := r.executor.Stats()
	r.logger.Info("shutdown complete",
		zap.Uint64("activitiesProcessed", qs.Processed),
		zap.Uint64("activitiesAbandoned", qs.Abandoned),
		zap.Uint64("executionsCompleted", es.Completed),
		zap.Uint64("executionsCancelled", es.Cancelled),
		zap.Duration("uptime", r.now().Sub(r.startTime).Round(time.Second)),
	)
	return err
}

// syncWallets copies the ledger into the state store when activities were
// handled since the last copy, or unconditionally when force is set.
func (r *Runner) syncWallets(force bool) {
	n := r.activities.Load()
	if !force && n == r.walletsSynced {
		return
	}
	r.store.SetWallets(r.ledger.Export().Wallets)
	r.walletsSynced = n
}

// runSampler refreshes gauges that have no natural event and mirrors the
// ledger into the state store.
func (r *Runner) runSampler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sample()
		}
	}
}

func (r *Runner) sample() {
	r.metrics.SetQueueDepth(r.processor.Len())
	for _, b := range r.breakers.Snapshots() {
		r.metrics.SetBreakerOpen(b.Name, b.State == "open")
	}
	open, _, _ := r.positions.Counts()
	r.metrics.SetOpenPositions(open)
	if r.clients.Feed != nil {
		r.metrics.SetFeedConnected(r.clients.Feed.Stats().Connected)
	}
	r.syncWallets(false)
}

// onHealthTransition alerts whenever the derived health status changes.
func (r *Runner) onHealthTransition(prev, next health.Report) {
	level := notifier.LevelInfo
	switch next.Status {
	case health.StatusUnhealthy:
		level = notifier.LevelCritical
	case health.StatusDegraded:
		level = notifier.LevelWarning
	}

	fields := make([]notifier.Field, 0, len(next.Checks))
	for _, c := range next.Checks {
		if c.Status == health.StatusHealthy {
			continue
		}
		fields = append(fields, notifier.Field{Name: c.Name, Value: nz(c.Message, string(c.Status))})
	}

	r.notifier.SendAlert(notifier.Alert{
		Source:    notifier.SourceHealth,
		Kind:      "status_" + string(next.Status),
		Level:     level,
		Title:     fmt.Sprintf("Health %s → %s", prev.Status, next.Status),
		Message:   fmt.Sprintf("service health is now %s", next.Status),
		Fields:    fields,
		Timestamp: next.CheckedAt,
	})
}

// feedEventOp is the error-tracker operation for feed failures.
const feedEventOp = "blockfeed"

// watchFeedEvents turns feed lifecycle signals into metrics and tracked
// errors.
func (r *Runner) watchFeedEvents(ctx context.Context, events <-chan blockfeed.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			r.handleFeedEvent(ev)
		}
	}
}

func (r *Runner) handleFeedEvent(ev blockfeed.Event) {
	switch ev.Type {
	case blockfeed.EventConnected:
		r.metrics.SetFeedConnected(true)
		if n := r.errors.ResolveOp(feedEventOp); n > 0 {
			r.logger.Info("block feed recovered", zap.Int("resolvedErrors", n))
		}
	case blockfeed.EventDisconnected:
		r.metrics.SetFeedConnected(false)
		r.metrics.RecordReconnect()
	case blockfeed.EventError, blockfeed.EventHeartbeatTimeout:
		if ev.Err != nil {
			r.errors.Record(feedEventOp, ev.Err)
		}
	}
}
