package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"gswapcopy/clients/blockfeed"
	"gswapcopy/internal/analyzer"
	"gswapcopy/internal/domain"
	"gswapcopy/internal/executor"
	"gswapcopy/internal/filter"
	"gswapcopy/internal/health"
	"gswapcopy/internal/ledger"
	"gswapcopy/internal/positions"
	"gswapcopy/internal/queue"

	"go.uber.org/zap"
)

// recentAlertLimit caps the alert lists returned by /stats.
const recentAlertLimit = 10

// ServiceStats holds comprehensive service statistics.
type ServiceStats struct {
	// Build info
	Build struct {
		Commit    string `json:"commit"`
		Time      string `json:"time,omitempty"`
		GoVersion string `json:"go_version"`
	} `json:"build"`

	// Service info
	StartTime string `json:"start_time"`
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_seconds"`

	Health       health.Report        `json:"health"`
	RecentErrors []health.ErrorRecord `json:"recent_errors"`

	// Ingestion
	Feed   blockfeed.Stats `json:"feed"`
	Filter filter.Stats    `json:"filter"`
	Queue  queue.Stats     `json:"queue"`

	Ledger struct {
		TrackedWallets int            `json:"tracked_wallets"`
		AlertsFired    int            `json:"alerts_fired"`
		RecentAlerts   []ledger.Alert `json:"recent_alerts"`
	} `json:"ledger"`

	Analyzer analyzer.Stats `json:"analyzer"`

	Portfolio struct {
		Value       string `json:"value"`
		EstimatedAt string `json:"estimated_at,omitempty"`
		LastError   string `json:"last_error,omitempty"`
	} `json:"portfolio"`

	Executor executor.Stats `json:"executor"`

	Positions struct {
		Open         int               `json:"open"`
		Closed       int               `json:"closed"`
		AlertsFired  int               `json:"alerts_fired"`
		RecentAlerts []positions.Alert `json:"recent_alerts"`
	} `json:"positions"`

	State struct {
		Path            string             `json:"path"`
		SavedAt         string             `json:"saved_at,omitempty"`
		Dirty           bool               `json:"dirty"`
		Trades          int                `json:"trades"`
		Counters        domain.Counters    `json:"counters"`
		DailyLimits     domain.DailyLimits `json:"daily_limits"`
		ActiveCooldowns int                `json:"active_cooldowns"`
	} `json:"state"`

	Journal struct {
		Enabled bool `json:"enabled"`
	} `json:"journal"`

	// Notification status
	Notifications struct {
		DiscordEnabled   bool   `json:"discord_enabled"`
		DiscordChannelID string `json:"discord_channel_id,omitempty"`
		TelegramEnabled  bool   `json:"telegram_enabled"`
		TelegramChatID   string `json:"telegram_chat_id,omitempty"`
	} `json:"notifications"`

	// Runtime stats
	Runtime struct {
		Goroutines int    `json:"goroutines"`
		HeapAlloc  uint64 `json:"heap_alloc"`  // bytes currently allocated on heap
		HeapSys    uint64 `json:"heap_sys"`    // bytes obtained from system for heap
		HeapInuse  uint64 `json:"heap_inuse"`  // bytes in in-use spans
		StackInuse uint64 `json:"stack_inuse"` // bytes in stack spans
		NumGC      uint32 `json:"num_gc"`      // number of completed GC cycles
		LastGC     string `json:"last_gc"`     // time of last GC
		GoVersion  string `json:"go_version"`  // Go version
		NumCPU     int    `json:"num_cpu"`     // number of CPUs
		GOOS       string `json:"goos"`        // operating system
		GOARCH     string `json:"goarch"`      // architecture
	} `json:"runtime"`
}

// startHealthServer starts an HTTP server for health checks and stats.
func (r *Runner) startHealthServer(port int) {
	r.healthServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r.healthMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := r.healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("health server error", zap.Error(err))
		}
	}()
}

func (r *Runner) healthMux() *http.ServeMux {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		report := r.monitor.Latest()
		status := http.StatusOK
		if report.Status == health.StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	})

	// JSON stats endpoint
	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, r.GetStats())
	})

	// Prometheus metrics
	mux.Handle("/metrics", r.metrics.Handler())

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// GetStats returns comprehensive service statistics.
func (r *Runner) GetStats() ServiceStats {
	var stats ServiceStats
	now := r.now()

	// Build info
	stats.Build.Commit = BuildCommit
	stats.Build.Time = BuildTime
	stats.Build.GoVersion = runtime.Version()

	// Service info
	if !r.startTime.IsZero() {
		stats.StartTime = r.startTime.UTC().Format(time.RFC3339)
		uptime := now.Sub(r.startTime)
		stats.Uptime = uptime.Round(time.Second).String()
		stats.UptimeSec = int64(uptime.Seconds())
	}

	stats.Health = r.monitor.Latest()
	stats.RecentErrors = r.errors.Recent(recentAlertLimit)

	if r.clients.Feed != nil {
		stats.Feed = r.clients.Feed.Stats()
	}
	stats.Filter = r.filter.Stats()
	stats.Queue = r.processor.Stats()

	stats.Ledger.TrackedWallets = len(r.ledger.All())
	stats.Ledger.AlertsFired = r.ledger.AlertsFired()
	stats.Ledger.RecentAlerts = lastN(r.ledger.Alerts(), recentAlertLimit)

	stats.Analyzer = r.analyzer.Stats()

	value, estimatedAt, err := r.portfolio.LastEstimate()
	stats.Portfolio.Value = r.portfolio.PortfolioSize().String()
	if !estimatedAt.IsZero() && value.IsPositive() {
		stats.Portfolio.EstimatedAt = estimatedAt.UTC().Format(time.RFC3339)
	}
	if err != nil {
		stats.Portfolio.LastError = err.Error()
	}

	stats.Executor = r.executor.Stats()

	stats.Positions.Open, stats.Positions.Closed, stats.Positions.AlertsFired = r.positions.Counts()
	stats.Positions.RecentAlerts = lastN(r.positions.Alerts(), recentAlertLimit)

	stats.State.Path = r.store.Path()
	if saved := r.store.SavedAt(); !saved.IsZero() {
		stats.State.SavedAt = saved.UTC().Format(time.RFC3339)
	}
	stats.State.Dirty = r.store.Dirty()
	stats.State.Trades = len(r.store.Trades())
	stats.State.Counters = r.store.Counters()
	stats.State.DailyLimits = r.store.DailyLimits(now)
	stats.State.ActiveCooldowns = len(r.store.ActiveCooldowns(now))

	stats.Journal.Enabled = r.journal != nil

	// Notification status
	cfg := r.liveConfig.Get()
	stats.Notifications.DiscordEnabled = r.clients.Discord != nil && r.clients.Discord.Enabled()
	if stats.Notifications.DiscordEnabled {
		if cfg.IsProd {
			stats.Notifications.DiscordChannelID = cfg.Discord.ProdChannelID
		} else {
			stats.Notifications.DiscordChannelID = cfg.Discord.BetaChannelID
		}
	}
	stats.Notifications.TelegramEnabled = r.clients.Telegram != nil && r.clients.Telegram.Enabled()
	if stats.Notifications.TelegramEnabled {
		if cfg.IsProd {
			stats.Notifications.TelegramChatID = cfg.Telegram.ProdChatID
		} else {
			stats.Notifications.TelegramChatID = cfg.Telegram.BetaChatID
		}
	}

	// Runtime stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats.Runtime.Goroutines = runtime.NumGoroutine()
	stats.Runtime.HeapAlloc = memStats.HeapAlloc
	stats.Runtime.HeapSys = memStats.HeapSys
	stats.Runtime.HeapInuse = memStats.HeapInuse
	stats.Runtime.StackInuse = memStats.StackInuse
	stats.Runtime.NumGC = memStats.NumGC
	if memStats.LastGC > 0 {
		stats.Runtime.LastGC = time.Unix(0, int64(memStats.LastGC)).UTC().Format(time.RFC3339)
	}
	stats.Runtime.GoVersion = runtime.Version()
	stats.Runtime.NumCPU = runtime.NumCPU()
	stats.Runtime.GOOS = runtime.GOOS
	stats.Runtime.GOARCH = runtime.GOARCH

	return stats
}
