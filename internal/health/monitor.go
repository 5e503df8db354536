package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is the derived service health.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) worse(other Status) Status {
	rank := map[Status]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[other] > rank[s] {
		return other
	}
	return s
}

// Liveness reports when the ingestion stream last delivered data.
type Liveness interface {
	LastBlockAt() time.Time
}

// Writable reports whether the state store can persist.
type Writable interface {
	CheckWritable() error
}

// Check is the result of one probe.
type Check struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Report is the outcome of one health evaluation.
type Report struct {
	Status     Status           `json:"status"`
	CheckedAt  time.Time        `json:"checked_at"`
	Checks     []Check          `json:"checks"`
	Unresolved map[Severity]int `json:"unresolved_errors"`
	Breakers   []BreakerState   `json:"breakers,omitempty"`
}

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	Interval     time.Duration
	StaleAfter   time.Duration
	Feed         Liveness
	Store        Writable
	Tracker      *Tracker
	Breakers     *Breakers
	OnTransition func(prev, next Report)
}

// Monitor evaluates health probes periodically and keeps the latest report.
type Monitor struct {
	logger *zap.Logger
	cfg    MonitorConfig
	now    func() time.Time
	start  time.Time

	mu   sync.RWMutex
	last Report
}

// NewMonitor creates a monitor. Nil probes are skipped.
func NewMonitor(logger *zap.Logger, cfg MonitorConfig) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	m := &Monitor{
		logger: logger.Named("health"),
		cfg:    cfg,
		now:    time.Now,
	}
	m.start = m.now()
	m.last = Report{Status: StatusHealthy, CheckedAt: m.start}
	return m
}

// Run evaluates probes every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.Check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check()
		}
	}
}

// Latest returns the most recent report.
func (m *Monitor) Latest() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Check evaluates every probe and stores the report.
func (m *Monitor) Check() Report {
	now := m.now()
	r := Report{
		Status:     StatusHealthy,
		CheckedAt:  now,
		Unresolved: map[Severity]int{},
	}

	if m.cfg.Feed != nil {
		c := m.checkIngestion(now)
		r.Checks = append(r.Checks, c)
		r.Status = r.Status.worse(c.Status)
	}

	if m.cfg.Store != nil {
		c := Check{Name: "state_store", Status: StatusHealthy}
		if err := m.cfg.Store.CheckWritable(); err != nil {
			c.Status = StatusUnhealthy
			c.Message = err.Error()
		}
		r.Checks = append(r.Checks, c)
		r.Status = r.Status.worse(c.Status)
	}

	if m.cfg.Tracker != nil {
		r.Unresolved = m.cfg.Tracker.Unresolved()
		c := Check{Name: "errors", Status: StatusHealthy}
		switch {
		case r.Unresolved[SeverityCritical] > 0:
			c.Status = StatusUnhealthy
			c.Message = fmt.Sprintf("%d unresolved critical errors", r.Unresolved[SeverityCritical])
		case r.Unresolved[SeverityHigh] > 0:
			c.Status = StatusDegraded
			c.Message = fmt.Sprintf("%d unresolved high errors", r.Unresolved[SeverityHigh])
		}
		r.Checks = append(r.Checks, c)
		r.Status = r.Status.worse(c.Status)
	}

	if m.cfg.Breakers != nil {
		r.Breakers = m.cfg.Breakers.Snapshots()
		c := Check{Name: "breakers", Status: StatusHealthy}
		for _, b := range r.Breakers {
			if b.State == "open" {
				c.Status = StatusDegraded
				c.Message = "breaker " + b.Name + " open"
				break
			}
		}
		r.Checks = append(r.Checks, c)
		r.Status = r.Status.worse(c.Status)
	}

	m.mu.Lock()
	prev := m.last
	m.last = r
	m.mu.Unlock()

	if prev.Status != r.Status {
		m.logger.Warn("health status changed",
			zap.String("from", string(prev.Status)),
			zap.String("to", string(r.Status)),
		)
		if m.cfg.OnTransition != nil {
			m.cfg.OnTransition(prev, r)
		}
	}

	return r
}

func (m *Monitor) checkIngestion(now time.Time) Check {
	c := Check{Name: "ingestion", Status: StatusHealthy}
	if m.cfg.StaleAfter <= 0 {
		return c
	}

	last := m.cfg.Feed.LastBlockAt()
	if last.IsZero() {
		// Nothing received yet: allow one staleness window from startup.
		if now.Sub(m.start) > m.cfg.StaleAfter {
			c.Status = StatusUnhealthy
			c.Message = "no blocks received since startup"
		}
		return c
	}

	if age := now.Sub(last); age > m.cfg.StaleAfter {
		c.Status = StatusUnhealthy
		c.Message = fmt.Sprintf("last block %s ago", age.Round(time.Second))
	}
	return c
}
