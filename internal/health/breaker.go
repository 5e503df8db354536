package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// BreakerSettings configures a Breaker.
type BreakerSettings struct {
	FailureThreshold int
	Window           time.Duration
	Cooldown         time.Duration
}

// BreakerState is a snapshot of one breaker for health and stats.
type BreakerState struct {
	Name                string `json:"name"`
	State               string `json:"state"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
	TotalFailures       uint32 `json:"total_failures"`
	Requests            uint32 `json:"requests"`
}

// Breaker guards calls to one external dependency.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker[any]
}

// NewBreaker creates a breaker that opens after FailureThreshold
// consecutive failures inside Window and allows a single trial call after
// Cooldown.
func NewBreaker(logger *zap.Logger, name string, s BreakerSettings) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	threshold := uint32(s.FailureThreshold)
	if threshold == 0 {
		threshold = 1
	}
	log := logger.Named("breaker").With(zap.String("breaker", name))

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    s.Window,
		Timeout:     s.Cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: countsAsSuccess,
	})

	return &Breaker{name: name, cb: cb}
}

// countsAsSuccess keeps cancellations and validation rejections out of the
// failure count.
func countsAsSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var he *Error
	if errors.As(err, &he) && he.Category == CategoryValidation {
		return true
	}
	return false
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state as "closed", "half-open" or "open".
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Open reports whether calls currently fail fast.
func (b *Breaker) Open() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// Snapshot returns the breaker state and counters.
func (b *Breaker) Snapshot() BreakerState {
	c := b.cb.Counts()
	return BreakerState{
		Name:                b.name,
		State:               b.State(),
		ConsecutiveFailures: c.ConsecutiveFailures,
		TotalFailures:       c.TotalFailures,
		Requests:            c.Requests,
	}
}

// Call runs fn through the breaker. When the breaker is open fn is not
// invoked and the returned error wraps ErrBreakerOpen. A nil breaker runs
// fn unguarded.
func Call[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if b == nil {
		return fn(ctx)
	}

	v, err := b.cb.Execute(func() (any, error) {
		return fn(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, NewError(CategoryExternalExecution, b.name, fmt.Errorf("%w: %v", ErrBreakerOpen, err))
		}
		return zero, err
	}

	t, _ := v.(T)
	return t, nil
}

// Breakers is a named set of breakers sharing settings.
type Breakers struct {
	logger   *zap.Logger
	settings BreakerSettings

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewBreakers creates an empty registry.
func NewBreakers(logger *zap.Logger, s BreakerSettings) *Breakers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breakers{
		logger:   logger,
		settings: s,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *Breakers) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := NewBreaker(r.logger, name, r.settings)
	r.breakers[name] = b
	return b
}

// Snapshots returns every breaker's state sorted by name.
func (r *Breakers) Snapshots() []BreakerState {
	r.mu.Lock()
	out := make([]BreakerState, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Snapshot())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
