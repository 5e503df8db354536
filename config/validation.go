package config

import (
	"fmt"
	"strings"
	"time"

	"gswapcopy/internal/domain"
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult holds the result of config validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Validate checks the config for invalid values.
func (c *Config) Validate() ValidationResult {
	var errors []ValidationError

	errors = append(errors, validateFeed(&c.Feed)...)
	errors = append(errors, validateCopy(&c.Copy)...)
	errors = append(errors, validateQueue(&c.Queue)...)
	errors = append(errors, validateLedger(&c.Ledger)...)
	errors = append(errors, validateExecutor(&c.Executor)...)
	errors = append(errors, validateBreaker(&c.Breaker)...)
	errors = append(errors, validatePositions(&c.Positions)...)
	errors = append(errors, validateState(&c.State)...)
	errors = append(errors, validateHealthServer(&c.HealthServer)...)
	errors = append(errors, validateTargets(&c.Targets)...)

	return ValidationResult{
		Valid:  len(errors) == 0,
		Errors: errors,
	}
}

func validateFeed(f *FeedConfig) []ValidationError {
	var errors []ValidationError

	if !strings.HasPrefix(f.URL, "ws://") && !strings.HasPrefix(f.URL, "wss://") {
		errors = append(errors, ValidationError{
			Field:   "feed.url",
			Message: "must be a ws:// or wss:// URL",
		})
	}

	if f.BatchSubmitOpCode == "" {
		errors = append(errors, ValidationError{
			Field:   "feed.batch_submit_op_code",
			Message: "must not be empty",
		})
	}

	if f.ReconnectBaseDelay <= 0 {
		errors = append(errors, ValidationError{
			Field:   "feed.reconnect_base_delay",
			Message: "must be positive",
		})
	}

	if f.MaxReconnectDelay < f.ReconnectBaseDelay {
		errors = append(errors, ValidationError{
			Field:   "feed.max_reconnect_delay",
			Message: "must be at least reconnect_base_delay",
		})
	}

	if f.MaxReconnectAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "feed.max_reconnect_attempts",
			Message: "must be at least 1",
		})
	}

	if f.HeartbeatTimeout < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "feed.heartbeat_timeout",
			Message: "must be at least 1 second",
		})
	}

	if f.PingInterval <= 0 || f.PingInterval >= f.HeartbeatTimeout {
		errors = append(errors, ValidationError{
			Field:   "feed.ping_interval",
			Message: "must be positive and shorter than heartbeat_timeout",
		})
	}

	return errors
}

func validateCopy(c *CopyConfig) []ValidationError {
	var errors []ValidationError

	if c.Mode != domain.CopyModeExact && c.Mode != domain.CopyModeProportional {
		errors = append(errors, ValidationError{
			Field:   "copy.mode",
			Message: fmt.Sprintf("must be %q or %q", domain.CopyModeExact, domain.CopyModeProportional),
		})
	}

	if c.SlippageTolerance <= 0 || c.SlippageTolerance >= 1 {
		errors = append(errors, ValidationError{
			Field:   "copy.slippage_tolerance",
			Message: "must be between 0 and 1 (exclusive)",
		})
	}

	if c.ExecutionDelay < 0 {
		errors = append(errors, ValidationError{
			Field:   "copy.execution_delay",
			Message: "must be non-negative",
		})
	}

	if c.CooldownMinutes < 0 {
		errors = append(errors, ValidationError{
			Field:   "copy.cooldown_minutes",
			Message: "must be non-negative",
		})
	}

	if c.MaxDailyTrades < 1 {
		errors = append(errors, ValidationError{
			Field:   "copy.max_daily_trades",
			Message: "must be at least 1",
		})
	}

	if c.MaxDailyVolume.IsNegative() {
		errors = append(errors, ValidationError{
			Field:   "copy.max_daily_volume",
			Message: "must be non-negative",
		})
	}

	if c.MaxPositionSize <= 0 || c.MaxPositionSize > 1 {
		errors = append(errors, ValidationError{
			Field:   "copy.max_position_size",
			Message: "must be between 0 (exclusive) and 1",
		})
	}

	if !c.DefaultPortfolioSize.IsPositive() {
		errors = append(errors, ValidationError{
			Field:   "copy.default_portfolio_size",
			Message: "must be positive",
		})
	}

	for token, min := range c.MinTokenAmounts {
		if min.IsNegative() {
			errors = append(errors, ValidationError{
				Field:   "copy.min_token_amounts." + token,
				Message: "must be non-negative",
			})
		}
	}

	for _, t := range c.AllowTokens {
		for _, d := range c.DenyTokens {
			if strings.EqualFold(t, d) {
				errors = append(errors, ValidationError{
					Field:   "copy.allow_tokens",
					Message: fmt.Sprintf("token %s is both allowed and denied", t),
				})
			}
		}
	}

	if c.ScoringStrategy != "rules" && c.ScoringStrategy != "static" {
		errors = append(errors, ValidationError{
			Field:   "copy.scoring_strategy",
			Message: `must be "rules" or "static"`,
		})
	}

	if c.MaxRiskScore < 0 || c.MaxRiskScore > 100 {
		errors = append(errors, ValidationError{
			Field:   "copy.max_risk_score",
			Message: "must be between 0 and 100",
		})
	}

	if c.MinConfidence < 0 || c.MinConfidence > 100 {
		errors = append(errors, ValidationError{
			Field:   "copy.min_confidence",
			Message: "must be between 0 and 100",
		})
	}

	return errors
}

func validateQueue(q *QueueConfig) []ValidationError {
	var errors []ValidationError

	if q.ProcessInterval < 10*time.Millisecond {
		errors = append(errors, ValidationError{
			Field:   "queue.process_interval",
			Message: "must be at least 10ms",
		})
	}

	if q.Capacity < 1 {
		errors = append(errors, ValidationError{
			Field:   "queue.capacity",
			Message: "must be at least 1",
		})
	}

	if q.SeenCapacity < q.Capacity {
		errors = append(errors, ValidationError{
			Field:   "queue.seen_capacity",
			Message: "must be at least queue.capacity",
		})
	}

	if q.MaxAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "queue.max_attempts",
			Message: "must be at least 1",
		})
	}

	return errors
}

func validateLedger(l *LedgerConfig) []ValidationError {
	var errors []ValidationError

	if l.RefreshInterval < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "ledger.refresh_interval",
			Message: "must be at least 1 second",
		})
	}

	if l.SuccessRateAlertBelow < 0 || l.SuccessRateAlertBelow > 1 {
		errors = append(errors, ValidationError{
			Field:   "ledger.success_rate_alert_below",
			Message: "must be between 0 and 1",
		})
	}

	if l.SuccessRateMinSample < 1 {
		errors = append(errors, ValidationError{
			Field:   "ledger.success_rate_min_sample",
			Message: "must be at least 1",
		})
	}

	if l.AlertHistorySize < 1 {
		errors = append(errors, ValidationError{
			Field:   "ledger.alert_history_size",
			Message: "must be at least 1",
		})
	}

	return errors
}

func validateExecutor(e *ExecutorConfig) []ValidationError {
	var errors []ValidationError

	if e.TickInterval < 10*time.Millisecond {
		errors = append(errors, ValidationError{
			Field:   "executor.tick_interval",
			Message: "must be at least 10ms",
		})
	}

	if e.MaxAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "executor.max_attempts",
			Message: "must be at least 1",
		})
	}

	if e.RetryBaseDelay <= 0 || e.MaxRetryDelay < e.RetryBaseDelay {
		errors = append(errors, ValidationError{
			Field:   "executor.retry_base_delay",
			Message: "must be positive and not exceed max_retry_delay",
		})
	}

	return errors
}

func validateBreaker(b *BreakerConfig) []ValidationError {
	var errors []ValidationError

	if b.FailureThreshold < 1 {
		errors = append(errors, ValidationError{
			Field:   "breaker.failure_threshold",
			Message: "must be at least 1",
		})
	}

	if b.Cooldown <= 0 {
		errors = append(errors, ValidationError{
			Field:   "breaker.cooldown",
			Message: "must be positive",
		})
	}

	if b.Window < 0 {
		errors = append(errors, ValidationError{
			Field:   "breaker.window",
			Message: "must be non-negative",
		})
	}

	return errors
}

func validatePositions(p *PositionsConfig) []ValidationError {
	var errors []ValidationError

	if p.RefreshInterval < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "positions.refresh_interval",
			Message: "must be at least 1 second",
		})
	}

	if p.HighRiskThreshold <= 0 || p.HighRiskThreshold > 100 {
		errors = append(errors, ValidationError{
			Field:   "positions.high_risk_threshold",
			Message: "must be between 0 (exclusive) and 100",
		})
	}

	if !p.LiquidityReference.IsPositive() {
		errors = append(errors, ValidationError{
			Field:   "positions.liquidity_reference",
			Message: "must be positive",
		})
	}

	if p.MaxDuration <= 0 {
		errors = append(errors, ValidationError{
			Field:   "positions.max_duration",
			Message: "must be positive",
		})
	}

	return errors
}

func validateState(s *StateConfig) []ValidationError {
	var errors []ValidationError

	if s.FilePath == "" {
		errors = append(errors, ValidationError{
			Field:   "state.file_path",
			Message: "must not be empty",
		})
	}

	if s.SaveInterval < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "state.save_interval",
			Message: "must be at least 1 second",
		})
	}

	if s.MaxTrades < 1 {
		errors = append(errors, ValidationError{
			Field:   "state.max_trades",
			Message: "must be at least 1",
		})
	}

	return errors
}

func validateHealthServer(hs *HealthServerConfig) []ValidationError {
	var errors []ValidationError

	if hs.Enabled && (hs.Port < 1 || hs.Port > 65535) {
		errors = append(errors, ValidationError{
			Field:   "health_server.port",
			Message: "must be between 1 and 65535",
		})
	}

	return errors
}

func validateTargets(t *TargetsConfig) []ValidationError {
	var errors []ValidationError

	if t.DefaultMaxCopyAmount.IsNegative() {
		errors = append(errors, ValidationError{
			Field:   "targets.default_max_copy_amount",
			Message: "must be non-negative",
		})
	}

	seen := make(map[string]bool, len(t.Wallets))
	for i, w := range t.Wallets {
		key := domain.NormalizeAddress(w.Address)
		if key == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("targets.wallets[%d].address", i),
				Message: "must not be empty",
			})
			continue
		}
		if seen[key] {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("targets.wallets[%d].address", i),
				Message: "duplicate address " + w.Address,
			})
		}
		seen[key] = true

		if w.MaxCopyAmount.IsNegative() {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("targets.wallets[%d].maxCopyAmount", i),
				Message: "must be non-negative",
			})
		}
	}

	return errors
}
