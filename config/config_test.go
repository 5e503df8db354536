package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gswapcopy/internal/domain"

	"github.com/shopspring/decimal"
)

func TestLoad_Defaults(t *testing.T) {
	for _, v := range []string{
		"STAGE", "DISCORD_BOT_TOKEN", "FEED_URL", "COPY_MODE", "COPY_SLIPPAGE_TOLERANCE",
		"COPY_MIN_TOKEN_AMOUNTS", "COPY_ALLOW_TOKENS", "TARGET_WALLETS", "STATE_FILE",
	} {
		t.Setenv(v, "")
	}

	cfg := Load()

	if cfg.IsProd {
		t.Error("expected IsProd to be false by default")
	}
	if cfg.Feed.Topic != "blocks" {
		t.Errorf("unexpected feed topic: %s", cfg.Feed.Topic)
	}
	if cfg.Feed.BatchSubmitOpCode != "DexV3Contract:BatchSubmit" {
		t.Errorf("unexpected batch op code: %s", cfg.Feed.BatchSubmitOpCode)
	}
	if cfg.Copy.Mode != domain.CopyModeProportional {
		t.Errorf("unexpected copy mode: %s", cfg.Copy.Mode)
	}
	if cfg.Copy.SlippageTolerance != 0.05 {
		t.Errorf("unexpected slippage tolerance: %f", cfg.Copy.SlippageTolerance)
	}
	if cfg.Copy.AutoExecute {
		t.Error("expected auto execute to be off by default")
	}
	if cfg.Breaker.FailureThreshold != 5 {
		t.Errorf("unexpected breaker threshold: %d", cfg.Breaker.FailureThreshold)
	}
	if cfg.State.FilePath != "copytrader_state.json" {
		t.Errorf("unexpected state file: %s", cfg.State.FilePath)
	}
	if len(cfg.Targets.Wallets) != 0 {
		t.Errorf("expected no env targets, got %d", len(cfg.Targets.Wallets))
	}

	if res := cfg.Validate(); !res.Valid {
		t.Errorf("defaults loaded from env should validate, got %+v", res.Errors)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("STAGE", "prod")
	t.Setenv("COPY_MODE", "EXACT")
	t.Setenv("COPY_SLIPPAGE_TOLERANCE", "0.02")
	t.Setenv("COPY_EXECUTION_DELAY", "5s")
	t.Setenv("COPY_AUTO_EXECUTE", "yes")
	t.Setenv("COPY_ALLOW_TOKENS", "GALA, GUSDC")
	t.Setenv("COPY_MIN_TOKEN_AMOUNTS", "gala:10,GUSDC:1.5,broken")
	t.Setenv("TARGET_WALLETS", "eth|abc,eth|def")
	t.Setenv("TARGET_DEFAULT_MAX_COPY_AMOUNT", "250")

	cfg := Load()

	if !cfg.IsProd {
		t.Error("expected IsProd")
	}
	if cfg.Copy.Mode != domain.CopyModeExact {
		t.Errorf("expected exact mode, got %s", cfg.Copy.Mode)
	}
	if cfg.Copy.SlippageTolerance != 0.02 {
		t.Errorf("unexpected slippage: %f", cfg.Copy.SlippageTolerance)
	}
	if cfg.Copy.ExecutionDelay != 5*time.Second {
		t.Errorf("unexpected delay: %v", cfg.Copy.ExecutionDelay)
	}
	if !cfg.Copy.AutoExecute {
		t.Error("expected auto execute")
	}
	if len(cfg.Copy.AllowTokens) != 2 || cfg.Copy.AllowTokens[1] != "GUSDC" {
		t.Errorf("unexpected allow tokens: %v", cfg.Copy.AllowTokens)
	}
	if len(cfg.Copy.MinTokenAmounts) != 2 {
		t.Fatalf("expected 2 min amounts, got %v", cfg.Copy.MinTokenAmounts)
	}
	if !cfg.Copy.MinTokenAmounts["GALA"].Equal(decimal.NewFromInt(10)) {
		t.Errorf("unexpected GALA minimum: %s", cfg.Copy.MinTokenAmounts["GALA"])
	}
	if len(cfg.Targets.Wallets) != 2 {
		t.Fatalf("expected 2 env targets, got %d", len(cfg.Targets.Wallets))
	}
	if !cfg.Targets.Wallets[0].MaxCopyAmount.Equal(decimal.NewFromInt(250)) {
		t.Errorf("unexpected max copy: %s", cfg.Targets.Wallets[0].MaxCopyAmount)
	}
	if !cfg.Targets.Wallets[1].Enabled {
		t.Error("env targets should be enabled")
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("QUEUE_CAPACITY", "lots")
	t.Setenv("FEED_HEARTBEAT_TIMEOUT", "soon")
	t.Setenv("COPY_MAX_DAILY_VOLUME", "1e")

	cfg := Load()

	if cfg.Queue.Capacity != 1000 {
		t.Errorf("expected default capacity, got %d", cfg.Queue.Capacity)
	}
	if cfg.Feed.HeartbeatTimeout != 60*time.Second {
		t.Errorf("expected default heartbeat, got %v", cfg.Feed.HeartbeatTimeout)
	}
	if !cfg.Copy.MaxDailyVolume.IsZero() {
		t.Errorf("expected zero daily volume, got %s", cfg.Copy.MaxDailyVolume)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad feed url", func(c *Config) { c.Feed.URL = "http://x" }, "feed.url"},
		{"ping longer than heartbeat", func(c *Config) { c.Feed.PingInterval = 2 * c.Feed.HeartbeatTimeout }, "feed.ping_interval"},
		{"unknown copy mode", func(c *Config) { c.Copy.Mode = "mirror" }, "copy.mode"},
		{"slippage out of range", func(c *Config) { c.Copy.SlippageTolerance = 1.5 }, "copy.slippage_tolerance"},
		{"position size zero", func(c *Config) { c.Copy.MaxPositionSize = 0 }, "copy.max_position_size"},
		{"allowed and denied", func(c *Config) {
			c.Copy.AllowTokens = []string{"GALA"}
			c.Copy.DenyTokens = []string{"gala"}
		}, "copy.allow_tokens"},
		{"unknown scoring", func(c *Config) { c.Copy.ScoringStrategy = "ml" }, "copy.scoring_strategy"},
		{"negative min amount", func(c *Config) {
			c.Copy.MinTokenAmounts = map[string]decimal.Decimal{"GALA": decimal.NewFromInt(-1)}
		}, "copy.min_token_amounts.GALA"},
		{"queue seen smaller than capacity", func(c *Config) { c.Queue.SeenCapacity = 1 }, "queue.seen_capacity"},
		{"breaker threshold", func(c *Config) { c.Breaker.FailureThreshold = 0 }, "breaker.failure_threshold"},
		{"retry delays inverted", func(c *Config) { c.Executor.MaxRetryDelay = time.Millisecond }, "executor.retry_base_delay"},
		{"empty state path", func(c *Config) { c.State.FilePath = "" }, "state.file_path"},
		{"bad port", func(c *Config) { c.HealthServer.Port = 70000 }, "health_server.port"},
		{"duplicate target", func(c *Config) {
			c.Targets.Wallets = []domain.TargetWallet{{Address: "eth|A"}, {Address: "ETH|a"}}
		}, "targets.wallets[1].address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			res := cfg.Validate()
			if res.Valid {
				t.Fatal("expected validation to fail")
			}
			found := false
			for _, e := range res.Errors {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on %s, got %+v", tt.field, res.Errors)
			}
		})
	}
}

func TestDefaults_Valid(t *testing.T) {
	if res := Defaults().Validate(); !res.Valid {
		t.Errorf("defaults should validate, got %+v", res.Errors)
	}
}

func TestClone_DeepCopy(t *testing.T) {
	cfg := Defaults()
	cfg.Copy.AllowTokens = []string{"GALA"}
	cfg.Copy.MinTokenAmounts = map[string]decimal.Decimal{"GALA": decimal.NewFromInt(1)}
	cfg.Targets.Wallets = []domain.TargetWallet{{Address: "eth|a", Enabled: true}}

	clone := cfg.Clone()
	clone.Copy.AllowTokens[0] = "ETIME"
	clone.Copy.MinTokenAmounts["GALA"] = decimal.NewFromInt(99)
	clone.Targets.Wallets[0].Enabled = false

	if cfg.Copy.AllowTokens[0] != "GALA" {
		t.Error("allow tokens shared with clone")
	}
	if !cfg.Copy.MinTokenAmounts["GALA"].Equal(decimal.NewFromInt(1)) {
		t.Error("min amounts shared with clone")
	}
	if !cfg.Targets.Wallets[0].Enabled {
		t.Error("wallets shared with clone")
	}
}

func TestParseTargets(t *testing.T) {
	data := []byte(`[
		{"address": "eth|AAA", "name": "whale", "maxCopyAmount": "150", "priority": 2, "type": "whale"},
		{"address": "eth|BBB", "enabled": false, "maxCopyAmount": 25},
		{"address": "eth|CCC"}
	]`)

	targets, err := ParseTargets(data)
	if err != nil {
		t.Fatalf("ParseTargets: %v", err)
	}
	if len(targets) != 3 {
		t.Fatalf("expected 3 targets, got %d", len(targets))
	}
	if !targets[0].MaxCopyAmount.Equal(decimal.NewFromInt(150)) || targets[0].Priority != 2 {
		t.Errorf("unexpected first target: %+v", targets[0])
	}
	if targets[1].Enabled {
		t.Error("second target should be disabled")
	}
	if !targets[1].MaxCopyAmount.Equal(decimal.NewFromInt(25)) {
		t.Errorf("numeric maxCopyAmount not parsed: %s", targets[1].MaxCopyAmount)
	}
	if !targets[2].Enabled || targets[2].Name != "eth|CCC" {
		t.Errorf("third target defaults wrong: %+v", targets[2])
	}
	if !targets[2].MaxCopyAmount.IsZero() {
		t.Errorf("omitted maxCopyAmount should be zero, got %s", targets[2].MaxCopyAmount)
	}
}

func TestParseTargets_Errors(t *testing.T) {
	if _, err := ParseTargets([]byte(`{"address": "x"}`)); err == nil {
		t.Error("expected error for non-array")
	}
	_, err := ParseTargets([]byte(`[{"name": "nobody"}]`))
	if err == nil || !strings.Contains(err.Error(), "address is required") {
		t.Errorf("expected missing address error, got %v", err)
	}
}

func TestLoadTargets_MissingFile(t *testing.T) {
	targets, err := LoadTargets(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if targets != nil {
		t.Errorf("expected nil targets, got %v", targets)
	}
}

type recordingObserver struct {
	calls []*Config
}

func (o *recordingObserver) OnConfigUpdate(cfg *Config) {
	o.calls = append(o.calls, cfg)
}

func TestTargetsWatcher_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.json")
	if err := os.WriteFile(path, []byte(`[{"address":"eth|one"}]`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	cfg.Targets.FilePath = path
	live := NewLiveConfig(cfg)
	obs := &recordingObserver{}
	live.AddObserver(obs)

	w := NewTargetsWatcher(nil, live)

	// Unchanged file: nothing to do.
	updated, err := w.CheckOnce()
	if err != nil || updated {
		t.Fatalf("expected no update, got updated=%v err=%v", updated, err)
	}

	future := time.Now().Add(time.Minute)
	if err := os.WriteFile(path, []byte(`[{"address":"eth|one"},{"address":"eth|two"}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	updated, err = w.CheckOnce()
	if err != nil {
		t.Fatalf("CheckOnce: %v", err)
	}
	if !updated {
		t.Fatal("expected update after file change")
	}
	if got := len(live.Targets()); got != 2 {
		t.Errorf("expected 2 live targets, got %d", got)
	}
	if len(obs.calls) != 1 {
		t.Errorf("expected 1 observer call, got %d", len(obs.calls))
	}
}

func TestLiveConfig_RejectsInvalidUpdate(t *testing.T) {
	live := NewLiveConfig(nil)
	err := live.UpdatePartial(func(c *Config) { c.Copy.SlippageTolerance = 2 })
	if err == nil {
		t.Fatal("expected validation error")
	}
	if _, ok := err.(*ConfigValidationError); !ok {
		t.Errorf("expected ConfigValidationError, got %T", err)
	}
	if live.Get().Copy.SlippageTolerance != 0.05 {
		t.Error("invalid update should not be applied")
	}
}
