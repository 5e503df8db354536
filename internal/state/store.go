// Package state persists trades, positions, cooldowns and daily counters
// as a single JSON document.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gswapcopy/config"
	"gswapcopy/internal/domain"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Version is written into every saved document.
const Version = 1

// Document is the on-disk layout.
type Document struct {
	Version     int                           `json:"version"`
	SavedAt     time.Time                     `json:"savedAt"`
	Trades      []domain.TradeRecord          `json:"trades"`
	Positions   []domain.LiquidityPosition    `json:"positions"`
	Cooldowns   []domain.CooldownState        `json:"cooldowns"`
	DailyLimits domain.DailyLimits            `json:"dailyLimits"`
	Counters    domain.Counters               `json:"counters"`
	Wallets     map[string]domain.WalletStats `json:"wallets,omitempty"`
}

// Store owns the persisted state. All methods are safe for concurrent use.
type Store struct {
	logger *zap.Logger
	cfg    config.StateConfig
	now    func() time.Time

	mu        sync.RWMutex
	trades    []domain.TradeRecord
	positions map[string]domain.LiquidityPosition
	cooldowns map[string]domain.CooldownState
	daily     domain.DailyLimits
	counters  domain.Counters
	wallets   map[string]domain.WalletStats
	reserved  map[string]reservation
	dirty     bool
	savedAt   time.Time
	onSave    func(err error)

	saveMu sync.Mutex
}

// New creates an empty store writing to cfg.FilePath.
func New(logger *zap.Logger, cfg config.StateConfig) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FilePath == "" {
		cfg.FilePath = "copytrader_state.json"
	}
	if cfg.SaveInterval <= 0 {
		cfg.SaveInterval = 30 * time.Second
	}
	if cfg.MaxTrades <= 0 {
		cfg.MaxTrades = 1000
	}
	return &Store{
		logger:    logger.Named("state"),
		cfg:       cfg,
		now:       time.Now,
		positions: make(map[string]domain.LiquidityPosition),
		cooldowns: make(map[string]domain.CooldownState),
		wallets:   make(map[string]domain.WalletStats),
		reserved:  make(map[string]reservation),
	}
}

// Path returns the state file location.
func (s *Store) Path() string {
	return s.cfg.FilePath
}

// Load reads the state file. A missing file leaves the store empty.
// Daily limits recorded for a different UTC day are reset.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.cfg.FilePath)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info("no state file, starting fresh", zap.String("path", s.cfg.FilePath))
		return nil
	}
	if err != nil {
		return fmt.Errorf("read state file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse state file %s: %w", s.cfg.FilePath, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades = doc.Trades
	s.trimTradesLocked()
	s.positions = make(map[string]domain.LiquidityPosition, len(doc.Positions))
	for _, p := range doc.Positions {
		s.positions[p.ID] = p
	}
	s.cooldowns = make(map[string]domain.CooldownState, len(doc.Cooldowns))
	for _, c := range doc.Cooldowns {
		s.cooldowns[domain.NormalizeAddress(c.Wallet)] = c
	}
	s.daily = doc.DailyLimits
	s.counters = doc.Counters
	if doc.Wallets != nil {
		s.wallets = doc.Wallets
	}
	s.savedAt = doc.SavedAt

	today := s.now().UTC().Format(domain.DayLayout)
	if s.daily.Date != today {
		s.daily = domain.DailyLimits{Date: today}
		s.dirty = true
	}

	s.logger.Info("loaded state",
		zap.String("path", s.cfg.FilePath),
		zap.Int("trades", len(s.trades)),
		zap.Int("positions", len(s.positions)),
		zap.Int("cooldowns", len(s.cooldowns)),
		zap.Time("savedAt", doc.SavedAt),
	)
	return nil
}

// Snapshot returns a copy of the current document.
func (s *Store) Snapshot() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.documentLocked()
}

func (s *Store) documentLocked() Document {
	doc := Document{
		Version:     Version,
		SavedAt:     s.savedAt,
		Trades:      append([]domain.TradeRecord(nil), s.trades...),
		Positions:   make([]domain.LiquidityPosition, 0, len(s.positions)),
		Cooldowns:   make([]domain.CooldownState, 0, len(s.cooldowns)),
		DailyLimits: s.daily,
		Counters:    s.counters,
	}
	for _, p := range s.positions {
		doc.Positions = append(doc.Positions, p)
	}
	sort.Slice(doc.Positions, func(i, j int) bool { return doc.Positions[i].ID < doc.Positions[j].ID })
	for _, c := range s.cooldowns {
		doc.Cooldowns = append(doc.Cooldowns, c)
	}
	sort.Slice(doc.Cooldowns, func(i, j int) bool { return doc.Cooldowns[i].Wallet < doc.Cooldowns[j].Wallet })
	if len(s.wallets) > 0 {
		doc.Wallets = make(map[string]domain.WalletStats, len(s.wallets))
		for k, v := range s.wallets {
			doc.Wallets[k] = v.Clone()
		}
	}
	return doc
}

// OnSave registers fn to be called after every save attempt.
func (s *Store) OnSave(fn func(err error)) {
	s.mu.Lock()
	s.onSave = fn
	s.mu.Unlock()
}

// Save writes the state atomically: a temp file in the same directory is
// synced and renamed over the target.
func (s *Store) Save() error {
	err := s.save()

	s.mu.RLock()
	fn := s.onSave
	s.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
	return err
}

func (s *Store) save() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	now := s.now()
	s.mu.Lock()
	doc := s.documentLocked()
	doc.SavedAt = now
	s.dirty = false
	s.mu.Unlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		s.markDirty()
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := writeAtomic(s.cfg.FilePath, data); err != nil {
		s.markDirty()
		return err
	}

	s.mu.Lock()
	s.savedAt = now
	s.mu.Unlock()

	s.logger.Debug("saved state",
		zap.String("path", s.cfg.FilePath),
		zap.Int("bytes", len(data)),
		zap.Int("trades", len(doc.Trades)),
	)
	return nil
}

func (s *Store) markDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	name := tmp.Name()
	cleanup := func() { _ = os.Remove(name) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		cleanup()
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}

// Dirty reports whether there are unsaved changes.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// Run saves every SaveInterval while there are unsaved changes. The final
// flush on shutdown is left to the caller.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SaveInterval)
	defer ticker.Stop()

	s.logger.Info("state auto-save started", zap.Duration("interval", s.cfg.SaveInterval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.Dirty() {
				continue
			}
			if err := s.Save(); err != nil {
				s.logger.Warn("failed to save state", zap.Error(err))
			}
		}
	}
}

// CheckWritable verifies the state directory accepts new files.
func (s *Store) CheckWritable() error {
	f, err := os.CreateTemp(filepath.Dir(s.cfg.FilePath), ".probe.*")
	if err != nil {
		return fmt.Errorf("state directory not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// RecordTrade stores a terminal execution and updates the counters.
func (s *Store) RecordTrade(rec domain.TradeRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades = append(s.trades, rec)
	s.trimTradesLocked()

	s.counters.TotalTrades++
	switch rec.Status {
	case domain.ExecutionCompleted:
		s.counters.SuccessfulTrades++
		s.counters.TotalVolume = s.counters.TotalVolume.Add(rec.AmountIn)
	case domain.ExecutionFailed:
		s.counters.FailedTrades++
	case domain.ExecutionCancelled:
		s.counters.CancelledTrades++
	}
	if rec.CompletedAt.After(s.counters.LastTradeAt) {
		s.counters.LastTradeAt = rec.CompletedAt
	}
	s.dirty = true
}

// trimTradesLocked keeps the newest MaxTrades records.
func (s *Store) trimTradesLocked() {
	if over := len(s.trades) - s.cfg.MaxTrades; over > 0 {
		s.trades = append([]domain.TradeRecord(nil), s.trades[over:]...)
	}
}

// Trades returns the retained trade records, oldest first.
func (s *Store) Trades() []domain.TradeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.TradeRecord(nil), s.trades...)
}

// Counters returns the lifetime counters.
func (s *Store) Counters() domain.Counters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters
}

// UpsertPosition stores one position.
func (s *Store) UpsertPosition(p domain.LiquidityPosition) {
	s.UpsertPositions([]domain.LiquidityPosition{p})
}

// UpsertPositions stores positions, replacing any with the same id.
func (s *Store) UpsertPositions(ps []domain.LiquidityPosition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range ps {
		s.positions[p.ID] = p
	}
	if len(ps) > 0 {
		s.dirty = true
	}
}

// Positions returns every stored position.
func (s *Store) Positions() []domain.LiquidityPosition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.LiquidityPosition, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetCooldown blocks copying wallet until until.
func (s *Store) SetCooldown(wallet string, until time.Time, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldowns[domain.NormalizeAddress(wallet)] = domain.CooldownState{
		Wallet: wallet,
		Until:  until,
		Reason: reason,
	}
	s.dirty = true
}

// CooldownUntil returns the cooldown end for wallet and whether it is
// still active at now.
func (s *Store) CooldownUntil(wallet string, now time.Time) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := domain.NormalizeAddress(wallet)
	var until time.Time
	active := false
	if c, ok := s.cooldowns[key]; ok {
		until, active = c.Until, c.Active(now)
	}
	// A copy in flight holds its wallet until committed or released.
	for _, r := range s.reserved {
		if r.wallet != key || r.until.IsZero() {
			continue
		}
		active = true
		if r.until.After(until) {
			until = r.until
		}
	}
	return until, active
}

// ActiveCooldowns returns the cooldowns still in force at now and drops
// the expired ones.
func (s *Store) ActiveCooldowns(now time.Time) []domain.CooldownState {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.CooldownState
	for k, c := range s.cooldowns {
		if !c.Active(now) {
			delete(s.cooldowns, k)
			s.dirty = true
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Until.Before(out[j].Until) })
	return out
}

// DailyLimits returns today's counters, resetting them on the first call
// of a new UTC day.
func (s *Store) DailyLimits(now time.Time) domain.DailyLimits {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollDayLocked(now)
	return s.daily
}

// AddDailyTrade counts one copied trade of volume against today's limits.
func (s *Store) AddDailyTrade(volume decimal.Decimal, now time.Time) domain.DailyLimits {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollDayLocked(now)
	s.daily.TradeCount++
	s.daily.TotalVolume = s.daily.TotalVolume.Add(volume.Abs())
	s.dirty = true
	return s.daily
}

// reservation is an approved copy that has not reached a terminal state.
// Reservations live in memory only: pending executions do not survive a
// restart.
type reservation struct {
	wallet string
	volume decimal.Decimal
	until  time.Time
}

// ReserveTrade holds a daily-limit slot of volume for the approved copy id.
// A non-zero until also holds wallet in cooldown while the copy is in
// flight.
func (s *Store) ReserveTrade(id, wallet string, volume decimal.Decimal, until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserved[id] = reservation{
		wallet: domain.NormalizeAddress(wallet),
		volume: volume.Abs(),
		until:  until,
	}
}

// ReleaseTrade drops the reservation for id. It reports whether one
// existed.
func (s *Store) ReleaseTrade(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.reserved[id]
	delete(s.reserved, id)
	return ok
}

// Reserved returns the number and volume of copies in flight.
func (s *Store) Reserved() (int, decimal.Decimal) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	volume := decimal.Zero
	for _, r := range s.reserved {
		volume = volume.Add(r.volume)
	}
	return len(s.reserved), volume
}

// CommitTrade turns the reservation for id into a completed trade: it
// counts volume against today's limits and, when cooldownUntil is set,
// puts wallet in cooldown, atomically with dropping the reservation.
func (s *Store) CommitTrade(id, wallet string, volume decimal.Decimal, cooldownUntil time.Time, now time.Time) domain.DailyLimits {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reserved, id)

	s.rollDayLocked(now)
	s.daily.TradeCount++
	s.daily.TotalVolume = s.daily.TotalVolume.Add(volume.Abs())

	if !cooldownUntil.IsZero() {
		s.cooldowns[domain.NormalizeAddress(wallet)] = domain.CooldownState{
			Wallet: wallet,
			Until:  cooldownUntil,
			Reason: "copied trade " + id,
		}
	}
	s.dirty = true
	return s.daily
}

func (s *Store) rollDayLocked(now time.Time) {
	today := now.UTC().Format(domain.DayLayout)
	if s.daily.Date == today {
		return
	}
	if s.daily.Date != "" {
		s.logger.Info("daily limits reset",
			zap.String("previous", s.daily.Date),
			zap.Int("trades", s.daily.TradeCount),
			zap.Stringer("volume", s.daily.TotalVolume),
		)
	}
	s.daily = domain.DailyLimits{Date: today}
	s.dirty = true
}

// SetWallets replaces the persisted wallet statistics.
func (s *Store) SetWallets(wallets map[string]domain.WalletStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets = make(map[string]domain.WalletStats, len(wallets))
	for k, v := range wallets {
		s.wallets[k] = v.Clone()
	}
	s.dirty = true
}

// Wallets returns the persisted wallet statistics.
func (s *Store) Wallets() map[string]domain.WalletStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.WalletStats, len(s.wallets))
	for k, v := range s.wallets {
		out[k] = v.Clone()
	}
	return out
}

// SavedAt returns when the state was last written.
func (s *Store) SavedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.savedAt
}
