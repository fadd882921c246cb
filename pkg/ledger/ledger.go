package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/harun/storechat/internal/observability"
	"github.com/rs/zerolog"
)

// Config configures a Ledger.
type Config struct {
	Store         Store
	Cooldown      time.Duration
	FlushDebounce time.Duration
	Logger        zerolog.Logger
}

// Ledger tracks per-key usage, exhaustion cooldowns and rotation cursors.
// Every method is safe for concurrent use; mutations schedule a debounced
// persist through the Store.
type Ledger struct {
	mu       sync.Mutex
	snap     Snapshot
	dirty    bool
	timer    *time.Timer
	closed   bool
	saveMu   sync.Mutex
	store    Store
	cooldown time.Duration
	debounce time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates a ledger. Call Load before serving requests.
func New(cfg Config) (*Ledger, error) {
	if cfg.Store == nil {
		return nil, errors.New("ledger store is required")
	}
	observability.EnsureRegistered()

	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.FlushDebounce <= 0 {
		cfg.FlushDebounce = DefaultFlushDebounce
	}

	l := &Ledger{
		store:    cfg.Store,
		cooldown: cfg.Cooldown,
		debounce: cfg.FlushDebounce,
		logger:   cfg.Logger,
		now:      time.Now,
	}
	l.snap = NewSnapshot(l.today())
	return l, nil
}

// WithClock replaces the clock. Tests only.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
	l.snap.Day = l.today()
	return l
}

func (l *Ledger) today() string {
	return l.now().Format(DayLayout)
}

// Load reads the persisted snapshot. A missing snapshot starts an empty one.
func (l *Ledger) Load(ctx context.Context) error {
	snap, err := l.store.Load(ctx)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if snap != nil {
		snap.normalize()
		l.snap = *snap
	}
	l.rollLocked()

	l.logger.Info().
		Str("day", l.snap.Day).
		Int("keys", len(l.snap.Usage)).
		Msg("Quota ledger loaded")
	return nil
}

// rollLocked discards quota data from a previous day. Cursors are kept.
func (l *Ledger) rollLocked() {
	today := l.today()
	if l.snap.Day == today {
		return
	}
	l.logger.Info().Str("from", l.snap.Day).Str("to", today).Msg("Quota ledger day rollover")
	fresh := NewSnapshot(today)
	fresh.Cursors = l.snap.Cursors
	l.snap = fresh
	l.scheduleLocked()
}

// RecordSuccess counts one successful turn for keyID on model.
func (l *Ledger) RecordSuccess(keyID, model string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()

	models, ok := l.snap.Usage[keyID]
	if !ok {
		models = make(map[string]int)
		l.snap.Usage[keyID] = models
	}
	models[model]++
	l.scheduleLocked()
}

// MarkExhausted starts the cooldown for keyID on model.
func (l *Ledger) MarkExhausted(keyID, model string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()

	models, ok := l.snap.Exhausted[keyID]
	if !ok {
		models = make(map[string]time.Time)
		l.snap.Exhausted[keyID] = models
	}
	models[model] = l.now()
	l.scheduleLocked()

	observability.RecordExhaustion(model)
	l.logger.Warn().Str("key", keyID).Str("model", model).Dur("cooldown", l.cooldown).Msg("Key marked exhausted")
}

// IsEligible reports whether keyID may be tried on model. Stale exhaustion
// stamps are ignored, not purged.
func (l *Ledger) IsEligible(keyID, model string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()

	ts, ok := l.snap.Exhausted[keyID][model]
	if !ok {
		return true
	}
	return l.now().Sub(ts) >= l.cooldown
}

// Usage returns the count for keyID on model today.
func (l *Ledger) Usage(keyID, model string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()
	return l.snap.Usage[keyID][model]
}

// Cursor returns the rotation start index for provider.
func (l *Ledger) Cursor(provider string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snap.Cursors[provider]
}

// AdvanceCursor moves provider's cursor past usedIndex, wrapping at keyCount.
func (l *Ledger) AdvanceCursor(provider string, usedIndex, keyCount int) {
	if keyCount <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snap.Cursors[provider] = (usedIndex + 1) % keyCount
	l.scheduleLocked()
}

// Reset replaces today's quota data with an empty snapshot.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	fresh := NewSnapshot(l.today())
	fresh.Cursors = l.snap.Cursors
	l.snap = fresh
	l.scheduleLocked()
}

// Rollover applies the daily reset now if the day changed.
func (l *Ledger) Rollover() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()
}

// Snapshot returns a copy of the current state.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()
	return l.snap.clone()
}

// scheduleLocked marks the ledger dirty and re-arms the debounce timer.
func (l *Ledger) scheduleLocked() {
	l.dirty = true
	if l.closed {
		return
	}
	if l.timer == nil {
		l.timer = time.AfterFunc(l.debounce, l.flushInBackground)
		return
	}
	l.timer.Reset(l.debounce)
}

func (l *Ledger) flushInBackground() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := l.Flush(ctx); err != nil {
		l.logger.Error().Err(err).Msg("Failed to persist quota ledger")
	}
}

// Flush persists pending changes now. Saves are serialized so an older
// snapshot never overwrites a newer one.
func (l *Ledger) Flush(ctx context.Context) error {
	l.saveMu.Lock()
	defer l.saveMu.Unlock()

	l.mu.Lock()
	if !l.dirty {
		l.mu.Unlock()
		return nil
	}
	snap := l.snap.clone()
	l.dirty = false
	l.mu.Unlock()

	start := time.Now()
	err := l.store.Save(ctx, snap)
	observability.RecordLedgerFlush(time.Since(start), err == nil)
	if err != nil {
		l.mu.Lock()
		l.dirty = true
		l.mu.Unlock()
		return err
	}

	l.logger.Debug().Str("day", snap.Day).Msg("Quota ledger persisted")
	return nil
}

// Close stops the debounce timer, flushes pending changes and closes the store.
func (l *Ledger) Close(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	if l.timer != nil {
		l.timer.Stop()
	}
	l.mu.Unlock()

	flushErr := l.Flush(ctx)
	if err := l.store.Close(); err != nil && flushErr == nil {
		return err
	}
	return flushErr
}
