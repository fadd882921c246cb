package ledger

import (
	"context"
	"fmt"
	"time"
)

const (
	// DayLayout is the local calendar date that scopes a snapshot.
	DayLayout = "2006-01-02"

	// DefaultCooldown is how long an exhausted key/model pair stays ineligible.
	DefaultCooldown = 60 * time.Second

	// DefaultFlushDebounce is the quiet period before a persist.
	DefaultFlushDebounce = 2 * time.Second

	keyIDLength = 8
)

// Quota is the ledger service used by the gateway.
type Quota interface {
	Load(ctx context.Context) error
	RecordSuccess(keyID, model string)
	MarkExhausted(keyID, model string)
	IsEligible(keyID, model string) bool
	Cursor(provider string) int
	AdvanceCursor(provider string, usedIndex, keyCount int)
	Reset()
}

// Snapshot is the persisted ledger state. Usage and exhaustion are scoped to
// Day; cursors survive the daily reset.
type Snapshot struct {
	Day       string                          `json:"day"`
	Usage     map[string]map[string]int       `json:"usage"`
	Exhausted map[string]map[string]time.Time `json:"exhausted"`
	Cursors   map[string]int                  `json:"cursors"`
}

// NewSnapshot returns an empty snapshot for day.
func NewSnapshot(day string) Snapshot {
	return Snapshot{
		Day:       day,
		Usage:     make(map[string]map[string]int),
		Exhausted: make(map[string]map[string]time.Time),
		Cursors:   make(map[string]int),
	}
}

func (s Snapshot) clone() Snapshot {
	out := NewSnapshot(s.Day)
	for key, models := range s.Usage {
		m := make(map[string]int, len(models))
		for model, n := range models {
			m[model] = n
		}
		out.Usage[key] = m
	}
	for key, models := range s.Exhausted {
		m := make(map[string]time.Time, len(models))
		for model, ts := range models {
			m[model] = ts
		}
		out.Exhausted[key] = m
	}
	for provider, idx := range s.Cursors {
		out.Cursors[provider] = idx
	}
	return out
}

// normalize fills nil maps left by a decoder.
func (s *Snapshot) normalize() {
	if s.Usage == nil {
		s.Usage = make(map[string]map[string]int)
	}
	if s.Exhausted == nil {
		s.Exhausted = make(map[string]map[string]time.Time)
	}
	if s.Cursors == nil {
		s.Cursors = make(map[string]int)
	}
}

// Store persists snapshots wholesale.
type Store interface {
	// Load returns the stored snapshot, or nil when nothing was stored yet.
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
	Close() error
}

// NewStore opens the store for driver ("json" or "sqlite").
func NewStore(driver, path string) (Store, error) {
	switch driver {
	case "", "json":
		return NewFileStore(path), nil
	case "sqlite":
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unsupported ledger driver: %s", driver)
	}
}

// KeyID returns the public identifier of an API key: its first 8 characters.
func KeyID(secret string) string {
	if len(secret) <= keyIDLength {
		return secret
	}
	return secret[:keyIDLength]
}
