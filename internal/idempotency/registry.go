package idempotency

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/roach88/graphwriter/internal/model"
)

// Default registry settings.
const (
	DefaultTTL             = 24 * time.Hour
	DefaultMaxRecords      = 10000
	DefaultCleanupInterval = 5 * time.Minute
)

var (
	// ErrRecordNotFound is returned when no live record exists for a key.
	ErrRecordNotFound = errors.New("idempotency record not found")

	// ErrNotReserved is returned when binding an operation to a record that
	// is already bound to a different operation.
	ErrNotReserved = errors.New("idempotency record is not reserved")

	// ErrInvalidStatus is returned when MarkTerminal receives a
	// non-terminal status.
	ErrInvalidStatus = errors.New("status is not terminal")
)

// RecordStatus mirrors the bound Operation's lifecycle, plus reserved for
// records that have no Operation yet.
type RecordStatus string

const (
	RecordReserved RecordStatus = "reserved"
	RecordQueued   RecordStatus = "queued"
	RecordComplete RecordStatus = "complete"
	RecordError    RecordStatus = "error"
)

// Record is the registry entry for one key.
type Record struct {
	Key           string       `json:"key"`
	PayloadHash   string       `json:"payloadHash"`
	OperationID   string       `json:"operationId,omitempty"`
	Status        RecordStatus `json:"status"`
	FirstSeenAt   time.Time    `json:"firstSeenAt"`
	LastSeenAt    time.Time    `json:"lastSeenAt"`
	ExpiresAt     time.Time    `json:"expiresAt"`
	ReplayedCount int          `json:"replayedCount"`
}

// Outcome classifies a Reserve call.
type Outcome string

const (
	OutcomeDisabled Outcome = "disabled"
	OutcomeNew      Outcome = "new"
	OutcomeReplay   Outcome = "replay"
	OutcomeConflict Outcome = "conflict"

	// OutcomeInProgress is a matching submission whose reservation has not
	// been bound to an operation yet.
	OutcomeInProgress Outcome = "in_progress"
)

// Reservation is the result of Reserve. Record is a copy and is the zero
// value when Outcome is OutcomeDisabled.
type Reservation struct {
	Outcome Outcome
	Record  Record
}

// Config controls registry behavior.
type Config struct {
	Enabled         bool          `yaml:"enabled"`
	TTL             time.Duration `yaml:"ttl"`
	MaxRecords      int           `yaml:"max_records"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultConfig returns an enabled registry configuration with defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		TTL:             DefaultTTL,
		MaxRecords:      DefaultMaxRecords,
		CleanupInterval: DefaultCleanupInterval,
	}
}

// Option configures a Registry.
type Option func(*Registry)

// WithNow overrides the wall clock (for tests).
func WithNow(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// Registry is a TTL-expiring, LRU-bounded key -> Record store.
//
// LRU order is tracked separately from expiry: Reserve and replays touch a
// record, while expiry is fixed at first sight plus TTL.
type Registry struct {
	mu          sync.Mutex
	cfg         Config
	records     *simplelru.LRU[string, *Record]
	now         func() time.Time
	lastCleanup time.Time
}

// New creates a Registry. Zero TTL, MaxRecords or CleanupInterval fall back
// to the defaults.
func New(cfg Config, opts ...Option) (*Registry, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = DefaultMaxRecords
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}

	records, err := simplelru.NewLRU[string, *Record](cfg.MaxRecords, nil)
	if err != nil {
		return nil, fmt.Errorf("create idempotency lru: %w", err)
	}

	r := &Registry{
		cfg:     cfg,
		records: records,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.lastCleanup = r.now()
	return r, nil
}

// Enabled reports whether deduplication is active.
func (r *Registry) Enabled() bool {
	return r.cfg.Enabled
}

// Reserve classifies a submission under key with the given payload hash.
//
// Returns OutcomeDisabled when the registry is disabled or key is empty,
// and ErrInvalidKey (wrapped) for malformed keys. A new reservation must
// later be bound with AttachOperation or dropped with Release.
func (r *Registry) Reserve(key, payloadHash string) (Reservation, error) {
	if !r.cfg.Enabled || key == "" {
		return Reservation{Outcome: OutcomeDisabled}, nil
	}
	if err := ValidateKey(key); err != nil {
		return Reservation{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.maybeCleanupLocked(now)

	if rec, ok := r.liveLocked(key, now, true); ok {
		if rec.PayloadHash != payloadHash {
			return Reservation{Outcome: OutcomeConflict, Record: *rec}, nil
		}
		if rec.OperationID == "" {
			return Reservation{Outcome: OutcomeInProgress, Record: *rec}, nil
		}
		rec.ReplayedCount++
		rec.LastSeenAt = now
		return Reservation{Outcome: OutcomeReplay, Record: *rec}, nil
	}

	rec := &Record{
		Key:         key,
		PayloadHash: payloadHash,
		Status:      RecordReserved,
		FirstSeenAt: now,
		LastSeenAt:  now,
		ExpiresAt:   now.Add(r.cfg.TTL),
	}
	// Add evicts the least-recently-touched record when over MaxRecords.
	r.records.Add(key, rec)
	return Reservation{Outcome: OutcomeNew, Record: *rec}, nil
}

// AttachOperation binds operationID to a reserved record and moves it to
// queued. Binding the same operation twice is a no-op.
func (r *Registry) AttachOperation(key, operationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	rec, ok := r.liveLocked(key, now, false)
	if !ok {
		return fmt.Errorf("attach %s: %w", key, ErrRecordNotFound)
	}
	if rec.OperationID == operationID {
		return nil
	}
	if rec.Status != RecordReserved || rec.OperationID != "" {
		return fmt.Errorf("attach %s to %s: %w (bound to %s)", key, operationID, ErrNotReserved, rec.OperationID)
	}
	rec.OperationID = operationID
	rec.Status = RecordQueued
	rec.LastSeenAt = now
	return nil
}

// MarkTerminal records the bound Operation's terminal status. Calls for a
// missing record or a different operation id are ignored.
func (r *Registry) MarkTerminal(key, operationID string, status model.Status) error {
	var rs RecordStatus
	switch status {
	case model.StatusComplete:
		rs = RecordComplete
	case model.StatusError:
		rs = RecordError
	default:
		return fmt.Errorf("mark %s as %q: %w", key, status, ErrInvalidStatus)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	rec, ok := r.liveLocked(key, now, false)
	if !ok || rec.OperationID != operationID {
		return nil
	}
	rec.Status = rs
	rec.LastSeenAt = now
	return nil
}

// Release drops a reservation whose submission failed, so the key is not
// held until it expires. The record must carry payloadHash and be either
// unbound or bound to operationID and still queued.
func (r *Registry) Release(key, payloadHash, operationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records.Peek(key)
	if !ok || rec.PayloadHash != payloadHash {
		return false
	}
	switch {
	case rec.OperationID == "" && rec.Status == RecordReserved:
	case operationID != "" && rec.OperationID == operationID && rec.Status == RecordQueued:
	default:
		return false
	}
	return r.records.Remove(key)
}

// Get returns a copy of the live record for key without touching LRU order.
func (r *Registry) Get(key string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.liveLocked(key, r.now(), false)
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Len returns the number of stored records, including expired records not
// yet cleaned up.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records.Len()
}

// CleanupExpired removes every record whose expiry has passed and returns
// how many were removed.
func (r *Registry) CleanupExpired() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cleanupLocked(r.now())
}

// liveLocked returns the record for key, deleting it if expired. touch
// moves the record to the most-recently-used position.
func (r *Registry) liveLocked(key string, now time.Time, touch bool) (*Record, bool) {
	var (
		rec *Record
		ok  bool
	)
	if touch {
		rec, ok = r.records.Get(key)
	} else {
		rec, ok = r.records.Peek(key)
	}
	if !ok {
		return nil, false
	}
	if !now.Before(rec.ExpiresAt) {
		r.records.Remove(key)
		return nil, false
	}
	return rec, true
}

func (r *Registry) maybeCleanupLocked(now time.Time) {
	if now.Sub(r.lastCleanup) < r.cfg.CleanupInterval {
		return
	}
	r.cleanupLocked(now)
}

func (r *Registry) cleanupLocked(now time.Time) int {
	removed := 0
	// Keys returns oldest first; a copy, so removal while ranging is safe.
	for _, key := range r.records.Keys() {
		rec, ok := r.records.Peek(key)
		if ok && !now.Before(rec.ExpiresAt) {
			r.records.Remove(key)
			removed++
		}
	}
	r.lastCleanup = now
	return removed
}
