package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bft-labs/fieldsync/internal/domain"
	"github.com/bft-labs/fieldsync/internal/ports"
)

// DefaultScanInterval is how often the registry rescans its sources.
const DefaultScanInterval = 15 * time.Second

// FailureRegistry is the single surface listing unresolved failures from
// every source. Records are derived and can always be rebuilt by a scan.
type FailureRegistry struct {
	sources  map[domain.SourceType]FailureSource
	order    []domain.SourceType
	clock    ports.Clock
	logger   ports.Logger
	interval time.Duration
	dispatch func(func())

	mu      sync.Mutex
	records map[string]*domain.FailedOperationRecord
	timer   ports.Timer
	running bool
}

// RegistryOption configures a FailureRegistry.
type RegistryOption func(*FailureRegistry)

// WithScanInterval sets the periodic scan interval.
func WithScanInterval(d time.Duration) RegistryOption {
	return func(r *FailureRegistry) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithRegistryDispatch sets how the reconnect retry pass is run. The default
// starts a goroutine.
func WithRegistryDispatch(dispatch func(func())) RegistryOption {
	return func(r *FailureRegistry) { r.dispatch = dispatch }
}

// NewFailureRegistry creates a registry over sources.
func NewFailureRegistry(sources []FailureSource, clock ports.Clock, logger ports.Logger, opts ...RegistryOption) *FailureRegistry {
	r := &FailureRegistry{
		sources:  make(map[domain.SourceType]FailureSource),
		clock:    clock,
		logger:   logger,
		interval: DefaultScanInterval,
		dispatch: dispatchAsync,
		records:  make(map[string]*domain.FailedOperationRecord),
	}
	for _, s := range sources {
		if _, dup := r.sources[s.Type()]; !dup {
			r.order = append(r.order, s.Type())
		}
		r.sources[s.Type()] = s
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins periodic scanning.
func (r *FailureRegistry) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.timer = r.clock.AfterFunc(r.interval, r.tick)
}

// Stop ends periodic scanning.
func (r *FailureRegistry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *FailureRegistry) tick() {
	r.Scan(context.Background())

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		r.timer = r.clock.AfterFunc(r.interval, r.tick)
	}
}

// Scan reads every source and adds or updates records. Registry-side retry
// counts survive rescans. Scan never removes records; see ClearResolved.
func (r *FailureRegistry) Scan(ctx context.Context) {
	r.collect(ctx)
}

// ClearResolved rescans and drops records their source no longer reports.
// It returns the number of records removed.
func (r *FailureRegistry) ClearResolved(ctx context.Context) int {
	seen := r.collect(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, rec := range r.records {
		ids, scanned := seen[rec.SourceType]
		if !scanned || ids[id] {
			continue
		}
		delete(r.records, id)
		removed++
	}
	if removed > 0 {
		r.logger.Info("resolved failures cleared", ports.Int("count", removed))
	}
	return removed
}

// collect scans all sources and merges the result. It returns the ids each
// successfully scanned source reported.
func (r *FailureRegistry) collect(ctx context.Context) map[domain.SourceType]map[string]bool {
	seen := make(map[domain.SourceType]map[string]bool, len(r.order))
	for _, t := range r.order {
		found, err := r.sources[t].Failures(ctx)
		if err != nil {
			r.logger.Warn("failure source scan failed",
				ports.String("source", string(t)),
				ports.Err(err),
			)
			continue
		}

		ids := make(map[string]bool, len(found))
		r.mu.Lock()
		for i := range found {
			rec := found[i]
			rec.SourceType = t
			rec.ID = domain.RecordID(t, rec.SourceID)
			if existing, ok := r.records[rec.ID]; ok && existing.RetryCount > rec.RetryCount {
				rec.RetryCount = existing.RetryCount
			}
			if rec.MaxRetries <= 0 {
				rec.MaxRetries = domain.DefaultMaxRetries
			}
			rec.Assess()
			r.records[rec.ID] = &rec
			ids[rec.ID] = true
		}
		r.mu.Unlock()
		seen[t] = ids
	}
	return seen
}

// FailedOperations returns every record, most recent first.
func (r *FailureRegistry) FailedOperations() []domain.FailedOperationRecord {
	return r.filter(func(*domain.FailedOperationRecord) bool { return true })
}

// Retryable returns the records that may be retried.
func (r *FailureRegistry) Retryable() []domain.FailedOperationRecord {
	return r.filter(func(rec *domain.FailedOperationRecord) bool { return rec.IsRetryable })
}

// Stats aggregates the records.
func (r *FailureRegistry) Stats() domain.RetryStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := domain.RetryStats{
		ByType:     make(map[domain.SourceType]int),
		ByEntity:   make(map[string]int),
		ByPriority: make(map[domain.Priority]int),
	}
	for _, rec := range r.records {
		stats.TotalFailed++
		if rec.IsRetryable {
			stats.TotalRetryable++
		}
		stats.ByType[rec.SourceType]++
		if rec.EntityType != "" {
			stats.ByEntity[rec.EntityType]++
		}
		if rec.Priority != "" {
			stats.ByPriority[rec.Priority]++
		}
	}
	return stats
}

// Retry re-executes the record through its source. Success removes the
// record; failure counts an attempt and reassesses retryability.
func (r *FailureRegistry) Retry(ctx context.Context, id string) domain.RetryResult {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return domain.RetryResult{ID: id, Error: domain.ErrNotFound.Error()}
	}
	if !rec.IsRetryable {
		r.mu.Unlock()
		return domain.RetryResult{ID: id, Error: domain.ErrNotRetryable.Error()}
	}
	source := r.sources[rec.SourceType]
	sourceID := rec.SourceID
	r.mu.Unlock()

	if source == nil {
		return domain.RetryResult{ID: id, Error: fmt.Sprintf("no source for %s", rec.SourceType)}
	}

	err := source.Retry(ctx, sourceID)

	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.records[id]
	if err == nil {
		if ok {
			delete(r.records, id)
		}
		r.logger.Info("failure retried", ports.String("id", id))
		return domain.RetryResult{ID: id, Success: true}
	}

	if ok {
		current.RetryCount++
		current.Error = err.Error()
		if kind := domain.Classify(err); kind != domain.ErrorKindUnknown {
			current.ErrorKind = kind
		}
		current.Assess()
	}
	r.logger.Warn("failure retry failed",
		ports.String("id", id),
		ports.Err(err),
	)
	return domain.RetryResult{ID: id, Error: err.Error()}
}

// RetryAll retries every retryable record in order. Non-retryable records
// are skipped and do not appear in the result.
func (r *FailureRegistry) RetryAll(ctx context.Context) []domain.RetryResult {
	var results []domain.RetryResult
	for _, rec := range r.Retryable() {
		results = append(results, r.Retry(ctx, rec.ID))
	}
	return results
}

// OnReconnect rescans and retries everything retryable without blocking.
func (r *FailureRegistry) OnReconnect(ctx context.Context) {
	r.dispatch(func() {
		r.Scan(ctx)
		results := r.RetryAll(ctx)
		if len(results) > 0 {
			r.logger.Info("reconnect retry pass finished", ports.Int("retried", len(results)))
		}
	})
}

func (r *FailureRegistry) filter(keep func(*domain.FailedOperationRecord) bool) []domain.FailedOperationRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.FailedOperationRecord, 0, len(r.records))
	for _, rec := range r.records {
		if keep(rec) {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OccurredAt.After(out[j].OccurredAt)
	})
	return out
}
