// Package cache provides an in-memory reactive cache implementing the cache
// ports. It is used when the sync core runs as a stand-alone daemon and in
// tests.
package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bft-labs/fieldsync/internal/domain"
	"github.com/bft-labs/fieldsync/internal/ports"
)

// Fetcher loads the current value of a cache key from the backend.
type Fetcher func(ctx context.Context, key domain.Key) (domain.Payload, error)

// MutationFunc runs a cache-level mutation.
type MutationFunc func(ctx context.Context) error

type entry struct {
	key   domain.Key
	value domain.Payload
	stale bool
}

type pausedMutation struct {
	id     string
	key    domain.Key
	action string
	vars   domain.Payload
	run    MutationFunc
}

// Memory is a reactive cache held in process memory.
type Memory struct {
	mu              sync.Mutex
	entries         map[string]*entry
	paused          []pausedMutation
	mutations       map[string]pausedMutation
	failedMutations map[string]ports.CacheFailure
	failedQueries   map[string]ports.CacheFailure
	invalidations   []domain.Key

	fetch Fetcher
	now   func() time.Time
}

// Option configures Memory.
type Option func(*Memory)

// WithFetcher sets the function used to refetch stale keys.
func WithFetcher(f Fetcher) Option {
	return func(m *Memory) { m.fetch = f }
}

// WithNow sets the time source used to stamp failures.
func WithNow(now func() time.Time) Option {
	return func(m *Memory) { m.now = now }
}

// NewMemory creates an empty cache.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		entries:         make(map[string]*entry),
		mutations:       make(map[string]pausedMutation),
		failedMutations: make(map[string]ports.CacheFailure),
		failedQueries:   make(map[string]ports.CacheFailure),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns a copy of the entry under key.
func (m *Memory) Get(key domain.Key) (domain.Payload, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key.String()]
	if !ok {
		return nil, false
	}
	return e.value.Clone(), true
}

// Set replaces the entry under key.
func (m *Memory) Set(key domain.Key, value domain.Payload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key.String()] = &entry{key: key, value: value.Clone()}
}

// Update replaces the entry under key with fn(current).
func (m *Memory) Update(key domain.Key, fn func(current domain.Payload) domain.Payload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var current domain.Payload
	if e, ok := m.entries[key.String()]; ok {
		current = e.value.Clone()
	}
	m.entries[key.String()] = &entry{key: key, value: fn(current).Clone()}
}

// Invalidate marks every entry under the prefix stale.
func (m *Memory) Invalidate(prefix domain.Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidations = append(m.invalidations, append(domain.Key(nil), prefix...))
	for _, e := range m.entries {
		if e.key.HasPrefix(prefix) {
			e.stale = true
		}
	}
}

// Remove deletes the entry under key.
func (m *Memory) Remove(key domain.Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key.String())
}

// Invalidations returns every prefix passed to Invalidate, oldest first.
func (m *Memory) Invalidations() []domain.Key {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Key(nil), m.invalidations...)
}

// IsStale reports whether the entry under key is awaiting a refetch.
func (m *Memory) IsStale(key domain.Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key.String()]
	return ok && e.stale
}

// PauseMutation records a mutation to run when connectivity returns.
func (m *Memory) PauseMutation(id string, key domain.Key, action string, vars domain.Payload, run MutationFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pm := pausedMutation{id: id, key: key, action: action, vars: vars.Clone(), run: run}
	m.paused = append(m.paused, pm)
	m.mutations[id] = pm
}

// PausedMutations returns the number of mutations waiting to resume.
func (m *Memory) PausedMutations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.paused)
}

// ResumePausedMutations runs every paused mutation in order. Failures are
// recorded as failed mutations; the first error is returned.
func (m *Memory) ResumePausedMutations(ctx context.Context) error {
	m.mu.Lock()
	paused := m.paused
	m.paused = nil
	m.mu.Unlock()

	var first error
	for _, pm := range paused {
		if err := m.runMutation(ctx, pm); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// RefetchStale refetches every stale entry. Without a fetcher the stale flag
// is simply cleared.
func (m *Memory) RefetchStale(ctx context.Context) error {
	m.mu.Lock()
	var keys []domain.Key
	for _, e := range m.entries {
		if e.stale {
			keys = append(keys, e.key)
		}
	}
	m.mu.Unlock()

	var first error
	for _, key := range keys {
		if err := m.refetch(ctx, key.String(), key); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// FailedMutations returns failed mutations ordered by failure time.
func (m *Memory) FailedMutations() []ports.CacheFailure {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedFailures(m.failedMutations)
}

// FailedQueries returns failed queries ordered by failure time.
func (m *Memory) FailedQueries() []ports.CacheFailure {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedFailures(m.failedQueries)
}

// RecordQueryFailure marks the query under key as failed.
func (m *Memory) RecordQueryFailure(key domain.Key, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordLocked(m.failedQueries, ports.CacheFailure{ID: key.String(), Key: key, Action: "fetch", Err: err})
}

// RetryMutation re-runs the failed mutation with the given id.
func (m *Memory) RetryMutation(ctx context.Context, id string) error {
	m.mu.Lock()
	pm, ok := m.mutations[id]
	_, failed := m.failedMutations[id]
	m.mu.Unlock()
	if !ok || !failed {
		return fmt.Errorf("mutation %s: %w", id, domain.ErrNotFound)
	}
	return m.runMutation(ctx, pm)
}

// RefetchQuery re-runs the failed query with the given id.
func (m *Memory) RefetchQuery(ctx context.Context, id string) error {
	m.mu.Lock()
	f, ok := m.failedQueries[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("query %s: %w", id, domain.ErrNotFound)
	}
	return m.refetch(ctx, id, f.Key)
}

func (m *Memory) runMutation(ctx context.Context, pm pausedMutation) error {
	var err error
	if pm.run != nil {
		err = pm.run(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.recordLocked(m.failedMutations, ports.CacheFailure{
			ID: pm.id, Key: pm.key, Action: pm.action, Err: err, Variables: pm.vars,
		})
		return err
	}
	delete(m.failedMutations, pm.id)
	delete(m.mutations, pm.id)
	return nil
}

func (m *Memory) refetch(ctx context.Context, id string, key domain.Key) error {
	var (
		value domain.Payload
		err   error
	)
	if m.fetch != nil {
		value, err = m.fetch(ctx, key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.recordLocked(m.failedQueries, ports.CacheFailure{ID: id, Key: key, Action: "fetch", Err: err})
		return err
	}
	delete(m.failedQueries, id)
	if e, ok := m.entries[key.String()]; ok {
		e.stale = false
		if value != nil {
			e.value = value.Clone()
		}
	}
	return nil
}

func (m *Memory) recordLocked(set map[string]ports.CacheFailure, f ports.CacheFailure) {
	if prev, ok := set[f.ID]; ok {
		f.FailCount = prev.FailCount
	}
	f.FailCount++
	f.FailedAt = m.now()
	set[f.ID] = f
}

func sortedFailures(set map[string]ports.CacheFailure) []ports.CacheFailure {
	out := make([]ports.CacheFailure, 0, len(set))
	for _, f := range set {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FailedAt.Equal(out[j].FailedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].FailedAt.Before(out[j].FailedAt)
	})
	return out
}
