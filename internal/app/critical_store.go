package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/goccy/go-json"

	"github.com/bft-labs/fieldsync/internal/domain"
	"github.com/bft-labs/fieldsync/internal/ports"
)

// CriticalStorageKey is the durable key holding the critical operation list.
const CriticalStorageKey = "fieldsync.critical_operations"

// criticalStore serializes read-modify-write access to the durable critical
// list. When durable storage fails it keeps working from memory and logs a
// warning.
type criticalStore struct {
	durable ports.DurableStore
	logger  ports.Logger

	mu       sync.Mutex
	records  []domain.CriticalRecord
	degraded bool
}

func newCriticalStore(durable ports.DurableStore, logger ports.Logger) *criticalStore {
	return &criticalStore{durable: durable, logger: logger}
}

// EncodeCriticalRecords renders records in their persisted JSON form.
func EncodeCriticalRecords(records []domain.CriticalRecord) (string, error) {
	if records == nil {
		records = []domain.CriticalRecord{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("encode critical operations: %w", err)
	}
	return string(data), nil
}

// DecodeCriticalRecords parses the persisted JSON form.
func DecodeCriticalRecords(raw string) ([]domain.CriticalRecord, error) {
	if raw == "" {
		return nil, nil
	}
	var records []domain.CriticalRecord
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, fmt.Errorf("decode critical operations: %w", err)
	}
	return records, nil
}

// Load reads the durable list and makes it the in-memory list.
func (s *criticalStore) Load(ctx context.Context) []domain.CriticalRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readLocked(ctx)
	if err != nil {
		s.degradeLocked("load", err)
		return cloneRecords(s.records)
	}
	s.records = records
	return cloneRecords(records)
}

// Append adds rec, replacing any record with the same id.
func (s *criticalStore) Append(ctx context.Context, rec domain.CriticalRecord) {
	s.modify(ctx, "append", func(records []domain.CriticalRecord) []domain.CriticalRecord {
		out := removeRecord(records, rec.ID)
		return append(out, rec)
	})
}

// Remove drops the record with id.
func (s *criticalStore) Remove(ctx context.Context, id string) {
	s.modify(ctx, "remove", func(records []domain.CriticalRecord) []domain.CriticalRecord {
		return removeRecord(records, id)
	})
}

// List returns the in-memory list.
func (s *criticalStore) List() []domain.CriticalRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRecords(s.records)
}

// Degraded reports whether durable storage has failed.
func (s *criticalStore) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

func (s *criticalStore) modify(ctx context.Context, op string, fn func([]domain.CriticalRecord) []domain.CriticalRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// While degraded the in-memory list is authoritative.
	base, err := s.readLocked(ctx)
	switch {
	case err != nil:
		s.degradeLocked(op, err)
		base = s.records
	case s.degraded:
		base = s.records
	}
	next := fn(cloneRecords(base))
	s.records = next

	raw, err := EncodeCriticalRecords(next)
	if err == nil {
		err = s.durable.SetItem(ctx, CriticalStorageKey, raw)
	}
	if err != nil {
		s.degradeLocked(op, err)
		return
	}
	if s.degraded {
		s.logger.Info("durable storage recovered")
		s.degraded = false
	}
}

func (s *criticalStore) readLocked(ctx context.Context) ([]domain.CriticalRecord, error) {
	raw, ok, err := s.durable.GetItem(ctx, CriticalStorageKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return DecodeCriticalRecords(raw)
}

func (s *criticalStore) degradeLocked(op string, err error) {
	s.degraded = true
	s.logger.Warn("durable storage unavailable, keeping critical operations in memory",
		ports.String("op", op),
		ports.Err(err),
	)
}

func removeRecord(records []domain.CriticalRecord, id string) []domain.CriticalRecord {
	out := records[:0]
	for _, r := range records {
		if r.ID != id {
			out = append(out, r)
		}
	}
	return out
}

func cloneRecords(records []domain.CriticalRecord) []domain.CriticalRecord {
	if records == nil {
		return nil
	}
	return append([]domain.CriticalRecord(nil), records...)
}
