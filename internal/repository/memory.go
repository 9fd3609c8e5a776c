package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/adilkt16/alarmise/internal/models"
)

// MemoryStore is an in-memory RecordStore used in tests and when the service
// runs without a database. It mirrors the Postgres repository's semantics,
// including the optimistic transition check.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.AlarmRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: map[string]*models.AlarmRecord{},
	}
}

func (s *MemoryStore) Get(_ context.Context, alarmID string) (*models.AlarmRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[alarmID]
	if !ok {
		return nil, models.ErrRecordNotFound
	}
	c := clone(record)
	return &c, nil
}

func (s *MemoryStore) Put(_ context.Context, record *models.AlarmRecord) error {
	if record.AlarmID == "" {
		return fmt.Errorf("alarm_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := clone(record)
	s.records[record.AlarmID] = &c
	return nil
}

func (s *MemoryStore) ListByState(_ context.Context, states ...models.AlarmState) ([]*models.AlarmRecord, error) {
	if len(states) == 0 {
		return nil, fmt.Errorf("at least one state is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.AlarmRecord
	for _, record := range s.records {
		for _, state := range states {
			if record.State == state {
				c := clone(record)
				result = append(result, &c)
				break
			}
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) Delete(_ context.Context, alarmID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[alarmID]
	if !ok || !record.State.IsTerminal() {
		return fmt.Errorf("alarm record %s not deleted: missing or not in a terminal state", alarmID)
	}
	delete(s.records, alarmID)
	return nil
}

func (s *MemoryStore) CommitTransition(_ context.Context, updated *models.AlarmRecord, from models.AlarmState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[updated.AlarmID]
	if !ok {
		return models.ErrRecordNotFound
	}
	if current.State != from {
		return models.ErrStaleRecord
	}
	c := clone(updated)
	s.records[updated.AlarmID] = &c
	return nil
}

// clone deep-copies a record so callers never share the stored slice.
func clone(record *models.AlarmRecord) models.AlarmRecord {
	c := *record
	c.Transitions = append([]models.TransitionRecord(nil), record.Transitions...)
	return c
}

var _ RecordStore = (*MemoryStore)(nil)
