// Package repository persists alarm records. The store is assumed durable
// and crash-consistent; nothing in the core relies on in-memory state
// surviving a restart.
package repository

import (
	"context"

	"github.com/adilkt16/alarmise/internal/models"
)

// RecordStore is the durable record-store boundary (Postgres in production,
// MemoryStore in tests and storage-less runs).
type RecordStore interface {
	Get(ctx context.Context, alarmID string) (*models.AlarmRecord, error)
	Put(ctx context.Context, record *models.AlarmRecord) error
	ListByState(ctx context.Context, states ...models.AlarmState) ([]*models.AlarmRecord, error)
	// Delete removes a record. Only records in a terminal state may be
	// deleted; anything else is rejected.
	Delete(ctx context.Context, alarmID string) error

	// CommitTransition writes a record produced by WithTransition, guarded
	// by an optimistic check on the previous state. A concurrent transition
	// that got there first surfaces as ErrStaleRecord, which callers absorb
	// as a lost race.
	CommitTransition(ctx context.Context, updated *models.AlarmRecord, from models.AlarmState) error
}
