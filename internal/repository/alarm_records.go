package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/adilkt16/alarmise/internal/models"

	"go.uber.org/zap"
)

// AlarmRecordsRepository is the Postgres-backed record store
// (alarm_records table, transition log as JSONB).
type AlarmRecordsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlarmRecordsRepository creates the repository.
func NewAlarmRecordsRepository(db *sql.DB, logger *zap.Logger) *AlarmRecordsRepository {
	return &AlarmRecordsRepository{
		db:     db,
		logger: logger,
	}
}

const alarmRecordColumns = `
	alarm_id,
	label,
	start_time,
	end_time,
	puzzle_difficulty,
	is_enabled,
	state,
	transitions,
	created_at,
	scheduled_at,
	last_triggered_at,
	dismissed_at,
	expired_at`

// Get fetches a single record by alarm_id.
func (r *AlarmRecordsRepository) Get(ctx context.Context, alarmID string) (*models.AlarmRecord, error) {
	if alarmID == "" {
		return nil, fmt.Errorf("alarm_id is required")
	}

	query := `SELECT ` + alarmRecordColumns + `
		FROM alarm_records
		WHERE alarm_id = $1`

	record, err := scanAlarmRecord(r.db.QueryRowContext(ctx, query, alarmID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get alarm record: %w", err)
	}
	return record, nil
}

// Put inserts or fully replaces a record.
func (r *AlarmRecordsRepository) Put(ctx context.Context, record *models.AlarmRecord) error {
	if record.AlarmID == "" {
		return fmt.Errorf("alarm_id is required")
	}

	transitionsJSON, err := json.Marshal(record.Transitions)
	if err != nil {
		return fmt.Errorf("failed to marshal transitions: %w", err)
	}

	query := `
		INSERT INTO alarm_records (` + alarmRecordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (alarm_id) DO UPDATE SET
			label = EXCLUDED.label,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			puzzle_difficulty = EXCLUDED.puzzle_difficulty,
			is_enabled = EXCLUDED.is_enabled,
			state = EXCLUDED.state,
			transitions = EXCLUDED.transitions,
			scheduled_at = EXCLUDED.scheduled_at,
			last_triggered_at = EXCLUDED.last_triggered_at,
			dismissed_at = EXCLUDED.dismissed_at,
			expired_at = EXCLUDED.expired_at`

	_, err = r.db.ExecContext(ctx, query,
		record.AlarmID,
		record.Label,
		record.StartTime.String(),
		record.EndTime.String(),
		string(record.PuzzleDifficulty),
		record.IsEnabled,
		string(record.State),
		transitionsJSON,
		record.CreatedAt,
		record.ScheduledAt,
		record.LastTriggeredAt,
		record.DismissedAt,
		record.ExpiredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put alarm record: %w", err)
	}

	r.logger.Debug("Alarm record saved",
		zap.String("alarm_id", record.AlarmID),
		zap.String("state", string(record.State)),
	)
	return nil
}

// ListByState returns all records whose state is in the given set.
func (r *AlarmRecordsRepository) ListByState(ctx context.Context, states ...models.AlarmState) ([]*models.AlarmRecord, error) {
	if len(states) == 0 {
		return nil, fmt.Errorf("at least one state is required")
	}

	placeholders := make([]string, len(states))
	args := make([]interface{}, len(states))
	for i, state := range states {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = string(state)
	}

	query := `SELECT ` + alarmRecordColumns + `
		FROM alarm_records
		WHERE state IN (` + strings.Join(placeholders, ", ") + `)
		ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alarm records: %w", err)
	}
	defer rows.Close()

	var records []*models.AlarmRecord
	for rows.Next() {
		record, err := scanAlarmRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alarm record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alarm records: %w", err)
	}
	return records, nil
}

// Delete removes a record, but only once it is terminal.
func (r *AlarmRecordsRepository) Delete(ctx context.Context, alarmID string) error {
	if alarmID == "" {
		return fmt.Errorf("alarm_id is required")
	}

	query := `
		DELETE FROM alarm_records
		WHERE alarm_id = $1
		  AND state IN ('DISMISSED', 'EXPIRED', 'CANCELLED')`

	result, err := r.db.ExecContext(ctx, query, alarmID)
	if err != nil {
		return fmt.Errorf("failed to delete alarm record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("alarm record %s not deleted: missing or not in a terminal state", alarmID)
	}

	r.logger.Info("Alarm record deleted",
		zap.String("alarm_id", alarmID),
	)
	return nil
}

// CommitTransition persists a transitioned record with an optimistic check
// on the previous state, making withTransition atomic against the store.
func (r *AlarmRecordsRepository) CommitTransition(ctx context.Context, updated *models.AlarmRecord, from models.AlarmState) error {
	transitionsJSON, err := json.Marshal(updated.Transitions)
	if err != nil {
		return fmt.Errorf("failed to marshal transitions: %w", err)
	}

	query := `
		UPDATE alarm_records
		SET state = $1,
			transitions = $2,
			scheduled_at = $3,
			last_triggered_at = $4,
			dismissed_at = $5,
			expired_at = $6
		WHERE alarm_id = $7
		  AND state = $8`

	result, err := r.db.ExecContext(ctx, query,
		string(updated.State),
		transitionsJSON,
		updated.ScheduledAt,
		updated.LastTriggeredAt,
		updated.DismissedAt,
		updated.ExpiredAt,
		updated.AlarmID,
		string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read commit result: %w", err)
	}
	if affected == 0 {
		// Either the record is gone or another transition committed first.
		if _, getErr := r.Get(ctx, updated.AlarmID); getErr != nil {
			return getErr
		}
		return models.ErrStaleRecord
	}

	r.logger.Debug("Transition committed",
		zap.String("alarm_id", updated.AlarmID),
		zap.String("from", string(from)),
		zap.String("to", string(updated.State)),
	)
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlarmRecord(row rowScanner) (*models.AlarmRecord, error) {
	var (
		record          models.AlarmRecord
		startTime       string
		endTime         string
		difficulty      string
		state           string
		transitionsJSON []byte
	)

	err := row.Scan(
		&record.AlarmID,
		&record.Label,
		&startTime,
		&endTime,
		&difficulty,
		&record.IsEnabled,
		&state,
		&transitionsJSON,
		&record.CreatedAt,
		&record.ScheduledAt,
		&record.LastTriggeredAt,
		&record.DismissedAt,
		&record.ExpiredAt,
	)
	if err != nil {
		return nil, err
	}

	record.StartTime, err = models.ParseTimeOfDay(startTime)
	if err != nil {
		return nil, fmt.Errorf("corrupt start_time: %w", err)
	}
	record.EndTime, err = models.ParseTimeOfDay(endTime)
	if err != nil {
		return nil, fmt.Errorf("corrupt end_time: %w", err)
	}
	record.PuzzleDifficulty = models.Difficulty(difficulty)
	record.State = models.AlarmState(state)

	if len(transitionsJSON) > 0 {
		if err := json.Unmarshal(transitionsJSON, &record.Transitions); err != nil {
			return nil, fmt.Errorf("corrupt transitions log: %w", err)
		}
	}

	return &record, nil
}

// Schema is the DDL for the alarm_records table, applied by deployment
// tooling rather than the service itself.
const Schema = `
CREATE TABLE IF NOT EXISTS alarm_records (
	alarm_id          TEXT PRIMARY KEY,
	label             TEXT NOT NULL DEFAULT '',
	start_time        TEXT NOT NULL,
	end_time          TEXT NOT NULL,
	puzzle_difficulty TEXT NOT NULL,
	is_enabled        BOOLEAN NOT NULL DEFAULT TRUE,
	state             TEXT NOT NULL,
	transitions       JSONB NOT NULL DEFAULT '[]',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	scheduled_at      TIMESTAMPTZ,
	last_triggered_at TIMESTAMPTZ,
	dismissed_at      TIMESTAMPTZ,
	expired_at        TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_alarm_records_state ON alarm_records (state);
`

var _ RecordStore = (*AlarmRecordsRepository)(nil)
