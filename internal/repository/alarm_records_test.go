package repository

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"testing"
	"time"

	"github.com/adilkt16/alarmise/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var recordColumns = []string{
	"alarm_id", "label", "start_time", "end_time", "puzzle_difficulty",
	"is_enabled", "state", "transitions", "created_at", "scheduled_at",
	"last_triggered_at", "dismissed_at", "expired_at",
}

func newMockRepo(t *testing.T) (*AlarmRecordsRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewAlarmRecordsRepository(db, zap.NewNop()), mock
}

func sampleRow(t *testing.T, alarmID string, state models.AlarmState) []driver.Value {
	t.Helper()
	transitions, err := json.Marshal([]models.TransitionRecord{
		{From: models.StateCreated, To: models.StateScheduled, Timestamp: time.Now(), Reason: "timers registered"},
	})
	require.NoError(t, err)
	return []driver.Value{
		alarmID, "wake up", "09:00", "09:45", "EASY",
		true, string(state), transitions, time.Now(), nil,
		nil, nil, nil,
	}
}

func TestGet_ReturnsRecord(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM alarm_records").
		WithArgs("alarm-1").
		WillReturnRows(sqlmock.NewRows(recordColumns).AddRow(sampleRow(t, "alarm-1", models.StateScheduled)...))

	record, err := repo.Get(context.Background(), "alarm-1")
	require.NoError(t, err)

	assert.Equal(t, "alarm-1", record.AlarmID)
	assert.Equal(t, models.StateScheduled, record.State)
	assert.Equal(t, "09:00", record.StartTime.String())
	assert.Equal(t, "09:45", record.EndTime.String())
	assert.Equal(t, models.DifficultyEasy, record.PuzzleDifficulty)
	require.Len(t, record.Transitions, 1)
	assert.Equal(t, models.StateScheduled, record.Transitions[0].To)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM alarm_records").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(recordColumns))

	_, err := repo.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, models.ErrRecordNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_EmptyID(t *testing.T) {
	repo, _ := newMockRepo(t)
	_, err := repo.Get(context.Background(), "")
	assert.Error(t, err)
}

func TestPut_UpsertsRecord(t *testing.T) {
	repo, mock := newMockRepo(t)

	start, err := models.ParseTimeOfDay("23:30")
	require.NoError(t, err)
	end, err := models.ParseTimeOfDay("00:15")
	require.NoError(t, err)
	record := models.NewAlarmRecord("alarm-1", "night shift", start, end, models.DifficultyMedium)

	mock.ExpectExec("INSERT INTO alarm_records").
		WithArgs(
			"alarm-1", "night shift", "23:30", "00:15", "MEDIUM",
			true, "CREATED", sqlmock.AnyArg(), sqlmock.AnyArg(), nil,
			nil, nil, nil,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Put(context.Background(), record))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListByState_FiltersAndOrders(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM alarm_records").
		WithArgs("SCHEDULED", "ACTIVE").
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow(sampleRow(t, "alarm-1", models.StateScheduled)...).
			AddRow(sampleRow(t, "alarm-2", models.StateActive)...))

	records, err := repo.ListByState(context.Background(), models.StateScheduled, models.StateActive)
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, "alarm-1", records[0].AlarmID)
	assert.Equal(t, models.StateActive, records[1].State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListByState_NoStates(t *testing.T) {
	repo, _ := newMockRepo(t)
	_, err := repo.ListByState(context.Background())
	assert.Error(t, err)
}

func TestDelete_TerminalRecord(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("DELETE FROM alarm_records").
		WithArgs("alarm-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, repo.Delete(context.Background(), "alarm-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete_NonTerminalRecordRefused(t *testing.T) {
	repo, mock := newMockRepo(t)

	// The state guard in the WHERE clause matches nothing.
	mock.ExpectExec("DELETE FROM alarm_records").
		WithArgs("alarm-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.Error(t, repo.Delete(context.Background(), "alarm-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitTransition_Success(t *testing.T) {
	repo, mock := newMockRepo(t)

	start, err := models.ParseTimeOfDay("09:00")
	require.NoError(t, err)
	end, err := models.ParseTimeOfDay("09:45")
	require.NoError(t, err)
	record := models.NewAlarmRecord("alarm-1", "wake up", start, end, models.DifficultyEasy)
	updated, err := record.WithTransition(models.StateScheduled, "timers registered", time.Now())
	require.NoError(t, err)

	mock.ExpectExec("UPDATE alarm_records").
		WithArgs(
			"SCHEDULED", sqlmock.AnyArg(), updated.ScheduledAt, nil,
			nil, nil, "alarm-1", "CREATED",
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.CommitTransition(context.Background(), updated, models.StateCreated))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitTransition_StaleRecord(t *testing.T) {
	repo, mock := newMockRepo(t)

	start, err := models.ParseTimeOfDay("09:00")
	require.NoError(t, err)
	end, err := models.ParseTimeOfDay("09:45")
	require.NoError(t, err)
	record := models.NewAlarmRecord("alarm-1", "wake up", start, end, models.DifficultyEasy)
	scheduled, err := record.WithTransition(models.StateScheduled, "timers registered", time.Now())
	require.NoError(t, err)
	active, err := scheduled.WithTransition(models.StateActive, "start timer fired", time.Now())
	require.NoError(t, err)
	dismissed, err := active.WithTransition(models.StateDismissed, "puzzle solved", time.Now())
	require.NoError(t, err)

	// Another transition won the race: zero rows match the optimistic state
	// check, but the record still exists.
	mock.ExpectExec("UPDATE alarm_records").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM alarm_records").
		WithArgs("alarm-1").
		WillReturnRows(sqlmock.NewRows(recordColumns).AddRow(sampleRow(t, "alarm-1", models.StateExpired)...))

	err = repo.CommitTransition(context.Background(), dismissed, models.StateActive)
	assert.ErrorIs(t, err, models.ErrStaleRecord)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitTransition_RecordGone(t *testing.T) {
	repo, mock := newMockRepo(t)

	start, err := models.ParseTimeOfDay("09:00")
	require.NoError(t, err)
	end, err := models.ParseTimeOfDay("09:45")
	require.NoError(t, err)
	record := models.NewAlarmRecord("alarm-1", "wake up", start, end, models.DifficultyEasy)
	updated, err := record.WithTransition(models.StateScheduled, "timers registered", time.Now())
	require.NoError(t, err)

	mock.ExpectExec("UPDATE alarm_records").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM alarm_records").
		WithArgs("alarm-1").
		WillReturnRows(sqlmock.NewRows(recordColumns))

	err = repo.CommitTransition(context.Background(), updated, models.StateCreated)
	assert.ErrorIs(t, err, models.ErrRecordNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
