package session

import (
	"context"
	"testing"
	"time"

	"github.com/adilkt16/alarmise/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStore(client, "alarmise:session:", ttl, zap.NewNop()), mr
}

func sampleSession(alarmID string) *models.AlarmSession {
	now := time.Now().Truncate(time.Second)
	return &models.AlarmSession{
		AlarmID: alarmID,
		Puzzle: models.MathPuzzle{
			Question:   "What is 3 + 4?",
			Answer:     7,
			Difficulty: models.DifficultyEasy,
		},
		WrongAnswers: 2,
		StartedAt:    now,
		AutoStopAt:   now.Add(45 * time.Minute),
		FadeIn:       true,
	}
}

func TestSaveAndGet(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	ctx := context.Background()

	sess := sampleSession("alarm-1")
	require.NoError(t, store.Save(ctx, sess))

	got, err := store.Get(ctx, "alarm-1")
	require.NoError(t, err)

	assert.Equal(t, sess.AlarmID, got.AlarmID)
	assert.Equal(t, sess.Puzzle, got.Puzzle)
	assert.Equal(t, 2, got.WrongAnswers)
	assert.True(t, got.FadeIn)
	assert.True(t, sess.StartedAt.Equal(got.StartedAt))
	assert.True(t, sess.AutoStopAt.Equal(got.AutoStopAt))
}

func TestGet_Missing(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)

	_, err := store.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestSave_SetsTTL(t *testing.T) {
	store, mr := newTestStore(t, 30*time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleSession("alarm-1")))
	assert.Equal(t, 30*time.Minute, mr.TTL(store.Key("alarm-1")))
}

func TestSave_ResetsTTLOnRewrite(t *testing.T) {
	store, mr := newTestStore(t, 30*time.Minute)
	ctx := context.Background()

	sess := sampleSession("alarm-1")
	require.NoError(t, store.Save(ctx, sess))
	mr.FastForward(20 * time.Minute)

	// A puzzle refresh rewrites the session and pushes the expiry out again.
	sess.WrongAnswers++
	require.NoError(t, store.Save(ctx, sess))
	assert.Equal(t, 30*time.Minute, mr.TTL(store.Key("alarm-1")))
}

func TestSessionExpiresAtTTL(t *testing.T) {
	store, mr := newTestStore(t, 30*time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleSession("alarm-1")))
	mr.FastForward(31 * time.Minute)

	_, err := store.Get(ctx, "alarm-1")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestDelete(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleSession("alarm-1")))
	require.NoError(t, store.Delete(ctx, "alarm-1"))

	_, err := store.Get(ctx, "alarm-1")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)

	// Deleting again is a no-op.
	assert.NoError(t, store.Delete(ctx, "alarm-1"))
}

func TestExists(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	ctx := context.Background()

	ok, err := store.Exists(ctx, "alarm-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Save(ctx, sampleSession("alarm-1")))

	ok, err = store.Exists(ctx, "alarm-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestKeyPrefix(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	assert.Equal(t, "alarmise:session:alarm-1", store.Key("alarm-1"))
}
