// Package session keeps the runtime alarm session (current puzzle, retry
// counts) in Redis so a restarted process can resume a sounding alarm.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adilkt16/alarmise/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Store reads and writes AlarmSession blobs under a configurable key prefix.
// Entries carry a TTL bounded by the wake-lock ceiling, so an orphaned
// session can never outlive the hard safety window.
type Store struct {
	redisClient *redis.Client
	keyPrefix   string
	ttl         time.Duration
	logger      *zap.Logger
}

// NewStore creates a session store.
func NewStore(redisClient *redis.Client, keyPrefix string, ttl time.Duration, logger *zap.Logger) *Store {
	return &Store{
		redisClient: redisClient,
		keyPrefix:   keyPrefix,
		ttl:         ttl,
		logger:      logger,
	}
}

// Key builds the session key for an alarm.
func (s *Store) Key(alarmID string) string {
	return s.keyPrefix + alarmID
}

// Save writes the session, resetting its TTL.
func (s *Store) Save(ctx context.Context, sess *models.AlarmSession) error {
	jsonData, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := s.redisClient.Set(ctx, s.Key(sess.AlarmID), jsonData, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	s.logger.Debug("Alarm session saved",
		zap.String("alarm_id", sess.AlarmID),
		zap.Int("wrong_answers", sess.WrongAnswers),
	)
	return nil
}

// Get loads the session for an alarm.
func (s *Store) Get(ctx context.Context, alarmID string) (*models.AlarmSession, error) {
	val, err := s.redisClient.Get(ctx, s.Key(alarmID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, models.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var sess models.AlarmSession
	if err := json.Unmarshal([]byte(val), &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sess, nil
}

// Delete removes the session. Deleting a missing session is a no-op.
func (s *Store) Delete(ctx context.Context, alarmID string) error {
	if err := s.redisClient.Del(ctx, s.Key(alarmID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Exists reports whether a session is stored for the alarm.
func (s *Store) Exists(ctx context.Context, alarmID string) (bool, error) {
	count, err := s.redisClient.Exists(ctx, s.Key(alarmID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check session existence: %w", err)
	}
	return count > 0, nil
}
