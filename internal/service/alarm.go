package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/adilkt16/alarmise/internal/config"
	"github.com/adilkt16/alarmise/internal/coordinator"
	"github.com/adilkt16/alarmise/internal/models"
	"github.com/adilkt16/alarmise/internal/notifier"
	"github.com/adilkt16/alarmise/internal/playback"
	"github.com/adilkt16/alarmise/internal/puzzle"
	"github.com/adilkt16/alarmise/internal/repository"
	"github.com/adilkt16/alarmise/internal/scheduler"
	"github.com/adilkt16/alarmise/internal/session"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// AlarmService wires the full stack: record store, timers, playback,
// sessions, presentation bridge and the lifecycle coordinator.
type AlarmService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger

	timers      *scheduler.InProcessTimer
	engine      *playback.Engine
	mqtt        *notifier.MQTTNotifier
	coordinator *coordinator.Coordinator
}

// NewAlarmService connects the external collaborators and assembles the
// service. The audio output is the platform adapter boundary; with none
// bound the logging NopOutput is used.
func NewAlarmService(cfg *config.Config, logger *zap.Logger) (*AlarmService, error) {
	db, err := sql.Open("postgres", cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	mqttNotifier, err := notifier.NewMQTTNotifier(
		cfg.MQTT.Broker,
		cfg.MQTT.ClientID,
		cfg.MQTT.Username,
		cfg.MQTT.Password,
		cfg.MQTT.QoS,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect notifier: %w", err)
	}

	records := repository.NewAlarmRecordsRepository(db, logger)

	wakeCeiling := time.Duration(cfg.Alarm.WakeCeilingMinutes) * time.Minute
	sessions := session.NewStore(redisClient, cfg.Alarm.SessionKeyPrefix, wakeCeiling, logger)

	timers := scheduler.NewInProcessTimer(logger)
	sched := scheduler.New(timers, logger)

	engineOpts := playback.Options{
		Sources:        cfg.Alarm.SoundSources,
		FadeInDuration: time.Duration(cfg.Alarm.FadeInSeconds) * time.Second,
		FadeInSteps:    cfg.Alarm.FadeInSteps,
		MaxRetries:     cfg.Alarm.MaxPlaybackRetries,
		RetryBackoff:   500 * time.Millisecond,
	}
	engine := playback.NewEngine(playback.NewNopOutput(logger), engineOpts, logger)

	coord := coordinator.New(
		records,
		sched,
		engine,
		puzzle.New(),
		sessions,
		mqttNotifier,
		wakeCeiling,
		logger,
	)
	timers.SetHandler(coord.HandleTimerFired)

	return &AlarmService{
		config:      cfg,
		db:          db,
		redisClient: redisClient,
		logger:      logger,
		timers:      timers,
		engine:      engine,
		mqtt:        mqttNotifier,
		coordinator: coord,
	}, nil
}

// Start runs the recovery pass, subscribes for dismiss requests, and blocks
// until the context is cancelled.
func (s *AlarmService) Start(ctx context.Context) error {
	s.logger.Info("Starting alarm service")

	if err := s.coordinator.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover alarms: %w", err)
	}

	if err := s.mqtt.SubscribeDismiss(func(alarmID string, answer int) {
		if _, err := s.coordinator.HandleDismissRequested(context.Background(), alarmID, answer); err != nil {
			s.logger.Error("Failed to handle dismiss request",
				zap.String("alarm_id", alarmID),
				zap.Error(err),
			)
		}
	}); err != nil {
		return fmt.Errorf("failed to subscribe for dismiss requests: %w", err)
	}

	<-ctx.Done()
	s.logger.Info("Alarm service context cancelled")
	return nil
}

// Stop releases every resource. Safe to call after a failed Start.
func (s *AlarmService) Stop() error {
	s.logger.Info("Stopping alarm service")

	s.timers.Stop()

	if err := s.engine.Stop(); err != nil {
		s.logger.Error("Failed to stop playback engine",
			zap.Error(err),
		)
	}

	s.mqtt.Close()

	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database",
			zap.Error(err),
		)
	}
	if err := s.redisClient.Close(); err != nil {
		s.logger.Error("Failed to close redis",
			zap.Error(err),
		)
	}
	return nil
}

// CreateAlarm is the configuration-flow entrypoint: it validates the window,
// builds a CREATED record, and arms it (forcing any other occupying alarm to
// CANCELLED first).
func (s *AlarmService) CreateAlarm(ctx context.Context, label, startTime, endTime string, difficulty models.Difficulty) (*models.AlarmRecord, error) {
	start, err := models.ParseTimeOfDay(startTime)
	if err != nil {
		return nil, &models.ValidationError{Field: "start_time", Reason: err.Error()}
	}
	end, err := models.ParseTimeOfDay(endTime)
	if err != nil {
		return nil, &models.ValidationError{Field: "end_time", Reason: err.Error()}
	}

	record := models.NewAlarmRecord(uuid.NewString(), label, start, end, difficulty)
	if _, _, err := s.coordinator.ScheduleAlarm(ctx, record); err != nil {
		return nil, err
	}

	s.logger.Info("Alarm created",
		zap.String("alarm_id", record.AlarmID),
		zap.String("start_time", start.String()),
		zap.String("end_time", end.String()),
		zap.String("difficulty", string(difficulty)),
	)
	return record, nil
}

// CancelAlarm cancels a scheduled or active alarm.
func (s *AlarmService) CancelAlarm(ctx context.Context, alarmID string) error {
	return s.coordinator.CancelAlarm(ctx, alarmID)
}
