package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// GetDSN builds the lib/pq connection string.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig holds broker settings for the presentation bridge.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// Config is the full alarm service configuration.
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig

	Alarm struct {
		// SoundSources is the ordered playback fallback chain
		// (primary alarm tone, notification tone, ringtone).
		SoundSources []string
		// FadeInSeconds / FadeInSteps shape the optional volume ramp.
		FadeInSeconds int
		FadeInSteps   int
		// MaxPlaybackRetries bounds automatic playback recovery.
		MaxPlaybackRetries int
		// WakeCeilingMinutes is the hard safety bound on how long a
		// session may hold the device awake, independent of end time.
		WakeCeilingMinutes int
		// SessionKeyPrefix is the Redis key prefix for runtime sessions.
		SessionKeyPrefix string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "alarmise")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "alarmise")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = byte(getEnvInt("MQTT_QOS", 1))

	cfg.Alarm.SoundSources = getEnvList("ALARM_SOUND_SOURCES",
		[]string{"system://alarm", "system://notification", "system://ringtone"})
	cfg.Alarm.FadeInSeconds = getEnvInt("ALARM_FADE_IN_SECONDS", 3)
	cfg.Alarm.FadeInSteps = getEnvInt("ALARM_FADE_IN_STEPS", 30)
	cfg.Alarm.MaxPlaybackRetries = getEnvInt("ALARM_MAX_PLAYBACK_RETRIES", 5)
	cfg.Alarm.WakeCeilingMinutes = getEnvInt("ALARM_WAKE_CEILING_MINUTES", 60)
	cfg.Alarm.SessionKeyPrefix = getEnv("ALARM_SESSION_KEY_PREFIX", "alarm:session:")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
