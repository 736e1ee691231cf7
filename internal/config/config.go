package config

import (
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

// Config centralizes environment variables and game parameters.
type Config struct {
	Env         string // "local", "dev", "prod"
	ServiceName string

	Port        string
	MetricsPort string

	// Kafka settlement stream; disabled when brokers are empty.
	KafkaBrokers string
	KafkaTopic   string

	// Round engine parameters.
	WaitingTime  time.Duration
	TickInterval time.Duration
	Cooldown     time.Duration
	MinBet       float64
	MaxBet       float64
}

func Load() Config {
	return Config{
		Env:         getEnv("ENV", "local"),
		ServiceName: getEnv("SERVICE_NAME", "crashd"),

		Port:        getEnv("PORT", "8080"),
		MetricsPort: getEnv("METRICS_PORT", "9095"),

		KafkaBrokers: getEnv("KAFKA_BROKERS", ""),
		KafkaTopic:   getEnv("KAFKA_TOPIC_CRASH_EVENTS", "crash_events"),

		WaitingTime:  getEnvAsDuration("CRASH_WAITING_TIME", 10*time.Second),
		TickInterval: getEnvAsDuration("CRASH_TICK_INTERVAL", 100*time.Millisecond),
		Cooldown:     getEnvAsDuration("CRASH_COOLDOWN", 3*time.Second),
		MinBet:       getEnvAsFloat("CRASH_MIN_BET", 1.0),
		MaxBet:       getEnvAsFloat("CRASH_MAX_BET", 10000.0),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
