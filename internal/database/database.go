package database

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/joho/godotenv/autoload"
)

// Service wraps the Postgres connection pool used by the round store.
type Service interface {
	Pool() *pgxpool.Pool
	Health() map[string]string
	Close()
}

type service struct {
	pool *pgxpool.Pool
}

var (
	database   = getEnv("CRASHD_DB_DATABASE", "crashdb")
	password   = getEnv("CRASHD_DB_PASSWORD", "postgres")
	username   = getEnv("CRASHD_DB_USERNAME", "postgres")
	port       = getEnv("CRASHD_DB_PORT", "5432")
	host       = getEnv("CRASHD_DB_HOST", "localhost")
	schema     = getEnv("CRASHD_DB_SCHEMA", "public")
	dbInstance *service
)

func New() Service {
	if dbInstance != nil {
		return dbInstance
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, ConnectionString())
	if err != nil {
		log.Fatalf("Unable to create connection pool: %v", err)
	}

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("Unable to reach database: %v", err)
	}

	dbInstance = &service{pool: pool}
	return dbInstance
}

// ConnectionString builds the Postgres DSN from the environment.
func ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		username, password, host, port, database, schema)
}

func (s *service) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	if err := s.pool.Ping(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		return stats
	}

	stats["status"] = "up"
	stats["message"] = "Postgres is healthy"

	poolStats := s.pool.Stat()
	stats["total_conns"] = strconv.FormatInt(int64(poolStats.TotalConns()), 10)
	stats["idle_conns"] = strconv.FormatInt(int64(poolStats.IdleConns()), 10)
	stats["acquired_conns"] = strconv.FormatInt(int64(poolStats.AcquiredConns()), 10)
	stats["acquire_count"] = strconv.FormatInt(poolStats.AcquireCount(), 10)

	return stats
}

func (s *service) Close() {
	log.Println("Disconnecting from database")
	s.pool.Close()
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
