package server

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"crashd/internal/cache"
	"crashd/internal/config"
	"crashd/internal/crash"
	"crashd/internal/database"
	"crashd/internal/stream"
)

type FiberServer struct {
	*fiber.App

	cfg   config.Config
	log   *zap.Logger
	db    database.Service
	cache cache.Service

	store  *crash.PostgresStore
	engine *crash.Engine
	hub    *crash.Hub
	stream *stream.Publisher
}

func New(cfg config.Config, log *zap.Logger) *FiberServer {
	db := database.New()
	redisService := cache.New(log)

	store := crash.NewPostgresStore(db.Pool())
	hub := crash.NewHub(log)

	sinks := []crash.EventSink{hub}
	var publisher *stream.Publisher
	if cfg.KafkaBrokers != "" {
		publisher = stream.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		sinks = append(sinks, publisher)
	}

	engine := crash.NewEngine(store, crash.Config{
		WaitingTime:  cfg.WaitingTime,
		TickInterval: cfg.TickInterval,
		Cooldown:     cfg.Cooldown,
		MinBet:       cfg.MinBet,
		MaxBet:       cfg.MaxBet,
	}, log, sinks...)

	if redisService != nil {
		engine.SetSnapshotCache(crash.NewRedisRoundCache(redisService.GetClient()))
	}

	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "crashd",
			AppName:       "crashd",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
		}),

		cfg:    cfg,
		log:    log,
		db:     db,
		cache:  redisService,
		store:  store,
		engine: engine,
		hub:    hub,
		stream: publisher,
	}

	server.App.Use(recover.New())
	server.App.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
	}))

	go hub.Run()
	engine.Start()

	log.Info("round engine started")

	return server
}

// Shutdown stops the round engine and closes connections. The HTTP listener
// itself is shut down by the caller.
func (s *FiberServer) Shutdown() error {
	s.log.Info("shutting down")

	if s.engine != nil {
		s.engine.Stop()
	}
	if s.stream != nil {
		if err := s.stream.Close(); err != nil {
			s.log.Warn("closing event stream", zap.Error(err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.log.Warn("closing redis", zap.Error(err))
		}
	}
	if s.db != nil {
		s.db.Close()
	}
	return nil
}

// Health aggregates component health for the metrics server and /health.
func (s *FiberServer) Health() fiber.Map {
	health := fiber.Map{
		"game": fiber.Map{
			"status":            "running",
			"connected_clients": s.hub.ClientCount(),
		},
	}
	if s.db != nil {
		health["database"] = s.db.Health()
	}
	if s.cache != nil {
		health["cache"] = s.cache.Health()
	}
	return health
}
