package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/characterhub/api/internal/client"
	"github.com/characterhub/api/internal/config"
	"github.com/characterhub/api/internal/handler"
	"github.com/characterhub/api/internal/middleware"
	"github.com/characterhub/api/internal/model"
	"github.com/characterhub/api/internal/queue"
	"github.com/characterhub/api/internal/service"
	"github.com/characterhub/api/internal/sse"
	"github.com/characterhub/api/internal/store"
	"github.com/characterhub/api/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := newLogger(cfg.Server.Env)

	// Redis backs the broker and the rate limiters
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis not available")
	}

	// Job and character storage; an in-memory store keeps development going
	// without a database.
	var (
		jobs       store.JobStore
		characters store.CharacterStore
		media      store.MediaStore
	)
	connectCtx, cancelConnect := context.WithTimeout(ctx, 10*time.Second)
	mongoStore, err := store.NewMongo(connectCtx, cfg.Mongo.URI, cfg.Mongo.Database)
	cancelConnect()
	if err != nil {
		if cfg.Server.Env == "production" {
			log.Fatal().Err(err).Msg("mongo not available")
		}
		log.Warn().Err(err).Msg("mongo not available, using in-memory store")
		mem := store.NewMemory()
		jobs, characters, media = mem, mem, mem
	} else {
		jobs, characters, media = mongoStore, mongoStore, mongoStore
	}

	// Broker facade
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	queueOpts := queue.Options{
		MaxRetry:    cfg.Queue.MaxRetry,
		TaskTimeout: cfg.Queue.TaskTimeout,
		Retention:   cfg.Queue.Retention,
		BackoffBase: cfg.Queue.BackoffBase,
		BackoffCap:  cfg.Queue.BackoffCap,
	}
	taskQueue := queue.New(redisOpt, queueOpts)
	defer taskQueue.Close()

	// Event fan-out
	hub := sse.NewHub(log)

	// Generation collaborators
	imageClient := client.NewImageClient(&cfg.Generation.ImageAPI, log)
	personalityClient := client.NewPersonalityClient(&cfg.Generation.Groq, log)
	videoClient := client.NewVideoClient(&cfg.Generation.Wavespeed, log)

	// Services and handlers
	validate := validator.New()
	jobService := service.NewJobService(jobs, characters, media, taskQueue, hub, log)
	jobHandler := handler.NewJobHandler(jobService, validate)
	eventsHandler := handler.NewEventsHandler(jobService, hub, cfg.SSE.KeepaliveInterval)
	adminHandler := handler.NewAdminHandler(taskQueue, hub)

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret, cfg.JWT.Expiration)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(requestLogger(log))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// API routes
	api := app.Group("/api/v1", authMiddleware.Authenticate())

	jobsGroup := api.Group("/jobs")
	jobsGroup.Get("/", jobHandler.List)
	jobsGroup.Post("/character-creation", rateLimiter.CreationLimit(cfg.RateLimit.CreationPerHour), jobHandler.CreateCharacter)
	jobsGroup.Get("/character-creation", jobHandler.ListCharacters)
	jobsGroup.Get("/character-creation/:jobId", jobHandler.CharacterStatus)
	jobsGroup.Delete("/character-creation/:jobId", jobHandler.CancelCharacter)
	jobsGroup.Post("/media-generation", rateLimiter.MediaLimit(cfg.RateLimit.MediaPerHour), jobHandler.CreateMedia)
	jobsGroup.Get("/media-generation", jobHandler.ListMedia)
	jobsGroup.Get("/media-generation/:jobId", jobHandler.MediaStatus)
	jobsGroup.Delete("/media-generation/:jobId", jobHandler.CancelMedia)

	// The aggregate stream must register before the parameterized route.
	events := api.Group("/events")
	events.Get("/jobs/mine", eventsHandler.MyEvents)
	events.Get("/jobs/:jobId", eventsHandler.JobEvents)

	admin := api.Group("/admin")
	admin.Get("/queues", adminHandler.QueueStats)
	admin.Get("/events", adminHandler.EventStats)

	// Worker server
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:    cfg.Queue.Concurrency,
		Queues:         queue.ServerQueues(),
		RetryDelayFunc: queueOpts.RetryDelay,
		IsFailure:      queue.IsFailure,
	})

	limiter := queue.NewStartLimiter(redisClient, map[model.JobKind]int{
		model.KindCharacterCreation: cfg.Queue.CharacterStartsPerSec,
		model.KindImageGeneration:   cfg.Queue.ImageStartsPerSec,
		model.KindVideoGeneration:   cfg.Queue.VideoStartsPerSec,
	})

	characterWorker := worker.NewCharacterWorker(jobs, characters, media, hub,
		personalityClient, imageClient, cfg.Generation.Enabled, log)
	imageWorker := worker.NewImageWorker(jobs, characters, media, hub, imageClient, log)
	videoWorker := worker.NewVideoWorker(jobs, characters, media, hub, videoClient, personalityClient, log)

	mux := asynq.NewServeMux()
	mux.Use(limiter.Middleware)
	mux.HandleFunc(queue.TaskTypeCharacterCreation, characterWorker.ProcessTask)
	mux.HandleFunc(queue.TaskTypeImageGeneration, imageWorker.ProcessTask)
	mux.HandleFunc(queue.TaskTypeVideoGeneration, videoWorker.ProcessTask)

	if err := srv.Start(mux); err != nil {
		log.Fatal().Err(err).Msg("failed to start worker server")
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Msg("shutting down")
		srv.Shutdown()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	addr := ":" + cfg.Server.Port
	log.Info().Str("addr", addr).Msg("server starting")
	if err := app.Listen(addr); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func requestLogger(log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		log.Info().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", c.Response().StatusCode()).
			Dur("latency", time.Since(start)).
			Msg("request")
		return err
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
