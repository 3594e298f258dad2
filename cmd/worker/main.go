package main

import (
	"context"
	"os/signal"
	"syscall"

	"fingerattend/internal/config"
	"fingerattend/internal/logger"
	"fingerattend/internal/queue"
	"fingerattend/internal/store"
)

// Worker consumes attendance events from Redis and writes the audit trail.
func main() {
	cfg := config.Load()
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	for _, w := range cfg.Warnings {
		log.Warn().Msg(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend == "memory" {
		log.Fatal().Msg("worker needs QUEUE_BACKEND=redis; the in-memory queue is drained by the api process")
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey, log)
	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("queue consume init failed")
	}

	log.Info().Str("queue", cfg.QueueKey).Msg("worker started, waiting for events")
	n := queue.Audit(messages, log.With().Str("component", "audit").Logger())
	log.Info().Int("processed", n).Msg("worker stopped")
}
