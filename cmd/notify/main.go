package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tazhibayda/notes-service/internal/config"
	"github.com/tazhibayda/notes-service/internal/log"
	"github.com/tazhibayda/notes-service/internal/queue"
)

func main() {
	logger, err := log.Init(true)
	if err != nil {
		os.Exit(1)
	}
	cfg, err := config.LoadNotify()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	if !cfg.LogJSON {
		if logger, err = log.Init(false); err != nil {
			os.Exit(1)
		}
	}
	defer func() { _ = logger.Sync() }()

	cons, err := queue.NewConsumer(cfg.RabbitURL, cfg.Exchange, cfg.Queue, cfg.BindKey, logger)
	if err != nil {
		logger.Fatal("rabbit consumer init failed", zap.Error(err))
	}
	defer cons.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("notify worker up",
		zap.String("exchange", cfg.Exchange),
		zap.String("queue", cfg.Queue),
		zap.String("key", cfg.BindKey),
		zap.Int("workers", cfg.Concurrency),
	)

	if err := cons.Consume(ctx, cfg.Concurrency, audit(logger)); err != nil {
		logger.Fatal("consumer stopped", zap.Error(err))
	}
}

// audit logs each event. Unknown routing keys are logged raw.
func audit(logger *zap.Logger) func(queue.Envelope) error {
	return func(env queue.Envelope) error {
		l := logger.With(
			zap.String("key", env.Key),
			zap.String("message_id", env.MessageID),
			zap.String("request_id", env.RequestID),
		)
		switch env.Key {
		case queue.KeyUserCreated:
			var ev queue.UserCreated
			if err := json.Unmarshal(env.Body, &ev); err != nil {
				return errors.Wrap(err, "decode user.created")
			}
			l.Info("user created", zap.String("user_id", ev.UserID), zap.String("provider", ev.Provider), zap.Time("at", ev.At))
		case queue.KeySessionIssued:
			var ev queue.SessionIssued
			if err := json.Unmarshal(env.Body, &ev); err != nil {
				return errors.Wrap(err, "decode session.issued")
			}
			l.Info("session issued", zap.String("user_id", ev.UserID), zap.Bool("rotated", ev.Rotated), zap.Time("at", ev.At))
		default:
			l.Info("event", zap.ByteString("body", env.Body))
		}
		return nil
	}
}
