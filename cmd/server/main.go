package main

import (
	"context"
	"errors"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"github.com/tazhibayda/notes-service/docs"
	"github.com/tazhibayda/notes-service/internal/account"
	"github.com/tazhibayda/notes-service/internal/config"
	api "github.com/tazhibayda/notes-service/internal/http"
	"github.com/tazhibayda/notes-service/internal/log"
	"github.com/tazhibayda/notes-service/internal/metrics"
	"github.com/tazhibayda/notes-service/internal/oauth"
	"github.com/tazhibayda/notes-service/internal/queue"
	"github.com/tazhibayda/notes-service/internal/repo"
)

// @title Notes API
// @version 0.1.0
// @description Google sign-in sessions and per-user notes.
// @schemes http https
// @BasePath /
// @securityDefinitions.apikey SessionAuth
// @in header
// @name Authorization
func main() {
	logger, err := log.Init(true)
	if err != nil {
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	if !cfg.LogJSON {
		if logger, err = log.Init(false); err != nil {
			os.Exit(1)
		}
	}
	defer func() { _ = logger.Sync() }()

	if cfg.DDEnabled {
		tracer.Start(tracer.WithService("notes-service"), tracer.WithEnv(cfg.Env))
		defer tracer.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := repo.NewStore(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		logger.Fatal("mongo connect", zap.Error(err))
	}
	defer store.Close(context.Background())
	store.Transactions = cfg.MongoTransactions

	if err := store.EnsureIndexes(ctx); err != nil {
		logger.Fatal("mongo indexes", zap.Error(err))
	}

	verifier, err := oauth.NewGoogleVerifier(context.Background())
	if err != nil {
		logger.Fatal("google verifier", zap.Error(err))
	}

	accounts := account.NewService(store, cfg.SessionTTL, account.WithLogger(logger.Named("account")))

	h := api.NewHandler(verifier, accounts, store, store, cfg.SessionSecret, cfg.GoogleClientID)
	h.Health = store
	h.Logger = logger
	h.Exchange = cfg.EventsExchange

	if cfg.OAuthCodeFlowEnabled() {
		h.Google = oauth.NewGoogle(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL, cfg.OAuthStateSecret, verifier)
	}

	if cfg.RateLimitPerMin > 0 {
		if cfg.RedisAddr != "" {
			rds := repo.NewRedis(cfg.RedisAddr)
			defer rds.Close()
			if err := rds.Ping(ctx); err != nil {
				logger.Warn("redis unreachable, rate limiting fails open until it recovers", zap.Error(err))
			}
			h.Limiter = api.NewRedisLimiter(rds, cfg.RateLimitPerMin)
		} else {
			ml := api.NewMemoryLimiter(cfg.RateLimitPerMin, 5*time.Minute)
			defer ml.Stop()
			h.Limiter = ml
		}
	}

	if cfg.RabbitURL != "" {
		pub, err := queue.NewRabbit(cfg.RabbitURL, cfg.EventsExchange)
		if err != nil {
			logger.Fatal("rabbit publisher", zap.Error(err))
		}
		defer pub.Close()
		h.Events = pub
	}

	metrics.MustRegister()
	docs.SwaggerInfo.BasePath = "/"

	srv := &stdhttp.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.ListenAndServe() }()

	logger.Info("notes-service listening",
		zap.String("port", cfg.Port),
		zap.Bool("code_flow", h.Google != nil),
		zap.Bool("transactions", store.Transactions),
	)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		logger.Info("shutting down", zap.String("signal", s.String()))
	case err := <-srvErr:
		if !errors.Is(err, stdhttp.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
}
