package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	"github.com/compliance/deadline-engine/internal/api"
	"github.com/compliance/deadline-engine/internal/config"
	"github.com/compliance/deadline-engine/internal/directory"
	"github.com/compliance/deadline-engine/internal/dispatch"
	"github.com/compliance/deadline-engine/internal/escalate"
	"github.com/compliance/deadline-engine/internal/events"
	"github.com/compliance/deadline-engine/internal/notify"
	"github.com/compliance/deadline-engine/internal/pkg/lock"
	"github.com/compliance/deadline-engine/internal/pkg/logger"
	"github.com/compliance/deadline-engine/internal/pkg/telemetry"
	"github.com/compliance/deadline-engine/internal/risk"
	"github.com/compliance/deadline-engine/internal/scheduler"
	"github.com/compliance/deadline-engine/internal/store/postgres"
	"github.com/compliance/deadline-engine/internal/store/rediscache"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize Logger
	log, err := logger.New(cfg.Telemetry.ServiceName, cfg.Telemetry.Environment,
		cfg.Telemetry.Environment != "production")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Tracing
	shutdownTracing, err := telemetry.Setup(ctx, &cfg.Telemetry)
	if err != nil {
		log.Fatal("failed to initialize telemetry", logger.ErrorField(err))
	}

	// 4. Storage
	db, err := postgres.Connect(ctx, &cfg.Database)
	if err != nil {
		log.Fatal("failed to connect to postgres", logger.ErrorField(err))
	}
	defer db.Close()

	if cfg.Database.MigrateOnStart {
		if err := db.Migrate(ctx); err != nil {
			log.Fatal("failed to run migrations", logger.ErrorField(err))
		}
	}

	redisClient, err := rediscache.Connect(ctx, &cfg.Redis)
	if err != nil {
		log.Fatal("failed to connect to redis", logger.ErrorField(err))
	}
	defer redisClient.Close()

	deadlines := postgres.NewDeadlineReader(db)
	assessments := rediscache.NewCachedAssessments(
		postgres.NewAssessmentRepo(db),
		rediscache.NewAssessmentCache(redisClient, cfg.Redis.AssessmentCacheTTL),
		log,
	)
	notifications := postgres.NewNotificationRepo(db)

	// 5. Event Sink
	var sink events.Sink = events.NopSink{}
	if cfg.Kafka.Enabled {
		kafkaSink, err := events.NewKafkaSink(&cfg.Kafka)
		if err != nil {
			log.Fatal("failed to connect kafka sink", logger.ErrorField(err))
		}
		defer kafkaSink.Close()
		sink = kafkaSink
	}

	// 6. Engine Components
	clock := clockwork.NewRealClock()
	locks := lock.NewMutexMap()
	// TODO: replace the static directory with the adapter over the
	// institution's user service once its API is finalized.
	dir := directory.NewStatic()

	scorer := risk.NewScorer(deadlines, assessments, &cfg.Scoring, clock, log)
	composer := notify.NewComposer(notifications, dir, notify.DefaultPolicy(),
		notify.NewTierLadderResolver(&cfg.Escalation), clock, log)
	dispatcher := dispatch.NewDispatcher(notifications, dispatch.NewSimulatedRegistry(log), dir,
		rediscache.NewAttemptKeys(redisClient), &cfg.Dispatch, locks, clock, log)
	escalator := escalate.NewManager(notifications, composer, sink, &cfg.Escalation,
		cfg.Dispatch.MaxRetries, locks, clock, log)

	sched := scheduler.NewScheduler(deadlines, assessments, notifications,
		scorer, composer, dispatcher, escalator, sink,
		&cfg.Scheduler, &cfg.Scoring, locks, clock, log)
	go sched.Run(ctx)

	// 7. HTTP Server
	server := api.NewServer(cfg, scorer, composer, dispatcher, escalator,
		deadlines, assessments, notifications, clock, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("http server failed", logger.ErrorField(err))
		}
	}()

	// 8. Graceful Shutdown
	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", logger.ErrorField(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("telemetry shutdown failed", logger.ErrorField(err))
	}
	log.Info("server exited properly")
}
