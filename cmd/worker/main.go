package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/gravelroot/dispatch-core/internal/config"
	"github.com/gravelroot/dispatch-core/internal/logging"
	"github.com/gravelroot/dispatch-core/internal/metrics"
	"github.com/gravelroot/dispatch-core/internal/repository"
	"github.com/gravelroot/dispatch-core/internal/services/billing"
	"github.com/gravelroot/dispatch-core/internal/services/comms"
	"github.com/gravelroot/dispatch-core/internal/worker"
	"github.com/gravelroot/dispatch-core/pkg/database"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}
	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	conn, err := database.NewConnection(cfg)
	if err != nil {
		logger.Fatalw("connect backends", "error", err)
	}
	defer conn.Close()

	db := repository.NewDatabaseFromConn(conn.DB)
	repos := repository.NewRepositories(db)
	m := metrics.New(prometheus.DefaultRegisterer)

	commsService := comms.NewService(&comms.LogSender{Logger: logger}, repos)
	billingService := billing.NewService(repos, commsService, logger, cfg.LienWarningDays)
	processor := worker.NewProcessor(repos, billingService, commsService, m, logger)

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatalw("parse redis url for task queue", "error", err)
	}

	// One-off tasks from the API land on asynq's default queue; the
	// cron-driven sweeps use the configured queue.
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues:      map[string]int{cfg.QueueName: 5, "default": 5},
	})
	mux := asynq.NewServeMux()
	processor.Register(mux)

	// The nightly sweeps are triggered by cron and executed through the
	// same queue as one-off tasks, so retries and visibility are uniform.
	client := asynq.NewClient(redisOpt)
	defer client.Close()
	scheduler := cron.New()
	enqueue := func(taskType string) func() {
		return func() {
			task := asynq.NewTask(taskType, nil)
			if _, err := client.Enqueue(task, asynq.Queue(cfg.QueueName), asynq.MaxRetry(cfg.QueueMaxRetries)); err != nil {
				logger.Errorw("enqueue scheduled task", "task", taskType, "error", err)
			}
		}
	}
	if _, err := scheduler.AddFunc("15 2 * * *", enqueue(worker.TaskOverdueScan)); err != nil {
		logger.Fatalw("schedule overdue scan", "error", err)
	}
	if _, err := scheduler.AddFunc("30 2 * * *", enqueue(worker.TaskLienWarningScan)); err != nil {
		logger.Fatalw("schedule lien warning scan", "error", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	go func() {
		logger.Infow("worker starting", "concurrency", cfg.WorkerConcurrency, "queue", cfg.QueueName)
		if err := srv.Run(mux); err != nil {
			logger.Fatalw("worker failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down worker")
	srv.Shutdown()
	logger.Info("worker stopped")
}
