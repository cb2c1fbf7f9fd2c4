package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gravelroot/dispatch-core/internal/auth"
	"github.com/gravelroot/dispatch-core/internal/config"
	"github.com/gravelroot/dispatch-core/internal/handlers"
	"github.com/gravelroot/dispatch-core/internal/logging"
	"github.com/gravelroot/dispatch-core/internal/metrics"
	"github.com/gravelroot/dispatch-core/internal/middleware"
	"github.com/gravelroot/dispatch-core/internal/repository"
	"github.com/gravelroot/dispatch-core/internal/services/billing"
	"github.com/gravelroot/dispatch-core/internal/services/comms"
	"github.com/gravelroot/dispatch-core/internal/services/conflict"
	"github.com/gravelroot/dispatch-core/internal/services/constraint"
	"github.com/gravelroot/dispatch-core/internal/services/dispatch"
	"github.com/gravelroot/dispatch-core/internal/services/jobflow"
	"github.com/gravelroot/dispatch-core/internal/services/schedule"
	"github.com/gravelroot/dispatch-core/internal/services/scheduleaudit"
	"github.com/gravelroot/dispatch-core/internal/services/solver"
	"github.com/gravelroot/dispatch-core/internal/services/traveltime"
	"github.com/gravelroot/dispatch-core/pkg/database"
	"github.com/gravelroot/dispatch-core/pkg/security"
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

	oracle := buildOracle(cfg)
	checker := constraint.NewChecker(oracle)
	slv := solver.NewSolver(checker)
	m := metrics.New(prometheus.DefaultRegisterer)

	scheduleService := schedule.NewService(db, repos, slv, m, logger, cfg.SolverRandomSeed, cfg.SolverMaxIterations)
	engine := dispatch.NewEngine(db, repos, checker, oracle)
	resolver := conflict.NewResolver(db, repos)
	auditStore := scheduleaudit.NewStore(db, repos)
	flow := jobflow.NewService(repos)
	commsService := comms.NewService(&comms.LogSender{Logger: logger}, repos)
	billingService := billing.NewService(repos, commsService, logger, cfg.LienWarningDays)

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatalw("parse redis url for task queue", "error", err)
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	verifier := auth.NewVerifier(cfg.JWTSecret)
	rateLimiter := security.NewRedisRateLimiter(conn.RedisClient, cfg.RateLimitRequestsPerMinute, time.Minute)
	mw := middleware.NewEnhancedMiddleware(cfg, verifier, conn.RedisClient, rateLimiter, logger)

	h := &handlers.Handlers{
		Schedule:    handlers.NewScheduleHandler(scheduleService, engine, resolver, auditStore, repos, logger),
		Appointment: handlers.NewAppointmentHandler(resolver, asynqClient, logger),
		Job:         handlers.NewJobHandler(repos, flow, logger),
		Billing:     handlers.NewBillingHandler(billingService, repos, logger),
		Reference:   handlers.NewReferenceHandler(repos, logger),
	}

	server := &http.Server{
		Addr:           net.JoinHostPort(cfg.APIHost, cfg.APIPort),
		Handler:        h.SetupRoutes(mw),
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   150 * time.Second, // long enough for a full solver budget
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logger.Infow("api server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("api server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down api server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Fatalw("forced shutdown", "error", err)
	}
	logger.Info("api server stopped")
}

// buildOracle picks the travel-time backend: the external provider
// when configured, with the great-circle estimator as both the default
// and the provider's fallback.
func buildOracle(cfg *config.Config) traveltime.Oracle {
	greatCircle := traveltime.NewGreatCircleOracle(cfg.TravelSpeedKMH, 5, 10000)
	if cfg.TravelTimeProvider == "osrm" && cfg.TravelTimeBaseURL != "" {
		return traveltime.NewRemoteOracle(cfg.TravelTimeBaseURL, cfg.TravelTimeAPIKey, greatCircle)
	}
	return greatCircle
}
