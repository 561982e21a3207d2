package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"modelops/orchestrator/internal/audit"
	"modelops/orchestrator/internal/backend"
	"modelops/orchestrator/internal/config"
	"modelops/orchestrator/internal/executor"
	"modelops/orchestrator/internal/guardrails"
	"modelops/orchestrator/internal/httpapi"
	"modelops/orchestrator/internal/kernel"
	"modelops/orchestrator/internal/logger"
	"modelops/orchestrator/internal/memory"
	"modelops/orchestrator/internal/metrics"
	"modelops/orchestrator/internal/monitor"
	"modelops/orchestrator/internal/orchestrator"
	"modelops/orchestrator/internal/planner"
	"modelops/orchestrator/internal/retrieval"
	"modelops/orchestrator/internal/store"
	"modelops/orchestrator/internal/synth"
	"modelops/orchestrator/internal/tracing"
)

func main() {
	log := logger.NewLogger()
	defer log.Sync()

	log.Info("starting orchestrator")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration", "error", err)
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	shutdownTracing, err := tracing.Init("orchestrator")
	if err != nil {
		log.Fatal("failed to initialize tracing", "error", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Warn("redis unreachable, falling back to in-memory store/memory/cache", "error", err)
			redisClient = nil
		} else {
			log.Info("connected to redis", "addr", cfg.RedisAddr)
		}
	}

	var planStore store.PlanStore
	var memStore memory.Store
	if redisClient != nil {
		planStore = store.NewRedis(redisClient)
		memStore = memory.NewRedis(redisClient, cfg.MemoryTTLDays)
	} else {
		planStore = store.NewInMemory()
		memStore = memory.NewInMemory(cfg.MemoryTTLDays)
	}

	retriever := retrieval.New(retrieval.DefaultCorpus(), redisClient)

	synthProvider := os.Getenv("SYNTH_PROVIDER")
	synthModel := os.Getenv("SYNTH_MODEL_ID")
	synthesizer, err := synth.New(cfg.SynthesizeLive, synthProvider, synthModel)
	if err != nil {
		log.Fatal("failed to construct synthesizer", "error", err)
	}

	be := backend.New(cfg.ExecuteReal, os.Getenv("BACKEND_BASE_URL"))
	gr := guardrails.New(cfg)
	krn := kernel.New(memStore, cfg.MemoryRetryThreshold, cfg.MemoryReplanThreshold)

	seq := 0
	nextStepID := func() string {
		seq++
		return fmt.Sprintf("step-%d", seq)
	}
	plannerAgent := planner.New(synthesizer, krn, cfg.MemoryRecallLimit, nextStepID)
	executorAgent := executor.New(be, gr, retriever, cfg.TopKIterative)
	monitorAgent := monitor.New(krn, cfg.MaxRetriesPerStep, cfg.VerifyMaxRetries())

	auditSink := audit.New(planStore, log.SugaredLogger, cfg.AuditBufferSize, cfg.AuditRetry)
	defer auditSink.Close()

	promMetrics := metrics.New(func() float64 { return float64(auditSink.Depth()) })

	orch := orchestrator.New(cfg, planStore, retriever, plannerAgent, executorAgent, monitorAgent, gr, krn, auditSink, promMetrics, log.SugaredLogger)

	ready := func() (bool, string) {
		if len(retrieval.DefaultCorpus()) == 0 {
			return false, "retrieval corpus empty"
		}
		if redisClient != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				return false, "store unreachable"
			}
		}
		return true, ""
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpapi.CorrelationMiddleware())
	router.Use(metrics.GinMiddleware(promMetrics))
	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})

	api := httpapi.New(orch, ready)
	api.Register(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	go func() {
		log.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed to start", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http server forced to shutdown", "error", err)
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		log.Error("orchestrator worker pool did not drain cleanly", "error", err)
	}

	log.Info("stopped")
}
