// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"dinner-workers/internal/common/camunda"
	"dinner-workers/internal/common/config"
	"dinner-workers/internal/common/database"
	"dinner-workers/internal/common/logger"
	"dinner-workers/internal/common/observability"
	"dinner-workers/internal/session"
	"dinner-workers/pkg/registry"

	ec "dinner-workers/internal/workers/dining/enrich-candidates"
	pdi "dinner-workers/internal/workers/dining/parse-dining-intent"
	pt "dinner-workers/internal/workers/dining/process-turn"
	rc "dinner-workers/internal/workers/dining/rank-candidates"
	sb "dinner-workers/internal/workers/dining/search-businesses"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.NewWithOptions(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)
	zapLog.Info("Starting dinner worker manager...",
		zap.String("version", cfg.App.Version),
		zap.String("sessionStore", cfg.Session.Store),
	)

	obs, err := observability.New(cfg.App.Name)
	if err != nil {
		zapLog.Warn("observability disabled", zap.Error(err))
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- Zeebe ---
	zeebe, err := camunda.NewClientWithConfig(ctx, &camunda.ClientConfig{
		GatewayAddress:         cfg.Camunda.BrokerAddress,
		UsePlaintextConnection: true,
		ConnectionTimeout:      10 * time.Second,
		RequestTimeout:         config.GetDuration(cfg.Camunda.RequestTimeout),
	})
	if err != nil {
		zapLog.Fatal("zeebe client failed", zap.Error(err))
	}
	zapLog.Info("Zeebe client connected successfully")

	// --- Redis (session store, turn lock or search cache) ---
	var redis *database.RedisClient
	if config.UsesDistributedLock(cfg) || cfg.APIs.BusinessSearch.CacheTTL > 0 {
		err = retryWithBackoff(func() error {
			var err error
			redis, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return redis.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer redis.Close()
		zapLog.Info("Redis connected successfully")
	}

	// --- PostgreSQL (session store) ---
	var pg *database.PostgresClient
	if cfg.Session.Store == "postgres" {
		err = retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			return pg.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		defer pg.Close()
		zapLog.Info("PostgreSQL connected successfully")
	}

	store, err := session.NewStore(cfg, redis, pg)
	if err != nil {
		zapLog.Fatal("session store failed", zap.Error(err))
	}
	if ps, ok := store.(*session.PostgresStore); ok {
		if err := ps.EnsureSchema(ctx); err != nil {
			zapLog.Fatal("session schema failed", zap.Error(err))
		}
		go purgeSessions(ctx, ps, config.GetDuration(cfg.Session.CleanupInterval), zapLog)
	}

	locker := session.NewLocker()
	if config.UsesDistributedLock(cfg) {
		locker = session.NewDistributedLocker(session.NewRedisLock(redis.Client, config.GetDuration(cfg.Session.LockLease), 0))
		zapLog.Info("Turns serialized through redis", zap.Int("leaseMs", cfg.Session.LockLease))
	} else if cfg.Session.Store == "postgres" {
		zapLog.Warn("no redis configured; turns are serialized within this process only")
	}

	// --- Shared stage components ---
	var cache *sb.ResponseCache
	if redis != nil {
		cache = sb.NewResponseCache(redis.Client, config.GetDuration(cfg.APIs.BusinessSearch.CacheTTL), log)
	}

	searchCfg := sb.ConfigFrom(cfg)
	enrichCfg := ec.ConfigFrom(cfg)
	intentCfg := pdi.ConfigFrom(cfg)

	extractor := pdi.NewChatExtractor(intentCfg, log.WithFields(map[string]interface{}{"component": "intent"}))
	searcher := sb.NewClient(searchCfg, cache, log.WithFields(map[string]interface{}{"component": "search"}))
	enricher := ec.NewHandler(enrichCfg, nil, log)

	// --- Workers ---
	handlers := map[string]camunda.JobHandler{
		pdi.TaskType: pdi.NewHandler(intentCfg, extractor, log),
		sb.TaskType:  sb.NewHandler(searchCfg, cache, log),
		rc.TaskType:  rc.NewHandler(rc.ConfigFrom(cfg), log),
		ec.TaskType:  enricher,
		pt.TaskType: pt.NewHandler(pt.ConfigFrom(cfg), pt.Dependencies{
			Store:     store,
			Locker:    locker,
			Extractor: extractor,
			Searcher:  searcher,
			Enricher:  enricher,
			Obs:       obs,
		}, log),
	}

	var workers []*camunda.CamundaWorker
	for _, taskType := range []string{pdi.TaskType, sb.TaskType, rc.TaskType, ec.TaskType, pt.TaskType} {
		if !config.IsWorkerEnabled(cfg, taskType) {
			zapLog.Info("worker disabled", zap.String("taskType", taskType))
			continue
		}
		wcfg := config.GetWorkerConfig(cfg, taskType)
		workers = append(workers, camunda.NewWorker(zeebe.GetClient(), taskType, wcfg, handlers[taskType], zapLog))
	}
	zapLog.Info("Workers registered", zap.Int("count", len(workers)))

	// --- Health & Metrics Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, "healthy")
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		rctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := zeebe.HealthCheck(rctx); err != nil {
			writeStatus(w, http.StatusServiceUnavailable, "unavailable")
			return
		}
		writeStatus(w, http.StatusOK, "ready")
	})
	mux.Handle("/metrics", promhttp.Handler())
	activities := registry.Dining(cfg.App.Version)
	mux.HandleFunc("/activities", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(activities)
	})

	server := &http.Server{Addr: cfg.Metrics.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("address", cfg.Metrics.Address))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, w := range workers {
		w.Stop()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping health server", zap.Error(err))
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error flushing metrics", zap.Error(err))
	}
	if err := zeebe.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}

	zapLog.Info("Worker manager stopped gracefully")
}

func purgeSessions(ctx context.Context, store *session.PostgresStore, every time.Duration, log *zap.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.PurgeExpired(ctx)
			if err != nil {
				log.Warn("session purge failed", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("expired sessions purged", zap.Int64("count", n))
			}
		}
	}
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": status,
		"time":   time.Now().Format(time.RFC3339),
	})
}
