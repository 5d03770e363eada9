// smar-scraper-service
//
// Scrapes the Play catalog through an HTTP catalog provider and serves the
// results asynchronously:
//   - /search/new, /reviews, /list: enqueue a job on its Redis work queue
//   - */job-status: poll the job
//   - */download-csv, */download-relog: exports from the result store
//
// Each queue has its own worker pool and token-bucket limiter. Completed
// fresh runs are written to the cache store (1h), the result store (7d) and
// the run log (PostgreSQL, or memory when DATABASE_URL is unset).
// Job state changes are published on EVENT_JOB_UPDATED.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"smar/scraper-service/internal/api"
	"smar/scraper-service/internal/config"
	"smar/scraper-service/internal/db"
	"smar/scraper-service/internal/grpcserver"
	"smar/scraper-service/internal/jobs"
	"smar/scraper-service/internal/model"
	"smar/scraper-service/internal/queue"
	"smar/scraper-service/internal/runlog"
	"smar/scraper-service/internal/scheduler"
	"smar/scraper-service/internal/scraper"
	"smar/scraper-service/internal/store"
)

func main() {
	// ── Config ──────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[scraper-service] Config error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Redis ────────────────────────────────────────────────────────────────
	log.Println("[scraper-service] Connecting to Redis…")
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("[scraper-service] Redis: %v", err)
	}
	defer rdb.Close()
	log.Println("[scraper-service] Redis connected ✓")

	// ── Run log ──────────────────────────────────────────────────────────────
	var runs runlog.Recorder = &runlog.Memory{}
	if cfg.DatabaseURL != "" {
		log.Println("[scraper-service] Connecting to PostgreSQL…")
		pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("[scraper-service] PostgreSQL: %v", err)
		}
		defer pool.Close()
		pg := runlog.NewPostgresRecorder(pool)
		if err := pg.EnsureTable(ctx); err != nil {
			log.Fatalf("[scraper-service] Run log table: %v", err)
		}
		runs = pg
		log.Println("[scraper-service] PostgreSQL connected ✓")
	} else {
		log.Println("[scraper-service] DATABASE_URL not set, run log kept in memory")
	}

	// ── Pipelines ────────────────────────────────────────────────────────────
	catalog := scraper.NewPlayFetcher(cfg.CatalogURL)
	searchOpts := scraper.SearchOptions{
		Delay:             cfg.SearchDelay,
		DetailConcurrency: cfg.DetailConcurrency,
		ScoreDescription:  cfg.ScoreDescription,
		Permissions:       cfg.Permissions,
	}
	deps := jobs.Deps{
		Cache:     store.NewRedisStore(rdb, store.CachePrefix),
		Results:   store.NewRedisStore(rdb, store.ResultPrefix),
		CacheTTL:  cfg.CacheTTL,
		ResultTTL: cfg.ResultTTL,
		Runs:      runs,
	}
	handlers := map[string]queue.Handler{
		model.KindSearch:  jobs.NewSearch(scraper.NewSearcher(catalog, searchOpts), deps),
		model.KindReviews: jobs.NewReviews(scraper.NewReviewsScraper(catalog, 0, nil), deps),
		model.KindTopList: jobs.NewTopList(scraper.NewTopLists(catalog, searchOpts), deps),
	}

	// ── Queues ───────────────────────────────────────────────────────────────
	queues := make(map[string]*queue.Queue, len(handlers))
	var workers sync.WaitGroup
	for kind, h := range handlers {
		qc := cfg.Queues[kind]
		q := queue.New(rdb, kind, queue.Options{
			Workers:   qc.Workers,
			Limit:     qc.Limit,
			Window:    qc.Window(),
			Retention: cfg.JobRetention,
			Classify:  jobs.Classify,
			Logger:    slog.Default().With("queue", kind),
		})
		queues[kind] = q
		workers.Add(1)
		go func() {
			defer workers.Done()
			q.Run(ctx, h)
		}()
		log.Printf("[scraper-service] Queue %s: %d worker(s), %d job(s) per %s", kind, qc.Workers, qc.Limit, qc.Window())
	}

	// ── gRPC health ──────────────────────────────────────────────────────────
	health := grpcserver.NewHealth(func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		model.KindSearch, model.KindReviews, model.KindTopList)
	grpcSrv := health.NewServer()
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		log.Fatalf("[scraper-service] gRPC listen: %v", err)
	}
	go func() {
		log.Printf("[scraper-service] gRPC health listening on :%s", cfg.GRPCPort)
		if err := grpcSrv.Serve(lis); err != nil {
			log.Printf("[scraper-service] gRPC server error: %v", err)
		}
	}()

	// ── Scheduler ────────────────────────────────────────────────────────────
	sched := scheduler.New(scheduler.Config{
		Retention: cfg.RunLogRetention,
		Queues:    []scheduler.Queue{queues[model.KindSearch], queues[model.KindReviews], queues[model.KindTopList]},
		Runs:      runs,
		Health:    health,
	})
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("[scraper-service] Scheduler: %v", err)
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	h := api.NewHandler(api.Config{
		Search:  queues[model.KindSearch],
		Reviews: queues[model.KindReviews],
		TopList: queues[model.KindTopList],
		Results: deps.Results,
		Runs:    runs,
		Version: cfg.Version,
	})
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      h.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Printf("[scraper-service] v%s listening on :%s", cfg.Version, cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[scraper-service] HTTP server error: %v", err)
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[scraper-service] Shutting down…")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[scraper-service] Shutdown error: %v", err)
	}
	health.Shutdown()
	grpcSrv.GracefulStop()
	sched.Stop()

	// Workers finish the job in hand before returning.
	cancel()
	workers.Wait()
	log.Println("[scraper-service] Stopped.")
}
