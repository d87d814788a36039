package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tasktracker/api"
	"tasktracker/broadcast"
	"tasktracker/domain"
	"tasktracker/internal/config"
	"tasktracker/storage"
)

// taskStore is what both storage backends provide.
type taskStore interface {
	domain.TaskStorage
	domain.ReferenceData
	storage.Seeder
	Ping(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := log.StandardLogger()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore := openStore(ctx, cfg)
	defer closeStore()

	var rc *redis.Client
	if cfg.RedisConnStr != "" {
		redisOpts, err := config.RedisOptions(cfg.RedisConnStr)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		rc = redis.NewClient(redisOpts)
		defer rc.Close()
	}

	var refs interface {
		domain.ReferenceData
		api.References
	} = store
	opts := api.Options{
		Health:          store,
		BroadcastDriver: cfg.BroadcastDriver,
		Heartbeat:       cfg.SSEHeartbeat,
	}
	var cache *storage.ReferenceCache
	if rc != nil {
		cache = storage.NewReferenceCache(store, rc, cfg.ReferenceTTL)
		refs = cache
		opts.Deduper = api.NewRedisDeduper(rc, cfg.IdempotencyTTL)
	}

	if cfg.Seed {
		if err := storage.SeedWithCache(ctx, store, cache, time.Now()); err != nil {
			log.Fatalf("seed: %v", err)
		}
	}

	hub := broadcast.NewHub(16)
	var pub broadcast.Publisher
	switch cfg.BroadcastDriver {
	case config.BroadcastRedis:
		pub = broadcast.NewRedisPublisher(rc, domain.TasksChannel)
		go broadcast.SubscribeUpdates(ctx, logger, rc, domain.TasksChannel, hub)
		opts.Stream = hub
	case config.BroadcastLocal:
		pub = broadcast.NewLocalPublisher(hub)
		opts.Stream = hub
	default:
		pub = broadcast.NewLogPublisher(logger)
	}
	dispatcher := broadcast.NewDispatcher(pub, broadcast.PoolConfig{
		Workers: cfg.PublishWorkers,
		Buffer:  cfg.PublishBuffer,
		Timeout: cfg.PublishTimeout,
		Handoff: cfg.PublishHandoff,
	}, logger)
	defer dispatcher.Close()

	svc := domain.NewTaskService(store, refs, dispatcher)
	e := api.NewEcho()
	api.Register(e, svc, refs, opts, logger)
	// SSE handlers only return when their stream ends
	e.Server.RegisterOnShutdown(hub.Close)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("shutdown")
		}
	}()

	log.WithFields(log.Fields{
		"port":      cfg.Port,
		"store":     cfg.StoreDriver,
		"broadcast": cfg.BroadcastDriver,
	}).Info("tasktracker starting")
	if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server: %v", err)
	}
}

func openStore(ctx context.Context, cfg config.Config) (taskStore, func()) {
	switch cfg.StoreDriver {
	case config.StoreAzTables:
		ts, err := storage.NewTableStore(cfg.StorageConnStr, cfg.TasksTable, cfg.CategoriesTable, cfg.PrioritiesTable)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		if err := ts.EnsureTables(ctx); err != nil {
			log.Fatalf("create tables: %v", err)
		}
		return ts, func() {}
	default:
		st, err := storage.OpenSQL(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		return st, func() {
			if err := st.Close(); err != nil {
				log.WithError(err).Error("close store")
			}
		}
	}
}
