package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tasktracker/internal/config"
	"tasktracker/storage"
)

// storage-init prepares the configured store and loads the reference data
// plus the sample tasks. Running it twice is harmless.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	log.WithField("store", cfg.StoreDriver).Info("storage init starting")

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var seeder storage.Seeder
	switch cfg.StoreDriver {
	case config.StoreAzTables:
		ts, err := storage.NewTableStore(cfg.StorageConnStr, cfg.TasksTable, cfg.CategoriesTable, cfg.PrioritiesTable)
		if err != nil {
			log.Fatalf("table store: %v", err)
		}
		if err := ts.EnsureTables(ctx); err != nil {
			log.Fatalf("create tables: %v", err)
		}
		seeder = ts
	default:
		st, err := storage.OpenSQL(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("open sqlite: %v", err)
		}
		defer st.Close()
		seeder = st
	}

	var cache *storage.ReferenceCache
	if cfg.RedisConnStr != "" {
		opts, err := config.RedisOptions(cfg.RedisConnStr)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		rc := redis.NewClient(opts)
		defer rc.Close()
		cache = storage.NewReferenceCache(seeder, rc, cfg.ReferenceTTL)
	}
	if err := storage.SeedWithCache(ctx, seeder, cache, time.Now()); err != nil {
		log.Fatalf("seed: %v", err)
	}
	log.Info("storage init complete")
}
