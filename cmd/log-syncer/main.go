package main

import (
	"context"
	"errors"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/seatable-community/syncer/internal/base"
	"github.com/seatable-community/syncer/internal/config"
	"github.com/seatable-community/syncer/internal/logsync"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer func() {
		_ = rdb.Close()
	}()

	dest := base.NewClient(cfg.ServerURL, cfg.APIToken)
	syncer := logsync.NewSyncer(rdb, dest, cfg.LogKey, cfg.LogTableName)

	log.Printf("log syncer starting (list: %s, table: %s)", cfg.LogKey, cfg.LogTableName)
	if err := syncer.Run(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Log sync stopped: %v", err)
	}
}
