package main

import (
	"context"
	"log"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/seatable-community/syncer/internal/base"
	"github.com/seatable-community/syncer/internal/config"
	"github.com/seatable-community/syncer/internal/mysqlsync"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.MySQLDSN == "" || cfg.MySQLQuery == "" || cfg.MySQLKeyColumn == "" {
		log.Fatalf("MYSQL_DSN, MYSQL_QUERY and MYSQL_KEY_COLUMN are required")
	}

	db, err := sqlx.Connect("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatalf("Failed to connect to MySQL: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()

	dest := base.NewClient(cfg.ServerURL, cfg.APIToken)
	syncer := mysqlsync.NewSyncer(db, dest, cfg.MySQLQuery, cfg.MySQLKeyColumn, cfg.MySQLTableName)

	written, err := syncer.Sync(context.Background())
	if err != nil {
		log.Fatalf("MySQL sync failed: %v", err)
	}
	log.Printf("mysql sync: wrote %d rows to %s", written, cfg.MySQLTableName)
}
