package main

import (
	"context"
	"flag"
	"log"
	"strings"
	"time"

	"github.com/seatable-community/syncer/internal/config"
	"github.com/seatable-community/syncer/internal/models"
	"github.com/seatable-community/syncer/internal/sync"
)

func main() {
	dateFlag := flag.String("date", "", "sync this day (YYYY-MM-DD) and exit; empty means run periodically")
	modeFlag := flag.String("mode", "on", "sync mode for --date runs: on or since")
	intervalFlag := flag.Duration("interval", time.Hour, "wait between periodic runs")
	flag.Parse()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.ValidateMailbox(); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	runner := &sync.Runner{MaxRunDuration: 30 * time.Minute}

	runCfg := sync.RunConfig{
		Name:           cfg.EmailUser,
		EmailServer:    cfg.EmailServer,
		EmailUser:      cfg.EmailUser,
		EmailPassword:  cfg.EmailPassword,
		APIToken:       cfg.APIToken,
		ServerURL:      cfg.ServerURL,
		EmailTableName: cfg.EmailTableName,
		LinkTableName:  cfg.LinkTableName,
		Location:       loc,
	}

	ctx := context.Background()

	if *dateFlag != "" {
		day, err := time.ParseInLocation("2006-01-02", *dateFlag, loc)
		if err != nil {
			log.Fatalf("Invalid --date: %v", err)
		}
		runCfg.Date = day
		runCfg.Mode = models.SyncMode(strings.ToUpper(*modeFlag))

		if err := runner.Run(ctx, runCfg); err != nil {
			log.Fatalf("Sync failed: %v", err)
		}
		log.Printf("Sync finished for %s", *dateFlag)
		return
	}

	// Periodic mode catches up from yesterday on every pass, so a run
	// that straddles midnight still picks up the previous day's mail.
	log.Printf("email syncer starting (interval: %s)", *intervalFlag)
	for {
		now := time.Now().In(loc)
		runCfg.Date = now.AddDate(0, 0, -1)
		runCfg.Mode = models.ModeSince

		if err := runner.Run(ctx, runCfg); err != nil {
			log.Printf("Warning: sync failed: %v", err)
		}

		time.Sleep(*intervalFlag)
	}
}
