// Package main provides the EDHREC scraping CLI. It walks the commander
// listing, fetches deck lists and ingests them into the SQLite store.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ramonehamilton/edh-trainer/internal/config"
	"github.com/ramonehamilton/edh-trainer/internal/edhrec"
	"github.com/ramonehamilton/edh-trainer/internal/storage"
)

var (
	configPath    = flag.String("config", "", "Config file path (default: ~/.edh-trainer/config.toml)")
	dbPath        = flag.String("db-path", "", "Database path (overrides config)")
	numCommanders = flag.Int("commanders", -1, "Number of commanders to scrape, 0 = all (overrides config)")
	decksPer      = flag.Int("decks", -1, "Decks per commander, 0 = all (overrides config)")
	noResume      = flag.Bool("no-resume", false, "Start from the first commander instead of resuming")
	debug         = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	fmt.Println("EDH Trainer - EDHREC Scraper")
	fmt.Println("============================")
	fmt.Println()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *numCommanders >= 0 {
		cfg.Scrape.NumCommanders = *numCommanders
	}
	if *decksPer >= 0 {
		cfg.Scrape.DecksPerCommander = *decksPer
	}
	if *noResume {
		cfg.Scrape.Resume = false
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	deckDelay, err := cfg.GetDeckDelay()
	if err != nil {
		log.Fatalf("Invalid deck delay: %v", err)
	}
	commanderDelay, err := cfg.GetCommanderDelay()
	if err != nil {
		log.Fatalf("Invalid commander delay: %v", err)
	}

	fmt.Printf("Database: %s\n", cfg.Database.Path)
	fmt.Println()

	storageConfig := storage.DefaultConfig(cfg.Database.Path)
	storageConfig.AutoMigrate = true
	db, err := storage.Open(storageConfig)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}()

	// Stop cleanly on Ctrl+C; a resumed run picks up where this one ended.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := edhrec.NewClient(edhrec.DefaultClientConfig())
	scraper := edhrec.NewScraper(client, db.Conn())
	scraper.SetLogger(logger)

	summary, err := scraper.Gather(ctx, edhrec.GatherOptions{
		NumCommanders:     cfg.Scrape.NumCommanders,
		DecksPerCommander: cfg.Scrape.DecksPerCommander,
		DeckDelay:         deckDelay,
		CommanderDelay:    commanderDelay,
		Resume:            cfg.Scrape.Resume,
	})
	if summary != nil {
		fmt.Println()
		fmt.Printf("Commanders processed: %d\n", summary.CommandersProcessed)
		fmt.Printf("Decks ingested:       %d\n", summary.DecksIngested)
		fmt.Printf("Decks skipped:        %d\n", summary.DecksSkipped)
		fmt.Printf("Decks rejected:       %d\n", summary.DecksRejected)
		fmt.Printf("Fetch failures:       %d\n", summary.FetchFailures)
	}
	if err != nil {
		log.Fatalf("Scrape failed: %v", err)
	}

	fmt.Println()
	fmt.Println("Scrape complete.")
}

func loadConfig() (*config.Config, error) {
	path := *configPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	return config.Load(path)
}
