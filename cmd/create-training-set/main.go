// Package main provides the training set construction CLI. It reads scraped
// decks from the SQLite store, scores (commander, condition, target) triples
// and writes the serialized dataset.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/ramonehamilton/edh-trainer/internal/config"
	"github.com/ramonehamilton/edh-trainer/internal/storage"
	"github.com/ramonehamilton/edh-trainer/internal/trainingset"
)

var (
	configPath = flag.String("config", "", "Config file path (default: ~/.edh-trainer/config.toml)")
	dbPath     = flag.String("db-path", "", "Database path (overrides config)")
	threshold  = flag.Int("threshold", -1, "Vocabulary inclusion threshold (overrides config)")
	perPair    = flag.Int("examples-per-pair", -1, "Examples per anchor, 0 = balanced minimum (overrides config)")
	seed       = flag.Int64("seed", -1, "Sampling seed (overrides config)")
	outputPath = flag.String("output", "", "Output file path (overrides config)")
	split      = flag.Bool("split", false, "Also write train/valid splits next to the output file")
	debug      = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	fmt.Println("EDH Trainer - Training Set Creator")
	fmt.Println("==================================")
	fmt.Println()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *threshold >= 0 {
		cfg.Training.InclusionThreshold = *threshold
	}
	if *perPair >= 0 {
		cfg.Training.ExamplesPerPair = *perPair
	}
	if *seed >= 0 {
		cfg.Training.Seed = *seed
	}
	if *outputPath != "" {
		cfg.Training.OutputPath = *outputPath
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	fmt.Printf("Threshold: %d\n", cfg.Training.InclusionThreshold)
	fmt.Printf("Seed:      %d\n", cfg.Training.Seed)
	fmt.Printf("Output:    %s\n", cfg.Training.OutputPath)
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

	creator := trainingset.NewCreator(db.Conn(), trainingset.Options{
		InclusionThreshold: cfg.Training.InclusionThreshold,
		ExamplesPerPair:    cfg.Training.ExamplesPerPair,
		MinConditionalRate: cfg.Training.MinConditionalRate,
		Seed:               cfg.Training.Seed,
		ProgressInterval:   cfg.Training.ProgressInterval,
	})
	creator.SetLogger(logger)

	ds, err := creator.Create(context.Background())
	if err != nil {
		log.Fatalf("Failed to create training set: %v", err)
	}

	if err := ds.Save(cfg.Training.OutputPath); err != nil {
		log.Fatalf("Failed to save training set: %v", err)
	}
	fmt.Printf("Wrote %d examples to %s\n", ds.Len(), cfg.Training.OutputPath)

	if *split {
		rng := rand.New(rand.NewSource(cfg.Training.Seed))
		train, valid := ds.Split(cfg.Training.ValidRatio, rng)

		trainPath := splitPath(cfg.Training.OutputPath, "train")
		validPath := splitPath(cfg.Training.OutputPath, "valid")

		if err := train.Save(trainPath); err != nil {
			log.Fatalf("Failed to save train split: %v", err)
		}
		if err := valid.Save(validPath); err != nil {
			log.Fatalf("Failed to save valid split: %v", err)
		}
		fmt.Printf("Wrote %d train examples to %s\n", train.Len(), trainPath)
		fmt.Printf("Wrote %d valid examples to %s\n", valid.Len(), validPath)
	}

	fmt.Println()
	fmt.Println("Training set complete.")
}

// splitPath derives a split file name: training_set.bin -> training_set_train.bin.
func splitPath(path, suffix string) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	return fmt.Sprintf("%s_%s%s", base, suffix, ext)
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
