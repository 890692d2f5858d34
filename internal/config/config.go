// Package config loads and persists the application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration.
type Config struct {
	// Database configuration
	Database DatabaseConfig `toml:"database"`

	// Scrape configuration
	Scrape ScrapeConfig `toml:"scrape"`

	// Training set configuration
	Training TrainingConfig `toml:"training"`
}

// DatabaseConfig contains SQLite settings.
type DatabaseConfig struct {
	Path string `toml:"path"` // Path to the SQLite database file
}

// ScrapeConfig contains EDHREC scraping settings.
type ScrapeConfig struct {
	NumCommanders     int    `toml:"num_commanders"`      // Commanders to scrape (0 = all)
	DecksPerCommander int    `toml:"decks_per_commander"` // Decks per commander (0 = all)
	DeckDelay         string `toml:"deck_delay"`          // Pause between decks (e.g., "500ms")
	CommanderDelay    string `toml:"commander_delay"`     // Pause between commanders (e.g., "1s")
	Resume            bool   `toml:"resume"`              // Resume an interrupted scrape
}

// TrainingConfig contains training set construction settings.
type TrainingConfig struct {
	InclusionThreshold int     `toml:"inclusion_threshold"`  // Min distinct decks for vocabulary (e.g., 100 or 500)
	ExamplesPerPair    int     `toml:"examples_per_pair"`    // Samples per anchor (0 = balanced minimum)
	MinConditionalRate float64 `toml:"min_conditional_rate"` // Floor for conditional rates
	Seed               int64   `toml:"seed"`                 // Sampling seed
	ProgressInterval   int     `toml:"progress_interval"`    // Pairs between progress logs
	OutputPath         string  `toml:"output_path"`          // Training set output file
	ValidRatio         float64 `toml:"valid_ratio"`          // Validation split fraction
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: "edhrec.db",
		},
		Scrape: ScrapeConfig{
			NumCommanders:     0,
			DecksPerCommander: 0,
			DeckDelay:         "500ms",
			CommanderDelay:    "1s",
			Resume:            true,
		},
		Training: TrainingConfig{
			InclusionThreshold: 100,
			ExamplesPerPair:    0,
			MinConditionalRate: 0.0001,
			Seed:               42,
			ProgressInterval:   1000,
			OutputPath:         "training_set.bin",
			ValidRatio:         0.1,
		},
	}
}

// DefaultPath returns the default configuration file path, creating its
// directory if needed.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ".edh-trainer")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return "", fmt.Errorf("create config directory: %w", err)
	}

	return filepath.Join(configDir, "config.toml"), nil
}

// Load loads the configuration from the given path. Returns default config
// if the file doesn't exist.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return &config, nil
}

// Save saves the configuration to the given path.
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration values.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	if _, err := time.ParseDuration(c.Scrape.DeckDelay); err != nil {
		return fmt.Errorf("invalid deck delay %q: %w", c.Scrape.DeckDelay, err)
	}
	if _, err := time.ParseDuration(c.Scrape.CommanderDelay); err != nil {
		return fmt.Errorf("invalid commander delay %q: %w", c.Scrape.CommanderDelay, err)
	}
	if c.Scrape.NumCommanders < 0 {
		return fmt.Errorf("num_commanders cannot be negative: %d", c.Scrape.NumCommanders)
	}
	if c.Scrape.DecksPerCommander < 0 {
		return fmt.Errorf("decks_per_commander cannot be negative: %d", c.Scrape.DecksPerCommander)
	}

	if c.Training.InclusionThreshold < 0 {
		return fmt.Errorf("inclusion threshold cannot be negative: %d", c.Training.InclusionThreshold)
	}
	if c.Training.ExamplesPerPair < 0 {
		return fmt.Errorf("examples_per_pair cannot be negative: %d", c.Training.ExamplesPerPair)
	}
	if c.Training.MinConditionalRate <= 0 {
		return fmt.Errorf("min conditional rate must be positive: %v", c.Training.MinConditionalRate)
	}
	if c.Training.ValidRatio < 0 || c.Training.ValidRatio >= 1 {
		return fmt.Errorf("valid ratio must be in [0, 1): %v", c.Training.ValidRatio)
	}

	return nil
}

// GetDeckDelay returns the deck delay as a duration.
func (c *Config) GetDeckDelay() (time.Duration, error) {
	return time.ParseDuration(c.Scrape.DeckDelay)
}

// GetCommanderDelay returns the commander delay as a duration.
func (c *Config) GetCommanderDelay() (time.Duration, error) {
	return time.ParseDuration(c.Scrape.CommanderDelay)
}
