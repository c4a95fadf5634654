// Package config loads mnemo configuration from a JSON file with
// environment variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/mnemokit/mnemo/pkg/memory"
)

// Config is the on-disk configuration for the memory store and CLI.
type Config struct {
	// DBPath is the SQLite database file.
	DBPath string `json:"db_path" env:"MNEMO_DB_PATH"`

	// Tier capacities; zero means unbounded.
	ShortTermCapacity  int `json:"short_term_capacity" env:"MNEMO_SHORT_TERM_CAPACITY"`
	MediumTermCapacity int `json:"medium_term_capacity" env:"MNEMO_MEDIUM_TERM_CAPACITY"`

	// Promotion thresholds out of the bounded tiers.
	ShortTermPromotionThreshold  float64 `json:"short_term_promotion_threshold" env:"MNEMO_SHORT_TERM_PROMOTION_THRESHOLD"`
	MediumTermPromotionThreshold float64 `json:"medium_term_promotion_threshold" env:"MNEMO_MEDIUM_TERM_PROMOTION_THRESHOLD"`

	// SimilarityThreshold filters retrieval candidates under a query.
	SimilarityThreshold float64 `json:"similarity_threshold" env:"MNEMO_SIMILARITY_THRESHOLD"`

	// Retention sweep settings. Schedule is a cron expression; empty
	// disables background sweeps. LongTerm/Meta are exempt unless
	// explicitly opted in.
	SweepSchedule      string  `json:"sweep_schedule" env:"MNEMO_SWEEP_SCHEDULE"`
	SweepMaxAgeDays    int     `json:"sweep_max_age_days" env:"MNEMO_SWEEP_MAX_AGE_DAYS"`
	SweepMinImportance float64 `json:"sweep_min_importance" env:"MNEMO_SWEEP_MIN_IMPORTANCE"`
	SweepLongTerm      bool    `json:"sweep_long_term" env:"MNEMO_SWEEP_LONG_TERM"`
	SweepMeta          bool    `json:"sweep_meta" env:"MNEMO_SWEEP_META"`

	// TierRules overrides the ordered tier decision table (JSON only).
	TierRules []memory.TierRule `json:"tier_rules,omitempty"`

	// LogLevel: debug, info, warn, error.
	LogLevel string `json:"log_level" env:"MNEMO_LOG_LEVEL"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DBPath:                       filepath.Join(home, ".mnemo", "memory.db"),
		ShortTermCapacity:            1000,
		MediumTermCapacity:           10000,
		ShortTermPromotionThreshold:  0.7,
		MediumTermPromotionThreshold: 0.8,
		SimilarityThreshold:          0.5,
		SweepMaxAgeDays:              30,
		SweepMinImportance:           0.3,
		LogLevel:                     "info",
	}
}

// Load reads the JSON config at path (missing file means defaults) and
// applies MNEMO_* environment overrides on top.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// defaults only
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := json.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the store could not honor.
func (c Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("config: db_path is required")
	}
	if c.ShortTermCapacity < 0 || c.MediumTermCapacity < 0 {
		return fmt.Errorf("config: capacities must be >= 0")
	}
	for _, th := range []float64{c.ShortTermPromotionThreshold, c.MediumTermPromotionThreshold} {
		if th < 0 || th > 1 {
			return fmt.Errorf("config: promotion thresholds must be in [0,1]")
		}
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("config: similarity_threshold must be in [0,1]")
	}
	if c.SweepMinImportance < 0 || c.SweepMinImportance > 1 {
		return fmt.Errorf("config: sweep_min_importance must be in [0,1]")
	}
	if c.SweepMaxAgeDays < 0 {
		return fmt.Errorf("config: sweep_max_age_days must be >= 0")
	}
	return nil
}

// MemoryConfig translates the file-level configuration into the service
// configuration.
func (c Config) MemoryConfig() memory.Config {
	sweepTiers := []memory.Tier{memory.TierShortTerm, memory.TierMediumTerm}
	if c.SweepLongTerm {
		sweepTiers = append(sweepTiers, memory.TierLongTerm)
	}
	if c.SweepMeta {
		sweepTiers = append(sweepTiers, memory.TierMeta)
	}

	return memory.Config{
		Path: c.DBPath,
		Capacities: map[memory.Tier]int{
			memory.TierShortTerm:  c.ShortTermCapacity,
			memory.TierMediumTerm: c.MediumTermCapacity,
		},
		PromotionThresholds: map[memory.Tier]float64{
			memory.TierShortTerm:  c.ShortTermPromotionThreshold,
			memory.TierMediumTerm: c.MediumTermPromotionThreshold,
		},
		SimilarityThreshold: c.SimilarityThreshold,
		TierRules:           c.TierRules,
		SweepTiers:          sweepTiers,
		SweepSchedule:       c.SweepSchedule,
		SweepMaxAge:         time.Duration(c.SweepMaxAgeDays) * 24 * time.Hour,
		SweepMinImportance:  c.SweepMinImportance,
	}
}
