package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mnemokit/mnemo/pkg/memory"
)

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := Default()
	if cfg.ShortTermCapacity != def.ShortTermCapacity || cfg.LogLevel != def.LogLevel {
		t.Fatalf("missing file should yield defaults, got %+v", cfg)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"db_path": "/tmp/custom.db",
		"short_term_capacity": 50,
		"sweep_long_term": true,
		"tier_rules": [
			{"tier": 2, "keywords": ["treasure"]}
		]
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBPath != "/tmp/custom.db" {
		t.Fatalf("db_path = %s", cfg.DBPath)
	}
	if cfg.ShortTermCapacity != 50 {
		t.Fatalf("short_term_capacity = %d", cfg.ShortTermCapacity)
	}
	// Untouched keys keep their defaults.
	if cfg.MediumTermCapacity != 10000 {
		t.Fatalf("medium_term_capacity = %d", cfg.MediumTermCapacity)
	}
	if len(cfg.TierRules) != 1 || cfg.TierRules[0].Tier != memory.TierLongTerm {
		t.Fatalf("tier_rules = %+v", cfg.TierRules)
	}
	if !cfg.SweepLongTerm {
		t.Fatal("sweep_long_term not set")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"short_term_capacity": 50}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MNEMO_SHORT_TERM_CAPACITY", "7")
	t.Setenv("MNEMO_SIMILARITY_THRESHOLD", "0.8")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ShortTermCapacity != 7 {
		t.Fatalf("env override lost, capacity = %d", cfg.ShortTermCapacity)
	}
	if cfg.SimilarityThreshold != 0.8 {
		t.Fatalf("similarity_threshold = %v", cfg.SimilarityThreshold)
	}
}

func TestLoad_RejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{nope"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed config accepted")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"empty db path", func(c *Config) { c.DBPath = "" }, false},
		{"negative capacity", func(c *Config) { c.ShortTermCapacity = -1 }, false},
		{"threshold above one", func(c *Config) { c.MediumTermPromotionThreshold = 1.5 }, false},
		{"negative similarity", func(c *Config) { c.SimilarityThreshold = -0.1 }, false},
		{"negative sweep age", func(c *Config) { c.SweepMaxAgeDays = -1 }, false},
		{"unbounded tiers", func(c *Config) { c.ShortTermCapacity = 0; c.MediumTermCapacity = 0 }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}
}

func TestMemoryConfigTranslation(t *testing.T) {
	cfg := Default()
	cfg.SweepMeta = true
	cfg.SweepSchedule = "0 3 * * *"

	mc := cfg.MemoryConfig()
	if mc.Path != cfg.DBPath {
		t.Fatalf("path = %s", mc.Path)
	}
	if mc.Capacities[memory.TierShortTerm] != 1000 || mc.Capacities[memory.TierMediumTerm] != 10000 {
		t.Fatalf("capacities = %v", mc.Capacities)
	}
	if mc.SweepMaxAge != 30*24*time.Hour {
		t.Fatalf("sweep max age = %v", mc.SweepMaxAge)
	}
	want := []memory.Tier{memory.TierShortTerm, memory.TierMediumTerm, memory.TierMeta}
	if len(mc.SweepTiers) != len(want) {
		t.Fatalf("sweep tiers = %v", mc.SweepTiers)
	}
	for i, tier := range want {
		if mc.SweepTiers[i] != tier {
			t.Fatalf("sweep tiers = %v, want %v", mc.SweepTiers, want)
		}
	}
}
