package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all kgraph configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Retention RetentionConfig `yaml:"retention"`
}

type ServerConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RetentionConfig is the default (non-rule) retention policy, tunable per
// namespace.
type RetentionConfig struct {
	VisitDays    map[string]int `yaml:"visit_days"`     // kg -> days
	CookieDays   int            `yaml:"cookie_days"`    // habit-cookie max age
	SweepEveryMS int64          `yaml:"sweep_every_ms"` // background sweep period
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37707,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		Retention: RetentionConfig{
			VisitDays: map[string]int{
				"personal": 30,
				"work":     90,
			},
			CookieDays:   14,
			SweepEveryMS: (6 * time.Hour).Milliseconds(),
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path if it exists, then environment overrides. path == "" skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("KG_BIND"); v != "" {
		c.Server.Bind = v
	}
	if v, ok := envInt("KG_PORT"); ok {
		c.Server.Port = v
	}
	if v := os.Getenv("KG_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if c.Retention.VisitDays == nil {
		c.Retention.VisitDays = map[string]int{}
	}
	if v, ok := envInt("KG_RETAIN_VISITS_PERSONAL_DAYS"); ok {
		c.Retention.VisitDays["personal"] = v
	}
	if v, ok := envInt("KG_RETAIN_VISITS_WORK_DAYS"); ok {
		c.Retention.VisitDays["work"] = v
	}
	if v, ok := envInt("KG_RETAIN_COOKIES_DAYS"); ok {
		c.Retention.CookieDays = v
	}
	if v, ok := envInt("KG_SWEEP_EVERY_MS"); ok {
		c.Retention.SweepEveryMS = int64(v)
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// VisitDaysFor returns the visit retention length for a namespace.
func (r RetentionConfig) VisitDaysFor(kg string) int {
	if d, ok := r.VisitDays[kg]; ok {
		return d
	}
	return 30
}

// SweepInterval returns the background sweep period.
func (r RetentionConfig) SweepInterval() time.Duration {
	if r.SweepEveryMS <= 0 {
		return 6 * time.Hour
	}
	return time.Duration(r.SweepEveryMS) * time.Millisecond
}
