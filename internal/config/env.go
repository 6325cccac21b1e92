// internal/config/env.go

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix namespaces every override variable.
const EnvPrefix = "TUNEROOM_"

// LoadDotEnv loads .env style files into the process environment. Missing
// files are skipped; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

type envVar struct {
	name  string
	apply func(c *Config, v string) error
}

func str(dst func(c *Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func integer(dst func(c *Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func boolean(dst func(c *Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

var envVars = []envVar{
	{"HTTP_ADDR", str(func(c *Config) *string { return &c.Server.HTTPAddr })},
	{"SEED_HALL", boolean(func(c *Config) *bool { return &c.Server.SeedHall })},
	{"SERVER_URL", str(func(c *Config) *string { return &c.Client.ServerURL })},
	{"TOKEN", str(func(c *Config) *string { return &c.Client.Token })},
	{"STORE_BACKEND", str(func(c *Config) *string { return &c.Store.Backend })},
	{"DATA_DIR", str(func(c *Config) *string { return &c.Store.DataDir })},
	{"REDIS_ADDR", str(func(c *Config) *string { return &c.Store.RedisAddr })},
	{"REDIS_PASSWORD", str(func(c *Config) *string { return &c.Store.RedisPassword })},
	{"REDIS_DB", integer(func(c *Config) *int { return &c.Store.RedisDB })},
	{"REDIS_PREFIX", str(func(c *Config) *string { return &c.Store.RedisPrefix })},
	{"DRIFT_THRESHOLD_MS", integer(func(c *Config) *int { return &c.Sync.DriftThresholdMs })},
	{"JWT_SECRET", str(func(c *Config) *string { return &c.Auth.JWTSecret })},
	{"YOUTUBE_API_KEY", str(func(c *Config) *string { return &c.Search.YouTubeAPIKey })},
	{"PIPED_URL", str(func(c *Config) *string { return &c.Search.PipedURL })},
	{"P2P_ENABLED", boolean(func(c *Config) *bool { return &c.P2P.Enabled })},
	{"P2P_PORT", integer(func(c *Config) *int { return &c.P2P.ListenPort })},
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.Log.Level })},
	{"LOG_FORMAT", str(func(c *Config) *string { return &c.Log.Format })},
}

// ApplyEnv overrides cfg from TUNEROOM_* variables. P2P bootstrap peers are
// a comma separated TUNEROOM_P2P_BOOTSTRAP.
func ApplyEnv(cfg *Config) error {
	for _, ev := range envVars {
		v, ok := os.LookupEnv(EnvPrefix + ev.name)
		if !ok {
			continue
		}
		if err := ev.apply(cfg, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, ev.name, err)
		}
	}
	if v, ok := os.LookupEnv(EnvPrefix + "P2P_BOOTSTRAP"); ok {
		cfg.P2P.Bootstrap = nil
		for _, a := range strings.Split(v, ",") {
			if a = strings.TrimSpace(a); a != "" {
				cfg.P2P.Bootstrap = append(cfg.P2P.Bootstrap, a)
			}
		}
	}
	return nil
}

// Resolve is what commands use: ensure the file, layer env overrides on
// top, validate the result.
func Resolve(path string) (Config, error) {
	cfg, _, err := Ensure(path)
	if err != nil {
		return Config{}, err
	}
	return withEnv(cfg)
}

func withEnv(cfg Config) (Config, error) {
	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
