// internal/config/config.go

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/petervdpas/tuneroom/internal/util"
)

type Config struct {
	Server Server `json:"server"`
	Client Client `json:"client"`
	Store  Store  `json:"store"`
	Sync   Sync   `json:"sync"`
	Auth   Auth   `json:"auth"`
	Search Search `json:"search"`
	P2P    P2P    `json:"p2p"`
	Log    Log    `json:"log"`
}

type Server struct {
	HTTPAddr string `json:"http_addr"`

	// Seed the global hall with its background rotation on start.
	SeedHall bool `json:"seed_hall"`

	SweepIntervalSec int `json:"sweep_interval_seconds"`
}

// Client is used by the headless listener.
type Client struct {
	ServerURL string `json:"server_url"`
	Token     string `json:"token"`
	Volume    int    `json:"volume"`

	// Skip the "enable audio" gesture; a headless player has no autoplay policy.
	AutoUnlock bool `json:"auto_unlock"`

	ClockProbes int `json:"clock_probes"`
}

type Store struct {
	Backend string `json:"backend"` // memory | sqlite | redis
	DataDir string `json:"data_dir"`

	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
	RedisPrefix   string `json:"redis_prefix"`

	MaxRetries    int `json:"max_retries"`
	BaseBackoffMs int `json:"base_backoff_ms"`
}

// Sync holds the timing knobs of the client sync loop and the server roster.
// The client-side values hot-reload.
type Sync struct {
	DriftIntervalMs   int `json:"drift_interval_ms"`
	DriftThresholdMs  int `json:"drift_threshold_ms"`
	DisplayIntervalMs int `json:"display_interval_ms"`
	HeartbeatSec      int `json:"heartbeat_seconds"`
	StaleAfterSec     int `json:"stale_after_seconds"`
	MaxPlayFailures   int `json:"max_play_failures"`
	HistoryLimit      int `json:"history_limit"`
}

type Auth struct {
	JWTSecret     string `json:"jwt_secret"`
	TokenTTLHours int    `json:"token_ttl_hours"`
}

type Search struct {
	YouTubeAPIKey string `json:"youtube_api_key"`
	YouTubeURL    string `json:"youtube_url"`
	PipedURL      string `json:"piped_url"`
	TimeoutSec    int    `json:"timeout_seconds"`
	DefaultLimit  int    `json:"default_limit"`
}

type P2P struct {
	Enabled    bool     `json:"enabled"`
	ListenPort int      `json:"listen_port"`
	KeyFile    string   `json:"key_file"`
	Topic      string   `json:"topic"`
	Bootstrap  []string `json:"bootstrap"`
}

type Log struct {
	Level  string `json:"level"`
	Format string `json:"format"` // text | json
}

func Default() Config {
	return Config{
		Server: Server{
			HTTPAddr:         "127.0.0.1:8080",
			SeedHall:         true,
			SweepIntervalSec: 30,
		},
		Client: Client{
			ServerURL:   "http://127.0.0.1:8080",
			Volume:      100,
			AutoUnlock:  true,
			ClockProbes: 5,
		},
		Store: Store{
			Backend:       "memory",
			DataDir:       "data",
			RedisAddr:     "127.0.0.1:6379",
			RedisPrefix:   "tuneroom:",
			MaxRetries:    5,
			BaseBackoffMs: 5,
		},
		Sync: Sync{
			DriftIntervalMs:   1000,
			DriftThresholdMs:  2000,
			DisplayIntervalMs: 250,
			HeartbeatSec:      30,
			StaleAfterSec:     90,
			MaxPlayFailures:   3,
			HistoryLimit:      50,
		},
		Auth: Auth{
			TokenTTLHours: 24,
		},
		Search: Search{
			YouTubeURL:   "https://www.googleapis.com/youtube/v3",
			PipedURL:     "https://piped.video/api/v1",
			TimeoutSec:   8,
			DefaultLimit: 10,
		},
		P2P: P2P{
			ListenPort: 0,
			KeyFile:    "data/p2p.key",
			Topic:      "tuneroom.rooms.v1",
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

func (c *Config) Validate() error {
	// Server
	if strings.TrimSpace(c.Server.HTTPAddr) == "" {
		return errors.New("server.http_addr is required")
	}
	if _, _, err := net.SplitHostPort(c.Server.HTTPAddr); err != nil {
		return fmt.Errorf("server.http_addr: %w", err)
	}
	if c.Server.SweepIntervalSec <= 0 {
		return errors.New("server.sweep_interval_seconds must be > 0")
	}

	// Client
	if u := strings.TrimSpace(c.Client.ServerURL); u != "" {
		if err := validateHTTPURL(u); err != nil {
			return fmt.Errorf("client.server_url: %w", err)
		}
	}
	if c.Client.Volume < 0 || c.Client.Volume > 100 {
		return errors.New("client.volume must be 0..100")
	}
	if c.Client.ClockProbes < 1 || c.Client.ClockProbes > 32 {
		return errors.New("client.clock_probes must be 1..32")
	}

	// Store
	switch c.Store.Backend {
	case "memory":
	case "sqlite":
		if strings.TrimSpace(c.Store.DataDir) == "" {
			return errors.New("store.data_dir is required for the sqlite backend")
		}
	case "redis":
		if strings.TrimSpace(c.Store.RedisAddr) == "" {
			return errors.New("store.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("store.backend must be memory, sqlite or redis, got %q", c.Store.Backend)
	}
	if c.Store.MaxRetries < 0 || c.Store.MaxRetries > 50 {
		return errors.New("store.max_retries must be 0..50")
	}
	if c.Store.BaseBackoffMs < 0 {
		return errors.New("store.base_backoff_ms must be >= 0")
	}

	// Sync
	if c.Sync.DriftIntervalMs < 50 {
		return errors.New("sync.drift_interval_ms must be >= 50")
	}
	if c.Sync.DriftThresholdMs <= 0 {
		return errors.New("sync.drift_threshold_ms must be > 0")
	}
	if c.Sync.DisplayIntervalMs < 10 {
		return errors.New("sync.display_interval_ms must be >= 10")
	}
	if c.Sync.HeartbeatSec <= 0 {
		return errors.New("sync.heartbeat_seconds must be > 0")
	}
	if c.Sync.StaleAfterSec <= c.Sync.HeartbeatSec {
		return errors.New("sync.stale_after_seconds must be > sync.heartbeat_seconds")
	}
	if c.Sync.MaxPlayFailures <= 0 {
		return errors.New("sync.max_play_failures must be > 0")
	}
	if c.Sync.HistoryLimit <= 0 {
		return errors.New("sync.history_limit must be > 0")
	}

	// Auth
	if c.Auth.TokenTTLHours <= 0 {
		return errors.New("auth.token_ttl_hours must be > 0")
	}

	// Search
	for name, raw := range map[string]string{"search.youtube_url": c.Search.YouTubeURL, "search.piped_url": c.Search.PipedURL} {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if err := validateHTTPURL(raw); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.Search.TimeoutSec <= 0 {
		return errors.New("search.timeout_seconds must be > 0")
	}
	if c.Search.DefaultLimit < 1 || c.Search.DefaultLimit > 25 {
		return errors.New("search.default_limit must be 1..25")
	}

	// P2P
	if c.P2P.ListenPort < 0 || c.P2P.ListenPort > 65535 {
		return errors.New("p2p.listen_port must be 0..65535")
	}
	if c.P2P.Enabled {
		if strings.TrimSpace(c.P2P.Topic) == "" {
			return errors.New("p2p.topic is required when p2p is enabled")
		}
		if strings.TrimSpace(c.P2P.KeyFile) == "" {
			return errors.New("p2p.key_file is required when p2p is enabled")
		}
	}

	// Log
	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level %q is not a known level", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return errors.New("log.format must be text or json")
	}

	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("scheme must be http or https")
	}
	if u.Hostname() == "" {
		return errors.New("missing host")
	}
	return nil
}

func (s Sync) DriftInterval() time.Duration {
	return time.Duration(s.DriftIntervalMs) * time.Millisecond
}

func (s Sync) DriftThreshold() time.Duration {
	return time.Duration(s.DriftThresholdMs) * time.Millisecond
}

func (s Sync) DisplayInterval() time.Duration {
	return time.Duration(s.DisplayIntervalMs) * time.Millisecond
}

func (s Sync) Heartbeat() time.Duration { return time.Duration(s.HeartbeatSec) * time.Second }

func (s Sync) StaleAfter() time.Duration { return time.Duration(s.StaleAfterSec) * time.Second }

func Load(path string) (Config, error) {
	cfg, err := LoadPartial(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadPartial reads a config file without validation. Missing fields keep
// their defaults.
func LoadPartial(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	b = stripBOM(b)

	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
