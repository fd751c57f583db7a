package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	DataDir      string             `koanf:"data_dir"`
	Server       ServerConfig       `koanf:"server"`
	Database     DatabaseConfig     `koanf:"database"`
	Engines      EnginesConfig      `koanf:"engines"`
	Library      LibraryConfig      `koanf:"library"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Broadcaster  BroadcasterConfig  `koanf:"broadcaster"`
	TMDB         TMDBConfig         `koanf:"tmdb"`
	Subtitles    SubtitlesConfig    `koanf:"subtitles"`
	Jellyfin     JellyfinConfig     `koanf:"jellyfin"`
	Logging      LoggingConfig      `koanf:"logging"`
}

type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

type DatabaseConfig struct {
	Driver         string `koanf:"driver"`
	URL            string `koanf:"url"`
	Path           string `koanf:"path"`
	MaxConnections int    `koanf:"max_connections"`
}

type EnginesConfig struct {
	Aria2        Aria2Config        `koanf:"aria2"`
	Transmission TransmissionConfig `koanf:"transmission"`
}

type Aria2Config struct {
	Enabled     bool   `koanf:"enabled"`
	RPCURL      string `koanf:"rpc_url"`
	RPCSecret   string `koanf:"rpc_secret"`
	DownloadDir string `koanf:"download_dir"`
	Managed     bool   `koanf:"managed"`
	RPCPort     int    `koanf:"rpc_port"`
	Trackers    bool   `koanf:"trackers"`
}

type TransmissionConfig struct {
	Enabled     bool   `koanf:"enabled"`
	RPCURL      string `koanf:"rpc_url"`
	Username    string `koanf:"username"`
	Password    string `koanf:"password"`
	DownloadDir string `koanf:"download_dir"`
}

type LibraryConfig struct {
	MediaRoot       string   `koanf:"media_root"`
	MoviesDir       string   `koanf:"movies_dir"`
	TVDir           string   `koanf:"tv_dir"`
	VideoExtensions []string `koanf:"video_extensions"`
}

type OrchestratorConfig struct {
	PollInterval string `koanf:"poll_interval"`
}

type BroadcasterConfig struct {
	Interval string `koanf:"interval"`
}

type TMDBConfig struct {
	Enabled      bool   `koanf:"enabled"`
	APIToken     string `koanf:"api_token"`
	BaseURL      string `koanf:"base_url"`
	ImageBaseURL string `koanf:"image_base_url"`
	ImageSize    string `koanf:"image_size"`
}

type SubtitlesConfig struct {
	Enabled   bool   `koanf:"enabled"`
	APIKey    string `koanf:"api_key"`
	UserAgent string `koanf:"user_agent"`
	BaseURL   string `koanf:"base_url"`
	Language  string `koanf:"language"`
}

type JellyfinConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	Token   string `koanf:"token"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Load reads config from TOML file (if provided) then overlays env vars.
func Load(configPath string) (*Config, error) {
	// Secrets commonly live in a .env next to the binary.
	_ = godotenv.Load()

	k := koanf.New(".")

	// 1. Load defaults
	if err := loadDefaults(k); err != nil {
		return nil, err
	}

	// 2. Load TOML config file if provided
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, err
		}
	}

	// 3. Load env vars: ML_SERVER__PORT -> server.port, ML_TMDB__API_TOKEN -> tmdb.api_token
	if err := k.Load(env.ProviderWithValue("ML_", ".", func(key, value string) (string, interface{}) {
		if value == "" {
			return "", nil
		}
		return envKey(key), value
	}), nil); err != nil {
		return nil, err
	}

	// 4. Handle top-level convenience env vars
	for name, key := range convenienceEnv {
		if v := os.Getenv(name); v != "" {
			k.Set(key, v)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if cfg.Engines.Aria2.DownloadDir == "" {
		cfg.Engines.Aria2.DownloadDir = filepath.Join(cfg.DataDir, "downloads", "aria2")
	}
	if cfg.Engines.Transmission.DownloadDir == "" {
		cfg.Engines.Transmission.DownloadDir = filepath.Join(cfg.DataDir, "downloads", "transmission")
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = filepath.Join(cfg.DataDir, "medialoader.db")
	}

	return &cfg, nil
}

// envKey maps ML_SECTION__SUB_KEY to section.sub_key. Double underscores
// separate levels so keys like api_token survive.
func envKey(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, "ML_"))
	return strings.ReplaceAll(key, "__", ".")
}

// convenienceEnv lists the variable names the original deployment scripts use.
var convenienceEnv = map[string]string{
	"ML_DATABASE_URL":   "database.url",
	"ARIA2_RPC":         "engines.aria2.rpc_url",
	"ARIA2_SECRET":      "engines.aria2.rpc_secret",
	"TRANSMISSION_URL":  "engines.transmission.rpc_url",
	"TRANSMISSION_USER": "engines.transmission.username",
	"TRANSMISSION_PASS": "engines.transmission.password",
	"MEDIA_ROOT":        "library.media_root",
	"TMDB_API_TOKEN":    "tmdb.api_token",
	"OPENSUBTITLES_KEY": "subtitles.api_key",
	"JELLYFIN_URL":      "jellyfin.url",
	"JELLYFIN_TOKEN":    "jellyfin.token",
}

// Validate reports configuration that cannot produce a working service.
func (c *Config) Validate() error {
	var errs []error
	if !c.Engines.Aria2.Enabled && !c.Engines.Transmission.Enabled {
		errs = append(errs, errors.New("at least one engine must be enabled"))
	}
	if strings.TrimSpace(c.Library.MediaRoot) == "" {
		errs = append(errs, errors.New("library.media_root is required"))
	}
	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}
	if len(c.Library.VideoExtensions) == 0 {
		errs = append(errs, errors.New("library.video_extensions must not be empty"))
	}
	return errors.Join(errs...)
}

// PollInterval returns the orchestrator tick, falling back to 2s.
func (c *Config) PollInterval() time.Duration {
	return parseDuration(c.Orchestrator.PollInterval, 2*time.Second)
}

// BroadcastInterval returns the broadcaster tick, falling back to 2s.
func (c *Config) BroadcastInterval() time.Duration {
	return parseDuration(c.Broadcaster.Interval, 2*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
