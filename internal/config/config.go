package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

type SourcesConfig struct {
	CodexSessionsDir  string `json:"codex_sessions_dir"`
	ClaudeProjectsDir string `json:"claude_projects_dir"`
	ClaudeConfigDir   string `json:"claude_config_dir"`
}

type ServerConfig struct {
	ListenAddr      string `json:"listen_addr"`
	CacheTTLSeconds int    `json:"cache_ttl_seconds"`
	WatchSources    bool   `json:"watch_sources"`
}

type Config struct {
	Sources  SourcesConfig `json:"sources"`
	Server   ServerConfig  `json:"server"`
	Timezone string        `json:"timezone"` // IANA name; empty means the host zone
	PageSize int           `json:"page_size"`
	DBPath   string        `json:"db_path"`
}

func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Sources: SourcesConfig{
			CodexSessionsDir:  filepath.Join(home, ".codex", "sessions"),
			ClaudeProjectsDir: filepath.Join(home, ".claude", "projects"),
			ClaudeConfigDir:   filepath.Join(home, ".config", "claude", "projects"),
		},
		Server: ServerConfig{
			ListenAddr:      "127.0.0.1:43917",
			CacheTTLSeconds: 120,
			WatchSources:    true,
		},
		PageSize: 30,
		DBPath:   filepath.Join(ConfigDir(), "sessionlens.db"),
	}
}

func ConfigDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "sessionlens")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "sessionlens")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "settings.json")
}

func Load() (Config, error) {
	return LoadFrom(ConfigPath())
}

func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("parsing config %s: %w", path, err)
	}

	defaults := DefaultConfig()
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = defaults.Server.ListenAddr
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = defaults.Server.CacheTTLSeconds
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaults.PageSize
	}
	if cfg.DBPath == "" {
		cfg.DBPath = defaults.DBPath
	}
	return cfg, nil
}

func Save(cfg Config) error {
	return SaveTo(ConfigPath(), cfg)
}

func SaveTo(path string, cfg Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// CacheTTL returns the server cache TTL as a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Server.CacheTTLSeconds) * time.Second
}

// Location resolves the configured timezone; a missing or unknown name falls
// back to the host zone.
func (c Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
