package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config represents runtime configuration for the bot.
type Config struct {
	BasicConfig BasicConfig    `json:"basic_config"`
	Telegram    TelegramConfig `json:"telegram"`
	Gemini      GeminiConfig   `json:"gemini"`
	Sessions    SessionConfig  `json:"sessions"`
	Redis       RedisConfig    `json:"redis"`
	Database    DatabaseConfig `json:"database"`
	Log         LogConfig      `json:"log"`
}

type BasicConfig struct {
	ServerAddress     string `json:"server_address"`
	LibraryDir        string `json:"library_dir"`
	MinWorkers        int    `json:"min_workers"`
	MaxWorkers        int    `json:"max_workers"`
	QueueSize         int    `json:"queue_size"`
	WorkerIdleTimeout int    `json:"worker_idle_timeout"` // seconds
}

type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout int    `json:"poll_timeout"` // seconds
	Debug       bool   `json:"debug"`
}

type GeminiConfig struct {
	APIKey         string  `json:"api_key"`
	Model          string  `json:"model"`
	Instruction    string  `json:"instruction"`
	RequestTimeout int     `json:"request_timeout"` // seconds, per relayed message
	PollInterval   int     `json:"poll_interval"`   // milliseconds, first wait
	PollMaxWait    int     `json:"poll_max_wait"`   // milliseconds, cap per wait
	PollMultiplier float64 `json:"poll_multiplier"`
	PollAttempts   int     `json:"poll_attempts"`
	PollTimeout    int     `json:"poll_timeout"` // seconds, whole poll
}

type SessionConfig struct {
	IdleTTL     int `json:"idle_ttl_minutes"` // 0 keeps sessions until reset
	ArtifactTTL int `json:"artifact_ttl_hours"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// Enabled reports whether a redis server was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Host) != ""
}

type DatabaseConfig struct {
	Driver        string `json:"driver"`
	DSN           string `json:"dsn"`
	Host          string `json:"host"`
	Port          int    `json:"port"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	DBName        string `json:"db_name"`
	Params        string `json:"params"`
	RetentionDays int    `json:"retention_days"`
	CleanInterval int    `json:"clean_interval"` // minutes
}

// Enabled reports whether a transcript database was configured.
func (d DatabaseConfig) Enabled() bool {
	return strings.TrimSpace(d.Driver) != ""
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

const (
	DefaultModel       = "gemini-2.5-flash"
	DefaultInstruction = "Analyze this document and be ready to answer my questions about it."
	DefaultLibraryDir  = "pdfs"
	DefaultPort        = "8080"
)

// ErrMissingCredentials is returned by Validate when the bot cannot talk to Telegram or Gemini.
var ErrMissingCredentials = errors.New("telegram token and gemini api key must be configured")

// Load reads configuration from the provided path (defaults to config.json) and
// overlays environment variables. A missing default file is not an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = "config.json"
	}

	cfg := &Config{}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	switch {
	case err == nil:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
		if cfg.Database.Driver != "" && cfg.Database.DSN != "" && !isSQLiteMemory(cfg.Database.DSN) &&
			isSQLite(cfg.Database.Driver) && !filepath.IsAbs(cfg.Database.DSN) {
			cfg.Database.DSN = filepath.Join(filepath.Dir(absPath), cfg.Database.DSN)
		}
	case os.IsNotExist(err) && !explicit:
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// Validate checks the secrets needed to run the bot.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" || strings.TrimSpace(c.Gemini.APIKey) == "" {
		return ErrMissingCredentials
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		cfg.Gemini.APIKey = v
	} else if v := os.Getenv("GEMINI_API_KEY"); v != "" && cfg.Gemini.APIKey == "" {
		cfg.Gemini.APIKey = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		cfg.Gemini.Model = v
	}
	if v := os.Getenv("PDF_DIR"); v != "" {
		cfg.BasicConfig.LibraryDir = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.BasicConfig.ServerAddress = ":" + v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Redis.Port = port
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
}

func applyDefaults(cfg *Config) {
	b := &cfg.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = ":" + DefaultPort
	}
	if b.LibraryDir == "" {
		b.LibraryDir = DefaultLibraryDir
	}
	if b.MinWorkers <= 0 {
		b.MinWorkers = 2
	}
	if b.MaxWorkers < b.MinWorkers {
		b.MaxWorkers = b.MinWorkers * 4
	}
	if b.QueueSize <= 0 {
		b.QueueSize = 256
	}
	if b.WorkerIdleTimeout <= 0 {
		b.WorkerIdleTimeout = 60
	}

	if cfg.Telegram.PollTimeout <= 0 {
		cfg.Telegram.PollTimeout = 60
	}

	g := &cfg.Gemini
	if g.Model == "" {
		g.Model = DefaultModel
	}
	if g.Instruction == "" {
		g.Instruction = DefaultInstruction
	}
	if g.RequestTimeout <= 0 {
		g.RequestTimeout = 120
	}
	if g.PollInterval <= 0 {
		g.PollInterval = 2000
	}
	if g.PollMaxWait <= 0 {
		g.PollMaxWait = 10000
	}
	if g.PollMultiplier < 1 {
		g.PollMultiplier = 1.5
	}
	if g.PollAttempts <= 0 {
		g.PollAttempts = 60
	}
	if g.PollTimeout <= 0 {
		g.PollTimeout = 300
	}

	if cfg.Sessions.ArtifactTTL <= 0 {
		// remote uploads are kept for 48h
		cfg.Sessions.ArtifactTTL = 46
	}

	if cfg.Redis.Enabled() && cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Database.Enabled() {
		if cfg.Database.RetentionDays <= 0 {
			cfg.Database.RetentionDays = 30
		}
		if cfg.Database.CleanInterval <= 0 {
			cfg.Database.CleanInterval = 60
		}
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func isSQLite(driver string) bool {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return true
	}
	return false
}

func isSQLiteMemory(dsn string) bool {
	return strings.HasPrefix(dsn, ":memory:") || strings.HasPrefix(dsn, "file::memory:")
}
