// Package config resolves researchshell settings from defaults, an optional
// YAML config file, .env files, RESEARCH_* environment variables and flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"researchshell/internal/logger"
)

// EnvPrefix is the prefix of environment variables that override settings.
const EnvPrefix = "RESEARCH"

// AppName names the directory under the user's config home.
const AppName = "researchshell"

// Setting keys. Flags bind to these names with BindPFlag.
const (
	KeyBaseURL        = "base_url"
	KeyBudget         = "budget"
	KeyMaxBadAttempt  = "max_bad_attempt"
	KeyRequestTimeout = "request_timeout"
	KeyStorage        = "storage"
	KeyDataDir        = "data_dir"
	KeyExportDir      = "export_dir"
	KeyExportFormat   = "export_format"
	KeyWatchStorage   = "watch_storage"
	KeyRenderStyle    = "render_style"
	KeyWordWrap       = "word_wrap"
)

// Storage backends.
const (
	StorageJSON   = "json"
	StorageSQLite = "sqlite"
)

// Config is the resolved configuration.
type Config struct {
	BaseURL        string        `mapstructure:"base_url"`
	Budget         int           `mapstructure:"budget"`
	MaxBadAttempt  int           `mapstructure:"max_bad_attempt"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Storage        string        `mapstructure:"storage"`
	DataDir        string        `mapstructure:"data_dir"`
	ExportDir      string        `mapstructure:"export_dir"`
	ExportFormat   string        `mapstructure:"export_format"`
	WatchStorage   bool          `mapstructure:"watch_storage"`
	RenderStyle    string        `mapstructure:"render_style"`
	WordWrap       int           `mapstructure:"word_wrap"`
}

// LoadOptions controls where Load looks for configuration.
type LoadOptions struct {
	// ConfigFile is an explicit config file; it must exist when set.
	ConfigFile string
	// ConfigDir overrides the user config directory.
	ConfigDir string
	// WorkDir overrides the directory searched for a local .env file.
	WorkDir string
	// TestMode skips .env files and config file discovery.
	TestMode bool
}

// UserConfigDir returns $XDG_CONFIG_HOME/researchshell, falling back to
// ~/.config/researchshell.
func UserConfigDir() (string, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		configHome = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configHome, AppName), nil
}

// SetDefaults registers every setting with its default value.
func SetDefaults(v *viper.Viper, configDir string) {
	v.SetDefault(KeyBaseURL, "http://localhost:3000")
	v.SetDefault(KeyBudget, 1000000)
	v.SetDefault(KeyMaxBadAttempt, 3)
	v.SetDefault(KeyRequestTimeout, 30*time.Second)
	v.SetDefault(KeyStorage, StorageJSON)
	v.SetDefault(KeyDataDir, filepath.Join(configDir, "data"))
	v.SetDefault(KeyExportDir, ".")
	v.SetDefault(KeyExportFormat, "json")
	v.SetDefault(KeyWatchStorage, true)
	v.SetDefault(KeyRenderStyle, "auto")
	v.SetDefault(KeyWordWrap, 100)
}

// Load resolves the configuration into v and returns it. Precedence, highest
// first: flags bound to v, environment, .env files, config file, defaults.
func Load(v *viper.Viper, opts LoadOptions) (Config, error) {
	configDir := opts.ConfigDir
	if configDir == "" {
		dir, err := UserConfigDir()
		if err != nil {
			return Config{}, err
		}
		configDir = dir
	}

	SetDefaults(v, configDir)

	if !opts.TestMode {
		if err := LoadDotEnv(configDir, opts.WorkDir); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := readConfigFile(v, configDir, opts); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode configuration: %w", err)
	}
	cfg.Storage = strings.ToLower(strings.TrimSpace(cfg.Storage))
	cfg.ExportFormat = strings.ToLower(strings.TrimSpace(cfg.ExportFormat))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	logger.Debug("Configuration loaded", "base_url", cfg.BaseURL, "storage", cfg.Storage, "data_dir", cfg.DataDir)
	return cfg, nil
}

func readConfigFile(v *viper.Viper, configDir string, opts LoadOptions) error {
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", opts.ConfigFile, err)
		}
		return nil
	}
	if opts.TestMode {
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	logger.Debug("Config file loaded", "path", v.ConfigFileUsed())
	return nil
}

// LoadDotEnv loads .env from the working directory and then from the config
// directory. Variables already in the environment are never overridden, so
// the working directory wins over the config directory. Missing files are
// not an error.
func LoadDotEnv(configDir, workDir string) error {
	if workDir == "" {
		dir, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		workDir = dir
	}

	for _, dir := range []string{workDir, configDir} {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err != nil {
			continue
		}
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("failed to load .env file %s: %w", envPath, err)
		}
		logger.Debug("Loaded .env file", "path", envPath)
	}
	return nil
}

// Validate rejects settings no component can work with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("%s must not be empty", KeyBaseURL)
	}
	if c.Budget <= 0 {
		return fmt.Errorf("%s must be positive, got %d", KeyBudget, c.Budget)
	}
	if c.MaxBadAttempt <= 0 {
		return fmt.Errorf("%s must be positive, got %d", KeyMaxBadAttempt, c.MaxBadAttempt)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%s must be positive, got %s", KeyRequestTimeout, c.RequestTimeout)
	}
	switch c.Storage {
	case StorageJSON, StorageSQLite:
	default:
		return fmt.Errorf("unsupported %s %q (supported: json, sqlite)", KeyStorage, c.Storage)
	}
	switch c.ExportFormat {
	case "json", "yaml", "yml":
	default:
		return fmt.Errorf("unsupported %s %q (supported: json, yaml)", KeyExportFormat, c.ExportFormat)
	}
	if c.WordWrap < 0 {
		return fmt.Errorf("%s must not be negative, got %d", KeyWordWrap, c.WordWrap)
	}
	return nil
}

// SQLitePath is the database file used by the sqlite backend.
func (c Config) SQLitePath() string {
	return filepath.Join(c.DataDir, "research.db")
}
