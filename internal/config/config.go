// Package config loads nvdsync settings from defaults, an optional
// config.yaml, NVDSYNC_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default values.
const (
	DefaultDBPath        = "db/nvd-metadata.db"
	DefaultDataDir       = "data"
	DefaultBaseURL       = "https://nvd.nist.gov/feeds/json/cve/1.1"
	DefaultTimeout       = 60 * time.Second
	DefaultDelay         = 7 * time.Second
	DefaultDelayWithKey  = 700 * time.Millisecond
	DefaultLogMaxSizeMB  = 10
	DefaultLogMaxBackups = 3
	DefaultLogMaxAgeDays = 28
)

var v *viper.Viper

// configFile is an explicit config path set by --config.
var configFile string

// Settings is the typed view of the configuration.
type Settings struct {
	DBPath  string
	DataDir string

	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	Delay        time.Duration
	DelayWithKey time.Duration

	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	Verbose       bool
}

// SetConfigFile makes the next Initialize read path instead of searching
// the default locations. Unlike a discovered file, a missing explicit file
// is an error.
func SetConfigFile(path string) {
	configFile = path
}

// Initialize sets up the viper configuration singleton.
// Should be called once at application startup.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			v.AddConfigPath(filepath.Join(xdg, "nvdsync"))
		}
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "nvdsync"))
		}
	}

	// NVDSYNC_DATA_DIR -> data-dir, NVDSYNC_LOG_MAX_SIZE_MB -> log-max-size-mb
	v.SetEnvPrefix("NVDSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	// NVD_API_KEY is accepted as well.
	if err := v.BindEnv("api-key", "NVDSYNC_API_KEY", "NVD_API_KEY"); err != nil {
		return fmt.Errorf("failed to bind api-key: %w", err)
	}

	v.SetDefault("db", DefaultDBPath)
	v.SetDefault("data-dir", DefaultDataDir)
	v.SetDefault("base-url", DefaultBaseURL)
	v.SetDefault("api-key", "")
	v.SetDefault("timeout", DefaultTimeout)
	v.SetDefault("delay", DefaultDelay)
	v.SetDefault("delay-with-key", DefaultDelayWithKey)
	v.SetDefault("log-file", "")
	v.SetDefault("log-max-size-mb", DefaultLogMaxSizeMB)
	v.SetDefault("log-max-backups", DefaultLogMaxBackups)
	v.SetDefault("log-max-age-days", DefaultLogMaxAgeDays)
	v.SetDefault("verbose", false)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// ResetForTesting drops the singleton and any explicit config path.
func ResetForTesting() {
	v = nil
	configFile = ""
}

// ConfigFileUsed returns the path of the loaded config file, or "".
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// GetString retrieves a string configuration value
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// Set sets a configuration value. Flags use it to override file and
// environment values.
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// AllSettings returns all configuration settings as a map
func AllSettings() map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v.AllSettings()
}

// Load returns the current settings. Initialize must have been called.
func Load() (Settings, error) {
	if v == nil {
		return Settings{}, fmt.Errorf("config not initialized")
	}

	s := Settings{
		DBPath:        GetString("db"),
		DataDir:       GetString("data-dir"),
		BaseURL:       GetString("base-url"),
		APIKey:        GetString("api-key"),
		Timeout:       GetDuration("timeout"),
		Delay:         GetDuration("delay"),
		DelayWithKey:  GetDuration("delay-with-key"),
		LogFile:       GetString("log-file"),
		LogMaxSizeMB:  GetInt("log-max-size-mb"),
		LogMaxBackups: GetInt("log-max-backups"),
		LogMaxAgeDays: GetInt("log-max-age-days"),
		Verbose:       GetBool("verbose"),
	}

	if s.DBPath == "" {
		return s, fmt.Errorf("db path cannot be empty")
	}
	if s.DataDir == "" {
		return s, fmt.Errorf("data-dir cannot be empty")
	}
	if s.Timeout <= 0 {
		return s, fmt.Errorf("timeout must be positive, got %s", s.Timeout)
	}
	if s.Delay < 0 || s.DelayWithKey < 0 {
		return s, fmt.Errorf("delays cannot be negative")
	}
	return s, nil
}
