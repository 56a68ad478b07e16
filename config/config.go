// Package config - application configuration
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gorm.io/gorm/logger"
)

// VaultConfig vault storage settings
type VaultConfig struct {
	// DBFile the encrypted vault DB file
	DBFile string `mapstructure:"db_file" validate:"required"`
	// TempDir where plaintext dumps and media are staged
	TempDir string `mapstructure:"temp_dir" validate:"required"`
	// SQLLogLevel SQL statement log level
	SQLLogLevel string `mapstructure:"sql_log_level" validate:"oneof=silent error warn info"`
}

// LogConfig application log settings
type LogConfig struct {
	// Level log level
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

// ExportConfig exporter settings
type ExportConfig struct {
	// Port TCP port the exporter listens on
	Port int `mapstructure:"port" validate:"gte=0,lte=65535"`
	// GracePeriod time in-flight dumps get to finish on stop
	GracePeriod time.Duration `mapstructure:"grace_period" validate:"gte=0"`
	// ShutdownTimeout time the server gets to wind down after the grace period
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	// AuthAttemptsPerSecond dump requests accepted per second
	AuthAttemptsPerSecond float64 `mapstructure:"auth_attempts_per_second" validate:"gt=0"`
	// AuthAttemptBurst dump requests accepted in a burst
	AuthAttemptBurst int `mapstructure:"auth_attempt_burst" validate:"gte=1"`
}

// ImportConfig importer settings
type ImportConfig struct {
	// ConnectTimeout bound on establishing the connection to the peer
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"gt=0"`
	// ReadTimeout bound on the whole download
	ReadTimeout time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
}

// PreviewConfig thumbnail settings
type PreviewConfig struct {
	// Size longest thumbnail side in pixels
	Size int `mapstructure:"size" validate:"gte=16,lte=4096"`
	// FFmpeg ffmpeg executable
	FFmpeg string `mapstructure:"ffmpeg" validate:"required"`
}

// ListingConfig entry listing settings
type ListingConfig struct {
	// PageSize entries per page
	PageSize int `mapstructure:"page_size" validate:"gte=1"`
}

// AppConfig the complete application config
type AppConfig struct {
	Vault   VaultConfig   `mapstructure:"vault" validate:"required"`
	Log     LogConfig     `mapstructure:"log" validate:"required"`
	Export  ExportConfig  `mapstructure:"export" validate:"required"`
	Import  ImportConfig  `mapstructure:"import" validate:"required"`
	Preview PreviewConfig `mapstructure:"preview" validate:"required"`
	Listing ListingConfig `mapstructure:"listing" validate:"required"`
}

// EnvPrefix prefix of the environment variables overriding config keys
const EnvPrefix = "INTRAKILL"

/*
InstallDefaultConfigValues install default config values on a viper instance

	@param v *viper.Viper - the viper instance
*/
func InstallDefaultConfigValues(v *viper.Viper) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	v.SetDefault("vault.db_file", filepath.Join(home, ".intrakill", "vault.db"))
	v.SetDefault("vault.temp_dir", os.TempDir())
	v.SetDefault("vault.sql_log_level", "error")

	v.SetDefault("log.level", "info")

	v.SetDefault("export.port", 8080)
	v.SetDefault("export.grace_period", time.Second)
	v.SetDefault("export.shutdown_timeout", time.Second*5)
	v.SetDefault("export.auth_attempts_per_second", 1.0)
	v.SetDefault("export.auth_attempt_burst", 5)

	v.SetDefault("import.connect_timeout", time.Second*5)
	v.SetDefault("import.read_timeout", time.Minute*5)

	v.SetDefault("preview.size", 512)
	v.SetDefault("preview.ffmpeg", "ffmpeg")

	v.SetDefault("listing.page_size", 12)
}

// flagKeys config keys overridable from the command line, by flag name
var flagKeys = map[string]string{
	"db":        "vault.db_file",
	"log-level": "log.level",
	"port":      "export.port",
}

/*
BindFlags bind the command line flags present in a flag set to their config keys.
A flag only overrides the config when it is given.

	@param v *viper.Viper - the viper instance
	@param flags *pflag.FlagSet - command line flags
*/
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for flagName, key := range flagKeys {
		flag := flags.Lookup(flagName)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag '%s' [%w]", flagName, err)
		}
	}
	return nil
}

/*
Load read the application config. Values come from the defaults, then the config file
when one is given, then INTRAKILL_* environment variables, then bound flags.

	@param v *viper.Viper - the viper instance, with any flags already bound
	@param configFile string - optional TOML or YAML config file
	@returns the validated config
*/
func Load(v *viper.Viper, configFile string) (AppConfig, error) {
	InstallDefaultConfigValues(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return AppConfig{}, fmt.Errorf("failed to read config file %s [%w]", configFile, err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("failed to parse config [%w]", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("invalid config [%w]", err)
	}
	return cfg, nil
}

// GormLogLevel the gorm logger level of the SQL log level setting
func (c VaultConfig) GormLogLevel() logger.LogLevel {
	switch c.SQLLogLevel {
	case "silent":
		return logger.Silent
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	}
	return logger.Error
}
