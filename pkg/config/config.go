// Package config loads service settings from an optional YAML file, a .env
// file and LOANLEDGER_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcclellann/loanledger/pkg/calc"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "LOANLEDGER"

type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Ledger   LedgerConfig   `mapstructure:"ledger" yaml:"ledger"`
	Receipts ReceiptsConfig `mapstructure:"receipts" yaml:"receipts"`
	Auth     AuthConfig     `mapstructure:"auth" yaml:"auth"`
}

type ServerConfig struct {
	Address         string        `mapstructure:"address" yaml:"address"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig holds logging configuration options
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`             // debug, info, warn, error
	Format     string `mapstructure:"format" yaml:"format"`           // json, console
	OutputFile string `mapstructure:"output_file" yaml:"output_file"` // optional file output
}

type LedgerConfig struct {
	OverpaymentPolicy     string        `mapstructure:"overpayment_policy" yaml:"overpayment_policy"`   // reject, credit
	ResidualAllocation    string        `mapstructure:"residual_allocation" yaml:"residual_allocation"` // last, first
	AutoApprove           bool          `mapstructure:"auto_approve" yaml:"auto_approve"`
	StatusRefreshInterval time.Duration `mapstructure:"status_refresh_interval" yaml:"status_refresh_interval"`
}

type ReceiptsConfig struct {
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret"` // empty disables auth
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		Server:   ServerConfig{Address: ":8080", ShutdownTimeout: 10 * time.Second},
		Database: DatabaseConfig{Path: "loanledger.db"},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
		Ledger: LedgerConfig{
			OverpaymentPolicy:     string(calc.OverpaymentReject),
			ResidualAllocation:    string(calc.ResidualLast),
			StatusRefreshInterval: time.Hour,
		},
		Receipts: ReceiptsConfig{Prefix: "REC"},
	}
}

// Load reads configuration. A missing config file or .env file is not an error.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file, %s", err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %s", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.address", d.Server.Address)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output_file", d.Logging.OutputFile)
	v.SetDefault("ledger.overpayment_policy", d.Ledger.OverpaymentPolicy)
	v.SetDefault("ledger.residual_allocation", d.Ledger.ResidualAllocation)
	v.SetDefault("ledger.auto_approve", d.Ledger.AutoApprove)
	v.SetDefault("ledger.status_refresh_interval", d.Ledger.StatusRefreshInterval)
	v.SetDefault("receipts.prefix", d.Receipts.Prefix)
	v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if _, err := c.Policy(); err != nil {
		return err
	}
	if c.Ledger.StatusRefreshInterval < 0 {
		return fmt.Errorf("ledger.status_refresh_interval must not be negative, got %s", c.Ledger.StatusRefreshInterval)
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}
	return nil
}

// Policy returns the payment policy described by the ledger section.
func (c *Config) Policy() (calc.Policy, error) {
	return calc.ParsePolicy(c.Ledger.OverpaymentPolicy, c.Ledger.ResidualAllocation)
}

// WriteExample writes the default configuration as YAML.
func WriteExample(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(Default()); err != nil {
		return fmt.Errorf("failed to encode example config: %w", err)
	}
	return enc.Close()
}
