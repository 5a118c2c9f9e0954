// Package config loads fusionrec settings from a YAML or JSON file, FUSIONREC_*
// environment variables and built-in defaults, in increasing order of
// precedence: defaults, then file, then environment.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/banshee-data/fusion.record/internal/payload"
	"github.com/banshee-data/fusion.record/internal/transform"
	"github.com/banshee-data/fusion.record/internal/units"
)

// EnvPrefix is prepended to every environment override, e.g.
// FUSIONREC_LOGGING_LEVEL=debug.
const EnvPrefix = "FUSIONREC"

const (
	defaultServerPort     = 50061
	defaultMaxRecvMsgSize = 64 << 20
	defaultWorkers        = 4
)

// Config holds all configuration for the application.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Reference ReferenceConfig `mapstructure:"reference"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Server    ServerConfig    `mapstructure:"server"`
	Display   DisplayConfig   `mapstructure:"display"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// ReferenceConfig names the reference frames sensors are calibrated against.
type ReferenceConfig struct {
	TowerMarker  string `mapstructure:"tower_marker"`
	TowerFrame   string `mapstructure:"tower_frame"`
	VehicleFrame string `mapstructure:"vehicle_frame"`
}

// CatalogConfig locates the record catalog database and the records it indexes.
type CatalogConfig struct {
	DSN        string `mapstructure:"dsn"`
	RecordsDir string `mapstructure:"records_dir"`
	Workers    int    `mapstructure:"workers"`
}

// ServerConfig holds gRPC frame service configuration.
type ServerConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	MaxRecvMsgSize int    `mapstructure:"max_recv_msg_size"`
	MaxSendMsgSize int    `mapstructure:"max_send_msg_size"`
}

// DisplayConfig controls how timestamps and speeds are printed. A non-empty
// Timezone takes precedence over TimezoneOffsetHours.
type DisplayConfig struct {
	TimezoneOffsetHours float64 `mapstructure:"timezone_offset_hours"`
	Timezone            string  `mapstructure:"timezone"`
	Precision           string  `mapstructure:"precision"`
	SpeedUnits          string  `mapstructure:"speed_units"`
}

// FormatTimestamp renders ts for display, falling back to decimal seconds
// when the settings cannot be applied.
func (d DisplayConfig) FormatTimestamp(ts payload.Timestamp) string {
	offset := d.TimezoneOffsetHours
	if d.Timezone != "" {
		o, err := units.OffsetHours(ts.Time(), d.Timezone)
		if err != nil {
			return ts.String()
		}
		offset = o
	}
	s, err := ts.Format(d.Precision, offset)
	if err != nil {
		return ts.String()
	}
	return s
}

// FormatSpeed renders a speed in m/s in the configured units.
func (d DisplayConfig) FormatSpeed(mps float64) string {
	return fmt.Sprintf("%.1f %s", units.ConvertSpeed(mps, d.SpeedUnits), units.Label(d.SpeedUnits))
}

// Load reads configuration from file and environment variables.
// An empty configPath searches ./fusionrec.yaml and $HOME/.fusionrec; a
// missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("fusionrec")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.fusionrec")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration with nothing but defaults applied.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", "")

	v.SetDefault("reference.tower_marker", transform.DefaultTowerMarker)
	v.SetDefault("reference.tower_frame", transform.DefaultTowerReference)
	v.SetDefault("reference.vehicle_frame", transform.DefaultVehicleReference)

	v.SetDefault("catalog.dsn", "fusionrec.db")
	v.SetDefault("catalog.records_dir", ".")
	v.SetDefault("catalog.workers", defaultWorkers)

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.max_recv_msg_size", defaultMaxRecvMsgSize)
	v.SetDefault("server.max_send_msg_size", defaultMaxRecvMsgSize)

	v.SetDefault("display.timezone_offset_hours", 0.0)
	v.SetDefault("display.timezone", "")
	v.SetDefault("display.precision", "ns")
	v.SetDefault("display.speed_units", units.MPS)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Reference.TowerMarker == "" {
		return fmt.Errorf("reference.tower_marker is required")
	}
	if c.Reference.TowerFrame == "" || c.Reference.VehicleFrame == "" {
		return fmt.Errorf("reference.tower_frame and reference.vehicle_frame are required")
	}

	if c.Catalog.DSN == "" {
		return fmt.Errorf("catalog.dsn is required")
	}
	if c.Catalog.Workers < 1 {
		return fmt.Errorf("catalog.workers must be at least 1, got %d", c.Catalog.Workers)
	}

	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}
	if c.Server.MaxRecvMsgSize < 1 || c.Server.MaxSendMsgSize < 1 {
		return fmt.Errorf("server message size limits must be positive")
	}

	if c.Display.TimezoneOffsetHours < -12 || c.Display.TimezoneOffsetHours > 14 {
		return fmt.Errorf("display.timezone_offset_hours must be between -12 and 14, got %v", c.Display.TimezoneOffsetHours)
	}
	if c.Display.Timezone != "" && !units.IsTimezoneValid(c.Display.Timezone) {
		return fmt.Errorf("display.timezone %q is not a known tz database zone", c.Display.Timezone)
	}
	if c.Display.Precision != "ns" && c.Display.Precision != "s" {
		return fmt.Errorf("display.precision must be ns or s, got %q", c.Display.Precision)
	}
	if !units.IsValid(c.Display.SpeedUnits) {
		return fmt.Errorf("display.speed_units must be one of %s, got %q", units.ValidUnitsString(), c.Display.SpeedUnits)
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Resolver builds the reference-frame policy.
func (c ReferenceConfig) Resolver() transform.Resolver {
	return transform.Resolver{
		TowerMarker:      c.TowerMarker,
		TowerReference:   c.TowerFrame,
		VehicleReference: c.VehicleFrame,
	}
}
