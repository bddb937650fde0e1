// Package config provides configuration management for the go-apsecu application.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. APSECU_ECU_HOST.
const EnvPrefix = "APSECU"

// Config holds all application configuration.
type Config struct {
	// General settings
	LogLevel string `mapstructure:"log_level"`
	Timezone string `mapstructure:"timezone"`

	// ECU connection and polling settings
	ECU struct {
		Host           string        `mapstructure:"host"`
		Port           int           `mapstructure:"port"`
		Timeout        time.Duration `mapstructure:"timeout"`
		SettleDelay    time.Duration `mapstructure:"settle_delay"`
		BufferSize     int           `mapstructure:"buffer_size"`
		UpdateInterval time.Duration `mapstructure:"update_interval"`
		AutoUpdate     bool          `mapstructure:"auto_update"`
	} `mapstructure:"ecu"`

	// Snapshot plausibility checks
	Validation struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"validation"`

	// HTTP API settings
	API struct {
		Enabled bool   `mapstructure:"enabled"`
		Host    string `mapstructure:"host"`
		Port    int    `mapstructure:"port"`
	} `mapstructure:"api"`

	// MQTT settings
	MQTT struct {
		Enabled           bool   `mapstructure:"enabled"`
		Host              string `mapstructure:"host"`
		Port              int    `mapstructure:"port"`
		Username          string `mapstructure:"username"`
		Password          string `mapstructure:"password"`
		Topic             string `mapstructure:"topic"`
		Retain            bool   `mapstructure:"retain"`
		PublishInverters  bool   `mapstructure:"publish_inverters"`
		ConnectionTimeout int    `mapstructure:"connection_timeout_seconds"`

		// Home Assistant Auto-Discovery settings
		HomeAssistantAutoDiscovery struct {
			Enabled            bool   `mapstructure:"enabled"`
			DiscoveryPrefix    string `mapstructure:"discovery_prefix"`
			DeviceName         string `mapstructure:"device_name"`
			DeviceManufacturer string `mapstructure:"device_manufacturer"`
			RetainDiscovery    bool   `mapstructure:"retain_discovery"`
			IncludeDiagnostic  bool   `mapstructure:"include_diagnostic"`
		} `mapstructure:"homeassistant_autodiscovery"`
	} `mapstructure:"mqtt"`

	// PVOutput settings
	PVOutput struct {
		Enabled            bool   `mapstructure:"enabled"`
		APIKey             string `mapstructure:"api_key"`
		SystemID           string `mapstructure:"system_id"`
		URL                string `mapstructure:"url"`
		UseInverterTemp    bool   `mapstructure:"use_inverter_temp"`
		DisableEnergyToday bool   `mapstructure:"disable_energy_today"`
		UpdateLimitMinutes int    `mapstructure:"update_limit_minutes"`
	} `mapstructure:"pvoutput"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{
		LogLevel: "info",
		Timezone: "Local",
	}

	// Default ECU settings
	cfg.ECU.Port = 8899
	cfg.ECU.Timeout = 30 * time.Second
	cfg.ECU.SettleDelay = 5 * time.Second
	cfg.ECU.BufferSize = 1024
	cfg.ECU.UpdateInterval = 300 * time.Second
	cfg.ECU.AutoUpdate = true

	cfg.Validation.Level = "standard"

	// Default API settings
	cfg.API.Enabled = true
	cfg.API.Host = "0.0.0.0"
	cfg.API.Port = 8080

	// Default MQTT settings
	cfg.MQTT.Enabled = false
	cfg.MQTT.Host = "localhost"
	cfg.MQTT.Port = 1883
	cfg.MQTT.Topic = "energy/apsystems"
	cfg.MQTT.Retain = false
	cfg.MQTT.PublishInverters = true
	cfg.MQTT.ConnectionTimeout = 10

	// Default Home Assistant Auto-Discovery settings
	cfg.MQTT.HomeAssistantAutoDiscovery.Enabled = false
	cfg.MQTT.HomeAssistantAutoDiscovery.DiscoveryPrefix = "homeassistant"
	cfg.MQTT.HomeAssistantAutoDiscovery.DeviceName = "APsystems ECU"
	cfg.MQTT.HomeAssistantAutoDiscovery.DeviceManufacturer = "APsystems"
	cfg.MQTT.HomeAssistantAutoDiscovery.RetainDiscovery = true
	cfg.MQTT.HomeAssistantAutoDiscovery.IncludeDiagnostic = true

	// Default PVOutput settings
	cfg.PVOutput.Enabled = false
	cfg.PVOutput.URL = "https://pvoutput.org/service/r2/addstatus.jsp"
	cfg.PVOutput.UpdateLimitMinutes = 5 // 5 minutes between updates

	return cfg
}

// Load reads the configuration from a file and environment variables.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Set up Viper
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Override with specific config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		// Config file not found, use defaults
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			log.Info().Str("component", "config").Msg("No configuration file found, using defaults")
		} else {
			// Other errors (like invalid YAML) should be returned
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	// Bind environment variables. Keys must be known to viper for
	// AutomaticEnv to pick them up during Unmarshal.
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("unable to bind env for %s: %w", key, err)
		}
	}

	// Unmarshal config
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	return cfg, nil
}

// envKeys lists the settings that can be overridden from the environment.
var envKeys = []string{
	"log_level",
	"timezone",
	"ecu.host",
	"ecu.port",
	"ecu.timeout",
	"ecu.settle_delay",
	"ecu.buffer_size",
	"ecu.update_interval",
	"ecu.auto_update",
	"validation.level",
	"api.enabled",
	"api.host",
	"api.port",
	"mqtt.enabled",
	"mqtt.host",
	"mqtt.port",
	"mqtt.username",
	"mqtt.password",
	"mqtt.topic",
	"mqtt.homeassistant_autodiscovery.enabled",
	"pvoutput.enabled",
	"pvoutput.api_key",
	"pvoutput.system_id",
}

// Validate checks the settings required to poll an ECU.
func (c *Config) Validate() error {
	if c.ECU.Host == "" {
		return errors.New("ecu.host is required")
	}
	if c.ECU.Port <= 0 || c.ECU.Port > 65535 {
		return fmt.Errorf("ecu.port %d out of range", c.ECU.Port)
	}
	if c.ECU.BufferSize < 64 {
		return fmt.Errorf("ecu.buffer_size %d too small, minimum is 64", c.ECU.BufferSize)
	}
	if c.ECU.UpdateInterval <= 0 {
		return errors.New("ecu.update_interval must be positive")
	}
	switch c.Validation.Level {
	case "basic", "standard", "strict":
	default:
		return fmt.Errorf("unknown validation.level %q", c.Validation.Level)
	}
	if c.PVOutput.Enabled && (c.PVOutput.APIKey == "" || c.PVOutput.SystemID == "") {
		return errors.New("pvoutput.api_key and pvoutput.system_id are required when pvoutput is enabled")
	}
	return nil
}

// ECUAddress returns the host:port of the ECU.
func (c *Config) ECUAddress() string {
	return net.JoinHostPort(c.ECU.Host, strconv.Itoa(c.ECU.Port))
}

// Print displays the current configuration.
func (c *Config) Print() {
	logger := log.With().Str("component", "config").Logger()
	logger.Info().Msg("go-apsecu Configuration:")
	logger.Info().Msg("-----------------------------")
	logger.Info().Str("log_level", c.LogLevel).Msg("Log Level")
	logger.Info().Str("timezone", c.Timezone).Msg("Timezone")

	logger.Info().
		Str("address", c.ECUAddress()).
		Dur("timeout", c.ECU.Timeout).
		Dur("settle_delay", c.ECU.SettleDelay).
		Int("buffer_size", c.ECU.BufferSize).
		Dur("update_interval", c.ECU.UpdateInterval).
		Bool("auto_update", c.ECU.AutoUpdate).
		Msg("ECU")

	logger.Info().Str("level", c.Validation.Level).Msg("Validation")

	logger.Info().Bool("enabled", c.API.Enabled).Msg("API Enabled")
	if c.API.Enabled {
		logger.Info().
			Str("host", c.API.Host).
			Int("port", c.API.Port).
			Msg("API Server")
	}

	logger.Info().Bool("enabled", c.MQTT.Enabled).Msg("MQTT Enabled")
	if c.MQTT.Enabled {
		logger.Info().
			Str("host", c.MQTT.Host).
			Int("port", c.MQTT.Port).
			Str("topic", c.MQTT.Topic).
			Bool("publish_inverters", c.MQTT.PublishInverters).
			Bool("homeassistant_autodiscovery_enabled", c.MQTT.HomeAssistantAutoDiscovery.Enabled).
			Msg("MQTT Configuration")
	}

	logger.Info().Bool("enabled", c.PVOutput.Enabled).Msg("PVOutput Enabled")
	if c.PVOutput.Enabled {
		logger.Info().
			Str("system_id", c.PVOutput.SystemID).
			Int("update_limit_minutes", c.PVOutput.UpdateLimitMinutes).
			Msg("PVOutput Configuration")
	}

	logger.Info().Msg("-----------------------------")
}
