// Package main provides the entry point for the go-apsecu daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/resident-x/go-apsecu/internal/config"
	"github.com/resident-x/go-apsecu/internal/domain"
	"github.com/resident-x/go-apsecu/internal/parser"
	"github.com/resident-x/go-apsecu/internal/pubsub"
	"github.com/resident-x/go-apsecu/internal/service"
	pvoutput "github.com/resident-x/go-apsecu/internal/service/pvoutput"
	"github.com/resident-x/go-apsecu/internal/session"
	"github.com/resident-x/go-apsecu/internal/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	Version = "unknown" // Default version, can be overridden by build flags
)

func main() {
	code := run() // run() returns an int
	os.Exit(code) // os.Exit is called after deferred functions in run() execute
}

func run() int {
	// Parse command line flags
	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	printConfig := flag.Bool("print-config", false, "Print the effective configuration and exit")
	flag.Parse()

	// Show version if requested
	if *showVersion {
		fmt.Printf("go-apsecu %s\n", Version)
		return 0
	}

	// Initialize context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		return 1
	}

	// Initialize logger with the configured log level
	initLogger(cfg.LogLevel)

	if *printConfig {
		cfg.Print()
		return 0
	}

	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return 1
	}

	log.Info().Str("version", Version).Msg("Starting go-apsecu")

	// Log service configuration for debugging
	logServiceConfiguration(cfg)

	// Initialize the decode pipeline
	dataParser, err := parser.NewParser(cfg, log.Logger)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize parser")
		return 1
	}
	exchanger := transport.NewTCPExchanger(cfg, log.Logger)
	reader := session.NewReader(cfg, exchanger, dataParser, log.Logger)

	// Initialize MQTT publisher
	var publisher domain.MessagePublisher
	if cfg.MQTT.Enabled {
		mqttPublisher := pubsub.NewMQTTPublisher(cfg)
		if err := mqttPublisher.Connect(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to connect to MQTT broker, using noop publisher")
			publisher = pubsub.NewNoopPublisher()
		} else {
			publisher = mqttPublisher
			log.Info().Msg("MQTT publisher connected successfully")
		}
	} else {
		log.Info().Msg("MQTT disabled, using noop publisher")
		publisher = pubsub.NewNoopPublisher()
	}

	// Initialize PVOutput service
	var monitoringService domain.MonitoringService
	if cfg.PVOutput.Enabled {
		pvoutClient := pvoutput.NewClient(cfg)
		if err := pvoutClient.Connect(); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize PVOutput client")
			monitoringService = pvoutput.NewNoopClient()
		} else {
			monitoringService = pvoutClient
		}
	} else {
		// Use NoopClient when PVOutput is disabled
		monitoringService = pvoutput.NewNoopClient()
	}

	// Create and start the poller
	poller, err := service.NewPoller(cfg, reader, publisher, monitoringService)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create poller")
		return 1
	}
	poller.SetVersion(Version)

	if err := poller.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to start poller")
		return 1
	}

	log.Info().
		Str("ecu", cfg.ECUAddress()).
		Dur("interval", cfg.ECU.UpdateInterval).
		Msg("Polling started successfully")

	// Handle graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	sig := <-signalChan
	log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

	// Create context with timeout for graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Cancel an in-flight read cycle before waiting for the loop
	cancel()

	if err := poller.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping poller")
		return 1
	}

	log.Info().Fields(poller.GetMetrics()).Msg("Poller stopped")
	return 0
}

// initLogger configures the global zerolog logger.
func initLogger(level string) {
	// Set up pretty console logging for development
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

	// Parse the log level
	logLevel, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		fmt.Printf("Invalid log level '%s', defaulting to 'info'\n", level)
		logLevel = zerolog.InfoLevel
	}

	// Configure global logger
	zerolog.SetGlobalLevel(logLevel)
	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}

// logServiceConfiguration logs the current service configuration for debugging.
func logServiceConfiguration(cfg *config.Config) {
	log.Debug().Msg("=== Service Configuration ===")

	// General settings
	log.Debug().
		Str("log_level", cfg.LogLevel).
		Str("timezone", cfg.Timezone).
		Str("validation_level", cfg.Validation.Level).
		Msg("General settings")

	// ECU settings
	log.Debug().
		Str("address", cfg.ECUAddress()).
		Dur("timeout", cfg.ECU.Timeout).
		Dur("settle_delay", cfg.ECU.SettleDelay).
		Int("buffer_size", cfg.ECU.BufferSize).
		Dur("update_interval", cfg.ECU.UpdateInterval).
		Bool("auto_update", cfg.ECU.AutoUpdate).
		Msg("ECU configuration")

	// API settings
	log.Debug().
		Bool("enabled", cfg.API.Enabled).
		Str("host", cfg.API.Host).
		Int("port", cfg.API.Port).
		Msg("HTTP API configuration")

	// MQTT settings
	if cfg.MQTT.Enabled {
		log.Debug().
			Bool("enabled", cfg.MQTT.Enabled).
			Str("host", cfg.MQTT.Host).
			Int("port", cfg.MQTT.Port).
			Str("username", cfg.MQTT.Username).
			Str("topic", cfg.MQTT.Topic).
			Bool("retain", cfg.MQTT.Retain).
			Bool("publish_inverters", cfg.MQTT.PublishInverters).
			Msg("MQTT configuration")

		// Home Assistant Auto-Discovery
		ha := cfg.MQTT.HomeAssistantAutoDiscovery
		if ha.Enabled {
			log.Debug().
				Bool("enabled", ha.Enabled).
				Str("discovery_prefix", ha.DiscoveryPrefix).
				Str("device_name", ha.DeviceName).
				Str("device_manufacturer", ha.DeviceManufacturer).
				Bool("retain_discovery", ha.RetainDiscovery).
				Bool("include_diagnostic", ha.IncludeDiagnostic).
				Msg("Home Assistant auto-discovery configuration")
		} else {
			log.Debug().Bool("enabled", false).Msg("Home Assistant auto-discovery disabled")
		}
	} else {
		log.Debug().Bool("enabled", false).Msg("MQTT disabled")
	}

	// PVOutput settings
	if cfg.PVOutput.Enabled {
		log.Debug().
			Bool("enabled", cfg.PVOutput.Enabled).
			Str("system_id", cfg.PVOutput.SystemID).
			Str("url", cfg.PVOutput.URL).
			Bool("use_inverter_temp", cfg.PVOutput.UseInverterTemp).
			Bool("disable_energy_today", cfg.PVOutput.DisableEnergyToday).
			Int("update_limit_minutes", cfg.PVOutput.UpdateLimitMinutes).
			Msg("PVOutput configuration")
	} else {
		log.Debug().Bool("enabled", false).Msg("PVOutput disabled")
	}

	log.Debug().Msg("=== End Configuration ===")
}
