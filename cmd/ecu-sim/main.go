// Package main runs a simulated APsystems ECU that answers the device-info,
// inverter-data and signal queries over TCP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/resident-x/go-apsecu/internal/protocol"
	"github.com/resident-x/go-apsecu/internal/simulator"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		listenAddr = flag.String("listen", "127.0.0.1:8899", "Address to listen on (host:port)")
		ecuID      = flag.String("ecu-id", "216200001234", "ECU id reported by the simulator")
		variant    = flag.String("variant", protocol.EcuVariantA, "Device-info layout variant (01 or 02)")
		lifetime   = flag.Float64("lifetime", 1234.5, "Lifetime energy in kWh")
		jitter     = flag.Int("jitter", 5, "Maximum power variation in W per response")
		verbose    = flag.Bool("verbose", false, "Log every answered query")
		help       = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()

	if *help {
		fmt.Printf("Simulated APsystems ECU\n\n")
		fmt.Printf("Answers device-info, inverter-data and signal queries with synthetic\n")
		fmt.Printf("frames for one inverter of each supported family plus an offline one.\n\n")
		fmt.Printf("Usage:\n")
		flag.PrintDefaults()
		fmt.Printf("\nExample:\n")
		fmt.Printf("  %s -listen 0.0.0.0:8899 -jitter 10 -verbose\n", os.Args[0])
		os.Exit(0)
	}

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()

	if len(*ecuID) != protocol.EcuIDLength {
		log.Fatal().Str("ecu_id", *ecuID).Msgf("ECU id must be %d characters", protocol.EcuIDLength)
	}
	if *variant != protocol.EcuVariantA && *variant != protocol.EcuVariantB {
		log.Fatal().Str("variant", *variant).Msg("Unknown device-info variant")
	}

	fleet := simulator.DefaultFleet()
	fleet.EcuID = *ecuID
	fleet.Variant = *variant
	fleet.LifetimeEnergy = *lifetime

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sim := simulator.NewServer(simulator.Options{Fleet: fleet, Jitter: *jitter})
	if err := sim.Start(ctx, *listenAddr); err != nil {
		log.Fatal().Err(err).Msg("Failed to start simulator")
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down simulator")

	if err := sim.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing simulator")
	}
}
