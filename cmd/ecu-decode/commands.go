package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/resident-x/go-apsecu/internal/config"
	"github.com/resident-x/go-apsecu/internal/domain"
	"github.com/resident-x/go-apsecu/internal/parser"
	"github.com/resident-x/go-apsecu/internal/session"
	"github.com/resident-x/go-apsecu/internal/transport"
)

// Command flags
var (
	timezone   string
	compact    bool
	verbose    bool
	frameHex   string
	frameFile  string
	signalHex  string
	inverterQt int
	ecuHost    string
	ecuPort    int
	ecuTimeout time.Duration
)

func init() {
	rootCmd.PersistentFlags().StringVar(&timezone, "timezone", "Local", "Timezone of the device clock")
	rootCmd.PersistentFlags().BoolVar(&compact, "compact", false, "Print JSON on a single line")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log decoder diagnostics to stderr")

	for _, cmd := range []*cobra.Command{infoCmd, invertersCmd, signalCmd} {
		cmd.Flags().StringVar(&frameHex, "hex", "", "Response as a hex dump")
		cmd.Flags().StringVar(&frameFile, "file", "", "File holding the hex dump, - for stdin")
	}
	for _, cmd := range []*cobra.Command{invertersCmd, signalCmd} {
		cmd.Flags().IntVar(&inverterQt, "qty", 0, "Inverter count from the device-info response")
	}
	invertersCmd.Flags().StringVar(&signalHex, "signal", "", "Signal response as a hex dump")

	readCmd.Flags().StringVar(&ecuHost, "host", "", "ECU host name or address")
	readCmd.Flags().IntVar(&ecuPort, "port", 8899, "ECU TCP port")
	readCmd.Flags().DurationVar(&ecuTimeout, "timeout", 30*time.Second, "Per-query timeout")
	_ = readCmd.MarkFlagRequired("host")

	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(invertersCmd)
	rootCmd.AddCommand(signalCmd)
	rootCmd.AddCommand(readCmd)
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Decode a device-info response",
	Example: `  ecu-decode info --hex 41505331313030...
  ecu-decode info --file capture.hex`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := newParser()
		if err != nil {
			return err
		}
		buf, err := readFrame(cmd.InOrStdin(), frameHex, frameFile)
		if err != nil {
			return err
		}

		info, decodeErr := p.DecodeEcuInfo(buf)
		return printResult(cmd.OutOrStdout(), info, decodeErr)
	},
}

var invertersCmd = &cobra.Command{
	Use:   "inverters",
	Short: "Decode an inverter-data response",
	Long: `Decode an inverter-data response. Signal strengths are filled in when the
matching signal response and the inverter count are given.`,
	Example: `  ecu-decode inverters --hex 41505331313030... --signal 41505331313030... --qty 2`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := newParser()
		if err != nil {
			return err
		}
		buf, err := readFrame(cmd.InOrStdin(), frameHex, frameFile)
		if err != nil {
			return err
		}

		var sigBuf []byte
		if signalHex != "" {
			if sigBuf, err = decodeHex(signalHex); err != nil {
				return fmt.Errorf("invalid signal dump: %w", err)
			}
		}

		snapshot := &domain.Snapshot{QtyOfInverters: inverterQt}
		data, decodeErr := p.DecodeInverterData(buf, sigBuf, snapshot)
		return printResult(cmd.OutOrStdout(), data, decodeErr)
	},
}

var signalCmd = &cobra.Command{
	Use:     "signal",
	Short:   "Decode a signal-strength response",
	Example: `  ecu-decode signal --hex 41505331313030... --qty 2`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := newParser()
		if err != nil {
			return err
		}
		buf, err := readFrame(cmd.InOrStdin(), frameHex, frameFile)
		if err != nil {
			return err
		}

		signal, decodeErr := p.DecodeSignal(buf, &domain.Snapshot{QtyOfInverters: inverterQt})
		return printResult(cmd.OutOrStdout(), signal, decodeErr)
	},
}

var readCmd = &cobra.Command{
	Use:     "read",
	Short:   "Run one read cycle against an ECU",
	Example: `  ecu-decode read --host 192.168.1.50`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := config.DefaultConfig()
		cfg.Timezone = timezone
		cfg.ECU.Host = ecuHost
		cfg.ECU.Port = ecuPort
		cfg.ECU.Timeout = ecuTimeout
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger := newLogger()
		p, err := parser.NewParser(cfg, logger)
		if err != nil {
			return err
		}
		reader := session.NewReader(cfg, transport.NewTCPExchanger(cfg, logger), p, logger)

		ctx, cancel := context.WithTimeout(cmd.Context(), 3*(cfg.ECU.Timeout+cfg.ECU.SettleDelay))
		defer cancel()

		_, cycleErr := reader.Update(ctx, true)
		return printResult(cmd.OutOrStdout(), map[string]interface{}{
			"snapshot": reader.Snapshot(),
			"errors":   reader.Errors(),
		}, cycleErr)
	},
}

func newLogger() zerolog.Logger {
	if !verbose {
		return zerolog.Nop()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()
}

func newParser() (*parser.Parser, error) {
	cfg := config.DefaultConfig()
	cfg.Timezone = timezone
	return parser.NewParser(cfg, newLogger())
}

// readFrame loads a response from the --hex or --file flag.
func readFrame(stdin io.Reader, dump, path string) ([]byte, error) {
	switch {
	case dump != "" && path != "":
		return nil, fmt.Errorf("use either --hex or --file")
	case dump != "":
		return decodeHex(dump)
	case path == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return decodeHex(string(data))
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		return decodeHex(string(data))
	default:
		return nil, fmt.Errorf("a response is required, pass --hex or --file")
	}
}

// decodeHex accepts dumps with whitespace and an optional 0x prefix.
func decodeHex(dump string) ([]byte, error) {
	dump = strings.Join(strings.Fields(dump), "")
	dump = strings.TrimPrefix(strings.TrimPrefix(dump, "0x"), "0X")
	return hex.DecodeString(dump)
}

// printResult writes the decoded value, then reports the decode error.
// Partial results are still printed.
func printResult(out io.Writer, value interface{}, decodeErr error) error {
	encoder := json.NewEncoder(out)
	if !compact {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(value); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	if decodeErr != nil {
		return fmt.Errorf("decode failed: %w", decodeErr)
	}
	return nil
}
