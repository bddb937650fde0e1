// Ecu-decode decodes captured APsystems ECU responses offline.
//
// Responses are passed as hex dumps, as logged by the daemon at debug
// level, and printed as JSON. The read command performs one live cycle
// against an ECU instead.
//
// Usage:
//
//	ecu-decode [command] [flags]
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set by build flags.
var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ecu-decode",
	Short: "APsystems ECU response decoder",
	Long: `Decodes device-info, inverter-data and signal responses captured from an
APsystems ECU and prints the decoded fields as JSON.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
