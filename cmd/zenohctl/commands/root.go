package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// connectAddr is the peer endpoint every subcommand dials, e.g.
	// "tcp/127.0.0.1:7447".
	connectAddr string

	// mode is the session.Mode subcommands open with: "client" or "peer".
	mode string

	// outputFormat controls how put/get/sub print payloads.
	outputFormat string
)

// rootCmd is the top-level cobra command for zenohctl.
var rootCmd = &cobra.Command{
	Use:   "zenohctl",
	Short: "CLI client for zenoh-pico sessions",
	Long:  "zenohctl opens short-lived zenoh-pico sessions to put, get, subscribe, serve queries, and scout for peers.",
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&connectAddr, "connect", "tcp/127.0.0.1:7447",
		"peer endpoint to dial, e.g. tcp/127.0.0.1:7447")
	rootCmd.PersistentFlags().StringVar(&mode, "mode", "client",
		"session mode: client or peer")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "text",
		"output format: text, json")

	rootCmd.AddCommand(putCmd())
	rootCmd.AddCommand(getCmd())
	rootCmd.AddCommand(subCmd())
	rootCmd.AddCommand(queryableCmd())
	rootCmd.AddCommand(scoutCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
