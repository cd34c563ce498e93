package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	stateDir    string
	controlAddr string
	tokenFile   string
	timeout     time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "meshctl",
		Short: "meshctl operates and inspects a meshd node",
		Long: `meshctl is a command line interface for meshd, the peer-to-peer
mesh coordinator. It scaffolds node state, brings up a node in the
foreground for development, and queries a running node's health.`,
	}

	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", defaultStateDir(), "Node state directory")
	rootCmd.PersistentFlags().StringVar(&controlAddr, "control-addr", "127.0.0.1:7655", "meshd control API address")
	rootCmd.PersistentFlags().StringVar(&tokenFile, "token-file", "", "Control API bearer token file (defaults to <state-dir>/control.token)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "Request timeout")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newDevCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newHealthCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func defaultStateDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.meshd"
	}
	return "/var/lib/meshd"
}

func effectiveTokenFile() string {
	if tokenFile != "" {
		return tokenFile
	}
	return stateDir + "/control.token"
}
