// ABOUTME: Entry point for the pdfchat-gateway server and its operator commands
// ABOUTME: Cobra root command with config path resolution shared by all subcommands

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
              _  __      _           _
  _ __   __| |/ _| ___| |__   __ _| |_
 | '_ \ / _' | |_ / __| '_ \ / _' | __|
 | |_) | (_| |  _| (__| | | | (_| | |_
 | .__/ \__,_|_|  \___|_| |_|\__,_|\__|
 |_|
`

// configFlag holds --config; empty means resolve from the environment.
var configFlag string

var rootCmd = &cobra.Command{
	Use:           "pdfchat-gateway",
	Short:         "Chat with your PDF documents",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("pdfchat-gateway version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "path to gateway.yaml")
	rootCmd.AddCommand(versionCmd)
}

// getConfigPath returns the path to the gateway config file.
// Priority: --config > PDFCHAT_CONFIG > XDG_CONFIG_HOME/pdfchat/gateway.yaml > ~/.config/pdfchat/gateway.yaml
func getConfigPath() string {
	if configFlag != "" {
		return configFlag
	}
	if envPath := os.Getenv("PDFCHAT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "pdfchat", "gateway.yaml")
}

// getDataPath returns the pdfchat data directory.
// Priority: XDG_DATA_HOME/pdfchat > ~/.local/share/pdfchat
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "pdfchat")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
