// ABOUTME: The init command writes a starter gateway.yaml with a random JWT secret
// ABOUTME: Refuses to overwrite an existing config unless --force is given

package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var initOpts struct {
	provider string
	dbPath   string
	force    bool
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runInit(cmd.OutOrStdout(), getConfigPath())
	},
}

func init() {
	initCmd.Flags().StringVar(&initOpts.provider, "provider", "gemini", "answer provider: gemini or echo")
	initCmd.Flags().StringVar(&initOpts.dbPath, "db", "", "SQLite path (default: data dir/gateway.db)")
	initCmd.Flags().BoolVar(&initOpts.force, "force", false, "overwrite an existing config")
	rootCmd.AddCommand(initCmd)
}

func runInit(out io.Writer, configPath string) error {
	if initOpts.provider != "gemini" && initOpts.provider != "echo" {
		return fmt.Errorf("unknown provider %q (want gemini or echo)", initOpts.provider)
	}
	if _, err := os.Stat(configPath); err == nil && !initOpts.force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}

	dbPath := initOpts.dbPath
	if dbPath == "" {
		dbPath = filepath.Join(getDataPath(), "gateway.db")
	}

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	secret := base64.StdEncoding.EncodeToString(secretBytes)

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(starterConfig(dbPath, secret, initOpts.provider)), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Fprintf(out, "  ✓ Created config: %s\n", configPath)
	fmt.Fprintf(out, "  Database: %s\n", dbPath)
	if initOpts.provider == "gemini" {
		color.New(color.FgYellow).Fprintln(out, "  Set GEMINI_API_KEY before running `pdfchat-gateway serve`")
	}
	return nil
}

func starterConfig(dbPath, secret, providerKind string) string {
	providerBlock := "  kind: \"echo\"\n"
	if providerKind == "gemini" {
		providerBlock = "  kind: \"gemini\"\n  api_key: \"${GEMINI_API_KEY}\"\n  timeout: \"120s\"\n"
	}

	return fmt.Sprintf(`# pdfchat-gateway configuration
# Generated by pdfchat-gateway init

server:
  http_addr: "localhost:8080"

database:
  path: %q

auth:
  jwt_secret: %q
  # google_client_id: "your-client.apps.googleusercontent.com"
  session_ttl: "168h"

provider:
%s
conversation:
  history_turns: 0
  replay_window: "5m"

uploads:
  max_bytes: 20971520

logging:
  level: "info"
  format: "text"

metrics:
  enabled: false
  path: "/metrics"

mcp:
  enabled: false
  path: "/mcp"
`, dbPath, secret, providerBlock)
}
