// ABOUTME: The serve command: prints the startup banner and runs the gateway
// ABOUTME: Also hosts the health and ready checks against a running gateway

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/pdfchat-gateway/internal/config"
	"github.com/2389/pdfchat-gateway/internal/gateway"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check gateway liveness",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return checkEndpoint(cmd.Context(), cmd.OutOrStdout(), "/health")
	},
}

var readyCmd = &cobra.Command{
	Use:   "ready",
	Short: "Check gateway readiness (database reachable)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return checkEndpoint(cmd.Context(), cmd.OutOrStdout(), "/health/ready")
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, healthCmd, readyCmd)
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Provider:  %s", cfg.Provider.Kind)
	if cfg.Provider.Model != "" {
		gray.Printf(" (%s)", cfg.Provider.Model)
	}
	fmt.Println()

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	} else {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}

	if cfg.Auth.GoogleClientID == "" {
		yellow.Print("    ! ")
		fmt.Println("Google sign-in disabled; issue tokens with `pdfchat-gateway token`")
	}

	fmt.Println()

	logger.Info("starting pdfchat-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"provider", cfg.Provider.Kind,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// checkEndpoint requests path on the configured HTTP address and prints the body.
func checkEndpoint(ctx context.Context, out io.Writer, path string) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, body)
	}

	fmt.Fprintln(out, "healthy")
	return nil
}
