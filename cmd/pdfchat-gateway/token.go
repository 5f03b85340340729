// ABOUTME: Operator commands that work on the database directly
// ABOUTME: token issues a session for a local user; threads lists a user's conversations

package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/pdfchat-gateway/internal/auth"
	"github.com/2389/pdfchat-gateway/internal/config"
	"github.com/2389/pdfchat-gateway/internal/store"
)

// localSubjectPrefix marks users created from the CLI rather than Google sign-in.
const localSubjectPrefix = "local:"

var tokenOpts struct {
	email string
	name  string
	ttl   time.Duration
}

var threadsOpts struct {
	userID     string
	limit      int
	byActivity bool
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a session token for a local user",
	Long: "Creates the user identified by --email if needed and prints a bearer token.\n" +
		"Useful when Google sign-in is not configured, and for MCP clients.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runToken(cmd.Context(), cmd.OutOrStdout())
	},
}

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "List a user's conversation threads",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runThreads(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenOpts.email, "email", "", "user email (required)")
	tokenCmd.Flags().StringVar(&tokenOpts.name, "name", "", "display name (default: email)")
	tokenCmd.Flags().DurationVar(&tokenOpts.ttl, "ttl", 0, "token lifetime (default: auth.session_ttl)")
	_ = tokenCmd.MarkFlagRequired("email")

	threadsCmd.Flags().StringVar(&threadsOpts.userID, "user", "", "user ID (required)")
	threadsCmd.Flags().IntVar(&threadsOpts.limit, "limit", 20, "maximum threads to show")
	threadsCmd.Flags().BoolVar(&threadsOpts.byActivity, "by-activity", false, "order by last activity instead of creation")
	_ = threadsCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(tokenCmd, threadsCmd)
}

func openStore() (*config.Config, *store.SQLiteStore, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return cfg, s, nil
}

func runToken(ctx context.Context, out io.Writer) error {
	email := strings.TrimSpace(tokenOpts.email)
	if email == "" {
		return fmt.Errorf("--email cannot be empty")
	}
	name := strings.TrimSpace(tokenOpts.name)
	if name == "" {
		name = email
	}

	cfg, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	user, err := s.UpsertUserByGoogleID(ctx, localSubjectPrefix+email, name, email)
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}

	ttl := tokenOpts.ttl
	if ttl <= 0 {
		ttl = cfg.Auth.SessionTTL
	}
	token, err := verifier.Generate(user.ID, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	cyan := color.New(color.FgCyan)
	cyan.Fprintln(out, "  User")
	cyan.Fprintln(out, "  ----")
	fmt.Fprintf(out, "  ID:      %s\n", user.ID)
	fmt.Fprintf(out, "  Email:   %s\n", user.Email)
	fmt.Fprintf(out, "  Expires: %s\n", time.Now().Add(ttl).UTC().Format("Jan 02, 2006 15:04 MST"))
	fmt.Fprintln(out)
	fmt.Fprintln(out, token)
	return nil
}

func runThreads(ctx context.Context, out io.Writer) error {
	_, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	threads, err := s.ListThreads(ctx, threadsOpts.userID, store.ListThreadsOptions{
		Limit:      threadsOpts.limit,
		ByActivity: threadsOpts.byActivity,
	})
	if err != nil {
		return fmt.Errorf("listing threads: %w", err)
	}

	if len(threads) == 0 {
		fmt.Fprintln(out, "no threads")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTURNS\tDOC CHARS\tUPDATED")
	for _, t := range threads {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", t.ID, t.TurnCount, len([]rune(t.DocumentText)), t.UpdatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}
