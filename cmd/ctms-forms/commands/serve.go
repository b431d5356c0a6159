package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/clinprecision/ctms-forms/internal/mcp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	serveTimeout   time.Duration
	serveRateLimit int
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server on stdio",
	Long: `Start the Model Context Protocol server. Requests are read from stdin
and responses written to stdout, one JSON-RPC message per line. Logs go to
stderr.

Examples:
  # Start with the configured profile
  ctms-forms serve

  # Use another credential profile and a shorter tool timeout
  ctms-forms serve --profile staging --timeout 10s`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.SetOut(os.Stderr)
	serveCmd.SetErr(os.Stderr)

	serveCmd.Flags().DurationVar(&serveTimeout, "timeout", 0, "per tool call timeout (default from mcp.timeout)")
	serveCmd.Flags().IntVar(&serveRateLimit, "rate-limit", -1, "requests per minute, 0 disables (default from mcp.rate_limit)")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	timeout := a.cfg.MCP.Timeout
	if serveTimeout > 0 {
		timeout = serveTimeout
	}
	rateLimit := a.cfg.MCP.RateLimit.RequestsPerMinute
	if serveRateLimit >= 0 {
		rateLimit = serveRateLimit
	}

	server := mcp.NewServer(mcp.Dependencies{
		Options:   a.loader,
		Validator: a.engine,
		Health:    a.health,
		Logger:    a.logger,
		Audit:     a.audit,
		Metrics:   a.metrics,
	}, &mcp.ServerOptions{
		Timeout:     timeout,
		RateLimit:   rateLimit,
		ProfileName: a.profile,
	})

	ctx, cancel := signalContext()
	defer cancel()

	a.logger.Info("Starting MCP server",
		zap.String("profile", a.profile),
		zap.String("cache", a.cache.Name()),
		zap.String("session", server.SessionID()),
	)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
