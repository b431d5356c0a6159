package commands

import (
	"github.com/clinprecision/ctms-forms/internal/httpapi"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveHTTPListen string

var serveHTTPCmd = &cobra.Command{
	Use:   "serve-http",
	Short: "Start the HTTP API",
	Long: `Serve validation and option loading over HTTP under /api/v1, with
/healthz and Prometheus /metrics.

Examples:
  ctms-forms serve-http --listen :8088`,
	RunE: runServeHTTP,
}

func init() {
	rootCmd.AddCommand(serveHTTPCmd)
	serveHTTPCmd.Flags().StringVar(&serveHTTPListen, "listen", "", "listen address (default from http.listen)")
}

func runServeHTTP(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if !verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	addr := a.cfg.HTTP.Listen
	if serveHTTPListen != "" {
		addr = serveHTTPListen
	}

	router := httpapi.NewRouter(httpapi.Dependencies{
		Options:   a.loader,
		Validator: a.engine,
		Health:    a.health,
		Metrics:   a.metrics,
		Gatherer:  a.registry,
		Logger:    a.logger,
		Audit:     a.audit,
		Profile:   a.profile,
	})

	ctx, cancel := signalContext()
	defer cancel()

	a.logger.Info("Starting HTTP API", zap.String("addr", addr), zap.String("cache", a.cache.Name()))
	return httpapi.Serve(ctx, addr, router, a.logger)
}
