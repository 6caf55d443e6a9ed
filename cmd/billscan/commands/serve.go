package commands

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/billscan/billscan/internal/api"
	"github.com/billscan/billscan/internal/config"
	"github.com/billscan/billscan/internal/logger"
	"github.com/billscan/billscan/internal/pipeline"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the billscan HTTP API",
	Long: `Run the extraction pipeline as an HTTP service.

Endpoints:
  GET  /health                    liveness probe
  POST /api/v1/bills/process      extract from a document URL
  POST /api/v1/bills/upload       extract from an uploaded file

Set --api-key (or BILLSCAN_SERVER_API_KEY) to require bearer
authentication on the extraction endpoints.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	flags := serveCmd.Flags()
	flags.String("port", "", "listen port (default 8080)")
	flags.String("api-key", "", "bearer token required on extraction endpoints")
	flags.Bool("log-json", false, "emit structured JSON logs")

	_ = viper.BindPFlag("port", flags.Lookup("port"))
	_ = viper.BindPFlag("server_api_key", flags.Lookup("api-key"))
	_ = viper.BindPFlag("log_json", flags.Lookup("log-json"))
}

func runServe(cmd *cobra.Command, args []string) error {
	logger.Init(logger.Options{
		Debug: viper.GetBool("debug"),
		Quiet: viper.GetBool("quiet"),
		JSON:  viper.GetBool("log_json"),
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}

	orch := pipeline.NewOrchestrator(cfg, provider)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewServer(orch, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			"addr", srv.Addr,
			"provider", provider.Name(),
			"auth", cfg.ServerAPIKey != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
