package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dealerrag/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Wires the retrieval engine, DMS adapter and stores from the
configuration and serves the query API until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		app, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer app.close()

		log, err := buildZapLogger()
		if err != nil {
			return err
		}
		defer log.Sync()

		srv := server.New(app.engine, cfg.Server, cfg.Ingestion, log, app.checks)
		err = srv.Start(ctx)
		// Background DMS syncs drain before the process exits
		app.engine.Wait()
		return err
	},
}

func buildZapLogger() (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
