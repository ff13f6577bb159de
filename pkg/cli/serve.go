package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/kotodama/pkg/cli/config"
	httpctrl "github.com/secmon-lab/kotodama/pkg/controller/http"
	"github.com/secmon-lab/kotodama/pkg/service/worker"
	"github.com/secmon-lab/kotodama/pkg/usecase"
	"github.com/secmon-lab/kotodama/pkg/utils/logging"
	"github.com/secmon-lab/kotodama/pkg/utils/safe"
	"github.com/urfave/cli/v3"
)

func cmdServe() *cli.Command {
	var addr string
	var devEcho bool
	var reconcile bool
	var appCfg config.AppConfig
	var repoCfg config.Repository
	var geminiCfg config.Gemini
	var uploadCfg config.Upload

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "HTTP server address",
			Value:       ":8080",
			Sources:     cli.EnvVars("KOTODAMA_ADDR"),
			Destination: &addr,
		},
		&cli.BoolFlag{
			Name:        "dev-echo",
			Usage:       "Use offline hash embedding and echo generation (development only, memory backend)",
			Sources:     cli.EnvVars("KOTODAMA_DEV_ECHO"),
			Destination: &devEcho,
		},
		&cli.BoolFlag{
			Name:        "reconcile",
			Usage:       "Run the stale summary reconcile worker",
			Value:       true,
			Sources:     cli.EnvVars("KOTODAMA_RECONCILE"),
			Destination: &reconcile,
		},
	}

	// Add shared config flags
	flags = append(flags, appCfg.Flags()...)
	flags = append(flags, repoCfg.Flags()...)
	flags = append(flags, geminiCfg.Flags()...)
	flags = append(flags, uploadCfg.Flags()...)

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start HTTP server",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			policy, err := appCfg.Configure()
			if err != nil {
				return goerr.Wrap(err, "failed to load policy configuration")
			}

			// Initialize repository based on backend type
			repo, err := repoCfg.Configure(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to initialize repository")
			}
			defer func() {
				if err := repo.Close(); err != nil {
					logging.Default().Error("failed to close repository", "error", err.Error())
				}
			}()

			prov, err := newProviders(ctx, &geminiCfg, &repoCfg, policy, devEcho)
			if err != nil {
				return err
			}

			ucOpts := []usecase.Option{
				usecase.WithPolicy(policy),
				usecase.WithEmbedder(prov.embedder),
				usecase.WithGenerator(prov.generator),
			}

			uploader, err := uploadCfg.Configure(ctx)
			if err != nil {
				return err
			}
			if uploader != nil {
				defer safe.Close(ctx, uploader)
				ucOpts = append(ucOpts, usecase.WithUploader(uploader))
			}

			uc := usecase.New(repo, ucOpts...)

			var reconcileWorker *worker.SummaryReconcileWorker
			if reconcile {
				reconcileWorker = worker.NewSummaryReconcileWorker(repo.Conversation(), policy.Reconcile.Interval, policy.Reconcile.BatchSize)
				if err := reconcileWorker.Start(ctx); err != nil {
					return goerr.Wrap(err, "failed to start summary reconcile worker")
				}
			}

			server := &http.Server{
				Addr:              addr,
				Handler:           httpctrl.New(uc),
				ReadHeaderTimeout: 30 * time.Second,
			}

			// Setup signal handling for graceful shutdown
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			// Start server in goroutine
			errCh := make(chan error, 1)
			go func() {
				logging.Default().Info("Starting HTTP server", "addr", addr, "uploads", uploader != nil)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- goerr.Wrap(err, "failed to start server")
				}
			}()

			// Wait for shutdown signal or server error
			select {
			case err := <-errCh:
				return err
			case sig := <-sigCh:
				logging.Default().Info("Received shutdown signal", "signal", sig)

				// Create shutdown context with timeout
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				// Attempt graceful shutdown
				if err := server.Shutdown(shutdownCtx); err != nil {
					return goerr.Wrap(err, "failed to shutdown server gracefully")
				}

				if reconcileWorker != nil {
					reconcileWorker.Stop()
				}

				logging.Default().Info("Server shutdown completed")
				return nil
			}
		},
	}
}
