package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gdsec-test/dcu-middleware/internal/auth"
	"github.com/gdsec-test/dcu-middleware/internal/config"
	"github.com/gdsec-test/dcu-middleware/internal/observability"
	"github.com/gdsec-test/dcu-middleware/internal/persistence"
	"github.com/gdsec-test/dcu-middleware/internal/queue"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "dcu-middleware",
		Short:        "Enrich, triage and route abuse tickets",
		SilenceUsage: true,
	}
	root.AddCommand(newWorkerCmd(), newProcessCmd(), newMigrateCmd(), newTokenCmd())
	return root
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume the intake queue and serve the ops endpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				logger.Error("startup failed", zap.Error(err))
				return err
			}
			defer a.close()

			server := a.httpServer()
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return a.workerPool().Run(gctx)
			})
			g.Go(func() error {
				if err := server.Listen(cfg.App.Addr()); err != nil {
					return fmt.Errorf("fiber listen: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				logger.Info("shutting down")
				return server.ShutdownWithTimeout(10 * time.Second)
			})
			return g.Wait()
		},
	}
}

func newProcessCmd() *cobra.Command {
	var clearFailed bool
	cmd := &cobra.Command{
		Use:   "process <ticketId>",
		Short: "Run the pipeline once for a stored ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			outcome, err := a.handler.Handle(cmd.Context(), queue.Task{
				Kind:                  queue.TaskProcess,
				TicketID:              args[0],
				ClearFailedEnrichment: clearFailed,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s status=%s closed=%t reason=%q failed_enrichment=%t routing_failed=%t\n",
				outcome.TicketID, outcome.Status, outcome.Closed, outcome.CloseReason, outcome.FailedEnrichment, outcome.RoutingFailed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&clearFailed, "clear-failed-enrichment", false, "remove the failedEnrichment flag before processing")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			pg, err := persistence.NewPostgres(cmd.Context(), cfg.Postgres, logger)
			if err != nil {
				return err
			}
			defer pg.Close()
			return persistence.RunMigrations(cmd.Context(), pg.PoolHandle(), dir, logger)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", persistence.DefaultMigrationsDir, "directory holding goose migrations")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var ttlMinutes int
	cmd := &cobra.Command{
		Use:   "token <service>",
		Short: "Mint a service token accepted on the /v1 endpoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			token, expiresAt, err := auth.NewTokenManager(cfg.Auth.ServiceTokenSecret, ttlMinutes).GenerateToken(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\nexpires %s\n", token, expiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().IntVar(&ttlMinutes, "ttl", 60, "token lifetime in minutes")
	return cmd
}

func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("failed to load config: %v", err)
		return nil, nil, err
	}
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Printf("failed to init logger: %v", err)
		return nil, nil, err
	}
	return cfg, logger, nil
}
