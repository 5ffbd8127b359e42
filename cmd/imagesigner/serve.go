package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aws-samples/amazon-ecr-ingestion-demo/api"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var definitionFiles []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the query API until interrupted",
		Example: `  imagesigner serve --config imagesigner.yaml
  IMAGESIGNER_STORE=postgres IMAGESIGNER_STORE_DSN=postgres://... imagesigner serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, g, cmd, definitionFiles)
		},
	}
	cmd.Flags().StringArrayVar(&definitionFiles, "definition-file", nil, "additional YAML workflow definition (repeatable)")
	return cmd
}

func serve(ctx context.Context, g *globalFlags, cmd *cobra.Command, definitionFiles []string) error {
	a, err := g.newApp(ctx, cmd.ErrOrStderr(), definitionFiles)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.eng.Start(ctx); err != nil {
		return err
	}
	server := api.New(a.eng, api.WithLogger(a.logger))

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.Listen(a.cfg.API.Address)
	})
	group.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down", slog.Duration("timeout", a.cfg.ShutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout)
		defer cancel()
		return errors.Join(
			server.Shutdown(shutdownCtx),
			a.eng.Stop(shutdownCtx),
		)
	})
	return group.Wait()
}
