package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aws-samples/amazon-ecr-ingestion-demo/payload"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/workflow"
)

func newRunCmd(g *globalFlags) *cobra.Command {
	var (
		definition      string
		input           string
		definitionFiles []string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one execution to completion and print its summary",
		Long: `run starts one execution outside the schedule and blocks until it
finishes, including the scan wait. Interrupting the command fails the
execution with class "canceled" once any in-flight task call returns.`,
		Example: `  imagesigner run
  imagesigner run --input '{"images":["library/alpine:3.20"]}'
  imagesigner run --definition my-flow --definition-file my-flow.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := payload.Empty()
			if input != "" {
				v, err := payload.Parse([]byte(input))
				if err != nil {
					return fmt.Errorf("--input: %w", err)
				}
				in = v
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := g.newApp(ctx, cmd.ErrOrStderr(), definitionFiles)
			if err != nil {
				return err
			}
			defer a.Close()

			exec, err := a.eng.RunOnce(ctx, definition, in)
			if err != nil {
				return err
			}
			sum, err := a.store.GetExecution(cmd.Context(), exec.ID)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(sum); err != nil {
				return err
			}
			if exec.Status != workflow.StatusSucceeded {
				return fmt.Errorf("execution %s %s in %s: %s: %s", exec.ID, exec.Status, exec.Current, exec.ErrorClass, exec.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&definition, "definition", workflow.ImageSignerName, "name of the definition to run")
	cmd.Flags().StringVar(&input, "input", "", "JSON input payload (default {})")
	cmd.Flags().StringArrayVar(&definitionFiles, "definition-file", nil, "additional YAML workflow definition (repeatable)")
	return cmd
}
