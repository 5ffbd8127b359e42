package main

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/aws-samples/amazon-ecr-ingestion-demo/schedule"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/task"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/workflow"
)

func newValidateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [definition.yaml ...]",
		Short: "Check the configuration and any workflow definition files",
		Example: `  imagesigner validate --config imagesigner.yaml
  imagesigner validate my-flow.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			sched, err := schedule.ParseExpression(cfg.Schedule.Expression, cfg.Schedule.TimeZone)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "config ok: schedule %q in %s, next tick %s\n",
				cfg.Schedule.Expression, cfg.Schedule.TimeZone,
				sched.Next(time.Now()).Format(time.RFC3339))

			for _, path := range args {
				def, err := readDefinition(path)
				if err != nil {
					return err
				}
				describeDefinition(out, path, def)
			}
			return nil
		},
	}
}

func describeDefinition(w io.Writer, path string, def *workflow.Definition) {
	fmt.Fprintf(w, "%s: definition %q ok, starts at %q\n", path, def.Name(), def.StartAt())
	known := []string{task.Pull, task.Sign}
	for _, st := range def.States() {
		switch st.Kind {
		case workflow.KindTask:
			fmt.Fprintf(w, "  %-16s task %s, %d attempts → %s\n", st.Name, st.Task, st.Retry.MaxAttempts, st.Next)
			if !slices.Contains(known, st.Task) {
				fmt.Fprintf(w, "  %-16s warning: task %q needs an invoker bound in code\n", "", st.Task)
			}
		case workflow.KindWait:
			fmt.Fprintf(w, "  %-16s wait %v → %s\n", st.Name, st.Wait, st.Next)
		default:
			fmt.Fprintf(w, "  %-16s end\n", st.Name)
		}
	}
}
