package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aws-samples/amazon-ecr-ingestion-demo/client"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/execlog"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/id"
)

func newLogCmd(g *globalFlags) *cobra.Command {
	var (
		asJSON bool
		limit  int
		status string
		server string
	)

	cmd := &cobra.Command{
		Use:   "log [execution-id]",
		Short: "Print the execution log of one execution, or list recent executions",
		Example: `  imagesigner log
  imagesigner log --status failed --limit 5
  imagesigner log exec_01h455vb4pex5vsknk084sn02q --json
  imagesigner log --server http://localhost:8080`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var src logSource
			if server != "" {
				src = client.New(server)
			} else {
				cfg, err := g.loadConfig()
				if err != nil {
					return err
				}
				logger, logCloser := newLogger(cfg.Logging, cmd.ErrOrStderr())
				defer logCloser.Close()

				s, closeStore, err := openStore(ctx, cfg.Store, logger)
				if err != nil {
					return fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
				}
				defer closeStore()
				src = storeSource{s}
			}

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				summaries, err := src.ListExecutions(ctx, execlog.ListOpts{
					Limit:  limit,
					Status: execlog.Status(status),
				})
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(out, summaries)
				}
				return writeSummaries(out, summaries)
			}

			execID, err := id.ParseExecutionID(args[0])
			if err != nil {
				return fmt.Errorf("invalid execution id %q: %w", args[0], err)
			}
			records, err := src.Records(ctx, execID)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(out, records)
			}
			return writeRecords(out, records)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum executions to list")
	cmd.Flags().StringVar(&status, "status", "", "only list executions with this status")
	cmd.Flags().StringVar(&server, "server", "", "read from a running server's API instead of the store")
	return cmd
}

// logSource reads the execution log from a store or from a server.
type logSource interface {
	ListExecutions(ctx context.Context, opts execlog.ListOpts) ([]*execlog.Summary, error)
	Records(ctx context.Context, executionID id.ExecutionID) ([]*execlog.Record, error)
}

var (
	_ logSource = (*client.Client)(nil)
	_ logSource = storeSource{}
)

type storeSource struct{ execlog.Store }

func (s storeSource) Records(ctx context.Context, executionID id.ExecutionID) ([]*execlog.Record, error) {
	return s.Query(ctx, executionID)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeSummaries(w io.Writer, summaries []*execlog.Summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EXECUTION\tDEFINITION\tSTATUS\tSTATE\tATTEMPTS\tSTARTED\tERROR")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			s.ID, s.Definition, s.Status, s.CurrentState, s.Attempts,
			s.StartedAt.Format(time.RFC3339), s.ErrorClass)
	}
	return tw.Flush()
}

func writeRecords(w io.Writer, records []*execlog.Record) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tAT\tKIND\tSTATE\tDETAIL")
	for _, r := range records {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			r.Seq, r.At.Format(time.RFC3339Nano), r.Kind, r.State, recordDetail(r))
	}
	return tw.Flush()
}

func recordDetail(r *execlog.Record) string {
	switch r.Kind {
	case execlog.KindAttempt:
		d := fmt.Sprintf("%s #%d %s", r.Task, r.Attempt, r.Outcome)
		if r.ErrorClass != "" {
			d += fmt.Sprintf(" %s: %s", r.ErrorClass, r.Error)
		}
		if r.Delay > 0 {
			d += fmt.Sprintf(" (retry in %v)", r.Delay)
		}
		return d
	case execlog.KindTransition:
		return "→ " + r.Next
	case execlog.KindExecutionFailed:
		return r.ErrorClass + ": " + r.Error
	case execlog.KindExecutionStarted, execlog.KindExecutionSucceeded:
		return r.Payload.String()
	default:
		return ""
	}
}
