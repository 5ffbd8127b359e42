package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aws-samples/amazon-ecr-ingestion-demo/client"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/id"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/schedule"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/stream"
)

const defaultServer = "http://localhost:8080"

func newWatchCmd() *cobra.Command {
	var (
		server string
		topics []string
	)

	cmd := &cobra.Command{
		Use:   "watch [execution-id]",
		Short: "Follow lifecycle events from a running server",
		Long: `watch prints lifecycle events as a running server emits them. Given an
execution ID it follows that execution and exits after its terminal event.
Otherwise it follows the given topics until interrupted.`,
		Example: `  imagesigner watch
  imagesigner watch --topic triggers
  imagesigner watch exec_01h455vb4pex5vsknk084sn02q`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c := client.New(server)

			var (
				events <-chan *stream.Event
				err    error
			)
			if len(args) == 1 {
				execID, perr := id.ParseExecutionID(args[0])
				if perr != nil {
					return fmt.Errorf("invalid execution id %q: %w", args[0], perr)
				}
				events, err = c.Watch(ctx, execID)
			} else {
				events, err = c.Subscribe(ctx, topics...)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for evt := range events {
				writeEvent(out, evt)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", defaultServer, "API address of the server")
	cmd.Flags().StringArrayVar(&topics, "topic", nil, "topic to follow (repeatable); default firehose")
	return cmd
}

// writeEvent prints one event per line: time, type, topic, then the data.
func writeEvent(w io.Writer, evt *stream.Event) {
	data := string(evt.Data)
	var compact map[string]any
	if json.Unmarshal(evt.Data, &compact) == nil {
		if b, err := json.Marshal(compact); err == nil {
			data = string(b)
		}
	}
	fmt.Fprintf(w, "%s  %-20s %-45s %s\n", evt.Timestamp.Format(time.RFC3339), evt.Type, evt.Topic, data)
}

func newTriggerCmd() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "List, enable or disable triggers on a running server",
	}
	cmd.PersistentFlags().StringVar(&server, "server", defaultServer, "API address of the server")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List triggers",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				triggers, err := client.New(server).ListTriggers(cmd.Context())
				if err != nil {
					return err
				}
				return writeTriggers(cmd.OutOrStdout(), triggers)
			},
		},
		newSetEnabledCmd(&server, "enable", "Resume firing a trigger", true),
		newSetEnabledCmd(&server, "disable", "Stop firing a trigger; running executions continue", false),
	)
	return cmd
}

func newSetEnabledCmd(server *string, use, short string, enable bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <trigger-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			trgID, err := id.ParseTriggerID(args[0])
			if err != nil {
				return fmt.Errorf("invalid trigger id %q: %w", args[0], err)
			}
			c := client.New(*server)
			var t *schedule.Trigger
			if enable {
				t, err = c.EnableTrigger(cmd.Context(), trgID)
			} else {
				t, err = c.DisableTrigger(cmd.Context(), trgID)
			}
			if err != nil {
				return err
			}
			return writeTriggers(cmd.OutOrStdout(), []*schedule.Trigger{t})
		},
	}
}

func writeTriggers(w io.Writer, triggers []*schedule.Trigger) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TRIGGER\tNAME\tEXPRESSION\tTIME ZONE\tDEFINITION\tENABLED")
	for _, t := range triggers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\n",
			t.ID, t.Name, t.Expression, t.TimeZone, t.Definition, t.Enabled)
	}
	return tw.Flush()
}
