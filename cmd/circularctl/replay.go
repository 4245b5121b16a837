package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dakota002/gcn.nasa.gov/internal/domain/entity"
	"github.com/dakota002/gcn.nasa.gov/internal/usecase"
)

func replayCmd(opts *options) *cobra.Command {
	var (
		bucket string
		keys   []string
	)

	cmd := &cobra.Command{
		Use:   "replay --key <object-key> [--key <object-key>...]",
		Short: "Run stored emails through the pipeline again",
		Long: `Re-drive raw emails already stored in the incoming bucket, one at a time,
exactly as if a new upload notification had arrived. Every replay of an
accepted email creates a new Circular with a new number. Faulted events are
published to nats.fault_subject with the bucket and key to pass here.

Examples:
  circularctl replay --key 2024/0b3c2d1e
  circularctl replay --bucket circulars-incoming --key a --key b`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := opts.openApp(ctx, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			if bucket == "" {
				bucket = a.Objects.Bucket()
			}

			failed := 0
			for _, key := range keys {
				res := a.Ingest.HandleEvent(ctx, entity.IncomingEvent{
					Bucket:    bucket,
					Key:       key,
					EventName: entity.EventObjectCreatedPut,
				})
				printResult(cmd.OutOrStdout(), res)
				if res.Outcome == usecase.OutcomeFault {
					failed++
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d replays failed", failed, len(keys))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&bucket, "bucket", "b", "", "bucket holding the emails (default: configured incoming bucket)")
	cmd.Flags().StringArrayVarP(&keys, "key", "k", nil, "object key to replay (repeatable)")
	_ = cmd.MarkFlagRequired("key")

	return cmd
}

func printResult(w io.Writer, res usecase.Result) {
	switch res.Outcome {
	case usecase.OutcomeSuccess:
		fmt.Fprintf(w, "%s\tcreated circular %d\n", res.Event, res.CircularID)
	case usecase.OutcomeFault:
		if res.CircularID != 0 {
			fmt.Fprintf(w, "%s\tcreated circular %d, then failed: %v\n", res.Event, res.CircularID, res.Err)
			return
		}
		fmt.Fprintf(w, "%s\tfailed: %v\n", res.Event, res.Err)
	default:
		fmt.Fprintf(w, "%s\t%s\n", res.Event, res.Outcome)
	}
}
