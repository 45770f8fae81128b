package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/hotelres/tracking"
)

func runsCmd(opts *rootOptions) *cobra.Command {
	var (
		experiment string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List runs recorded by the local tracking store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			switch experiment {
			case "":
				experiment = cfg.Tracking.Experiment
			case "all":
				experiment = ""
			}
			store, err := tracking.OpenLocalStore(cfg.Artifacts().MLRunsDir())
			if err != nil {
				return err
			}
			defer closeSink(store, &err)

			records, err := store.List(cmd.Context(), experiment)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}
			return writeRunTable(cmd.OutOrStdout(), records)
		},
	}
	cmd.Flags().StringVar(&experiment, "experiment", "", "experiment name (default tracking.experiment, \"all\" for every experiment)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print full records as JSON")
	return cmd
}

func writeRunTable(w io.Writer, records []tracking.Record) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tEXPERIMENT\tSTATUS\tSTARTED\tMETRICS")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Experiment, r.Status, r.StartTime.Format("2006-01-02 15:04:05"), formatMetrics(r.Metrics))
	}
	return tw.Flush()
}

func formatMetrics(m map[string]float64) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%.4f", k, m[k])
	}
	return strings.Join(parts, " ")
}
