package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache and pipeline statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd.Context(), cmd.OutOrStdout(), format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	return cmd
}

func runStats(ctx context.Context, out io.Writer, format string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pipeline, cleanup, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	stats := pipeline.Stats()
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	fmt.Fprintf(out, "Query cache:\n")
	fmt.Fprintf(out, "  entries:   %d\n", stats.Cache.Size)
	fmt.Fprintf(out, "  hits:      %d\n", stats.Cache.Hits)
	fmt.Fprintf(out, "  misses:    %d\n", stats.Cache.Misses)
	fmt.Fprintf(out, "  hit rate:  %.1f%%\n", stats.Cache.HitRate*100)
	fmt.Fprintf(out, "  ttl:       %s\n", stats.Cache.TTL)
	fmt.Fprintf(out, "  memory:    ~%d bytes\n", stats.Cache.MemoryBytes)

	if len(stats.Stages) > 0 {
		fmt.Fprintf(out, "Stage time shares:\n")
		names := make([]string, 0, len(stats.Stages))
		for name := range stats.Stages {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(out, "  %-9s %.1f%%\n", name, stats.Stages[name])
		}
	}
	return nil
}
