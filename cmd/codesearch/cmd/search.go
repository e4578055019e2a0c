package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/knath2000/codebase-indexing-sub001/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit      int
	language   string
	kind       string
	file       string
	minScore   float64
	maxPerFile int
	budget     int
	format     string
	references bool
	noHybrid   bool
	rerank     bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed codebase",
		Long: `Search the indexed codebase with hybrid retrieval.

Examples:
  codesearch search "authentication middleware"
  codesearch search "parse config" --language go --limit 5
  codesearch search "error handling" --references --budget 4000
  codesearch search "handleRequest" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd.OutOrStdout(), strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.language, "language", "l", "", "Filter by language (e.g., go, python)")
	cmd.Flags().StringVarP(&opts.kind, "kind", "k", "", "Filter by chunk kind (function, class, method, ...)")
	cmd.Flags().StringVar(&opts.file, "file", "", "Restrict results to one file path")
	cmd.Flags().Float64Var(&opts.minScore, "min-score", 0, "Drop results scoring below this threshold")
	cmd.Flags().IntVar(&opts.maxPerFile, "max-per-file", 0, "Cap results per file (0 = no cap)")
	cmd.Flags().IntVar(&opts.budget, "budget", 0, "Token budget for --references output (0 = config default)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.references, "references", false, "Assemble results into a token-budgeted context window")
	cmd.Flags().BoolVar(&opts.noHybrid, "no-hybrid", false, "Disable keyword fusion, dense results only")
	cmd.Flags().BoolVar(&opts.rerank, "rerank", false, "Force reranking on for this query")

	return cmd
}

func runSearch(ctx context.Context, out io.Writer, text string, opts searchOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pipeline, cleanup, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	q := &search.Query{
		Text:       text,
		Language:   opts.language,
		Kind:       opts.kind,
		FilePath:   opts.file,
		Limit:      opts.limit,
		MinScore:   opts.minScore,
		MaxPerFile: opts.maxPerFile,
	}
	if opts.noHybrid {
		off := false
		q.Hybrid = &off
	}
	if opts.rerank {
		on := true
		q.Rerank = &on
	}

	if opts.references {
		result, err := pipeline.SearchForCodeReferences(ctx, q, opts.budget)
		if err != nil {
			return err
		}
		return printReferences(out, result, opts.format)
	}

	result, err := pipeline.Search(ctx, q)
	if err != nil {
		return err
	}
	return printResults(out, result, opts.format)
}

func printResults(out io.Writer, result *search.Result, format string) error {
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	if len(result.Candidates) == 0 {
		fmt.Fprintln(out, "No results.")
		return nil
	}

	for i, c := range result.Candidates {
		fmt.Fprintf(out, "%2d. %s:%d-%d  [%.3f]", i+1, c.FilePath, c.StartLine, c.EndLine, c.Score)
		if c.Kind != "" {
			fmt.Fprintf(out, " %s", c.Kind)
		}
		if c.Language != "" {
			fmt.Fprintf(out, " (%s)", c.Language)
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "\n%d results in %dms", result.Metadata.TotalResults, result.Metadata.ElapsedMs)
	if result.Metadata.CacheHit {
		fmt.Fprint(out, " (cached)")
	}
	if result.Metadata.Reranked {
		fmt.Fprint(out, " (reranked)")
	}
	fmt.Fprintln(out)
	return nil
}

func printReferences(out io.Writer, result *search.ContextResult, format string) error {
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	window := result.Window
	for _, ref := range window.References {
		fmt.Fprintf(out, "--- %s:%d-%d  [%.3f, %d tokens]\n", ref.FilePath, ref.StartLine, ref.EndLine, ref.Score, ref.Tokens)
		fmt.Fprintln(out, ref.Content)
	}
	fmt.Fprintf(out, "\n%d/%d tokens used\n", window.TokensUsed, window.TokenBudget)
	if window.Truncated {
		fmt.Fprintln(out, window.Summary)
	}
	return nil
}
