// Package cmd provides the CLI commands for codesearch.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/knath2000/codebase-indexing-sub001/internal/config"
	"github.com/knath2000/codebase-indexing-sub001/internal/embed"
	"github.com/knath2000/codebase-indexing-sub001/internal/logging"
	"github.com/knath2000/codebase-indexing-sub001/internal/search"
	"github.com/knath2000/codebase-indexing-sub001/internal/store"
	"github.com/knath2000/codebase-indexing-sub001/pkg/version"
)

// dataDirName is the per-project index directory.
const dataDirName = ".codesearch"

var (
	debugMode      bool
	configPath     string
	loggingCleanup func()
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codesearch",
		Short: "Hybrid code search over an indexed codebase",
		Long: `Codesearch answers natural-language queries over an indexed codebase
by fusing keyword (BM25) and semantic (embedding) results, with optional
cross-encoder reranking and token-budgeted context assembly.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("codesearch version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default: .codesearch.yaml)")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(*cobra.Command, []string) {
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}

	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newWatchCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	ctx := context.Background()
	return NewRootCmd().ExecuteContext(ctx)
}

func setupLogging(*cobra.Command, []string) error {
	logCfg := logging.DefaultConfig()
	if debugMode {
		logCfg = logging.DebugConfig()
	}

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

// loadConfig reads the project config, falling back to defaults.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigFile
	}
	return config.Load(path)
}

// buildPipeline opens the persisted indexes under the project data directory
// and wires the full search pipeline. The returned cleanup closes everything.
func buildPipeline(ctx context.Context, cfg *config.Config) (*search.Pipeline, func(), error) {
	dataDir := dataDirName
	if _, err := os.Stat(dataDir); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("no index found at %s", dataDir)
	}

	sparse, err := store.NewBleveSparseIndex(filepath.Join(dataDir, "sparse.bleve"))
	if err != nil {
		return nil, nil, err
	}

	catalog := store.NewCatalog()
	if err := catalog.Load(filepath.Join(dataDir, "catalog.gob")); err != nil {
		sparse.Close()
		return nil, nil, fmt.Errorf("load catalog: %w", err)
	}

	embedder, err := embed.NewCachedEmbedder(embed.NewHTTPEmbedder(embed.HTTPConfig{
		Endpoint: cfg.Embeddings.Endpoint,
		Model:    cfg.Embeddings.Model,
		Timeout:  cfg.Embeddings.Timeout,
	}), cfg.Embeddings.CacheSize)
	if err != nil {
		sparse.Close()
		return nil, nil, err
	}

	vectors, err := store.NewHNSWStore(embedder.Dimensions())
	if err != nil {
		// Dimension unknown until the first embedding; probe the server.
		probe, perr := embedder.Embed(ctx, "dimension probe")
		if perr != nil {
			sparse.Close()
			return nil, nil, fmt.Errorf("determine embedding dimensions: %w", perr)
		}
		vectors, err = store.NewHNSWStore(len(probe))
		if err != nil {
			sparse.Close()
			return nil, nil, err
		}
	}
	if err := vectors.Load(filepath.Join(dataDir, "vectors.hnsw")); err != nil {
		sparse.Close()
		return nil, nil, fmt.Errorf("load vector store: %w", err)
	}

	var reranker search.Reranker
	if cfg.Reranker.Enabled {
		r, err := search.NewHTTPReranker(ctx, search.HTTPRerankerConfig{
			Endpoint: cfg.Reranker.Endpoint,
			Model:    cfg.Reranker.Model,
			Timeout:  cfg.Reranker.Timeout,
		})
		if err != nil {
			slog.Warn("reranker_unavailable", slog.String("error", err.Error()))
		} else {
			reranker = r
		}
	}

	pipeline := search.NewPipeline(cfg, search.PipelineDeps{
		Embedder: embedder,
		Vectors:  vectors,
		Sparse:   sparse,
		Chunks:   catalog,
		Reranker: reranker,
		Logger:   slog.Default(),
	})

	cleanup := func() {
		pipeline.Close()
		if reranker != nil {
			reranker.Close()
		}
		embedder.Close()
		vectors.Close()
		sparse.Close()
	}
	return pipeline, cleanup, nil
}
