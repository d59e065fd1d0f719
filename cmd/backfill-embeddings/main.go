// Command backfill-embeddings re-embeds every persisted, non-stub paper whose
// recorded embedding_model does not match the deployment's current analysis
// provider (spec.md §9 Open Question 3): it scans the graph for drifted or
// missing embeddings, calls the active provider's Embed operation directly,
// and re-persists through the Store Writer, following cmd/backfill/main.go's
// orphan-scan + progress-log + verification-query shape (re-targeted here
// from vehicle-hierarchy linking to embedding drift).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rs/zerolog"

	"github.com/arxivgraph/corpusd/engine/provider/analysis"
	"github.com/arxivgraph/corpusd/engine/provider/analysis/anthropic"
	"github.com/arxivgraph/corpusd/engine/provider/analysis/genai"
	"github.com/arxivgraph/corpusd/engine/provider/analysis/openai"
	"github.com/arxivgraph/corpusd/engine/store"
	"github.com/arxivgraph/corpusd/engine/store/graphstore"
	"github.com/arxivgraph/corpusd/engine/store/vectorstore"
	"github.com/arxivgraph/corpusd/internal/config"
)

func main() {
	var (
		cfgFile string
		limit   int
		dryRun  bool
	)
	flag.StringVar(&cfgFile, "config", "", "config file (default ./corpusd.yaml)")
	flag.IntVar(&limit, "limit", 5000, "maximum number of papers to re-embed in this pass")
	flag.BoolVar(&dryRun, "dry-run", false, "scan and report without writing")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logLvl, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logLvl = zerolog.InfoLevel
	}
	zlog := zerolog.New(os.Stdout).Level(logLvl).With().Timestamp().Str("cmd", "backfill-embeddings").Logger()

	driver, err := neo4j.NewDriverWithContext(cfg.Store.GraphURI, neo4j.BasicAuth(cfg.Store.GraphUser, cfg.Store.GraphPassword, ""))
	if err != nil {
		log.Fatalf("neo4j connect: %v", err)
	}
	defer driver.Close(ctx)
	if err := driver.VerifyConnectivity(ctx); err != nil {
		log.Fatalf("neo4j connectivity: %v", err)
	}
	graph := graphstore.New(driver)

	vector, err := vectorstore.New(cfg.Store.VectorAddr, cfg.Store.VectorCollection)
	if err != nil {
		log.Fatalf("qdrant connect: %v", err)
	}
	defer vector.Close()

	embedder, err := buildEmbedder(ctx, cfg.Provider)
	if err != nil {
		log.Fatalf("build analysis provider: %v", err)
	}
	modelID := embedder.ModelID()

	writer := store.New(graph, vector, embedder.Dimensions(), zlog)

	papers, err := graph.PapersNeedingEmbedding(ctx, modelID, limit)
	if err != nil {
		log.Fatalf("scan papers needing embedding: %v", err)
	}
	log.Printf("Found %d papers needing re-embedding under model %q", len(papers), modelID)

	var embedded, skipped, errs int
	for i, p := range papers {
		if p.Abstract == "" {
			skipped++
			continue
		}
		vec, err := embedder.Embed(ctx, p.Abstract)
		if err != nil {
			log.Printf("[%d] embed error for %s: %v", i, p.ID, err)
			errs++
			continue
		}
		p.Embedding = vec
		p.EmbeddingModel = modelID

		if dryRun {
			embedded++
			continue
		}
		if _, err := writer.UpsertPaper(ctx, p); err != nil {
			log.Printf("[%d] upsert error for %s: %v", i, p.ID, err)
			errs++
			continue
		}
		embedded++
		if embedded%100 == 0 {
			log.Printf("Progress: %d embedded, %d skipped, %d errors (of %d)", embedded, skipped, errs, len(papers))
		}
	}

	log.Printf("Done! Embedded: %d, Skipped: %d, Errors: %d, Total: %d", embedded, skipped, errs, len(papers))

	remaining, err := graph.PapersNeedingEmbedding(ctx, modelID, 1)
	if err == nil {
		if len(remaining) == 0 {
			log.Printf("No papers remain needing re-embedding under model %q", modelID)
		} else {
			log.Printf("At least one paper still needs re-embedding under model %q; rerun with a higher --limit", modelID)
		}
	}
}

// buildEmbedder builds the deployment's primary analysis provider directly,
// bypassing the fallback Selector: a backfill pass always re-embeds under the
// single model a deployment has declared current, never a failover model.
func buildEmbedder(ctx context.Context, cfg config.Provider) (analysis.Provider, error) {
	switch cfg.AnalysisPrimary {
	case "openai":
		return openai.New(cfg.OpenAIAPIKey, cfg.OpenAIChatModel)
	case "anthropic":
		return anthropic.New(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	case "genai":
		return genai.New(ctx, cfg.GenAIAPIKey, cfg.GenAIChatModel)
	default:
		return nil, fmt.Errorf("backfill-embeddings: unknown analysis provider %q", cfg.AnalysisPrimary)
	}
}
