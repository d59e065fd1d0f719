// Command corpusd drives a single ingestion-and-enrichment run: it wires the
// metadata and analysis providers, the graph and vector stores, and the
// Pipeline Coordinator, then exposes run, resume and query search as cobra
// subcommands (a run stops on SIGINT/SIGTERM and logs its status
// periodically), following cmd/ingest.go's dependency-wiring
// shape (connect stores, build deps, build pipeline, signal-driven graceful
// shutdown) and cmd/api.go's graceful-shutdown goroutine/select idiom.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/arxivgraph/corpusd/engine/analyzer"
	"github.com/arxivgraph/corpusd/engine/domain"
	"github.com/arxivgraph/corpusd/engine/provider"
	"github.com/arxivgraph/corpusd/engine/provider/analysis"
	"github.com/arxivgraph/corpusd/engine/provider/analysis/anthropic"
	"github.com/arxivgraph/corpusd/engine/provider/analysis/genai"
	"github.com/arxivgraph/corpusd/engine/provider/analysis/openai"
	"github.com/arxivgraph/corpusd/engine/provider/metadata/arxiv"
	"github.com/arxivgraph/corpusd/engine/pipeline"
	"github.com/arxivgraph/corpusd/engine/query"
	"github.com/arxivgraph/corpusd/engine/store"
	"github.com/arxivgraph/corpusd/engine/store/graphstore"
	"github.com/arxivgraph/corpusd/engine/store/vectorstore"
	"github.com/arxivgraph/corpusd/internal/config"
	"github.com/arxivgraph/corpusd/pkg/cache/memory"
	"github.com/arxivgraph/corpusd/pkg/metrics"
	"github.com/arxivgraph/corpusd/pkg/mid"
)

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "corpusd",
		Short: "Ingest and enrich an arXiv-style paper citation graph",
		Long: `corpusd discovers a paper's citation neighborhood from a set of seed
identifiers, enriches every discovered paper with LLM-produced summaries,
extracted entities, and classified citation edges, and persists the result
into a graph store and a vector store.`,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./corpusd.yaml)")

	root.AddCommand(newRunCmd(false), newRunCmd(true), newQueryCmd())
	return root
}

// newRunCmd builds the run (resume=false) or resume (resume=true) subcommand.
// Both start a run; resume additionally loads the checkpoint and the
// persisted graph ids before seeding the frontier (§4.2 Restart).
func newRunCmd(resume bool) *cobra.Command {
	use := "run"
	short := "Start a new ingestion run"
	if resume {
		use = "resume"
		short = "Resume the last ingestion run from its checkpoint"
	}

	var seeds []string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			log := newLogger(cfg.Logging.Level)
			return runPipeline(cmd.Context(), cfg, log, seeds, resume)
		},
	}
	cmd.Flags().StringSliceVar(&seeds, "seed", nil, "seed PaperId(s) to start discovery from (repeatable)")
	return cmd
}

// newQueryCmd groups the read-only C6 operations the spec lists as consumed
// by the HTTP layer and the prediction subsystem; exposed here as a thin CLI
// front-end since the REST surface itself is out of scope (spec.md §1).
func newQueryCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "query",
		Short: "Read-only operations against the completed store",
	}

	var limit int
	search := &cobra.Command{
		Use:   "search [text]",
		Short: "Semantic search over persisted embeddings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			log := newLogger(cfg.Logging.Level)
			facade, closeFn, err := buildFacade(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer closeFn()
			hits, err := facade.SemanticSearch(cmd.Context(), args[0], limit, nil)
			if err != nil {
				return err
			}
			for _, h := range hits {
				fmt.Printf("%-20s %.3f  %s\n", h.Paper.ID, h.Score, h.Paper.Title)
			}
			return nil
		},
	}
	search.Flags().IntVar(&limit, "limit", 10, "maximum number of results")
	root.AddCommand(search)
	return root
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		Level(lvl).With().Timestamp().Logger()
}

// analysisProvider builds one of the three interchangeable analysis
// providers by name, per spec.md §6's analysis_provider {primary,fallback}
// choice among {A,B,C}.
func analysisProvider(ctx context.Context, name string, cfg config.Provider) (analysis.Provider, error) {
	switch strings.ToLower(name) {
	case "openai":
		return openai.New(cfg.OpenAIAPIKey, cfg.OpenAIChatModel)
	case "anthropic":
		return anthropic.New(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	case "genai":
		return genai.New(ctx, cfg.GenAIAPIKey, cfg.GenAIChatModel)
	default:
		return nil, fmt.Errorf("corpusd: unknown analysis provider %q", name)
	}
}

// deps bundles every coordinator-owned handle built from Config, so both
// runPipeline and buildFacade construct them the same way and callers close
// what they opened (§9: no process-wide singletons, no module-load-time
// construction).
type deps struct {
	neo4jDriver neo4j.DriverWithContext
	graph       *graphstore.GraphStore
	vector      *vectorstore.VectorStore
	nc          *nats.Conn
	metricsReg  *metrics.Registry
	analysisCli *provider.AnalysisClient
}

func buildDeps(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*deps, func(), error) {
	driver, err := neo4j.NewDriverWithContext(cfg.Store.GraphURI, neo4j.BasicAuth(cfg.Store.GraphUser, cfg.Store.GraphPassword, ""))
	if err != nil {
		return nil, nil, fmt.Errorf("corpusd: neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, nil, fmt.Errorf("corpusd: neo4j connectivity: %w", err)
	}
	graph := graphstore.New(driver)

	vector, err := vectorstore.New(cfg.Store.VectorAddr, cfg.Store.VectorCollection)
	if err != nil {
		driver.Close(ctx)
		return nil, nil, fmt.Errorf("corpusd: qdrant connect: %w", err)
	}

	var nc *nats.Conn
	if cfg.Pipeline.NatsURL != "" {
		nc, err = nats.Connect(cfg.Pipeline.NatsURL)
		if err != nil {
			log.Warn().Err(err).Msg("nats connect failed, DLQ publishing disabled")
			nc = nil
		}
	}

	metricsReg := metrics.New()

	primary, err := analysisProvider(ctx, cfg.Provider.AnalysisPrimary, cfg.Provider)
	if err != nil {
		vector.Close()
		driver.Close(ctx)
		return nil, nil, err
	}
	fallback, err := analysisProvider(ctx, cfg.Provider.AnalysisFallback, cfg.Provider)
	if err != nil {
		vector.Close()
		driver.Close(ctx)
		return nil, nil, err
	}
	selector := analysis.NewSelector(primary, fallback, cfg.Provider.AnalysisFailBudget, cfg.Provider.AnalysisBudgetWindow)

	analysisCfg := provider.DefaultAnalysisConfig
	analysisCfg.Limiter.Rate = cfg.Provider.AnalysisRPM / 60
	analysisCli := provider.NewAnalysisClient(selector, analysisCfg)

	d := &deps{neo4jDriver: driver, graph: graph, vector: vector, nc: nc, metricsReg: metricsReg, analysisCli: analysisCli}
	closeFn := func() {
		if d.nc != nil {
			d.nc.Close()
		}
		d.vector.Close()
		d.neo4jDriver.Close(context.Background())
	}
	return d, closeFn, nil
}

func runPipeline(ctx context.Context, cfg *config.Config, log zerolog.Logger, seeds []string, resume bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, closeFn, err := buildDeps(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeFn()

	metadataCfg := provider.DefaultMetadataConfig
	metadataCfg.Limiter.Rate = cfg.Provider.MetadataRPS
	var arxivOpts []arxiv.Option
	if cfg.Provider.MetadataBaseURL != "" {
		arxivOpts = append(arxivOpts, arxiv.WithAPIBase(cfg.Provider.MetadataBaseURL))
	}
	metadataCli := provider.NewMetadataClient(arxiv.New(arxivOpts...), metadataCfg)

	a := analyzer.New(d.analysisCli, memory.New(), 4, log)
	writer := store.New(d.graph, d.vector, cfg.Store.EmbeddingDim, log)

	coord := pipeline.New(metadataCli, a, writer, d.graph, d.nc, d.metricsReg, cfg.Pipeline.CheckpointPath, log)

	go serveObservability(cfg.Pipeline.MetricsPort, d.metricsReg, log)

	ids := make([]domain.PaperID, len(seeds))
	for i, s := range seeds {
		ids[i] = domain.PaperID(s)
	}

	runCfg := pipeline.RunConfig{
		Seeds:             ids,
		MaxDepth:          cfg.Pipeline.MaxDepth,
		MaxPapers:         cfg.Pipeline.MaxPapers,
		MaxFanoutPerPaper: cfg.Pipeline.MaxFanoutPerPaper,
		AnalyzeEnabled:    cfg.Pipeline.AnalyzeEnabled,
		EmbedEnabled:      cfg.Pipeline.EmbedEnabled,
		UseMetadata:       cfg.Pipeline.UseMetadata,
		UseFullText:       cfg.Pipeline.UseFullText,
		StageWorkerCounts: cfg.Pipeline.StageWorkerCounts,
		QueueCapacities:   cfg.Pipeline.QueueCapacities,
		CheckpointEveryN:  cfg.Pipeline.CheckpointEveryN,
		Resume:            resume,
	}
	if !resume && len(ids) == 0 {
		return fmt.Errorf("corpusd: run requires at least one --seed")
	}

	log.Info().Strs("seeds", seeds).Bool("resume", resume).Msg("starting run")
	if err := coord.Start(ctx, runCfg); err != nil {
		return fmt.Errorf("corpusd: start: %w", err)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			st := coord.Status()
			log.Info().
				Str("state", st.State).
				Int("discovered", st.Discovered).
				Int("fetched", st.Fetched).
				Int("analyzed", st.Analyzed).
				Int("persisted", st.Persisted).
				Float64("progress_pct", st.ProgressPercentage).
				Msg("status")
			if !st.Running {
				return nil
			}
		case <-ctx.Done():
			log.Info().Msg("shutdown signal received, stopping run")
			stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			return coord.Stop(stopCtx)
		}
	}
}

// serveObservability mounts /healthz and /metrics — the only HTTP surface
// this binary exposes; the REST query API is explicitly out of scope
// (spec.md §1), matching pkg/mid's ambient-only use for health/metrics.
func serveObservability(port int, reg *metrics.Registry, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", reg.Handler())

	handler := mid.Chain(mux, mid.Recover(slog.Default()), mid.OTel("corpusd"))
	addr := fmt.Sprintf(":%d", port)
	log.Info().Str("addr", addr).Msg("observability server listening")
	if err := http.ListenAndServe(addr, handler); err != nil && err != http.ErrServerClosed {
		log.Warn().Err(err).Msg("observability server exited")
	}
}

func buildFacade(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*query.Facade, func(), error) {
	d, closeFn, err := buildDeps(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	facade := query.New(d.graph, d.vector, d.analysisCli, log)
	return facade, closeFn, nil
}
