// Package pipeline implements the Pipeline Coordinator (C5): the four-stage
// discover/fetch/analyze/persist dataflow that drives a single ingestion
// run, its run-control surface (start/stop/status), and checkpointing.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/arxivgraph/corpusd/engine/analyzer"
	"github.com/arxivgraph/corpusd/engine/domain"
	"github.com/arxivgraph/corpusd/engine/frontier"
	"github.com/arxivgraph/corpusd/engine/provider/metadata"
	"github.com/arxivgraph/corpusd/engine/store"
	"github.com/arxivgraph/corpusd/pkg/metrics"
	"github.com/arxivgraph/corpusd/pkg/natsutil"
)

// DLQSubject is where permanently-dropped items are published for
// observability, mirroring the teacher's engine/ingest DLQ-on-exhaustion
// idiom. Publishing is best-effort and never load-bearing for correctness.
const DLQSubject = "corpusd.pipeline.dlq"

// DroppedItem is one permanently-failed item, published to DLQSubject.
type DroppedItem struct {
	Stage    string    `json:"stage"`
	PaperID  string    `json:"paper_id"`
	Kind     string    `json:"kind"`
	Attempts int       `json:"attempts"`
	At       time.Time `json:"at"`
}

// RunConfig enumerates everything start() accepts, per §4.5/§6.
type RunConfig struct {
	Seeds             []domain.PaperID `json:"seeds"`
	MaxDepth          int              `json:"max_depth"`
	MaxPapers         int              `json:"max_papers"`
	MaxFanoutPerPaper int              `json:"max_fanout_per_paper"`
	AnalyzeEnabled    bool             `json:"analyze_enabled"`
	EmbedEnabled      bool             `json:"embed_enabled"`
	UseMetadata       bool             `json:"use_metadata"`
	UseFullText       bool             `json:"use_full_text"`

	// StageWorkerCounts is (discover, fetch, analyze, persist); a zero entry
	// falls back to DefaultStageWorkerCounts.
	StageWorkerCounts [4]int `json:"stage_worker_counts"`
	// QueueCapacities is (Qa, Qb, Qc); a zero entry falls back to
	// DefaultQueueCapacities.
	QueueCapacities [3]int `json:"queue_capacities"`
	// CheckpointEveryN is how many persisted items elapse between checkpoint
	// writes (discovered or fetched items do not count); 0 falls back to
	// DefaultCheckpointEveryN.
	CheckpointEveryN int `json:"checkpoint_every_n"`

	// Resume, when true, loads CheckpointPath before seeding the frontier
	// and restores visited from the graph store's persisted ids.
	Resume bool `json:"-"`
}

// DefaultStageWorkerCounts matches spec.md's sane defaults: Discover 1,
// Persist in the 2-4 range; Fetch/Analyze are workload-tuned so these are
// reasonable starting points rather than a derived rate x latency product.
var DefaultStageWorkerCounts = [4]int{1, 8, 4, 3}

// DefaultQueueCapacities bounds Qa/Qb/Qc.
var DefaultQueueCapacities = [3]int{64, 64, 64}

// DefaultCheckpointEveryN matches spec.md's example (500).
const DefaultCheckpointEveryN = 500

func (c RunConfig) workerCounts() [4]int {
	out := c.StageWorkerCounts
	for i, v := range out {
		if v <= 0 {
			out[i] = DefaultStageWorkerCounts[i]
		}
	}
	return out
}

func (c RunConfig) queueCapacities() [3]int {
	out := c.QueueCapacities
	for i, v := range out {
		if v <= 0 {
			out[i] = DefaultQueueCapacities[i]
		}
	}
	return out
}

func (c RunConfig) checkpointEveryN() int {
	if c.CheckpointEveryN <= 0 {
		return DefaultCheckpointEveryN
	}
	return c.CheckpointEveryN
}

// Status is the run-control status() snapshot.
type Status struct {
	Running            bool             `json:"running"`
	State              string           `json:"state"`
	Discovered         int              `json:"discovered"`
	Fetched            int              `json:"fetched"`
	Analyzed           int              `json:"analyzed"`
	Persisted          int              `json:"persisted"`
	ErrorsByKind       map[string]int   `json:"errors_by_kind"`
	StartedAt          time.Time        `json:"started_at"`
	ETA                *time.Time       `json:"eta,omitempty"`
	ProgressPercentage float64          `json:"progress_percentage"`
}

// fetchResult is Qb's payload: a resolved Paper plus its outgoing
// references, ready for analysis.
type fetchResult struct {
	paper domain.Paper
	refs  []metadata.Edge
}

// persistItem is Qc's payload: an enrichment ready to write, paired with the
// paper and its outgoing references so the persist stage can build
// CitationEdges without re-fetching.
type persistItem struct {
	paper domain.Paper
	refs  []metadata.Edge
	enr   analyzer.Enrichment
}

// storeWriter is the subset of store.Writer the coordinator depends on,
// declared locally so tests can substitute a fake instead of a live
// Neo4j/Qdrant-backed Writer.
type storeWriter interface {
	UpsertPaper(ctx context.Context, p domain.Paper) (store.WriteResult, error)
	UpsertCitation(ctx context.Context, e domain.CitationEdge) error
	UpsertConceptMentions(ctx context.Context, paperID domain.PaperID, mentions []domain.MentionsEdge) error
}

// paperLister is the subset of graphstore.GraphStore the coordinator needs
// to restore `visited` from persisted state on a resumed run.
type paperLister interface {
	AllPaperIDs(ctx context.Context) ([]domain.PaperID, error)
}

// Coordinator owns one run at a time. Construct with New and reuse across
// runs; state resets to Idle-equivalent (Stopped/Completed/Failed can all
// re-Start).
type Coordinator struct {
	metadata metadata.Provider
	analyzer *analyzer.Analyzer
	writer   storeWriter
	graph    paperLister
	nc       *nats.Conn
	metrics  *metrics.Registry
	log      zerolog.Logger

	checkpointPath string

	state runState

	mu        sync.Mutex // guards everything below, held only briefly
	cfg       RunConfig
	runID     string
	startedAt time.Time
	cancel    context.CancelFunc
	doneCh    chan struct{}
	frontier  *frontier.Frontier

	discovered atomic.Int64
	fetched    atomic.Int64
	analyzed   atomic.Int64
	persisted  atomic.Int64

	errMu        sync.Mutex
	errorsByKind map[string]int

	storeFailures atomic.Int64

	// FullTextExtractor is an optional pluggable content-extraction step
	// (PDF full-text parsing and beyond are explicitly out of scope per
	// spec.md's Non-goals; this hook is where a caller wires one in). When
	// nil or when a run's UseFullText is false, analysis runs on
	// title+abstract only.
	FullTextExtractor func(ctx context.Context, paper domain.Paper) (string, error)
}

// New creates a Coordinator. nc may be nil to disable DLQ publishing;
// metricsReg may be nil to disable metrics.
func New(metadataProvider metadata.Provider, a *analyzer.Analyzer, w storeWriter, g paperLister, nc *nats.Conn, metricsReg *metrics.Registry, checkpointPath string, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		metadata:       metadataProvider,
		analyzer:       a,
		writer:         w,
		graph:          g,
		nc:             nc,
		metrics:        metricsReg,
		checkpointPath: checkpointPath,
		errorsByKind:   make(map[string]int),
		log:            log.With().Str("component", "pipeline").Logger(),
	}
}

// maxStoreFailures is the threshold of consecutive store errors beyond
// which the run is declared unrecoverable and transitions to Failed,
// per §7's Transient/StoreBusy row.
const maxStoreFailures = 10

// Start begins a new run. It rejects with domain.ErrRunAlreadyActive if a
// run is already Starting/Running/Stopping.
func (c *Coordinator) Start(ctx context.Context, cfg RunConfig) error {
	if err := c.state.transition(Idle, Starting); err != nil {
		if err2 := c.state.transition(Stopped, Starting); err2 != nil {
			if err3 := c.state.transition(Completed, Starting); err3 != nil {
				if err4 := c.state.transition(Failed, Starting); err4 != nil {
					return domain.ErrRunAlreadyActive
				}
			}
		}
	}

	c.mu.Lock()
	c.cfg = cfg
	c.runID = uuid.NewString()
	c.startedAt = time.Now()
	c.discovered.Store(0)
	c.fetched.Store(0)
	c.analyzed.Store(0)
	c.persisted.Store(0)
	c.storeFailures.Store(0)
	c.errMu.Lock()
	c.errorsByKind = make(map[string]int)
	c.errMu.Unlock()

	seeds := cfg.Seeds
	var restoreQueue []frontier.QueueEntry
	if cfg.Resume && c.checkpointPath != "" {
		if ck, err := load(c.checkpointPath); err == nil {
			c.runID = ck.RunID
			restoreQueue = fromQueueEntries(ck.Queue)
		} else {
			c.log.Warn().Err(err).Msg("resume requested but checkpoint could not be loaded; starting fresh")
		}
	}

	f := frontier.New(frontier.Opts{MaxDepth: cfg.MaxDepth, MaxPapers: cfg.MaxPapers, MaxFanoutPerPaper: cfg.MaxFanoutPerPaper}, seeds)
	if cfg.Resume && c.graph != nil {
		if ids, err := c.graph.AllPaperIDs(ctx); err == nil {
			f.Seed(ids)
		} else {
			c.log.Warn().Err(err).Msg("resume: could not load persisted ids from graph store")
		}
	}
	if len(restoreQueue) > 0 {
		f.Restore(restoreQueue)
	}
	c.frontier = f

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.doneCh = make(chan struct{})
	c.mu.Unlock()

	if err := c.state.transition(Starting, Running); err != nil {
		cancel()
		return err
	}
	if c.metrics != nil {
		c.metrics.RunState.Set(1)
	}

	go c.run(runCtx)
	return nil
}

// Stop requests cooperative cancellation and blocks until the run is
// quiescent. Idempotent: calling Stop on an already-stopped run succeeds.
func (c *Coordinator) Stop(ctx context.Context) error {
	st := c.state.get()
	if st == Idle || st == Stopped || st == Completed || st == Failed {
		return nil // idempotent, per §6
	}
	if err := c.state.transition(Running, Stopping); err != nil {
		// Already Stopping or racing into a terminal state; either way,
		// waiting for doneCh below still yields a correct quiescent return.
	}

	c.mu.Lock()
	cancel := c.cancel
	frontierRef := c.frontier
	doneCh := c.doneCh
	c.mu.Unlock()
	if frontierRef != nil {
		frontierRef.Close()
	}
	if cancel != nil {
		cancel()
	}
	if doneCh == nil {
		return nil
	}
	select {
	case <-doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Status returns a snapshot of the current run's progress.
func (c *Coordinator) Status() Status {
	st := c.state.get()
	c.mu.Lock()
	startedAt := c.startedAt
	cfg := c.cfg
	c.mu.Unlock()

	c.errMu.Lock()
	errs := make(map[string]int, len(c.errorsByKind))
	for k, v := range c.errorsByKind {
		errs[k] = v
	}
	c.errMu.Unlock()

	discovered := int(c.discovered.Load())
	persisted := int(c.persisted.Load())

	var progress float64
	if cfg.MaxPapers > 0 {
		progress = 100 * float64(persisted) / float64(cfg.MaxPapers)
		if progress > 100 {
			progress = 100
		}
	}

	var eta *time.Time
	if st == Running && cfg.MaxPapers > 0 && persisted > 0 {
		elapsed := time.Since(startedAt)
		rate := float64(persisted) / elapsed.Seconds()
		if rate > 0 {
			remaining := float64(cfg.MaxPapers-persisted) / rate
			t := time.Now().Add(time.Duration(remaining) * time.Second)
			eta = &t
		}
	}

	return Status{
		Running:            st == Running || st == Starting || st == Stopping,
		State:              st.String(),
		Discovered:         discovered,
		Fetched:            int(c.fetched.Load()),
		Analyzed:           int(c.analyzed.Load()),
		Persisted:          persisted,
		ErrorsByKind:       errs,
		StartedAt:          startedAt,
		ETA:                eta,
		ProgressPercentage: progress,
	}
}

func (c *Coordinator) recordError(stage string, err error) {
	kind := domain.ClassifyError(err)
	if kind == domain.KindCancelled {
		return // §7: cancellation never increments an error counter
	}
	c.errMu.Lock()
	c.errorsByKind[string(kind)]++
	c.errMu.Unlock()
	if c.metrics != nil {
		c.metrics.ErrorsTotal.WithLabelValues(string(kind), stage).Inc()
	}
}

func (c *Coordinator) publishDLQ(ctx context.Context, stage string, id domain.PaperID, kind domain.ErrorKind, attempts int) {
	if c.nc == nil {
		return
	}
	_ = natsutil.Publish(ctx, c.nc, DLQSubject, DroppedItem{
		Stage: stage, PaperID: string(id), Kind: string(kind), Attempts: attempts, At: time.Now(),
	})
}

// run drives the four-stage dataflow to completion, then finalizes the
// run's terminal state and closes doneCh.
func (c *Coordinator) run(ctx context.Context) {
	defer close(c.doneCh)
	defer func() {
		if c.metrics != nil {
			c.metrics.RunState.Set(0)
		}
	}()

	c.mu.Lock()
	cfg := c.cfg
	f := c.frontier
	c.mu.Unlock()

	workers := cfg.workerCounts()
	caps := cfg.queueCapacities()

	qa := make(chan frontier.QueueEntry, caps[0])
	qb := make(chan fetchResult, caps[1])
	qc := make(chan persistItem, caps[2])

	var discoverWG, fetchWG, analyzeWG, persistWG sync.WaitGroup

	discoverWG.Add(workers[0])
	for i := 0; i < workers[0]; i++ {
		go func() {
			defer discoverWG.Done()
			for {
				e, ok, err := f.Next(ctx)
				if err != nil || !ok {
					return
				}
				select {
				case qa <- e:
					c.discovered.Add(1)
					if c.metrics != nil {
						c.metrics.DiscoveredTotal.Inc()
					}
				case <-ctx.Done():
					f.Done()
					return
				}
			}
		}()
	}
	go func() { discoverWG.Wait(); close(qa) }()

	fetchWG.Add(workers[1])
	for i := 0; i < workers[1]; i++ {
		go func() {
			defer fetchWG.Done()
			for e := range qa {
				c.fetchOne(ctx, f, e, qb)
			}
		}()
	}
	go func() { fetchWG.Wait(); close(qb) }()

	analyzeWG.Add(workers[2])
	for i := 0; i < workers[2]; i++ {
		go func() {
			defer analyzeWG.Done()
			for fr := range qb {
				c.analyzeOne(ctx, cfg, fr, qc)
			}
		}()
	}
	go func() { analyzeWG.Wait(); close(qc) }()

	persistWG.Add(workers[3])
	for i := 0; i < workers[3]; i++ {
		go func() {
			defer persistWG.Done()
			for item := range qc {
				c.persistOne(ctx, item)
			}
		}()
	}
	persistWG.Wait()

	c.finalize(ctx)
}

func (c *Coordinator) fetchOne(ctx context.Context, f *frontier.Frontier, e frontier.QueueEntry, qb chan<- fetchResult) {
	defer f.Done()

	c.mu.Lock()
	useMetadata := c.cfg.UseMetadata
	c.mu.Unlock()
	if !useMetadata {
		// A run that disables the metadata provider only re-processes what
		// the frontier already knows about; there is nothing to fetch and
		// no neighbors to discover.
		select {
		case qb <- fetchResult{paper: domain.Paper{ID: e.ID}}:
		case <-ctx.Done():
		}
		return
	}

	paper, err := c.metadata.GetPaper(ctx, e.ID)
	if err != nil {
		kind := domain.ClassifyError(err)
		c.recordError("fetch", err)
		if kind == domain.KindNotFound {
			// §7: record a stub Paper node with id only; do not requeue.
			paper = domain.Paper{ID: e.ID, Stub: true}
			if _, werr := c.writer.UpsertPaper(ctx, paper); werr != nil {
				c.recordError("persist", werr)
			}
			return
		}
		if kind != domain.KindCancelled {
			c.publishDLQ(ctx, "fetch", e.ID, kind, 1)
		}
		return
	}

	var refs []metadata.Edge
	cursor := ""
	for {
		page, err := c.metadata.GetReferences(ctx, e.ID, cursor)
		if err != nil {
			c.recordError("fetch", err)
			break
		}
		refs = append(refs, page.Edges...)
		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}

	neighbors := make([]domain.PaperID, 0, len(refs))
	for _, r := range refs {
		neighbors = append(neighbors, r.OtherID)
	}
	f.EnqueueNeighbors(e.ID, neighbors, e.Depth)

	c.fetched.Add(1)
	if c.metrics != nil {
		c.metrics.FetchedTotal.Inc()
	}

	select {
	case qb <- fetchResult{paper: paper, refs: refs}:
	case <-ctx.Done():
	}
}

func (c *Coordinator) analyzeOne(ctx context.Context, cfg RunConfig, fr fetchResult, qc chan<- persistItem) {
	var enr analyzer.Enrichment
	if cfg.AnalyzeEnabled {
		paper := fr.paper
		if cfg.UseFullText && c.FullTextExtractor != nil {
			if text, err := c.FullTextExtractor(ctx, paper); err != nil {
				c.recordError("analyze", err)
			} else if text != "" {
				paper.Abstract = paper.Abstract + "\n\n" + text
			}
		}
		enr = c.analyzer.Analyze(ctx, paper, fr.refs, fr.paper.EmbeddingModel)
		if !cfg.EmbedEnabled {
			enr.Embedding = nil
			enr.ModelID = ""
		}
		if enr.Partial {
			c.recordError("analyze", fmt.Errorf("partial enrichment: %w", domain.ErrOverloaded))
		}
	}
	c.analyzed.Add(1)
	if c.metrics != nil {
		c.metrics.AnalyzedTotal.Inc()
	}

	select {
	case qc <- persistItem{paper: fr.paper, refs: fr.refs, enr: enr}:
	case <-ctx.Done():
	}
}

func (c *Coordinator) persistOne(ctx context.Context, item persistItem) {
	paper := item.paper
	if item.enr.Summary != "" {
		paper.Summary = item.enr.Summary
	}
	if len(item.enr.Embedding) > 0 {
		paper.Embedding = item.enr.Embedding
		paper.EmbeddingModel = item.enr.ModelID
	}

	result, err := c.writer.UpsertPaper(ctx, paper)
	if err != nil {
		c.recordError("persist", err)
		if domain.ClassifyError(err) == domain.KindStoreBusy {
			if c.storeFailures.Add(1) >= maxStoreFailures {
				c.fail(fmt.Errorf("persist: store unreachable beyond threshold: %w", err))
			}
		}
		return
	}
	c.storeFailures.Store(0)
	if result.EmbeddingMissing {
		c.recordError("persist", fmt.Errorf("embedding missing for %s", paper.ID))
	}

	labelsByDst := make(map[domain.PaperID]analyzer.EdgeLabel, len(item.enr.EdgeLabels))
	for _, l := range item.enr.EdgeLabels {
		labelsByDst[l.Dst] = l
	}
	for _, r := range item.refs {
		edge := domain.CitationEdge{Src: paper.ID, Dst: r.OtherID, Intent: domain.IntentUnknown, Position: domain.PositionOther, Context: r.Context}
		if l, ok := labelsByDst[r.OtherID]; ok {
			edge.Intent, edge.Position = l.Intent, l.Position
		}
		if err := c.writer.UpsertCitation(ctx, edge); err != nil {
			c.recordError("persist", err)
		}
	}

	if len(item.enr.Concepts) > 0 {
		mentions := make([]domain.MentionsEdge, len(item.enr.Concepts))
		for i, concept := range item.enr.Concepts {
			mentions[i] = domain.MentionsEdge{Paper: paper.ID, Concept: concept}
		}
		if err := c.writer.UpsertConceptMentions(ctx, paper.ID, mentions); err != nil {
			c.recordError("persist", err)
		}
	}

	c.persisted.Add(1)
	if c.metrics != nil {
		c.metrics.PersistedTotal.Inc()
	}

	n := int(c.persisted.Load())
	if n%c.cfg.checkpointEveryN() == 0 {
		c.writeCheckpoint()
	}
}

func (c *Coordinator) writeCheckpoint() {
	if c.checkpointPath == "" {
		return
	}
	c.mu.Lock()
	cfg, f, runID := c.cfg, c.frontier, c.runID
	c.mu.Unlock()
	ck := newCheckpoint(runID, cfg, f)
	if err := save(c.checkpointPath, ck); err != nil {
		c.log.Warn().Err(err).Msg("checkpoint write failed")
	}
}

// fail transitions the run to Failed from whatever non-terminal state it is
// in. Safe to call multiple times; only the first call wins.
func (c *Coordinator) fail(err error) {
	for _, from := range []State{Running, Stopping, Starting} {
		if c.state.transition(from, Failed) == nil {
			c.log.Error().Err(err).Msg("run transitioned to Failed")
			return
		}
	}
}

func (c *Coordinator) finalize(ctx context.Context) {
	c.writeCheckpoint()

	st := c.state.get()
	switch st {
	case Failed:
		return
	case Stopping:
		_ = c.state.transition(Stopping, Stopped)
	default:
		if ctx.Err() != nil {
			_ = c.state.transition(Running, Stopped)
			return
		}
		_ = c.state.transition(Running, Completed)
	}
}
