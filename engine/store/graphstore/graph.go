// Package graphstore is the Neo4j-backed half of the Store Writer (C4):
// Paper nodes, Concept nodes, CITES edges and MENTIONS edges.
package graphstore

import (
	"context"
	"fmt"

	"github.com/arxivgraph/corpusd/engine/domain"
	"github.com/arxivgraph/corpusd/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// GraphStore provides paper-graph operations on top of the generic Neo4j repository.
type GraphStore struct {
	driver neo4j.DriverWithContext
	papers *repo.Neo4jRepo[domain.Paper, domain.PaperID]
}

// New creates a new GraphStore.
func New(driver neo4j.DriverWithContext) *GraphStore {
	return &GraphStore{
		driver: driver,
		papers: newPaperRepo(driver),
	}
}

// GetPaper returns a paper by id, or domain.ErrNotFound.
func (g *GraphStore) GetPaper(ctx context.Context, id domain.PaperID) (domain.Paper, error) {
	p, err := g.papers.Get(ctx, id)
	if err != nil {
		return domain.Paper{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return p, nil
}

// AllPaperIDs returns every persisted Paper id. The Pipeline Coordinator calls
// this once on restart and seeds the frontier's `visited` set with the result, so a lost checkpoint
// reduces to re-running discovery from the seeds without duplicate work.
func (g *GraphStore) AllPaperIDs(ctx context.Context) ([]domain.PaperID, error) {
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, `MATCH (n:Paper) RETURN n.id AS id`, nil)
	if err != nil {
		return nil, fmt.Errorf("graphstore: all_paper_ids: %w", err)
	}

	var ids []domain.PaperID
	for res.Next(ctx) {
		id, _ := res.Record().Get("id")
		ids = append(ids, domain.PaperID(fmt.Sprint(id)))
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("graphstore: all_paper_ids: %w", err)
	}
	return ids, nil
}

// UpsertPaper creates or updates a Paper node. Existing edges are untouched;
// MERGE only ever touches the node itself.
func (g *GraphStore) UpsertPaper(ctx context.Context, p domain.Paper) error {
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	_, err := sess.Run(ctx, `MERGE (n:Paper {id: $id}) SET n += $props`, map[string]any{
		"id":    string(p.ID),
		"props": paperToMap(p),
	})
	return err
}

// citationMergeCypher applies the non-null-overwrite merge policy (§4.4
// idempotence law) directly in Cypher so a single round trip both creates
// stub endpoints and merges edge attributes.
const citationMergeCypher = `
MERGE (a:Paper {id: $src})
  ON CREATE SET a.stub = true
MERGE (b:Paper {id: $dst})
  ON CREATE SET b.stub = true
MERGE (a)-[r:CITES]->(b)
SET r.intent = CASE WHEN $intent IS NOT NULL AND $intent <> '' AND $intent <> 'Unknown'
                THEN $intent ELSE coalesce(r.intent, 'Unknown') END,
    r.position = CASE WHEN $position IS NOT NULL AND $position <> ''
                THEN $position ELSE coalesce(r.position, 'Other') END,
    r.context = CASE WHEN $context IS NOT NULL AND $context <> ''
                THEN $context ELSE r.context END
`

// UpsertCitation creates stub endpoints for src/dst if missing and merges the
// CITES edge's attributes per the non-null-overwrite policy.
func (g *GraphStore) UpsertCitation(ctx context.Context, e domain.CitationEdge) error {
	if err := domain.ValidateCitationEdge(e); err != nil {
		return err
	}
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	_, err := sess.Run(ctx, citationMergeCypher, map[string]any{
		"src":      string(e.Src),
		"dst":      string(e.Dst),
		"intent":   string(e.Intent),
		"position": string(e.Position),
		"context":  e.Context,
	})
	return err
}

const mentionsMergeCypher = `
MERGE (p:Paper {id: $paper})
  ON CREATE SET p.stub = true
MERGE (c:Concept {key: $key})
  ON CREATE SET c.name = $name, c.kind = $kind, c.normalized_name = $normalized
MERGE (p)-[m:MENTIONS]->(c)
SET m.confidence = CASE WHEN $known THEN $confidence ELSE m.confidence END
`

// UpsertConceptMentions upserts each Concept and the MentionsEdge linking it
// to paperID, in a single transaction.
func (g *GraphStore) UpsertConceptMentions(ctx context.Context, paperID domain.PaperID, mentions []domain.MentionsEdge) error {
	if len(mentions) == 0 {
		return nil
	}
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, m := range mentions {
			if err := domain.ValidateConcept(m.Concept); err != nil {
				return nil, err
			}
			if _, err := tx.Run(ctx, mentionsMergeCypher, map[string]any{
				"paper":      string(paperID),
				"key":        m.Concept.Key(),
				"name":       m.Concept.Name,
				"kind":       string(m.Concept.Kind),
				"normalized": domain.NormalizedName(m.Concept.Name),
				"known":      m.ConfidenceKnown,
				"confidence": m.Confidence,
			}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// Batch applies a sequence of paper, citation and mentions writes atomically
// per-store (§4.4 batch(operations)); cross-store atomicity with the vector
// store is never promised and is handled one layer up by the writer.
func (g *GraphStore) Batch(ctx context.Context, papers []domain.Paper, citations []domain.CitationEdge, mentions map[domain.PaperID][]domain.MentionsEdge) error {
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, p := range papers {
			if _, err := tx.Run(ctx, `MERGE (n:Paper {id: $id}) SET n += $props, n.stub = false`, map[string]any{
				"id":    string(p.ID),
				"props": paperToMap(p),
			}); err != nil {
				return nil, err
			}
		}
		for _, e := range citations {
			if err := domain.ValidateCitationEdge(e); err != nil {
				return nil, err
			}
			if _, err := tx.Run(ctx, citationMergeCypher, map[string]any{
				"src":      string(e.Src),
				"dst":      string(e.Dst),
				"intent":   string(e.Intent),
				"position": string(e.Position),
				"context":  e.Context,
			}); err != nil {
				return nil, err
			}
		}
		for paperID, ms := range mentions {
			for _, m := range ms {
				if _, err := tx.Run(ctx, mentionsMergeCypher, map[string]any{
					"paper":      string(paperID),
					"key":        m.Concept.Key(),
					"name":       m.Concept.Name,
					"kind":       string(m.Concept.Kind),
					"normalized": domain.NormalizedName(m.Concept.Name),
					"known":      m.ConfidenceKnown,
					"confidence": m.Confidence,
				}); err != nil {
					return nil, err
				}
			}
		}
		return nil, nil
	})
	return err
}

// ListPapers returns one page of Paper nodes ordered by id, optionally
// restricted to a single category, for C6's list_papers.
func (g *GraphStore) ListPapers(ctx context.Context, offset, limit int, category string) ([]domain.Paper, error) {
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := `MATCH (n:Paper)`
	params := map[string]any{"offset": offset, "limit": limit}
	if category != "" {
		cypher += ` WHERE $category IN n.categories`
		params["category"] = category
	}
	cypher += ` RETURN n ORDER BY n.id SKIP $offset LIMIT $limit`

	res, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return nil, fmt.Errorf("graphstore: list_papers: %w", err)
	}
	var papers []domain.Paper
	for res.Next(ctx) {
		node, ok := res.Record().Get("n")
		if !ok {
			continue
		}
		n, ok := node.(dbtype.Node)
		if !ok {
			continue
		}
		papers = append(papers, paperFromProps(n.Props))
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("graphstore: list_papers: %w", err)
	}
	return papers, nil
}

// PapersNeedingEmbedding returns non-stub Paper nodes whose embedding_model
// does not match currentModelID — either never embedded, or embedded under a
// model the deployment has since moved away from (§6/§9 Open Question 3).
// cmd/backfill-embeddings drives a re-embed pass over the result.
func (g *GraphStore) PapersNeedingEmbedding(ctx context.Context, currentModelID string, limit int) ([]domain.Paper, error) {
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	res, err := sess.Run(ctx,
		`MATCH (n:Paper) WHERE n.stub = false AND n.embedding_model <> $model
		 RETURN n ORDER BY n.id LIMIT $limit`,
		map[string]any{"model": currentModelID, "limit": limit},
	)
	if err != nil {
		return nil, fmt.Errorf("graphstore: papers_needing_embedding: %w", err)
	}
	var papers []domain.Paper
	for res.Next(ctx) {
		node, ok := res.Record().Get("n")
		if !ok {
			continue
		}
		n, ok := node.(dbtype.Node)
		if !ok {
			continue
		}
		papers = append(papers, paperFromProps(n.Props))
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("graphstore: papers_needing_embedding: %w", err)
	}
	return papers, nil
}

// Citations returns the edges where id is the source (outgoing, what id
// cites) and where id is the destination (incoming, what cites id), for
// C6's get_paper include_citations/include_references.
func (g *GraphStore) Citations(ctx context.Context, id domain.PaperID) (outgoing, incoming []domain.CitationEdge, err error) {
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	outRes, err := sess.Run(ctx,
		`MATCH (a:Paper {id: $id})-[r:CITES]->(b:Paper) RETURN b.id AS other, r.intent AS intent, r.position AS position, r.context AS context`,
		map[string]any{"id": string(id)})
	if err != nil {
		return nil, nil, fmt.Errorf("graphstore: citations (outgoing) for %s: %w", id, err)
	}
	for outRes.Next(ctx) {
		rec := outRes.Record()
		other, _ := rec.Get("other")
		intent, _ := rec.Get("intent")
		position, _ := rec.Get("position")
		ctxVal, _ := rec.Get("context")
		outgoing = append(outgoing, domain.CitationEdge{
			Src: id, Dst: domain.PaperID(fmt.Sprint(other)),
			Intent: domain.CitationIntent(fmt.Sprint(intent)), Position: domain.CitationPosition(fmt.Sprint(position)),
			Context: fmt.Sprint(ctxVal),
		})
	}
	if err := outRes.Err(); err != nil {
		return nil, nil, fmt.Errorf("graphstore: citations (outgoing) for %s: %w", id, err)
	}

	inRes, err := sess.Run(ctx,
		`MATCH (a:Paper)-[r:CITES]->(b:Paper {id: $id}) RETURN a.id AS other, r.intent AS intent, r.position AS position, r.context AS context`,
		map[string]any{"id": string(id)})
	if err != nil {
		return nil, nil, fmt.Errorf("graphstore: citations (incoming) for %s: %w", id, err)
	}
	for inRes.Next(ctx) {
		rec := inRes.Record()
		other, _ := rec.Get("other")
		intent, _ := rec.Get("intent")
		position, _ := rec.Get("position")
		ctxVal, _ := rec.Get("context")
		incoming = append(incoming, domain.CitationEdge{
			Src: domain.PaperID(fmt.Sprint(other)), Dst: id,
			Intent: domain.CitationIntent(fmt.Sprint(intent)), Position: domain.CitationPosition(fmt.Sprint(position)),
			Context: fmt.Sprint(ctxVal),
		})
	}
	if err := inRes.Err(); err != nil {
		return nil, nil, fmt.Errorf("graphstore: citations (incoming) for %s: %w", id, err)
	}
	return outgoing, incoming, nil
}

// Neighborhood returns the nodes and CITES edges reachable from id within
// depth hops, undirected, for C6's citation_neighborhood query.
func (g *GraphStore) Neighborhood(ctx context.Context, id domain.PaperID, depth int) ([]domain.Paper, []domain.CitationEdge, error) {
	if depth <= 0 {
		depth = 1
	}
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	nodeCypher := fmt.Sprintf(
		`MATCH (start:Paper {id: $id})
		 OPTIONAL MATCH (start)-[:CITES*1..%d]-(n:Paper)
		 WITH start, collect(DISTINCT n) AS others
		 RETURN [start] + others AS nodes`, depth)
	res, err := sess.Run(ctx, nodeCypher, map[string]any{"id": string(id)})
	if err != nil {
		return nil, nil, err
	}
	if !res.Next(ctx) {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	raw, ok := res.Record().Get("nodes")
	if !ok {
		return nil, nil, fmt.Errorf("graphstore: no nodes field in neighborhood result")
	}
	list, _ := raw.([]any)

	var nodes []domain.Paper
	ids := make([]string, 0, len(list))
	for _, item := range list {
		node, ok := item.(dbtype.Node)
		if !ok {
			continue
		}
		p := paperFromProps(node.Props)
		nodes = append(nodes, p)
		ids = append(ids, string(p.ID))
	}

	edgeCypher := `MATCH (a:Paper)-[r:CITES]->(b:Paper)
		 WHERE a.id IN $ids AND b.id IN $ids
		 RETURN a.id AS src, b.id AS dst, r.intent AS intent, r.position AS position, r.context AS context`
	eres, err := sess.Run(ctx, edgeCypher, map[string]any{"ids": ids})
	if err != nil {
		return nil, nil, err
	}
	var edges []domain.CitationEdge
	for eres.Next(ctx) {
		rec := eres.Record()
		src, _ := rec.Get("src")
		dst, _ := rec.Get("dst")
		intent, _ := rec.Get("intent")
		position, _ := rec.Get("position")
		ctxVal, _ := rec.Get("context")
		edges = append(edges, domain.CitationEdge{
			Src:      domain.PaperID(fmt.Sprint(src)),
			Dst:      domain.PaperID(fmt.Sprint(dst)),
			Intent:   domain.CitationIntent(fmt.Sprint(intent)),
			Position: domain.CitationPosition(fmt.Sprint(position)),
			Context:  fmt.Sprint(ctxVal),
		})
	}
	return nodes, edges, nil
}

// Cluster is a connected component of the citation graph.
type Cluster struct {
	ID      string
	Members []domain.PaperID
	Label   string
}

// Clusters implements C6's community-detection primitive as a batch export
// plus an in-core union-find over CITES edges treated as undirected; a paper
// with no CITES edge belongs to no cluster. This
// repository does not assume the Neo4j Graph Data Science plugin is
// installed, so clustering happens in the caller's process rather than via a
// native algorithm.
func (g *GraphStore) Clusters(ctx context.Context, minSize int) ([]Cluster, error) {
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, `MATCH (a:Paper)-[:CITES]->(b:Paper) RETURN a.id AS src, b.id AS dst`, nil)
	if err != nil {
		return nil, err
	}

	uf := newUnionFind()
	for res.Next(ctx) {
		rec := res.Record()
		src, _ := rec.Get("src")
		dst, _ := rec.Get("dst")
		uf.union(fmt.Sprint(src), fmt.Sprint(dst))
	}

	groups := uf.groups()
	clusters := make([]Cluster, 0, len(groups))
	for root, members := range groups {
		if len(members) < minSize {
			continue
		}
		ids := make([]domain.PaperID, 0, len(members))
		for _, m := range members {
			ids = append(ids, domain.PaperID(m))
		}
		clusters = append(clusters, Cluster{ID: root, Members: ids})
	}
	return clusters, nil
}

// unionFind is a minimal disjoint-set structure used by Clusters.
type unionFind struct {
	parent map[string]string
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[string]string)}
}

func (u *unionFind) find(x string) string {
	if _, ok := u.parent[x]; !ok {
		u.parent[x] = x
		return x
	}
	root := x
	for u.parent[root] != root {
		root = u.parent[root]
	}
	for u.parent[x] != root {
		u.parent[x], x = root, u.parent[x]
	}
	return root
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[ra] = rb
	}
}

func (u *unionFind) groups() map[string][]string {
	out := make(map[string][]string)
	for x := range u.parent {
		root := u.find(x)
		out[root] = append(out[root], x)
	}
	return out
}
