package graphstore

import (
	"time"

	"github.com/arxivgraph/corpusd/engine/domain"
	"github.com/arxivgraph/corpusd/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// newPaperRepo creates a Neo4j-backed repository for Paper nodes.
func newPaperRepo(driver neo4j.DriverWithContext) *repo.Neo4jRepo[domain.Paper, domain.PaperID] {
	return repo.NewNeo4jRepo[domain.Paper, domain.PaperID](
		driver,
		"Paper",
		paperToMap,
		paperFromRecord,
	)
}

// paperToMap projects a Paper onto Neo4j node properties. The embedding
// vector itself never lands in the graph store: it lives in the vector
// store, keyed by the same id. Only the model id marker travels with the node
// so C4 can detect a stale embedding without a cross-store join.
func paperToMap(p domain.Paper) map[string]any {
	m := map[string]any{
		"id":                   string(p.ID),
		"title":                p.Title,
		"abstract":             p.Abstract,
		"authors":              p.Authors,
		"categories":           p.Categories,
		"citation_count":       p.CitationCount,
		"citation_count_known": p.CitationCountKnown,
		"tl_dr":                p.TLDR,
		"summary":              p.Summary,
		"embedding_model":      p.EmbeddingModel,
		"stub":                 p.Stub,
	}
	if !p.PublishedDate.IsZero() {
		m["published_date"] = p.PublishedDate.Format(time.RFC3339)
	}
	return m
}

func paperFromRecord(rec *neo4j.Record) (domain.Paper, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return domain.Paper{}, err
	}
	return paperFromProps(node.Props), nil
}

func paperFromProps(props map[string]any) domain.Paper {
	p := domain.Paper{
		ID:                 domain.PaperID(strProp(props, "id")),
		Title:              strProp(props, "title"),
		Abstract:           strProp(props, "abstract"),
		Authors:            strSliceProp(props, "authors"),
		Categories:         strSliceProp(props, "categories"),
		CitationCount:      intProp(props, "citation_count"),
		CitationCountKnown: boolProp(props, "citation_count_known"),
		TLDR:               strProp(props, "tl_dr"),
		Summary:            strProp(props, "summary"),
		EmbeddingModel:     strProp(props, "embedding_model"),
		Stub:               boolProp(props, "stub"),
	}
	if ts := strProp(props, "published_date"); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			p.PublishedDate = t
		}
	}
	return p
}

func strProp(props map[string]any, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func boolProp(props map[string]any, key string) bool {
	if v, ok := props[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

func intProp(props map[string]any, key string) int {
	switch v := props[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func strSliceProp(props map[string]any, key string) []string {
	v, ok := props[key]
	if !ok {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
