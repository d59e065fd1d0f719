package graphstore

import (
	"strings"
	"testing"
)

func TestUnionFindGroupsMerges(t *testing.T) {
	uf := newUnionFind()
	uf.union("P0", "P1")
	uf.union("P1", "P2")
	uf.union("Px", "P1") // Px and P0 share neighbor P1: same cluster.
	uf.union("Py", "Pz")

	groups := uf.groups()
	var clusterOfP0, clusterOfPy string
	for root, members := range groups {
		for _, m := range members {
			if m == "P0" {
				clusterOfP0 = root
			}
			if m == "Py" {
				clusterOfPy = root
			}
		}
	}
	if clusterOfP0 == "" || clusterOfPy == "" {
		t.Fatalf("expected both clusters to be found: %+v", groups)
	}
	if clusterOfP0 == clusterOfPy {
		t.Fatalf("expected distinct clusters, got same root %s", clusterOfP0)
	}
	if len(groups[clusterOfP0]) != 4 {
		t.Fatalf("expected 4 members in P0's cluster, got %d: %+v", len(groups[clusterOfP0]), groups[clusterOfP0])
	}
}

func TestUnionFindSingletonIsOwnRoot(t *testing.T) {
	uf := newUnionFind()
	if uf.find("solo") != "solo" {
		t.Fatalf("expected singleton to be its own root")
	}
}

func TestCitationMergeCypherAppliesNonNullOverwritePolicy(t *testing.T) {
	// The merge policy lives in the query text itself (single round trip);
	// assert the CASE/coalesce shape is present so a future edit can't
	// silently drop the non-null-overwrite semantics (idempotence law).
	if !strings.Contains(citationMergeCypher, "coalesce(r.intent") {
		t.Fatal("expected intent merge to preserve existing non-null value")
	}
	if !strings.Contains(citationMergeCypher, "coalesce(r.position") {
		t.Fatal("expected position merge to preserve existing non-null value")
	}
	if !strings.Contains(citationMergeCypher, "ON CREATE SET a.stub = true") {
		t.Fatal("expected src stub creation")
	}
}
