package graph_test

import (
	"context"
	"reflect"
	"testing"

	"raidline/internal/catalog"
	"raidline/internal/graph"
)

// diamond: a -> b, a -> c, b -> d, c -> d
func diamondSnapshot() *catalog.Snapshot {
	return catalog.SnapshotFromData([]catalog.Task{
		{ID: "a", Name: "a"},
		{ID: "b", Name: "b", TaskRequirements: []catalog.TaskRequirement{{TaskID: "a"}}},
		{ID: "c", Name: "c", TaskRequirements: []catalog.TaskRequirement{{TaskID: "a"}}},
		{ID: "d", Name: "d", TaskRequirements: []catalog.TaskRequirement{{TaskID: "b"}, {TaskID: "c"}}},
	}, nil)
}

func TestBuildTaskGraph(t *testing.T) {
	g, err := graph.BuildTaskGraph(context.Background(), diamondSnapshot())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if g.NodeCount() != 4 {
		t.Fatalf("expected 4 nodes, got %d", g.NodeCount())
	}
	if g.EdgeCount() != 4 {
		t.Fatalf("expected 4 edges, got %d", g.EdgeCount())
	}
}

func TestAncestorsAndDescendants(t *testing.T) {
	g, err := graph.BuildTaskGraph(context.Background(), diamondSnapshot())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	ancestors := g.Ancestors("d")
	if len(ancestors) != 3 {
		t.Fatalf("expected 3 ancestors of d, got %v", ancestors)
	}
	// shared ancestor a appears once despite two paths
	count := 0
	for _, id := range ancestors {
		if id == "a" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("ancestor a appeared %d times", count)
	}
	descendants := g.Descendants("a")
	if len(descendants) != 3 {
		t.Fatalf("expected 3 descendants of a, got %v", descendants)
	}
	if got := g.Descendants("missing"); got != nil {
		t.Fatalf("unknown node should yield nil, got %v", got)
	}
}

func TestPredecessorsSorted(t *testing.T) {
	g, err := graph.BuildTaskGraph(context.Background(), diamondSnapshot())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	preds := g.Predecessors("d")
	if len(preds) != 2 || preds[0] != "b" || preds[1] != "c" {
		t.Fatalf("expected [b c], got %v", preds)
	}
}

func TestSumAttributeCountsSharedOnce(t *testing.T) {
	g, err := graph.BuildTaskGraph(context.Background(), diamondSnapshot())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	total := g.SumAttribute("d", func(id string) int64 { return 1 })
	if total != 4 {
		t.Fatalf("expected 4 (each node once), got %d", total)
	}
	if got := g.SumAttribute("missing", func(id string) int64 { return 1 }); got != 0 {
		t.Fatalf("unknown node should sum to 0, got %d", got)
	}
}

func TestAddNodeIdempotent(t *testing.T) {
	g := graph.New()
	g.AddNode("x")
	g.AddNode("x")
	if g.NodeCount() != 1 {
		t.Fatalf("expected 1 node, got %d", g.NodeCount())
	}
	if err := g.AddEdge("x", "x"); err == nil {
		t.Fatalf("expected self-edge rejection")
	}
	if err := g.AddEdge("x", "ghost"); err == nil {
		t.Fatalf("expected missing-node rejection")
	}
}

func TestCycleDetection(t *testing.T) {
	snap := catalog.SnapshotFromData([]catalog.Task{
		{ID: "a", TaskRequirements: []catalog.TaskRequirement{{TaskID: "b"}}},
		{ID: "b", TaskRequirements: []catalog.TaskRequirement{{TaskID: "a"}}},
	}, nil)
	if _, err := graph.BuildTaskGraph(context.Background(), snap); err == nil {
		t.Fatalf("expected cycle error")
	}
}

func TestUnknownRequirementSkipped(t *testing.T) {
	snap := catalog.SnapshotFromData([]catalog.Task{
		{ID: "a", TaskRequirements: []catalog.TaskRequirement{{TaskID: "nope"}}},
	}, nil)
	g, err := graph.BuildTaskGraph(context.Background(), snap)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if g.EdgeCount() != 0 {
		t.Fatalf("expected dangling requirement skipped, got %d edges", g.EdgeCount())
	}
}

func TestBuildHideoutGraphResolvesLevels(t *testing.T) {
	snap := catalog.SnapshotFromData(nil, []catalog.Station{
		{ID: "generator", Levels: []catalog.StationLevel{
			{ID: "gen-1", Level: 1},
			{ID: "gen-2", Level: 2, Requirements: []catalog.StationLevelRequirement{{StationID: "generator", Level: 1}}},
		}},
		{ID: "medstation", Levels: []catalog.StationLevel{
			{ID: "med-1", Level: 1, Requirements: []catalog.StationLevelRequirement{{StationID: "generator", Level: 2}}},
		}},
	})
	g, err := graph.BuildHideoutGraph(context.Background(), snap)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if g.NodeCount() != 3 || g.EdgeCount() != 2 {
		t.Fatalf("expected 3 nodes / 2 edges, got %d / %d", g.NodeCount(), g.EdgeCount())
	}
	ancestors := g.Ancestors("med-1")
	if len(ancestors) != 2 {
		t.Fatalf("expected gen-1 and gen-2 as ancestors, got %v", ancestors)
	}
}

func TestServiceRefreshKeepsOldVersionOnFailure(t *testing.T) {
	good := diamondSnapshot()
	loader := &stubLoader{snap: good}
	svc := graph.NewService(loader)
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	loader.fail = true
	if err := svc.Refresh(context.Background()); err == nil {
		t.Fatalf("expected refresh failure")
	}
	snap, tasks, _, err := svc.Current()
	if err != nil {
		t.Fatalf("current after failed refresh: %v", err)
	}
	if snap != good || tasks.NodeCount() != 4 {
		t.Fatalf("previous version should survive a failed refresh")
	}
}

func TestBuildTwiceIdentical(t *testing.T) {
	snap := diamondSnapshot()
	first, err := graph.BuildTaskGraph(context.Background(), snap)
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	second, err := graph.BuildTaskGraph(context.Background(), snap)
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	if first.NodeCount() != second.NodeCount() || first.EdgeCount() != second.EdgeCount() {
		t.Fatalf("rebuild changed shape: %d/%d vs %d/%d",
			first.NodeCount(), first.EdgeCount(), second.NodeCount(), second.EdgeCount())
	}
	for _, id := range []string{"a", "b", "c", "d"} {
		if !reflect.DeepEqual(first.Predecessors(id), second.Predecessors(id)) {
			t.Fatalf("predecessors of %s differ: %v vs %v", id, first.Predecessors(id), second.Predecessors(id))
		}
		if !reflect.DeepEqual(first.Successors(id), second.Successors(id)) {
			t.Fatalf("successors of %s differ: %v vs %v", id, first.Successors(id), second.Successors(id))
		}
	}
}

type stubLoader struct {
	snap *catalog.Snapshot
	fail bool
}

func (l *stubLoader) Load(ctx context.Context) (*catalog.Snapshot, error) {
	if l.fail {
		return nil, catalog.ErrUnavailable
	}
	return l.snap, nil
}
