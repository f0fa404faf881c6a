package octree

import (
	"testing"

	"github.com/mansfield-lab/ddlb/lib/vec"
)

func TestNewGridIsUniform(t *testing.T) {
	g := New(vec.IVec3{2, 2, 2}, 3)
	if g.NumQuadrants() != 8 {
		t.Fatalf("expected 8 level-0 quadrants, got %d", g.NumQuadrants())
	}
	for i := 0; i < g.NumQuadrants(); i++ {
		if g.Quadrant(i).Level != 0 {
			t.Errorf("quadrant %d: expected level 0", i)
		}
	}
}

func TestRefineThenCoarsenRoundTrips(t *testing.T) {
	g := New(vec.IVec3{1, 1, 1}, 2)
	if err := g.Refine(0); err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if g.NumQuadrants() != 8 {
		t.Fatalf("expected 8 children after refining the only quadrant, got %d", g.NumQuadrants())
	}
	for i := 0; i < 8; i++ {
		if g.Quadrant(i).Level != 1 {
			t.Errorf("child %d: expected level 1, got %d", i, g.Quadrant(i).Level)
		}
	}
	if err := g.Coarsen(0); err != nil {
		t.Fatalf("Coarsen: %v", err)
	}
	if g.NumQuadrants() != 1 {
		t.Fatalf("expected 1 quadrant after coarsening, got %d", g.NumQuadrants())
	}
	if g.Quadrant(0).Level != 0 {
		t.Errorf("expected coarsened quadrant back at level 0, got %d", g.Quadrant(0).Level)
	}
}

func TestBalance2to1RefinesNeighbors(t *testing.T) {
	g := New(vec.IVec3{2, 1, 1}, 2)
	// Refine the first of two adjacent level-0 quadrants, then its child
	// touching the second one, creating a level-0 vs level-2 face adjacency
	// (spec ยง4.4 P5 violation).
	if err := g.Refine(0); err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if err := g.Refine(1); err != nil {
		t.Fatalf("Refine: %v", err)
	}

	if err := g.Balance2to1(16); err != nil {
		t.Fatalf("Balance2to1: %v", err)
	}

	maxLevel, minLevel := -1, 999
	for i := 0; i < g.NumQuadrants(); i++ {
		l := g.Quadrant(i).Level
		if l > maxLevel {
			maxLevel = l
		}
		if l < minLevel {
			minLevel = l
		}
	}
	if maxLevel-minLevel > 1 {
		t.Errorf("expected 2:1 balance to hold, level spread is %d", maxLevel-minLevel)
	}
}

func TestPositionToQidExtRetriesOnBoundary(t *testing.T) {
	g := New(vec.IVec3{2, 2, 2}, 1)
	unit := 1 << uint(g.MaxLevel)
	qid, ok := g.PosToQidExt(vec.IVec3{2 * unit, 2 * unit, 2 * unit})
	if !ok {
		t.Fatalf("expected PosToQidExt to find a quadrant via corner retry")
	}
	if qid < 0 || qid >= g.NumQuadrants() {
		t.Errorf("qid %d out of range", qid)
	}
}
