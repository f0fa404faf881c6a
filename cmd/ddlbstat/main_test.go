package main

import (
	"testing"

	"github.com/mansfield-lab/ddlb/lib/octree"
	"github.com/mansfield-lab/ddlb/lib/vec"
)

func TestRefineByDensitySplitsADenseCorner(t *testing.T) {
	pos := make([][3]float64, 0, 40)
	for i := 0; i < 40; i++ {
		pos = append(pos, [3]float64{0.01 * float64(i%5), 0.01 * float64(i%3), 0.01})
	}

	grid := octree.New(vec.IVec3{1, 1, 1}, 4)
	leafOf := refineByDensity(grid, pos, 1.0, 4, 8)

	if grid.NumQuadrants() <= 1 {
		t.Fatalf("expected the dense corner to trigger at least one refine, got %d quadrants", grid.NumQuadrants())
	}
	if len(leafOf) != len(pos) {
		t.Fatalf("expected %d leaf assignments, got %d", len(pos), len(leafOf))
	}
	for _, qid := range leafOf {
		if qid < 0 || qid >= grid.NumQuadrants() {
			t.Errorf("leaf index %d out of range for %d quadrants", qid, grid.NumQuadrants())
		}
	}
}

func TestCellCoordAtClampsToBox(t *testing.T) {
	c := cellCoordAt([3]float64{-1, 2, 0.5}, 1.0, 3)
	for d := 0; d < 3; d++ {
		if c[d] < 0 || c[d] >= 8 {
			t.Errorf("axis %d: expected a clamped coordinate in [0,8), got %d", d, c[d])
		}
	}
}
