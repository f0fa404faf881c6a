package dd

import (
	"testing"

	"github.com/mansfield-lab/ddlb/lib/grid"
	"github.com/mansfield-lab/ddlb/lib/vec"
)

func newTestGrid(boxL float64, nodeGrid vec.IVec3) *grid.Grid {
	return grid.New(vec.Vec3{boxL, boxL, boxL}, [3]bool{true, true, true},
		nodeGrid, vec.IVec3{0, 0, 0})
}

func TestCellGridFitsUnderMaxCells(t *testing.T) {
	g := newTestGrid(30, vec.IVec3{1, 1, 1})
	lc, err := New(g, 1.0, 64, vec.IVec3{1, 1, 1}, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := lc.CellGrid.Prod(); n > 64 {
		t.Errorf("expected cell grid product <= 64, got %d", n)
	}
	for d := 0; d < 3; d++ {
		if lc.CellSize[d] < 1.0-1e-9 {
			t.Errorf("axis %d cell_size %g is smaller than max_range", d, lc.CellSize[d])
		}
	}
}

func TestDegenerateGridBelowRoundError(t *testing.T) {
	g := newTestGrid(10, vec.IVec3{1, 1, 1})
	lc, err := New(g, 0, 1000, vec.IVec3{1, 1, 1}, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lc.CellGrid != (vec.IVec3{1, 1, 1}) {
		t.Errorf("expected degenerate 1x1x1 cell grid, got %v", lc.CellGrid)
	}
}

func TestTooLargeRangeErrors(t *testing.T) {
	g := newTestGrid(10, vec.IVec3{1, 1, 1})
	if _, err := New(g, 20, 1000, vec.IVec3{1, 1, 1}, -1); err == nil {
		t.Errorf("expected a Configuration error for max_range exceeding the box")
	}
}

func TestNeighborListHasFourteenEntries(t *testing.T) {
	g := newTestGrid(10, vec.IVec3{1, 1, 1})
	lc, err := New(g, 1.0, 1000, vec.IVec3{1, 1, 1}, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < lc.NumLocalCells(); i++ {
		list := lc.NeighborCells(i)
		if len(list) != 14 {
			t.Fatalf("cell %d: expected 14 entries (self + 13), got %d", i, len(list))
		}
		if list[0] != i {
			t.Errorf("cell %d: expected self as first entry, got %d", i, list[0])
		}
	}
}

func TestSavePositionToCellRoundTrip(t *testing.T) {
	g := newTestGrid(10, vec.IVec3{1, 1, 1})
	lc, err := New(g, 1.0, 1000, vec.IVec3{1, 1, 1}, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	idx, ok := lc.SavePositionToCell([3]float64{5, 5, 5})
	if !ok {
		t.Fatalf("expected center position to map to a local cell")
	}
	if idx < 0 || idx >= lc.NumLocalCells() {
		t.Errorf("cell index %d out of local range", idx)
	}

	if _, ok := lc.SavePositionToCell([3]float64{-1, 5, 5}); ok {
		t.Errorf("expected out-of-subdomain position to be rejected")
	}
}

func TestPositionToCellClampsOutOfRangePosition(t *testing.T) {
	g := newTestGrid(10, vec.IVec3{1, 1, 1})
	lc, err := New(g, 1.0, 1000, vec.IVec3{1, 1, 1}, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	idx := lc.PositionToCell([3]float64{5, 5, 5})
	if idx < 0 || idx >= lc.NumLocalCells() {
		t.Errorf("cell index %d out of local range", idx)
	}

	if idx := lc.PositionToCell([3]float64{-1, 5, 5}); idx < 0 || idx >= lc.NumLocalCells() {
		t.Errorf("expected out-of-subdomain position to clamp into a local cell, got %d", idx)
	}
}

func TestShearAxisMinimumTwoCells(t *testing.T) {
	g := newTestGrid(4, vec.IVec3{1, 1, 1})
	lc, err := New(g, 1.9, 1000, vec.IVec3{2, 1, 1}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lc.CellGrid[0] < 2 {
		t.Errorf("expected shear axis to keep at least 2 cells, got %d", lc.CellGrid[0])
	}
}
