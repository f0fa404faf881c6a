package repart

import (
	"testing"

	"github.com/mansfield-lab/ddlb/lib/mpi"
	"github.com/mansfield-lab/ddlb/lib/octree"
	"github.com/mansfield-lab/ddlb/lib/vec"
)

// oneCoarseQuadrant builds a Grid covering boxCells with one level-0
// quadrant per box cell (a single quadrant for a 1x1x1 box).
func oneCoarseQuadrant(boxCells vec.IVec3, maxLevel int) *octree.Grid {
	return octree.New(boxCells, maxLevel)
}

func TestBuildFCTGroupsFinerForestUnderCoarserOne(t *testing.T) {
	// t2 is a single level-0 quadrant spanning a 1x1x1 box; t1 is that
	// same box refined once, giving 8 level-1 children. t2's quadrant is
	// coarser than every t1 quadrant, so BuildFCT must produce a single
	// group holding all 8 t1 indices against the lone t2 index.
	box := vec.IVec3{1, 1, 1}
	t2 := oneCoarseQuadrant(box, 2)
	t1 := oneCoarseQuadrant(box, 2)
	if err := t1.Refine(0); err != nil {
		t.Fatalf("Refine: %v", err)
	}

	groups := BuildFCT(t1, t2, 2)
	if len(groups) != 1 {
		t.Fatalf("expected 1 FCT group, got %d", len(groups))
	}
	g := groups[0]
	if g.T1Lo != 0 || g.T1Hi != 8 {
		t.Errorf("expected T1 range [0,8), got [%d,%d)", g.T1Lo, g.T1Hi)
	}
	if g.T2Lo != 0 || g.T2Hi != 1 {
		t.Errorf("expected T2 range [0,1), got [%d,%d)", g.T2Lo, g.T2Hi)
	}
}

func TestAssignGroupsMatchesAsymmetricRepartitionScenario(t *testing.T) {
	// Spec scenario S5: w1 = [1,1,1,1], w2 = [10,0,0,0], a1=a2=1, two
	// ranks. FCT leaf weights are [11,1,1,1]; rank 0 must receive only
	// index 0 (weight 11), rank 1 the remaining three (weight 3 total).
	leafWeights := []float64{11, 1, 1, 1}
	target := 14.0 / 2.0
	assigned := assignGroups(0, target, leafWeights, 2)

	want := []int{0, 1, 1, 1}
	for i, r := range assigned {
		if r != want[i] {
			t.Errorf("leaf %d: got rank %d, want %d", i, r, want[i])
		}
	}
}

func TestPlanSingleRankAssignsEveryQuadrantLocally(t *testing.T) {
	box := vec.IVec3{1, 1, 1}
	t2 := oneCoarseQuadrant(box, 2)
	t1 := oneCoarseQuadrant(box, 2)
	if err := t1.Refine(0); err != nil {
		t.Fatalf("Refine: %v", err)
	}

	w1 := []float64{1, 1, 1, 1, 1, 1, 1, 1}
	w2 := []float64{10}

	comm := mpi.NewLoopback()
	t1Counts, t2Counts, err := Plan(comm, t1, t2, 2, w1, w2, Coefficients{A1: 1, A2: 1})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(t1Counts) != 1 || t1Counts[0] != t1.NumQuadrants() {
		t.Errorf("t1Counts = %v, want [%d]", t1Counts, t1.NumQuadrants())
	}
	if len(t2Counts) != 1 || t2Counts[0] != t2.NumQuadrants() {
		t.Errorf("t2Counts = %v, want [%d]", t2Counts, t2.NumQuadrants())
	}
}

func TestPlanRejectsWeightLengthMismatch(t *testing.T) {
	box := vec.IVec3{2, 2, 1}
	t1 := oneCoarseQuadrant(box, 2)
	t2 := oneCoarseQuadrant(box, 2)
	comm := mpi.NewLoopback()
	if _, _, err := Plan(comm, t1, t2, 2, []float64{1, 2}, []float64{1}, Coefficients{A1: 1, A2: 1}); err == nil {
		t.Errorf("expected an error for mismatched weight length")
	}
}

func TestApplyPartitionIsNoopOnSingleRank(t *testing.T) {
	box := vec.IVec3{2, 2, 1}
	t1 := oneCoarseQuadrant(box, 2)
	t2 := oneCoarseQuadrant(box, 2)
	comm := mpi.NewLoopback()
	n1, n2 := t1.NumQuadrants(), t2.NumQuadrants()
	if err := ApplyPartition(comm, t1, t2, []int{n1}, []int{n2}, 700); err != nil {
		t.Fatalf("ApplyPartition: %v", err)
	}
	if t1.NumQuadrants() != n1 {
		t.Errorf("t1 quadrant count changed: got %d, want %d", t1.NumQuadrants(), n1)
	}
	if t2.NumQuadrants() != n2 {
		t.Errorf("t2 quadrant count changed: got %d, want %d", t2.NumQuadrants(), n2)
	}
}
