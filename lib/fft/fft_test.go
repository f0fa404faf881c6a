package fft

import (
	"math"
	"testing"

	"github.com/mansfield-lab/ddlb/lib/mpi"
	"github.com/mansfield-lab/ddlb/lib/vec"
)

func TestPartitionAxisCoversWholeRangeOnce(t *testing.T) {
	seen := make([]bool, 10)
	for idx := 0; idx < 3; idx++ {
		lo, hi := partitionAxis(10, 3, idx)
		for i := lo; i < hi; i++ {
			if seen[i] {
				t.Fatalf("index %d covered by more than one partition", i)
			}
			seen[i] = true
		}
	}
	for i, ok := range seen {
		if !ok {
			t.Errorf("index %d not covered by any partition", i)
		}
	}
}

func TestIntersectOverlap(t *testing.T) {
	a := Block{Lo: vec.IVec3{0, 0, 0}, Hi: vec.IVec3{4, 4, 4}}
	b := Block{Lo: vec.IVec3{2, 2, 2}, Hi: vec.IVec3{6, 6, 6}}
	r, ok := intersect(a, b)
	if !ok {
		t.Fatalf("expected overlap")
	}
	want := Block{Lo: vec.IVec3{2, 2, 2}, Hi: vec.IVec3{4, 4, 4}}
	if r != want {
		t.Errorf("got %+v, want %+v", r, want)
	}
	c := Block{Lo: vec.IVec3{10, 10, 10}, Hi: vec.IVec3{12, 12, 12}}
	if _, ok := intersect(a, c); ok {
		t.Errorf("expected no overlap")
	}
}

func TestNewPlanRejectsMismatchedNodeGrid(t *testing.T) {
	comm := mpi.NewLoopback()
	if _, err := NewPlan(comm, vec.IVec3{2, 1, 1}, vec.IVec3{4, 4, 4}); err == nil {
		t.Errorf("expected an error when node grid does not cover comm size")
	}
}

func TestForwardBackwardRoundTripsSingleRank(t *testing.T) {
	comm := mpi.NewLoopback()
	mesh := vec.IVec3{2, 2, 4}
	plan, err := NewPlan(comm, vec.IVec3{1, 1, 1}, mesh)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}

	n := mesh.Prod()
	real := make([]float64, n)
	for i := range real {
		real[i] = float64(i + 1)
	}

	freq, err := plan.Forward(real)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if len(freq) != n {
		t.Fatalf("expected %d frequency points, got %d", n, len(freq))
	}

	back, err := plan.Backward(freq)
	if err != nil {
		t.Fatalf("Backward: %v", err)
	}
	if len(back) != n {
		t.Fatalf("expected %d real points back, got %d", n, len(back))
	}
	// Backward is unnormalized, so the round trip scales by the mesh
	// point count n.
	for i := range real {
		got := back[i] / float64(n)
		if math.Abs(got-real[i]) > 1e-8 {
			t.Errorf("round trip mismatch at %d: got %g, want %g", i, got, real[i])
		}
	}
}
