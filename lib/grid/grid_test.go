package grid

import (
	"testing"

	"github.com/mansfield-lab/ddlb/lib/vec"
)

// TestS1Fold reproduces spec scenario S1: a particle crossing the +x
// boundary of a 10x10x10 box split 2x1x1 should fold back into [0, L).
func TestS1Fold(t *testing.T) {
	g := New(vec.Vec3{10, 10, 10}, [3]bool{true, true, true},
		vec.IVec3{2, 1, 1}, vec.IVec3{0, 0, 0})

	pos, img := g.FoldPosition(vec.Vec3{10.05, 5, 5}, [3]int{0, 0, 0})
	if pos[0] != 0.05 && (pos[0] < 0.0499 || pos[0] > 0.0501) {
		t.Errorf("expected folded x ~= 0.05, got %g", pos[0])
	}
	if img[0] != 1 {
		t.Errorf("expected image count x = 1, got %d", img[0])
	}

	rank := g.PositionToNode(vec.Vec3{10.05, 5, 5})
	if rank != g.RankOf(vec.IVec3{1, 0, 0}) {
		t.Errorf("expected rank (1,0,0), got rank %d", rank)
	}
}

func TestPositionToNodeTotal(t *testing.T) {
	g := New(vec.Vec3{6, 6, 6}, [3]bool{true, true, true},
		vec.IVec3{2, 2, 1}, vec.IVec3{0, 0, 0})

	for _, pos := range []vec.Vec3{{0, 0, 0}, {5.999, 5.999, 0}, {3, 3, 3}} {
		rank := g.PositionToNode(pos)
		if rank < 0 || rank >= g.NodeGrid.Prod() {
			t.Errorf("PositionToNode(%v) = %d out of range", pos, rank)
		}
	}
}

func TestNonPeriodicClamp(t *testing.T) {
	g := New(vec.Vec3{10, 10, 10}, [3]bool{false, true, true},
		vec.IVec3{1, 1, 1}, vec.IVec3{0, 0, 0})
	pos, _ := g.FoldPosition(vec.Vec3{-1, 5, 5}, [3]int{0, 0, 0})
	if pos[0] != 0 {
		t.Errorf("expected non-periodic axis clamped to 0, got %g", pos[0])
	}
}
