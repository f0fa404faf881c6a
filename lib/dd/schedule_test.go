package dd

import (
	"testing"

	"github.com/mansfield-lab/ddlb/lib/grid"
	"github.com/mansfield-lab/ddlb/lib/vec"
)

func TestBuildGhostScheduleHasTwentySixRoundsOnSingleRankPeriodicBox(t *testing.T) {
	g := newTestGrid(10, vec.IVec3{1, 1, 1})
	lc, err := New(g, 1.0, 64, vec.IVec3{1, 1, 1}, -1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sched := BuildGhostSchedule(lc)
	if len(sched.Rounds) != 26 {
		t.Fatalf("expected 26 rounds on a fully periodic single rank, got %d", len(sched.Rounds))
	}
	for _, r := range sched.Rounds {
		if r.Neighbor != 0 {
			t.Errorf("expected every round to be a self-round, got neighbor %d", r.Neighbor)
		}
		if len(r.SendCells) == 0 || len(r.RecvCells) == 0 {
			t.Errorf("round %+v has an empty send or recv cell list", r)
		}
	}
}

func TestBuildGhostScheduleSkipsNonPeriodicBoundary(t *testing.T) {
	g := grid.New(vec.Vec3{10, 10, 10}, [3]bool{false, true, true},
		vec.IVec3{1, 1, 1}, vec.IVec3{0, 0, 0})
	lc, err := New(g, 1.0, 64, vec.IVec3{1, 1, 1}, -1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sched := BuildGhostSchedule(lc)
	if len(sched.Rounds) != 8 {
		// Of the 27 directions, only the 8 whose x-component is 0 survive
		// (9 combinations of dy,dz times the single dx=0 value, minus the
		// zero direction itself): the dx=+-1 directions are a non-periodic
		// boundary crossing and are skipped.
		t.Errorf("expected 8 surviving rounds with a non-periodic x axis, got %d", len(sched.Rounds))
	}
}
