package ghost

import (
	"testing"

	"github.com/mansfield-lab/ddlb/lib/cell"
	"github.com/mansfield-lab/ddlb/lib/mpi"
	"github.com/mansfield-lab/ddlb/lib/vec"
)

// selfSchedule builds a single self-round schedule: cell 0 (local) mirrors
// into cell 1 (ghost), exercising the Neighbor == rank buffer-swap path a
// single-rank run always takes (spec ยง8: "a single-rank run must not post
// any MPI sends").
func selfSchedule() *Schedule {
	return &Schedule{Rounds: []Round{
		{Neighbor: 0, Tag: 1, SendCells: []int{0}, RecvCells: []int{1}},
	}}
}

func TestExchangeMirrorsPositionOnSingleRank(t *testing.T) {
	store := cell.NewStore(1, 1)
	store.Cell(0).Append(cell.Particle{ID: 1, Pos: vec.Vec3{1, 2, 3}})
	store.Cell(1).Append(cell.Particle{ID: 2}) // ghost placeholder

	comm := New(mpi.NewLoopback(), selfSchedule(), cell.Position)
	if err := comm.Exchange(store); err != nil {
		t.Fatalf("Exchange: %v", err)
	}

	got := store.Cell(1).At(0).Pos
	want := vec.Vec3{1, 2, 3}
	if got != want {
		t.Errorf("expected ghost cell position %v, got %v", want, got)
	}
}

func TestCollectForceAccumulatesOntoLocalCell(t *testing.T) {
	store := cell.NewStore(1, 1)
	store.Cell(0).Append(cell.Particle{ID: 1, Force: vec.Vec3{1, 0, 0}})
	store.Cell(1).Append(cell.Particle{ID: 2, Force: vec.Vec3{0, 1, 0}})

	comm := New(mpi.NewLoopback(), selfSchedule(), cell.Position)
	if err := comm.CollectForce(store); err != nil {
		t.Fatalf("CollectForce: %v", err)
	}

	got := store.Cell(0).At(0).Force
	want := vec.Vec3{1, 1, 0}
	if got != want {
		t.Errorf("expected accumulated force %v, got %v", want, got)
	}
}
