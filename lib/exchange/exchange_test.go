package exchange

import (
	"testing"

	"github.com/mansfield-lab/ddlb/lib/cell"
	"github.com/mansfield-lab/ddlb/lib/grid"
	"github.com/mansfield-lab/ddlb/lib/mpi"
	"github.com/mansfield-lab/ddlb/lib/vec"
)

// singleCellClassifier always places every particle into cell 0 and claims
// every position as local, the simplest Classifier that still exercises
// the same-rank handoff path a single-rank run always takes.
type singleCellClassifier struct{}

func (singleCellClassifier) PositionToCell(pos [3]float64) (int, bool) { return 0, true }
func (singleCellClassifier) RankFor(pos [3]float64) int                { return 0 }

func TestRunMovesDisplacedParticleBackInBounds(t *testing.T) {
	g := grid.New(vec.Vec3{10, 10, 10}, [3]bool{true, true, true},
		vec.IVec3{1, 1, 1}, vec.IVec3{0, 0, 0})

	store := cell.NewStore(1, 0)
	store.AddParticle(cell.Particle{ID: 1, Pos: vec.Vec3{10.05, 5, 5}}, singleCellClassifier{})

	ex := New(mpi.NewLoopback(), g, singleCellClassifier{})
	imageCount := map[int64]*[3]int{}

	if err := ex.Run(Neighbor, store, imageCount); err != nil {
		t.Fatalf("Run: %v", err)
	}

	c, slot, ok := store.Lookup(1)
	if !ok {
		t.Fatalf("expected particle 1 to still be present after exchange")
	}
	pos := c.At(slot).Pos
	if pos[0] < 0 || pos[0] >= 10 {
		t.Errorf("expected folded x in [0, 10), got %g", pos[0])
	}
	if ic := imageCount[1]; ic == nil || ic[0] != 1 {
		t.Errorf("expected image count x = 1 after one periodic wrap, got %v", ic)
	}
}

func TestRunIsNoopWhenNothingDisplaced(t *testing.T) {
	g := grid.New(vec.Vec3{10, 10, 10}, [3]bool{true, true, true},
		vec.IVec3{1, 1, 1}, vec.IVec3{0, 0, 0})
	store := cell.NewStore(1, 0)
	store.AddParticle(cell.Particle{ID: 1, Pos: vec.Vec3{5, 5, 5}}, singleCellClassifier{})

	ex := New(mpi.NewLoopback(), g, singleCellClassifier{})
	if err := ex.Run(Neighbor, store, map[int64]*[3]int{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if store.Cell(0).Len() != 1 {
		t.Errorf("expected particle to remain untouched, cell has %d particles", store.Cell(0).Len())
	}
}
