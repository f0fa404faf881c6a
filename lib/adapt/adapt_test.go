package adapt

import (
	"testing"

	"github.com/mansfield-lab/ddlb/lib/mpi"
	"github.com/mansfield-lab/ddlb/lib/octree"
	"github.com/mansfield-lab/ddlb/lib/repart"
	"github.com/mansfield-lab/ddlb/lib/vec"
)

type linearEq struct{}

func (linearEq) Eval(speed float64) float64 { return 1 + speed }

func TestRefineCandidateCrossesThreshold(t *testing.T) {
	b := Bounds{VMin: 0, VMax: 10, OmegaMin: 0, OmegaMax: 1}
	th := Thresholds{RefineVelocityFrac: 0.5, RefineVorticityFrac: 0.5}
	if !IsRefineCandidate(6, 0, b, th) {
		t.Errorf("expected speed 6 (above 50%% of [0,10]) to be a refine candidate")
	}
	if IsRefineCandidate(4, 0, b, th) {
		t.Errorf("expected speed 4 to not be a refine candidate")
	}
}

func TestInterpolateToChildConservesEighth(t *testing.T) {
	parent := Payload{Density: 8, Force: vec.Vec3{8, 0, 0}, Populations: make([]float64, 4)}
	child := parent.InterpolateToChild(linearEq{})
	if child.Density != 1 {
		t.Errorf("expected child density 1, got %g", child.Density)
	}
	if child.Force[0] != 1 {
		t.Errorf("expected child force[0] 1, got %g", child.Force[0])
	}
}

func TestRestrictFromChildrenAverages(t *testing.T) {
	var children [8]Payload
	for i := range children {
		children[i] = Payload{Density: float64(i + 1), PressureModes: []float64{float64(i)}}
	}
	parent := RestrictFromChildren(children)
	if parent.Density != 36 { // sum(1..8)
		t.Errorf("expected summed density 36, got %g", parent.Density)
	}
	if parent.PressureModes[0] != 3.5 { // mean(0..7)
		t.Errorf("expected averaged pressure mode 3.5, got %g", parent.PressureModes[0])
	}
}

func TestPlanRefinesHighSpeedCell(t *testing.T) {
	tree := octree.New(vec.IVec3{2, 1, 1}, 2)
	cells := make([]Cell, tree.NumQuadrants())
	cells[0] = Cell{Speed: 10, VortMag: 1, Payload: Payload{Density: 8, Populations: make([]float64, 2)}}
	cells[1] = Cell{Speed: 0, Payload: Payload{Density: 8, Populations: make([]float64, 2)}}

	ctrl := NewController(mpi.NewLoopback(), Thresholds{RefineVelocityFrac: 0.5, RefineVorticityFrac: 0.5}, linearEq{})
	newTree, payloads, err := ctrl.Plan(tree, cells)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if newTree.NumQuadrants() != 9 { // one quadrant refined into 8, other untouched
		t.Fatalf("expected 9 quadrants after refining one of two, got %d", newTree.NumQuadrants())
	}
	if len(payloads) != newTree.NumQuadrants() {
		t.Errorf("expected payloads to track new quadrant count, got %d payloads for %d quadrants",
			len(payloads), newTree.NumQuadrants())
	}
}

func TestPlanCoarsensNonUniformFamily(t *testing.T) {
	// Reproduces spec scenario S4's second half: refine one of several
	// level-0 quadrants (leaving its siblings untouched) then coarsen it
	// back. The resulting family of 8 does not start at a multiple of 8.
	tree := octree.New(vec.IVec3{3, 1, 1}, 1)
	if err := tree.Refine(1); err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if tree.NumQuadrants() != 10 {
		t.Fatalf("expected 10 quadrants after refining one of three, got %d", tree.NumQuadrants())
	}

	cells := make([]Cell, tree.NumQuadrants())
	familyStart := -1
	for i := 0; i < tree.NumQuadrants(); i++ {
		if tree.Quadrant(i).Level == 0 {
			continue
		}
		if familyStart == -1 {
			familyStart = i
		}
		cells[i] = Cell{Speed: 1, VortMag: 0.1, Payload: Payload{Density: 1, Populations: make([]float64, 2)}}
	}
	if familyStart <= 0 || familyStart%8 == 0 {
		t.Fatalf("test setup expected a family start not aligned to a multiple of 8, got %d", familyStart)
	}
	cells[0] = Cell{Speed: 0, VortMag: 0, Payload: Payload{Density: 1, Populations: make([]float64, 2)}}
	cells[9] = Cell{Speed: 10, VortMag: 1, Payload: Payload{Density: 1, Populations: make([]float64, 2)}}

	th := Thresholds{
		RefineVelocityFrac:   2,
		RefineVorticityFrac:  2,
		CoarsenVelocityFrac:  0.5,
		CoarsenVorticityFrac: 0.5,
	}
	ctrl := NewController(mpi.NewLoopback(), th, linearEq{})
	newTree, payloads, err := ctrl.Plan(tree, cells)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if newTree.NumQuadrants() != 3 {
		t.Fatalf("expected the misaligned family to collapse back to 1 quadrant, leaving 3, got %d", newTree.NumQuadrants())
	}
	if len(payloads) != newTree.NumQuadrants() {
		t.Errorf("expected payloads to track new quadrant count, got %d payloads for %d quadrants",
			len(payloads), newTree.NumQuadrants())
	}
}

func TestRepartitionRoundTripsPayloadsOnSingleRank(t *testing.T) {
	box := vec.IVec3{2, 1, 1}
	t2 := octree.New(box, 2) // LB forest
	t1 := octree.New(box, 2) // particle forest, rank-aligned with t2

	payloads := []Payload{
		{Density: 1, Populations: make([]float64, 2)},
		{Density: 2, Populations: make([]float64, 2)},
	}
	w1 := []float64{1, 1}
	w2 := []float64{1, 1}

	comm := mpi.NewLoopback()
	ctrl := NewController(comm, Thresholds{}, linearEq{})
	out, err := ctrl.Repartition(t2, payloads, t1, w1, w2, repart.Coefficients{A1: 1, A2: 1}, 2, 900)
	if err != nil {
		t.Fatalf("Repartition: %v", err)
	}
	if len(out) != len(payloads) {
		t.Fatalf("expected %d payloads back, got %d", len(payloads), len(out))
	}
	var total float64
	for _, p := range out {
		total += p.Density
	}
	if total != 3 {
		t.Errorf("expected total density 3 preserved across repartition, got %g", total)
	}
}
