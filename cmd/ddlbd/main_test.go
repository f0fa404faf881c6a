package main

import (
	"testing"

	"github.com/mansfield-lab/ddlb/lib/cell"
	"github.com/mansfield-lab/ddlb/lib/config"
	"github.com/mansfield-lab/ddlb/lib/mpi"
	"github.com/mansfield-lab/ddlb/lib/vec"
)

func testConfig() *config.Config {
	return &config.Config{
		BoxL:           [3]float64{10, 10, 10},
		Periodic:       [3]bool{true, true, true},
		MaxRange:       1.0,
		MaxCells:       64,
		GhostThickness: [3]int{1, 1, 1},
		ShearAxis:      -1,
		MaxOctreeLevel: 2,
		Threads:        -1,
		Snaps:          1,
	}
}

func TestBuildTopologyOnSingleRank(t *testing.T) {
	topo, err := BuildTopology(mpi.NewLoopback(), testConfig())
	if err != nil {
		t.Fatalf("BuildTopology: %v", err)
	}
	if topo.lbTree.NumQuadrants() == 0 {
		t.Errorf("expected a non-empty LB forest")
	}
}

func TestStepAndAdaptStepRunOnSingleRank(t *testing.T) {
	cfg := testConfig()
	topo, err := BuildTopology(mpi.NewLoopback(), cfg)
	if err != nil {
		t.Fatalf("BuildTopology: %v", err)
	}

	class := classifier{lc: topo.cells, g: topo.grid}
	for i := 0; i < 4; i++ {
		p := cell.Particle{
			ID:  int64(i),
			Pos: vec.Vec3{float64(i) + 0.5, 1, 1},
			Vel: vec.Vec3{1, 0, 0},
		}
		if !topo.store.AddLocalParticle(p, class) {
			t.Fatalf("particle %d landed outside the local cell grid", i)
		}
	}

	imageCount := make(map[int64]*[3]int)
	if err := Step(topo, imageCount); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if err := AdaptStep(topo, 9000); err != nil {
		t.Fatalf("AdaptStep: %v", err)
	}
}
