package fft

import (
	"bytes"
	"testing"

	"github.com/mansfield-lab/ddlb/lib/mpi"
	"github.com/mansfield-lab/ddlb/lib/vec"
)

func TestBuildWisdomMatchesBuildPlanGeometryForEveryRank(t *testing.T) {
	nodeGrid := vec.IVec3{2, 2, 1}
	mesh := vec.IVec3{8, 8, 8}

	w, err := BuildWisdom(nodeGrid, mesh)
	if err != nil {
		t.Fatalf("BuildWisdom: %v", err)
	}
	if w.NRanks != nodeGrid.Prod() {
		t.Fatalf("expected %d ranks, got %d", nodeGrid.Prod(), w.NRanks)
	}

	for r := 0; r < w.NRanks; r++ {
		want, err := buildPlanGeometry(r, w.NRanks, nodeGrid, mesh)
		if err != nil {
			t.Fatalf("buildPlanGeometry(%d): %v", r, err)
		}
		got := w.Ranks[r]
		if got.D0Block != want.d0Block {
			t.Errorf("rank %d: d0Block mismatch: got %+v, want %+v", r, got.D0Block, want.d0Block)
		}
		for k := 0; k < 3; k++ {
			if got.Stages[k].localBlock != want.stages[k].localBlock {
				t.Errorf("rank %d stage %d: localBlock mismatch", r, k)
			}
			if len(got.Stages[k].send) != len(want.stages[k].send) {
				t.Errorf("rank %d stage %d: send count mismatch: got %d, want %d", r, k, len(got.Stages[k].send), len(want.stages[k].send))
			}
			if len(got.Stages[k].recv) != len(want.stages[k].recv) {
				t.Errorf("rank %d stage %d: recv count mismatch: got %d, want %d", r, k, len(got.Stages[k].recv), len(want.stages[k].recv))
			}
		}
	}
}

func TestNewPlanFromWisdomMatchesNewPlanOnSingleRank(t *testing.T) {
	nodeGrid := vec.IVec3{1, 1, 1}
	mesh := vec.IVec3{8, 8, 8}

	w, err := BuildWisdom(nodeGrid, mesh)
	if err != nil {
		t.Fatalf("BuildWisdom: %v", err)
	}

	comm := mpi.NewLoopback()
	want, err := NewPlan(comm, nodeGrid, mesh)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	got, err := NewPlanFromWisdom(comm, w)
	if err != nil {
		t.Fatalf("NewPlanFromWisdom: %v", err)
	}

	if got.d0Block != want.d0Block {
		t.Errorf("d0Block mismatch: got %+v, want %+v", got.d0Block, want.d0Block)
	}
	for k := 0; k < 3; k++ {
		if got.stages[k].localBlock != want.stages[k].localBlock {
			t.Errorf("stage %d localBlock mismatch: got %+v, want %+v", k, got.stages[k].localBlock, want.stages[k].localBlock)
		}
	}
}

func TestWisdomSaveLoadRoundTrip(t *testing.T) {
	nodeGrid := vec.IVec3{2, 1, 1}
	mesh := vec.IVec3{6, 4, 4}

	w, err := BuildWisdom(nodeGrid, mesh)
	if err != nil {
		t.Fatalf("BuildWisdom: %v", err)
	}

	var buf bytes.Buffer
	if err := writeWisdom(&buf, w); err != nil {
		t.Fatalf("writeWisdom: %v", err)
	}
	got, err := readWisdom(&buf)
	if err != nil {
		t.Fatalf("readWisdom: %v", err)
	}

	if got.NodeGrid != w.NodeGrid || got.Mesh != w.Mesh || got.NRanks != w.NRanks {
		t.Fatalf("header mismatch: got %+v, want %+v", got, w)
	}
	for r := range w.Ranks {
		if got.Ranks[r].D0Block != w.Ranks[r].D0Block {
			t.Errorf("rank %d D0Block mismatch: got %+v, want %+v", r, got.Ranks[r].D0Block, w.Ranks[r].D0Block)
		}
		for k := 0; k < 3; k++ {
			gs, ws := got.Ranks[r].Stages[k], w.Ranks[r].Stages[k]
			if gs.fullAxis != ws.fullAxis || gs.axisOrder != ws.axisOrder || gs.element != ws.element {
				t.Errorf("rank %d stage %d header mismatch: got %+v, want %+v", r, k, gs, ws)
			}
			if len(gs.send) != len(ws.send) || len(gs.recv) != len(ws.recv) {
				t.Errorf("rank %d stage %d link count mismatch", r, k)
			}
		}
	}
}
