package main

import (
	"github.com/mansfield-lab/ddlb/lib/adapt"
	"github.com/mansfield-lab/ddlb/lib/cell"
	"github.com/mansfield-lab/ddlb/lib/config"
	"github.com/mansfield-lab/ddlb/lib/dd"
	"github.com/mansfield-lab/ddlb/lib/errs"
	"github.com/mansfield-lab/ddlb/lib/exchange"
	"github.com/mansfield-lab/ddlb/lib/fft"
	"github.com/mansfield-lab/ddlb/lib/ghost"
	"github.com/mansfield-lab/ddlb/lib/grid"
	"github.com/mansfield-lab/ddlb/lib/mpi"
	"github.com/mansfield-lab/ddlb/lib/octree"
	"github.com/mansfield-lab/ddlb/lib/vec"
)

// classifier adapts a LinkedCells to exchange.Classifier: PositionToCell
// delegates to lib/dd's rejecting save_position_to_cell (an incoming
// particle that doesn't belong locally must be refused, not clamped), and
// RankFor is the Grid lookup Exchanger needs to decide whether a
// displaced particle even left this rank.
type classifier struct {
	lc *dd.LinkedCells
	g  *grid.Grid
}

func (c classifier) PositionToCell(pos [3]float64) (int, bool) {
	return c.lc.SavePositionToCell(pos)
}
func (c classifier) RankFor(pos [3]float64) int { return c.g.PositionToNode(vec.Vec3(pos)) }

// Topology bundles every per-rank component built from one Config: the
// box/process grid (C1), the regular cell store and its ghost schedule
// (C2-C5), particle migration (C6), the paired LB/particle octree forests
// that AdaptController keeps rank-aligned (C4, C7, C9), and the FFT3D
// plan the LB solver's pressure/stress solve uses (C8).
type Topology struct {
	cfg   *config.Config
	comm  mpi.Comm
	grid  *grid.Grid
	cells *dd.LinkedCells
	store *cell.Store

	ghostComm *ghost.Comm
	exch      *exchange.Exchanger

	lbTree     *octree.Grid
	lbPayloads []adapt.Payload
	partTree   *octree.Grid
	adaptCtl   *adapt.Controller

	fftPlan *fft.Plan
}

// BuildTopology wires comm and cfg into a Topology, the way guppy's Check
// mode validates a configuration before Convert ever touches a file: every
// fallible step here is a Configuration or Inconsistency error the caller
// reports and exits on, never a panic.
func BuildTopology(comm mpi.Comm, cfg *config.Config) (*Topology, error) {
	nodeGrid := vec.IVec3(cfg.NodeGrid)
	if nodeGrid == (vec.IVec3{}) {
		nodeGrid = factorNodeGrid(comm.Size())
	}
	if nodeGrid.Prod() != comm.Size() {
		return nil, errs.Configurationf(
			"Grid.NodeGrid %v does not divide evenly into %d ranks", nodeGrid, comm.Size())
	}
	nodePos := nodeGridPos(comm.Rank(), nodeGrid)

	g := grid.New(vec.Vec3(cfg.BoxL), cfg.Periodic, nodeGrid, nodePos)
	if err := g.Validate(cfg.MaxRange); err != nil {
		return nil, err
	}

	lc, err := dd.New(g, cfg.MaxRange, cfg.MaxCells, vec.IVec3(cfg.GhostThickness), cfg.ShearAxis)
	if err != nil {
		return nil, err
	}
	store := cell.NewStore(lc.NumLocalCells(), lc.NumGhostCells())

	sched := dd.BuildGhostSchedule(lc)
	gc := ghost.New(comm, sched, cell.PositionShifted|cell.Force)
	exch := exchange.New(comm, g, classifier{lc: lc, g: g})

	lbTree := octree.New(lc.CellGrid, cfg.MaxOctreeLevel)
	partTree := octree.New(lc.CellGrid, cfg.MaxOctreeLevel)
	lbPayloads := make([]adapt.Payload, lbTree.NumQuadrants())

	th := adapt.Thresholds{
		RefineVelocityFrac:  cfg.RefineVelocityFrac,
		RefineVorticityFrac: cfg.RefineVorticityFrac,
	}
	adaptCtl := adapt.NewController(comm, th, adapt.DefaultEqTable())

	var plan *fft.Plan
	if cfg.FFTMesh != ([3]int{}) {
		plan, err = fft.NewPlan(comm, nodeGrid, vec.IVec3(cfg.FFTMesh))
		if err != nil {
			return nil, err
		}
	}

	return &Topology{
		cfg: cfg, comm: comm, grid: g, cells: lc, store: store,
		ghostComm: gc, exch: exch,
		lbTree: lbTree, lbPayloads: lbPayloads, partTree: partTree, adaptCtl: adaptCtl,
		fftPlan: plan,
	}, nil
}

func nodeGridPos(rank int, nodeGrid vec.IVec3) vec.IVec3 {
	x := rank % nodeGrid[0]
	rank /= nodeGrid[0]
	y := rank % nodeGrid[1]
	z := rank / nodeGrid[1]
	return vec.IVec3{x, y, z}
}
