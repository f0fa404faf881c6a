package dd

import (
	"github.com/mansfield-lab/ddlb/lib/ghost"
	"github.com/mansfield-lab/ddlb/lib/mpi"
	"github.com/mansfield-lab/ddlb/lib/vec"
)

// neighborOffsets26 is every non-zero displacement in {-1,0,1}^3: the full
// face+edge+corner ghost-layer shell a regular decomposition needs (spec
// ยง4.5, ยง8 scenario S6).
var neighborOffsets26 = func() []vec.IVec3 {
	var out []vec.IVec3
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				out = append(out, vec.IVec3{dx, dy, dz})
			}
		}
	}
	return out
}()

// BuildGhostSchedule computes the 26-direction ghost.Schedule that mirrors
// this rank's boundary cells into every neighbor that needs them,
// generalizing ESPResSo's dd_prepare_comm to an arbitrary per-axis
// GhostThickness (spec ยง4.5). A direction that would cross a non-periodic
// domain edge is skipped; a direction that wraps around a periodic axis
// with only one rank resolves to a self-round against this same rank, the
// way spec ยง8 S6 exercises.
func BuildGhostSchedule(lc *LinkedCells) *ghost.Schedule {
	g := lc.Grid
	var rounds []ghost.Round
	for _, d := range neighborOffsets26 {
		var neighborPos vec.IVec3
		var shift vec.Vec3
		skip := false
		for a := 0; a < 3; a++ {
			p := g.NodePos[a] + d[a]
			switch {
			case p < 0:
				if !g.Periodic[a] {
					skip = true
				} else {
					p += g.NodeGrid[a]
					shift[a] = g.BoxL[a]
				}
			case p >= g.NodeGrid[a]:
				if !g.Periodic[a] {
					skip = true
				} else {
					p -= g.NodeGrid[a]
					shift[a] = -g.BoxL[a]
				}
			}
			neighborPos[a] = p
			if skip {
				break
			}
		}
		if skip {
			continue
		}

		sendLo, sendHi := slabRange(lc, d, true)
		recvLo, recvHi := slabRange(lc, d, false)

		rounds = append(rounds, ghost.Round{
			Neighbor: g.RankOf(neighborPos),
			Tag:      mpi.Tag([3]int{d[0], d[1], d[2]}, 0),
			// RecvTag matches the neighbor's own round for the reversed
			// displacement -d, which is the round that actually ships the
			// data this round is waiting on (mpi.Tag is not symmetric
			// under negation).
			RecvTag:   mpi.Tag([3]int{-d[0], -d[1], -d[2]}, 0),
			SendCells: lc.cellsInRange(sendLo, sendHi),
			RecvCells: lc.cellsInRange(recvLo, recvHi),
			Shift:     shift,
		})
	}
	return &ghost.Schedule{Rounds: rounds}
}

// slabRange returns the [lo, hi) GhostCellGrid coordinate range this
// direction's send or recv side covers on every axis: the far interior
// rows nearest the neighbor when sending, the ghost frame layer beyond
// them when receiving, and the full interior span on any axis this
// direction doesn't displace.
func slabRange(lc *LinkedCells, d vec.IVec3, send bool) (lo, hi vec.IVec3) {
	for a := 0; a < 3; a++ {
		gt, cg := lc.GhostThickness[a], lc.CellGrid[a]
		switch d[a] {
		case 0:
			lo[a], hi[a] = gt, gt+cg
		case 1:
			if send {
				lo[a], hi[a] = cg, cg+gt
			} else {
				lo[a], hi[a] = gt+cg, gt+cg+gt
			}
		case -1:
			if send {
				lo[a], hi[a] = gt, gt+gt
			} else {
				lo[a], hi[a] = 0, gt
			}
		}
	}
	return lo, hi
}

// cellsInRange returns the compacted cell.Store indices of every
// GhostCellGrid cell whose coordinate falls in [lo, hi) on every axis, in
// row-major order.
func (lc *LinkedCells) cellsInRange(lo, hi vec.IVec3) []int {
	var out []int
	var c vec.IVec3
	for c[2] = lo[2]; c[2] < hi[2]; c[2]++ {
		for c[1] = lo[1]; c[1] < hi[1]; c[1]++ {
			for c[0] = lo[0]; c[0] < hi[0]; c[0]++ {
				out = append(out, lc.ghostToStore[lc.ghostLinear(c)])
			}
		}
	}
	return out
}
