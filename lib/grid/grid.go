/*Package grid implements C1: the global box geometry, the Cartesian process
grid, and the periodic folding every other component needs before it can
decide which rank owns a position.

PositionToNode and FoldPosition generalize the periodic wraparound
arithmetic in guppy's go/bounds.go from a post-hoc analysis tool into the
Grid that lib/dd, lib/exchange, and cmd/ddlbd consult on every call.
*/
package grid

import (
	"math"

	"github.com/mansfield-lab/ddlb/lib/errs"
	"github.com/mansfield-lab/ddlb/lib/vec"
)

// RoundErrorPrec is the ROUND_ERROR_PREC tolerance spec ยง6 mentions: the
// slack used to decide whether a position lies on a periodic boundary or
// just outside the ghost frame.
const RoundErrorPrec = 1e-10

// Grid holds the box geometry and the Cartesian process grid. It is
// constructed once at topology init and replaced atomically on any box
// change (spec ยง3 Lifecycle).
type Grid struct {
	BoxL     vec.Vec3 // global box edge lengths
	Periodic [3]bool

	NodeGrid vec.IVec3 // Cartesian process grid shape
	NodePos  vec.IVec3 // this rank's coordinate in NodeGrid

	LocalBoxL vec.Vec3 // this rank's subdomain edge lengths
	MyLeft    vec.Vec3 // lower corner of this rank's subdomain
	MyRight   vec.Vec3 // upper corner of this rank's subdomain
}

// New builds a Grid for the given box, periodicity, process-grid shape, and
// this rank's coordinate within it. nodeGrid[d] must evenly divide no
// particular relationship with boxL[d]; ranks simply own an equal fraction
// of the box along each axis.
func New(boxL vec.Vec3, periodic [3]bool, nodeGrid, nodePos vec.IVec3) *Grid {
	g := &Grid{
		BoxL:     boxL,
		Periodic: periodic,
		NodeGrid: nodeGrid,
		NodePos:  nodePos,
	}
	for d := 0; d < 3; d++ {
		g.LocalBoxL[d] = boxL[d] / float64(nodeGrid[d])
		g.MyLeft[d] = float64(nodePos[d]) * g.LocalBoxL[d]
		g.MyRight[d] = g.MyLeft[d] + g.LocalBoxL[d]
	}
	return g
}

// RankOf returns the process rank that owns (nodePos[0], nodePos[1],
// nodePos[2]) in row-major (z-slowest... x-fastest) order, the convention
// PositionToNode and the MPI communicator's linear rank numbering both use.
func (g *Grid) RankOf(nodePos vec.IVec3) int {
	return nodePos[0] + g.NodeGrid[0]*(nodePos[1]+g.NodeGrid[1]*nodePos[2])
}

// NodePosOf is the inverse of RankOf.
func (g *Grid) NodePosOf(rank int) vec.IVec3 {
	x := rank % g.NodeGrid[0]
	rank /= g.NodeGrid[0]
	y := rank % g.NodeGrid[1]
	z := rank / g.NodeGrid[1]
	return vec.IVec3{x, y, z}
}

// PositionToNode returns the rank owning pos. It is total and deterministic
// for any in-box position (spec ยง4.1): a position exactly on a process
// boundary belongs to the rank on the "upper" side of the lower cell, i.e.
// the boundary is closed on the left and open on the right, matching the
// half-open subdomain convention MyLeft/MyRight also use.
func (g *Grid) PositionToNode(pos vec.Vec3) int {
	var np vec.IVec3
	for d := 0; d < 3; d++ {
		x := pos[d]
		if g.Periodic[d] {
			x = math.Mod(x, g.BoxL[d])
			if x < 0 {
				x += g.BoxL[d]
			}
		}
		idx := int(x / g.LocalBoxL[d])
		if idx < 0 {
			idx = 0
		}
		if idx >= g.NodeGrid[d] {
			idx = g.NodeGrid[d] - 1
		}
		np[d] = idx
	}
	return g.RankOf(np)
}

// FoldPosition reduces pos to [0, L) along every periodic dimension,
// clamping non-periodic dimensions instead, and adjusts imageCount by ยฑ1
// per wrap so the caller can recover the particle's unwrapped trajectory
// (spec ยง4.1).
func (g *Grid) FoldPosition(pos vec.Vec3, imageCount [3]int) (vec.Vec3, [3]int) {
	out := pos
	for d := 0; d < 3; d++ {
		if !g.Periodic[d] {
			if out[d] < 0 {
				out[d] = 0
			} else if out[d] > g.BoxL[d] {
				out[d] = g.BoxL[d]
			}
			continue
		}
		for out[d] < 0 {
			out[d] += g.BoxL[d]
			imageCount[d]--
		}
		for out[d] >= g.BoxL[d] {
			out[d] -= g.BoxL[d]
			imageCount[d]++
		}
	}
	return out, imageCount
}

// Validate checks that the box is consistent with a minimum interaction
// range, returning a Configuration error naming the offending axis
// otherwise (spec ยง7).
func (g *Grid) Validate(maxRange float64) error {
	for d := 0; d < 3; d++ {
		if g.BoxL[d] < maxRange {
			return errs.Configurationf(
				"box_l[%d] = %g is shorter than max_range = %g",
				d, g.BoxL[d], maxRange)
		}
	}
	return nil
}
