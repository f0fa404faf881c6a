package octree

import (
	"encoding/binary"
	"sort"

	"github.com/mansfield-lab/ddlb/lib/errs"
	"github.com/mansfield-lab/ddlb/lib/mpi"
	"github.com/mansfield-lab/ddlb/lib/vec"
)

// Quadrant is one leaf of the forest: an anchor coordinate (in finest-level
// integer units) and the refinement level it lives at.
type Quadrant struct {
	Anchor vec.IVec3
	Level  int
}

func (q Quadrant) morton(maxLevel int) int64 {
	return MortonEncode(int64(q.Anchor[0]), int64(q.Anchor[1]), int64(q.Anchor[2]))
}

// MortonRange returns the half-open [start, start+span) range of
// finest-level Morton codes q's descendants fill, at the forest's
// maxLevel resolution. Two quadrants from grids sharing the same
// maxLevel either have disjoint ranges or one range nests entirely
// inside the other (lib/repart's finest-common-tree construction, spec
// ยง4.9, relies on this alignment guarantee).
func (q Quadrant) MortonRange(maxLevel int) (start, span int64) {
	return q.morton(maxLevel), descendantSpan(q.Level, maxLevel)
}

// Grid is a rank-local octree forest: a Morton-ordered, gap-free list of
// leaf quadrants covering the rank's subdomain (spec ยง3, ยง4.4). Adjacent
// ranks' forests are expected to be rank-aligned: every rank's first
// quadrant's Morton code is a global partition boundary (spec ยง4.4 P6).
type Grid struct {
	BoxCells vec.IVec3 // subdomain size in level-0 cells
	MaxLevel int

	quadrants []Quadrant // sorted by Morton code at MaxLevel resolution
}

// New builds a Grid that starts as a single uniform level-0 grid spanning
// boxCells, refinable up to maxLevel further levels deep.
func New(boxCells vec.IVec3, maxLevel int) *Grid {
	g := &Grid{BoxCells: boxCells, MaxLevel: maxLevel}
	var a vec.IVec3
	unit := 1 << uint(maxLevel)
	for a[2] = 0; a[2] < boxCells[2]; a[2]++ {
		for a[1] = 0; a[1] < boxCells[1]; a[1]++ {
			for a[0] = 0; a[0] < boxCells[0]; a[0]++ {
				g.quadrants = append(g.quadrants, Quadrant{
					Anchor: vec.IVec3{a[0] * unit, a[1] * unit, a[2] * unit},
					Level:  0,
				})
			}
		}
	}
	g.sortByMorton()
	return g
}

// FromQuadrants builds a Grid directly from an existing quadrant list, for
// cloning a forest before mutating it (lib/adapt's grid-change procedure
// copies the forest before applying refine/coarsen, spec ยง4.7 step 2).
func FromQuadrants(boxCells vec.IVec3, maxLevel int, quadrants []Quadrant) *Grid {
	g := &Grid{BoxCells: boxCells, MaxLevel: maxLevel, quadrants: quadrants}
	g.sortByMorton()
	return g
}

func (g *Grid) sortByMorton() {
	sort.Slice(g.quadrants, func(i, j int) bool {
		return g.quadrants[i].morton(g.MaxLevel) < g.quadrants[j].morton(g.MaxLevel)
	})
}

// NumQuadrants returns the number of leaf quadrants in the forest.
func (g *Grid) NumQuadrants() int { return len(g.quadrants) }

// Quadrant returns the i'th quadrant in Morton order.
func (g *Grid) Quadrant(i int) Quadrant { return g.quadrants[i] }

// Refine replaces quadrant i with its 8 octree children at level+1 (spec
// ยง4.4's grid-change procedure, step "refine"). It errors if i is already
// at MaxLevel.
func (g *Grid) Refine(i int) error {
	q := g.quadrants[i]
	if q.Level >= g.MaxLevel {
		return errs.Inconsistencyf("octree: cannot refine quadrant at max level %d", g.MaxLevel)
	}
	childUnit := 1 << uint(g.MaxLevel-q.Level-1)
	children := make([]Quadrant, 0, 8)
	for dz := 0; dz < 2; dz++ {
		for dy := 0; dy < 2; dy++ {
			for dx := 0; dx < 2; dx++ {
				children = append(children, Quadrant{
					Anchor: vec.IVec3{
						q.Anchor[0] + dx*childUnit,
						q.Anchor[1] + dy*childUnit,
						q.Anchor[2] + dz*childUnit,
					},
					Level: q.Level + 1,
				})
			}
		}
	}
	g.quadrants = append(g.quadrants[:i], append(children, g.quadrants[i+1:]...)...)
	return nil
}

// Coarsen merges the 8 sibling quadrants starting at index first (which
// must be a complete, Morton-contiguous family sharing a parent) back into
// their parent. It errors if the family is incomplete or not siblings.
func (g *Grid) Coarsen(first int) error {
	if first+8 > len(g.quadrants) {
		return errs.Inconsistencyf("octree: coarsen family out of range at %d", first)
	}
	family := g.quadrants[first : first+8]
	level := family[0].Level
	if level == 0 {
		return errs.Inconsistencyf("octree: cannot coarsen a level-0 quadrant")
	}
	parentUnit := 1 << uint(g.MaxLevel-level+1)
	parentAnchor := vec.IVec3{
		family[0].Anchor[0] / parentUnit * parentUnit,
		family[0].Anchor[1] / parentUnit * parentUnit,
		family[0].Anchor[2] / parentUnit * parentUnit,
	}
	for _, c := range family {
		if c.Level != level {
			return errs.Inconsistencyf("octree: coarsen family has mixed levels")
		}
		ca := vec.IVec3{
			c.Anchor[0] / parentUnit * parentUnit,
			c.Anchor[1] / parentUnit * parentUnit,
			c.Anchor[2] / parentUnit * parentUnit,
		}
		if ca != parentAnchor {
			return errs.Inconsistencyf("octree: coarsen family does not share a parent")
		}
	}
	parent := Quadrant{Anchor: parentAnchor, Level: level - 1}
	g.quadrants = append(g.quadrants[:first], append([]Quadrant{parent}, g.quadrants[first+8:]...)...)
	return nil
}

// Balance2to1 enforces the 2:1 balance invariant (spec ยง4.4 P5): no two
// leaf quadrants that touch across a face, an edge or a corner may differ
// by more than one refinement level. Violating quadrants are refined (never coarsened, which could
// re-introduce an imbalance elsewhere) until the invariant holds or no
// progress is possible within maxPasses sweeps.
func (g *Grid) Balance2to1(maxPasses int) error {
	for pass := 0; pass < maxPasses; pass++ {
		changed := false
		for i := 0; i < len(g.quadrants); i++ {
			for j := 0; j < len(g.quadrants); j++ {
				if i == j {
					continue
				}
				qi, qj := g.quadrants[i], g.quadrants[j]
				if !faceAdjacent(qi, qj, g.MaxLevel) {
					continue
				}
				if qj.Level-qi.Level > 1 {
					if err := g.Refine(i); err != nil {
						return err
					}
					changed = true
					break
				}
			}
			if changed {
				break
			}
		}
		if !changed {
			g.sortByMorton()
			return nil
		}
		g.sortByMorton()
	}
	return errs.Inconsistencyf("octree: 2:1 balance did not converge in %d passes", maxPasses)
}

func quadrantSize(q Quadrant, maxLevel int) int {
	return 1 << uint(maxLevel-q.Level)
}

// Bounds returns q's half-open [lo, hi) extent in finest-level cell
// coordinates, at the forest's maxLevel resolution. Callers mapping
// external per-cell data (e.g. particle velocities) onto quadrants use
// this to test containment without reaching into q's anchor/level encoding
// directly.
func (q Quadrant) Bounds(maxLevel int) (lo, hi vec.IVec3) {
	size := quadrantSize(q, maxLevel)
	for d := 0; d < 3; d++ {
		lo[d] = q.Anchor[d]
		hi[d] = q.Anchor[d] + size
	}
	return lo, hi
}

func faceAdjacent(a, b Quadrant, maxLevel int) bool {
	sa, sb := quadrantSize(a, maxLevel), quadrantSize(b, maxLevel)
	touching := 0
	for d := 0; d < 3; d++ {
		loA, hiA := a.Anchor[d], a.Anchor[d]+sa
		loB, hiB := b.Anchor[d], b.Anchor[d]+sb
		if hiA <= loB || hiB <= loA {
			if hiA == loB || hiB == loA {
				touching++
				continue
			}
			return false
		}
	}
	return touching >= 1
}

// PositionToQid returns the index of the leaf quadrant containing the
// finest-level integer coordinate cellCoord, via binary search over the
// Morton-sorted quadrant list (spec ยง4.4, grounded on p4est_utils.cpp's
// p4est_utils_pos_to_proc pattern of an upper_bound search against
// first-quadrant Morton indices).
func (g *Grid) PositionToQid(cellCoord vec.IVec3) (int, bool) {
	code := MortonEncode(int64(cellCoord[0]), int64(cellCoord[1]), int64(cellCoord[2]))
	i := sort.Search(len(g.quadrants), func(i int) bool {
		return g.quadrants[i].morton(g.MaxLevel) > code
	}) - 1
	if i < 0 {
		return 0, false
	}
	q := g.quadrants[i]
	span := descendantSpan(q.Level, g.MaxLevel)
	if code < q.morton(g.MaxLevel)+span {
		return i, true
	}
	return 0, false
}

// PosToQidExt is PositionToQid with the 8-corner retry p4est_utils.cpp
// needs for positions sitting exactly on a quadrant face: when the direct
// lookup at cellCoord misses (can happen after a ghost-shifted position
// rounds onto a boundary), the other 7 coordinates obtained by stepping -1
// or +0 on each axis are tried in turn, and the first hit wins (spec ยง9
// supplement; original dd_p4est.cpp calls this "ext" because it also
// tolerates off-domain positions from a periodic ghost shift).
func (g *Grid) PosToQidExt(cellCoord vec.IVec3) (int, bool) {
	if qid, ok := g.PositionToQid(cellCoord); ok {
		return qid, true
	}
	for dz := -1; dz <= 0; dz++ {
		for dy := -1; dy <= 0; dy++ {
			for dx := -1; dx <= 0; dx++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				c := vec.IVec3{cellCoord[0] + dx, cellCoord[1] + dy, cellCoord[2] + dz}
				if c[0] < 0 || c[1] < 0 || c[2] < 0 {
					continue
				}
				if qid, ok := g.PositionToQid(c); ok {
					return qid, true
				}
			}
		}
	}
	return 0, false
}

const quadrantWireSize = 4 * 8 // Anchor x,y,z + Level, each a little-endian uint64

func encodeQuadrant(q Quadrant, buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(q.Anchor[0]))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(q.Anchor[1]))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(q.Anchor[2]))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(q.Level))
}

func decodeQuadrant(buf []byte) Quadrant {
	return Quadrant{
		Anchor: vec.IVec3{
			int(binary.LittleEndian.Uint64(buf[0:8])),
			int(binary.LittleEndian.Uint64(buf[8:16])),
			int(binary.LittleEndian.Uint64(buf[16:24])),
		},
		Level: int(binary.LittleEndian.Uint64(buf[24:32])),
	}
}

func prefixSumInt64(counts []int64) []int64 {
	out := make([]int64, len(counts))
	var sum int64
	for i, c := range counts {
		out[i] = sum
		sum += c
	}
	return out
}

func prefixSumInt(counts []int) []int64 {
	out := make([]int64, len(counts))
	var sum int64
	for i, c := range counts {
		out[i] = sum
		sum += int64(c)
	}
	return out
}

func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func minI64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// PartitionGiven redistributes this rank's quadrants in Morton order so
// that rank r ends up owning newCounts[r] of them (spec ยง4.9 step 4's
// "octree partition-given primitive", grounded on p4est_utils.cpp's
// p4est_partition_given). newCounts must already be identical on every
// rank (lib/repart.Plan derives it with an AllreduceSumInt64 before
// calling here). tagBase distinguishes this call's messages from any
// other PartitionGiven round in flight at the same time (lib/repart
// repartitions two forests back to back and uses two tagBases for them).
//
// Like lib/fft's stage transitions, both the sender and receiver compute
// identical overlap geometry independently from oldCounts/newCounts
// alone, so a single payload round suffices; no size-header handshake is
// needed.
func (g *Grid) PartitionGiven(comm mpi.Comm, newCounts []int, tagBase int) error {
	rank, size := comm.Rank(), comm.Size()
	if len(newCounts) != size {
		return errs.Inconsistencyf("octree: newCounts has %d entries, want %d ranks", len(newCounts), size)
	}

	oneHot := make([]int64, size)
	oneHot[rank] = int64(len(g.quadrants))
	oldCounts, err := comm.AllreduceSumInt64(oneHot)
	if err != nil {
		return err
	}

	oldOffsets := prefixSumInt64(oldCounts)
	newOffsets := prefixSumInt(newCounts)

	myOldLo, myOldHi := oldOffsets[rank], oldOffsets[rank]+oldCounts[rank]
	myNewLo, myNewHi := newOffsets[rank], newOffsets[rank]+int64(newCounts[rank])

	var reqs []mpi.Request

	for other := 0; other < size; other++ {
		lo := maxI64(myOldLo, newOffsets[other])
		hi := minI64(myOldHi, newOffsets[other]+int64(newCounts[other]))
		if hi <= lo {
			continue
		}
		start, end := int(lo-myOldLo), int(hi-myOldLo)
		buf := make([]byte, (end-start)*quadrantWireSize)
		for i := start; i < end; i++ {
			encodeQuadrant(g.quadrants[i], buf[(i-start)*quadrantWireSize:])
		}
		reqs = append(reqs, comm.Isend(other, tagBase, buf))
	}

	type recvSlot struct {
		other int
		buf   []byte
		n     int
	}
	var recvs []recvSlot
	for other := 0; other < size; other++ {
		lo := maxI64(oldOffsets[other], myNewLo)
		hi := minI64(oldOffsets[other]+oldCounts[other], myNewHi)
		if hi <= lo {
			continue
		}
		n := int(hi - lo)
		buf := make([]byte, n*quadrantWireSize)
		recvs = append(recvs, recvSlot{other: other, buf: buf, n: n})
		reqs = append(reqs, comm.Irecv(other, tagBase, buf))
	}

	if err := comm.Waitall(reqs); err != nil {
		return err
	}

	newQuadrants := make([]Quadrant, 0, newCounts[rank])
	for _, r := range recvs {
		for i := 0; i < r.n; i++ {
			newQuadrants = append(newQuadrants, decodeQuadrant(r.buf[i*quadrantWireSize:]))
		}
	}
	g.quadrants = newQuadrants
	g.sortByMorton()
	return nil
}
