package adapt

import (
	"github.com/mansfield-lab/ddlb/lib/errs"
	"github.com/mansfield-lab/ddlb/lib/mpi"
	"github.com/mansfield-lab/ddlb/lib/octree"
	"github.com/mansfield-lab/ddlb/lib/repart"
	"github.com/mansfield-lab/ddlb/lib/vec"
)

// Controller drives spec ยง4.7's grid-change procedure: tag quadrants for
// refine/coarsen, apply the change to a copy of the forest, remap local
// payloads across the old/new quadrant correspondence, and hand off to
// repartitioning and payload transfer.
type Controller struct {
	comm       mpi.Comm
	thresholds Thresholds
	eq         EqTable
	maxPasses  int
}

// NewController builds a Controller that will use comm for the bounds
// Allreduce, th for the refine/coarsen cutoffs, and eq to recompute
// populations on refined children.
func NewController(comm mpi.Comm, th Thresholds, eq EqTable) *Controller {
	return &Controller{comm: comm, thresholds: th, eq: eq, maxPasses: 8}
}

// Cell is one quadrant's adaptivity inputs: its speed/vorticity magnitude,
// whether it touches the domain boundary (boundary cells never coarsen),
// and its current payload.
type Cell struct {
	Speed     float64
	VortMag   float64
	Boundary  bool
	Payload   Payload
}

// Plan applies spec ยง4.7 steps 1-3 to tree and the per-quadrant cells
// (indexed the same as tree's quadrant order): it tags refine/coarsen
// candidates, copies the forest, applies refine then coarsen then 2:1
// balance, and returns the new forest together with the remapped
// payloads, in the new forest's quadrant order.
func (c *Controller) Plan(tree *octree.Grid, cells []Cell) (*octree.Grid, []Payload, error) {
	if len(cells) != tree.NumQuadrants() {
		return nil, nil, errs.Inconsistencyf("adapt: %d cells but %d quadrants", len(cells), tree.NumQuadrants())
	}

	speeds := make([]float64, len(cells))
	vorts := make([]float64, len(cells))
	for i, cl := range cells {
		speeds[i], vorts[i] = cl.Speed, cl.VortMag
	}
	local := LocalBounds(speeds, vorts)
	bounds, err := Reduce(c.comm, local)
	if err != nil {
		return nil, nil, err
	}

	refine := make([]bool, len(cells))
	for i, cl := range cells {
		refine[i] = IsRefineCandidate(cl.Speed, cl.VortMag, bounds, c.thresholds)
	}
	coarsen := coarsenFamilies(tree, cells, bounds, c.thresholds)

	newTree, payloads, err := c.applyPlan(tree, cells, refine, coarsen)
	if err != nil {
		return nil, nil, err
	}

	if err := newTree.Balance2to1(c.maxPasses); err != nil {
		return nil, nil, err
	}
	return newTree, payloads, nil
}

// parentAnchor returns the anchor of the level-(level-1) quadrant that
// would contain q if q's family collapsed by one level, using the same
// bit-masking octree.Grid.Coarsen itself validates a family's shared
// parent against.
func parentAnchor(q octree.Quadrant, level, maxLevel int) vec.IVec3 {
	unit := 1 << uint(maxLevel-level+1)
	var p vec.IVec3
	for d := 0; d < 3; d++ {
		p[d] = q.Anchor[d] / unit * unit
	}
	return p
}

// coarsenFamilies returns, for each quadrant index, the index of the first
// member of its coarsen family if it belongs to one, or -1 otherwise. A
// family is a run of exactly 8 Morton-contiguous quadrants sharing a level
// and a parent anchor (actual siblings, not merely 8 consecutive indices,
// which only coincide with sibling runs on a uniform grid) that are all
// coarsen-eligible and not boundary cells (spec ยง4.7: "coarsen candidate
// when all 8 sibling children are non-boundary and below the lower
// thresholds").
func coarsenFamilies(tree *octree.Grid, cells []Cell, bounds Bounds, th Thresholds) []int {
	familyStart := make([]int, len(cells))
	for i := range familyStart {
		familyStart[i] = -1
	}
	for i := 0; i < len(cells); {
		level := tree.Quadrant(i).Level
		if level == 0 {
			i++
			continue
		}
		parent := parentAnchor(tree.Quadrant(i), level, tree.MaxLevel)
		j := i
		for j < len(cells) && tree.Quadrant(j).Level == level &&
			parentAnchor(tree.Quadrant(j), level, tree.MaxLevel) == parent {
			j++
		}
		if j-i == 8 {
			ok := true
			for k := i; k < j; k++ {
				if cells[k].Boundary || !IsCoarsenEligible(cells[k].Speed, cells[k].VortMag, bounds, th) {
					ok = false
					break
				}
			}
			if ok {
				for k := i; k < j; k++ {
					familyStart[k] = i
				}
			}
		}
		i = j
	}
	return familyStart
}

// applyPlan implements spec ยง4.7 steps 2-3. It walks cells back-to-front
// exactly once, resolving each index's coarsen-family membership and
// refine flag against tree/payloads before anything to its left has been
// touched; this is what spec ยง4.7 step 1 calls tagging each flag-array
// index with its owning qid so the flags survive octree mutation, since a
// family collapsing 8->1 and a neighboring quadrant's refine 1->8 would
// otherwise desync each other's bookkeeping if processed in two separate
// passes indexed by original position.
func (c *Controller) applyPlan(tree *octree.Grid, cells []Cell, refine []bool, familyStart []int) (*octree.Grid, []Payload, error) {
	newTree := cloneGrid(tree)
	payloads := make([]Payload, len(cells))
	for i, cl := range cells {
		payloads[i] = cl.Payload
	}

	for i := len(cells) - 1; i >= 0; {
		start := familyStart[i]
		if start >= 0 {
			if start != i {
				i--
				continue
			}
			var family [8]Payload
			copy(family[:], payloads[i:i+8])
			parent := RestrictFromChildren(family)
			if err := newTree.Coarsen(i); err != nil {
				return nil, nil, err
			}
			payloads = append(payloads[:i], append([]Payload{parent}, payloads[i+8:]...)...)
			i = start - 1
			continue
		}
		if refine[i] {
			if err := newTree.Refine(i); err != nil {
				i--
				continue
			}
			child := payloads[i].InterpolateToChild(c.eq)
			children := make([]Payload, 8)
			for k := range children {
				children[k] = child
			}
			payloads = append(payloads[:i], append(children, payloads[i+1:]...)...)
		}
		i--
	}

	return newTree, payloads, nil
}

// Repartition implements spec ยง4.7 steps 4-6. tree is this rank's current
// (post grid-change) LB forest and payloads its per-quadrant state in the
// same order; t1 is the paired particle forest C9 keeps rank-aligned with
// it, w1/w2 the two forests' per-quadrant weights feeding repart.Plan, and
// coef its scaling coefficients. tagBase must not collide with any other
// in-flight round: repart.ApplyPartition (called internally) uses tagBase
// and tagBase+1, and the payload transfer round here uses tagBase+2.
func (c *Controller) Repartition(tree *octree.Grid, payloads []Payload, t1 *octree.Grid,
	w1, w2 []float64, coef repart.Coefficients, maxLevel, tagBase int) ([]Payload, error) {

	if tree.NumQuadrants() != len(payloads) {
		return nil, errs.Inconsistencyf("adapt: %d quadrants but %d payloads", tree.NumQuadrants(), len(payloads))
	}
	numPressureModes, numPopulations := 0, 0
	if len(payloads) > 0 {
		numPressureModes = len(payloads[0].PressureModes)
		numPopulations = len(payloads[0].Populations)
	}
	oldCount := len(payloads)

	t1Counts, t2Counts, err := repart.Plan(c.comm, t1, tree, maxLevel, w1, w2, coef)
	if err != nil {
		return nil, err
	}

	// Ship payloads against the pre-partition Morton offsets before
	// ApplyPartition reshuffles tree's own quadrant list; both compute
	// the same oldCounts from the forest's current (still old) size.
	newPayloads, err := transferPayloads(c.comm, oldCount, t2Counts, payloads,
		numPressureModes, numPopulations, tagBase+2)
	if err != nil {
		return nil, err
	}

	if err := repart.ApplyPartition(c.comm, t1, tree, t1Counts, t2Counts, tagBase); err != nil {
		return nil, err
	}

	return newPayloads, nil
}

// transferPayloads implements spec ยง4.7 step 5 ("posts matching
// Irecv/Isend pairs of raw payload bytes") and, by concatenating received
// blocks in ascending sender-rank order, step 6's Morton-order reinsert:
// since oldCounts/newCounts partition the same global Morton sequence
// both PartitionGiven uses, each sender's contributed block is itself a
// contiguous Morton range, and ranks are visited in increasing order.
func transferPayloads(comm mpi.Comm, oldCount int, newCounts []int, payloads []Payload,
	numPressureModes, numPopulations, tag int) ([]Payload, error) {

	rank, size := comm.Rank(), comm.Size()

	oneHot := make([]int64, size)
	oneHot[rank] = int64(oldCount)
	oldCounts, err := comm.AllreduceSumInt64(oneHot)
	if err != nil {
		return nil, err
	}

	oldOffsets := make([]int64, size)
	newOffsets := make([]int64, size)
	var oldSum, newSum int64
	for r := 0; r < size; r++ {
		oldOffsets[r] = oldSum
		oldSum += oldCounts[r]
		newOffsets[r] = newSum
		newSum += int64(newCounts[r])
	}

	myOldLo, myOldHi := oldOffsets[rank], oldOffsets[rank]+oldCounts[rank]
	myNewLo, myNewHi := newOffsets[rank], newOffsets[rank]+int64(newCounts[rank])
	recordSize := payloadWireSize(numPressureModes, numPopulations)

	var reqs []mpi.Request
	for other := 0; other < size; other++ {
		lo := maxI64(myOldLo, newOffsets[other])
		hi := minI64(myOldHi, newOffsets[other]+int64(newCounts[other]))
		if hi <= lo {
			continue
		}
		start, end := int(lo-myOldLo), int(hi-myOldLo)
		buf := make([]byte, (end-start)*recordSize)
		for i := start; i < end; i++ {
			encodePayload(payloads[i], buf[(i-start)*recordSize:])
		}
		reqs = append(reqs, comm.Isend(other, tag, buf))
	}

	type recvSlot struct {
		buf []byte
		n   int
	}
	var recvs []recvSlot
	for other := 0; other < size; other++ {
		lo := maxI64(oldOffsets[other], myNewLo)
		hi := minI64(oldOffsets[other]+oldCounts[other], myNewHi)
		if hi <= lo {
			continue
		}
		n := int(hi - lo)
		buf := make([]byte, n*recordSize)
		recvs = append(recvs, recvSlot{buf: buf, n: n})
		reqs = append(reqs, comm.Irecv(other, tag, buf))
	}

	if err := comm.Waitall(reqs); err != nil {
		return nil, err
	}

	out := make([]Payload, 0, newCounts[rank])
	for _, r := range recvs {
		for i := 0; i < r.n; i++ {
			out = append(out, decodePayload(r.buf[i*recordSize:], numPressureModes, numPopulations))
		}
	}
	return out, nil
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

func cloneGrid(tree *octree.Grid) *octree.Grid {
	quads := make([]octree.Quadrant, tree.NumQuadrants())
	for i := 0; i < tree.NumQuadrants(); i++ {
		quads[i] = tree.Quadrant(i)
	}
	return octree.FromQuadrants(tree.BoxCells, tree.MaxLevel, quads)
}
