/*Package repart implements C9: the Repartitioner that keeps a particle
forest and an LB forest rank-aligned under a shared weighted partition.

It generalizes ESPResSo's repart.hpp (the finest-common-tree construction
named there, built here as BuildFCT) from its two hardcoded trees into an
operation over any pair of octree.Grid forests sharing a maxLevel, and
replaces repart.hpp's direct p4est_partition_given call with
lib/octree.Grid.PartitionGiven (spec ยง4.9).
*/
package repart

import (
	"github.com/mansfield-lab/ddlb/lib/errs"
	"github.com/mansfield-lab/ddlb/lib/mpi"
	"github.com/mansfield-lab/ddlb/lib/octree"
)

// Group is one finest-common-tree leaf: the half-open index ranges, in
// each forest's Morton order, of the quadrants it overlaps. Exactly one
// side has more than one quadrant in it (the finer forest); the other side
// contributes the single coarser quadrant the FCT leaf is built from.
type Group struct {
	T1Lo, T1Hi int
	T2Lo, T2Hi int
}

// BuildFCT merges t1 and t2 (rank-local quadrant lists, both Morton-sorted
// at the shared maxLevel) into the finest common tree: spec ยง4.9 step 1,
// "coarsening of T2 stopping at every T1 leaf". Because two grids sharing
// a maxLevel always have quadrant Morton ranges that are either disjoint
// or fully nested, never partially overlapping, the FCT falls out of a
// single linear merge-walk: whichever of the two current quadrants is
// coarser (covers the larger Morton span) becomes the FCT leaf, and every
// quadrant of the other forest nested inside it is grouped under that
// leaf before either pointer advances past it.
func BuildFCT(t1, t2 *octree.Grid, maxLevel int) []Group {
	n1, n2 := t1.NumQuadrants(), t2.NumQuadrants()
	var groups []Group
	i, j := 0, 0
	for i < n1 || j < n2 {
		switch {
		case i >= n1:
			groups = append(groups, Group{T1Lo: i, T1Hi: i, T2Lo: j, T2Hi: j + 1})
			j++
		case j >= n2:
			groups = append(groups, Group{T1Lo: i, T1Hi: i + 1, T2Lo: j, T2Hi: j})
			i++
		default:
			s1, span1 := t1.Quadrant(i).MortonRange(maxLevel)
			s2, span2 := t2.Quadrant(j).MortonRange(maxLevel)
			switch {
			case s1 == s2 && span1 == span2:
				groups = append(groups, Group{T1Lo: i, T1Hi: i + 1, T2Lo: j, T2Hi: j + 1})
				i++
				j++
			case span1 > span2:
				end := s1 + span1
				jStart := j
				for j < n2 {
					s2j, _ := t2.Quadrant(j).MortonRange(maxLevel)
					if s2j >= end {
						break
					}
					j++
				}
				groups = append(groups, Group{T1Lo: i, T1Hi: i + 1, T2Lo: jStart, T2Hi: j})
				i++
			default:
				end := s2 + span2
				iStart := i
				for i < n1 {
					s1i, _ := t1.Quadrant(i).MortonRange(maxLevel)
					if s1i >= end {
						break
					}
					i++
				}
				groups = append(groups, Group{T1Lo: iStart, T1Hi: i, T2Lo: j, T2Hi: j + 1})
				j++
			}
		}
	}
	return groups
}

// Coefficients scales T1's and T2's weight contributions into the shared
// FCT weight (spec ยง4.9 step 2).
type Coefficients struct {
	A1, A2 float64
}

func aggregateWeights(groups []Group, w1, w2 []float64, coef Coefficients) []float64 {
	out := make([]float64, len(groups))
	for gi, g := range groups {
		var sum1, sum2 float64
		for i := g.T1Lo; i < g.T1Hi; i++ {
			sum1 += w1[i]
		}
		for i := g.T2Lo; i < g.T2Hi; i++ {
			sum2 += w2[i]
		}
		out[gi] = coef.A1*sum1 + coef.A2*sum2
	}
	return out
}

// assignGroups implements spec ยง4.9 step 3's "assign each FCT leaf to
// min(floor(prefix_sum/target), P-1)". prefix_sum is taken exclusive of
// the leaf's own weight (the running total of everything already placed
// before it), so a single very heavy leaf lands wholly on the rank its
// predecessors filled up to, rather than spilling onto the next rank
// merely because its own weight pushes the sum past target.
func assignGroups(exclusiveOffset, target float64, leafWeights []float64, size int) []int {
	assigned := make([]int, len(leafWeights))
	running := exclusiveOffset
	for gi, w := range leafWeights {
		r := int(running / target)
		if r >= size {
			r = size - 1
		}
		if r < 0 {
			r = 0
		}
		assigned[gi] = r
		running += w
	}
	return assigned
}

// Plan runs spec ยง4.9 steps 1-3 and the count half of step 4: it builds
// the FCT, aggregates weight, reduces a global prefix-sum assignment
// across ranks, and returns the per-rank quadrant-count vectors
// ApplyPartition (or a direct octree.Grid.PartitionGiven call) needs for
// T1 and T2. It does not itself move any quadrant.
func Plan(comm mpi.Comm, t1, t2 *octree.Grid, maxLevel int, w1, w2 []float64, coef Coefficients) (t1Counts, t2Counts []int, err error) {
	if t1.NumQuadrants() != len(w1) {
		return nil, nil, errs.Inconsistencyf("repart: %d T1 quadrants but %d weights", t1.NumQuadrants(), len(w1))
	}
	if t2.NumQuadrants() != len(w2) {
		return nil, nil, errs.Inconsistencyf("repart: %d T2 quadrants but %d weights", t2.NumQuadrants(), len(w2))
	}

	groups := BuildFCT(t1, t2, maxLevel)
	leafWeights := aggregateWeights(groups, w1, w2, coef)

	rank, size := comm.Rank(), comm.Size()
	var localSum float64
	for _, w := range leafWeights {
		localSum += w
	}
	partials := make([]float64, size)
	partials[rank] = localSum
	allPartials, err := comm.AllreduceSumFloat64(partials)
	if err != nil {
		return nil, nil, err
	}

	var total, exclusiveOffset float64
	for r, v := range allPartials {
		if r < rank {
			exclusiveOffset += v
		}
		total += v
	}
	if total <= 0 {
		return nil, nil, errs.Inconsistencyf("repart: total FCT weight is non-positive")
	}
	target := total / float64(size)

	assigned := assignGroups(exclusiveOffset, target, leafWeights, size)

	t1Local := make([]int64, size)
	t2Local := make([]int64, size)
	for gi, g := range groups {
		r := assigned[gi]
		t1Local[r] += int64(g.T1Hi - g.T1Lo)
		t2Local[r] += int64(g.T2Hi - g.T2Lo)
	}

	t1Sum, err := comm.AllreduceSumInt64(t1Local)
	if err != nil {
		return nil, nil, err
	}
	t2Sum, err := comm.AllreduceSumInt64(t2Local)
	if err != nil {
		return nil, nil, err
	}

	t1Counts = make([]int, size)
	t2Counts = make([]int, size)
	for r := range t1Counts {
		t1Counts[r] = int(t1Sum[r])
		t2Counts[r] = int(t2Sum[r])
	}
	return t1Counts, t2Counts, nil
}

// ApplyPartition completes spec ยง4.9 step 4 by calling the octree
// partition-given primitive for both forests with the counts Plan
// produced. tagBase and tagBase+1 keep the two calls' MPI rounds from
// colliding.
func ApplyPartition(comm mpi.Comm, t1, t2 *octree.Grid, t1Counts, t2Counts []int, tagBase int) error {
	if err := t1.PartitionGiven(comm, t1Counts, tagBase); err != nil {
		return err
	}
	if err := t2.PartitionGiven(comm, t2Counts, tagBase+1); err != nil {
		return err
	}
	return nil
}
