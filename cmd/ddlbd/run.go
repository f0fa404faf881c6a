package main

import (
	"math"

	"github.com/mansfield-lab/ddlb/lib/adapt"
	"github.com/mansfield-lab/ddlb/lib/cell"
	"github.com/mansfield-lab/ddlb/lib/exchange"
	"github.com/mansfield-lab/ddlb/lib/repart"
	"github.com/mansfield-lab/ddlb/lib/vec"
)

// Step runs one simulation tick against t's store: broadcast positions into
// ghost cells, collect the (externally supplied) per-particle forces back
// from ghost copies, and migrate any particle that drifted into a
// neighbor's subdomain. The force kernel itself is out of scope here; this
// drives the communication pattern around it the way spec ยง4 describes,
// regardless of what physics fills Particle.Force between steps.
func Step(t *Topology, imageCount map[int64]*[3]int) error {
	if err := t.ghostComm.Exchange(t.store); err != nil {
		return err
	}
	if err := t.ghostComm.CollectForce(t.store); err != nil {
		return err
	}
	if err := t.exch.Run(exchange.Global, t.store, imageCount); err != nil {
		return err
	}
	return nil
}

// AdaptStep runs spec ยง4.7's full grid-change and repartition procedure:
// it estimates each LB quadrant's speed from the particles currently
// inside it, tags refine/coarsen candidates, applies the change, and
// repartitions the paired LB/particle forests so each rank's share of
// work stays balanced.
func AdaptStep(t *Topology, tagBase int) error {
	cells := quadrantCells(t)

	newTree, payloads, err := t.adaptCtl.Plan(t.lbTree, cells)
	if err != nil {
		return err
	}

	w1 := make([]float64, t.partTree.NumQuadrants())
	for i := range w1 {
		w1[i] = 1
	}
	w2 := make([]float64, newTree.NumQuadrants())
	for i, p := range payloads {
		w2[i] = math.Max(p.Density, 1e-9)
	}

	newPayloads, err := t.adaptCtl.Repartition(newTree, payloads, t.partTree,
		w1, w2, repart.Coefficients{A1: 1, A2: 1}, t.cfg.MaxOctreeLevel, tagBase)
	if err != nil {
		return err
	}

	t.lbTree = newTree
	t.lbPayloads = newPayloads
	return nil
}

// quadrantCells builds one adapt.Cell per t.lbTree quadrant by averaging
// the velocities of local particles whose position falls inside that
// quadrant's bounds. Quadrants with no particles in them report zero
// speed, which IsRefineCandidate/IsCoarsenEligible treat the same as any
// other cell below both thresholds.
func quadrantCells(t *Topology) []adapt.Cell {
	maxLevel := t.cfg.MaxOctreeLevel
	n := t.lbTree.NumQuadrants()
	cells := make([]adapt.Cell, n)

	for i := 0; i < n; i++ {
		q := t.lbTree.Quadrant(i)
		lo, hi := q.Bounds(maxLevel)
		cells[i].Boundary = touchesBoundary(t, lo, hi)
		if i < len(t.lbPayloads) {
			cells[i].Payload = t.lbPayloads[i]
		}
	}

	type accum struct {
		sumVel vec.Vec3
		count  int
	}
	sums := make([]accum, n)

	t.store.LocalParticles(func(p *cell.Particle) {
		coord := cellCoord(t, p.Pos, maxLevel)
		qid, ok := t.lbTree.PositionToQid(coord)
		if !ok {
			return
		}
		sums[qid].sumVel = sums[qid].sumVel.Add(p.Vel)
		sums[qid].count++
	})

	for i := range cells {
		if sums[i].count == 0 {
			continue
		}
		mean := sums[i].sumVel.Scale(1.0 / float64(sums[i].count))
		cells[i].Speed = mean.Norm()
	}
	return cells
}

// touchesBoundary reports whether a quadrant spanning [lo, hi) in
// finest-level cell coordinates touches a non-periodic edge of the local
// octree's domain, the "boundary cells never coarsen" rule spec ยง4.7 names.
func touchesBoundary(t *Topology, lo, hi vec.IVec3) bool {
	unit := 1 << uint(t.cfg.MaxOctreeLevel)
	for d := 0; d < 3; d++ {
		if t.grid.Periodic[d] {
			continue
		}
		if lo[d] == 0 || hi[d] == t.cells.CellGrid[d]*unit {
			return true
		}
	}
	return false
}

// cellCoord maps a real-space position to its finest-level octree cell
// coordinate within this rank's subdomain.
func cellCoord(t *Topology, pos vec.Vec3, maxLevel int) vec.IVec3 {
	var c vec.IVec3
	unit := float64(int(1) << uint(maxLevel))
	for d := 0; d < 3; d++ {
		rel := (pos[d] - t.grid.MyLeft[d]) * t.cells.InvCellSize[d]
		idx := int(math.Floor(rel * unit))
		if idx < 0 {
			idx = 0
		}
		maxIdx := t.cells.CellGrid[d]*int(unit) - 1
		if idx > maxIdx {
			idx = maxIdx
		}
		c[d] = idx
	}
	return c
}
