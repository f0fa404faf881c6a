/*Package exchange implements C6: Exchanger, the asynchronous particle
migration that moves a particle from the rank that used to own it to the
rank that owns its new position (spec ยง3, ยง4.6).

It builds on cell.Store's body/dynamic-tail split (lib/cell's PackBody and
Pack/Unpack) and mpi.Comm's size-then-payload round shape, the same shape
lib/ghost uses, over the same 26-neighbor full shell.
*/
package exchange

import (
	"bytes"
	"encoding/binary"

	"github.com/mansfield-lab/ddlb/lib/cell"
	"github.com/mansfield-lab/ddlb/lib/errs"
	"github.com/mansfield-lab/ddlb/lib/grid"
	"github.com/mansfield-lab/ddlb/lib/mpi"
	"github.com/mansfield-lab/ddlb/lib/vec"
)

// Mode selects how aggressively Exchanger pursues convergence.
type Mode int

const (
	// Neighbor assumes particles move at most one subdomain per call; an
	// out-of-bounds particle surviving one pass is fatal (spec ยง4.6 step 7).
	Neighbor Mode = iota
	// Global iterates until every particle has settled, however many
	// subdomains it had to cross.
	Global
)

// Classifier locates the rank and local cell responsible for a position.
// lib/dd.LinkedCells and lib/octree.OctreeGrid both provide the geometry
// this needs; Classifier decouples Exchanger from either one directly
// (spec ยง9 design note on explicit context objects).
type Classifier interface {
	cell.Locator
	// RankFor returns the rank that owns pos, which may be the local rank.
	RankFor(pos [3]float64) int
}

// Exchanger drives the classify/pack/exchange/insert/resort loop of spec
// ยง4.6 against a cell.Store.
type Exchanger struct {
	comm    mpi.Comm
	grid    *grid.Grid
	class   Classifier
	tagBase int
}

// New builds an Exchanger for comm's communicator, using g for periodic
// folding and class to decide which rank and cell a position belongs to.
func New(comm mpi.Comm, g *grid.Grid, class Classifier) *Exchanger {
	return &Exchanger{comm: comm, grid: g, class: class, tagBase: 5000}
}

type outgoing struct {
	bodies [][]byte
	tails  [][]byte
}

// Run executes one or more passes of spec ยง4.6's algorithm against store,
// iterating until no rank reports an out-of-bounds particle (Global mode)
// or failing after one pass with a remaining out-of-bounds particle
// (Neighbor mode). imageCount is mutated in place as particles fold across
// periodic boundaries.
func (e *Exchanger) Run(mode Mode, store *cell.Store, imageCount map[int64]*[3]int) error {
	maxPasses := 1
	if mode == Global {
		maxPasses = e.comm.Size()*3 + 8 // O(diameter-of-process-grid)
	}

	for pass := 0; pass < maxPasses; pass++ {
		moved, err := e.classifyAndPack(store, imageCount)
		if err != nil {
			return err
		}

		received, err := e.exchange(moved)
		if err != nil {
			return err
		}

		stillOOB, err := e.insertAndResort(store, received, imageCount)
		if err != nil {
			return err
		}

		anyOOB, err := e.comm.AllreduceMaxInt64(boolToInt64(stillOOB))
		if err != nil {
			return err
		}
		if anyOOB == 0 {
			return nil
		}
		if mode == Neighbor {
			errs.Fatal(e.comm.Rank(), "exchange: particle still out of bounds after one NEIGHBOR pass")
		}
	}
	return errs.Inconsistencyf("exchange: did not converge in %d passes", maxPasses)
}

func boolToInt64(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// classifyAndPack implements spec ยง4.6 steps 1-2: for every local
// particle, compute its signed displacement relative to this rank's
// subdomain, and if non-zero, pack it for its destination rank and remove
// it from the local store.
func (e *Exchanger) classifyAndPack(store *cell.Store, imageCount map[int64]*[3]int) (map[int]*outgoing, error) {
	out := make(map[int]*outgoing)
	var toRemove []int64

	store.LocalParticles(func(p *cell.Particle) {
		if !e.isDisplaced(p.Pos) {
			return
		}
		dest := e.class.RankFor([3]float64(p.Pos))
		o := out[dest]
		if o == nil {
			o = &outgoing{}
			out[dest] = o
		}

		var body bytes.Buffer
		if err := p.PackBody(&body); err == nil {
			o.bodies = append(o.bodies, body.Bytes())
		}
		o.tails = append(o.tails, packTails(p))
		toRemove = append(toRemove, p.ID)
	})

	for _, id := range toRemove {
		store.RemoveParticle(id)
		delete(imageCount, id)
	}
	return out, nil
}

// isDisplaced implements the d[k] = sign(pos-left) | sign(pos-right)
// classification of spec ยง4.6 step 1.
func (e *Exchanger) isDisplaced(pos [3]float64) bool {
	for k := 0; k < 3; k++ {
		if pos[k] < e.grid.MyLeft[k]-grid.RoundErrorPrec || pos[k] >= e.grid.MyRight[k]+grid.RoundErrorPrec {
			return true
		}
	}
	return false
}

func packTails(p *cell.Particle) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, int32(len(p.Bonds)))
	for _, b := range p.Bonds {
		binary.Write(&buf, binary.LittleEndian, b.TypeID)
		binary.Write(&buf, binary.LittleEndian, int32(len(b.Partners)))
		binary.Write(&buf, binary.LittleEndian, b.Partners)
	}
	binary.Write(&buf, binary.LittleEndian, int32(len(p.Exclusions)))
	binary.Write(&buf, binary.LittleEndian, p.Exclusions)
	return buf.Bytes()
}

// unpackTails decodes a single particle's tail from buf, for the
// same-rank handoff path where each particle's tail is already its own
// []byte.
func unpackTails(buf []byte) (bonds []cell.Bond, exclusions []int64, err error) {
	bonds, exclusions, _, err = unpackOneTail(buf)
	return bonds, exclusions, err
}

// unpackOneTail decodes one particle's tail from the front of buf and
// returns how many bytes it consumed, so callers can decode a stream of
// concatenated tails one particle at a time (spec ยง4.6 step 4).
func unpackOneTail(buf []byte) (bonds []cell.Bond, exclusions []int64, consumed int, err error) {
	r := bytes.NewReader(buf)
	var nBonds int32
	if err = binary.Read(r, binary.LittleEndian, &nBonds); err != nil {
		return nil, nil, 0, err
	}
	bonds = make([]cell.Bond, nBonds)
	for i := range bonds {
		if err = binary.Read(r, binary.LittleEndian, &bonds[i].TypeID); err != nil {
			return nil, nil, 0, err
		}
		var nPartners int32
		if err = binary.Read(r, binary.LittleEndian, &nPartners); err != nil {
			return nil, nil, 0, err
		}
		bonds[i].Partners = make([]int64, nPartners)
		if err = binary.Read(r, binary.LittleEndian, bonds[i].Partners); err != nil {
			return nil, nil, 0, err
		}
	}
	var nExcl int32
	if err = binary.Read(r, binary.LittleEndian, &nExcl); err != nil {
		return nil, nil, 0, err
	}
	exclusions = make([]int64, nExcl)
	if err = binary.Read(r, binary.LittleEndian, exclusions); err != nil {
		return nil, nil, 0, err
	}
	return bonds, exclusions, len(buf) - r.Len(), nil
}

// exchange implements spec ยง4.6 step 3: post receives for expected counts
// from every one of the 26 neighbors, not just the ones this rank happens
// to have outgoing traffic for, since a neighbor this rank sends nothing
// to this pass may still need to hear "zero" from us before it can tell
// whether its own matching recv will ever complete. A neighbor this rank
// has nothing to exchange with either way still posts (and immediately
// satisfies) an empty round. With a single rank (or every destination
// equal to the local rank) this degenerates to a same-rank buffer handoff
// and never touches the wire (spec ยง8).
func (e *Exchanger) exchange(out map[int]*outgoing) ([]*cell.Particle, error) {
	var received []*cell.Particle
	rank := e.comm.Rank()

	if o := out[rank]; o != nil {
		for i, body := range o.bodies {
			p, err := cell.UnpackBody(bytes.NewReader(body))
			if err != nil {
				return nil, err
			}
			bonds, exclusions, err := unpackTails(o.tails[i])
			if err != nil {
				return nil, err
			}
			p.Bonds, p.Exclusions = bonds, exclusions
			received = append(received, p)
		}
	}

	for _, dest := range e.neighborRanks() {
		o := out[dest]
		if o == nil {
			o = &outgoing{}
		}

		countTag := e.tagBase
		bodyTag := e.tagBase + 1
		tailTag := e.tagBase + 2

		tailBuf := flatten(o.tails)

		var countOut [16]byte
		binary.LittleEndian.PutUint64(countOut[0:8], uint64(len(o.bodies)))
		binary.LittleEndian.PutUint64(countOut[8:16], uint64(len(tailBuf)))
		sendCount := e.comm.Isend(dest, countTag, countOut[:])
		var countIn [16]byte
		recvCount := e.comm.Irecv(dest, countTag, countIn[:])
		if err := e.comm.Waitall([]mpi.Request{sendCount, recvCount}); err != nil {
			return nil, err
		}
		n := int(binary.LittleEndian.Uint64(countIn[0:8]))
		tailSize := int(binary.LittleEndian.Uint64(countIn[8:16]))

		bodyBuf := flatten(o.bodies)
		sendBody := e.comm.Isend(dest, bodyTag, bodyBuf)
		sendTail := e.comm.Isend(dest, tailTag, tailBuf)

		recvBody := make([]byte, n*cell.BodyPackSize)
		recvBodyReq := e.comm.Irecv(dest, bodyTag, recvBody)
		recvTail := make([]byte, tailSize)
		recvTailReq := e.comm.Irecv(dest, tailTag, recvTail)

		if err := e.comm.Waitall([]mpi.Request{sendBody, sendTail, recvBodyReq, recvTailReq}); err != nil {
			return nil, err
		}

		tailOff := 0
		for i := 0; i < n; i++ {
			off := i * cell.BodyPackSize
			p, err := cell.UnpackBody(bytes.NewReader(recvBody[off : off+cell.BodyPackSize]))
			if err != nil {
				return nil, err
			}
			bonds, exclusions, n2, err := unpackOneTail(recvTail[tailOff:])
			if err != nil {
				return nil, err
			}
			p.Bonds, p.Exclusions = bonds, exclusions
			tailOff += n2
			received = append(received, p)
		}
	}
	return received, nil
}

// neighborRanks returns every distinct rank reachable from this rank's
// node position by a single {-1,0,1}^3 displacement, skipping directions
// that would cross a non-periodic box edge and never including the local
// rank itself (mirrors lib/dd.BuildGhostSchedule's own 26-direction wrap,
// generalized here from a fixed 26-round schedule to a deduplicated rank
// set, since several corner/edge directions can land on the same
// neighbor on a small process grid).
func (e *Exchanger) neighborRanks() []int {
	g := e.grid
	rank := e.comm.Rank()
	seen := make(map[int]bool)
	var out []int

	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				d := vec.IVec3{dx, dy, dz}
				var pos vec.IVec3
				skip := false
				for a := 0; a < 3; a++ {
					p := g.NodePos[a] + d[a]
					switch {
					case p < 0:
						if !g.Periodic[a] {
							skip = true
						} else {
							p += g.NodeGrid[a]
						}
					case p >= g.NodeGrid[a]:
						if !g.Periodic[a] {
							skip = true
						} else {
							p -= g.NodeGrid[a]
						}
					}
					pos[a] = p
					if skip {
						break
					}
				}
				if skip {
					continue
				}
				r := g.RankOf(pos)
				if r == rank || seen[r] {
					continue
				}
				seen[r] = true
				out = append(out, r)
			}
		}
	}
	return out
}

func flatten(chunks [][]byte) []byte {
	var buf bytes.Buffer
	for _, c := range chunks {
		buf.Write(c)
	}
	return buf.Bytes()
}

// insertAndResort implements spec ยง4.6 steps 4-5: fold each received
// particle's position to the local frame, append it to its destination
// cell, and flag whether it is still out of the local subdomain (which
// should only happen across periodic corner cases the next pass resolves).
func (e *Exchanger) insertAndResort(store *cell.Store, received []*cell.Particle, imageCount map[int64]*[3]int) (stillOOB bool, err error) {
	for _, p := range received {
		folded, img := e.grid.FoldPosition(p.Pos, [3]int{})
		p.Pos = folded
		if ic, ok := imageCount[p.ID]; ok {
			for d := 0; d < 3; d++ {
				ic[d] += img[d]
			}
		} else {
			imageCount[p.ID] = &img
		}

		if !store.AddLocalParticle(*p, e.class) {
			store.AddParticle(*p, e.class)
			stillOOB = true
		}
	}
	return stillOOB, nil
}
