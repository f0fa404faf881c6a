package cell

import (
	"github.com/mansfield-lab/ddlb/lib/cuckoo"
)

// Cell is a container of particles: a dense ordered sequence where
// insertion order is irrelevant and removal is swap-with-last + pop (spec
// ยง3).
type Cell struct {
	particles []Particle
	index     int // this cell's own position in CellStore.cells
}

// Len returns the number of particles currently in the cell.
func (c *Cell) Len() int { return len(c.particles) }

// At returns a pointer to the particle at slot i. The pointer is only
// valid until the next mutation of this cell.
func (c *Cell) At(i int) *Particle { return &c.particles[i] }

// Append adds p to the end of the cell and returns its slot.
func (c *Cell) Append(p Particle) int {
	c.particles = append(c.particles, p)
	return len(c.particles) - 1
}

// extract removes the particle at slot i by swapping in the last particle
// and truncating, returning the id of the particle that was moved into
// slot i (moved == false if i was already the last slot).
func (c *Cell) extract(i int) (movedID int64, moved bool) {
	last := len(c.particles) - 1
	if i < 0 || i > last {
		panic("cell: slot out of range")
	}
	if i != last {
		c.particles[i] = c.particles[last]
		moved = true
		movedID = c.particles[i].ID
	}
	c.particles = c.particles[:last]
	return movedID, moved
}

// Clear removes every particle from the cell.
func (c *Cell) Clear() { c.particles = c.particles[:0] }

// location is CellStore's (cell, slot) index entry.
type location struct {
	cellIdx int
	slot    int
}

// Locator maps a position to the index of the local cell that should own
// it. cmd/ddlbd's classifier implements it on top of
// lib/dd.LinkedCells.SavePositionToCell; CellStore is deliberately decoupled from cell-grid geometry (spec ยง9's
// design note on threading an explicit context object through public APIs
// rather than relying on a process-wide DomainDecomposition global).
type Locator interface {
	// PositionToCell returns the index of the local cell owning pos, or
	// ok == false if pos does not map to a local cell.
	PositionToCell(pos [3]float64) (cellIdx int, ok bool)
}

// Store is CellStore (spec ยง3, ยง4.2): the flat array of local cells
// followed by ghost cells, plus the particle-id -> (cell, slot) index used
// by bonded lookups and migration.
type Store struct {
	cells     []*Cell
	numLocal  int // cells[:numLocal] are local; cells[numLocal:] are ghosts
	index     *cuckoo.Index
	resortReq ResortRequest
}

// ResortRequest records what kind of resort a mutation has asked for.
type ResortRequest int

const (
	// ResortNone means no resort is outstanding.
	ResortNone ResortRequest = iota
	// ResortLocal means only cells need to be revisited, not the whole
	// topology (e.g. after AddParticle placed something in its correct
	// local cell already).
	ResortLocal
	// ResortGlobal means a particle landed in the fallback cell 0 and a
	// full re-sort/migration pass is needed before the invariant in spec
	// ยง3 ("every non-ghost Particle lives in exactly one local cell") is
	// restored.
	ResortGlobal
)

// NewStore allocates a Store with numLocal local cells and
// numGhost ghost cells appended after them (spec ยง3: "local cells first,
// then ghost cells").
func NewStore(numLocal, numGhost int) *Store {
	s := &Store{
		cells:    make([]*Cell, numLocal+numGhost),
		numLocal: numLocal,
		index:    cuckoo.New(),
	}
	for i := range s.cells {
		s.cells[i] = &Cell{index: i}
	}
	return s
}

// NumCells returns the total number of cells, local and ghost.
func (s *Store) NumCells() int { return len(s.cells) }

// NumLocal returns the number of local (non-ghost) cells.
func (s *Store) NumLocal() int { return s.numLocal }

// Cell returns the cell at index i.
func (s *Store) Cell(i int) *Cell { return s.cells[i] }

// TakeResortRequest returns and clears the outstanding resort request.
func (s *Store) TakeResortRequest() ResortRequest {
	r := s.resortReq
	s.resortReq = ResortNone
	return r
}

// AddParticle places p in the local cell loc.PositionToCell maps it to, or
// falls back to cell 0 and requests a global resort otherwise. This call
// always succeeds (spec ยง4.2).
func (s *Store) AddParticle(p Particle, loc Locator) {
	if cellIdx, ok := loc.PositionToCell([3]float64(p.Pos)); ok {
		s.insert(p, cellIdx)
		if s.resortReq < ResortLocal {
			s.resortReq = ResortLocal
		}
		return
	}
	s.insert(p, 0)
	s.resortReq = ResortGlobal
}

// AddLocalParticle appends p only if it maps to a local cell, returning
// false ("not placed") otherwise (spec ยง4.2).
func (s *Store) AddLocalParticle(p Particle, loc Locator) bool {
	cellIdx, ok := loc.PositionToCell([3]float64(p.Pos))
	if !ok {
		return false
	}
	s.insert(p, cellIdx)
	return true
}

func (s *Store) insert(p Particle, cellIdx int) {
	slot := s.cells[cellIdx].Append(p)
	s.index.Put(p.ID, encodeLocation(cellIdx, slot))
}

// RemoveParticle extracts the particle with the given id from whichever
// local cell holds it, clears its index entry, fixes up the swapped-in
// particle's index entry, and strips any bond entries on other local
// particles that reference id (spec ยง4.2). It is a no-op if id is not
// known locally.
func (s *Store) RemoveParticle(id int64) {
	enc, ok := s.index.Get(id)
	if !ok {
		return
	}
	cellIdx, slot := decodeLocation(enc)
	c := s.cells[cellIdx]
	movedID, moved := c.extract(slot)
	s.index.Remove(id)
	if moved {
		s.index.Put(movedID, encodeLocation(cellIdx, slot))
	}
	s.removeBondReferences(id)
}

// removeBondReferences drops every bond entry on a local particle whose
// partner list contains id (spec ยง4.2).
func (s *Store) removeBondReferences(id int64) {
	for i := 0; i < s.numLocal; i++ {
		c := s.cells[i]
		for j := 0; j < c.Len(); j++ {
			p := c.At(j)
			p.Bonds = filterBonds(p.Bonds, id)
		}
	}
}

func filterBonds(bonds []Bond, id int64) []Bond {
	out := bonds[:0]
	for _, b := range bonds {
		keep := true
		for _, partner := range b.Partners {
			if partner == id {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, b)
		}
	}
	return out
}

// Lookup returns the cell and slot currently holding id.
func (s *Store) Lookup(id int64) (c *Cell, slot int, ok bool) {
	enc, ok := s.index.Get(id)
	if !ok {
		return nil, 0, false
	}
	cellIdx, slot := decodeLocation(enc)
	return s.cells[cellIdx], slot, true
}

// MaxLocalParticleID returns the highest non-empty slot index in the
// particle-id index (spec ยง4.2).
func (s *Store) MaxLocalParticleID() int64 {
	return s.index.MaxKey()
}

// RemoveAllParticles clears every local cell and the particle-id index
// (spec ยง4.2).
func (s *Store) RemoveAllParticles() {
	for i := 0; i < s.numLocal; i++ {
		s.cells[i].Clear()
	}
	s.index = cuckoo.New()
}

// LocalParticles iterates over every local particle, calling fn once per
// particle. This is the "get_local_particles() iterator" external hook
// (spec ยง6).
func (s *Store) LocalParticles(fn func(p *Particle)) {
	for i := 0; i < s.numLocal; i++ {
		c := s.cells[i]
		for j := 0; j < c.Len(); j++ {
			fn(c.At(j))
		}
	}
}

// encodeLocation/decodeLocation pack a (cellIdx, slot) pair into the single
// int cuckoo.Index stores, since cuckoo only tracks one integer per key.
func encodeLocation(cellIdx, slot int) int {
	return cellIdx<<32 | (slot & 0xffffffff)
}

func decodeLocation(enc int) (cellIdx, slot int) {
	return enc >> 32, enc & 0xffffffff
}
