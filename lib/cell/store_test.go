package cell

import "testing"

// fixedLocator always maps every position to the same cell; it stands in
// for lib/dd.LinkedCells in tests that don't need real geometry.
type fixedLocator struct{ cellIdx int }

func (f fixedLocator) PositionToCell(pos [3]float64) (int, bool) {
	return f.cellIdx, true
}

func TestAddRemoveParticle(t *testing.T) {
	s := NewStore(1, 0)
	loc := fixedLocator{0}

	s.AddParticle(Particle{ID: 1}, loc)
	s.AddParticle(Particle{ID: 2}, loc)
	s.AddParticle(Particle{ID: 3}, loc)

	if s.Cell(0).Len() != 3 {
		t.Fatalf("expected 3 particles in cell 0, got %d", s.Cell(0).Len())
	}

	s.RemoveParticle(2)
	if s.Cell(0).Len() != 2 {
		t.Fatalf("expected 2 particles after remove, got %d", s.Cell(0).Len())
	}
	if _, _, ok := s.Lookup(2); ok {
		t.Errorf("expected id 2 to be gone from the index")
	}

	// Swap-with-last must have kept id 3's index entry correct (P2).
	c, slot, ok := s.Lookup(3)
	if !ok {
		t.Fatalf("expected id 3 still present")
	}
	if c.At(slot).ID != 3 {
		t.Errorf("index for id 3 points at wrong slot: got id %d", c.At(slot).ID)
	}
}

func TestRemoveUnknownIsNoop(t *testing.T) {
	s := NewStore(1, 0)
	s.AddParticle(Particle{ID: 1}, fixedLocator{0})
	s.RemoveParticle(999)
	if s.Cell(0).Len() != 1 {
		t.Errorf("expected remove of unknown id to be a no-op")
	}
}

func TestRemoveBondReferences(t *testing.T) {
	s := NewStore(1, 0)
	loc := fixedLocator{0}
	s.AddParticle(Particle{ID: 1, Bonds: []Bond{{TypeID: 0, Partners: []int64{2, 3}}}}, loc)
	s.AddParticle(Particle{ID: 2}, loc)

	s.RemoveParticle(2)

	c, slot, ok := s.Lookup(1)
	if !ok {
		t.Fatalf("expected id 1 to remain")
	}
	p := c.At(slot)
	if len(p.Bonds) != 0 {
		t.Errorf("expected the bond referencing id 2 to be removed, got %v", p.Bonds)
	}
}

func TestMaxLocalParticleID(t *testing.T) {
	s := NewStore(1, 0)
	loc := fixedLocator{0}
	s.AddParticle(Particle{ID: 4}, loc)
	s.AddParticle(Particle{ID: 9}, loc)
	s.AddParticle(Particle{ID: 2}, loc)

	if s.MaxLocalParticleID() != 9 {
		t.Errorf("expected max id 9, got %d", s.MaxLocalParticleID())
	}
}

func TestAddParticleFallsBackToCellZero(t *testing.T) {
	s := NewStore(2, 0)
	// notHereLocator rejects every position, forcing the cell-0 fallback.
	s.AddParticle(Particle{ID: 1, Pos: [3]float64{100, 100, 100}}, notHereLocator{})

	if s.Cell(0).Len() != 1 {
		t.Fatalf("expected particle placed in cell 0 as fallback")
	}
	if s.TakeResortRequest() != ResortGlobal {
		t.Errorf("expected a global resort request after falling back to cell 0")
	}
}

type notHereLocator struct{}

func (notHereLocator) PositionToCell(pos [3]float64) (int, bool) { return 0, false }
