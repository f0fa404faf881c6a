package cuckoo

import "testing"

func TestPutGet(t *testing.T) {
	idx := New()
	idx.Put(3, 30)
	idx.Put(0, 0)
	idx.Put(7, 70)

	if v, ok := idx.Get(3); !ok || v != 30 {
		t.Errorf("expected Get(3) = (30, true), got (%d, %v)", v, ok)
	}
	if v, ok := idx.Get(7); !ok || v != 70 {
		t.Errorf("expected Get(7) = (70, true), got (%d, %v)", v, ok)
	}
	if _, ok := idx.Get(5); ok {
		t.Errorf("expected Get(5) = (_, false)")
	}
	if idx.Len() != 3 {
		t.Errorf("expected Len() = 3, got %d", idx.Len())
	}
	if idx.MaxKey() != 7 {
		t.Errorf("expected MaxKey() = 7, got %d", idx.MaxKey())
	}
}

func TestRemove(t *testing.T) {
	idx := New()
	idx.Put(1, 10)
	idx.Put(2, 20)

	idx.Remove(1)
	if _, ok := idx.Get(1); ok {
		t.Errorf("expected Get(1) = (_, false) after Remove")
	}
	if idx.Len() != 1 {
		t.Errorf("expected Len() = 1, got %d", idx.Len())
	}

	// Removing an unknown key is a no-op, not an error.
	idx.Remove(99)
	if idx.Len() != 1 {
		t.Errorf("expected Remove of unknown key to be a no-op")
	}

	if idx.MaxKey() != 2 {
		t.Errorf("expected MaxKey() = 2, got %d", idx.MaxKey())
	}
}

func TestEmpty(t *testing.T) {
	idx := New()
	if idx.MaxKey() != -1 {
		t.Errorf("expected MaxKey() = -1 on an empty Index, got %d", idx.MaxKey())
	}
}
