package main

import "testing"

func TestIntTripleSetAndString(t *testing.T) {
	var tr intTriple
	if err := tr.Set("2,3,4"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if tr != (intTriple{2, 3, 4}) {
		t.Fatalf("expected {2,3,4}, got %v", tr)
	}
	if got, want := tr.String(), "2,3,4"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestIntTripleSetRejectsMalformedInput(t *testing.T) {
	var tr intTriple
	if err := tr.Set("not-a-triple"); err == nil {
		t.Error("expected an error for malformed input")
	}
}
