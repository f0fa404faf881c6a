package octree

import "testing"

func TestMortonRoundTrip(t *testing.T) {
	cases := [][3]int64{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {0, 0, 1}, {5, 3, 7}, {1023, 511, 2}}
	for _, c := range cases {
		code := MortonEncode(c[0], c[1], c[2])
		x, y, z := MortonDecode(code)
		if x != c[0] || y != c[1] || z != c[2] {
			t.Errorf("MortonDecode(MortonEncode%v) = (%d,%d,%d), want %v", c, x, y, z, c)
		}
	}
}

func TestDescendantSpan(t *testing.T) {
	if s := descendantSpan(3, 3); s != 1 {
		t.Errorf("a leaf at maxLevel should span 1 code, got %d", s)
	}
	if s := descendantSpan(0, 3); s != 1<<9 {
		t.Errorf("root quadrant 3 levels below maxLevel should span 8^3 codes, got %d", s)
	}
}
