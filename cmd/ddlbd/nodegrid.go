package main

import "github.com/mansfield-lab/ddlb/lib/vec"

// factorNodeGrid picks a near-cubic 3D process grid for n ranks, the same
// greedy-descending-divisor idea lib/fft's calc2DGrid uses for its 2D row
// grids, extended one axis further. It is only consulted when the config
// file leaves Grid.NodeGrid at its zero value ("choose automatically").
func factorNodeGrid(n int) vec.IVec3 {
	best := vec.IVec3{1, 1, n}
	bestSpread := n - 1
	for a := 1; a*a*a <= n; a++ {
		if n%a != 0 {
			continue
		}
		rest := n / a
		for b := a; b*b <= rest; b++ {
			if rest%b != 0 {
				continue
			}
			c := rest / b
			spread := c - a
			if spread < bestSpread {
				bestSpread = spread
				best = vec.IVec3{a, b, c}
			}
		}
	}
	return best
}
