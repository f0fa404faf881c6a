/*Package vec contains the two small value types shared across the whole
core: Vec3, a triple of doubles used for particle state and box geometry,
and IVec3, an integer triple used for cell and quadrant coordinates.*/
package vec

import "math"

// Vec3 is a componentwise triple of doubles.
type Vec3 [3]float64

// Add returns a + b.
func (a Vec3) Add(b Vec3) Vec3 {
	return Vec3{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

// Sub returns a - b.
func (a Vec3) Sub(b Vec3) Vec3 {
	return Vec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

// Scale returns a scaled componentwise by s.
func (a Vec3) Scale(s float64) Vec3 {
	return Vec3{a[0] * s, a[1] * s, a[2] * s}
}

// Dot returns the dot product of a and b.
func (a Vec3) Dot(b Vec3) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

// Norm returns the Euclidean length of a.
func (a Vec3) Norm() float64 {
	return math.Sqrt(a.Dot(a))
}

// MaxNorm returns max(|a[0]|, |a[1]|, |a[2]|), the metric used by the
// vorticity refine/coarsen criteria in lib/adapt.
func (a Vec3) MaxNorm() float64 {
	m := math.Abs(a[0])
	if v := math.Abs(a[1]); v > m {
		m = v
	}
	if v := math.Abs(a[2]); v > m {
		m = v
	}
	return m
}

// IVec3 is an integer triple used for cell coordinates, neighbor
// displacements, and quadrant indices.
type IVec3 [3]int

// Add returns a + b.
func (a IVec3) Add(b IVec3) IVec3 {
	return IVec3{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

// Prod returns a[0]*a[1]*a[2], the number of cells/quadrants a grid of this
// shape contains.
func (a IVec3) Prod() int {
	return a[0] * a[1] * a[2]
}
