package adapt

import (
	"encoding/binary"
	"math"

	"github.com/phil-mansfield/gotetra/math/interpolate"

	"github.com/mansfield-lab/ddlb/lib/vec"
)

// Payload is the per-quadrant LB state AdaptController remaps across a
// grid change: density, momentum, pressure (stress) modes, and the
// discrete-velocity populations those modes are recomputed from.
type Payload struct {
	Density       float64
	Momentum      vec.Vec3
	PressureModes []float64
	Populations   []float64
	Force         vec.Vec3
}

// clonePressureModes copies p's pressure-mode slice so interpolated
// payloads don't alias their source.
func (p Payload) clonePressureModes() []float64 {
	out := make([]float64, len(p.PressureModes))
	copy(out, p.PressureModes)
	return out
}

// EqTable recomputes discrete-velocity populations from a macroscopic
// speed via a tabulated equilibrium lookup. It is backed by gotetra's
// cubic Spline (math/interpolate.NewSpline/Eval), the same mechanism the
// teacher's collision-probability table would have used had collision
// detection been in scope; here it stands in for the LB equilibrium
// distribution instead (spec ยง9: Open Question on the cutoff()/maxval
// relationship resolved by reusing the mechanism for an in-scope need).
type EqTable interface {
	Eval(speed float64) float64
}

// NewEqTable builds an EqTable from a speed/weight lookup table, sorted in
// increasing speed, via gotetra's cubic Spline.
func NewEqTable(speeds, weights []float64) EqTable {
	return interpolate.NewSpline(speeds, weights)
}

// DefaultEqTable returns the stand-in equilibrium weight table cmd/ddlbd
// uses absent a problem-specific one: a Maxwell-Boltzmann-shaped falloff
// sampled on [0, 10] in unit steps, matching the BGK equilibrium's
// qualitative decay without committing to a particular lattice's discrete
// velocity set.
func DefaultEqTable() EqTable {
	const n = 11
	speeds := make([]float64, n)
	weights := make([]float64, n)
	for i := 0; i < n; i++ {
		s := float64(i)
		speeds[i] = s
		weights[i] = math.Exp(-s * s / 18)
	}
	return NewEqTable(speeds, weights)
}

// InterpolateToChild implements spec ยง4.7 step 3's parent -> 8 children
// case: momentum and pressure modes reset to zero, density and force
// scaled by 1/8 (mass/force conserved across 8 children), and populations
// recomputed from the (now-zeroed) hydrodynamic fields via eq.
func (p Payload) InterpolateToChild(eq EqTable) Payload {
	child := Payload{
		Density:       p.Density / 8,
		Momentum:      vec.Vec3{},
		PressureModes: make([]float64, len(p.PressureModes)),
		Populations:   make([]float64, len(p.Populations)),
		Force:         p.Force.Scale(1.0 / 8),
	}
	recomputePopulations(&child, eq)
	return child
}

// RestrictFromChildren implements spec ยง4.7 step 3's 8 children -> parent
// case: every field is accumulated with equal weight (spec: "restriction
// (accumulate with equal weights)").
func RestrictFromChildren(children [8]Payload) Payload {
	var parent Payload
	if n := len(children[0].PressureModes); n > 0 {
		parent.PressureModes = make([]float64, n)
	}
	if n := len(children[0].Populations); n > 0 {
		parent.Populations = make([]float64, n)
	}
	for _, c := range children {
		parent.Density += c.Density
		parent.Momentum = parent.Momentum.Add(c.Momentum)
		parent.Force = parent.Force.Add(c.Force)
		for i, v := range c.PressureModes {
			parent.PressureModes[i] += v
		}
		for i, v := range c.Populations {
			parent.Populations[i] += v
		}
	}
	for i := range parent.PressureModes {
		parent.PressureModes[i] /= 8
	}
	return parent
}

// recomputePopulations rebuilds p's discrete-velocity populations in place
// from its hydrodynamic fields (density, momentum) using the equilibrium
// lookup table eq, keyed by macroscopic speed.
func recomputePopulations(p *Payload, eq EqTable) {
	speed := p.Momentum.Scale(1.0 / maxf(p.Density, 1e-12)).Norm()
	weight := eq.Eval(speed)
	for i := range p.Populations {
		p.Populations[i] = p.Density * weight
	}
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// payloadWireSize is the fixed byte size of one Payload's wire encoding
// under an LB model with the given pressure-mode and population counts
// (spec ยง4.7 step 5's "raw payload bytes").
func payloadWireSize(numPressureModes, numPopulations int) int {
	return 8*7 + 8*numPressureModes + 8*numPopulations
}

func putFloat64(buf []byte, v float64) {
	binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
}

func getFloat64(buf []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(buf))
}

func encodePayload(p Payload, buf []byte) {
	putFloat64(buf[0:8], p.Density)
	putFloat64(buf[8:16], p.Momentum[0])
	putFloat64(buf[16:24], p.Momentum[1])
	putFloat64(buf[24:32], p.Momentum[2])
	putFloat64(buf[32:40], p.Force[0])
	putFloat64(buf[40:48], p.Force[1])
	putFloat64(buf[48:56], p.Force[2])
	off := 56
	for _, v := range p.PressureModes {
		putFloat64(buf[off:off+8], v)
		off += 8
	}
	for _, v := range p.Populations {
		putFloat64(buf[off:off+8], v)
		off += 8
	}
}

func decodePayload(buf []byte, numPressureModes, numPopulations int) Payload {
	p := Payload{
		Density:  getFloat64(buf[0:8]),
		Momentum: vec.Vec3{getFloat64(buf[8:16]), getFloat64(buf[16:24]), getFloat64(buf[24:32])},
		Force:    vec.Vec3{getFloat64(buf[32:40]), getFloat64(buf[40:48]), getFloat64(buf[48:56])},
	}
	off := 56
	if numPressureModes > 0 {
		p.PressureModes = make([]float64, numPressureModes)
		for i := range p.PressureModes {
			p.PressureModes[i] = getFloat64(buf[off : off+8])
			off += 8
		}
	}
	if numPopulations > 0 {
		p.Populations = make([]float64, numPopulations)
		for i := range p.Populations {
			p.Populations[i] = getFloat64(buf[off : off+8])
			off += 8
		}
	}
	return p
}
