/*Package adapt implements C7: AdaptController, the refine/coarsen decision
procedure and the local data remapping that follows an octree grid change
(spec ยง3, ยง4.7).

Refine/coarsen thresholds are evaluated against globally reduced velocity
and vorticity bounds, gathered the way lib/mpi's AllreduceMinMaxFloat64
gathers a single scalar's bounds across ranks; gonum's floats package
supplies the local min/max scan guppy itself never needed (spec ยง9 domain
stack: gonum reductions back this package's bounds computation).
*/
package adapt

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/mansfield-lab/ddlb/lib/mpi"
)

// Thresholds are the fractional-of-range cutoffs spec ยง4.7 names: a cell
// refines when it clears the Refine* threshold, and is a coarsen
// candidate (alongside its 7 siblings) when all of them clear the
// Coarsen* threshold from below.
type Thresholds struct {
	RefineVelocityFrac    float64
	RefineVorticityFrac   float64
	CoarsenVelocityFrac   float64
	CoarsenVorticityFrac  float64
}

// Bounds are the [min, max] range of a scalar quantity across every local
// (or, after Reduce, every rank's) cell.
type Bounds struct {
	VMin, VMax         float64
	OmegaMin, OmegaMax float64
}

// LocalBounds scans speeds and vorticity magnitudes (one value per local
// cell) and returns this rank's contribution to the global Bounds. A rank
// that owns no local cells contributes the min/max identity (+Inf/-Inf),
// so Reduce's AllreduceMinMaxFloat64 combines cleanly with ranks that do
// have data instead of panicking on an empty slice.
func LocalBounds(speeds, vortMags []float64) Bounds {
	b := Bounds{
		VMin:     math.Inf(1),
		VMax:     math.Inf(-1),
		OmegaMin: math.Inf(1),
		OmegaMax: math.Inf(-1),
	}
	if len(speeds) > 0 {
		b.VMin, b.VMax = floats.Min(speeds), floats.Max(speeds)
	}
	if len(vortMags) > 0 {
		b.OmegaMin, b.OmegaMax = floats.Min(vortMags), floats.Max(vortMags)
	}
	return b
}

// Reduce combines every rank's local Bounds into the global Bounds spec
// ยง4.7 requires ("min/max are reduced across ranks before decisions").
func Reduce(comm mpi.Comm, local Bounds) (Bounds, error) {
	vMin, _, err := comm.AllreduceMinMaxFloat64(local.VMin)
	if err != nil {
		return Bounds{}, err
	}
	_, vMax, err := comm.AllreduceMinMaxFloat64(local.VMax)
	if err != nil {
		return Bounds{}, err
	}
	omegaMin, _, err := comm.AllreduceMinMaxFloat64(local.OmegaMin)
	if err != nil {
		return Bounds{}, err
	}
	_, omegaMax, err := comm.AllreduceMinMaxFloat64(local.OmegaMax)
	if err != nil {
		return Bounds{}, err
	}
	return Bounds{VMin: vMin, VMax: vMax, OmegaMin: omegaMin, OmegaMax: omegaMax}, nil
}

// IsRefineCandidate implements spec ยง4.7's refine criterion.
func IsRefineCandidate(speed, vortMag float64, b Bounds, th Thresholds) bool {
	if speed-b.VMin >= th.RefineVelocityFrac*(b.VMax-b.VMin) {
		return true
	}
	return vortMag-b.OmegaMin >= th.RefineVorticityFrac*(b.OmegaMax-b.OmegaMin)
}

// IsCoarsenEligible implements the per-cell half of spec ยง4.7's coarsen
// criterion (a family of 8 siblings coarsens only if every one of them is
// eligible and none is a domain-boundary cell, which the caller checks
// separately).
func IsCoarsenEligible(speed, vortMag float64, b Bounds, th Thresholds) bool {
	if speed-b.VMin >= th.CoarsenVelocityFrac*(b.VMax-b.VMin) {
		return false
	}
	return vortMag-b.OmegaMin < th.CoarsenVorticityFrac*(b.OmegaMax-b.OmegaMin)
}
