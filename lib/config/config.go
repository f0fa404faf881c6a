/*Package config parses ddlb's simulation configuration file. It is the
fleshed-out version of guppy's lib/parse.go (RawArgs/Args, ParseCommandLine/
ParseConfigFile/Overwrite/Process, all left as "NYI" in the teacher), using
gopkg.in/gcfg.v1 the way phil-mansfield-gotetra's design/config.go and
design/io/config.go use it: one gcfg-tagged struct per section, a
CheckInit-style post-validation pass, and command-line overrides applied
after the file is read.
*/
package config

import (
	"fmt"
	"os"

	"gopkg.in/gcfg.v1"

	"github.com/mansfield-lab/ddlb/lib/errs"
)

// RawConfig is the direct gcfg decoding of a configuration file, before
// validation. Section names match spec ยง6's Environment discussion: no
// environment variables are mandatory, so every tunable lives here.
type RawConfig struct {
	Box struct {
		L          [3]float64 // simulation box edge lengths
		Periodic   [3]bool
		MaxRange   float64 // largest short-range interaction cutoff
	}
	Grid struct {
		NodeGrid [3]int // Cartesian process grid; 0,0,0 means "choose automatically"
	}
	Cells struct {
		MaxCells        int
		ShearAxis       int  // -1 disables Lees-Edwards shearing
		GhostThickness  [3]int
	}
	Octree struct {
		MaxLevel      int
		AllowEdges    bool
		AllowCorners  bool
	}
	FFT struct {
		Mesh       [3]int
		WisdomDir  string
	}
	Adapt struct {
		RefineVelocityFrac   float64 // tau_ref_v
		RefineVorticityFrac  float64 // tau_ref_omega
	}
	Run struct {
		Threads int // -1 uses every core on the node
		Snaps   int
	}
}

// Config is the validated, ready-to-use configuration. It is produced from
// a RawConfig by Process, which performs the "simple validation...that
// doesn't require interacting with external files" guppy's Args.Process
// doc comment describes, plus the configuration-error checks spec ยง7
// assigns to this layer (cell grid constructibility is checked later, by
// lib/dd, once the local box size is known).
type Config struct {
	BoxL       [3]float64
	Periodic   [3]bool
	MaxRange   float64

	NodeGrid [3]int

	MaxCells       int
	ShearAxis      int
	GhostThickness [3]int

	MaxOctreeLevel  int
	AllowEdges      bool
	AllowCorners    bool

	FFTMesh    [3]int
	WisdomDir  string

	RefineVelocityFrac  float64
	RefineVorticityFrac float64

	Threads int
	Snaps   int
}

// ReadFile parses a gcfg configuration file into a RawConfig.
func ReadFile(path string) (*RawConfig, error) {
	raw := &RawConfig{}
	if err := gcfg.ReadFileInto(raw, path); err != nil {
		return nil, errs.Configurationf("could not parse config file %q: %s", path, err)
	}
	return raw, nil
}

// Overwrite copies the non-zero values of Box.L, Box.MaxRange,
// Grid.NodeGrid, Cells.MaxCells, Run.Threads and Run.Snaps from cli over
// the corresponding fields in raw; no other field is copied. This is the way guppy's RawArgs.Overwrite applies
// command-line arguments on top of a config file.
func (raw *RawConfig) Overwrite(cli *RawConfig) {
	if cli == nil {
		return
	}
	if cli.Box.L != [3]float64{} {
		raw.Box.L = cli.Box.L
	}
	if cli.Box.MaxRange != 0 {
		raw.Box.MaxRange = cli.Box.MaxRange
	}
	if cli.Grid.NodeGrid != [3]int{} {
		raw.Grid.NodeGrid = cli.Grid.NodeGrid
	}
	if cli.Cells.MaxCells != 0 {
		raw.Cells.MaxCells = cli.Cells.MaxCells
	}
	if cli.Run.Threads != 0 {
		raw.Run.Threads = cli.Run.Threads
	}
	if cli.Run.Snaps != 0 {
		raw.Run.Snaps = cli.Run.Snaps
	}
}

// Process validates raw and produces a Config, or a Configuration error
// naming the offending field (spec ยง7's "descriptive message naming the
// offending axis and values").
func (raw *RawConfig) Process() (*Config, error) {
	for d := 0; d < 3; d++ {
		if raw.Box.L[d] <= 0 {
			return nil, errs.Configurationf(
				"Box.L[%d] must be positive, got %g", d, raw.Box.L[d])
		}
	}
	if raw.Box.MaxRange <= 0 {
		return nil, errs.Configurationf(
			"Box.MaxRange must be positive, got %g", raw.Box.MaxRange)
	}
	for d := 0; d < 3; d++ {
		if raw.Box.L[d] < raw.Box.MaxRange {
			return nil, errs.Configurationf(
				"Box.L[%d] = %g is shorter than Box.MaxRange = %g",
				d, raw.Box.L[d], raw.Box.MaxRange)
		}
	}

	maxCells := raw.Cells.MaxCells
	if maxCells == 0 {
		maxCells = 32768
	}

	threads := raw.Run.Threads
	if threads == 0 {
		threads = -1
	}

	cfg := &Config{
		BoxL:     raw.Box.L,
		Periodic: raw.Box.Periodic,
		MaxRange: raw.Box.MaxRange,

		NodeGrid: raw.Grid.NodeGrid,

		MaxCells:       maxCells,
		ShearAxis:      raw.Cells.ShearAxis,
		GhostThickness: ghostThickness(raw.Cells),

		MaxOctreeLevel: raw.Octree.MaxLevel,
		AllowEdges:     raw.Octree.AllowEdges,
		AllowCorners:   raw.Octree.AllowCorners,

		FFTMesh:   raw.FFT.Mesh,
		WisdomDir: raw.FFT.WisdomDir,

		RefineVelocityFrac:  raw.Adapt.RefineVelocityFrac,
		RefineVorticityFrac: raw.Adapt.RefineVorticityFrac,

		Threads: threads,
		Snaps:   raw.Run.Snaps,
	}
	if cfg.MaxOctreeLevel == 0 {
		cfg.MaxOctreeLevel = 10
	}
	return cfg, nil
}

// ghostThickness fills in the default one-cell ghost layer on every axis,
// then widens the shearing axis by one extra layer (spec ยง9's Design Note:
// "re-expressed as an explicit axis-specific ghost_thickness[d] rather than
// a hidden '+1' branch").
func ghostThickness(c struct {
	MaxCells       int
	ShearAxis      int
	GhostThickness [3]int
}) [3]int {
	g := c.GhostThickness
	if g == [3]int{} {
		g = [3]int{1, 1, 1}
	}
	if c.ShearAxis >= 0 && c.ShearAxis < 3 {
		g[c.ShearAxis]++
	}
	return g
}

// MustReadFile reads and validates a configuration file, reporting a
// descriptive error and exiting if anything is wrong with it. It is the
// entry point cmd/ddlbd uses, mirroring the "check" mode flow in guppy.go.
func MustReadFile(path string) *Config {
	raw, err := ReadFile(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := raw.Process()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return cfg
}
