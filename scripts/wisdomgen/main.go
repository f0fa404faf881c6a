/*Command wisdomgen pre-generates an fft.Wisdom file for a given (node
grid, mesh) pair, the way FFTW's own wisdom tools cache a plan search
ahead of time instead of repeating it inside every run. A caller can
load the resulting file with fft.LoadWisdom and fft.NewPlanFromWisdom
instead of paying NewPlan's O(nRanks) per-stage intersection search on
every rank, every startup; cmd/ddlbd does not load wisdom and builds its
plan with fft.NewPlan.
*/
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mansfield-lab/ddlb/lib/fft"
	"github.com/mansfield-lab/ddlb/lib/vec"
)

func main() {
	var nodeGrid, mesh intTriple
	flag.Var(&nodeGrid, "node-grid", "process grid as \"nx,ny,nz\"")
	flag.Var(&mesh, "mesh", "global FFT mesh as \"nx,ny,nz\"")
	out := flag.String("out", "wisdom.dat", "output wisdom file path")
	flag.Parse()

	if nodeGrid == (intTriple{}) || mesh == (intTriple{}) {
		fmt.Fprintln(os.Stderr, "wisdomgen: -node-grid and -mesh are both required")
		os.Exit(1)
	}

	w, err := fft.BuildWisdom(vec.IVec3(nodeGrid), vec.IVec3(mesh))
	if err != nil {
		fmt.Fprintf(os.Stderr, "wisdomgen: %v\n", err)
		os.Exit(1)
	}
	if err := fft.SaveWisdom(*out, w); err != nil {
		fmt.Fprintf(os.Stderr, "wisdomgen: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wisdomgen: wrote %d ranks' wisdom to %s\n", nodeGrid[0]*nodeGrid[1]*nodeGrid[2], *out)
}

// intTriple implements flag.Value so -node-grid/-mesh accept "nx,ny,nz"
// directly instead of three separate flags.
type intTriple [3]int

func (t *intTriple) String() string {
	return fmt.Sprintf("%d,%d,%d", t[0], t[1], t[2])
}

func (t *intTriple) Set(s string) error {
	var a, b, c int
	if _, err := fmt.Sscanf(s, "%d,%d,%d", &a, &b, &c); err != nil {
		return fmt.Errorf("expected \"nx,ny,nz\", got %q", s)
	}
	*t = intTriple{a, b, c}
	return nil
}
