/*Command ddlbstat is an offline diagnostic: given a snapshot of particle
positions, it builds the same kind of density-refined octree C7's
AdaptController would produce and a gravitree.Tree over the same points,
then reports each octree leaf's refinement level against the gravitational
potential gravitree computes for the particles inside it. A leaf that
refined (went deep) but whose particles sit in a shallow potential well is
a sign the refine threshold is miscalibrated, the same sanity check
guppy's scripts/sim_stats.go ran by eye against Bullock spin and binding
energy profiles.
*/
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/phil-mansfield/gravitree"
	"gonum.org/v1/gonum/stat"

	"github.com/mansfield-lab/ddlb/lib/octree"
	"github.com/mansfield-lab/ddlb/lib/vec"
)

func main() {
	file := flag.String("particles", "", "text file with x,y,z columns (space-separated)")
	boxL := flag.Float64("box", 1.0, "cube edge length the particle positions live in")
	maxLevel := flag.Int("max-level", 6, "deepest octree refinement level to consider")
	refineAbove := flag.Int("refine-above", 32, "refine a leaf once it holds more than this many particles")
	eps := flag.Float64("eps", 1e-3, "gravitree softening length")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "ddlbstat: -particles is required")
		os.Exit(1)
	}

	pos, err := readPositions(*file)
	if err != nil {
		log.Fatalf("ddlbstat: %v", err)
	}
	n := len(pos)
	if n == 0 {
		log.Fatalf("ddlbstat: %s has no rows", *file)
	}

	tree := gravitree.NewTree(pos)
	potential := make([]float64, n)
	tree.Potential(*eps, potential)

	grid := octree.New(vec.IVec3{1, 1, 1}, *maxLevel)
	leafOf := refineByDensity(grid, pos, *boxL, *maxLevel, *refineAbove)

	report(grid, leafOf, potential)
}

// readPositions reads whitespace-separated x,y,z columns from file, one
// particle per line, skipping blank lines and lines starting with '#'.
// This diagnostic is the only caller that ever needed a halo-catalog
// reader in this repo, so it gets the few dozen lines of bufio.Scanner it
// actually needs rather than carrying a general-purpose column reader.
func readPositions(path string) ([][3]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pos [][3]float64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil, fmt.Errorf("%s:%d: expected at least 3 columns, got %d", path, lineNo, len(fields))
		}
		var p [3]float64
		for d := 0; d < 3; d++ {
			p[d], err = strconv.ParseFloat(fields[d], 64)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: column %d: %v", path, lineNo, d, err)
			}
		}
		pos = append(pos, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return pos, nil
}

// refineByDensity repeatedly refines the first leaf, in quadrant order,
// that holds more than refineAbove particles and is still under maxLevel,
// until no leaf qualifies or maxLevel*maxLevel passes have run, then
// returns each particle's final leaf index.
func refineByDensity(grid *octree.Grid, pos [][3]float64, boxL float64, maxLevel, refineAbove int) []int {
	leafOf := make([]int, len(pos))
	for pass := 0; pass < maxLevel*maxLevel; pass++ {
		for i := range leafOf {
			leafOf[i], _ = grid.PositionToQid(cellCoordAt(pos[i], boxL, maxLevel))
		}
		counts := make(map[int]int)
		for _, qid := range leafOf {
			counts[qid]++
		}

		refined := false
		for qid := 0; qid < grid.NumQuadrants(); qid++ {
			if counts[qid] <= refineAbove {
				continue
			}
			if grid.Quadrant(qid).Level >= maxLevel {
				continue
			}
			if err := grid.Refine(qid); err == nil {
				refined = true
				break
			}
		}
		if !refined {
			break
		}
	}
	for i := range leafOf {
		leafOf[i], _ = grid.PositionToQid(cellCoordAt(pos[i], boxL, maxLevel))
	}
	return leafOf
}

func cellCoordAt(pos [3]float64, boxL float64, maxLevel int) vec.IVec3 {
	unit := float64(int(1) << uint(maxLevel))
	var c vec.IVec3
	for d := 0; d < 3; d++ {
		rel := pos[d] / boxL
		idx := int(math.Floor(rel * unit))
		if idx < 0 {
			idx = 0
		}
		if idx >= int(unit) {
			idx = int(unit) - 1
		}
		c[d] = idx
	}
	return c
}

// report prints, per refinement level present in the final octree, the
// number of leaves at that level, the mean particle count per leaf, and
// the mean/stddev gravitree potential of the particles those leaves hold.
func report(grid *octree.Grid, leafOf []int, potential []float64) {
	type levelStats struct {
		leaves    int
		particles int
		pot       []float64
	}
	byLevel := make(map[int]*levelStats)

	particlesPerLeaf := make(map[int][]float64)
	for i, qid := range leafOf {
		particlesPerLeaf[qid] = append(particlesPerLeaf[qid], potential[i])
	}
	for qid := 0; qid < grid.NumQuadrants(); qid++ {
		level := grid.Quadrant(qid).Level
		ls, ok := byLevel[level]
		if !ok {
			ls = &levelStats{}
			byLevel[level] = ls
		}
		ls.leaves++
		ls.particles += len(particlesPerLeaf[qid])
		ls.pot = append(ls.pot, particlesPerLeaf[qid]...)
	}

	fmt.Println("level\tleaves\tmean_particles\tmean_potential\tstddev_potential")
	for level := 0; level <= grid.MaxLevel; level++ {
		ls, ok := byLevel[level]
		if !ok || ls.leaves == 0 {
			continue
		}
		meanParticles := float64(ls.particles) / float64(ls.leaves)
		meanPot, stdPot := 0.0, 0.0
		if len(ls.pot) > 0 {
			meanPot, stdPot = stat.MeanStdDev(ls.pot, nil)
		}
		fmt.Printf("%d\t%d\t%.3f\t%.6g\t%.6g\n", level, ls.leaves, meanParticles, meanPot, stdPot)
	}
}
