package fft

import (
	"io"
	"os"

	"github.com/mansfield-lab/ddlb/lib/errs"
	"github.com/mansfield-lab/ddlb/lib/vec"
	"github.com/mansfield-lab/ddlb/lib/wire"
)

// Wisdom is the precomputed result of buildPlanGeometry for every rank of
// a (nodeGrid, mesh) pair, the gonum/twiddle-factor analog of an FFTW
// wisdom file: it lets NewPlanFromWisdom skip the O(nRanks) per-stage
// intersection search that NewPlan otherwise repeats on every rank, every
// run.
type Wisdom struct {
	NodeGrid vec.IVec3
	Mesh     vec.IVec3
	NRanks   int
	Ranks    []rankWisdom
}

type rankWisdom struct {
	D0Block Block
	Stages  [3]stage
}

// BuildWisdom runs buildPlanGeometry for every rank 0..nodeGrid.Prod()-1
// without a live communicator, the way scripts/wisdomgen pre-generates a
// wisdom file offline, ahead of any run that will actually need a Plan.
func BuildWisdom(nodeGrid, mesh vec.IVec3) (*Wisdom, error) {
	nRanks := nodeGrid.Prod()
	if nRanks <= 0 {
		return nil, errs.Inconsistencyf("fft: node grid %v has no ranks", nodeGrid)
	}
	w := &Wisdom{NodeGrid: nodeGrid, Mesh: mesh, NRanks: nRanks, Ranks: make([]rankWisdom, nRanks)}
	for r := 0; r < nRanks; r++ {
		p, err := buildPlanGeometry(r, nRanks, nodeGrid, mesh)
		if err != nil {
			return nil, err
		}
		w.Ranks[r] = rankWisdom{D0Block: p.d0Block, Stages: p.stages}
	}
	return w, nil
}

// SaveWisdom writes w to path in a small binary format built on
// lib/wire's typed-slice encoding: a header of plain int64s followed by,
// for each rank, its D0 block and three stages' send/recv link tables.
func SaveWisdom(path string, w *Wisdom) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return writeWisdom(f, w)
}

// LoadWisdom reads a wisdom file written by SaveWisdom.
func LoadWisdom(path string) (*Wisdom, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readWisdom(f)
}

func writeWisdom(w io.Writer, wd *Wisdom) error {
	header := []int64{
		int64(wd.NodeGrid[0]), int64(wd.NodeGrid[1]), int64(wd.NodeGrid[2]),
		int64(wd.Mesh[0]), int64(wd.Mesh[1]), int64(wd.Mesh[2]),
		int64(wd.NRanks),
	}
	if err := wire.Write(w, header); err != nil {
		return err
	}
	for _, rw := range wd.Ranks {
		if err := writeBlock(w, rw.D0Block); err != nil {
			return err
		}
		for k := 0; k < 3; k++ {
			if err := writeStage(w, rw.Stages[k]); err != nil {
				return err
			}
		}
	}
	return nil
}

func readWisdom(r io.Reader) (*Wisdom, error) {
	header := make([]int64, 7)
	if err := wire.Read(r, header); err != nil {
		return nil, err
	}
	wd := &Wisdom{
		NodeGrid: vec.IVec3{int(header[0]), int(header[1]), int(header[2])},
		Mesh:     vec.IVec3{int(header[3]), int(header[4]), int(header[5])},
		NRanks:   int(header[6]),
	}
	wd.Ranks = make([]rankWisdom, wd.NRanks)
	for i := range wd.Ranks {
		blk, err := readBlock(r)
		if err != nil {
			return nil, err
		}
		rw := rankWisdom{D0Block: blk}
		for k := 0; k < 3; k++ {
			st, err := readStage(r)
			if err != nil {
				return nil, err
			}
			rw.Stages[k] = st
		}
		wd.Ranks[i] = rw
	}
	return wd, nil
}

func writeBlock(w io.Writer, b Block) error {
	vals := []int64{
		int64(b.Lo[0]), int64(b.Lo[1]), int64(b.Lo[2]),
		int64(b.Hi[0]), int64(b.Hi[1]), int64(b.Hi[2]),
	}
	return wire.Write(w, vals)
}

func readBlock(r io.Reader) (Block, error) {
	vals := make([]int64, 6)
	if err := wire.Read(r, vals); err != nil {
		return Block{}, err
	}
	return Block{
		Lo: vec.IVec3{int(vals[0]), int(vals[1]), int(vals[2])},
		Hi: vec.IVec3{int(vals[3]), int(vals[4]), int(vals[5])},
	}, nil
}

func writeStage(w io.Writer, st stage) error {
	header := []int64{
		int64(st.fullAxis),
		int64(st.axisOrder[0]), int64(st.axisOrder[1]), int64(st.axisOrder[2]),
		int64(st.element),
		int64(len(st.send)), int64(len(st.recv)),
	}
	if err := wire.Write(w, header); err != nil {
		return err
	}
	if err := writeBlock(w, st.localBlock); err != nil {
		return err
	}
	if err := writeLinks(w, st.send); err != nil {
		return err
	}
	return writeLinks(w, st.recv)
}

func readStage(r io.Reader) (stage, error) {
	header := make([]int64, 7)
	if err := wire.Read(r, header); err != nil {
		return stage{}, err
	}
	st := stage{
		fullAxis:  int(header[0]),
		axisOrder: [3]int{int(header[1]), int(header[2]), int(header[3])},
		element:   int(header[4]),
	}
	nSend, nRecv := int(header[5]), int(header[6])

	blk, err := readBlock(r)
	if err != nil {
		return stage{}, err
	}
	st.localBlock = blk

	if st.send, err = readLinks(r, nSend); err != nil {
		return stage{}, err
	}
	if st.recv, err = readLinks(r, nRecv); err != nil {
		return stage{}, err
	}
	return st, nil
}

func writeLinks(w io.Writer, links []link) error {
	for _, l := range links {
		vals := []int64{
			int64(l.rank),
			int64(l.block.Lo[0]), int64(l.block.Lo[1]), int64(l.block.Lo[2]),
			int64(l.block.Hi[0]), int64(l.block.Hi[1]), int64(l.block.Hi[2]),
		}
		if err := wire.Write(w, vals); err != nil {
			return err
		}
	}
	return nil
}

func readLinks(r io.Reader, n int) ([]link, error) {
	links := make([]link, n)
	for i := 0; i < n; i++ {
		vals := make([]int64, 7)
		if err := wire.Read(r, vals); err != nil {
			return nil, err
		}
		links[i] = link{
			rank: int(vals[0]),
			block: Block{
				Lo: vec.IVec3{int(vals[1]), int(vals[2]), int(vals[3])},
				Hi: vec.IVec3{int(vals[4]), int(vals[5]), int(vals[6])},
			},
		}
	}
	return links, nil
}
