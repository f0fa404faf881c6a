/*Package fft implements C8: FFT3D, the distributed real-to-complex 3D
transform the lattice-Boltzmann pressure/stress solve runs over (spec
ยง3, ยง4.8).

Four decompositions are used: D0, the real-space block decomposition
shared with the particle domain decomposition (lib/grid's NodeGrid), and
three successive 1D row decompositions D1/D2/D3. Each row decomposition
leaves exactly one global axis whole on every rank and splits the other
two across a near-square 2D process grid, cycling which axis is whole so
every pass performs its length-N 1D complex FFT along a fully local,
contiguous run (grounded on original_source/fft.c's fft_plan/row_dir/
n_permute bookkeeping; this port fixes the row_dir cycle at 2,1,0 rather
than computing ESPResSo's communication-minimizing map_3don2d_grid, since
that optimization doesn't change which values this package must produce,
only how much data moves to produce them).

The 1D complex FFTs themselves are gonum's dsp/fourier.CmplxFFT, a
library the teacher's own stack never needed but every other example in
this retrieval pack that touches FFTs reaches for (spec ยง9 domain stack).
*/
package fft

import (
	"bytes"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/mansfield-lab/ddlb/lib/errs"
	"github.com/mansfield-lab/ddlb/lib/mpi"
	"github.com/mansfield-lab/ddlb/lib/vec"
	"github.com/mansfield-lab/ddlb/lib/wire"
)

// Block is a half-open rectangle [Lo, Hi) of global mesh coordinates, in
// (x, y, z) global axis order regardless of which decomposition it
// belongs to.
type Block struct {
	Lo, Hi vec.IVec3
}

func (b Block) size() vec.IVec3 {
	return vec.IVec3{b.Hi[0] - b.Lo[0], b.Hi[1] - b.Lo[1], b.Hi[2] - b.Lo[2]}
}

func (b Block) count() int {
	s := b.size()
	return s[0] * s[1] * s[2]
}

func intersect(a, b Block) (Block, bool) {
	var r Block
	for d := 0; d < 3; d++ {
		lo, hi := a.Lo[d], a.Hi[d]
		if b.Lo[d] > lo {
			lo = b.Lo[d]
		}
		if b.Hi[d] < hi {
			hi = b.Hi[d]
		}
		if hi <= lo {
			return Block{}, false
		}
		r.Lo[d], r.Hi[d] = lo, hi
	}
	return r, true
}

// partitionAxis splits a global extent of length n into nParts near-equal
// contiguous pieces (the first n%nParts pieces get one extra point), and
// returns piece idx's [lo, hi) range (spec ยง4.8, grounded on fft.c's
// calc_local_mesh).
func partitionAxis(n, nParts, idx int) (lo, hi int) {
	base, rem := n/nParts, n%nParts
	lo = idx*base + minInt(idx, rem)
	hi = lo + base
	if idx < rem {
		hi++
	}
	return lo, hi
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func rankToPos(rank int, grid vec.IVec3) vec.IVec3 {
	x := rank % grid[0]
	rank /= grid[0]
	y := rank % grid[1]
	z := rank / grid[1]
	return vec.IVec3{x, y, z}
}

// calc2DGrid factors n into two integers as close to each other as
// possible, the same near-square preference original_source/fft.c's
// calc_2d_grid uses for its process grids.
func calc2DGrid(n int) (a, b int) {
	for a = int(math.Sqrt(float64(n))); a > 0; a-- {
		if n%a == 0 {
			return a, n / a
		}
	}
	return 1, n
}

// link is one partner in a stage's communication group: a rank and the
// intersection rectangle (in global axis order) to exchange with it.
type link struct {
	rank  int
	block Block
}

// stage is one of the three D(k-1) -> D(k) transitions a forward pass
// makes (k = 1, 2, 3). element is 1 for stage 1 (D0 is real) and 2 for
// stages 2-3 (D1/D2/D3 are complex).
type stage struct {
	fullAxis   int // the global axis this stage's local block always spans whole
	axisOrder  [3]int
	localBlock Block
	element    int

	send []link // my old (source) block intersected against every rank's new (dest) block
	recv []link // my new (dest) block intersected against every rank's old (source) block
}

// Plan is a prepared FFT3D transform: the four decompositions' per-rank
// blocks and the communication groups between successive ones, built
// once and replayed by every Forward/Backward call (spec ยง4.8 "Plan
// build").
type Plan struct {
	comm   mpi.Comm
	rank   int
	nRanks int
	mesh   vec.IVec3

	d0Grid  vec.IVec3
	d0Block Block

	stages [3]stage // stages[0] = D0->D1, stages[1] = D1->D2, stages[2] = D2->D3
}

// NewPlan builds a Plan for a global real mesh of size mesh, whose D0
// real-space block decomposition reuses nodeGrid (the domain
// decomposition's process grid, so particle data and FFT data share one
// real-space layout).
func NewPlan(comm mpi.Comm, nodeGrid, mesh vec.IVec3) (*Plan, error) {
	if nodeGrid.Prod() != comm.Size() {
		return nil, errs.Inconsistencyf("fft: node grid %v does not cover %d ranks", nodeGrid, comm.Size())
	}
	p, err := buildPlanGeometry(comm.Rank(), comm.Size(), nodeGrid, mesh)
	if err != nil {
		return nil, err
	}
	p.comm = comm
	return p, nil
}

// buildPlanGeometry computes the rank/nRanks'th rank's D0 block and three
// stage link tables for (nodeGrid, mesh), independent of any live
// communicator. NewPlan calls it for its own rank; scripts/wisdomgen calls
// it for every rank 0..nRanks-1 to precompute the same search offline
// (spec ยง9 domain stack: the gonum/FFTW-wisdom analog of caching this
// plan-build cost).
func buildPlanGeometry(rank, nRanks int, nodeGrid, mesh vec.IVec3) (*Plan, error) {
	p := &Plan{rank: rank, nRanks: nRanks, mesh: mesh, d0Grid: nodeGrid}
	p.d0Block = blockForGrid(mesh, nodeGrid, rankToPos(rank, nodeGrid))

	fullAxis := [4]int{-1, 2, 1, 0} // index 0 unused; D1/D2/D3 cycle which axis is whole
	a, b := calc2DGrid(nRanks)

	prevBlockFor := func(r int) Block {
		return blockForGrid(mesh, p.d0Grid, rankToPos(r, p.d0Grid))
	}
	for k := 1; k <= 3; k++ {
		full := fullAxis[k]
		grid := rowProcGrid(full, a, b)
		axisOrder := localAxisOrder(full)

		myBlock := blockForGrid(mesh, grid, rankToPos(rank, grid))
		blockFor := func(r int) Block { return blockForGrid(mesh, grid, rankToPos(r, grid)) }

		st := stage{fullAxis: full, axisOrder: axisOrder, localBlock: myBlock, element: 1}
		if k > 1 {
			st.element = 2
		}
		myOldBlock := prevBlockFor(rank)
		for other := 0; other < nRanks; other++ {
			if blk, ok := intersect(prevBlockFor(other), myBlock); ok {
				st.recv = append(st.recv, link{rank: other, block: blk})
			}
			if blk, ok := intersect(myOldBlock, blockFor(other)); ok {
				st.send = append(st.send, link{rank: other, block: blk})
			}
		}
		p.stages[k-1] = st
		prevBlockFor = blockFor
	}
	return p, nil
}

// NewPlanFromWisdom rebuilds the Plan comm's rank would have gotten from
// NewPlan(comm, w.NodeGrid, w.Mesh), reading its geometry straight out of
// w instead of recomputing the O(nRanks) intersection search.
func NewPlanFromWisdom(comm mpi.Comm, w *Wisdom) (*Plan, error) {
	if comm.Size() != w.NRanks {
		return nil, errs.Inconsistencyf("fft: wisdom built for %d ranks, comm has %d", w.NRanks, comm.Size())
	}
	rw := w.Ranks[comm.Rank()]
	p := &Plan{
		comm: comm, rank: comm.Rank(), nRanks: w.NRanks, mesh: w.Mesh, d0Grid: w.NodeGrid,
		d0Block: rw.D0Block,
	}
	for k := 0; k < 3; k++ {
		p.stages[k] = rw.Stages[k]
	}
	return p, nil
}

func blockForGrid(mesh, grid, pos vec.IVec3) Block {
	var blk Block
	for d := 0; d < 3; d++ {
		blk.Lo[d], blk.Hi[d] = partitionAxis(mesh[d], grid[d], pos[d])
	}
	return blk
}

// rowProcGrid builds the 2D process grid for a row decomposition whose
// whole (unsplit) axis is full: grid[full] = 1, and the other two axes
// (in ascending global-axis order) get the near-square factors a, b.
func rowProcGrid(full, a, b int) vec.IVec3 {
	var g vec.IVec3
	g[full] = 1
	first := true
	for d := 0; d < 3; d++ {
		if d == full {
			continue
		}
		if first {
			g[d] = a
			first = false
		} else {
			g[d] = b
		}
	}
	return g
}

// localAxisOrder returns the (slow, mid, fast) global axis indices for a
// stage whose whole axis is full: full always lands last (fast), so a
// length-new_mesh[2] contiguous 1D FFT runs straight along it.
func localAxisOrder(full int) [3]int {
	var order [3]int
	i := 0
	for d := 0; d < 3; d++ {
		if d != full {
			order[i] = d
			i++
		}
	}
	order[2] = full
	return order
}

func localOffset(coord vec.IVec3, block Block, axisOrder [3]int, element int) int {
	rel := vec.IVec3{coord[0] - block.Lo[0], coord[1] - block.Lo[1], coord[2] - block.Lo[2]}
	size := block.size()
	sMid, sFast := size[axisOrder[1]], size[axisOrder[2]]
	idxSlow, idxMid, idxFast := rel[axisOrder[0]], rel[axisOrder[1]], rel[axisOrder[2]]
	return ((idxSlow*sMid+idxMid)*sFast + idxFast) * element
}

// packBlock copies the sub-rectangle blk out of local (which holds
// block's full extent, laid out with axisOrder's axis fast) into a flat
// wire buffer in canonical (x, y, z) row-major order. element is 1 for a
// real buffer, 2 for an interleaved-complex one (spec ยง4.8's pack/unpack
// contract).
func packBlock(local []float64, block Block, axisOrder [3]int, blk Block, element int) []float64 {
	size := blk.size()
	out := make([]float64, size[0]*size[1]*size[2]*element)
	n := 0
	var c vec.IVec3
	for c[0] = blk.Lo[0]; c[0] < blk.Hi[0]; c[0]++ {
		for c[1] = blk.Lo[1]; c[1] < blk.Hi[1]; c[1]++ {
			for c[2] = blk.Lo[2]; c[2] < blk.Hi[2]; c[2]++ {
				off := localOffset(c, block, axisOrder, element)
				for e := 0; e < element; e++ {
					out[n] = local[off+e]
					n++
				}
			}
		}
	}
	return out
}

func unpackBlock(flat []float64, local []float64, block Block, axisOrder [3]int, blk Block, element int) {
	n := 0
	var c vec.IVec3
	for c[0] = blk.Lo[0]; c[0] < blk.Hi[0]; c[0]++ {
		for c[1] = blk.Lo[1]; c[1] < blk.Hi[1]; c[1]++ {
			for c[2] = blk.Lo[2]; c[2] < blk.Hi[2]; c[2]++ {
				off := localOffset(c, block, axisOrder, element)
				for e := 0; e < element; e++ {
					local[off+e] = flat[n]
					n++
				}
			}
		}
	}
}

// encodeFloat64s wire-encodes v the way lib/cell's particle packing does
// for lib/ghost and lib/exchange, rather than hand-rolling the byte layout
// lib/wire already owns.
func encodeFloat64s(v []float64) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(v) * 8)
	if err := wire.Write(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeFloat64s(src []byte) ([]float64, error) {
	out := make([]float64, len(src)/8)
	if err := wire.Read(bytes.NewReader(src), out); err != nil {
		return nil, err
	}
	return out, nil
}

// communicateReal implements spec ยง4.8 forward step 1: ship the real D0
// data to D1 and complex-ify it (imaginary part zeroed) on receipt.
func (p *Plan) communicateReal(local []float64) ([]complex128, error) {
	st := &p.stages[0]
	var reqs []mpi.Request
	for _, l := range st.send {
		packed := packBlock(local, p.d0Block, [3]int{0, 1, 2}, l.block, st.element)
		buf, err := encodeFloat64s(packed)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, p.comm.Isend(l.rank, fftTag(1, true), buf))
	}
	recvBufs := make([][]byte, len(st.recv))
	for i, l := range st.recv {
		recvBufs[i] = make([]byte, l.block.count()*st.element*8)
		reqs = append(reqs, p.comm.Irecv(l.rank, fftTag(1, true), recvBufs[i]))
	}
	if err := p.comm.Waitall(reqs); err != nil {
		return nil, err
	}

	dst := make([]float64, st.localBlock.count())
	for i, l := range st.recv {
		flat, err := decodeFloat64s(recvBufs[i])
		if err != nil {
			return nil, err
		}
		unpackBlock(flat, dst, st.localBlock, st.axisOrder, l.block, st.element)
	}
	out := make([]complex128, len(dst))
	for i, v := range dst {
		out[i] = complex(v, 0)
	}
	return out, nil
}

// communicateComplex implements one of forward steps 3's two
// communicate legs (D1->D2 or D2->D3), and is reused, with send/recv
// swapped, for the matching backward leg.
func (p *Plan) communicateComplex(stageIdx int, local []complex128, forward bool) ([]complex128, error) {
	st := &p.stages[stageIdx]
	prevAxisOrder, prevBlock := [3]int{0, 1, 2}, p.d0Block
	if stageIdx > 0 {
		prevAxisOrder, prevBlock = p.stages[stageIdx-1].axisOrder, p.stages[stageIdx-1].localBlock
	}

	sendLinks, recvLinks := st.send, st.recv
	srcAxisOrder, srcBlock := prevAxisOrder, prevBlock
	dstAxisOrder, dstBlock := st.axisOrder, st.localBlock
	if !forward {
		sendLinks, recvLinks = st.recv, st.send
		srcAxisOrder, srcBlock = st.axisOrder, st.localBlock
		dstAxisOrder, dstBlock = prevAxisOrder, prevBlock
	}

	realLocal := complexToReal(local)
	var reqs []mpi.Request
	for _, l := range sendLinks {
		packed := packBlock(realLocal, srcBlock, srcAxisOrder, l.block, st.element)
		buf, err := encodeFloat64s(packed)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, p.comm.Isend(l.rank, fftTag(stageIdx+1, forward), buf))
	}
	recvBufs := make([][]byte, len(recvLinks))
	for i, l := range recvLinks {
		recvBufs[i] = make([]byte, l.block.count()*st.element*8)
		reqs = append(reqs, p.comm.Irecv(l.rank, fftTag(stageIdx+1, forward), recvBufs[i]))
	}
	if err := p.comm.Waitall(reqs); err != nil {
		return nil, err
	}

	dstReal := make([]float64, dstBlock.count()*st.element)
	for i, l := range recvLinks {
		flat, err := decodeFloat64s(recvBufs[i])
		if err != nil {
			return nil, err
		}
		unpackBlock(flat, dstReal, dstBlock, dstAxisOrder, l.block, st.element)
	}
	return realToComplex(dstReal), nil
}

func complexToReal(v []complex128) []float64 {
	out := make([]float64, len(v)*2)
	for i, c := range v {
		out[2*i], out[2*i+1] = real(c), imag(c)
	}
	return out
}

func realToComplex(v []float64) []complex128 {
	out := make([]complex128, len(v)/2)
	for i := range out {
		out[i] = complex(v[2*i], v[2*i+1])
	}
	return out
}

func fftTag(stage int, forward bool) int {
	if forward {
		return 400 + stage
	}
	return 450 + stage
}

// rowFFT runs length-row[2] complex 1D FFTs (or their inverses) over
// every contiguous row of local, which is laid out (slow, mid, fast)
// with mesh dimensions rowMesh.
func rowFFT(local []complex128, rowMesh vec.IVec3, inverse bool) []complex128 {
	n := rowMesh[2]
	if n == 0 {
		return local
	}
	fft := fourier.NewCmplxFFT(n)
	rows := rowMesh[0] * rowMesh[1]
	out := make([]complex128, len(local))
	row := make([]complex128, n)
	for r := 0; r < rows; r++ {
		copy(row, local[r*n:(r+1)*n])
		var res []complex128
		if inverse {
			res = fft.Sequence(nil, row)
		} else {
			res = fft.Coefficients(nil, row)
		}
		copy(out[r*n:(r+1)*n], res)
	}
	return out
}

// Forward runs spec ยง4.8's forward pass: real D0 -> complex D1 (FFT) ->
// D2 (FFT) -> D3 (FFT), returning the caller's final complex buffer in
// D3's local (slow, mid, fast) layout.
func (p *Plan) Forward(real []float64) ([]complex128, error) {
	if len(real) != p.d0Block.count() {
		return nil, errs.Inconsistencyf("fft: Forward expected %d real points, got %d", p.d0Block.count(), len(real))
	}
	d1, err := p.communicateReal(real)
	if err != nil {
		return nil, err
	}
	d1 = rowFFT(d1, p.rowMesh(0), false)

	d2, err := p.communicateComplex(1, d1, true)
	if err != nil {
		return nil, err
	}
	d2 = rowFFT(d2, p.rowMesh(1), false)

	d3, err := p.communicateComplex(2, d2, true)
	if err != nil {
		return nil, err
	}
	d3 = rowFFT(d3, p.rowMesh(2), false)
	return d3, nil
}

// Backward runs spec ยง4.8's backward pass: inverse FFT and communicate
// D3 -> D2 -> D1 -> D0, discarding the imaginary part of the final real
// result (expected numerical zero). The result is unnormalized: a
// Forward/Backward round trip returns the input scaled by the global mesh
// point count.
func (p *Plan) Backward(freq []complex128) ([]float64, error) {
	if len(freq) != p.stages[2].localBlock.count() {
		return nil, errs.Inconsistencyf("fft: Backward expected %d D3 points, got %d", p.stages[2].localBlock.count(), len(freq))
	}
	d3 := rowFFT(freq, p.rowMesh(2), true)
	d2, err := p.communicateComplex(2, d3, false)
	if err != nil {
		return nil, err
	}

	d2 = rowFFT(d2, p.rowMesh(1), true)
	d1, err := p.communicateComplex(1, d2, false)
	if err != nil {
		return nil, err
	}

	d1 = rowFFT(d1, p.rowMesh(0), true)
	d0, err := p.communicateRealBackward(d1)
	if err != nil {
		return nil, err
	}
	return d0, nil
}

// communicateRealBackward mirrors communicateReal for the backward
// pass's final leg: complex D1 ships back to D0 and only the real part
// survives. Unlike st.element (1, for the forward real->complex leg)
// this direction carries complex data, so the element width is always 2
// here regardless of st.element.
func (p *Plan) communicateRealBackward(local []complex128) ([]float64, error) {
	st := &p.stages[0]
	realLocal := complexToReal(local)
	var reqs []mpi.Request
	for _, l := range st.recv {
		packed := packBlock(realLocal, st.localBlock, st.axisOrder, l.block, 2)
		buf, err := encodeFloat64s(packed)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, p.comm.Isend(l.rank, fftTag(1, false), buf))
	}
	recvBufs := make([][]byte, len(st.send))
	for i, l := range st.send {
		recvBufs[i] = make([]byte, l.block.count()*2*8)
		reqs = append(reqs, p.comm.Irecv(l.rank, fftTag(1, false), recvBufs[i]))
	}
	if err := p.comm.Waitall(reqs); err != nil {
		return nil, err
	}

	dstReal := make([]float64, p.d0Block.count()*2)
	for i, l := range st.send {
		flat, err := decodeFloat64s(recvBufs[i])
		if err != nil {
			return nil, err
		}
		unpackBlock(flat, dstReal, p.d0Block, [3]int{0, 1, 2}, l.block, 2)
	}
	out := make([]float64, p.d0Block.count())
	for i := range out {
		out[i] = dstReal[2*i]
	}
	return out, nil
}

// rowMesh returns stage stageIdx's local mesh dimensions in its own
// (slow, mid, fast) order, the shape rowFFT needs.
func (p *Plan) rowMesh(stageIdx int) vec.IVec3 {
	st := &p.stages[stageIdx]
	size := st.localBlock.size()
	return vec.IVec3{size[st.axisOrder[0]], size[st.axisOrder[1]], size[st.axisOrder[2]]}
}

// LocalMesh returns this rank's D0 real-space local mesh dimensions.
func (p *Plan) LocalMesh() vec.IVec3 { return p.d0Block.size() }

// GlobalMesh returns the full global real mesh size the Plan was built for.
func (p *Plan) GlobalMesh() vec.IVec3 { return p.mesh }
