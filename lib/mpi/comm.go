/*Package mpi is the core's only window onto distributed memory. It
generalizes guppy's lib/mpi cgo wrapper (itself based on
github.com/marcusthierfelder/mpi) from a one-off Alltoallv demo into the
small non-blocking point-to-point + collective surface that lib/ghost,
lib/exchange, lib/fft, lib/adapt, and lib/repart are built on.

Exactly one suspension point exists per call here: everything that posts or
waits on a request blocks only at Wait/Waitall or inside a collective,
matching spec ยง5.
*/
package mpi

// Comm is the non-blocking point-to-point and collective surface every
// communication-bearing component is built on. Two implementations exist:
// a cgo binding over a system MPI installation (build tag "mpi", see
// cgo.go) and a loopback implementation for single-process runs and tests
// (loopback.go). Library code never type-switches on the concrete Comm;
// it is handed one at topology init and threads it through.
type Comm interface {
	// Rank returns this process's rank, 0 <= Rank() < Size().
	Rank() int
	// Size returns the number of ranks in the communicator.
	Size() int

	// Isend posts a non-blocking send of buf to dest tagged with tag and
	// returns a Request that Wait/Waitall can complete. buf must not be
	// mutated until the request completes.
	Isend(dest, tag int, buf []byte) Request
	// Irecv posts a non-blocking receive into buf, tagged with tag, from
	// src. buf must not be read until the request completes.
	Irecv(src, tag int, buf []byte) Request

	// Wait blocks until req completes.
	Wait(req Request) error
	// Waitall blocks until every request in reqs completes. Any single
	// failure is a CommunicationFailure (spec ยง7); the caller reports it
	// through errs.Fatal.
	Waitall(reqs []Request) error

	// AllreduceMaxInt64 returns max(v) across all ranks.
	AllreduceMaxInt64(v int64) (int64, error)
	// AllreduceSumInt64 returns the elementwise sum of v across all ranks.
	// len(v) must be identical on every rank.
	AllreduceSumInt64(v []int64) ([]int64, error)
	// AllreduceSumFloat64 returns the elementwise sum of v across all
	// ranks. len(v) must be identical on every rank.
	AllreduceSumFloat64(v []float64) ([]float64, error)
	// AllreduceMinMaxFloat64 returns (min, max) of v across all ranks.
	AllreduceMinMaxFloat64(v float64) (min, max float64, err error)

	// Alltoallv sends sendCounts[i] bytes of send starting at sendDisp[i]
	// to rank i, and receives recvCounts[i] bytes into recv starting at
	// recvDisp[i] from rank i. Counts/displacements are in bytes.
	Alltoallv(send []byte, sendCounts, sendDisp []int,
		recv []byte, recvCounts, recvDisp []int) error
}

// Request is a handle to an in-flight Isend/Irecv.
type Request interface {
	// Done reports whether the request has already completed without
	// blocking, the way the spec's "request-any completion" scheduling
	// model (ยง5) polls outstanding rounds.
	Done() bool
}

// Tag derives the deterministic per-round MPI tag from a 3D displacement
// and a direction polarity, so a sender and its matching receiver agree
// without handshaking (spec ยง4.5, ยง6). d components are in {-1, 0, 1};
// bodyOrTail selects between a particle-body round and its dynamic-tails
// companion round.
func Tag(d [3]int, bodyOrTail int) int {
	// Map each axis from {-1,0,1} to {0,1,2} so the whole displacement
	// fits in base-3 digits, then reserve the low bit for body-vs-tail.
	enc := (d[0] + 1) + 3*(d[1]+1) + 9*(d[2]+1)
	return enc<<1 | (bodyOrTail & 1)
}
