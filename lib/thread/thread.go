/*Package thread sizes the intra-rank worker pool (Set, called by cmd/ddlbd)
and provides Parallel, a chunked fan-out helper; lib/ghost and lib/fft run
their packing and 1D transforms serially and do not call it. There is no
thread parallelism mandated across MPI suspension
points (see spec ยง5); this package only controls GOMAXPROCS-bounded fan-out
within a single rank between them.*/
package thread

import (
	"runtime"

	"github.com/mansfield-lab/ddlb/lib/errs"
)

// Set configures the number of OS threads Go may schedule goroutines on for
// the calling rank. n == -1 uses every core on the node.
func Set(n int) {
	if n == -1 {
		runtime.GOMAXPROCS(runtime.NumCPU())
		return
	}
	if n > runtime.NumCPU() {
		errs.FatalInternal(-1,
			"%d threads requested, but this node only has %d cores. "+
				"Set Threads=-1 to use every core on the node.",
			n, runtime.NumCPU())
	}
	runtime.GOMAXPROCS(n)
}

// Parallel splits [0, n) into thread.Count() contiguous chunks and runs fn
// on each chunk concurrently, blocking until every chunk has finished.
func Parallel(n int, fn func(lo, hi int)) {
	workers := Count()
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		fn(0, n)
		return
	}

	chunk := (n + workers - 1) / workers
	done := make(chan struct{}, workers)
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		if lo >= hi {
			done <- struct{}{}
			continue
		}
		go func(lo, hi int) {
			fn(lo, hi)
			done <- struct{}{}
		}(lo, hi)
	}
	for w := 0; w < workers; w++ {
		<-done
	}
}

// Count returns the number of worker goroutines Parallel should fan out
// across, currently GOMAXPROCS.
func Count() int {
	return runtime.GOMAXPROCS(0)
}
