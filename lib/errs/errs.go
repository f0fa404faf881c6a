/*Package errs reports the error kinds the core raises: ConfigurationError
and Inconsistency are surfaced to the host application on a shared channel,
while CommunicationFailure and Convergence are always fatal.

The split mirrors guppy's lib/error package (External vs Internal) but adds
the rank-tagged fatal path MPI-parallel code needs.
*/
package errs

import (
	"fmt"
	"log"
	"os"
	"runtime/debug"
)

// Kind classifies an error the core raises.
type Kind int

const (
	// Configuration indicates a configuration error: a cell grid that
	// cannot be constructed under the requested range/max_cells limits, a
	// box shorter than max_range, or incompatible tree connectivities.
	Configuration Kind = iota
	// Inconsistency indicates an internal invariant was violated: a
	// migrated particle that position_to_cell rejects, or an octree child
	// count that isn't a power-of-two of its parent's.
	Inconsistency
	// CommunicationFailure indicates an MPI call returned non-success.
	CommunicationFailure
	// Convergence indicates a particle is still out-of-bounds after the
	// first pass of a NEIGHBOR-mode exchange.
	Convergence
)

// Error is the runtime-error value shared with the host application for
// Configuration and Inconsistency kinds.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

// Configurationf builds a Configuration error naming the offending axis and
// values. The host application chooses whether to abort or recover.
func Configurationf(format string, a ...interface{}) error {
	return &Error{Kind: Configuration, Msg: fmt.Sprintf(format, a...)}
}

// Inconsistencyf builds an Inconsistency error. The host application
// chooses whether to abort or recover.
func Inconsistencyf(format string, a ...interface{}) error {
	return &Error{Kind: Inconsistency, Msg: fmt.Sprintf(format, a...)}
}

// Fatal reports a single-line, rank-tagged CommunicationFailure or
// Convergence error and terminates the process group. It never returns.
func Fatal(rank int, format string, a ...interface{}) {
	log.Printf("[rank %d] "+format, append([]interface{}{rank}, a...)...)
	os.Exit(1)
}

// FatalInternal reports an error that requires a code dive to fix, along
// with a stack trace, and terminates the process. It mirrors guppy's
// lib/error.Internal, used for invariant violations the core cannot
// recover from locally (e.g. a particle lost during migration).
func FatalInternal(rank int, format string, a ...interface{}) {
	log.Printf("[rank %d] ddlb exited early with the following error:", rank)
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprintf(os.Stderr, "\n\n")
	debug.PrintStack()
	os.Exit(1)
}
