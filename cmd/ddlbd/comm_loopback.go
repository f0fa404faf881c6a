//go:build !mpi

package main

import "github.com/mansfield-lab/ddlb/lib/mpi"

// newComm selects the single-rank loopback backend for the default build,
// when no system MPI installation is being linked against.
func newComm() mpi.Comm {
	return mpi.NewLoopback()
}
