//go:build mpi

package main

import "github.com/mansfield-lab/ddlb/lib/mpi"

// newComm selects the cgo MPI backend when ddlbd is built with -tags mpi
// against a system MPI installation.
func newComm() mpi.Comm {
	return mpi.NewCGO()
}
