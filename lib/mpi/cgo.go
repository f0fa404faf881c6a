//go:build mpi

/*
This file is only compiled with -tags mpi, once a system MPI installation is
available to link against. It generalizes guppy's lib/mpi/mpi.go, itself
adapted from github.com/marcusthierfelder/mpi, from a one-off Alltoallv demo
into the Comm interface every other package is built against. Run:

  $ mpicc --showme:compile
  $ mpicc --showme:link

to find the right CFLAGS/LDFLAGS for your installation if the ones below
don't match.
*/
package mpi

/*
#cgo LDFLAGS: -pthread -L/usr/lib/x86_64-linux-gnu/openmpi/lib -lmpi
#cgo CFLAGS: -std=gnu99 -Wall -I/usr/lib/x86_64-linux-gnu/openmpi/include/openmpi -I/usr/lib/x86_64-linux-gnu/openmpi/include -pthread
#include <mpi.h>
#include <stdlib.h>

MPI_Comm ddlb_comm_world() { return (MPI_Comm)(MPI_COMM_WORLD); }
*/
import "C"

import (
	"unsafe"

	"github.com/mansfield-lab/ddlb/lib/errs"
)

// CGO is the production Comm backend: a thin wrapper over MPI_Isend,
// MPI_Irecv, MPI_Waitall, MPI_Allreduce, and MPI_Alltoallv, all operating on
// MPI_BYTE so the wire layout is exactly the packed Go buffer lib/wire
// produced (spec ยง6: "no framing beyond the MPI envelope").
type CGO struct {
	comm C.MPI_Comm
	rank int
	size int
}

// NewCGO initializes MPI and returns a communicator over MPI_COMM_WORLD.
// Finalize must be called exactly once before process exit.
func NewCGO() *CGO {
	if err := C.MPI_Init(nil, nil); err != 0 {
		panic(errString(err))
	}
	comm := C.ddlb_comm_world()
	var rank, size C.int
	if err := C.MPI_Comm_rank(comm, &rank); err != 0 {
		panic(errString(err))
	}
	if err := C.MPI_Comm_size(comm, &size); err != 0 {
		panic(errString(err))
	}
	return &CGO{comm: comm, rank: int(rank), size: int(size)}
}

// Finalize shuts down the MPI runtime.
func (c *CGO) Finalize() { C.MPI_Finalize() }

func (c *CGO) Rank() int { return c.rank }
func (c *CGO) Size() int { return c.size }

func errString(err C.int) string {
	buf := make([]C.char, C.MPI_MAX_ERROR_STRING)
	n := C.int(0)
	C.MPI_Error_string(err, &buf[0], &n)
	return C.GoString(&buf[0])
}

type cgoRequest struct {
	req C.MPI_Request
}

func (r *cgoRequest) Done() bool {
	var flag C.int
	var status C.MPI_Status
	C.MPI_Test(&r.req, &flag, &status)
	return flag != 0
}

func (c *CGO) Isend(dest, tag int, buf []byte) Request {
	r := &cgoRequest{}
	var ptr unsafe.Pointer
	if len(buf) > 0 {
		ptr = unsafe.Pointer(&buf[0])
	}
	err := C.MPI_Isend(ptr, C.int(len(buf)), C.MPI_BYTE,
		C.int(dest), C.int(tag), c.comm, &r.req)
	if err != 0 {
		errs.Fatal(c.rank, "MPI_Isend to rank %d failed: %s", dest, errString(err))
	}
	return r
}

func (c *CGO) Irecv(src, tag int, buf []byte) Request {
	r := &cgoRequest{}
	var ptr unsafe.Pointer
	if len(buf) > 0 {
		ptr = unsafe.Pointer(&buf[0])
	}
	err := C.MPI_Irecv(ptr, C.int(len(buf)), C.MPI_BYTE,
		C.int(src), C.int(tag), c.comm, &r.req)
	if err != 0 {
		errs.Fatal(c.rank, "MPI_Irecv from rank %d failed: %s", src, errString(err))
	}
	return r
}

func (c *CGO) Wait(req Request) error {
	r := req.(*cgoRequest)
	var status C.MPI_Status
	if err := C.MPI_Wait(&r.req, &status); err != 0 {
		return errs.Configurationf("MPI_Wait failed: %s", errString(err))
	}
	return nil
}

func (c *CGO) Waitall(reqs []Request) error {
	creqs := make([]C.MPI_Request, len(reqs))
	for i, r := range reqs {
		creqs[i] = r.(*cgoRequest).req
	}
	statuses := make([]C.MPI_Status, len(reqs))
	var errPtr *C.MPI_Request
	if len(creqs) > 0 {
		errPtr = &creqs[0]
	}
	err := C.MPI_Waitall(C.int(len(reqs)), errPtr, &statuses[0])
	if err != 0 {
		return errs.Configurationf("MPI_Waitall failed: %s", errString(err))
	}
	return nil
}

func (c *CGO) AllreduceMaxInt64(v int64) (int64, error) {
	send, recv := C.longlong(v), C.longlong(0)
	err := C.MPI_Allreduce(unsafe.Pointer(&send), unsafe.Pointer(&recv), 1,
		C.MPI_LONG_LONG, C.MPI_MAX, c.comm)
	if err != 0 {
		return 0, errs.Configurationf("MPI_Allreduce(MAX) failed: %s", errString(err))
	}
	return int64(recv), nil
}

func (c *CGO) AllreduceSumInt64(v []int64) ([]int64, error) {
	send := make([]C.longlong, len(v))
	for i, x := range v {
		send[i] = C.longlong(x)
	}
	recv := make([]C.longlong, len(v))
	var sendPtr, recvPtr unsafe.Pointer
	if len(v) > 0 {
		sendPtr, recvPtr = unsafe.Pointer(&send[0]), unsafe.Pointer(&recv[0])
	}
	err := C.MPI_Allreduce(sendPtr, recvPtr, C.int(len(v)),
		C.MPI_LONG_LONG, C.MPI_SUM, c.comm)
	if err != 0 {
		return nil, errs.Configurationf("MPI_Allreduce(SUM) failed: %s", errString(err))
	}
	out := make([]int64, len(v))
	for i, x := range recv {
		out[i] = int64(x)
	}
	return out, nil
}

func (c *CGO) AllreduceSumFloat64(v []float64) ([]float64, error) {
	send := make([]C.double, len(v))
	for i, x := range v {
		send[i] = C.double(x)
	}
	recv := make([]C.double, len(v))
	var sendPtr, recvPtr unsafe.Pointer
	if len(v) > 0 {
		sendPtr, recvPtr = unsafe.Pointer(&send[0]), unsafe.Pointer(&recv[0])
	}
	err := C.MPI_Allreduce(sendPtr, recvPtr, C.int(len(v)),
		C.MPI_DOUBLE, C.MPI_SUM, c.comm)
	if err != 0 {
		return nil, errs.Configurationf("MPI_Allreduce(SUM) failed: %s", errString(err))
	}
	out := make([]float64, len(v))
	for i, x := range recv {
		out[i] = float64(x)
	}
	return out, nil
}

func (c *CGO) AllreduceMinMaxFloat64(v float64) (min, max float64, err error) {
	sendMin, recvMin := C.double(v), C.double(0)
	e := C.MPI_Allreduce(unsafe.Pointer(&sendMin), unsafe.Pointer(&recvMin), 1,
		C.MPI_DOUBLE, C.MPI_MIN, c.comm)
	if e != 0 {
		return 0, 0, errs.Configurationf("MPI_Allreduce(MIN) failed: %s", errString(e))
	}
	sendMax, recvMax := C.double(v), C.double(0)
	e = C.MPI_Allreduce(unsafe.Pointer(&sendMax), unsafe.Pointer(&recvMax), 1,
		C.MPI_DOUBLE, C.MPI_MAX, c.comm)
	if e != 0 {
		return 0, 0, errs.Configurationf("MPI_Allreduce(MAX) failed: %s", errString(e))
	}
	return float64(recvMin), float64(recvMax), nil
}

func (c *CGO) Alltoallv(send []byte, sendCounts, sendDisp []int,
	recv []byte, recvCounts, recvDisp []int) error {

	if len(send) == 0 {
		send = []byte{0}
	}
	if len(recv) == 0 {
		recv = []byte{0}
	}
	n := len(sendCounts)
	cSendCounts, cSendDisp := make([]C.int, n), make([]C.int, n)
	cRecvCounts, cRecvDisp := make([]C.int, n), make([]C.int, n)
	for i := range sendCounts {
		cSendCounts[i], cSendDisp[i] = C.int(sendCounts[i]), C.int(sendDisp[i])
		cRecvCounts[i], cRecvDisp[i] = C.int(recvCounts[i]), C.int(recvDisp[i])
	}

	err := C.MPI_Alltoallv(unsafe.Pointer(&send[0]), &cSendCounts[0], &cSendDisp[0],
		C.MPI_BYTE, unsafe.Pointer(&recv[0]), &cRecvCounts[0], &cRecvDisp[0],
		C.MPI_BYTE, c.comm)
	if err != 0 {
		return errs.Configurationf("MPI_Alltoallv failed: %s", errString(err))
	}
	return nil
}
