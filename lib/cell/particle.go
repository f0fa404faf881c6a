/*Package cell implements C2: Particle, Cell, and CellStore, the arena that
owns every local and ghost particle and the id -> (cell, slot) index used by
bonded lookups and migration (spec ยง3, ยง4.2).

Cells hold dense particle sequences; neighbor lists elsewhere store indices
into this arena rather than raw pointers, which is how spec ยง9's "cyclic
ownership" design note is resolved: there are no Go pointers from a
neighbor list back into a Cell, only (cellIndex, slot) pairs.
*/
package cell

import (
	"bytes"
	"encoding/binary"

	"github.com/mansfield-lab/ddlb/lib/vec"
	"github.com/mansfield-lab/ddlb/lib/wire"
)

// Bond is one entry in a Particle's bond list: a bond-type id and the
// partner identities the bond connects to.
type Bond struct {
	TypeID   int32
	Partners []int64
}

// Particle is the smallest addressable unit of matter (spec ยง3).
type Particle struct {
	ID int64 // process-wide unique, non-negative, immutable

	Pos   vec.Vec3
	Vel   vec.Vec3
	Force vec.Vec3

	Type   int32
	Charge float64
	Mass   float64

	Orientation [4]float64 // quaternion
	AngVel      vec.Vec3
	Torque      vec.Vec3

	IsVirtual bool
	IsGhost   bool

	Bonds      []Bond
	Exclusions []int64
}

// TransferSet selects which Particle fields GhostComm serializes in a
// particular round (spec ยง3, ยง4.5).
type TransferSet uint8

const (
	PartCount TransferSet = 1 << iota
	Props
	Position
	PositionShifted
	Force
	LBCoupling
	Swimming
)

// Pack appends the fields selected by mask to buf in the order: position
// (possibly shifted by shift, only meaningful if mask includes
// PositionShifted), velocity/type/charge/mass/orientation (Props), force.
// Bonds/exclusions/identity are never shipped across a ghost round; they
// only travel with Exchanger's particle-body + dynamic-tails buffers (see
// lib/exchange), since ghosts never originate bonded lookups locally.
func (p *Particle) Pack(buf *bytes.Buffer, mask TransferSet, shift vec.Vec3) error {
	if mask&(Position|PositionShifted) != 0 {
		pos := p.Pos
		if mask&PositionShifted != 0 {
			pos = pos.Add(shift)
		}
		if err := wire.Write(buf, []float64{pos[0], pos[1], pos[2]}); err != nil {
			return err
		}
	}
	if mask&Props != 0 {
		vals := []float64{
			p.Vel[0], p.Vel[1], p.Vel[2],
			p.Charge, p.Mass,
			p.Orientation[0], p.Orientation[1], p.Orientation[2], p.Orientation[3],
		}
		if err := wire.Write(buf, vals); err != nil {
			return err
		}
		if err := binary.Write(buf, wire.ByteOrder(), p.Type); err != nil {
			return err
		}
	}
	if mask&Force != 0 {
		if err := wire.Write(buf, []float64{p.Force[0], p.Force[1], p.Force[2]}); err != nil {
			return err
		}
	}
	return nil
}

// Unpack reads the fields selected by mask from r into p, mirroring Pack.
func (p *Particle) Unpack(r *bytes.Reader, mask TransferSet) error {
	if mask&(Position|PositionShifted) != 0 {
		buf := make([]float64, 3)
		if err := wire.Read(r, buf); err != nil {
			return err
		}
		p.Pos = vec.Vec3{buf[0], buf[1], buf[2]}
	}
	if mask&Props != 0 {
		buf := make([]float64, 9)
		if err := wire.Read(r, buf); err != nil {
			return err
		}
		p.Vel = vec.Vec3{buf[0], buf[1], buf[2]}
		p.Charge, p.Mass = buf[3], buf[4]
		p.Orientation = [4]float64{buf[5], buf[6], buf[7], buf[8]}
		if err := binary.Read(r, wire.ByteOrder(), &p.Type); err != nil {
			return err
		}
	}
	if mask&Force != 0 {
		buf := make([]float64, 3)
		if err := wire.Read(r, buf); err != nil {
			return err
		}
		p.Force = vec.Vec3{buf[0], buf[1], buf[2]}
	}
	return nil
}

// PackSize returns the exact number of bytes Pack writes for mask, used to
// size GhostComm's scratch buffers up front.
func PackSize(mask TransferSet) int {
	n := 0
	if mask&(Position|PositionShifted) != 0 {
		n += 3 * 8
	}
	if mask&Props != 0 {
		n += 9*8 + 4
	}
	if mask&Force != 0 {
		n += 3 * 8
	}
	return n
}

// PackBody serializes the fixed-size portion of a Particle for Exchanger's
// particle-body buffer: identity, position, velocity, force, type, charge,
// mass, orientation, angular velocity, torque, and the virtual-site flag.
// Bond and exclusion lists are not fixed-size and travel separately in the
// dynamic-tails stream (spec ยง4.6).
func (p *Particle) PackBody(buf *bytes.Buffer) error {
	if err := binary.Write(buf, wire.ByteOrder(), p.ID); err != nil {
		return err
	}
	vals := []float64{
		p.Pos[0], p.Pos[1], p.Pos[2],
		p.Vel[0], p.Vel[1], p.Vel[2],
		p.Force[0], p.Force[1], p.Force[2],
		p.Charge, p.Mass,
		p.Orientation[0], p.Orientation[1], p.Orientation[2], p.Orientation[3],
		p.AngVel[0], p.AngVel[1], p.AngVel[2],
		p.Torque[0], p.Torque[1], p.Torque[2],
	}
	if err := wire.Write(buf, vals); err != nil {
		return err
	}
	if err := binary.Write(buf, wire.ByteOrder(), p.Type); err != nil {
		return err
	}
	virtual := int8(0)
	if p.IsVirtual {
		virtual = 1
	}
	return binary.Write(buf, wire.ByteOrder(), virtual)
}

// UnpackBody is the inverse of PackBody.
func UnpackBody(r *bytes.Reader) (*Particle, error) {
	p := &Particle{}
	if err := binary.Read(r, wire.ByteOrder(), &p.ID); err != nil {
		return nil, err
	}
	buf := make([]float64, 21)
	if err := wire.Read(r, buf); err != nil {
		return nil, err
	}
	p.Pos = vec.Vec3{buf[0], buf[1], buf[2]}
	p.Vel = vec.Vec3{buf[3], buf[4], buf[5]}
	p.Force = vec.Vec3{buf[6], buf[7], buf[8]}
	p.Charge, p.Mass = buf[9], buf[10]
	p.Orientation = [4]float64{buf[11], buf[12], buf[13], buf[14]}
	p.AngVel = vec.Vec3{buf[15], buf[16], buf[17]}
	p.Torque = vec.Vec3{buf[18], buf[19], buf[20]}
	if err := binary.Read(r, wire.ByteOrder(), &p.Type); err != nil {
		return nil, err
	}
	var virtual int8
	if err := binary.Read(r, wire.ByteOrder(), &virtual); err != nil {
		return nil, err
	}
	p.IsVirtual = virtual != 0
	return p, nil
}

// BodyPackSize is the exact number of bytes PackBody writes.
const BodyPackSize = 8 + 21*8 + 4 + 1
