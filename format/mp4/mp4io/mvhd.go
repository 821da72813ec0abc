//nolint:errcheck
package mp4io

import (
	"fmt"
	"math"

	"github.com/ugparu/isom/utils/bits/bitio"
)

const MVHD = Tag(0x6d766864)

// IdentityMatrix is the unity transformation used by mvhd and tkhd.
var IdentityMatrix = [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}

// MovieHeader is the mvhd box. Times are seconds since 1904.
type MovieHeader struct {
	FullHeader
	CreateTime      uint64
	ModifyTime      uint64
	TimeScale       uint32
	Duration        uint64
	PreferredRate   uint32 // 16.16 fixed point
	PreferredVolume uint16 // 8.8 fixed point
	Reserved        [10]byte
	Matrix          [9]int32
	PreDefined      [24]byte
	NextTrackID     uint32
	AtomPos
}

func (m *MovieHeader) Tag() Tag {
	return MVHD
}

func (m *MovieHeader) body() int {
	if m.Version == 1 {
		return fullHeaderSize + 28 + 80
	}
	return fullHeaderSize + 16 + 80
}

func (m *MovieHeader) Len() int {
	return m.boxLen(m.body())
}

// FitVersion selects version 1 when a field does not fit in 32 bits.
func (m *MovieHeader) FitVersion() {
	if m.Duration > math.MaxUint32 || m.CreateTime > math.MaxUint32 || m.ModifyTime > math.MaxUint32 {
		m.Version = 1
	}
}

func (m *MovieHeader) Marshal(w *bitio.Writer) error {
	m.writeHeader(w, MVHD, m.body())
	m.FullHeader.write(w)
	if m.Version == 1 {
		w.U64(m.CreateTime)
		w.U64(m.ModifyTime)
		w.U32(m.TimeScale)
		w.U64(m.Duration)
	} else {
		w.U32(uint32(m.CreateTime))
		w.U32(uint32(m.ModifyTime))
		w.U32(m.TimeScale)
		w.U32(uint32(m.Duration))
	}
	w.U32(m.PreferredRate)
	w.U16(m.PreferredVolume)
	w.Write(m.Reserved[:])
	for _, v := range m.Matrix {
		w.I32(v)
	}
	w.Write(m.PreDefined[:])
	w.U32(m.NextTrackID)
	return w.Err()
}

func (m *MovieHeader) Unmarshal(d *Decoder, _ int) error {
	f := d.fields()
	m.FullHeader.read(f)
	if m.Version == 1 {
		m.CreateTime = f.u64()
		m.ModifyTime = f.u64()
		m.TimeScale = f.u32()
		m.Duration = f.u64()
	} else {
		m.CreateTime = uint64(f.u32())
		m.ModifyTime = uint64(f.u32())
		m.TimeScale = f.u32()
		m.Duration = uint64(f.u32())
	}
	m.PreferredRate = f.u32()
	m.PreferredVolume = f.u16()
	copy(m.Reserved[:], f.bytes(len(m.Reserved)))
	for i := range m.Matrix {
		m.Matrix[i] = f.i32()
	}
	copy(m.PreDefined[:], f.bytes(len(m.PreDefined)))
	m.NextTrackID = f.u32()
	return f.err
}

func (m *MovieHeader) Children() []Box {
	return nil
}

func (m *MovieHeader) String() string {
	return fmt.Sprintf("timescale=%d duration=%d next_track=%d", m.TimeScale, m.Duration, m.NextTrackID)
}
