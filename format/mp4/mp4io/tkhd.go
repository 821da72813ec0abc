//nolint:errcheck
package mp4io

import (
	"fmt"
	"math"

	"github.com/ugparu/isom/utils/bits/bitio"
)

const TKHD = Tag(0x746b6864)

// Track header flags.
const (
	TrackEnabled   uint32 = 0x000001
	TrackInMovie   uint32 = 0x000002
	TrackInPreview uint32 = 0x000004
)

// TrackHeader is the tkhd box. Width and Height are 16.16 fixed point.
type TrackHeader struct {
	FullHeader
	CreateTime     uint64
	ModifyTime     uint64
	TrackID        uint32
	Reserved1      uint32
	Duration       uint64
	Reserved2      [8]byte
	Layer          int16
	AlternateGroup int16
	Volume         uint16
	Reserved3      uint16
	Matrix         [9]int32
	Width          uint32
	Height         uint32
	AtomPos
}

func (t *TrackHeader) Tag() Tag {
	return TKHD
}

func (t *TrackHeader) body() int {
	if t.Version == 1 {
		return fullHeaderSize + 32 + 60
	}
	return fullHeaderSize + 20 + 60
}

func (t *TrackHeader) Len() int {
	return t.boxLen(t.body())
}

func (t *TrackHeader) FitVersion() {
	if t.Duration > math.MaxUint32 || t.CreateTime > math.MaxUint32 || t.ModifyTime > math.MaxUint32 {
		t.Version = 1
	}
}

func (t *TrackHeader) Marshal(w *bitio.Writer) error {
	t.writeHeader(w, TKHD, t.body())
	t.FullHeader.write(w)
	if t.Version == 1 {
		w.U64(t.CreateTime)
		w.U64(t.ModifyTime)
		w.U32(t.TrackID)
		w.U32(t.Reserved1)
		w.U64(t.Duration)
	} else {
		w.U32(uint32(t.CreateTime))
		w.U32(uint32(t.ModifyTime))
		w.U32(t.TrackID)
		w.U32(t.Reserved1)
		w.U32(uint32(t.Duration))
	}
	w.Write(t.Reserved2[:])
	w.I16(t.Layer)
	w.I16(t.AlternateGroup)
	w.U16(t.Volume)
	w.U16(t.Reserved3)
	for _, v := range t.Matrix {
		w.I32(v)
	}
	w.U32(t.Width)
	w.U32(t.Height)
	return w.Err()
}

func (t *TrackHeader) Unmarshal(d *Decoder, _ int) error {
	f := d.fields()
	t.FullHeader.read(f)
	if t.Version == 1 {
		t.CreateTime = f.u64()
		t.ModifyTime = f.u64()
		t.TrackID = f.u32()
		t.Reserved1 = f.u32()
		t.Duration = f.u64()
	} else {
		t.CreateTime = uint64(f.u32())
		t.ModifyTime = uint64(f.u32())
		t.TrackID = f.u32()
		t.Reserved1 = f.u32()
		t.Duration = uint64(f.u32())
	}
	copy(t.Reserved2[:], f.bytes(len(t.Reserved2)))
	t.Layer = f.i16()
	t.AlternateGroup = f.i16()
	t.Volume = f.u16()
	t.Reserved3 = f.u16()
	for i := range t.Matrix {
		t.Matrix[i] = f.i32()
	}
	t.Width = f.u32()
	t.Height = f.u32()
	return f.err
}

func (t *TrackHeader) Children() []Box {
	return nil
}

func (t *TrackHeader) String() string {
	return fmt.Sprintf("track=%d duration=%d size=%dx%d", t.TrackID, t.Duration, t.Width>>16, t.Height>>16)
}
