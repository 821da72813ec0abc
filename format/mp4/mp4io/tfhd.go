//nolint:errcheck
package mp4io

import (
	"fmt"

	"github.com/ugparu/isom/utils/bits/bitio"
)

const (
	TFHD                  = Tag(0x74666864)
	TFHDBaseDataOffset    = uint32(0x01)
	TFHDStsdID            = uint32(0x02)
	TFHDDefaultDuration   = uint32(0x08)
	TFHDDefaultSize       = uint32(0x10)
	TFHDDefaultFlags      = uint32(0x20)
	TFHDDurationIsEmpty   = uint32(0x10000)
	TFHDDefaultBaseIsMOOF = uint32(0x20000)
)

// TrackFragHeader is the tfhd box. Optional fields are present when their flag is set.
type TrackFragHeader struct {
	FullHeader
	TrackID         uint32
	BaseDataOffset  uint64
	StsdID          uint32
	DefaultDuration uint32
	DefaultSize     uint32
	DefaultFlags    uint32
	AtomPos
}

func (t *TrackFragHeader) Tag() Tag {
	return TFHD
}

func (t *TrackFragHeader) body() int {
	n := fullHeaderSize + 4
	if t.Flags&TFHDBaseDataOffset != 0 {
		n += 8
	}
	if t.Flags&TFHDStsdID != 0 {
		n += 4
	}
	if t.Flags&TFHDDefaultDuration != 0 {
		n += 4
	}
	if t.Flags&TFHDDefaultSize != 0 {
		n += 4
	}
	if t.Flags&TFHDDefaultFlags != 0 {
		n += 4
	}
	return n
}

func (t *TrackFragHeader) Len() int {
	return t.boxLen(t.body())
}

func (t *TrackFragHeader) Marshal(w *bitio.Writer) error {
	t.writeHeader(w, TFHD, t.body())
	t.FullHeader.write(w)
	w.U32(t.TrackID)
	if t.Flags&TFHDBaseDataOffset != 0 {
		w.U64(t.BaseDataOffset)
	}
	if t.Flags&TFHDStsdID != 0 {
		w.U32(t.StsdID)
	}
	if t.Flags&TFHDDefaultDuration != 0 {
		w.U32(t.DefaultDuration)
	}
	if t.Flags&TFHDDefaultSize != 0 {
		w.U32(t.DefaultSize)
	}
	if t.Flags&TFHDDefaultFlags != 0 {
		w.U32(t.DefaultFlags)
	}
	return w.Err()
}

func (t *TrackFragHeader) Unmarshal(d *Decoder, _ int) error {
	f := d.fields()
	t.FullHeader.read(f)
	t.TrackID = f.u32()
	if t.Flags&TFHDBaseDataOffset != 0 {
		t.BaseDataOffset = f.u64()
	}
	if t.Flags&TFHDStsdID != 0 {
		t.StsdID = f.u32()
	}
	if t.Flags&TFHDDefaultDuration != 0 {
		t.DefaultDuration = f.u32()
	}
	if t.Flags&TFHDDefaultSize != 0 {
		t.DefaultSize = f.u32()
	}
	if t.Flags&TFHDDefaultFlags != 0 {
		t.DefaultFlags = f.u32()
	}
	return f.err
}

func (t *TrackFragHeader) Children() []Box {
	return nil
}

func (t *TrackFragHeader) String() string {
	return fmt.Sprintf("track=%d flags=%#x", t.TrackID, t.Flags)
}
