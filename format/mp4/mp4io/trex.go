//nolint:errcheck
package mp4io

import (
	"fmt"

	"github.com/ugparu/isom/utils/bits/bitio"
)

const (
	TREX = Tag(0x74726578)
	MEHD = Tag(0x6d656864)
)

// TrackExtend is the trex box: per-track defaults for movie fragments.
type TrackExtend struct {
	FullHeader
	TrackID               uint32
	DefaultSampleDescIdx  uint32
	DefaultSampleDuration uint32
	DefaultSampleSize     uint32
	DefaultSampleFlags    uint32
	AtomPos
}

func (t *TrackExtend) Tag() Tag {
	return TREX
}

func (t *TrackExtend) Len() int {
	return t.boxLen(fullHeaderSize + 20)
}

func (t *TrackExtend) Marshal(w *bitio.Writer) error {
	t.writeHeader(w, TREX, fullHeaderSize+20)
	t.FullHeader.write(w)
	w.U32(t.TrackID)
	w.U32(t.DefaultSampleDescIdx)
	w.U32(t.DefaultSampleDuration)
	w.U32(t.DefaultSampleSize)
	w.U32(t.DefaultSampleFlags)
	return w.Err()
}

func (t *TrackExtend) Unmarshal(d *Decoder, _ int) error {
	f := d.fields()
	t.FullHeader.read(f)
	t.TrackID = f.u32()
	t.DefaultSampleDescIdx = f.u32()
	t.DefaultSampleDuration = f.u32()
	t.DefaultSampleSize = f.u32()
	t.DefaultSampleFlags = f.u32()
	return f.err
}

func (t *TrackExtend) Children() []Box {
	return nil
}

func (t *TrackExtend) String() string {
	return fmt.Sprintf("track=%d desc=%d duration=%d size=%d flags=%#x",
		t.TrackID, t.DefaultSampleDescIdx, t.DefaultSampleDuration, t.DefaultSampleSize, t.DefaultSampleFlags)
}

// MovieExtendHeader is the mehd box carrying the total fragmented duration.
type MovieExtendHeader struct {
	FullHeader
	FragmentDuration uint64
	AtomPos
}

func (m *MovieExtendHeader) Tag() Tag {
	return MEHD
}

func (m *MovieExtendHeader) body() int {
	if m.Version == 1 {
		return fullHeaderSize + 8
	}
	return fullHeaderSize + 4
}

func (m *MovieExtendHeader) Len() int {
	return m.boxLen(m.body())
}

func (m *MovieExtendHeader) Marshal(w *bitio.Writer) error {
	m.writeHeader(w, MEHD, m.body())
	m.FullHeader.write(w)
	if m.Version == 1 {
		w.U64(m.FragmentDuration)
	} else {
		w.U32(uint32(m.FragmentDuration)) //nolint:gosec
	}
	return w.Err()
}

func (m *MovieExtendHeader) Unmarshal(d *Decoder, _ int) error {
	f := d.fields()
	m.FullHeader.read(f)
	if m.Version == 1 {
		m.FragmentDuration = f.u64()
	} else {
		m.FragmentDuration = uint64(f.u32())
	}
	return f.err
}

func (m *MovieExtendHeader) Children() []Box {
	return nil
}
