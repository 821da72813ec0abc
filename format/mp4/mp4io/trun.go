//nolint:errcheck
package mp4io

import (
	"fmt"

	"github.com/ugparu/isom/utils/bits/bitio"
)

const (
	TRUN                 = Tag(0x7472756e)
	TRUNDataOffset       = uint32(0x01)
	TRUNFirstSampleFlags = uint32(0x04)
	TRUNSampleDuration   = uint32(0x100)
	TRUNSampleSize       = uint32(0x200)
	TRUNSampleFlags      = uint32(0x400)
	TRUNSampleCTS        = uint32(0x800)
)

// TrackFragRunEntry holds the per-sample fields of a trun; only those enabled by the box flags are encoded.
type TrackFragRunEntry struct {
	Duration uint32
	Size     uint32
	Flags    uint32
	CTS      int32
}

// TrackFragRun is the trun box. DataOffset is relative to the base data offset of the track fragment.
type TrackFragRun struct {
	FullHeader
	DataOffset       int32
	FirstSampleFlags uint32
	Entries          []TrackFragRunEntry
	AtomPos
}

func (t *TrackFragRun) Tag() Tag {
	return TRUN
}

func (t *TrackFragRun) entrySize() (n int) {
	for _, flag := range [...]uint32{TRUNSampleDuration, TRUNSampleSize, TRUNSampleFlags, TRUNSampleCTS} {
		if t.Flags&flag != 0 {
			n += 4
		}
	}
	return
}

func (t *TrackFragRun) body() int {
	n := fullHeaderSize + 4
	if t.Flags&TRUNDataOffset != 0 {
		n += 4
	}
	if t.Flags&TRUNFirstSampleFlags != 0 {
		n += 4
	}
	return n + t.entrySize()*len(t.Entries)
}

func (t *TrackFragRun) Len() int {
	return t.boxLen(t.body())
}

func (t *TrackFragRun) Marshal(w *bitio.Writer) error {
	t.writeHeader(w, TRUN, t.body())
	t.FullHeader.write(w)
	w.U32(uint32(len(t.Entries))) //nolint:gosec
	if t.Flags&TRUNDataOffset != 0 {
		w.I32(t.DataOffset)
	}
	if t.Flags&TRUNFirstSampleFlags != 0 {
		w.U32(t.FirstSampleFlags)
	}
	for _, e := range t.Entries {
		if t.Flags&TRUNSampleDuration != 0 {
			w.U32(e.Duration)
		}
		if t.Flags&TRUNSampleSize != 0 {
			w.U32(e.Size)
		}
		if t.Flags&TRUNSampleFlags != 0 {
			w.U32(e.Flags)
		}
		if t.Flags&TRUNSampleCTS != 0 {
			w.I32(e.CTS)
		}
	}
	return w.Err()
}

func (t *TrackFragRun) Unmarshal(d *Decoder, _ int) error {
	f := d.fields()
	t.FullHeader.read(f)
	count := f.u32()
	if t.Flags&TRUNDataOffset != 0 {
		t.DataOffset = f.i32()
	}
	if t.Flags&TRUNFirstSampleFlags != 0 {
		t.FirstSampleFlags = f.u32()
	}
	size := t.entrySize()
	n := int(count)
	if size > 0 {
		n = f.count(count, size)
	} else if f.err == nil && count > 1<<20 {
		return fmt.Errorf("sample count %d without per-sample fields", count)
	}
	t.Entries = make([]TrackFragRunEntry, n)
	for i := range t.Entries {
		e := &t.Entries[i]
		if t.Flags&TRUNSampleDuration != 0 {
			e.Duration = f.u32()
		}
		if t.Flags&TRUNSampleSize != 0 {
			e.Size = f.u32()
		}
		if t.Flags&TRUNSampleFlags != 0 {
			e.Flags = f.u32()
		}
		if t.Flags&TRUNSampleCTS != 0 {
			e.CTS = f.i32()
		}
	}
	return f.err
}

func (t *TrackFragRun) Children() []Box {
	return nil
}

func (t *TrackFragRun) String() string {
	return fmt.Sprintf("samples=%d data_offset=%d flags=%#x", len(t.Entries), t.DataOffset, t.Flags)
}
