//nolint:errcheck
package mp4io

import (
	"fmt"

	"github.com/ugparu/isom/utils/bits/bitio"
)

const ELST = Tag(0x656c7374)

// EditListEntry maps a span of the movie timeline onto the media. MediaTime -1 is an empty edit.
type EditListEntry struct {
	SegmentDuration   uint64
	MediaTime         int64
	MediaRateInteger  int16
	MediaRateFraction int16
}

// EditList is the elst box.
type EditList struct {
	FullHeader
	Entries []EditListEntry
	AtomPos
}

func (e *EditList) Tag() Tag {
	return ELST
}

func (e *EditList) entrySize() int {
	if e.Version == 1 {
		return 20
	}
	return 12
}

func (e *EditList) body() int {
	return fullHeaderSize + 4 + e.entrySize()*len(e.Entries)
}

func (e *EditList) Len() int {
	return e.boxLen(e.body())
}

func (e *EditList) Marshal(w *bitio.Writer) error {
	e.writeHeader(w, ELST, e.body())
	e.FullHeader.write(w)
	w.U32(uint32(len(e.Entries))) //nolint:gosec
	for _, en := range e.Entries {
		if e.Version == 1 {
			w.U64(en.SegmentDuration)
			w.I64(en.MediaTime)
		} else {
			w.U32(uint32(en.SegmentDuration)) //nolint:gosec
			w.I32(int32(en.MediaTime))        //nolint:gosec
		}
		w.I16(en.MediaRateInteger)
		w.I16(en.MediaRateFraction)
	}
	return w.Err()
}

func (e *EditList) Unmarshal(d *Decoder, _ int) error {
	f := d.fields()
	e.FullHeader.read(f)
	n := f.count(f.u32(), e.entrySize())
	e.Entries = make([]EditListEntry, n)
	for i := range e.Entries {
		if e.Version == 1 {
			e.Entries[i].SegmentDuration = f.u64()
			e.Entries[i].MediaTime = f.i64()
		} else {
			e.Entries[i].SegmentDuration = uint64(f.u32())
			e.Entries[i].MediaTime = int64(f.i32())
		}
		e.Entries[i].MediaRateInteger = f.i16()
		e.Entries[i].MediaRateFraction = f.i16()
	}
	return f.err
}

func (e *EditList) Children() []Box {
	return nil
}

func (e *EditList) String() string {
	return fmt.Sprintf("entries=%d", len(e.Entries))
}
