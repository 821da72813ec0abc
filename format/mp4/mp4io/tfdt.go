//nolint:errcheck
package mp4io

import (
	"fmt"

	"github.com/ugparu/isom/utils/bits/bitio"
)

const TFDT = Tag(0x74666474)

// TrackFragDecodeTime is the tfdt box: the decode time of the first sample in a track fragment.
type TrackFragDecodeTime struct {
	FullHeader
	Time uint64
	AtomPos
}

func (t *TrackFragDecodeTime) Tag() Tag {
	return TFDT
}

func (t *TrackFragDecodeTime) body() int {
	if t.Version == 1 {
		return fullHeaderSize + 8
	}
	return fullHeaderSize + 4
}

func (t *TrackFragDecodeTime) Len() int {
	return t.boxLen(t.body())
}

func (t *TrackFragDecodeTime) Marshal(w *bitio.Writer) error {
	t.writeHeader(w, TFDT, t.body())
	t.FullHeader.write(w)
	if t.Version == 1 {
		w.U64(t.Time)
	} else {
		w.U32(uint32(t.Time)) //nolint:gosec
	}
	return w.Err()
}

func (t *TrackFragDecodeTime) Unmarshal(d *Decoder, _ int) error {
	f := d.fields()
	t.FullHeader.read(f)
	if t.Version == 1 {
		t.Time = f.u64()
	} else {
		t.Time = uint64(f.u32())
	}
	return f.err
}

func (t *TrackFragDecodeTime) Children() []Box {
	return nil
}

func (t *TrackFragDecodeTime) String() string {
	return fmt.Sprintf("time=%d", t.Time)
}
