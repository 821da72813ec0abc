//nolint:errcheck
package mp4io

import (
	"fmt"

	"github.com/ugparu/isom/utils/bits/bitio"
)

const STSS = Tag(0x73747373)

// SyncSample is the stss box: 1-based numbers of the sync samples.
type SyncSample struct {
	FullHeader
	Entries []uint32
	AtomPos
}

func (s *SyncSample) Tag() Tag {
	return STSS
}

func (s *SyncSample) body() int {
	return fullHeaderSize + 4 + 4*len(s.Entries)
}

func (s *SyncSample) Len() int {
	return s.boxLen(s.body())
}

func (s *SyncSample) Marshal(w *bitio.Writer) error {
	s.writeHeader(w, STSS, s.body())
	s.FullHeader.write(w)
	w.U32(uint32(len(s.Entries))) //nolint:gosec
	for _, e := range s.Entries {
		w.U32(e)
	}
	return w.Err()
}

func (s *SyncSample) Unmarshal(d *Decoder, _ int) error {
	f := d.fields()
	s.FullHeader.read(f)
	n := f.count(f.u32(), 4)
	s.Entries = make([]uint32, n)
	for i := range s.Entries {
		s.Entries[i] = f.u32()
	}
	return f.err
}

func (s *SyncSample) Children() []Box {
	return nil
}

func (s *SyncSample) String() string {
	return fmt.Sprintf("entries=%d", len(s.Entries))
}
