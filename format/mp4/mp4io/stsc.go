//nolint:errcheck
package mp4io

import (
	"fmt"

	"github.com/ugparu/isom/utils/bits/bitio"
)

const STSC = Tag(0x73747363)

type SampleToChunkEntry struct {
	FirstChunk      uint32
	SamplesPerChunk uint32
	SampleDescID    uint32
}

const LenSampleToChunkEntry = 12

// SampleToChunk is the stsc box.
type SampleToChunk struct {
	FullHeader
	Entries []SampleToChunkEntry
	AtomPos
}

func (s *SampleToChunk) Tag() Tag {
	return STSC
}

func (s *SampleToChunk) body() int {
	return fullHeaderSize + 4 + LenSampleToChunkEntry*len(s.Entries)
}

func (s *SampleToChunk) Len() int {
	return s.boxLen(s.body())
}

func (s *SampleToChunk) Marshal(w *bitio.Writer) error {
	s.writeHeader(w, STSC, s.body())
	s.FullHeader.write(w)
	w.U32(uint32(len(s.Entries))) //nolint:gosec
	for _, e := range s.Entries {
		w.U32(e.FirstChunk)
		w.U32(e.SamplesPerChunk)
		w.U32(e.SampleDescID)
	}
	return w.Err()
}

func (s *SampleToChunk) Unmarshal(d *Decoder, _ int) error {
	f := d.fields()
	s.FullHeader.read(f)
	n := f.count(f.u32(), LenSampleToChunkEntry)
	s.Entries = make([]SampleToChunkEntry, n)
	for i := range s.Entries {
		s.Entries[i] = SampleToChunkEntry{FirstChunk: f.u32(), SamplesPerChunk: f.u32(), SampleDescID: f.u32()}
	}
	return f.err
}

func (s *SampleToChunk) Children() []Box {
	return nil
}

func (s *SampleToChunk) String() string {
	return fmt.Sprintf("entries=%d", len(s.Entries))
}
