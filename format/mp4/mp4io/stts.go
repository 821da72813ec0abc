//nolint:errcheck
package mp4io

import (
	"fmt"

	"github.com/ugparu/isom/utils/bits/bitio"
)

const STTS = Tag(0x73747473)

type TimeToSampleEntry struct {
	Count    uint32
	Duration uint32
}

const LenTimeToSampleEntry = 8

// TimeToSample is the stts box: run-length encoded sample durations.
type TimeToSample struct {
	FullHeader
	Entries []TimeToSampleEntry
	AtomPos
}

func (s *TimeToSample) Tag() Tag {
	return STTS
}

func (s *TimeToSample) body() int {
	return fullHeaderSize + 4 + LenTimeToSampleEntry*len(s.Entries)
}

func (s *TimeToSample) Len() int {
	return s.boxLen(s.body())
}

func (s *TimeToSample) Marshal(w *bitio.Writer) error {
	s.writeHeader(w, STTS, s.body())
	s.FullHeader.write(w)
	w.U32(uint32(len(s.Entries))) //nolint:gosec
	for _, e := range s.Entries {
		w.U32(e.Count)
		w.U32(e.Duration)
	}
	return w.Err()
}

func (s *TimeToSample) Unmarshal(d *Decoder, _ int) error {
	f := d.fields()
	s.FullHeader.read(f)
	n := f.count(f.u32(), LenTimeToSampleEntry)
	s.Entries = make([]TimeToSampleEntry, n)
	for i := range s.Entries {
		s.Entries[i] = TimeToSampleEntry{Count: f.u32(), Duration: f.u32()}
	}
	return f.err
}

func (s *TimeToSample) Children() []Box {
	return nil
}

// SampleCount returns the number of samples described by the table.
func (s *TimeToSample) SampleCount() (n uint64) {
	for _, e := range s.Entries {
		n += uint64(e.Count)
	}
	return
}

func (s *TimeToSample) String() string {
	return fmt.Sprintf("entries=%d", len(s.Entries))
}
