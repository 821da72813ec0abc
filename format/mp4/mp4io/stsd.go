//nolint:errcheck
package mp4io

import (
	"fmt"

	"github.com/ugparu/isom/utils/bits/bitio"
)

const STSD = Tag(0x73747364)

// SampleDesc is the stsd box. Entries are sample entries, normally *SampleEntry.
type SampleDesc struct {
	FullHeader
	Entries []Box
	AtomPos
}

func (s *SampleDesc) Tag() Tag {
	return STSD
}

func (s *SampleDesc) body() int {
	return fullHeaderSize + 4 + lenAll(s.Entries)
}

func (s *SampleDesc) Len() int {
	return s.boxLen(s.body())
}

func (s *SampleDesc) Marshal(w *bitio.Writer) error {
	s.writeHeader(w, STSD, s.body())
	s.FullHeader.write(w)
	w.U32(uint32(len(s.Entries))) //nolint:gosec
	if err := w.Err(); err != nil {
		return err
	}
	return encodeAll(w, s.Entries)
}

func (s *SampleDesc) Unmarshal(d *Decoder, _ int) error {
	f := d.fields()
	s.FullHeader.read(f)
	n := f.count(f.u32(), HeaderSize)
	if f.err != nil {
		return f.err
	}
	s.Entries = make([]Box, 0, n)
	for range n {
		b, err := d.Child()
		if err != nil {
			return err
		}
		s.Entries = append(s.Entries, b)
	}
	return nil
}

func (s *SampleDesc) Children() []Box {
	return s.Entries
}

// SampleEntry is one sample description. The format-specific fields and child boxes
// after the data reference index are kept as opaque bytes.
type SampleEntry struct {
	Format       Tag
	Reserved     [6]byte
	DataRefIndex uint16
	Data         []byte
	AtomPos
}

func newSampleEntry(tag Tag) Box {
	return &SampleEntry{Format: tag}
}

func (e *SampleEntry) Tag() Tag {
	return e.Format
}

func (e *SampleEntry) Len() int {
	return e.boxLen(8 + len(e.Data))
}

func (e *SampleEntry) Marshal(w *bitio.Writer) error {
	e.writeHeader(w, e.Format, 8+len(e.Data))
	w.Write(e.Reserved[:])
	w.U16(e.DataRefIndex)
	w.Write(e.Data)
	return w.Err()
}

func (e *SampleEntry) Unmarshal(d *Decoder, _ int) error {
	f := d.fields()
	copy(e.Reserved[:], f.bytes(len(e.Reserved)))
	e.DataRefIndex = f.u16()
	e.Data = f.bytes(d.R.Remaining())
	return f.err
}

func (e *SampleEntry) Children() []Box {
	return nil
}

func (e *SampleEntry) String() string {
	return fmt.Sprintf("format=%s dref=%d config=%d", e.Format, e.DataRefIndex, len(e.Data))
}
