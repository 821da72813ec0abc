//nolint:errcheck
package mp4io

import (
	"fmt"

	"github.com/ugparu/isom/utils/bits/bitio"
)

const STSZ = Tag(0x7374737a)

// SampleSize is the stsz box. A non-zero SampleSize means every sample has that size
// and Entries is empty.
type SampleSize struct {
	FullHeader
	SampleSize  uint32
	SampleCount uint32
	Entries     []uint32
	AtomPos
}

func (s *SampleSize) Tag() Tag {
	return STSZ
}

func (s *SampleSize) body() int {
	n := fullHeaderSize + 8
	if s.SampleSize == 0 {
		n += 4 * len(s.Entries)
	}
	return n
}

func (s *SampleSize) Len() int {
	return s.boxLen(s.body())
}

func (s *SampleSize) Marshal(w *bitio.Writer) error {
	s.writeHeader(w, STSZ, s.body())
	s.FullHeader.write(w)
	w.U32(s.SampleSize)
	if s.SampleSize != 0 {
		w.U32(s.SampleCount)
		return w.Err()
	}
	w.U32(uint32(len(s.Entries))) //nolint:gosec
	for _, e := range s.Entries {
		w.U32(e)
	}
	return w.Err()
}

func (s *SampleSize) Unmarshal(d *Decoder, _ int) error {
	f := d.fields()
	s.FullHeader.read(f)
	s.SampleSize = f.u32()
	s.SampleCount = f.u32()
	if s.SampleSize != 0 {
		return f.err
	}
	n := f.count(s.SampleCount, 4)
	s.Entries = make([]uint32, n)
	for i := range s.Entries {
		s.Entries[i] = f.u32()
	}
	return f.err
}

func (s *SampleSize) Children() []Box {
	return nil
}

// Count returns the number of samples in the table.
func (s *SampleSize) Count() int {
	if s.SampleSize != 0 {
		return int(s.SampleCount)
	}
	return len(s.Entries)
}

// Size returns the size of the i-th sample, zero-based.
func (s *SampleSize) Size(i int) uint32 {
	if s.SampleSize != 0 {
		return s.SampleSize
	}
	return s.Entries[i]
}

func (s *SampleSize) String() string {
	return fmt.Sprintf("uniform=%d entries=%d", s.SampleSize, s.Count())
}
