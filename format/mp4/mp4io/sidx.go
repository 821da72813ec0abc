//nolint:errcheck
package mp4io

import (
	"fmt"

	"github.com/ugparu/isom/utils/bits/bitio"
)

const (
	SIDX          = Tag(0x73696478)
	ReferenceSize = 12
)

// Reference is one entry of a segment index.
type Reference struct {
	ReferenceType      uint8 // 1 when the reference points to another sidx
	ReferencedSize     uint32
	SubsegmentDuration uint32
	StartsWithSAP      bool
	SAPType            uint8
	SAPDeltaTime       uint32
}

// SegmentIndex is the sidx box.
type SegmentIndex struct {
	FullHeader
	ReferenceID uint32
	Timescale   uint32
	EarliestPT  uint64
	FirstOffset uint64
	Reserved    uint16
	Entries     []Reference
	AtomPos
}

func (s *SegmentIndex) Tag() Tag {
	return SIDX
}

func (s *SegmentIndex) body() int {
	n := fullHeaderSize + 8 + 4
	if s.Version == 1 {
		n += 16
	} else {
		n += 8
	}
	return n + ReferenceSize*len(s.Entries)
}

func (s *SegmentIndex) Len() int {
	return s.boxLen(s.body())
}

func (s *SegmentIndex) Marshal(w *bitio.Writer) error {
	s.writeHeader(w, SIDX, s.body())
	s.FullHeader.write(w)
	w.U32(s.ReferenceID)
	w.U32(s.Timescale)
	if s.Version == 1 {
		w.U64(s.EarliestPT)
		w.U64(s.FirstOffset)
	} else {
		w.U32(uint32(s.EarliestPT))  //nolint:gosec
		w.U32(uint32(s.FirstOffset)) //nolint:gosec
	}
	w.U16(s.Reserved)
	w.U16(uint16(len(s.Entries))) //nolint:gosec
	for _, e := range s.Entries {
		w.WriteBits(uint64(e.ReferenceType), 1)
		w.WriteBits(uint64(e.ReferencedSize), 31)
		w.U32(e.SubsegmentDuration)
		w.WriteFlag(e.StartsWithSAP)
		w.WriteBits(uint64(e.SAPType), 3)
		w.WriteBits(uint64(e.SAPDeltaTime), 28)
	}
	return w.Err()
}

func (s *SegmentIndex) Unmarshal(d *Decoder, _ int) error {
	f := d.fields()
	s.FullHeader.read(f)
	s.ReferenceID = f.u32()
	s.Timescale = f.u32()
	if s.Version == 1 {
		s.EarliestPT = f.u64()
		s.FirstOffset = f.u64()
	} else {
		s.EarliestPT = uint64(f.u32())
		s.FirstOffset = uint64(f.u32())
	}
	s.Reserved = f.u16()
	n := f.count(uint32(f.u16()), ReferenceSize)
	s.Entries = make([]Reference, n)
	for i := range s.Entries {
		e := &s.Entries[i]
		e.ReferenceType = uint8(f.bits(1))
		e.ReferencedSize = uint32(f.bits(31)) //nolint:gosec
		e.SubsegmentDuration = f.u32()
		e.StartsWithSAP = f.bits(1) == 1
		e.SAPType = uint8(f.bits(3))
		e.SAPDeltaTime = uint32(f.bits(28)) //nolint:gosec
	}
	return f.err
}

func (s *SegmentIndex) Children() []Box {
	return nil
}

func (s *SegmentIndex) String() string {
	return fmt.Sprintf("reference=%d timescale=%d ept=%d refs=%d", s.ReferenceID, s.Timescale, s.EarliestPT, len(s.Entries))
}
