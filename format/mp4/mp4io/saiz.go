//nolint:errcheck
package mp4io

import (
	"fmt"

	"github.com/ugparu/isom/utils/bits/bitio"
)

const (
	SAIZ = Tag(0x7361697a)
	SAIO = Tag(0x7361696f)
)

// AuxInfoTypePresent is the saiz/saio flag announcing aux_info_type and its parameter.
const AuxInfoTypePresent = 0x000001

// AuxInfoType names the kind of sample auxiliary information described by saiz and saio.
type AuxInfoType struct {
	Type      Tag
	Parameter uint32
}

func (a *AuxInfoType) len(h FullHeader) int {
	if h.Flags&AuxInfoTypePresent != 0 {
		return 8
	}
	return 0
}

func (a *AuxInfoType) write(w *bitio.Writer, h FullHeader) {
	if h.Flags&AuxInfoTypePresent != 0 {
		w.U32(uint32(a.Type))
		w.U32(a.Parameter)
	}
}

func (a *AuxInfoType) read(f *fieldReader, h FullHeader) {
	if h.Flags&AuxInfoTypePresent != 0 {
		a.Type = f.tag()
		a.Parameter = f.u32()
	}
}

// SampleAuxInfoSizes is the saiz box. Sizes is only used when DefaultSize is zero.
type SampleAuxInfoSizes struct {
	FullHeader
	AuxInfoType
	DefaultSize uint8
	SampleCount uint32
	Sizes       []uint8
	AtomPos
}

func (s *SampleAuxInfoSizes) Tag() Tag {
	return SAIZ
}

func (s *SampleAuxInfoSizes) body() int {
	n := fullHeaderSize + s.AuxInfoType.len(s.FullHeader) + 1 + 4
	if s.DefaultSize == 0 {
		n += len(s.Sizes)
	}
	return n
}

func (s *SampleAuxInfoSizes) Len() int {
	return s.boxLen(s.body())
}

// Size returns the aux info size of the i-th sample, 0-based.
func (s *SampleAuxInfoSizes) Size(i int) int {
	if s.DefaultSize != 0 {
		return int(s.DefaultSize)
	}
	if i < len(s.Sizes) {
		return int(s.Sizes[i])
	}
	return 0
}

func (s *SampleAuxInfoSizes) Marshal(w *bitio.Writer) error {
	s.writeHeader(w, SAIZ, s.body())
	s.FullHeader.write(w)
	s.AuxInfoType.write(w, s.FullHeader)
	w.U8(s.DefaultSize)
	if s.DefaultSize == 0 {
		w.U32(uint32(len(s.Sizes))) //nolint:gosec
		w.Write(s.Sizes)
	} else {
		w.U32(s.SampleCount)
	}
	return w.Err()
}

func (s *SampleAuxInfoSizes) Unmarshal(d *Decoder, _ int) error {
	f := d.fields()
	s.FullHeader.read(f)
	s.AuxInfoType.read(f, s.FullHeader)
	s.DefaultSize = f.u8()
	s.SampleCount = f.u32()
	if s.DefaultSize == 0 {
		s.Sizes = f.bytes(f.count(s.SampleCount, 1))
	}
	return f.err
}

func (s *SampleAuxInfoSizes) Children() []Box {
	return nil
}

func (s *SampleAuxInfoSizes) String() string {
	return fmt.Sprintf("samples=%d default=%d", s.SampleCount, s.DefaultSize)
}

// SampleAuxInfoOffsets is the saio box. Offsets are relative to the base data offset of
// the enclosing track fragment; version 1 stores them in 64 bits.
type SampleAuxInfoOffsets struct {
	FullHeader
	AuxInfoType
	Offsets []uint64
	AtomPos
}

func (s *SampleAuxInfoOffsets) Tag() Tag {
	return SAIO
}

func (s *SampleAuxInfoOffsets) body() int {
	entry := 4
	if s.Version == 1 {
		entry = 8
	}
	return fullHeaderSize + s.AuxInfoType.len(s.FullHeader) + 4 + entry*len(s.Offsets)
}

func (s *SampleAuxInfoOffsets) Len() int {
	return s.boxLen(s.body())
}

func (s *SampleAuxInfoOffsets) Marshal(w *bitio.Writer) error {
	s.writeHeader(w, SAIO, s.body())
	s.FullHeader.write(w)
	s.AuxInfoType.write(w, s.FullHeader)
	w.U32(uint32(len(s.Offsets))) //nolint:gosec
	for _, off := range s.Offsets {
		if s.Version == 1 {
			w.U64(off)
		} else {
			w.U32(uint32(off)) //nolint:gosec
		}
	}
	return w.Err()
}

func (s *SampleAuxInfoOffsets) Unmarshal(d *Decoder, _ int) error {
	f := d.fields()
	s.FullHeader.read(f)
	s.AuxInfoType.read(f, s.FullHeader)
	entry := 4
	if s.Version == 1 {
		entry = 8
	}
	s.Offsets = make([]uint64, f.count(f.u32(), entry))
	for i := range s.Offsets {
		if s.Version == 1 {
			s.Offsets[i] = f.u64()
		} else {
			s.Offsets[i] = uint64(f.u32())
		}
	}
	return f.err
}

func (s *SampleAuxInfoOffsets) Children() []Box {
	return nil
}

func (s *SampleAuxInfoOffsets) String() string {
	return fmt.Sprintf("offsets=%v", s.Offsets)
}
