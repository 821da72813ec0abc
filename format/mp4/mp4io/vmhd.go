//nolint:errcheck
package mp4io

import (
	"github.com/ugparu/isom/utils/bits/bitio"
)

const (
	VMHD = Tag(0x766d6864)
	SMHD = Tag(0x736d6864)
	NMHD = Tag(0x6e6d6864)
)

// VideoMediaInfo is the vmhd box.
type VideoMediaInfo struct {
	FullHeader
	GraphicsMode uint16
	Opcolor      [3]uint16
	AtomPos
}

func (v *VideoMediaInfo) Tag() Tag {
	return VMHD
}

func (v *VideoMediaInfo) Len() int {
	return v.boxLen(fullHeaderSize + 8)
}

func (v *VideoMediaInfo) Marshal(w *bitio.Writer) error {
	v.writeHeader(w, VMHD, fullHeaderSize+8)
	v.FullHeader.write(w)
	w.U16(v.GraphicsMode)
	for _, c := range v.Opcolor {
		w.U16(c)
	}
	return w.Err()
}

func (v *VideoMediaInfo) Unmarshal(d *Decoder, _ int) error {
	f := d.fields()
	v.FullHeader.read(f)
	v.GraphicsMode = f.u16()
	for i := range v.Opcolor {
		v.Opcolor[i] = f.u16()
	}
	return f.err
}

func (v *VideoMediaInfo) Children() []Box {
	return nil
}

// SoundMediaInfo is the smhd box.
type SoundMediaInfo struct {
	FullHeader
	Balance  int16
	Reserved uint16
	AtomPos
}

func (s *SoundMediaInfo) Tag() Tag {
	return SMHD
}

func (s *SoundMediaInfo) Len() int {
	return s.boxLen(fullHeaderSize + 4)
}

func (s *SoundMediaInfo) Marshal(w *bitio.Writer) error {
	s.writeHeader(w, SMHD, fullHeaderSize+4)
	s.FullHeader.write(w)
	w.I16(s.Balance)
	w.U16(s.Reserved)
	return w.Err()
}

func (s *SoundMediaInfo) Unmarshal(d *Decoder, _ int) error {
	f := d.fields()
	s.FullHeader.read(f)
	s.Balance = f.i16()
	s.Reserved = f.u16()
	return f.err
}

func (s *SoundMediaInfo) Children() []Box {
	return nil
}

// NullMediaInfo is the nmhd box used by tracks that are neither audio nor video.
type NullMediaInfo struct {
	FullHeader
	AtomPos
}

func (n *NullMediaInfo) Tag() Tag {
	return NMHD
}

func (n *NullMediaInfo) Len() int {
	return n.boxLen(fullHeaderSize)
}

func (n *NullMediaInfo) Marshal(w *bitio.Writer) error {
	n.writeHeader(w, NMHD, fullHeaderSize)
	n.FullHeader.write(w)
	return w.Err()
}

func (n *NullMediaInfo) Unmarshal(d *Decoder, _ int) error {
	f := d.fields()
	n.FullHeader.read(f)
	return f.err
}

func (n *NullMediaInfo) Children() []Box {
	return nil
}
