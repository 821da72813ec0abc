//nolint:errcheck
package mp4io

import (
	"fmt"

	"github.com/ugparu/isom/utils/bits/bitio"
)

const SENC = Tag(0x73656e63)

// SencSubsamples marks senc entries that carry a subsample map after the IV.
const SencSubsamples = 0x000002

// SampleEncryption is the senc box. The per-sample entries are kept concatenated in Data;
// their sizes come from the saiz of the same track fragment.
type SampleEncryption struct {
	FullHeader
	SampleCount uint32
	Data        []byte
	AtomPos
}

func (s *SampleEncryption) Tag() Tag {
	return SENC
}

func (s *SampleEncryption) body() int {
	return fullHeaderSize + 4 + len(s.Data)
}

func (s *SampleEncryption) Len() int {
	return s.boxLen(s.body())
}

// DataOffset returns the position of Data relative to the start of the box.
func (s *SampleEncryption) DataOffset() int {
	return s.boxLen(s.body()) - len(s.Data)
}

func (s *SampleEncryption) Marshal(w *bitio.Writer) error {
	s.writeHeader(w, SENC, s.body())
	s.FullHeader.write(w)
	w.U32(s.SampleCount)
	w.Write(s.Data)
	return w.Err()
}

func (s *SampleEncryption) Unmarshal(d *Decoder, _ int) error {
	f := d.fields()
	s.FullHeader.read(f)
	s.SampleCount = f.u32()
	s.Data = f.bytes(f.r.Remaining())
	return f.err
}

func (s *SampleEncryption) Children() []Box {
	return nil
}

func (s *SampleEncryption) String() string {
	return fmt.Sprintf("samples=%d flags=%#x data=%d", s.SampleCount, s.Flags, len(s.Data))
}
