//nolint:errcheck
package mp4io

import (
	"fmt"

	"github.com/ugparu/isom/utils/bits/bitio"
)

const MFHD = Tag(0x6d666864)

// MovieFragHeader is the mfhd box.
type MovieFragHeader struct {
	FullHeader
	Seqnum uint32
	AtomPos
}

func (m *MovieFragHeader) Tag() Tag {
	return MFHD
}

func (m *MovieFragHeader) Len() int {
	return m.boxLen(fullHeaderSize + 4)
}

func (m *MovieFragHeader) Marshal(w *bitio.Writer) error {
	m.writeHeader(w, MFHD, fullHeaderSize+4)
	m.FullHeader.write(w)
	w.U32(m.Seqnum)
	return w.Err()
}

func (m *MovieFragHeader) Unmarshal(d *Decoder, _ int) error {
	f := d.fields()
	m.FullHeader.read(f)
	m.Seqnum = f.u32()
	return f.err
}

func (m *MovieFragHeader) Children() []Box {
	return nil
}

func (m *MovieFragHeader) String() string {
	return fmt.Sprintf("seq=%d", m.Seqnum)
}
