//nolint:errcheck
package mp4io

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/ugparu/isom/utils/bits/bitio"
)

const PSSH = Tag(0x70737368)

// ProtectionSystemHeader is the pssh box. KeyIDs are only encoded by version 1 boxes.
type ProtectionSystemHeader struct {
	FullHeader
	SystemID uuid.UUID
	KeyIDs   []uuid.UUID
	Data     []byte
	AtomPos
}

func (p *ProtectionSystemHeader) Tag() Tag {
	return PSSH
}

func (p *ProtectionSystemHeader) body() int {
	n := fullHeaderSize + 16 + 4 + len(p.Data)
	if p.Version > 0 {
		n += 4 + 16*len(p.KeyIDs)
	}
	return n
}

func (p *ProtectionSystemHeader) Len() int {
	return p.boxLen(p.body())
}

func (p *ProtectionSystemHeader) Marshal(w *bitio.Writer) error {
	p.writeHeader(w, PSSH, p.body())
	p.FullHeader.write(w)
	w.Write(p.SystemID[:])
	if p.Version > 0 {
		w.U32(uint32(len(p.KeyIDs))) //nolint:gosec
		for _, kid := range p.KeyIDs {
			w.Write(kid[:])
		}
	}
	w.U32(uint32(len(p.Data))) //nolint:gosec
	w.Write(p.Data)
	return w.Err()
}

func (p *ProtectionSystemHeader) Unmarshal(d *Decoder, _ int) error {
	f := d.fields()
	p.FullHeader.read(f)
	copy(p.SystemID[:], f.bytes(16))
	if p.Version > 0 {
		n := f.count(f.u32(), 16)
		p.KeyIDs = make([]uuid.UUID, n)
		for i := range p.KeyIDs {
			copy(p.KeyIDs[i][:], f.bytes(16))
		}
	}
	n := f.count(f.u32(), 1)
	p.Data = f.bytes(n)
	return f.err
}

func (p *ProtectionSystemHeader) Children() []Box {
	return nil
}

func (p *ProtectionSystemHeader) String() string {
	return fmt.Sprintf("system=%s kids=%d data=%d", p.SystemID, len(p.KeyIDs), len(p.Data))
}
