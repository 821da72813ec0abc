//nolint:errcheck
package mp4io

import (
	"fmt"

	"github.com/ugparu/isom/utils/bits/bitio"
)

const HDLR = Tag(0x68646c72)

// HandlerRefer is the hdlr box. Name keeps its terminator, if any, so it re-encodes unchanged.
type HandlerRefer struct {
	FullHeader
	PreDefined  uint32
	HandlerType Tag
	Reserved    [12]byte
	Name        []byte
	AtomPos
}

func (h *HandlerRefer) Tag() Tag {
	return HDLR
}

func (h *HandlerRefer) body() int {
	return fullHeaderSize + 20 + len(h.Name)
}

func (h *HandlerRefer) Len() int {
	return h.boxLen(h.body())
}

func (h *HandlerRefer) Marshal(w *bitio.Writer) error {
	h.writeHeader(w, HDLR, h.body())
	h.FullHeader.write(w)
	w.U32(h.PreDefined)
	w.U32(uint32(h.HandlerType))
	w.Write(h.Reserved[:])
	w.Write(h.Name)
	return w.Err()
}

func (h *HandlerRefer) Unmarshal(d *Decoder, _ int) error {
	f := d.fields()
	h.FullHeader.read(f)
	h.PreDefined = f.u32()
	h.HandlerType = f.tag()
	copy(h.Reserved[:], f.bytes(len(h.Reserved)))
	h.Name = f.bytes(d.R.Remaining())
	return f.err
}

func (h *HandlerRefer) Children() []Box {
	return nil
}

func (h *HandlerRefer) String() string {
	name := h.Name
	if n := len(name); n > 0 && name[n-1] == 0 {
		name = name[:n-1]
	}
	return fmt.Sprintf("handler=%s name=%q", h.HandlerType, name)
}
