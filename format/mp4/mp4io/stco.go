//nolint:errcheck
package mp4io

import (
	"fmt"

	"github.com/ugparu/isom/utils/bits/bitio"
)

const (
	STCO = Tag(0x7374636f)
	CO64 = Tag(0x636f3634)
)

// ChunkOffset is an stco or co64 box. Type selects the 32 or 64-bit encoding.
type ChunkOffset struct {
	Type Tag
	FullHeader
	Entries []uint64
	AtomPos
}

func newChunkOffset(tag Tag) Box {
	return &ChunkOffset{Type: tag}
}

func (c *ChunkOffset) Tag() Tag {
	return c.Type
}

func (c *ChunkOffset) entrySize() int {
	if c.Type == CO64 {
		return 8
	}
	return 4
}

func (c *ChunkOffset) body() int {
	return fullHeaderSize + 4 + c.entrySize()*len(c.Entries)
}

func (c *ChunkOffset) Len() int {
	return c.boxLen(c.body())
}

func (c *ChunkOffset) Marshal(w *bitio.Writer) error {
	c.writeHeader(w, c.Type, c.body())
	c.FullHeader.write(w)
	w.U32(uint32(len(c.Entries))) //nolint:gosec
	for _, e := range c.Entries {
		if c.Type == CO64 {
			w.U64(e)
		} else {
			w.U32(uint32(e)) //nolint:gosec
		}
	}
	return w.Err()
}

func (c *ChunkOffset) Unmarshal(d *Decoder, _ int) error {
	f := d.fields()
	c.FullHeader.read(f)
	n := f.count(f.u32(), c.entrySize())
	c.Entries = make([]uint64, n)
	for i := range c.Entries {
		if c.Type == CO64 {
			c.Entries[i] = f.u64()
		} else {
			c.Entries[i] = uint64(f.u32())
		}
	}
	return f.err
}

func (c *ChunkOffset) Children() []Box {
	return nil
}

func (c *ChunkOffset) String() string {
	return fmt.Sprintf("entries=%d", len(c.Entries))
}
