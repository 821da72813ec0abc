//nolint:errcheck
package mp4io

import (
	"fmt"

	"github.com/ugparu/isom/utils/bits/bitio"
)

const CTTS = Tag(0x63747473)

// CompositionOffsetEntry holds a signed offset; version 0 boxes only carry non-negative values.
type CompositionOffsetEntry struct {
	Count  uint32
	Offset int32
}

const LenCompositionOffsetEntry = 8

// CompositionOffset is the ctts box. Version 1 allows negative offsets.
type CompositionOffset struct {
	FullHeader
	Entries []CompositionOffsetEntry
	AtomPos
}

func (c *CompositionOffset) Tag() Tag {
	return CTTS
}

func (c *CompositionOffset) body() int {
	return fullHeaderSize + 4 + LenCompositionOffsetEntry*len(c.Entries)
}

func (c *CompositionOffset) Len() int {
	return c.boxLen(c.body())
}

func (c *CompositionOffset) Marshal(w *bitio.Writer) error {
	c.writeHeader(w, CTTS, c.body())
	c.FullHeader.write(w)
	w.U32(uint32(len(c.Entries))) //nolint:gosec
	for _, e := range c.Entries {
		w.U32(e.Count)
		w.I32(e.Offset)
	}
	return w.Err()
}

func (c *CompositionOffset) Unmarshal(d *Decoder, _ int) error {
	f := d.fields()
	c.FullHeader.read(f)
	n := f.count(f.u32(), LenCompositionOffsetEntry)
	c.Entries = make([]CompositionOffsetEntry, n)
	for i := range c.Entries {
		c.Entries[i].Count = f.u32()
		c.Entries[i].Offset = f.i32()
	}
	return f.err
}

func (c *CompositionOffset) Children() []Box {
	return nil
}

func (c *CompositionOffset) String() string {
	return fmt.Sprintf("entries=%d", len(c.Entries))
}
