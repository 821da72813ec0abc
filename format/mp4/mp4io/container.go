//nolint:errcheck
package mp4io

import (
	"fmt"

	"github.com/ugparu/isom/utils/bits/bitio"
)

const (
	MOOV = Tag(0x6d6f6f76)
	TRAK = Tag(0x7472616b)
	TREF = Tag(0x74726566)
	EDTS = Tag(0x65647473)
	MDIA = Tag(0x6d646961)
	MINF = Tag(0x6d696e66)
	DINF = Tag(0x64696e66)
	STBL = Tag(0x7374626c)
	MVEX = Tag(0x6d766578)
	MOOF = Tag(0x6d6f6f66)
	TRAF = Tag(0x74726166)
	MFRA = Tag(0x6d667261)
	UDTA = Tag(0x75647461)
	SINF = Tag(0x73696e66)
	SCHI = Tag(0x73636869)
)

// Container is any box whose body is a sequence of boxes. Child order is preserved.
// Terminator keeps the zero word some writers append to udta.
type Container struct {
	Type       Tag
	Boxes      []Box
	Terminator []byte
	AtomPos
}

func newContainer(tag Tag) Box {
	return &Container{Type: tag}
}

func NewContainer(tag Tag, boxes ...Box) *Container {
	return &Container{Type: tag, Boxes: boxes}
}

func (c *Container) Tag() Tag {
	return c.Type
}

func (c *Container) Len() int {
	return c.boxLen(lenAll(c.Boxes) + len(c.Terminator))
}

func (c *Container) Marshal(w *bitio.Writer) error {
	if err := c.writeHeader(w, c.Type, lenAll(c.Boxes)+len(c.Terminator)); err != nil {
		return err
	}
	if err := encodeAll(w, c.Boxes); err != nil {
		return err
	}
	if _, err := w.Write(c.Terminator); err != nil {
		return err
	}
	return nil
}

func (c *Container) Unmarshal(d *Decoder, _ int) (err error) {
	if c.Type != UDTA {
		c.Boxes, err = d.Children()
		return
	}
	for d.R.Remaining() >= HeaderSize {
		var b Box
		if b, err = d.Child(); err != nil {
			return
		}
		c.Boxes = append(c.Boxes, b)
	}
	if n := d.R.Remaining(); n > 0 {
		t, _ := d.R.Bytes(n)
		for _, v := range t {
			if v != 0 {
				return fmt.Errorf("%d trailing bytes in user data", n)
			}
		}
		c.Terminator = append([]byte(nil), t...)
	}
	return
}

func (c *Container) Children() []Box {
	return c.Boxes
}

// Child returns the first direct child with the given tag.
func (c *Container) Child(tag Tag) Box {
	for _, b := range c.Boxes {
		if b.Tag() == tag {
			return b
		}
	}
	return nil
}

// ChildrenOf returns every direct child with the given tag.
func (c *Container) ChildrenOf(tag Tag) (r []Box) {
	for _, b := range c.Boxes {
		if b.Tag() == tag {
			r = append(r, b)
		}
	}
	return
}

func (c *Container) Add(boxes ...Box) {
	c.Boxes = append(c.Boxes, boxes...)
}

// Set replaces the first child with the same tag as b, or appends b.
func (c *Container) Set(b Box) {
	for i, old := range c.Boxes {
		if old.Tag() == b.Tag() {
			c.Boxes[i] = b
			return
		}
	}
	c.Boxes = append(c.Boxes, b)
}

// Remove drops every direct child with the given tag and returns how many were removed.
func (c *Container) Remove(tag Tag) (n int) {
	kept := c.Boxes[:0]
	for _, b := range c.Boxes {
		if b.Tag() == tag {
			n++
			continue
		}
		kept = append(kept, b)
	}
	clear(c.Boxes[len(kept):])
	c.Boxes = kept
	return
}

func (c *Container) String() string {
	return fmt.Sprintf("children=%d", len(c.Boxes))
}
