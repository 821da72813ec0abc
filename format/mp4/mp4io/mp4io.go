//nolint:errcheck
// Package mp4io is the ISO base media file format box model: typed boxes for the
// movie and fragment structure, opaque preservation of everything else, and a
// registry that maps four-character codes to box implementations.
package mp4io

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/deepch/vdk/utils/bits/pio"
	"github.com/ugparu/isom/utils"
	"github.com/ugparu/isom/utils/bits/bitio"
)

// Sample flag bits as carried by trex, tfhd and trun.
const (
	SampleIsNonSync       uint32 = 0x00010000
	SampleHasDependencies uint32 = 0x01000000
	SampleNoDependencies  uint32 = 0x02000000

	SampleNonKeyframe = SampleHasDependencies | SampleIsNonSync

	HeaderSize      = 8
	LargeHeaderSize = 16
)

var epoch1904 = time.Date(1904, time.January, 1, 0, 0, 0, 0, time.UTC)

// TimeFromMp4 converts seconds since 1904 to a time.
func TimeFromMp4(sec uint64) time.Time {
	return epoch1904.Add(time.Second * time.Duration(sec)) //nolint:gosec
}

// TimeToMp4 converts a time to seconds since 1904. Times before 1904 map to zero.
func TimeToMp4(t time.Time) uint64 {
	if t.Before(epoch1904) {
		return 0
	}
	return uint64(t.Sub(epoch1904) / time.Second)
}

// Tag is a four-character box or brand code.
type Tag uint32

func (t Tag) String() string {
	var b [4]byte
	pio.PutU32BE(b[:], uint32(t))
	for i := range 4 {
		if b[i] == 0 {
			b[i] = ' '
		}
	}
	return string(b[:])
}

func StringToTag(tag string) Tag {
	var b [4]byte
	copy(b[:], tag)
	return Tag(pio.U32BE(b[:]))
}

// Box is implemented by every box. Len must equal the number of bytes Marshal writes,
// header included. Unmarshal receives a decoder limited to the box body.
type Box interface {
	Tag() Tag
	Pos() (int64, int)
	Len() int
	Marshal(w *bitio.Writer) error
	Unmarshal(d *Decoder, size int) error
	Children() []Box
}

type positioner interface {
	setPos(offset int64, size int, large bool)
}

// AtomPos records where a parsed box was found and whether it used the 64-bit size form.
type AtomPos struct {
	Offset int64
	Size   int
	Large  bool
}

func (p AtomPos) Pos() (int64, int) {
	return p.Offset, p.Size
}

func (p *AtomPos) setPos(offset int64, size int, large bool) {
	p.Offset, p.Size, p.Large = offset, size, large
}

func (p AtomPos) large(body int) bool {
	return p.Large || uint64(body)+HeaderSize > math.MaxUint32
}

func (p AtomPos) boxLen(body int) int {
	if p.large(body) {
		return LargeHeaderSize + body
	}
	return HeaderSize + body
}

func (p AtomPos) writeHeader(w *bitio.Writer, tag Tag, body int) error {
	if p.large(body) {
		w.U32(1)
		w.U32(uint32(tag))
		w.U64(uint64(LargeHeaderSize + body))
		return w.Err()
	}
	w.U32(uint32(HeaderSize + body)) //nolint:gosec
	w.U32(uint32(tag))
	return w.Err()
}

// FullHeader is the version and flags prefix of a full box.
type FullHeader struct {
	Version uint8
	Flags   uint32
}

const fullHeaderSize = 4

func (h FullHeader) write(w *bitio.Writer) {
	w.U8(h.Version)
	w.U24(h.Flags)
}

func (h *FullHeader) read(f *fieldReader) {
	h.Version = f.u8()
	h.Flags = f.u24()
}

// Encode marshals b and verifies that exactly b.Len() bytes were written.
func Encode(w *bitio.Writer, b Box) error {
	start := w.Pos()
	size := b.Len()
	if err := b.Marshal(w); err != nil {
		return err
	}
	if n := w.Pos() - start; n != int64(size) {
		return &utils.MalformedBoxError{
			Path:   []string{b.Tag().String()},
			Offset: start,
			Reason: fmt.Sprintf("serialized %d bytes, computed size %d", n, size),
		}
	}
	return nil
}

// Marshal encodes b into a new byte slice.
func Marshal(b Box) ([]byte, error) {
	sink := new(bitio.MemorySink)
	if err := Encode(bitio.NewWriter(sink), b); err != nil {
		return nil, err
	}
	return sink.Bytes(), nil
}

func encodeAll(w *bitio.Writer, boxes []Box) error {
	for _, b := range boxes {
		if err := Encode(w, b); err != nil {
			return err
		}
	}
	return nil
}

func lenAll(boxes []Box) (n int) {
	for _, b := range boxes {
		n += b.Len()
	}
	return
}

func FindChildrenByName(root Box, tag string) Box {
	return FindChildren(root, StringToTag(tag))
}

// FindChildren returns the first box with the given tag in depth-first order, root included.
func FindChildren(root Box, tag Tag) Box {
	if root.Tag() == tag {
		return root
	}
	for _, child := range root.Children() {
		if r := FindChildren(child, tag); r != nil {
			return r
		}
	}
	return nil
}

// FindPath follows a chain of direct children, e.g. FindPath(moov, TRAK, MDIA, MDHD).
func FindPath(root Box, tags ...Tag) Box {
	cur := root
	for _, tag := range tags {
		var next Box
		for _, child := range cur.Children() {
			if child.Tag() == tag {
				next = child
				break
			}
		}
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}

func printatom(out io.Writer, root Box, depth int) {
	offset, size := root.Pos()

	type stringintf interface {
		String() string
	}

	fmt.Fprintf(out,
		"%s%s offset=%d size=%d",
		strings.Repeat(" ", depth*2), root.Tag(), offset, size,
	)
	if str, ok := root.(stringintf); ok {
		fmt.Fprint(out, " ", str.String())
	}
	fmt.Fprintln(out)

	for _, child := range root.Children() {
		printatom(out, child, depth+1)
	}
}

func FprintAtom(out io.Writer, root Box) {
	printatom(out, root, 0)
}

func PrintAtom(root Box) {
	FprintAtom(os.Stdout, root)
}
