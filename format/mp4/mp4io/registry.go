package mp4io

import (
	"errors"
	"fmt"

	"github.com/deepch/vdk/utils/bits/pio"
	"github.com/ugparu/isom/utils"
	"github.com/ugparu/isom/utils/bits/bitio"
	"github.com/ugparu/isom/utils/logger"
)

// Header is a decoded box header. Size is the total declared size; zero means
// the box extends to the end of the enclosing data.
type Header struct {
	Type   Tag
	Size   uint64
	HdrLen int
	Large  bool
}

// ParseHeader decodes the header at the start of b without requiring the body.
func ParseHeader(b []byte) (h Header, err error) {
	if len(b) < HeaderSize {
		return h, &utils.IncompleteInputError{Missing: uint64(HeaderSize - len(b))}
	}
	h.Size = uint64(pio.U32BE(b))
	h.Type = Tag(pio.U32BE(b[4:]))
	h.HdrLen = HeaderSize
	if h.Size == 1 {
		if len(b) < LargeHeaderSize {
			return h, &utils.IncompleteInputError{Missing: uint64(LargeHeaderSize - len(b))}
		}
		h.Size = pio.U64BE(b[8:])
		h.HdrLen = LargeHeaderSize
		h.Large = true
	}
	if h.Size != 0 && h.Size < uint64(h.HdrLen) {
		return h, &utils.MalformedBoxError{
			Path:   []string{h.Type.String()},
			Reason: fmt.Sprintf("declared size %d is smaller than its header", h.Size),
		}
	}
	return h, nil
}

// Factory allocates an empty box for a type.
type Factory func(tag Tag) Box

// Registry maps box types to factories. Types without a factory decode as *Unknown.
type Registry struct {
	factories map[Tag]Factory
	children  map[Tag]Factory
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[Tag]Factory),
		children:  make(map[Tag]Factory),
	}
}

// Register installs the factory for a box type, replacing any previous one.
func (reg *Registry) Register(tag Tag, f Factory) {
	reg.factories[tag] = f
}

// RegisterContainer makes each tag decode as a *Container.
func (reg *Registry) RegisterContainer(tags ...Tag) {
	for _, tag := range tags {
		reg.factories[tag] = newContainer
	}
}

// RegisterChildren installs a factory used for every direct child of parent, whatever its type.
func (reg *Registry) RegisterChildren(parent Tag, f Factory) {
	reg.children[parent] = f
}

func (reg *Registry) String() string {
	return "mp4io.Registry"
}

func (reg *Registry) alloc(tag Tag, path []Tag) Box {
	if len(path) > 0 {
		if f, ok := reg.children[path[len(path)-1]]; ok {
			return f(tag)
		}
	}
	if f, ok := reg.factories[tag]; ok {
		return f(tag)
	}
	return &Unknown{Type: tag}
}

// Parse decodes one box from r. If r does not hold the whole box, it returns
// *utils.IncompleteInputError and consumes nothing.
func (reg *Registry) Parse(r *bitio.Reader) (Box, error) {
	return reg.parse(r, nil)
}

// ParseAll decodes consecutive boxes until r is exhausted.
func (reg *Registry) ParseAll(r *bitio.Reader) (boxes []Box, err error) {
	for r.Remaining() > 0 {
		var b Box
		if b, err = reg.Parse(r); err != nil {
			return
		}
		boxes = append(boxes, b)
	}
	return
}

func (reg *Registry) parse(r *bitio.Reader, path []Tag) (Box, error) {
	start := r.Pos()
	avail := r.Remaining()
	peek, _ := r.Peek(min(avail, LargeHeaderSize))
	h, err := ParseHeader(peek)
	if err != nil {
		var mb *utils.MalformedBoxError
		if errors.As(err, &mb) {
			mb.Offset = start
			return nil, err
		}
		if len(path) > 0 {
			return nil, &utils.MalformedBoxError{Offset: start, Reason: fmt.Sprintf("%d trailing bytes", avail)}
		}
		return nil, err
	}
	size := h.Size
	if size == 0 {
		size = uint64(avail)
	}
	if size > uint64(avail) {
		if len(path) > 0 {
			return nil, &utils.MalformedBoxError{
				Path:   []string{h.Type.String()},
				Offset: start,
				Reason: fmt.Sprintf("declared size %d exceeds the %d bytes left in its parent", size, avail),
			}
		}
		return nil, &utils.IncompleteInputError{Missing: size - uint64(avail)}
	}

	r.Skip(h.HdrLen) //nolint:errcheck
	bodyLen := int(size) - h.HdrLen
	body, _ := r.Sub(bodyLen)

	box := reg.alloc(h.Type, path)
	d := &Decoder{
		R:    body,
		reg:  reg,
		path: append(path[:len(path):len(path)], h.Type),
	}
	if err = box.Unmarshal(d, bodyLen); err != nil {
		return nil, wrapErr(err, h.Type, start)
	}
	if rest := body.Remaining(); rest != 0 {
		return nil, &utils.MalformedBoxError{
			Path:   []string{h.Type.String()},
			Offset: start,
			Reason: fmt.Sprintf("%d bytes left unparsed", rest),
		}
	}
	if p, ok := box.(positioner); ok {
		p.setPos(start, int(size), h.Large)
	}
	logger.Tracef(reg, "%s offset=%d size=%d", h.Type, start, size)
	return box, nil
}

func wrapErr(err error, tag Tag, offset int64) error {
	var mb *utils.MalformedBoxError
	if errors.As(err, &mb) {
		mb.Path = append([]string{tag.String()}, mb.Path...)
		return mb
	}
	if _, ok := utils.IsIncomplete(err); ok {
		return &utils.MalformedBoxError{Path: []string{tag.String()}, Offset: offset, Reason: "body truncated", Err: err}
	}
	return &utils.MalformedBoxError{Path: []string{tag.String()}, Offset: offset, Err: err}
}

// Decoder gives a box access to its body and to the registry for nested boxes.
type Decoder struct {
	R    *bitio.Reader
	reg  *Registry
	path []Tag
}

// Path returns the types from the outermost box down to the one being decoded.
func (d *Decoder) Path() []Tag {
	return d.path
}

func (d *Decoder) Registry() *Registry {
	return d.reg
}

func (d *Decoder) fields() *fieldReader {
	return &fieldReader{r: d.R}
}

// Child decodes one nested box.
func (d *Decoder) Child() (Box, error) {
	return d.reg.parse(d.R, d.path)
}

// Children decodes nested boxes until the body is exhausted.
func (d *Decoder) Children() (boxes []Box, err error) {
	for d.R.Remaining() > 0 {
		var b Box
		if b, err = d.Child(); err != nil {
			return
		}
		boxes = append(boxes, b)
	}
	return
}
