//nolint:errcheck
package mp4io

import (
	"fmt"
	"strings"

	"github.com/ugparu/isom/utils/bits/bitio"
)

const (
	FTYP = Tag(0x66747970)
	STYP = Tag(0x73747970)
)

// Brands used by the writer.
const (
	BrandISOM = Tag(0x69736f6d)
	BrandISO6 = Tag(0x69736f36)
	BrandMP41 = Tag(0x6d703431)
	BrandMSDH = Tag(0x6d736468)
	BrandMSIX = Tag(0x6d736978)
	BrandLMSG = Tag(0x6c6d7367)
	BrandDASH = Tag(0x64617368)
)

// FileType is an ftyp or styp box.
type FileType struct {
	Type             Tag
	MajorBrand       Tag
	MinorVersion     uint32
	CompatibleBrands []Tag
	AtomPos
}

func newFileType(tag Tag) Box {
	return &FileType{Type: tag}
}

func (t *FileType) Tag() Tag {
	return t.Type
}

func (t *FileType) body() int {
	return 8 + 4*len(t.CompatibleBrands)
}

func (t *FileType) Len() int {
	return t.boxLen(t.body())
}

func (t *FileType) Marshal(w *bitio.Writer) error {
	t.writeHeader(w, t.Type, t.body())
	w.U32(uint32(t.MajorBrand))
	w.U32(t.MinorVersion)
	for _, b := range t.CompatibleBrands {
		w.U32(uint32(b))
	}
	return w.Err()
}

func (t *FileType) Unmarshal(d *Decoder, size int) error {
	f := d.fields()
	t.MajorBrand = f.tag()
	t.MinorVersion = f.u32()
	if f.err == nil && (size-8)%4 != 0 {
		return fmt.Errorf("brand list of %d bytes is not a multiple of 4", size-8)
	}
	n := f.count(uint32(max(size-8, 0)/4), 4) //nolint:gosec
	t.CompatibleBrands = make([]Tag, 0, n)
	for range n {
		t.CompatibleBrands = append(t.CompatibleBrands, f.tag())
	}
	return f.err
}

func (t *FileType) Children() []Box {
	return nil
}

// HasBrand reports whether b is the major brand or one of the compatible brands.
func (t *FileType) HasBrand(b Tag) bool {
	if t.MajorBrand == b {
		return true
	}
	for _, c := range t.CompatibleBrands {
		if c == b {
			return true
		}
	}
	return false
}

func (t *FileType) String() string {
	brands := make([]string, 0, len(t.CompatibleBrands))
	for _, b := range t.CompatibleBrands {
		brands = append(brands, b.String())
	}
	return fmt.Sprintf("major=%s minor=%d compatible=[%s]", t.MajorBrand, t.MinorVersion, strings.Join(brands, ","))
}
