//nolint:errcheck
package mp4io

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/ugparu/isom/utils/bits/bitio"
)

const (
	MDAT = Tag(0x6d646174)
	FREE = Tag(0x66726565)
	SKIP = Tag(0x736b6970)
	UUID = Tag(0x75756964)
	META = Tag(0x6d657461)
)

// Unknown keeps the body of a box without a registered type. Data aliases the parsed input.
type Unknown struct {
	Type Tag
	Data []byte
	AtomPos
}

func (u *Unknown) Tag() Tag {
	return u.Type
}

func (u *Unknown) Len() int {
	return u.boxLen(len(u.Data))
}

func (u *Unknown) Marshal(w *bitio.Writer) error {
	u.writeHeader(w, u.Type, len(u.Data))
	w.Write(u.Data)
	return w.Err()
}

func (u *Unknown) Unmarshal(d *Decoder, _ int) error {
	f := d.fields()
	u.Data = f.rest()
	return f.err
}

func (u *Unknown) Children() []Box {
	return nil
}

func (u *Unknown) String() string {
	return fmt.Sprintf("opaque=%d", len(u.Data))
}

// MediaData is an mdat box. Data aliases the parsed input.
type MediaData struct {
	Data []byte
	AtomPos
}

func (m *MediaData) Tag() Tag {
	return MDAT
}

func (m *MediaData) Len() int {
	return m.boxLen(len(m.Data))
}

func (m *MediaData) Marshal(w *bitio.Writer) error {
	m.writeHeader(w, MDAT, len(m.Data))
	w.Write(m.Data)
	return w.Err()
}

func (m *MediaData) Unmarshal(d *Decoder, _ int) error {
	f := d.fields()
	m.Data = f.rest()
	return f.err
}

func (m *MediaData) Children() []Box {
	return nil
}

// DataOffset returns the absolute offset of the first payload byte of a parsed mdat.
func (m *MediaData) DataOffset() int64 {
	return m.Offset + int64(m.Size-len(m.Data))
}

func (m *MediaData) String() string {
	return fmt.Sprintf("payload=%d", len(m.Data))
}

// FreeSpace is a free or skip box.
type FreeSpace struct {
	Type Tag
	Data []byte
	AtomPos
}

func NewFreeSpace(size int) *FreeSpace {
	return &FreeSpace{Type: FREE, Data: make([]byte, max(size-HeaderSize, 0))}
}

func (f *FreeSpace) Tag() Tag {
	return f.Type
}

func (f *FreeSpace) Len() int {
	return f.boxLen(len(f.Data))
}

func (f *FreeSpace) Marshal(w *bitio.Writer) error {
	f.writeHeader(w, f.Type, len(f.Data))
	w.Write(f.Data)
	return w.Err()
}

func (f *FreeSpace) Unmarshal(d *Decoder, _ int) error {
	fr := d.fields()
	f.Data = fr.rest()
	return fr.err
}

func (f *FreeSpace) Children() []Box {
	return nil
}

// Well-known extended types.
var (
	PIFFProtectionSystemHeader = uuid.MustParse("d08a4f18-10f3-4a82-b6c8-32d8aba183d3")
	PIFFTrackEncryption        = uuid.MustParse("8974dbce-7be7-4c51-84f9-7148f9882554")
	PIFFSampleEncryption       = uuid.MustParse("a2394f52-5a9b-4f14-a244-6c427c648df4")
)

var userTypeNames = map[uuid.UUID]string{
	PIFFProtectionSystemHeader: "piff-pssh",
	PIFFTrackEncryption:        "piff-tenc",
	PIFFSampleEncryption:       "piff-senc",
}

// UserTypeBox is a uuid box: a 16-byte extended type followed by opaque data.
type UserTypeBox struct {
	UserType uuid.UUID
	Data     []byte
	AtomPos
}

func (u *UserTypeBox) Tag() Tag {
	return UUID
}

func (u *UserTypeBox) Len() int {
	return u.boxLen(len(u.UserType) + len(u.Data))
}

func (u *UserTypeBox) Marshal(w *bitio.Writer) error {
	u.writeHeader(w, UUID, len(u.UserType)+len(u.Data))
	w.Write(u.UserType[:])
	w.Write(u.Data)
	return w.Err()
}

func (u *UserTypeBox) Unmarshal(d *Decoder, _ int) error {
	f := d.fields()
	copy(u.UserType[:], f.bytes(len(u.UserType)))
	u.Data = f.rest()
	return f.err
}

func (u *UserTypeBox) Children() []Box {
	return nil
}

// Name returns the registered name of the extended type, or its textual form.
func (u *UserTypeBox) Name() string {
	if name, ok := userTypeNames[u.UserType]; ok {
		return name
	}
	return u.UserType.String()
}

func (u *UserTypeBox) String() string {
	return fmt.Sprintf("usertype=%s opaque=%d", u.Name(), len(u.Data))
}
