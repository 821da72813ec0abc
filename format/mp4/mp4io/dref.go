//nolint:errcheck
package mp4io

import (
	"fmt"

	"github.com/ugparu/isom/utils/bits/bitio"
)

const (
	DREF = Tag(0x64726566)
	URL  = Tag(0x75726c20)
)

// DataReferSelfContained marks a url entry whose media is in the same file.
const DataReferSelfContained uint32 = 0x000001

// DataRefer is the dref box. Entries are url or urn boxes.
type DataRefer struct {
	FullHeader
	Entries []Box
	AtomPos
}

// NewSelfContainedDataRefer returns a dref with a single self-contained url entry.
func NewSelfContainedDataRefer() *DataRefer {
	return &DataRefer{Entries: []Box{&DataReferUrl{FullHeader: FullHeader{Flags: DataReferSelfContained}}}}
}

func (d *DataRefer) Tag() Tag {
	return DREF
}

func (d *DataRefer) body() int {
	return fullHeaderSize + 4 + lenAll(d.Entries)
}

func (d *DataRefer) Len() int {
	return d.boxLen(d.body())
}

func (d *DataRefer) Marshal(w *bitio.Writer) error {
	d.writeHeader(w, DREF, d.body())
	d.FullHeader.write(w)
	w.U32(uint32(len(d.Entries))) //nolint:gosec
	if err := w.Err(); err != nil {
		return err
	}
	return encodeAll(w, d.Entries)
}

func (d *DataRefer) Unmarshal(dec *Decoder, _ int) error {
	f := dec.fields()
	d.FullHeader.read(f)
	n := f.count(f.u32(), HeaderSize)
	if f.err != nil {
		return f.err
	}
	d.Entries = make([]Box, 0, n)
	for range n {
		b, err := dec.Child()
		if err != nil {
			return err
		}
		d.Entries = append(d.Entries, b)
	}
	return nil
}

func (d *DataRefer) Children() []Box {
	return d.Entries
}

// DataReferUrl is a url entry of a dref box.
type DataReferUrl struct {
	FullHeader
	Location []byte
	AtomPos
}

func (u *DataReferUrl) Tag() Tag {
	return URL
}

func (u *DataReferUrl) Len() int {
	return u.boxLen(fullHeaderSize + len(u.Location))
}

func (u *DataReferUrl) Marshal(w *bitio.Writer) error {
	u.writeHeader(w, URL, fullHeaderSize+len(u.Location))
	u.FullHeader.write(w)
	w.Write(u.Location)
	return w.Err()
}

func (u *DataReferUrl) Unmarshal(d *Decoder, _ int) error {
	f := d.fields()
	u.FullHeader.read(f)
	u.Location = f.bytes(d.R.Remaining())
	return f.err
}

func (u *DataReferUrl) Children() []Box {
	return nil
}

func (u *DataReferUrl) String() string {
	return fmt.Sprintf("self_contained=%t", u.Flags&DataReferSelfContained != 0)
}
