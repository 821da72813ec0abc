package mp4io

import (
	"fmt"

	"github.com/ugparu/isom/utils/bits/bitio"
)

// fieldReader keeps the first read error so box bodies can be decoded field by field.
type fieldReader struct {
	r   *bitio.Reader
	err error
}

func (f *fieldReader) u8() (v uint8) {
	if f.err == nil {
		v, f.err = f.r.U8()
	}
	return
}

func (f *fieldReader) u16() (v uint16) {
	if f.err == nil {
		v, f.err = f.r.U16()
	}
	return
}

func (f *fieldReader) i16() (v int16) {
	if f.err == nil {
		v, f.err = f.r.I16()
	}
	return
}

func (f *fieldReader) u24() (v uint32) {
	if f.err == nil {
		v, f.err = f.r.U24()
	}
	return
}

func (f *fieldReader) u32() (v uint32) {
	if f.err == nil {
		v, f.err = f.r.U32()
	}
	return
}

func (f *fieldReader) i32() (v int32) {
	if f.err == nil {
		v, f.err = f.r.I32()
	}
	return
}

func (f *fieldReader) u64() (v uint64) {
	if f.err == nil {
		v, f.err = f.r.U64()
	}
	return
}

func (f *fieldReader) i64() (v int64) {
	if f.err == nil {
		v, f.err = f.r.I64()
	}
	return
}

func (f *fieldReader) tag() Tag {
	return Tag(f.u32())
}

func (f *fieldReader) bits(n int) (v uint64) {
	if f.err == nil {
		v, f.err = f.r.ReadBits(n)
	}
	return
}

// bytes returns a copy of the next n bytes.
func (f *fieldReader) bytes(n int) []byte {
	if f.err != nil {
		return nil
	}
	b, err := f.r.Bytes(n)
	if err != nil {
		f.err = err
		return nil
	}
	return append([]byte(nil), b...)
}

// rest returns the unread bytes without copying.
func (f *fieldReader) rest() []byte {
	if f.err != nil {
		return nil
	}
	b, err := f.r.Bytes(f.r.Remaining())
	f.err = err
	return b
}

func (f *fieldReader) skip(n int) {
	if f.err == nil {
		f.err = f.r.Skip(n)
	}
}

// count validates an entry count against the bytes left in the box before anything is allocated.
func (f *fieldReader) count(n uint32, entrySize int) int {
	if f.err != nil {
		return 0
	}
	if uint64(n)*uint64(entrySize) > uint64(f.r.Remaining()) {
		f.err = fmt.Errorf("%d entries of %d bytes do not fit in %d remaining bytes", n, entrySize, f.r.Remaining())
		return 0
	}
	return int(n)
}
