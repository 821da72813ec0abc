// Package bitio implements MSB-first bit and big-endian byte access over in-memory input
// and over streaming output sinks that accept deferred patches.
package bitio

import (
	"errors"

	"github.com/deepch/vdk/utils/bits/pio"
	"github.com/ugparu/isom/utils"
)

var (
	errUnaligned = errors.New("bitio: byte access at unaligned bit position")
	errBitCount  = errors.New("bitio: bit count out of range")
)

// Reader reads from a byte slice whose first byte sits at absolute offset base.
// Reads that run past the end fail with *utils.IncompleteInputError and consume nothing.
type Reader struct {
	buf  []byte
	pos  int
	bit  int // bits already consumed from buf[pos]
	base int64
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// NewReaderAt returns a reader whose positions are reported relative to base.
func NewReaderAt(b []byte, base int64) *Reader {
	return &Reader{buf: b, base: base}
}

// Pos returns the absolute byte position of the next read.
func (r *Reader) Pos() int64 {
	return r.base + int64(r.pos)
}

// Remaining returns the number of unread bytes, counting a partially read byte.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

func (r *Reader) Aligned() bool {
	return r.bit == 0
}

func (r *Reader) need(n int) error {
	if r.bit != 0 {
		return errUnaligned
	}
	if rem := r.Remaining(); rem < n {
		return &utils.IncompleteInputError{Missing: uint64(n - rem)}
	}
	return nil
}

// ReadBits reads n bits, most significant first. n must be in [0, 64].
func (r *Reader) ReadBits(n int) (v uint64, err error) {
	if n < 0 || n > 64 {
		return 0, errBitCount
	}
	if avail := r.Remaining()*8 - r.bit; avail < n {
		return 0, &utils.IncompleteInputError{Missing: uint64((n - avail + 7) / 8)}
	}
	for n > 0 {
		left := 8 - r.bit
		take := min(left, n)
		chunk := uint64(r.buf[r.pos]>>(left-take)) & (1<<take - 1)
		v = v<<take | chunk
		r.bit += take
		n -= take
		if r.bit == 8 {
			r.bit = 0
			r.pos++
		}
	}
	return v, nil
}

// ReadFlag reads a single bit.
func (r *Reader) ReadFlag() (bool, error) {
	v, err := r.ReadBits(1)
	return v == 1, err
}

// Align skips to the next byte boundary.
func (r *Reader) Align() {
	if r.bit != 0 {
		r.bit = 0
		r.pos++
	}
}

func (r *Reader) U8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := pio.U8(r.buf[r.pos:])
	r.pos++
	return v, nil
}

func (r *Reader) U16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := pio.U16BE(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *Reader) I16() (int16, error) {
	v, err := r.U16()
	return int16(v), err //nolint:gosec
}

func (r *Reader) U24() (uint32, error) {
	if err := r.need(3); err != nil {
		return 0, err
	}
	v := pio.U24BE(r.buf[r.pos:])
	r.pos += 3
	return v, nil
}

func (r *Reader) U32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := pio.U32BE(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *Reader) I32() (int32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := pio.I32BE(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *Reader) U64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := pio.U64BE(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *Reader) I64() (int64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := pio.I64BE(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

// Bytes returns the next n bytes without copying. The slice aliases the input.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, errBitCount
	}
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+n : r.pos+n]
	r.pos += n
	return b, nil
}

// Peek returns the next n bytes without consuming them.
func (r *Reader) Peek(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	return r.buf[r.pos : r.pos+n], nil
}

func (r *Reader) Skip(n int) error {
	if err := r.need(n); err != nil {
		return err
	}
	r.pos += n
	return nil
}

// Sub consumes the next n bytes and returns a reader limited to them.
func (r *Reader) Sub(n int) (*Reader, error) {
	start := r.Pos()
	b, err := r.Bytes(n)
	if err != nil {
		return nil, err
	}
	return NewReaderAt(b, start), nil
}
