package bitio

import (
	"errors"
	"fmt"

	"github.com/deepch/vdk/utils/bits"
	"github.com/deepch/vdk/utils/bits/pio"
	"github.com/ugparu/isom/utils"
)

var (
	errUnknownPlaceholder = errors.New("bitio: placeholder is not outstanding")
	errPatchLength        = errors.New("bitio: patch length differs from reserved length")
)

// Placeholder is a span of already emitted bytes that must be rewritten later with Resolve.
type Placeholder struct {
	Offset int64
	Len    int
}

type emitter struct {
	w *Writer
}

func (e emitter) Write(p []byte) (int, error) {
	if err := e.w.emit(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Writer streams bits and big-endian integers into a Sink, tracking the absolute output position.
// Any sink failure is fatal: the writer keeps returning the same error afterwards.
type Writer struct {
	sink    Sink
	pos     int64
	bw      bits.Writer
	nbits   int
	pending map[int64]int
	err     error
	scratch [8]byte
}

func NewWriter(s Sink) *Writer {
	w := &Writer{
		sink:    s,
		pending: make(map[int64]int),
	}
	w.bw.W = emitter{w: w}
	return w
}

// Pos returns the number of whole bytes emitted so far.
func (w *Writer) Pos() int64 {
	return w.pos
}

// Err returns the sticky failure, if any.
func (w *Writer) Err() error {
	return w.err
}

func (w *Writer) Sink() Sink {
	return w.sink
}

func (w *Writer) emit(p []byte) error {
	if w.err != nil {
		return w.err
	}
	if len(p) == 0 {
		return nil
	}
	if err := w.sink.WriteBlock(p); err != nil {
		w.err = &utils.IOFailureError{Op: "write", Offset: w.pos, Fatal: true, Err: err}
		return w.err
	}
	w.pos += int64(len(p))
	return nil
}

// WriteBits writes the low n bits of v, most significant first. n must be in [0, 32].
func (w *Writer) WriteBits(v uint64, n int) error {
	if n < 0 || n > 32 {
		return errBitCount
	}
	if w.err != nil {
		return w.err
	}
	if n == 0 {
		return nil
	}
	if err := w.bw.WriteBits64(v&(1<<n-1), n); err != nil {
		return err
	}
	w.nbits += n
	if w.nbits%8 == 0 {
		w.nbits = 0
		return w.bw.FlushBits()
	}
	return nil
}

func (w *Writer) WriteFlag(f bool) error {
	if f {
		return w.WriteBits(1, 1)
	}
	return w.WriteBits(0, 1)
}

// Align pads the current byte with zero bits.
func (w *Writer) Align() error {
	if w.nbits == 0 {
		return w.err
	}
	return w.WriteBits(0, 8-w.nbits%8)
}

func (w *Writer) aligned() error {
	if w.nbits != 0 {
		return errUnaligned
	}
	return w.err
}

func (w *Writer) U8(v uint8) error {
	if err := w.aligned(); err != nil {
		return err
	}
	pio.PutU8(w.scratch[:], v)
	return w.emit(w.scratch[:1])
}

func (w *Writer) U16(v uint16) error {
	if err := w.aligned(); err != nil {
		return err
	}
	pio.PutU16BE(w.scratch[:], v)
	return w.emit(w.scratch[:2])
}

func (w *Writer) I16(v int16) error {
	return w.U16(uint16(v)) //nolint:gosec
}

func (w *Writer) U24(v uint32) error {
	if err := w.aligned(); err != nil {
		return err
	}
	pio.PutU24BE(w.scratch[:], v)
	return w.emit(w.scratch[:3])
}

func (w *Writer) U32(v uint32) error {
	if err := w.aligned(); err != nil {
		return err
	}
	pio.PutU32BE(w.scratch[:], v)
	return w.emit(w.scratch[:4])
}

func (w *Writer) I32(v int32) error {
	if err := w.aligned(); err != nil {
		return err
	}
	pio.PutI32BE(w.scratch[:], v)
	return w.emit(w.scratch[:4])
}

func (w *Writer) U64(v uint64) error {
	if err := w.aligned(); err != nil {
		return err
	}
	pio.PutU64BE(w.scratch[:], v)
	return w.emit(w.scratch[:8])
}

func (w *Writer) I64(v int64) error {
	if err := w.aligned(); err != nil {
		return err
	}
	pio.PutI64BE(w.scratch[:], v)
	return w.emit(w.scratch[:8])
}

// Write implements io.Writer for byte-aligned payloads.
func (w *Writer) Write(p []byte) (int, error) {
	if err := w.aligned(); err != nil {
		return 0, err
	}
	if err := w.emit(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *Writer) Zeros(n int) error {
	if err := w.aligned(); err != nil {
		return err
	}
	var zero [64]byte
	for n > 0 {
		k := min(n, len(zero))
		if err := w.emit(zero[:k]); err != nil {
			return err
		}
		n -= k
	}
	return nil
}

// Reserve emits n zero bytes and returns a placeholder for them.
func (w *Writer) Reserve(n int) (Placeholder, error) {
	ph := Placeholder{Offset: w.pos, Len: n}
	if err := w.Zeros(n); err != nil {
		return Placeholder{}, err
	}
	w.pending[ph.Offset] = n
	return ph, nil
}

// ReserveWith emits b as the temporary content of a placeholder.
func (w *Writer) ReserveWith(b []byte) (Placeholder, error) {
	ph := Placeholder{Offset: w.pos, Len: len(b)}
	if _, err := w.Write(b); err != nil {
		return Placeholder{}, err
	}
	w.pending[ph.Offset] = len(b)
	return ph, nil
}

// Resolve rewrites a placeholder in place. Failing to patch is fatal.
func (w *Writer) Resolve(ph Placeholder, b []byte) error {
	if w.err != nil {
		return w.err
	}
	n, ok := w.pending[ph.Offset]
	if !ok || n != ph.Len {
		return errUnknownPlaceholder
	}
	if len(b) != ph.Len {
		return errPatchLength
	}
	if dist := w.pos - ph.Offset; dist > w.sink.MaxPatchDistance() {
		w.err = &utils.IOFailureError{
			Op:     "patch",
			Offset: ph.Offset,
			Fatal:  true,
			Err:    fmt.Errorf("patch distance %d exceeds sink limit %d", dist, w.sink.MaxPatchDistance()),
		}
		return w.err
	}
	if err := w.sink.Patch(b, ph.Offset); err != nil {
		w.err = &utils.IOFailureError{Op: "patch", Offset: ph.Offset, Fatal: true, Err: err}
		return w.err
	}
	delete(w.pending, ph.Offset)
	return nil
}

// Outstanding returns the number of placeholders not yet resolved.
func (w *Writer) Outstanding() int {
	return len(w.pending)
}
