package bitio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/deepch/vdk/utils/bits/pio"
	"github.com/ugparu/isom/utils/buffer"
)

// Unbounded is the patch distance of sinks that can rewrite any earlier byte.
const Unbounded int64 = math.MaxInt64

var errPatchOutOfRange = errors.New("bitio: patch outside written range")

// Sink receives the output of a Writer as an ordered stream of blocks.
// Patch rewrites bytes that were already delivered; offsets further than
// MaxPatchDistance behind the current end are never requested.
// A sink must not retain b after returning.
type Sink interface {
	WriteBlock(b []byte) error
	Patch(b []byte, offset int64) error
	MaxPatchDistance() int64
}

// Flusher is implemented by sinks that buffer output.
type Flusher interface {
	Flush() error
}

// MemorySink collects the whole output in memory.
type MemorySink struct {
	buf []byte
}

func (s *MemorySink) WriteBlock(b []byte) error {
	s.buf = append(s.buf, b...)
	return nil
}

func (s *MemorySink) Patch(b []byte, offset int64) error {
	if offset < 0 || offset+int64(len(b)) > int64(len(s.buf)) {
		return errPatchOutOfRange
	}
	copy(s.buf[offset:], b)
	return nil
}

func (s *MemorySink) MaxPatchDistance() int64 {
	return Unbounded
}

// Bytes returns the collected output. The slice is valid until the next write.
func (s *MemorySink) Bytes() []byte {
	return s.buf
}

// SeekSink writes to a seekable destination and patches by seeking back.
type SeekSink struct {
	ws  io.WriteSeeker
	bw  *bufio.Writer
	end int64
}

func NewSeekSink(ws io.WriteSeeker) *SeekSink {
	return &SeekSink{
		ws: ws,
		bw: bufio.NewWriterSize(ws, pio.RecommendBufioSize),
	}
}

func (s *SeekSink) WriteBlock(b []byte) error {
	n, err := s.bw.Write(b)
	s.end += int64(n)
	return err
}

func (s *SeekSink) Patch(b []byte, offset int64) (err error) {
	if offset < 0 || offset+int64(len(b)) > s.end {
		return errPatchOutOfRange
	}
	if err = s.bw.Flush(); err != nil {
		return
	}
	if _, err = s.ws.Seek(offset, io.SeekStart); err != nil {
		return
	}
	if _, err = s.ws.Write(b); err != nil {
		return
	}
	_, err = s.ws.Seek(s.end, io.SeekStart)
	return
}

func (s *SeekSink) MaxPatchDistance() int64 {
	return Unbounded
}

func (s *SeekSink) Flush() error {
	return s.bw.Flush()
}

// RingSink forwards output to a non-seekable writer but holds back the most recent
// Window bytes so they can still be patched.
type RingSink struct {
	w      io.Writer
	window int
	held   buffer.PooledBuffer
	start  int64 // absolute offset of the first held byte
}

func NewRingSink(w io.Writer, window int) *RingSink {
	return &RingSink{
		w:      w,
		window: window,
		held:   buffer.Get(0),
	}
}

func (s *RingSink) WriteBlock(b []byte) error {
	if _, err := s.held.Write(b); err != nil {
		return err
	}
	if s.held.Len() <= 2*s.window {
		return nil
	}
	return s.spill(s.held.Len() - s.window)
}

func (s *RingSink) spill(n int) error {
	data := s.held.Data()
	if _, err := s.w.Write(data[:n]); err != nil {
		return err
	}
	rest := copy(data, data[n:])
	s.held.Resize(rest)
	s.start += int64(n)
	return nil
}

func (s *RingSink) Patch(b []byte, offset int64) error {
	if offset < s.start {
		return fmt.Errorf("bitio: offset %d already forwarded (window starts at %d)", offset, s.start)
	}
	rel := offset - s.start
	if rel+int64(len(b)) > int64(s.held.Len()) {
		return errPatchOutOfRange
	}
	copy(s.held.Data()[rel:], b)
	return nil
}

func (s *RingSink) MaxPatchDistance() int64 {
	return int64(s.window)
}

// Flush forwards every held byte. Nothing written before the flush can be patched afterwards.
func (s *RingSink) Flush() error {
	if s.held.Len() == 0 {
		return nil
	}
	return s.spill(s.held.Len())
}

// CallbackSink adapts a pair of functions to a Sink.
type CallbackSink struct {
	OnBlock     func(b []byte) error
	OnPatch     func(b []byte, offset int64) error
	MaxDistance int64
}

func (s *CallbackSink) WriteBlock(b []byte) error {
	return s.OnBlock(b)
}

func (s *CallbackSink) Patch(b []byte, offset int64) error {
	if s.OnPatch == nil {
		return errPatchOutOfRange
	}
	return s.OnPatch(b, offset)
}

func (s *CallbackSink) MaxPatchDistance() int64 {
	if s.OnPatch == nil {
		return 0
	}
	return s.MaxDistance
}
