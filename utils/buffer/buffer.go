// Package buffer provides pooled byte buffers for payload staging.
package buffer

import (
	"sync"
)

const (
	defaultBufSize = 4 * 1024
	bigBufSize     = 64 * 1024
	maxBufSize     = 4 * 1024 * 1024 // larger buffers are left to the GC
)

var bufPool = sync.Pool{
	New: func() any {
		return &memBuffer{
			buf: make([]byte, 0, defaultBufSize),
		}
	},
}

var bigBufPool = sync.Pool{
	New: func() any {
		return &memBuffer{
			buf: make([]byte, 0, bigBufSize),
		}
	},
}

// Get returns a pooled buffer of length size.
func Get(size int) PooledBuffer {
	var b *memBuffer
	if size >= bigBufSize {
		b = bigBufPool.Get().(*memBuffer) //nolint:forcetypeassert
	} else {
		b = bufPool.Get().(*memBuffer) //nolint:forcetypeassert
	}

	if cap(b.buf) < size {
		b.buf = make([]byte, size)
	}

	b.buf = b.buf[:size]
	return b
}

// PooledBuffer is a growable byte buffer borrowed from a pool. It must not be used
// after Release.
type PooledBuffer interface {
	Data() []byte
	Len() int
	Cap() int
	Write(p []byte) (int, error)
	Resize(int)
	Release()
}

type memBuffer struct {
	buf []byte
}

func (b *memBuffer) Data() []byte {
	return b.buf
}

func (b *memBuffer) Len() int {
	return len(b.buf)
}

func (b *memBuffer) Cap() int {
	return cap(b.buf)
}

func (b *memBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// Resize changes the length, keeping the contents up to the new length.
func (b *memBuffer) Resize(size int) {
	if size > cap(b.buf) {
		newBuf := make([]byte, size, size+size/2)
		copy(newBuf, b.buf)
		b.buf = newBuf
	} else {
		b.buf = b.buf[:size]
	}
}

func (b *memBuffer) Release() {
	if cap(b.buf) > maxBufSize {
		return
	}

	b.buf = b.buf[:0]
	if cap(b.buf) >= bigBufSize {
		bigBufPool.Put(b)
	} else {
		bufPool.Put(b)
	}
}
