//nolint:errcheck
package mp4io

import (
	"fmt"
	"math"

	"github.com/ugparu/isom/utils/bits/bitio"
)

const MDHD = Tag(0x6d646864)

// MediaHeader is the mdhd box.
type MediaHeader struct {
	FullHeader
	CreateTime uint64
	ModifyTime uint64
	TimeScale  uint32
	Duration   uint64
	Language   uint16 // pad bit and three 5-bit letters
	PreDefined uint16
	AtomPos
}

func (m *MediaHeader) Tag() Tag {
	return MDHD
}

func (m *MediaHeader) body() int {
	if m.Version == 1 {
		return fullHeaderSize + 28 + 4
	}
	return fullHeaderSize + 16 + 4
}

func (m *MediaHeader) Len() int {
	return m.boxLen(m.body())
}

func (m *MediaHeader) FitVersion() {
	if m.Duration > math.MaxUint32 || m.CreateTime > math.MaxUint32 || m.ModifyTime > math.MaxUint32 {
		m.Version = 1
	}
}

func (m *MediaHeader) Marshal(w *bitio.Writer) error {
	m.writeHeader(w, MDHD, m.body())
	m.FullHeader.write(w)
	if m.Version == 1 {
		w.U64(m.CreateTime)
		w.U64(m.ModifyTime)
		w.U32(m.TimeScale)
		w.U64(m.Duration)
	} else {
		w.U32(uint32(m.CreateTime))
		w.U32(uint32(m.ModifyTime))
		w.U32(m.TimeScale)
		w.U32(uint32(m.Duration))
	}
	w.U16(m.Language)
	w.U16(m.PreDefined)
	return w.Err()
}

func (m *MediaHeader) Unmarshal(d *Decoder, _ int) error {
	f := d.fields()
	m.FullHeader.read(f)
	if m.Version == 1 {
		m.CreateTime = f.u64()
		m.ModifyTime = f.u64()
		m.TimeScale = f.u32()
		m.Duration = f.u64()
	} else {
		m.CreateTime = uint64(f.u32())
		m.ModifyTime = uint64(f.u32())
		m.TimeScale = f.u32()
		m.Duration = uint64(f.u32())
	}
	m.Language = f.u16()
	m.PreDefined = f.u16()
	return f.err
}

func (m *MediaHeader) Children() []Box {
	return nil
}

// LanguageCode returns the ISO 639-2/T code packed in Language.
func (m *MediaHeader) LanguageCode() string {
	var b [3]byte
	for i := range b {
		b[i] = byte(m.Language>>(10-5*i)&0x1f) + 0x60
	}
	return string(b[:])
}

// SetLanguageCode packs a three-letter lowercase code; anything else becomes "und".
func (m *MediaHeader) SetLanguageCode(code string) {
	if len(code) != 3 {
		code = "und"
	}
	var v uint16
	for i := range 3 {
		c := code[i]
		if c < 'a' || c > 'z' {
			m.SetLanguageCode("und")
			return
		}
		v = v<<5 | uint16(c-0x60)
	}
	m.Language = v
}

func (m *MediaHeader) String() string {
	return fmt.Sprintf("timescale=%d duration=%d language=%s", m.TimeScale, m.Duration, m.LanguageCode())
}
