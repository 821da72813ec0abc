//nolint:errcheck
package mp4io

import (
	"fmt"
	"time"

	"github.com/ugparu/isom/utils/bits/bitio"
)

const PRFT = Tag(0x70726674)

var ntpEpoch = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)

// NTPTime converts a wall-clock time to a 64-bit NTP timestamp.
func NTPTime(t time.Time) uint64 {
	d := t.Sub(ntpEpoch)
	sec := uint64(d / time.Second)
	frac := uint64(d%time.Second) << 32 / uint64(time.Second)
	return sec<<32 | frac
}

// ProducerReferenceTime is the prft box tying a media time of a track to wall-clock time.
type ProducerReferenceTime struct {
	FullHeader
	ReferenceTrackID uint32
	NTPTimestamp     uint64
	MediaTime        uint64
	AtomPos
}

func (p *ProducerReferenceTime) Tag() Tag {
	return PRFT
}

func (p *ProducerReferenceTime) body() int {
	if p.Version == 1 {
		return fullHeaderSize + 20
	}
	return fullHeaderSize + 16
}

func (p *ProducerReferenceTime) Len() int {
	return p.boxLen(p.body())
}

func (p *ProducerReferenceTime) Marshal(w *bitio.Writer) error {
	p.writeHeader(w, PRFT, p.body())
	p.FullHeader.write(w)
	w.U32(p.ReferenceTrackID)
	w.U64(p.NTPTimestamp)
	if p.Version == 1 {
		w.U64(p.MediaTime)
	} else {
		w.U32(uint32(p.MediaTime)) //nolint:gosec
	}
	return w.Err()
}

func (p *ProducerReferenceTime) Unmarshal(d *Decoder, _ int) error {
	f := d.fields()
	p.FullHeader.read(f)
	p.ReferenceTrackID = f.u32()
	p.NTPTimestamp = f.u64()
	if p.Version == 1 {
		p.MediaTime = f.u64()
	} else {
		p.MediaTime = uint64(f.u32())
	}
	return f.err
}

func (p *ProducerReferenceTime) Children() []Box {
	return nil
}

func (p *ProducerReferenceTime) String() string {
	return fmt.Sprintf("track=%d ntp=%#x media=%d", p.ReferenceTrackID, p.NTPTimestamp, p.MediaTime)
}
