package mp4

import (
	"fmt"

	"github.com/deepch/vdk/utils/bits/pio"
	"github.com/ugparu/isom/format/mp4/mp4io"
	"github.com/ugparu/isom/utils/logger"
)

// Room reserved ahead of the media so that an editor can grow ftyp in place.
const flatFreeSize = 8

// beginFlat writes ftyp, a free box and the header of an mdat whose 64-bit size is
// patched at close.
func (m *Movie) beginFlat() error {
	if err := mp4io.Encode(m.w, m.fileType(mp4io.FTYP)); err != nil {
		return err
	}
	if err := mp4io.Encode(m.w, mp4io.NewFreeSpace(flatFreeSize)); err != nil {
		return err
	}
	m.mdatStart = m.w.Pos()
	var hdr [mp4io.HeaderSize]byte
	pio.PutU32BE(hdr[:], 1)
	pio.PutU32BE(hdr[4:], uint32(mp4io.MDAT))
	if _, err := m.w.Write(hdr[:]); err != nil {
		return err
	}
	ph, err := m.w.Reserve(8)
	if err != nil {
		return err
	}
	m.mdatSize = ph
	return nil
}

func (m *Movie) writeFlatSample(data []byte) (int64, error) {
	if err := m.begin(); err != nil {
		return 0, err
	}
	off := m.w.Pos()
	if _, err := m.w.Write(data); err != nil {
		return 0, err
	}
	return off, nil
}

// closeFlat patches the mdat size and appends moov after the media.
func (m *Movie) closeFlat() error {
	if err := m.begin(); err != nil {
		return err
	}
	var size [8]byte
	pio.PutU64BE(size[:], uint64(m.w.Pos()-m.mdatStart)) //nolint:gosec
	if err := m.w.Resolve(m.mdatSize, size[:]); err != nil {
		return fmt.Errorf("mp4: patch mdat size: %w", err)
	}
	moov, err := m.buildMoov(func(t *Track) (*mp4io.Container, error) {
		return buildSampleTable(t, 0)
	})
	if err != nil {
		return err
	}
	logger.Debugf(m, "writing moov of %d bytes after %d bytes of media", moov.Len(), m.w.Pos()-m.mdatStart)
	return mp4io.Encode(m.w, moov)
}
