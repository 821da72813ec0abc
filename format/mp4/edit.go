package mp4

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/deepch/vdk/utils/bits/pio"
	"github.com/ugparu/isom"
	"github.com/ugparu/isom/format/mp4/mp4io"
	"github.com/ugparu/isom/utils"
	"github.com/ugparu/isom/utils/bits/bitio"
	"github.com/ugparu/isom/utils/logger"
)

// OpenEdit loads a complete file for editing. Fragmented input is merged into plain
// sample tables; the result is written unfragmented to dst at Close.
func OpenEdit(data []byte, dst bitio.Sink, cfg Config) (*Movie, error) {
	m := newMovie(isom.ModeRead, cfg)
	m.prog = newProgressive()
	m.AppendData(data)
	if _, err := m.EndOfStream(); err != nil {
		return nil, fmt.Errorf("mp4: OpenEdit: %w", err)
	}
	p := m.prog
	if p.moov == nil {
		return nil, &utils.MalformedBoxError{Path: []string{"moov"}, Reason: "file has no movie box"}
	}
	if p.moof != nil {
		logger.Warningf(m, "dropping movie fragment at %d without media data", p.moofOffset)
	}

	var all []*sampleRecord
	protected := 0
	for _, t := range m.tracks {
		for i := range t.samples {
			rec := &t.samples[i]
			if rec.aux != nil {
				protected++
			}
			payload, err := p.sampleData(rec.offset, rec.size)
			if err != nil {
				return nil, fmt.Errorf("mp4: OpenEdit: %s sample %d: %w", t, i+1, err)
			}
			rec.data = slices.Clone(payload)
			all = append(all, rec)
		}
	}
	slices.SortStableFunc(all, func(a, b *sampleRecord) int { return cmp.Compare(a.offset, b.offset) })
	for i, rec := range all {
		rec.order = uint64(i)
	}
	m.order = uint64(len(all))
	if protected > 0 {
		logger.Warningf(m, "%d samples carry aux info that unfragmented output does not keep", protected)
	}

	for _, b := range p.moov.Boxes {
		switch b.Tag() {
		case mp4io.MVHD, mp4io.TRAK, mp4io.MVEX:
		case mp4io.PSSH:
			m.pssh = append(m.pssh, b)
		default:
			m.extras = append(m.extras, b)
		}
	}
	for _, b := range p.boxes {
		switch b.Tag() {
		case mp4io.FTYP, mp4io.STYP, mp4io.MOOV, mp4io.MOOF, mp4io.MDAT, mp4io.FREE, mp4io.SKIP,
			mp4io.SIDX, mp4io.MFRA, mp4io.PRFT:
		default:
			m.top = append(m.top, b)
		}
	}

	m.mode = isom.ModeEdit
	m.sink = dst
	m.prog = nil
	logger.Debugf(m, "loaded %d tracks, %d samples", len(m.tracks), len(all))
	return m, nil
}

func (m *Movie) editable(op string) error {
	if m.closed || m.mode != isom.ModeEdit {
		return m.invalid(op)
	}
	return nil
}

// UpdateSample replaces the index-th sample of a track, 1-based. The new decode time
// must keep the track in order.
func (m *Movie) UpdateSample(trackID uint32, index int, s isom.Sample) error {
	if err := m.editable("UpdateSample"); err != nil {
		return err
	}
	t, err := m.lookup("UpdateSample", trackID)
	if err != nil {
		return err
	}
	rec, err := t.sample("UpdateSample", index)
	if err != nil {
		return err
	}
	desc := s.DescriptionIndex
	if desc == 0 {
		desc = rec.desc
	}
	if err = t.checkDescription("UpdateSample", desc); err != nil {
		return err
	}
	if (index > 1 && s.DTS < t.samples[index-2].dts) || (index < len(t.samples) && s.DTS > t.samples[index].dts) {
		return &utils.MalformedBoxError{
			Path:   []string{"stts"},
			Reason: fmt.Sprintf("UpdateSample: decode time %d breaks the order of %s", s.DTS, t),
		}
	}
	if (index > 1 && s.DTS-t.samples[index-2].dts > math.MaxUint32) ||
		(index < len(t.samples) && t.samples[index].dts-s.DTS > math.MaxUint32) {
		return &utils.MalformedBoxError{
			Path:   []string{"stts"},
			Reason: fmt.Sprintf("UpdateSample: decode time %d leaves a gap stts cannot store in %s", s.DTS, t),
		}
	}
	if err = checkPayload("UpdateSample", s); err != nil {
		return err
	}
	*rec = sampleRecord{
		dts:       s.DTS,
		ctsOffset: s.CTSOffset,
		size:      uint32(len(s.Data)), //nolint:gosec
		sync:      s.IsSync,
		desc:      desc,
		duration:  s.Duration,
		data:      slices.Clone(s.Data),
		order:     rec.order,
	}
	if index == len(t.samples) {
		t.lastDTS = s.DTS
	}
	return nil
}

// RemoveSample drops the index-th sample of a track, 1-based.
func (m *Movie) RemoveSample(trackID uint32, index int) error {
	if err := m.editable("RemoveSample"); err != nil {
		return err
	}
	t, err := m.lookup("RemoveSample", trackID)
	if err != nil {
		return err
	}
	if _, err = t.sample("RemoveSample", index); err != nil {
		return err
	}
	if index > 1 && index < len(t.samples) && t.samples[index].dts-t.samples[index-2].dts > math.MaxUint32 {
		return &utils.MalformedBoxError{
			Path:   []string{"stts"},
			Reason: fmt.Sprintf("RemoveSample: removing sample %d of %s leaves a gap stts cannot store", index, t),
		}
	}
	t.samples = slices.Delete(t.samples, index-1, index)
	if n := len(t.samples); n > 0 {
		t.lastDTS = t.samples[n-1].dts
	} else {
		t.lastDTS, t.hasDTS = 0, false
	}
	return nil
}

func (m *Movie) RemoveTrack(trackID uint32) error {
	if err := m.editable("RemoveTrack"); err != nil {
		return err
	}
	if _, err := m.lookup("RemoveTrack", trackID); err != nil {
		return err
	}
	m.tracks = slices.DeleteFunc(m.tracks, func(t *Track) bool { return t.ID == trackID })
	return nil
}

// closeEdit writes ftyp, moov and then the media. Chunk offsets depend on the size of
// moov, which depends on whether they fit in 32 bits, so the layout is iterated until
// the moov size is stable.
func (m *Movie) closeEdit() error {
	if err := m.begin(); err != nil {
		return err
	}
	var all []*sampleRecord
	for _, t := range m.tracks {
		for i := range t.samples {
			all = append(all, &t.samples[i])
		}
	}
	slices.SortStableFunc(all, func(a, b *sampleRecord) int { return cmp.Compare(a.order, b.order) })
	var payload int64
	for _, rec := range all {
		rec.offset = payload
		payload += int64(len(rec.data))
	}

	ftyp := m.fileType(mp4io.FTYP)
	mdatHdr := int64(mp4io.HeaderSize)
	if payload+mdatHdr > math.MaxUint32 {
		mdatHdr = mp4io.LargeHeaderSize
	}
	head := int64(ftyp.Len())
	for _, b := range m.top {
		head += int64(b.Len())
	}

	var moov *mp4io.Container
	moovLen := -1
	for range 4 {
		base := head + int64(max(moovLen, 0)) + mdatHdr
		var err error
		moov, err = m.buildMoov(func(t *Track) (*mp4io.Container, error) {
			return buildSampleTable(t, base)
		})
		if err != nil {
			return err
		}
		if moov.Len() == moovLen {
			break
		}
		moovLen = moov.Len()
	}
	if moov.Len() != moovLen {
		return &utils.MalformedBoxError{Path: []string{"moov"}, Reason: "size does not converge"}
	}

	if err := mp4io.Encode(m.w, ftyp); err != nil {
		return err
	}
	for _, b := range m.top {
		if err := mp4io.Encode(m.w, b); err != nil {
			return err
		}
	}
	if err := mp4io.Encode(m.w, moov); err != nil {
		return err
	}

	hdr := make([]byte, mdatHdr)
	if mdatHdr == mp4io.LargeHeaderSize {
		pio.PutU32BE(hdr, 1)
		pio.PutU64BE(hdr[8:], uint64(payload+mdatHdr)) //nolint:gosec
	} else {
		pio.PutU32BE(hdr, uint32(payload+mdatHdr)) //nolint:gosec
	}
	pio.PutU32BE(hdr[4:], uint32(mp4io.MDAT))
	if _, err := m.w.Write(hdr); err != nil {
		return err
	}
	for _, rec := range all {
		if _, err := m.w.Write(rec.data); err != nil {
			return err
		}
	}
	logger.Debugf(m, "wrote %d samples, moov %d bytes, media %d bytes", len(all), moovLen, payload)
	return nil
}
