package mp4

import (
	"errors"
	"fmt"
	"io"
	"math"
	"slices"

	"github.com/deepch/vdk/utils/bits/pio"
	"github.com/ugparu/isom"
	"github.com/ugparu/isom/format/mp4/mp4io"
	"github.com/ugparu/isom/utils"
	"github.com/ugparu/isom/utils/bits/bitio"
	"github.com/ugparu/isom/utils/logger"
)

var knownBrands = map[mp4io.Tag]bool{
	mp4io.BrandISOM: true, mp4io.BrandISO6: true, mp4io.BrandMP41: true, mp4io.BrandMSDH: true,
	mp4io.BrandMSIX: true, mp4io.BrandDASH: true, mp4io.BrandLMSG: true,
	mp4io.StringToTag("iso2"): true, mp4io.StringToTag("iso4"): true, mp4io.StringToTag("iso5"): true,
	mp4io.StringToTag("mp42"): true, mp4io.StringToTag("avc1"): true, mp4io.StringToTag("cmfc"): true,
	mp4io.StringToTag("cmfs"): true, mp4io.StringToTag("M4V "): true, mp4io.StringToTag("M4A "): true,
}

type mdatRegion struct {
	offset int64
	data   []byte
}

// progressive is the parse state of a read session. buf holds the bytes from base on
// that have not been parsed yet.
type progressive struct {
	buf  []byte
	base int64
	eos  bool
	err  error

	ftyp       *mp4io.FileType
	moov       *mp4io.Container
	moof       *mp4io.Container
	moofOffset int64
	regions    []mdatRegion
	boxes      []mp4io.Box
}

func newProgressive() *progressive {
	return &progressive{}
}

// OpenProgressive starts a read session over the bytes received so far. It returns the
// number of bytes needed to complete the next box; in that case err is an
// *utils.IncompleteInputError and the movie stays usable.
func OpenProgressive(data []byte, cfg Config) (*Movie, uint64, error) {
	m := newMovie(isom.ModeRead, cfg)
	m.prog = newProgressive()
	m.AppendData(data)
	missing, err := m.RefreshProgressive()
	if err != nil {
		if _, ok := utils.IsIncomplete(err); !ok {
			return nil, 0, err
		}
	}
	return m, missing, err
}

// AppendData adds received bytes. Parsing resumes at RefreshProgressive.
func (m *Movie) AppendData(b []byte) {
	if m.prog == nil || m.prog.eos {
		return
	}
	m.prog.buf = append(m.prog.buf, b...)
}

// RefreshProgressive parses every complete top-level box and folds it into the movie.
// It stops at the first incomplete box without consuming it and reports how many more
// bytes that box needs.
func (m *Movie) RefreshProgressive() (uint64, error) {
	p := m.prog
	if p == nil || m.mode != isom.ModeRead {
		return 0, m.invalid("RefreshProgressive")
	}
	if p.err != nil {
		return 0, p.err
	}
	for len(p.buf) > 0 {
		missing, err := m.parseNext()
		if err == nil {
			continue
		}
		if _, ok := utils.IsIncomplete(err); ok {
			logger.Debugf(m, "suspended at %d: %d bytes missing", p.base, missing)
			return missing, err
		}
		p.err = err
		logger.Errorf(m, "parse failed at %d: %v", p.base, err)
		return 0, err
	}
	return 0, nil
}

// EndOfStream marks the input as complete, which lets a final box of size zero be parsed.
func (m *Movie) EndOfStream() (uint64, error) {
	if m.prog == nil {
		return 0, m.invalid("EndOfStream")
	}
	m.prog.eos = true
	return m.RefreshProgressive()
}

// Feed pumps r through AppendData and RefreshProgressive in chunks of the given size
// until EOF, then ends the stream.
func (m *Movie) Feed(r io.Reader, chunk int) error {
	if chunk <= 0 {
		chunk = pio.RecommendBufioSize
	}
	buf := make([]byte, chunk)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			m.AppendData(buf[:n])
			if _, perr := m.RefreshProgressive(); perr != nil {
				if _, ok := utils.IsIncomplete(perr); !ok {
					return perr
				}
			}
		}
		if errors.Is(err, io.EOF) {
			_, err = m.EndOfStream()
			return err
		}
		if err != nil {
			return &utils.IOFailureError{Op: "read", Offset: m.prog.base + int64(len(m.prog.buf)), Err: err}
		}
	}
}

// Boxes returns the top-level boxes parsed so far.
func (m *Movie) Boxes() []mp4io.Box {
	if m.prog == nil {
		return nil
	}
	return m.prog.boxes
}

// ReleaseSamples drops the records of a track up to sample upTo, 1-based, together with
// the media data and top-level boxes that no held sample needs. Numbering is kept:
// later samples keep their indices and released ones report InvalidState.
func (m *Movie) ReleaseSamples(trackID uint32, upTo int) error {
	if m.prog == nil || m.mode != isom.ModeRead {
		return m.invalid("ReleaseSamples")
	}
	t, err := m.lookup("ReleaseSamples", trackID)
	if err != nil {
		return err
	}
	if upTo < 0 || upTo > t.SampleCount() {
		return &utils.InvalidStateError{
			Op:    "ReleaseSamples",
			State: fmt.Sprintf("%s has %d samples, index %d", t, t.SampleCount(), upTo),
		}
	}
	n := t.release(upTo)
	m.prog.compact(m.tracks)
	logger.Debugf(m, "released %d samples of %s, %d media regions held", n, t, len(m.prog.regions))
	return nil
}

// ResetTables releases every sample of every track. Samples of fragments parsed later
// are numbered after the released ones.
func (m *Movie) ResetTables() error {
	if m.prog == nil || m.mode != isom.ModeRead {
		return m.invalid("ResetTables")
	}
	for _, t := range m.tracks {
		t.release(t.SampleCount())
	}
	m.prog.compact(m.tracks)
	logger.Debugf(m, "sample tables reset, %d boxes held", len(m.prog.boxes))
	return nil
}

// Top-level boxes that only matter while their media is referenced.
var releasable = map[mp4io.Tag]bool{
	mp4io.MOOF: true, mp4io.MDAT: true, mp4io.STYP: true, mp4io.SIDX: true,
	mp4io.PRFT: true, mp4io.FREE: true, mp4io.SKIP: true,
}

// compact drops the media regions that end before the lowest offset a held sample
// references, and the releasable boxes ahead of the first region kept.
func (p *progressive) compact(tracks []*Track) {
	lowest := int64(math.MaxInt64)
	for _, t := range tracks {
		for i := range t.samples {
			if t.samples[i].size > 0 {
				lowest = min(lowest, t.samples[i].offset)
			}
		}
	}
	n := 0
	for n < len(p.regions) && p.regions[n].offset+int64(len(p.regions[n].data)) <= lowest {
		n++
	}
	p.regions = slices.Delete(p.regions, 0, n)

	cut := len(p.boxes)
	if len(p.regions) > 0 {
		for i, b := range p.boxes {
			if d, ok := b.(*mp4io.MediaData); ok && d.DataOffset() == p.regions[0].offset {
				cut = i
				break
			}
		}
		for cut > 0 && releasable[p.boxes[cut-1].Tag()] && p.boxes[cut-1].Tag() != mp4io.MDAT {
			cut--
		}
	}
	kept := make([]mp4io.Box, 0, len(p.boxes))
	for i, b := range p.boxes {
		if i < cut && releasable[b.Tag()] {
			continue
		}
		kept = append(kept, b)
	}
	p.boxes = kept
}

func (m *Movie) parseNext() (uint64, error) {
	p := m.prog
	h, err := mp4io.ParseHeader(p.buf)
	if err != nil {
		var mb *utils.MalformedBoxError
		if errors.As(err, &mb) {
			mb.Offset = p.base
			return 0, mb
		}
		missing, _ := utils.IsIncomplete(err)
		return missing, err
	}
	size := h.Size
	if size == 0 {
		if !p.eos {
			return 1, &utils.IncompleteInputError{Missing: 1}
		}
		size = uint64(len(p.buf))
	}
	if m.cfg.MaxBoxSize > 0 && size > m.cfg.MaxBoxSize {
		return 0, &utils.OutOfMemoryError{Requested: size, Limit: m.cfg.MaxBoxSize}
	}
	if size > uint64(len(p.buf)) {
		missing := size - uint64(len(p.buf))
		return missing, &utils.IncompleteInputError{Missing: missing}
	}

	box, err := m.reg.Parse(bitio.NewReaderAt(p.buf[:size], p.base))
	if err != nil {
		return 0, err
	}
	if err = m.fold(box, p.base); err != nil {
		return 0, err
	}
	p.buf = p.buf[size:]
	p.base += int64(size) //nolint:gosec
	return 0, nil
}

func (m *Movie) fold(box mp4io.Box, offset int64) error {
	p := m.prog
	switch b := box.(type) {
	case *mp4io.FileType:
		if b.Type == mp4io.FTYP {
			if p.ftyp != nil {
				return &utils.MalformedBoxError{Path: []string{"ftyp"}, Offset: offset, Reason: "duplicate file type box"}
			}
			if err := m.checkBrands(b); err != nil {
				return err
			}
			p.ftyp = b
			m.majorBrand, m.minor, m.compatible = b.MajorBrand, b.MinorVersion, b.CompatibleBrands
		}
	case *mp4io.Container:
		switch b.Type {
		case mp4io.MOOV:
			if p.moov != nil {
				return &utils.MalformedBoxError{Path: []string{"moov"}, Offset: offset, Reason: "duplicate movie box"}
			}
			if err := m.loadMoov(b, offset); err != nil {
				return err
			}
			p.moov = b
			m.notify(m.TrackIDs())
		case mp4io.MOOF:
			if p.moov == nil {
				return &utils.MalformedBoxError{Path: []string{"moof"}, Offset: offset, Reason: "movie fragment before movie box"}
			}
			if p.moof != nil {
				logger.Warningf(m, "movie fragment at %d has no media data", p.moofOffset)
			}
			p.moof, p.moofOffset = b, offset
		}
	case *mp4io.MediaData:
		p.regions = append(p.regions, mdatRegion{offset: b.DataOffset(), data: b.Data})
		if p.moof != nil {
			ids, err := m.mergeFragment(p.moof, p.moofOffset)
			if err != nil {
				return err
			}
			p.moof = nil
			m.notify(ids)
		}
	case *mp4io.Unknown:
		logger.Warningf(m, "unknown top-level box %s at %d, %d bytes", b.Type, offset, len(b.Data))
	}
	p.boxes = append(p.boxes, box)
	return nil
}

func (m *Movie) notify(ids []uint32) {
	ids = slices.DeleteFunc(slices.Clone(ids), func(id uint32) bool {
		t := m.Track(id)
		return t == nil || t.SampleCount() == 0
	})
	if len(ids) > 0 && m.cfg.OnSamples != nil {
		m.cfg.OnSamples(ids)
	}
}

func (m *Movie) checkBrands(ftyp *mp4io.FileType) error {
	brands := append([]mp4io.Tag{ftyp.MajorBrand}, ftyp.CompatibleBrands...)
	if !knownBrands[ftyp.MajorBrand] {
		logger.Warningf(m, "unknown major brand %s", ftyp.MajorBrand)
	}
	if len(m.cfg.RequiredBrands) == 0 {
		return nil
	}
	for _, req := range brandTags(m.cfg.RequiredBrands) {
		if slices.Contains(brands, req) {
			return nil
		}
	}
	return &utils.UnsupportedBrandError{Brand: ftyp.MajorBrand.String(), Required: m.cfg.RequiredBrands}
}

func (m *Movie) loadMoov(moov *mp4io.Container, offset int64) error {
	mvhd, ok := moov.Child(mp4io.MVHD).(*mp4io.MovieHeader)
	if !ok {
		return &utils.MalformedBoxError{Path: []string{"moov", "mvhd"}, Offset: offset, Reason: "missing movie header"}
	}
	if mvhd.TimeScale != 0 {
		m.timescale = mvhd.TimeScale
	}
	for _, b := range moov.ChildrenOf(mp4io.TRAK) {
		trak, _ := b.(*mp4io.Container)
		if trak == nil {
			continue
		}
		t, err := m.loadTrak(trak)
		if err != nil {
			var mb *utils.MalformedBoxError
			if errors.As(err, &mb) {
				mb.Path = append([]string{"moov", "trak"}, mb.Path...)
				if mb.Offset == 0 {
					mb.Offset = offset
				}
			}
			return err
		}
		if m.Track(t.ID) != nil {
			return &utils.MalformedBoxError{Path: []string{"moov", "trak"}, Offset: offset, Reason: fmt.Sprintf("duplicate track id %d", t.ID)}
		}
		m.tracks = append(m.tracks, t)
	}
	for _, b := range moov.ChildrenOf(mp4io.MVEX) {
		m.loadTrackExtends(b)
	}
	logger.Debugf(m, "movie box at %d: %d tracks, timescale %d", offset, len(m.tracks), m.timescale)
	return nil
}

func (m *Movie) loadTrackExtends(mvex mp4io.Box) {
	for _, b := range mvex.Children() {
		trex, ok := b.(*mp4io.TrackExtend)
		if !ok {
			continue
		}
		if t := m.Track(trex.TrackID); t != nil {
			t.DefaultDescription = trex.DefaultSampleDescIdx
			t.DefaultDuration = trex.DefaultSampleDuration
			t.DefaultSize = trex.DefaultSampleSize
			t.DefaultFlags = trex.DefaultSampleFlags
		}
	}
}

func (m *Movie) loadTrak(trak *mp4io.Container) (*Track, error) {
	tkhd, ok := trak.Child(mp4io.TKHD).(*mp4io.TrackHeader)
	if !ok {
		return nil, &utils.MalformedBoxError{Path: []string{"tkhd"}, Reason: "missing track header"}
	}
	mdhd, ok := mp4io.FindPath(trak, mp4io.MDIA, mp4io.MDHD).(*mp4io.MediaHeader)
	if !ok || mdhd.TimeScale == 0 {
		return nil, &utils.MalformedBoxError{Path: []string{"mdia", "mdhd"}, Reason: "missing media header"}
	}
	stbl, ok := mp4io.FindPath(trak, mp4io.MDIA, mp4io.MINF, mp4io.STBL).(*mp4io.Container)
	if !ok {
		return nil, &utils.MalformedBoxError{Path: []string{"mdia", "minf", "stbl"}, Reason: "missing sample table"}
	}
	t := newTrack(tkhd.TrackID, mdhd.TimeScale, 0, mdhd.LanguageCode())
	t.Width, t.Height = tkhd.Width>>16, tkhd.Height>>16
	t.HandlerName = ""
	if hdlr, ok := mp4io.FindPath(trak, mp4io.MDIA, mp4io.HDLR).(*mp4io.HandlerRefer); ok {
		t.MediaType = isom.MediaType(hdlr.HandlerType)
		name := hdlr.Name
		if i := slices.Index(name, 0); i >= 0 {
			name = name[:i]
		}
		t.HandlerName = string(name)
	}
	for _, b := range trak.Boxes {
		switch b.Tag() {
		case mp4io.TKHD, mp4io.MDIA, mp4io.EDTS:
		default:
			t.extra = append(t.extra, b)
		}
	}
	start := emptyEditTime(trak, t.Timescale, m.timescale)
	if err := loadSampleTable(t, stbl, start); err != nil {
		return nil, err
	}
	return t, nil
}

// sampleData returns the payload at an absolute offset from a parsed mdat, or from the
// bytes received but not parsed yet.
func (p *progressive) sampleData(offset int64, size uint32) ([]byte, error) {
	end := offset + int64(size)
	for _, r := range p.regions {
		if offset >= r.offset && end <= r.offset+int64(len(r.data)) {
			return r.data[offset-r.offset : end-r.offset], nil
		}
	}
	if offset >= p.base && end <= p.base+int64(len(p.buf)) {
		return p.buf[offset-p.base : end-p.base], nil
	}
	if have := p.base + int64(len(p.buf)); end > have && !p.eos {
		return nil, &utils.IncompleteInputError{Missing: uint64(end - have)}
	}
	return nil, &utils.MalformedBoxError{
		Path:   []string{"mdat"},
		Offset: offset,
		Reason: fmt.Sprintf("%d sample bytes lie outside the media data", size),
	}
}
