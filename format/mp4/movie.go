//nolint:mnd // box field values are fixed by the file format
// Package mp4 reads and writes ISO base media files: flat files with the index at the
// end, files edited in memory, fragmented streams and progressively received input.
package mp4

import (
	"fmt"
	"math"
	"slices"

	"github.com/ugparu/isom"
	"github.com/ugparu/isom/format/mp4/mp4io"
	"github.com/ugparu/isom/utils"
	"github.com/ugparu/isom/utils/bits/bitio"
	"github.com/ugparu/isom/utils/logger"
)

// Movie is one read or write session. It is not safe for concurrent use.
type Movie struct {
	cfg  Config
	mode isom.StorageMode
	reg  *mp4io.Registry

	majorBrand mp4io.Tag
	minor      uint32
	compatible []mp4io.Tag
	timescale  uint32

	tracks []*Track

	sink   bitio.Sink
	w      *bitio.Writer
	closed bool

	mdatStart int64
	mdatSize  bitio.Placeholder

	order uint64

	seq    uint32
	frag   *fragment
	seg    *segment
	prft   *mp4io.ProducerReferenceTime
	pssh   []mp4io.Box
	extras []mp4io.Box // moov children preserved by OpenEdit
	top    []mp4io.Box // top-level boxes preserved by OpenEdit

	prog *progressive
}

func newMovie(mode isom.StorageMode, cfg Config) *Movie {
	m := &Movie{
		cfg:        cfg,
		mode:       mode,
		reg:        cfg.registry(),
		majorBrand: mp4io.StringToTag(cfg.MajorBrand),
		minor:      cfg.MinorVersion,
		compatible: brandTags(cfg.CompatibleBrands),
		timescale:  cfg.MovieTimescale,
	}
	if m.timescale == 0 {
		m.timescale = 1000
	}
	return m
}

// Open starts a write session. dst may be nil if SetWriteCallback is called before the
// first byte is produced.
func Open(dst bitio.Sink, mode isom.StorageMode, cfg Config) (*Movie, error) {
	switch mode {
	case isom.ModeFlat, isom.ModeEdit, isom.ModeFragmented:
	default:
		return nil, &utils.InvalidStateError{Op: "Open", State: "mode " + mode.String()}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	m := newMovie(mode, cfg)
	m.sink = dst
	logger.Debugf(m, "opened for writing")
	return m, nil
}

func (m *Movie) String() string {
	return fmt.Sprintf("Movie(%s)", m.mode)
}

func (m *Movie) Mode() isom.StorageMode {
	return m.mode
}

// Timescale returns the movie timescale.
func (m *Movie) Timescale() uint32 {
	return m.timescale
}

// Brands returns the major brand and the compatible brands.
func (m *Movie) Brands() (mp4io.Tag, []mp4io.Tag) {
	return m.majorBrand, m.compatible
}

func (m *Movie) Track(id uint32) *Track {
	for _, t := range m.tracks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (m *Movie) Tracks() []*Track {
	return m.tracks
}

func (m *Movie) TrackIDs() []uint32 {
	ids := make([]uint32, 0, len(m.tracks))
	for _, t := range m.tracks {
		ids = append(ids, t.ID)
	}
	return ids
}

func (m *Movie) state() string {
	switch {
	case m.closed:
		return "closed"
	case m.frag != nil:
		return "fragment open"
	case m.seg != nil:
		return "segment open"
	case m.w != nil:
		return "writing"
	default:
		return "idle"
	}
}

func (m *Movie) invalid(op string) error {
	return &utils.InvalidStateError{Op: op, State: m.mode.String() + "/" + m.state()}
}

func (m *Movie) lookup(op string, trackID uint32) (*Track, error) {
	t := m.Track(trackID)
	if t == nil {
		return nil, &utils.InvalidStateError{Op: op, State: fmt.Sprintf("no track %d", trackID)}
	}
	return t, nil
}

func (m *Movie) writable(op string) error {
	if m.closed || m.mode == isom.ModeRead {
		return m.invalid(op)
	}
	return nil
}

// NewTrack adds a track and returns its id. Fragmented movies accept tracks only until
// the initialization segment is written.
func (m *Movie) NewTrack(timescale uint32, mediaType isom.MediaType) (uint32, error) {
	if err := m.writable("NewTrack"); err != nil {
		return 0, err
	}
	if m.mode == isom.ModeFragmented && m.w != nil {
		return 0, m.invalid("NewTrack")
	}
	if timescale == 0 {
		return 0, &utils.MalformedBoxError{Path: []string{"mdhd"}, Reason: "NewTrack: timescale must be positive"}
	}
	var id uint32 = 1
	for _, t := range m.tracks {
		id = max(id, t.ID+1)
	}
	m.tracks = append(m.tracks, newTrack(id, timescale, mediaType, m.cfg.Language))
	logger.Debugf(m, "track %d added: %s timescale=%d", id, mediaType, timescale)
	return id, nil
}

// SetSampleDescription registers a sample description and returns its 1-based index.
func (m *Movie) SetSampleDescription(trackID uint32, desc SampleDescription) (uint32, error) {
	if err := m.writable("SetSampleDescription"); err != nil {
		return 0, err
	}
	if m.mode == isom.ModeFragmented && m.w != nil {
		return 0, m.invalid("SetSampleDescription")
	}
	t, err := m.lookup("SetSampleDescription", trackID)
	if err != nil {
		return 0, err
	}
	if desc.DataRefIndex == 0 {
		desc.DataRefIndex = 1
	}
	t.Descriptions = append(t.Descriptions, desc)
	return uint32(len(t.Descriptions)), nil //nolint:gosec
}

// AddSample appends a sample to a track of a flat or edit movie.
func (m *Movie) AddSample(trackID, descIndex uint32, s isom.Sample) error {
	if err := m.writable("AddSample"); err != nil {
		return err
	}
	if m.mode == isom.ModeFragmented {
		return m.invalid("AddSample")
	}
	t, err := m.lookup("AddSample", trackID)
	if err != nil {
		return err
	}
	if err = t.checkDescription("AddSample", descIndex); err != nil {
		return err
	}
	if err = t.checkDTS("AddSample", s.DTS); err != nil {
		return err
	}
	if err = t.checkGap("AddSample", s.DTS); err != nil {
		return err
	}
	if err = checkPayload("AddSample", s); err != nil {
		return err
	}
	s.Size = uint32(len(s.Data)) //nolint:gosec
	rec := sampleRecord{
		dts:       s.DTS,
		ctsOffset: s.CTSOffset,
		size:      s.Size,
		sync:      s.IsSync,
		desc:      descIndex,
		duration:  s.Duration,
		order:     m.order,
	}
	m.order++

	switch m.mode {
	case isom.ModeFlat:
		if rec.offset, err = m.writeFlatSample(s.Data); err != nil {
			return err
		}
	case isom.ModeEdit:
		rec.data = slices.Clone(s.Data)
	}
	t.samples = append(t.samples, rec)
	t.advance(s.DTS)
	return nil
}

func checkPayload(op string, s isom.Sample) error {
	if s.Data == nil && s.Size != 0 {
		return &utils.MalformedBoxError{
			Path:   []string{"stsz"},
			Reason: fmt.Sprintf("%s: %d bytes declared without data", op, s.Size),
		}
	}
	return nil
}

// SampleCount returns the number of samples of a track.
func (m *Movie) SampleCount(trackID uint32) (int, error) {
	t, err := m.lookup("SampleCount", trackID)
	if err != nil {
		return 0, err
	}
	return t.SampleCount(), nil
}

// GetSample returns the index-th sample of a track, 1-based. Flat movies do not keep
// payloads, so their samples carry no Data. Progressive movies return IncompleteInput
// while the payload has not arrived.
func (m *Movie) GetSample(trackID uint32, index int) (isom.Sample, error) {
	t, err := m.lookup("GetSample", trackID)
	if err != nil {
		return isom.Sample{}, err
	}
	rec, err := t.sample("GetSample", index)
	if err != nil {
		return isom.Sample{}, err
	}
	s := rec.sample()
	if m.mode == isom.ModeRead && rec.size > 0 {
		if m.prog == nil {
			return isom.Sample{}, m.invalid("GetSample")
		}
		if s.Data, err = m.prog.sampleData(rec.offset, rec.size); err != nil {
			return isom.Sample{}, err
		}
	}
	return s, nil
}

// SetWriteCallback routes the output to callbacks. It must be called before any byte is
// produced. maxDistance bounds how far behind the write position onPatch can reach.
func (m *Movie) SetWriteCallback(onBlock func([]byte) error, onPatch func([]byte, int64) error, maxDistance int64) error {
	if err := m.writable("SetWriteCallback"); err != nil {
		return err
	}
	if m.w != nil {
		return m.invalid("SetWriteCallback")
	}
	if onBlock == nil {
		return &utils.InvalidStateError{Op: "SetWriteCallback", State: "onBlock is required"}
	}
	m.sink = &bitio.CallbackSink{OnBlock: onBlock, OnPatch: onPatch, MaxDistance: maxDistance}
	return nil
}

// AddProtectionHeader carries a pssh box in moov, or in the open fragment once the
// initialization segment has been written.
func (m *Movie) AddProtectionHeader(p *mp4io.ProtectionSystemHeader) error {
	if err := m.writable("AddProtectionHeader"); err != nil {
		return err
	}
	switch {
	case m.mode != isom.ModeFragmented || m.w == nil:
		m.pssh = append(m.pssh, p)
	case m.frag != nil:
		m.frag.pssh = append(m.frag.pssh, p)
	default:
		return m.invalid("AddProtectionHeader")
	}
	return nil
}

// begin creates the writer and emits whatever precedes the first sample.
func (m *Movie) begin() error {
	if m.w != nil {
		return m.w.Err()
	}
	if m.sink == nil {
		return &utils.InvalidStateError{Op: "write", State: "no output sink"}
	}
	m.w = bitio.NewWriter(m.sink)
	switch m.mode {
	case isom.ModeFlat:
		return m.beginFlat()
	case isom.ModeFragmented:
		return m.writeInit()
	}
	return nil
}

// Close finalizes the output. Read sessions just release their buffers.
func (m *Movie) Close() error {
	if m.closed {
		return m.invalid("Close")
	}
	var err error
	switch m.mode {
	case isom.ModeFlat:
		err = m.closeFlat()
	case isom.ModeEdit:
		err = m.closeEdit()
	case isom.ModeFragmented:
		err = m.closeFragmented()
	case isom.ModeRead:
		m.prog = nil
	}
	m.closed = true
	if err != nil {
		logger.Errorf(m, "close failed: %v", err)
		return err
	}
	if m.w != nil {
		if n := m.w.Outstanding(); n != 0 {
			return &utils.IOFailureError{Op: "close", Offset: m.w.Pos(), Err: fmt.Errorf("%d placeholders left unresolved", n)}
		}
		if f, ok := m.sink.(bitio.Flusher); ok {
			if err = f.Flush(); err != nil {
				return &utils.IOFailureError{Op: "flush", Offset: m.w.Pos(), Err: err}
			}
		}
		logger.Debugf(m, "closed after %d bytes", m.w.Pos())
	}
	return nil
}

func (m *Movie) fileType(tag mp4io.Tag) *mp4io.FileType {
	return &mp4io.FileType{
		Type:             tag,
		MajorBrand:       m.majorBrand,
		MinorVersion:     m.minor,
		CompatibleBrands: slices.Clone(m.compatible),
	}
}

// movieDuration returns the presentation length of t in the movie timescale.
func (m *Movie) movieDuration(t *Track) uint64 {
	return rescale(t.firstDTS()+t.Duration(), t.Timescale, m.timescale)
}

// fitTimescale raises the movie timescale until the first decode time of every track
// converts exactly, so that the empty edit reproduces it on read.
func (m *Movie) fitTimescale() error {
	ts := uint64(m.timescale)
	for _, t := range m.tracks {
		if t.startsExactly(uint32(ts)) { //nolint:gosec
			continue
		}
		ts = ts / gcd(ts, uint64(t.Timescale)) * uint64(t.Timescale)
		if ts > math.MaxUint32 {
			return &utils.MalformedBoxError{
				Path:   []string{"mvhd"},
				Reason: fmt.Sprintf("no movie timescale keeps the start %d of %s exact", t.firstDTS(), t),
			}
		}
	}
	if ts != uint64(m.timescale) {
		logger.Infof(m, "movie timescale raised from %d to %d to keep track start times exact", m.timescale, ts)
		m.timescale = uint32(ts)
	}
	return nil
}

func gcd(a, b uint64) uint64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// buildMoov assembles the movie box. stbl returns the sample table of each track;
// fragmented movies get empty tables and an mvex.
func (m *Movie) buildMoov(stbl func(*Track) (*mp4io.Container, error)) (*mp4io.Container, error) {
	fragmented := m.mode == isom.ModeFragmented
	if !fragmented {
		if err := m.fitTimescale(); err != nil {
			return nil, err
		}
	}
	mvhd := &mp4io.MovieHeader{
		TimeScale:       m.timescale,
		PreferredRate:   0x10000,
		PreferredVolume: 0x100,
		Matrix:          mp4io.IdentityMatrix,
		NextTrackID:     1,
	}
	moov := mp4io.NewContainer(mp4io.MOOV, mvhd)
	mvex := mp4io.NewContainer(mp4io.MVEX)
	if fragmented && m.cfg.FragmentDuration > 0 {
		mehd := &mp4io.MovieExtendHeader{FragmentDuration: m.cfg.FragmentDuration}
		if mehd.FragmentDuration > 0xffffffff {
			mehd.Version = 1
		}
		mvex.Add(mehd)
	}

	for _, t := range m.tracks {
		table, err := stbl(t)
		if err != nil {
			return nil, err
		}
		var duration uint64
		if !fragmented {
			duration = m.movieDuration(t)
		}
		mvhd.Duration = max(mvhd.Duration, duration)
		mvhd.NextTrackID = max(mvhd.NextTrackID, t.ID+1)
		moov.Add(m.buildTrak(t, table, duration))
		if fragmented {
			mvex.Add(&mp4io.TrackExtend{
				TrackID:               t.ID,
				DefaultSampleDescIdx:  max(t.DefaultDescription, 1),
				DefaultSampleDuration: t.DefaultDuration,
				DefaultSampleSize:     t.DefaultSize,
				DefaultSampleFlags:    t.DefaultFlags,
			})
		}
	}
	mvhd.FitVersion()
	if fragmented {
		moov.Add(mvex)
	}
	moov.Add(m.extras...)
	moov.Add(m.pssh...)
	return moov, nil
}

func (m *Movie) buildTrak(t *Track, stbl *mp4io.Container, duration uint64) *mp4io.Container {
	tkhd := &mp4io.TrackHeader{
		FullHeader: mp4io.FullHeader{Flags: mp4io.TrackEnabled | mp4io.TrackInMovie | mp4io.TrackInPreview},
		TrackID:    t.ID,
		Duration:   duration,
		Matrix:     mp4io.IdentityMatrix,
		Width:      t.Width << 16,
		Height:     t.Height << 16,
	}
	if t.MediaType == isom.Audio {
		tkhd.Volume = 0x100
	}
	tkhd.FitVersion()

	mdhd := &mp4io.MediaHeader{TimeScale: t.Timescale}
	if m.mode != isom.ModeFragmented {
		mdhd.Duration = t.Duration()
	}
	mdhd.SetLanguageCode(t.Language)
	mdhd.FitVersion()

	hdlr := &mp4io.HandlerRefer{
		HandlerType: mp4io.Tag(t.MediaType),
		Name:        append([]byte(t.HandlerName), 0),
	}

	var mediaInfo mp4io.Box
	switch t.MediaType {
	case isom.Video:
		mediaInfo = &mp4io.VideoMediaInfo{FullHeader: mp4io.FullHeader{Flags: 1}}
	case isom.Audio:
		mediaInfo = &mp4io.SoundMediaInfo{}
	default:
		mediaInfo = &mp4io.NullMediaInfo{}
	}
	minf := mp4io.NewContainer(mp4io.MINF,
		mediaInfo,
		mp4io.NewContainer(mp4io.DINF, mp4io.NewSelfContainedDataRefer()),
		stbl,
	)

	trak := mp4io.NewContainer(mp4io.TRAK, tkhd)
	if m.mode != isom.ModeFragmented {
		if edts := editList(t, m.timescale); edts != nil {
			trak.Add(edts)
		}
	}
	trak.Add(mp4io.NewContainer(mp4io.MDIA, mdhd, hdlr, minf))
	trak.Add(t.extra...)
	return trak
}
