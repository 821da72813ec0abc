package mp4

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/deepch/vdk/utils/bits/pio"
	"github.com/ugparu/isom"
	"github.com/ugparu/isom/format/mp4/mp4io"
	"github.com/ugparu/isom/utils"
	"github.com/ugparu/isom/utils/buffer"
	"github.com/ugparu/isom/utils/logger"
)

// FragmentFlags tune the layout of a fragment.
type FragmentFlags uint8

const (
	// FragmentRunPerSync starts a new track run at every sync sample.
	FragmentRunPerSync FragmentFlags = 1 << iota
	// FragmentOmitTfdt leaves out tfdt; readers continue from the accumulated track time.
	FragmentOmitTfdt
)

type fragSample struct {
	dts       uint64
	ctsOffset int32
	sync      bool
	duration  uint32
	data      buffer.PooledBuffer
	aux       []byte
}

func (s *fragSample) flags() uint32 {
	if s.sync {
		return mp4io.SampleNoDependencies
	}
	return mp4io.SampleNonKeyframe
}

type fragTraf struct {
	track *Track
	desc  uint32
	runs  [][]*fragSample
}

type fragment struct {
	seq     uint32
	flags   FragmentFlags
	trafs   []*fragTraf
	pssh    []mp4io.Box
	samples int
}

func (f *fragment) release() {
	for _, tr := range f.trafs {
		for _, run := range tr.runs {
			for _, s := range run {
				s.data.Release()
			}
		}
	}
}

// FragmentInfo describes a written fragment. Times are in the timescale of TrackID, the
// first track of the movie that has samples in the fragment.
type FragmentInfo struct {
	Sequence      uint32
	Offset        int64 // of the moof
	Size          int64 // moof and mdat
	Samples       int
	TrackID       uint32
	EarliestPTS   int64
	Duration      uint64
	StartsWithSAP bool
}

type trackStats struct {
	earliest int64
	duration uint64
	sap      bool
	seen     bool
}

// StartFragment closes the open fragment, if any, and opens the next one. The
// initialization segment is written before the first fragment.
func (m *Movie) StartFragment(flags FragmentFlags) error {
	if m.closed || m.mode != isom.ModeFragmented {
		return m.invalid("StartFragment")
	}
	if m.frag != nil {
		if _, err := m.FlushFragment(); err != nil {
			return err
		}
	}
	if err := m.begin(); err != nil {
		return err
	}
	m.seq++
	m.frag = &fragment{seq: m.seq, flags: flags}
	return nil
}

// FragmentAddSample buffers a sample in the open fragment. defaultDuration is used for
// the last sample of the track when the sample carries no duration of its own.
func (m *Movie) FragmentAddSample(trackID uint32, s isom.Sample, defaultDuration uint32) error {
	if m.closed || m.mode != isom.ModeFragmented || m.frag == nil {
		return m.invalid("FragmentAddSample")
	}
	t, err := m.lookup("FragmentAddSample", trackID)
	if err != nil {
		return err
	}
	desc := s.DescriptionIndex
	if desc == 0 {
		desc = max(t.DefaultDescription, 1)
	}
	if err = t.checkDescription("FragmentAddSample", desc); err != nil {
		return err
	}
	if err = t.checkDTS("FragmentAddSample", s.DTS); err != nil {
		return err
	}
	if err = checkPayload("FragmentAddSample", s); err != nil {
		return err
	}
	if len(s.AuxInfo) > math.MaxUint8 {
		return &utils.MalformedBoxError{
			Path:   []string{"saiz"},
			Reason: fmt.Sprintf("%s aux info of %d bytes", t, len(s.AuxInfo)),
		}
	}
	if t.pending != nil {
		delta := s.DTS - t.pending.dts
		if delta > math.MaxUint32 {
			return &utils.MalformedBoxError{
				Path:   []string{"trun"},
				Reason: fmt.Sprintf("%s sample lasts %d ticks", t, delta),
			}
		}
		t.pending.duration = uint32(delta)
		t.lastDelta, t.hasDelta = uint32(delta), true
	}

	f := m.frag
	var tr *fragTraf
	for i := len(f.trafs) - 1; i >= 0; i-- {
		if f.trafs[i].track == t {
			tr = f.trafs[i]
			break
		}
	}
	if tr == nil || tr.desc != desc {
		tr = &fragTraf{track: t, desc: desc}
		f.trafs = append(f.trafs, tr)
	}
	if n := len(tr.runs); n == 0 || (f.flags&FragmentRunPerSync != 0 && s.IsSync && len(tr.runs[n-1]) > 0) {
		tr.runs = append(tr.runs, nil)
	}

	buf := buffer.Get(len(s.Data))
	copy(buf.Data(), s.Data)
	fs := &fragSample{
		dts:       s.DTS,
		ctsOffset: s.CTSOffset,
		sync:      s.IsSync,
		duration:  s.Duration,
		data:      buf,
		aux:       slices.Clone(s.AuxInfo),
	}
	if fs.duration == 0 {
		fs.duration = defaultDuration
	}
	last := len(tr.runs) - 1
	tr.runs[last] = append(tr.runs[last], fs)
	t.pending = fs
	t.advance(s.DTS)
	f.samples++
	return nil
}

// SetFragmentReferenceTime emits a prft box before the next moof, tying mediaTime of a
// track to a wall-clock time.
func (m *Movie) SetFragmentReferenceTime(trackID uint32, wall time.Time, mediaTime uint64) error {
	if m.closed || m.mode != isom.ModeFragmented {
		return m.invalid("SetFragmentReferenceTime")
	}
	if _, err := m.lookup("SetFragmentReferenceTime", trackID); err != nil {
		return err
	}
	m.prft = &mp4io.ProducerReferenceTime{
		FullHeader:       mp4io.FullHeader{Version: 1},
		ReferenceTrackID: trackID,
		NTPTimestamp:     mp4io.NTPTime(wall),
		MediaTime:        mediaTime,
	}
	return nil
}

// FlushFragment writes the open fragment as a moof followed by its mdat and releases
// its samples. A fragment without samples is dropped.
func (m *Movie) FlushFragment() (FragmentInfo, error) {
	if m.closed || m.mode != isom.ModeFragmented || m.frag == nil {
		return FragmentInfo{}, m.invalid("FlushFragment")
	}
	f := m.frag
	m.frag = nil
	defer f.release()

	for _, t := range m.tracks {
		if t.pending != nil && t.pending.duration == 0 {
			if t.hasDelta {
				t.pending.duration = t.lastDelta
			} else {
				t.pending.duration = t.DefaultDuration
			}
		}
		t.pending = nil
	}
	info := FragmentInfo{Sequence: f.seq, Samples: f.samples}
	if f.samples == 0 {
		m.seq--
		if len(f.pssh) > 0 {
			logger.Warningf(m, "dropping %d protection headers of an empty fragment", len(f.pssh))
		}
		return info, nil
	}

	if m.prft != nil {
		if err := mp4io.Encode(m.w, m.prft); err != nil {
			return info, err
		}
		m.prft = nil
	}
	info.Offset = m.w.Pos()

	moof, runs, stats := m.buildMoof(f)
	var payload int64
	for _, r := range runs {
		for _, s := range r.samples {
			payload += int64(s.data.Len())
		}
	}
	mdatHdr := int64(mp4io.HeaderSize)
	if payload+mdatHdr > math.MaxUint32 {
		mdatHdr = mp4io.LargeHeaderSize
	}
	off := int64(moof.Len()) + mdatHdr
	for _, r := range runs {
		if off > math.MaxInt32 {
			return info, &utils.MalformedBoxError{
				Path:   []string{"moof", "traf", "trun"},
				Reason: fmt.Sprintf("fragment %d data offset %d does not fit", f.seq, off),
			}
		}
		r.box.DataOffset = int32(off)
		for _, s := range r.samples {
			off += int64(s.data.Len())
		}
	}
	if err := mp4io.Encode(m.w, moof); err != nil {
		return info, err
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
		return info, err
	}
	for _, r := range runs {
		for _, s := range r.samples {
			if _, err := m.w.Write(s.data.Data()); err != nil {
				return info, err
			}
		}
	}
	info.Size = m.w.Pos() - info.Offset

	for _, t := range m.tracks {
		if st, ok := stats[t.ID]; ok {
			info.TrackID, info.EarliestPTS, info.Duration, info.StartsWithSAP = t.ID, st.earliest, st.duration, st.sap
			break
		}
	}
	if m.seg != nil {
		m.seg.add(stats, info)
	}
	logger.Debugf(m, "fragment %d: %d samples, %d bytes at %d", f.seq, f.samples, info.Size, info.Offset)
	return info, nil
}

type runRef struct {
	box     *mp4io.TrackFragRun
	samples []*fragSample
}

func (m *Movie) buildMoof(f *fragment) (*mp4io.Container, []runRef, map[uint32]*trackStats) {
	moof := mp4io.NewContainer(mp4io.MOOF, &mp4io.MovieFragHeader{Seqnum: f.seq})
	moof.Add(f.pssh...)
	var runs []runRef
	var aux []*auxRef
	stats := make(map[uint32]*trackStats)

	for _, tr := range f.trafs {
		t := tr.track
		var first, second *fragSample
		for _, run := range tr.runs {
			for _, s := range run {
				switch {
				case first == nil:
					first = s
				case second == nil:
					second = s
				}
			}
		}
		if first == nil {
			continue
		}
		if second == nil {
			second = first
		}

		tfhd := &mp4io.TrackFragHeader{
			FullHeader: mp4io.FullHeader{
				Flags: mp4io.TFHDDefaultBaseIsMOOF | mp4io.TFHDDefaultDuration | mp4io.TFHDDefaultSize | mp4io.TFHDDefaultFlags,
			},
			TrackID:         t.ID,
			DefaultDuration: first.duration,
			DefaultSize:     uint32(first.data.Len()), //nolint:gosec
			DefaultFlags:    second.flags(),
		}
		if tr.desc != max(t.DefaultDescription, 1) {
			tfhd.Flags |= mp4io.TFHDStsdID
			tfhd.StsdID = tr.desc
		}
		traf := mp4io.NewContainer(mp4io.TRAF, tfhd)
		if f.flags&FragmentOmitTfdt == 0 {
			traf.Add(&mp4io.TrackFragDecodeTime{FullHeader: mp4io.FullHeader{Version: 1}, Time: first.dts})
		}

		st := stats[t.ID]
		if st == nil {
			st = &trackStats{}
			stats[t.ID] = st
		}
		for _, run := range tr.runs {
			if len(run) == 0 {
				continue
			}
			trun := &mp4io.TrackFragRun{FullHeader: mp4io.FullHeader{Flags: mp4io.TRUNDataOffset}}
			for k, s := range run {
				e := mp4io.TrackFragRunEntry{
					Duration: s.duration,
					Size:     uint32(s.data.Len()), //nolint:gosec
					Flags:    s.flags(),
					CTS:      s.ctsOffset,
				}
				if e.Duration != tfhd.DefaultDuration {
					trun.Flags |= mp4io.TRUNSampleDuration
				}
				if e.Size != tfhd.DefaultSize {
					trun.Flags |= mp4io.TRUNSampleSize
				}
				if k > 0 && e.Flags != tfhd.DefaultFlags {
					trun.Flags |= mp4io.TRUNSampleFlags
				}
				if e.CTS != 0 {
					trun.Flags |= mp4io.TRUNSampleCTS
					if e.CTS < 0 {
						trun.Version = 1
					}
				}
				trun.Entries = append(trun.Entries, e)

				pts := int64(s.dts) + int64(s.ctsOffset) //nolint:gosec
				if !st.seen || pts < st.earliest {
					st.earliest = pts
				}
				if !st.seen {
					st.sap = s.sync
				}
				st.seen = true
				st.duration += uint64(s.duration)
			}
			if lead := run[0].flags(); lead != tfhd.DefaultFlags && trun.Flags&mp4io.TRUNSampleFlags == 0 {
				trun.Flags |= mp4io.TRUNFirstSampleFlags
				trun.FirstSampleFlags = lead
			}
			traf.Add(trun)
			runs = append(runs, runRef{box: trun, samples: run})
		}
		if a := addAuxInfo(traf, tr); a != nil {
			aux = append(aux, a)
		}
		moof.Add(traf)
	}
	for _, a := range aux {
		off, _ := boxOffset(moof, a.senc)
		a.saio.Offsets[0] = uint64(off + a.senc.DataOffset()) //nolint:gosec
	}
	return moof, runs, stats
}

type auxRef struct {
	saio *mp4io.SampleAuxInfoOffsets
	senc *mp4io.SampleEncryption
}

// addAuxInfo appends saiz, saio and senc to traf when any of its samples carries
// auxiliary information. The saio offset is resolved once the moof is complete.
func addAuxInfo(traf *mp4io.Container, tr *fragTraf) *auxRef {
	var sizes []uint8
	var data []byte
	for _, run := range tr.runs {
		for _, s := range run {
			sizes = append(sizes, uint8(len(s.aux))) //nolint:gosec
			data = append(data, s.aux...)
		}
	}
	if len(data) == 0 {
		return nil
	}
	saiz := &mp4io.SampleAuxInfoSizes{SampleCount: uint32(len(sizes))} //nolint:gosec
	if slices.IndexFunc(sizes, func(v uint8) bool { return v != sizes[0] }) < 0 {
		saiz.DefaultSize = sizes[0]
	} else {
		saiz.Sizes = sizes
	}
	a := &auxRef{
		saio: &mp4io.SampleAuxInfoOffsets{Offsets: []uint64{0}},
		senc: &mp4io.SampleEncryption{SampleCount: uint32(len(sizes)), Data: data}, //nolint:gosec
	}
	if tr.track.AuxSubsamples {
		a.senc.Flags = mp4io.SencSubsamples
	}
	traf.Add(saiz, a.saio, a.senc)
	return a
}

// boxOffset returns the position of target within c, searching nested containers.
func boxOffset(c *mp4io.Container, target mp4io.Box) (int, bool) {
	pos := c.Len() - len(c.Terminator)
	for _, b := range c.Boxes {
		pos -= b.Len()
	}
	for _, b := range c.Boxes {
		if b == target {
			return pos, true
		}
		if sub, ok := b.(*mp4io.Container); ok {
			if off, found := boxOffset(sub, target); found {
				return pos + off, true
			}
		}
		pos += b.Len()
	}
	return 0, false
}

// writeInit emits ftyp and a moov with empty sample tables.
func (m *Movie) writeInit() error {
	if err := mp4io.Encode(m.w, m.fileType(mp4io.FTYP)); err != nil {
		return err
	}
	moov, err := m.buildMoov(func(t *Track) (*mp4io.Container, error) {
		return buildSampleTable(t, 0)
	})
	if err != nil {
		return err
	}
	if err = mp4io.Encode(m.w, moov); err != nil {
		return err
	}
	logger.Debugf(m, "initialization segment of %d bytes", m.w.Pos())
	return nil
}

func (m *Movie) closeFragmented() error {
	if m.frag != nil {
		if _, err := m.FlushFragment(); err != nil {
			return err
		}
	}
	if m.seg != nil {
		if _, err := m.CloseSegment(); err != nil {
			return err
		}
	}
	return m.begin()
}
