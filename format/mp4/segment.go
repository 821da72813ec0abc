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

// SegmentOptions tune the styp and sidx written by StartSegment.
type SegmentOptions struct {
	LastSegment bool     // adds the lmsg brand
	Brands      []string // overrides Config.SegmentBrands
	OmitIndex   bool     // no sidx
}

// SegmentInfo describes a closed segment. Times are in the timescale of ReferenceID.
type SegmentInfo struct {
	Offset        int64 // of the styp
	Size          int64
	Fragments     int
	ReferenceID   uint32
	EarliestPTS   int64
	Duration      uint64
	StartsWithSAP bool
}

type segment struct {
	start    int64
	index    bitio.Placeholder
	indexed  bool
	indexEnd int64
	ref      *Track

	fragments int
	stats     trackStats
}

func (s *segment) add(stats map[uint32]*trackStats, _ FragmentInfo) {
	s.fragments++
	if s.ref == nil {
		return
	}
	st, ok := stats[s.ref.ID]
	if !ok || !st.seen {
		return
	}
	if !s.stats.seen || st.earliest < s.stats.earliest {
		s.stats.earliest = st.earliest
	}
	if !s.stats.seen {
		s.stats.sap = st.sap
	}
	s.stats.seen = true
	s.stats.duration += st.duration
}

// sidx with a single reference, version 1.
func segmentIndex(ref *Track) *mp4io.SegmentIndex {
	return &mp4io.SegmentIndex{
		FullHeader:  mp4io.FullHeader{Version: 1},
		ReferenceID: ref.ID,
		Timescale:   ref.Timescale,
		Entries:     []mp4io.Reference{{}},
	}
}

// StartSegment writes a styp and reserves room for the sidx that CloseSegment fills in.
// An open fragment is flushed first.
func (m *Movie) StartSegment(opts SegmentOptions) error {
	if m.closed || m.mode != isom.ModeFragmented || m.seg != nil {
		return m.invalid("StartSegment")
	}
	if m.frag != nil {
		if _, err := m.FlushFragment(); err != nil {
			return err
		}
	}
	if err := m.begin(); err != nil {
		return err
	}

	brands := opts.Brands
	if len(brands) == 0 {
		brands = m.cfg.SegmentBrands
	}
	tags := brandTags(brands)
	if len(tags) == 0 {
		tags = []mp4io.Tag{mp4io.BrandMSDH}
	}
	styp := &mp4io.FileType{Type: mp4io.STYP, MajorBrand: tags[0], CompatibleBrands: slices.Clone(tags)}
	if !slices.Contains(styp.CompatibleBrands, mp4io.BrandMSIX) {
		styp.CompatibleBrands = append(styp.CompatibleBrands, mp4io.BrandMSIX)
	}
	if opts.LastSegment {
		styp.CompatibleBrands = append(styp.CompatibleBrands, mp4io.BrandLMSG)
	}

	seg := &segment{start: m.w.Pos()}
	if len(m.tracks) > 0 {
		seg.ref = m.tracks[0]
	}
	if err := mp4io.Encode(m.w, styp); err != nil {
		return err
	}
	if !opts.OmitIndex && seg.ref != nil {
		reserved, err := mp4io.Marshal(mp4io.NewFreeSpace(segmentIndex(seg.ref).Len()))
		if err != nil {
			return err
		}
		if seg.index, err = m.w.ReserveWith(reserved); err != nil {
			return err
		}
		seg.indexed = true
		seg.indexEnd = m.w.Pos()
	}
	m.seg = seg
	return nil
}

// CloseSegment flushes the open fragment and rewrites the reserved sidx with the size,
// duration and start of the segment.
func (m *Movie) CloseSegment() (SegmentInfo, error) {
	if m.closed || m.mode != isom.ModeFragmented || m.seg == nil {
		return SegmentInfo{}, m.invalid("CloseSegment")
	}
	if m.frag != nil {
		if _, err := m.FlushFragment(); err != nil {
			return SegmentInfo{}, err
		}
	}
	seg := m.seg
	m.seg = nil
	info := SegmentInfo{
		Offset:        seg.start,
		Size:          m.w.Pos() - seg.start,
		Fragments:     seg.fragments,
		EarliestPTS:   seg.stats.earliest,
		Duration:      seg.stats.duration,
		StartsWithSAP: seg.stats.sap,
	}
	if seg.ref != nil {
		info.ReferenceID = seg.ref.ID
	}
	if !seg.indexed {
		return info, nil
	}

	referenced := m.w.Pos() - seg.indexEnd
	if referenced >= 1<<31 || seg.stats.duration > math.MaxUint32 {
		return info, &utils.MalformedBoxError{
			Path:   []string{"sidx"},
			Reason: fmt.Sprintf("segment of %d bytes and %d ticks does not fit", referenced, seg.stats.duration),
		}
	}
	sidx := segmentIndex(seg.ref)
	sidx.EarliestPT = uint64(max(seg.stats.earliest, 0))
	sidx.Entries[0] = mp4io.Reference{
		ReferencedSize:     uint32(referenced),
		SubsegmentDuration: uint32(seg.stats.duration),
		StartsWithSAP:      seg.stats.sap,
	}
	if seg.stats.sap {
		sidx.Entries[0].SAPType = 1
	}
	b, err := mp4io.Marshal(sidx)
	if err != nil {
		return info, err
	}
	if err = m.w.Resolve(seg.index, b); err != nil {
		logger.Errorf(m, "segment index at %d: %v", seg.index.Offset, err)
		return info, err
	}
	logger.Debugf(m, "segment at %d: %d fragments, %d bytes", info.Offset, info.Fragments, info.Size)
	return info, nil
}
