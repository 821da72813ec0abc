package mp4

import (
	"fmt"
	"slices"

	"github.com/ugparu/isom/format/mp4/mp4io"
	"github.com/ugparu/isom/utils"
)

func malformedFragment(offset int64, path []string, reason string, args ...any) error {
	return &utils.MalformedBoxError{
		Path:   append([]string{"moof"}, path...),
		Offset: offset,
		Reason: fmt.Sprintf(reason, args...),
	}
}

// mergeFragment appends the samples described by moof to their tracks and returns the
// ids of the tracks that changed. Data offsets resolve against the moof start unless
// tfhd carries an explicit base.
func (m *Movie) mergeFragment(moof *mp4io.Container, moofOffset int64) ([]uint32, error) {
	var ids []uint32
	dataEnd := moofOffset
	for i, b := range moof.ChildrenOf(mp4io.TRAF) {
		traf, _ := b.(*mp4io.Container)
		if traf == nil {
			continue
		}
		tfhd, ok := traf.Child(mp4io.TFHD).(*mp4io.TrackFragHeader)
		if !ok {
			return nil, malformedFragment(moofOffset, []string{"traf", "tfhd"}, "missing track fragment header")
		}
		t := m.Track(tfhd.TrackID)
		if t == nil {
			return nil, malformedFragment(moofOffset, []string{"traf", "tfhd"}, "unknown track %d", tfhd.TrackID)
		}

		base := moofOffset
		switch {
		case tfhd.Flags&mp4io.TFHDBaseDataOffset != 0:
			base = int64(tfhd.BaseDataOffset) //nolint:gosec
		case tfhd.Flags&mp4io.TFHDDefaultBaseIsMOOF != 0:
		case i > 0:
			base = dataEnd
		}
		desc := t.DefaultDescription
		if tfhd.Flags&mp4io.TFHDStsdID != 0 {
			desc = tfhd.StsdID
		}
		defDuration, defSize, defFlags := t.DefaultDuration, t.DefaultSize, t.DefaultFlags
		if tfhd.Flags&mp4io.TFHDDefaultDuration != 0 {
			defDuration = tfhd.DefaultDuration
		}
		if tfhd.Flags&mp4io.TFHDDefaultSize != 0 {
			defSize = tfhd.DefaultSize
		}
		if tfhd.Flags&mp4io.TFHDDefaultFlags != 0 {
			defFlags = tfhd.DefaultFlags
		}

		dts := t.fragTime
		if tfdt, ok := traf.Child(mp4io.TFDT).(*mp4io.TrackFragDecodeTime); ok {
			dts = tfdt.Time
		}
		if err := t.checkDTS("merge", dts); err != nil {
			return nil, err
		}
		if err := t.checkDescription("merge", desc); err != nil {
			return nil, err
		}

		pos := base
		added := 0
		for _, rb := range traf.ChildrenOf(mp4io.TRUN) {
			trun, _ := rb.(*mp4io.TrackFragRun)
			if trun == nil {
				continue
			}
			if trun.Flags&mp4io.TRUNDataOffset != 0 {
				pos = base + int64(trun.DataOffset)
			}
			if len(t.samples)+len(trun.Entries) > maxTrackSamples {
				return nil, &utils.OutOfMemoryError{Requested: uint64(len(t.samples) + len(trun.Entries)), Limit: maxTrackSamples}
			}
			for k, e := range trun.Entries {
				rec := sampleRecord{dts: dts, desc: desc, offset: pos, duration: defDuration, size: defSize}
				flags := defFlags
				if trun.Flags&mp4io.TRUNSampleDuration != 0 {
					rec.duration = e.Duration
				}
				if trun.Flags&mp4io.TRUNSampleSize != 0 {
					rec.size = e.Size
				}
				if trun.Flags&mp4io.TRUNSampleFlags != 0 {
					flags = e.Flags
				}
				if k == 0 && trun.Flags&mp4io.TRUNFirstSampleFlags != 0 {
					flags = trun.FirstSampleFlags
				}
				if trun.Flags&mp4io.TRUNSampleCTS != 0 {
					rec.ctsOffset = e.CTS
				}
				rec.sync = flags&mp4io.SampleIsNonSync == 0
				t.samples = append(t.samples, rec)
				pos += int64(rec.size)
				dts += uint64(rec.duration)
				added++
			}
		}
		dataEnd = pos
		if added == 0 {
			continue
		}
		if err := loadAuxInfo(t, traf, t.samples[len(t.samples)-added:], moofOffset); err != nil {
			return nil, err
		}
		t.advance(t.samples[len(t.samples)-1].dts)
		t.fragTime = dts
		if !slices.Contains(ids, t.ID) {
			ids = append(ids, t.ID)
		}
	}
	return ids, nil
}

// loadAuxInfo splits the senc entries of a track fragment over its samples using the
// sizes announced by saiz. Without saiz the entry sizes are unknown and senc is ignored.
func loadAuxInfo(t *Track, traf *mp4io.Container, recs []sampleRecord, moofOffset int64) error {
	senc, ok := traf.Child(mp4io.SENC).(*mp4io.SampleEncryption)
	if !ok {
		return nil
	}
	saiz, ok := traf.Child(mp4io.SAIZ).(*mp4io.SampleAuxInfoSizes)
	if !ok {
		return nil
	}
	if int(senc.SampleCount) != len(recs) {
		return malformedFragment(moofOffset, []string{"traf", "senc"}, "%d entries for %d samples", senc.SampleCount, len(recs))
	}
	t.AuxSubsamples = senc.Flags&mp4io.SencSubsamples != 0
	data := senc.Data
	for i := range recs {
		n := saiz.Size(i)
		if n > len(data) {
			return malformedFragment(moofOffset, []string{"traf", "senc"}, "entry %d overruns the box", i+1)
		}
		if n > 0 {
			recs[i].aux = slices.Clone(data[:n])
		}
		data = data[n:]
	}
	return nil
}
