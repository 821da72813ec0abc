package mp4

import (
	"fmt"
	"math"

	"github.com/ugparu/isom/format/mp4/mp4io"
	"github.com/ugparu/isom/utils"
)

// Upper bound on the samples a single track may declare.
const maxTrackSamples = 1 << 26

func rescale(v uint64, from, to uint32) uint64 {
	if from == to || from == 0 {
		return v
	}
	return v/uint64(from)*uint64(to) + v%uint64(from)*uint64(to)/uint64(from)
}

// sampleDurations derives per-sample durations from decode time deltas. The last sample
// takes its hint, or repeats the previous delta.
func sampleDurations(recs []sampleRecord) ([]uint32, error) {
	durs := make([]uint32, len(recs))
	for i := range recs {
		switch {
		case i+1 < len(recs):
			d := recs[i+1].dts - recs[i].dts
			if d > math.MaxUint32 {
				return nil, &utils.MalformedBoxError{
					Path:   []string{"stts"},
					Reason: fmt.Sprintf("sample %d lasts %d ticks", i+1, d),
				}
			}
			durs[i] = uint32(d)
		case recs[i].duration != 0:
			durs[i] = recs[i].duration
		case i > 0:
			durs[i] = durs[i-1]
		}
	}
	return durs, nil
}

// buildSampleTable serializes the samples of t into an stbl. Chunk offsets are
// record offsets shifted by base.
func buildSampleTable(t *Track, base int64) (*mp4io.Container, error) {
	stsd := &mp4io.SampleDesc{}
	for _, d := range t.Descriptions {
		stsd.Entries = append(stsd.Entries, d.entry())
	}
	durs, err := sampleDurations(t.samples)
	if err != nil {
		return nil, err
	}

	stts := &mp4io.TimeToSample{}
	for _, d := range durs {
		if n := len(stts.Entries); n > 0 && stts.Entries[n-1].Duration == d {
			stts.Entries[n-1].Count++
			continue
		}
		stts.Entries = append(stts.Entries, mp4io.TimeToSampleEntry{Count: 1, Duration: d})
	}

	stbl := mp4io.NewContainer(mp4io.STBL, stsd, stts)

	var ctts *mp4io.CompositionOffset
	for i := range t.samples {
		if t.samples[i].ctsOffset != 0 {
			ctts = &mp4io.CompositionOffset{}
			break
		}
	}
	if ctts != nil {
		for i := range t.samples {
			off := t.samples[i].ctsOffset
			if off < 0 {
				ctts.Version = 1
			}
			if n := len(ctts.Entries); n > 0 && ctts.Entries[n-1].Offset == off {
				ctts.Entries[n-1].Count++
				continue
			}
			ctts.Entries = append(ctts.Entries, mp4io.CompositionOffsetEntry{Count: 1, Offset: off})
		}
		stbl.Add(ctts)
	}

	stss := &mp4io.SyncSample{}
	allSync := true
	for i := range t.samples {
		if t.samples[i].sync {
			stss.Entries = append(stss.Entries, uint32(i+1)) //nolint:gosec
		} else {
			allSync = false
		}
	}
	if !allSync {
		stbl.Add(stss)
	}

	stsz := &mp4io.SampleSize{}
	uniform := len(t.samples) > 0
	for i := range t.samples {
		if t.samples[i].size != t.samples[0].size || t.samples[i].size == 0 {
			uniform = false
			break
		}
	}
	if uniform {
		stsz.SampleSize = t.samples[0].size
		stsz.SampleCount = uint32(len(t.samples)) //nolint:gosec
	} else {
		stsz.Entries = make([]uint32, len(t.samples))
		for i := range t.samples {
			stsz.Entries[i] = t.samples[i].size
		}
	}

	stsc := &mp4io.SampleToChunk{}
	stco := &mp4io.ChunkOffset{Type: mp4io.STCO}
	var perChunk uint32
	flush := func(desc uint32) {
		n := len(stsc.Entries)
		if n > 0 && stsc.Entries[n-1].SamplesPerChunk == perChunk && stsc.Entries[n-1].SampleDescID == desc {
			return
		}
		stsc.Entries = append(stsc.Entries, mp4io.SampleToChunkEntry{
			FirstChunk:      uint32(len(stco.Entries)), //nolint:gosec
			SamplesPerChunk: perChunk,
			SampleDescID:    desc,
		})
	}
	for i := range t.samples {
		r := &t.samples[i]
		if i > 0 {
			prev := &t.samples[i-1]
			if prev.desc == r.desc && prev.offset+int64(prev.size) == r.offset {
				perChunk++
				continue
			}
			flush(prev.desc)
		}
		off := base + r.offset
		if off < 0 {
			return nil, malformedTable("%s sample %d has negative offset", t, i+1)
		}
		stco.Entries = append(stco.Entries, uint64(off))
		if uint64(off) > math.MaxUint32 {
			stco.Type = mp4io.CO64
		}
		perChunk = 1
	}
	if n := len(t.samples); n > 0 {
		flush(t.samples[n-1].desc)
	}
	stbl.Add(stsz, stsc, stco)
	return stbl, nil
}

// editList returns the edts shifting presentation by the first decode time of t,
// or nil when the track starts at zero.
func editList(t *Track, movieTimescale uint32) *mp4io.Container {
	first := t.firstDTS()
	if first == 0 {
		return nil
	}
	elst := &mp4io.EditList{Entries: []mp4io.EditListEntry{
		{SegmentDuration: rescale(first, t.Timescale, movieTimescale), MediaTime: -1, MediaRateInteger: 1},
		{SegmentDuration: rescale(t.Duration(), t.Timescale, movieTimescale), MediaTime: 0, MediaRateInteger: 1},
	}}
	for _, e := range elst.Entries {
		if e.SegmentDuration > math.MaxUint32 {
			elst.Version = 1
		}
	}
	return mp4io.NewContainer(mp4io.EDTS, elst)
}

// emptyEditTime returns the track time covered by a leading empty edit.
func emptyEditTime(trak *mp4io.Container, timescale, movieTimescale uint32) uint64 {
	elst, ok := mp4io.FindPath(trak, mp4io.EDTS, mp4io.ELST).(*mp4io.EditList)
	if !ok || len(elst.Entries) == 0 || elst.Entries[0].MediaTime != -1 {
		return 0
	}
	return rescale(elst.Entries[0].SegmentDuration, movieTimescale, timescale)
}

func malformedTable(reason string, args ...any) error {
	return &utils.MalformedBoxError{Path: []string{"stbl"}, Reason: fmt.Sprintf(reason, args...)}
}

// loadSampleTable expands an stbl into sample records. Decode times start at start.
func loadSampleTable(t *Track, stbl *mp4io.Container, start uint64) error {
	stsd, _ := stbl.Child(mp4io.STSD).(*mp4io.SampleDesc)
	stts, _ := stbl.Child(mp4io.STTS).(*mp4io.TimeToSample)
	stsz, _ := stbl.Child(mp4io.STSZ).(*mp4io.SampleSize)
	stsc, _ := stbl.Child(mp4io.STSC).(*mp4io.SampleToChunk)
	if stsd == nil || stts == nil || stsz == nil || stsc == nil {
		return malformedTable("%s lacks a mandatory table", t)
	}
	stco, _ := stbl.Child(mp4io.STCO).(*mp4io.ChunkOffset)
	if stco == nil {
		stco, _ = stbl.Child(mp4io.CO64).(*mp4io.ChunkOffset)
	}
	if stco == nil {
		return malformedTable("%s has no chunk offsets", t)
	}

	for _, e := range stsd.Entries {
		switch entry := e.(type) {
		case *mp4io.SampleEntry:
			t.Descriptions = append(t.Descriptions, SampleDescription{
				Format: entry.Format, DataRefIndex: entry.DataRefIndex, Data: entry.Data,
			})
		default:
			raw, err := mp4io.Marshal(e)
			if err != nil {
				return err
			}
			if len(raw) < mp4io.HeaderSize+8 {
				return malformedTable("%s: sample entry %s is too short", t, e.Tag())
			}
			t.Descriptions = append(t.Descriptions, SampleDescription{Format: e.Tag(), DataRefIndex: 1, Data: raw[mp4io.HeaderSize+8:]})
		}
	}

	n := stsz.Count()
	if n > maxTrackSamples {
		return &utils.OutOfMemoryError{Requested: uint64(n), Limit: maxTrackSamples}
	}
	if total := stts.SampleCount(); total != uint64(n) {
		return malformedTable("%s: stts describes %d samples, stsz %d", t, total, n)
	}
	t.samples = make([]sampleRecord, n)

	dts := start
	i := 0
	for _, e := range stts.Entries {
		for range e.Count {
			t.samples[i].dts = dts
			t.samples[i].duration = e.Duration
			t.samples[i].size = stsz.Size(i)
			t.samples[i].sync = true
			dts += uint64(e.Duration)
			i++
		}
	}

	if ctts, ok := stbl.Child(mp4io.CTTS).(*mp4io.CompositionOffset); ok {
		i = 0
		for _, e := range ctts.Entries {
			for range e.Count {
				if i >= n {
					return malformedTable("%s: ctts describes more than %d samples", t, n)
				}
				t.samples[i].ctsOffset = e.Offset
				i++
			}
		}
	}

	if stss, ok := stbl.Child(mp4io.STSS).(*mp4io.SyncSample); ok {
		for i := range t.samples {
			t.samples[i].sync = false
		}
		for _, num := range stss.Entries {
			if num == 0 || int(num) > n {
				return malformedTable("%s: sync sample %d out of range", t, num)
			}
			t.samples[num-1].sync = true
		}
	}

	i = 0
	k := -1
	for ci, off := range stco.Entries {
		chunk := uint32(ci + 1) //nolint:gosec
		for k+1 < len(stsc.Entries) && stsc.Entries[k+1].FirstChunk <= chunk {
			k++
		}
		if k < 0 {
			return malformedTable("%s: chunk %d has no stsc entry", t, chunk)
		}
		entry := &stsc.Entries[k]
		pos := int64(off) //nolint:gosec
		for range entry.SamplesPerChunk {
			if i >= n {
				break
			}
			t.samples[i].offset = pos
			t.samples[i].desc = entry.SampleDescID
			pos += int64(t.samples[i].size)
			i++
		}
	}
	if i != n {
		return malformedTable("%s: chunks hold %d of %d samples", t, i, n)
	}
	for i := range t.samples {
		if err := t.checkDescription("load", t.samples[i].desc); err != nil {
			return err
		}
	}
	if n > 0 {
		last := &t.samples[n-1]
		t.advance(last.dts)
		t.fragTime = last.dts + uint64(last.duration)
	} else {
		t.fragTime = start
	}
	return nil
}
