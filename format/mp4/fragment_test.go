package mp4

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/ugparu/isom"
	"github.com/ugparu/isom/format/mp4/mp4io"
	"github.com/ugparu/isom/utils"
	"github.com/ugparu/isom/utils/bits/bitio"
)

func writeFragmented(t *testing.T, tracks []trackInput, perFragment int, segments bool) []byte {
	t.Helper()
	return writeFragmentedWith(t, &bitio.MemorySink{}, tracks, perFragment, segments, 0)
}

// writeFragmentedWith cuts the interleaved samples into fragments of perFragment samples,
// two fragments per segment when segments is set.
func writeFragmentedWith(t *testing.T, sink *bitio.MemorySink, tracks []trackInput, perFragment int, segments bool, flags FragmentFlags) []byte {
	t.Helper()
	m, err := Open(sink, isom.ModeFragmented, DefaultConfig())
	require.NoError(t, err)
	ids := setupTracks(t, m, tracks)
	n := 0
	for _, at := range interleave(tracks) {
		if n%perFragment == 0 {
			if segments && n/perFragment%2 == 0 {
				if m.seg != nil {
					_, err = m.CloseSegment()
					require.NoError(t, err)
				}
				require.NoError(t, m.StartSegment(SegmentOptions{}))
			}
			require.NoError(t, m.StartFragment(flags))
		}
		require.NoError(t, m.FragmentAddSample(ids[at[0]], tracks[at[0]].samples[at[1]], 0))
		n++
	}
	require.NoError(t, m.Close())
	return sink.Bytes()
}

func topLevel(m *Movie, tag mp4io.Tag) []mp4io.Box {
	var out []mp4io.Box
	for _, b := range m.Boxes() {
		if b.Tag() == tag {
			out = append(out, b)
		}
	}
	return out
}

func TestTextTrackSingleFragment(t *testing.T) {
	t.Parallel()

	sink := &bitio.MemorySink{}
	m, err := Open(sink, isom.ModeFragmented, DefaultConfig())
	require.NoError(t, err)
	in := textTrack(10, 2000)
	ids := setupTracks(t, m, []trackInput{in})

	require.NoError(t, m.StartFragment(0))
	for _, s := range in.samples {
		require.NoError(t, m.FragmentAddSample(ids[0], s, 2000))
	}
	info, err := m.FlushFragment()
	require.NoError(t, err)
	require.Equal(t, uint32(1), info.Sequence)
	require.Equal(t, 10, info.Samples)
	require.Equal(t, ids[0], info.TrackID)
	require.Equal(t, uint64(20000), info.Duration)
	require.Zero(t, info.EarliestPTS)
	require.True(t, info.StartsWithSAP)
	require.NoError(t, m.Close())

	out := readMovie(t, sink.Bytes())
	moofs := topLevel(out, mp4io.MOOF)
	require.Len(t, moofs, 1)
	truns := mp4io.FindChildren(moofs[0], mp4io.TRAF).(*mp4io.Container).ChildrenOf(mp4io.TRUN)
	require.Len(t, truns, 1)
	require.Len(t, truns[0].(*mp4io.TrackFragRun).Entries, 10)
	require.Equal(t, expectedKeys([]trackInput{in}), samplesOf(t, out))
	require.Equal(t, uint64(20000), out.Track(ids[0]).Duration())
}

func TestFragmentAddSampleBeforeStart(t *testing.T) {
	t.Parallel()

	sink := &bitio.MemorySink{}
	m, err := Open(sink, isom.ModeFragmented, DefaultConfig())
	require.NoError(t, err)
	ids := setupTracks(t, m, []trackInput{textTrack(0, 0)})

	err = m.FragmentAddSample(ids[0], isom.Sample{Data: []byte("early"), IsSync: true}, 1000)
	var inv *utils.InvalidStateError
	require.ErrorAs(t, err, &inv)
	require.Empty(t, sink.Bytes())

	_, err = m.FlushFragment()
	require.ErrorAs(t, err, &inv)
	require.Empty(t, sink.Bytes())
}

func TestFragmentationEquivalence(t *testing.T) {
	t.Parallel()

	tracks := []trackInput{videoTrack(40, 8), audioTrack(50), textTrack(7, 900)}
	flat := samplesOf(t, readMovie(t, writeMovie(t, isom.ModeFlat, tracks)))

	tests := []struct {
		name        string
		perFragment int
		segments    bool
		flags       FragmentFlags
	}{
		{name: "one_fragment", perFragment: 1000},
		{name: "small_fragments", perFragment: 7},
		{name: "segments", perFragment: 11, segments: true},
		{name: "run_per_sync", perFragment: 20, flags: FragmentRunPerSync},
		{name: "no_tfdt", perFragment: 13, flags: FragmentOmitTfdt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data := writeFragmentedWith(t, &bitio.MemorySink{}, tracks, tt.perFragment, tt.segments, tt.flags)
			require.Equal(t, flat, samplesOf(t, readMovie(t, data)))
		})
	}
}

func TestMonotonicity(t *testing.T) {
	t.Parallel()

	t.Run("rejects_earlier_dts_in_later_fragment", func(t *testing.T) {
		t.Parallel()

		m, err := Open(&bitio.MemorySink{}, isom.ModeFragmented, DefaultConfig())
		require.NoError(t, err)
		ids := setupTracks(t, m, []trackInput{textTrack(0, 0)})
		require.NoError(t, m.StartFragment(0))
		require.NoError(t, m.FragmentAddSample(ids[0], isom.Sample{Data: []byte("a"), DTS: 4000, IsSync: true}, 0))
		require.NoError(t, m.StartFragment(0))
		err = m.FragmentAddSample(ids[0], isom.Sample{Data: []byte("b"), DTS: 1000, IsSync: true}, 0)
		var mb *utils.MalformedBoxError
		require.ErrorAs(t, err, &mb)
		require.Equal(t, "stts", mb.Box())
	})

	t.Run("read_back_is_non_decreasing", func(t *testing.T) {
		t.Parallel()

		data := writeFragmentedWith(t, &bitio.MemorySink{}, []trackInput{videoTrack(30, 5), audioTrack(30)}, 4, true, FragmentOmitTfdt)
		for id, keys := range samplesOf(t, readMovie(t, data)) {
			for i := 1; i < len(keys); i++ {
				require.GreaterOrEqual(t, keys[i].DTS, keys[i-1].DTS, "track %d sample %d", id, i+1)
			}
		}
	})
}

func TestPatchCompleteness(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		write func(t *testing.T, m *Movie, id uint32)
	}{
		{
			name: "flat",
			write: func(t *testing.T, m *Movie, id uint32) {
				for _, s := range textTrack(5, 100).samples {
					require.NoError(t, m.AddSample(id, 1, s))
				}
			},
		},
		{
			name: "open_segment",
			write: func(t *testing.T, m *Movie, id uint32) {
				require.NoError(t, m.StartSegment(SegmentOptions{}))
				require.NoError(t, m.StartFragment(0))
				for _, s := range textTrack(5, 100).samples {
					require.NoError(t, m.FragmentAddSample(id, s, 100))
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mode := isom.ModeFlat
			if tt.name != "flat" {
				mode = isom.ModeFragmented
			}
			sink := &bitio.MemorySink{}
			m, err := Open(sink, mode, DefaultConfig())
			require.NoError(t, err)
			ids := setupTracks(t, m, []trackInput{textTrack(0, 0)})
			tt.write(t, m, ids[0])
			require.NoError(t, m.Close())
			require.Zero(t, m.w.Outstanding())

			out := readMovie(t, sink.Bytes())
			for _, b := range out.Boxes() {
				if mdat, ok := b.(*mp4io.MediaData); ok {
					_, size := mdat.Pos()
					require.Equal(t, mdat.Len(), size)
				}
			}
			if mode == isom.ModeFragmented {
				require.Len(t, topLevel(out, mp4io.SIDX), 1)
				require.Empty(t, topLevel(out, mp4io.FREE), "sidx placeholder left in the output")
			}
		})
	}
}

func TestRingSinkPatchDistance(t *testing.T) {
	t.Parallel()

	big := isom.Sample{Data: bytes.Repeat([]byte{7}, 1000), IsSync: true}
	tests := []struct {
		name   string
		window int
		mode   isom.StorageMode
		fatal  bool
	}{
		{name: "flat_small_window", window: 128, mode: isom.ModeFlat, fatal: true},
		{name: "flat_large_window", window: 1 << 16, mode: isom.ModeFlat},
		{name: "segment_small_window", window: 128, mode: isom.ModeFragmented, fatal: true},
		{name: "segment_large_window", window: 1 << 16, mode: isom.ModeFragmented},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var out bytes.Buffer
			m, err := Open(bitio.NewRingSink(&out, tt.window), tt.mode, DefaultConfig())
			require.NoError(t, err)
			ids := setupTracks(t, m, []trackInput{textTrack(0, 0)})

			if tt.mode == isom.ModeFlat {
				for i := range 4 {
					s := big
					s.DTS = uint64(i) * 10
					require.NoError(t, m.AddSample(ids[0], 1, s))
				}
				err = m.Close()
			} else {
				require.NoError(t, m.StartSegment(SegmentOptions{}))
				require.NoError(t, m.StartFragment(0))
				for i := range 4 {
					s := big
					s.DTS = uint64(i) * 10
					require.NoError(t, m.FragmentAddSample(ids[0], s, 10))
				}
				_, err = m.CloseSegment()
				if err == nil {
					err = m.Close()
				}
			}

			if !tt.fatal {
				require.NoError(t, err)
				require.Len(t, samplesOf(t, readMovie(t, out.Bytes()))[ids[0]], 4)
				return
			}
			require.Error(t, err)
			require.True(t, utils.IsFatal(err))
			if tt.mode == isom.ModeFragmented {
				require.Error(t, m.Close())
			}
		})
	}
}

func TestSegmentIndex(t *testing.T) {
	t.Parallel()

	sink := &bitio.MemorySink{}
	m, err := Open(sink, isom.ModeFragmented, DefaultConfig())
	require.NoError(t, err)
	in := videoTrack(3, 3)
	ids := setupTracks(t, m, []trackInput{in})

	require.NoError(t, m.StartSegment(SegmentOptions{LastSegment: true}))
	var inv *utils.InvalidStateError
	require.ErrorAs(t, m.StartSegment(SegmentOptions{}), &inv)
	require.NoError(t, m.StartFragment(0))
	for _, s := range in.samples {
		require.NoError(t, m.FragmentAddSample(ids[0], s, 3000))
	}
	info, err := m.CloseSegment()
	require.NoError(t, err)
	require.Equal(t, 1, info.Fragments)
	require.Equal(t, ids[0], info.ReferenceID)
	require.Equal(t, int64(3000), info.EarliestPTS)
	require.Equal(t, uint64(9000), info.Duration)
	require.True(t, info.StartsWithSAP)
	_, err = m.CloseSegment()
	require.ErrorAs(t, err, &inv)
	require.NoError(t, m.Close())

	out := readMovie(t, sink.Bytes())
	var tags []mp4io.Tag
	for _, b := range out.Boxes() {
		tags = append(tags, b.Tag())
	}
	require.Equal(t, []mp4io.Tag{mp4io.FTYP, mp4io.MOOV, mp4io.STYP, mp4io.SIDX, mp4io.MOOF, mp4io.MDAT}, tags)

	styp := out.Boxes()[2].(*mp4io.FileType)
	require.Equal(t, mp4io.BrandMSDH, styp.MajorBrand)
	require.Equal(t, []mp4io.Tag{mp4io.BrandMSDH, mp4io.BrandMSIX, mp4io.BrandLMSG}, styp.CompatibleBrands)
	require.Equal(t, info.Offset, int64(out.Boxes()[0].Len()+out.Boxes()[1].Len()))

	sidx := out.Boxes()[3].(*mp4io.SegmentIndex)
	require.Equal(t, uint8(1), sidx.Version)
	require.Equal(t, ids[0], sidx.ReferenceID)
	require.Equal(t, uint32(90000), sidx.Timescale)
	require.Equal(t, uint64(3000), sidx.EarliestPT)
	require.Len(t, sidx.Entries, 1)
	require.Equal(t, mp4io.Reference{
		ReferencedSize:     uint32(out.Boxes()[4].Len() + out.Boxes()[5].Len()),
		SubsegmentDuration: 9000,
		StartsWithSAP:      true,
		SAPType:            1,
	}, sidx.Entries[0])
	require.Equal(t, info.Size, int64(styp.Len()+sidx.Len())+int64(sidx.Entries[0].ReferencedSize))
}

func TestFragmentLayoutOptions(t *testing.T) {
	t.Parallel()

	t.Run("description_change_opens_traf", func(t *testing.T) {
		t.Parallel()

		sink := &bitio.MemorySink{}
		m, err := Open(sink, isom.ModeFragmented, DefaultConfig())
		require.NoError(t, err)
		in := textTrack(4, 100)
		in.desc = append(in.desc, SampleDescription{Format: mp4io.StringToTag("wvtt"), Data: []byte{1, 2}})
		in.samples[2].DescriptionIndex = 2
		in.samples[3].DescriptionIndex = 2
		ids := setupTracks(t, m, []trackInput{in})
		require.NoError(t, m.StartFragment(0))
		for _, s := range in.samples {
			require.NoError(t, m.FragmentAddSample(ids[0], s, 100))
		}
		require.NoError(t, m.Close())

		out := readMovie(t, sink.Bytes())
		trafs := topLevel(out, mp4io.MOOF)[0].(*mp4io.Container).ChildrenOf(mp4io.TRAF)
		require.Len(t, trafs, 2)
		tfhd := trafs[1].(*mp4io.Container).Child(mp4io.TFHD).(*mp4io.TrackFragHeader)
		require.NotZero(t, tfhd.Flags&mp4io.TFHDStsdID)
		require.Equal(t, uint32(2), tfhd.StsdID)
		for i, want := range []uint32{1, 1, 2, 2} {
			s, err := out.GetSample(ids[0], i+1)
			require.NoError(t, err)
			require.Equal(t, want, s.DescriptionIndex)
		}
	})

	t.Run("run_per_sync", func(t *testing.T) {
		t.Parallel()

		sink := &bitio.MemorySink{}
		in := videoTrack(9, 3)
		writeFragmentedWith(t, sink, []trackInput{in}, 100, false, FragmentRunPerSync)
		out := readMovie(t, sink.Bytes())
		traf := mp4io.FindChildren(topLevel(out, mp4io.MOOF)[0], mp4io.TRAF).(*mp4io.Container)
		truns := traf.ChildrenOf(mp4io.TRUN)
		require.Len(t, truns, 3)
		for _, b := range truns {
			trun := b.(*mp4io.TrackFragRun)
			require.Len(t, trun.Entries, 3)
			require.NotZero(t, trun.Flags&mp4io.TRUNFirstSampleFlags)
			require.Equal(t, mp4io.SampleNoDependencies, trun.FirstSampleFlags)
		}
	})

	t.Run("empty_fragment_dropped", func(t *testing.T) {
		t.Parallel()

		sink := &bitio.MemorySink{}
		m, err := Open(sink, isom.ModeFragmented, DefaultConfig())
		require.NoError(t, err)
		ids := setupTracks(t, m, []trackInput{textTrack(0, 0)})
		require.NoError(t, m.StartFragment(0))
		info, err := m.FlushFragment()
		require.NoError(t, err)
		require.Zero(t, info.Samples)
		initLen := len(sink.Bytes())

		require.NoError(t, m.StartFragment(0))
		require.NoError(t, m.FragmentAddSample(ids[0], isom.Sample{Data: []byte("x"), IsSync: true}, 10))
		info, err = m.FlushFragment()
		require.NoError(t, err)
		require.Equal(t, uint32(1), info.Sequence)
		require.Equal(t, int64(initLen), info.Offset)

		_, err = m.NewTrack(1000, isom.Text)
		var inv *utils.InvalidStateError
		require.ErrorAs(t, err, &inv)
		require.NoError(t, m.Close())
	})

	t.Run("reference_time_and_protection", func(t *testing.T) {
		t.Parallel()

		sink := &bitio.MemorySink{}
		cfg := DefaultConfig()
		cfg.FragmentDuration = 5000
		m, err := Open(sink, isom.ModeFragmented, cfg)
		require.NoError(t, err)
		ids := setupTracks(t, m, []trackInput{textTrack(0, 0)})
		system := uuid.MustParse("edef8ba9-79d6-4ace-a3c8-27dcd51d21ed")
		require.NoError(t, m.AddProtectionHeader(&mp4io.ProtectionSystemHeader{SystemID: system, Data: []byte("init")}))

		require.NoError(t, m.StartFragment(0))
		require.NoError(t, m.AddProtectionHeader(&mp4io.ProtectionSystemHeader{SystemID: system, Data: []byte("frag")}))
		wall := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, m.SetFragmentReferenceTime(ids[0], wall, 0))
		require.NoError(t, m.FragmentAddSample(ids[0], isom.Sample{Data: []byte("x"), IsSync: true}, 10))
		require.NoError(t, m.Close())

		out := readMovie(t, sink.Bytes())
		var tags []mp4io.Tag
		for _, b := range out.Boxes() {
			tags = append(tags, b.Tag())
		}
		require.Equal(t, []mp4io.Tag{mp4io.FTYP, mp4io.MOOV, mp4io.PRFT, mp4io.MOOF, mp4io.MDAT}, tags)

		prft := out.Boxes()[2].(*mp4io.ProducerReferenceTime)
		require.Equal(t, ids[0], prft.ReferenceTrackID)
		require.Equal(t, mp4io.NTPTime(wall), prft.NTPTimestamp)

		moovPssh := out.prog.moov.Child(mp4io.PSSH).(*mp4io.ProtectionSystemHeader)
		require.Equal(t, "init", string(moovPssh.Data))
		moofPssh := out.Boxes()[3].(*mp4io.Container).Child(mp4io.PSSH).(*mp4io.ProtectionSystemHeader)
		require.Equal(t, "frag", string(moofPssh.Data))
		mehd := mp4io.FindPath(out.prog.moov, mp4io.MVEX, mp4io.MEHD).(*mp4io.MovieExtendHeader)
		require.Equal(t, uint64(5000), mehd.FragmentDuration)
	})
}

func TestFragmentAuxInfo(t *testing.T) {
	t.Parallel()

	in := videoTrack(12, 4)
	for i := range in.samples {
		aux := payload(3, i, 8)
		if i < 6 && i%2 == 0 {
			aux = append(aux, 0, 1, 0, 10, 0, 0, 0, 90)
		}
		in.samples[i].AuxInfo = aux
	}
	sink := &bitio.MemorySink{}
	m, err := Open(sink, isom.ModeFragmented, DefaultConfig())
	require.NoError(t, err)
	ids := setupTracks(t, m, []trackInput{in})
	m.Track(ids[0]).AuxSubsamples = true

	var mb *utils.MalformedBoxError
	require.NoError(t, m.StartFragment(0))
	require.ErrorAs(t, m.FragmentAddSample(ids[0], isom.Sample{Data: []byte{1}, AuxInfo: make([]byte, 256)}, 0), &mb)
	for i, s := range in.samples {
		if i > 0 && i%6 == 0 {
			require.NoError(t, m.StartFragment(0))
		}
		require.NoError(t, m.FragmentAddSample(ids[0], s, 0))
	}
	require.NoError(t, m.Close())
	data := sink.Bytes()

	out := readMovie(t, data)
	require.True(t, out.Track(ids[0]).AuxSubsamples)
	for i := range in.samples {
		s, err := out.GetSample(ids[0], i+1)
		require.NoError(t, err)
		require.Equal(t, in.samples[i].AuxInfo, s.AuxInfo)
	}

	var starts []int
	for _, sp := range spans(t, data) {
		if sp.tag == mp4io.MOOF {
			starts = append(starts, sp.start)
		}
	}
	moofs := topLevel(out, mp4io.MOOF)
	require.Len(t, moofs, 2)
	for k, b := range moofs {
		traf := b.(*mp4io.Container).Child(mp4io.TRAF).(*mp4io.Container)
		senc := traf.Child(mp4io.SENC).(*mp4io.SampleEncryption)
		saio := traf.Child(mp4io.SAIO).(*mp4io.SampleAuxInfoOffsets)
		saiz := traf.Child(mp4io.SAIZ).(*mp4io.SampleAuxInfoSizes)
		require.Equal(t, uint32(mp4io.SencSubsamples), senc.Flags)
		require.Equal(t, uint32(6), senc.SampleCount)
		require.Len(t, saio.Offsets, 1)
		at := starts[k] + int(saio.Offsets[0])
		require.Equal(t, senc.Data, data[at:at+len(senc.Data)])
		if k == 0 {
			require.Zero(t, saiz.DefaultSize)
			require.Len(t, saiz.Sizes, 6)
		} else {
			require.Equal(t, uint8(8), saiz.DefaultSize)
		}
	}
}
