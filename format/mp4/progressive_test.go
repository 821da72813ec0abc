package mp4

import (
	"bytes"
	"errors"
	"testing"
	"testing/iotest"

	"github.com/deepch/vdk/utils/bits/pio"
	"github.com/stretchr/testify/require"
	"github.com/ugparu/isom"
	"github.com/ugparu/isom/format/mp4/mp4io"
	"github.com/ugparu/isom/utils"
	"github.com/ugparu/isom/utils/bits/bitio"
)

type span struct {
	tag        mp4io.Tag
	start, end int
}

// spans lists the top-level boxes of a complete file.
func spans(t *testing.T, data []byte) []span {
	t.Helper()
	var out []span
	for pos := 0; pos < len(data); {
		h, err := mp4io.ParseHeader(data[pos:])
		require.NoError(t, err)
		size := int(h.Size)
		if size == 0 {
			size = len(data) - pos
		}
		out = append(out, span{tag: h.Type, start: pos, end: pos + size})
		pos += size
	}
	return out
}

func boxTags(m *Movie) []mp4io.Tag {
	var tags []mp4io.Tag
	for _, b := range m.Boxes() {
		tags = append(tags, b.Tag())
	}
	return tags
}

func TestChunkInvariance(t *testing.T) {
	t.Parallel()

	tracks := []trackInput{videoTrack(20, 5), audioTrack(25), textTrack(4, 300)}
	sources := map[string][]byte{
		"flat":       writeMovie(t, isom.ModeFlat, tracks),
		"edit":       writeMovie(t, isom.ModeEdit, tracks),
		"fragmented": writeFragmentedWith(t, &bitio.MemorySink{}, tracks, 9, true, 0),
	}
	for name, data := range sources {
		whole := readMovie(t, data)
		want := samplesOf(t, whole)
		for _, chunk := range []int{1, 7, 4096} {
			t.Run(name, func(t *testing.T) {
				t.Parallel()

				m, _, err := OpenProgressive(nil, DefaultConfig())
				require.NoError(t, err)
				require.NoError(t, m.Feed(bytes.NewReader(data), chunk))
				require.Equal(t, want, samplesOf(t, m))
				require.Equal(t, boxTags(whole), boxTags(m))
			})
		}
	}
}

func TestTruncatedStream(t *testing.T) {
	t.Parallel()

	data := writeMovie(t, isom.ModeFlat, []trackInput{textTrack(5, 100)})

	tests := []struct {
		name    string
		cut     int
		missing uint64
	}{
		{name: "body_short_by_100", cut: len(data) - 100, missing: 100},
		{name: "body_short_by_1", cut: len(data) - 1, missing: 1},
		{name: "header_short", cut: 3, missing: 5},
		{name: "large_header_short", cut: spans(t, data)[2].start + 10, missing: 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m, missing, err := OpenProgressive(data[:tt.cut], DefaultConfig())
			require.NotNil(t, m)
			require.Equal(t, tt.missing, missing)
			var inc *utils.IncompleteInputError
			require.ErrorAs(t, err, &inc)
			require.Equal(t, tt.missing, inc.Missing)

			// a second refresh without new data reports the same shortfall
			missing, err = m.RefreshProgressive()
			require.Equal(t, tt.missing, missing)
			require.Error(t, err)

			m.AppendData(data[tt.cut:])
			missing, err = m.RefreshProgressive()
			require.NoError(t, err)
			require.Zero(t, missing)
			require.Equal(t, expectedKeys([]trackInput{textTrack(5, 100)}), samplesOf(t, m))
		})
	}
}

func TestSizeZeroBox(t *testing.T) {
	t.Parallel()

	data := writeMovie(t, isom.ModeFlat, []trackInput{textTrack(2, 100)})
	tail := make([]byte, 18)
	pio.PutU32BE(tail[4:], uint32(mp4io.StringToTag("abcd")))
	copy(tail[8:], "0123456789")
	data = append(data, tail...)

	m, missing, err := OpenProgressive(data, DefaultConfig())
	require.Equal(t, uint64(1), missing)
	_, ok := utils.IsIncomplete(err)
	require.True(t, ok)

	missing, err = m.EndOfStream()
	require.NoError(t, err)
	require.Zero(t, missing)
	last, ok := m.Boxes()[len(m.Boxes())-1].(*mp4io.Unknown)
	require.True(t, ok)
	require.Equal(t, "0123456789", string(last.Data))

	m.AppendData([]byte("ignored"))
	missing, err = m.RefreshProgressive()
	require.NoError(t, err)
	require.Zero(t, missing)
}

func TestSampleDataArrival(t *testing.T) {
	t.Parallel()

	data := writeMovie(t, isom.ModeEdit, []trackInput{textTrack(3, 10)})
	mdat := spans(t, data)[2]
	require.Equal(t, mp4io.MDAT, mdat.tag)
	cut := mdat.start + mp4io.HeaderSize + 5

	m, missing, err := OpenProgressive(data[:cut], DefaultConfig())
	require.Equal(t, uint64(10), missing)
	require.Error(t, err)

	s, err := m.GetSample(1, 1)
	require.NoError(t, err)
	require.Equal(t, "cue 0", string(s.Data))

	_, err = m.GetSample(1, 2)
	n, ok := utils.IsIncomplete(err)
	require.True(t, ok)
	require.Equal(t, uint64(5), n)

	m.AppendData(data[cut:])
	_, err = m.RefreshProgressive()
	require.NoError(t, err)
	s, err = m.GetSample(1, 3)
	require.NoError(t, err)
	require.Equal(t, "cue 2", string(s.Data))
}

func TestProgressiveErrors(t *testing.T) {
	t.Parallel()

	flat := writeMovie(t, isom.ModeFlat, []trackInput{textTrack(20, 100)})
	frag := writeFragmented(t, []trackInput{textTrack(4, 100)}, 2, false)
	flatSpans, fragSpans := spans(t, flat), spans(t, frag)
	moov := flat[flatSpans[3].start:flatSpans[3].end]
	moof := frag[fragSpans[2].start:fragSpans[2].end]

	tests := []struct {
		name  string
		data  []byte
		cfg   func(*Config)
		check func(t *testing.T, err error)
	}{
		{
			name: "duplicate_moov",
			data: append(bytes.Clone(flat), moov...),
			check: func(t *testing.T, err error) {
				var mb *utils.MalformedBoxError
				require.ErrorAs(t, err, &mb)
				require.Equal(t, "moov", mb.Box())
				require.Equal(t, int64(len(flat)), mb.Offset)
			},
		},
		{
			name: "moof_before_moov",
			data: append(bytes.Clone(frag[:fragSpans[0].end]), moof...),
			check: func(t *testing.T, err error) {
				var mb *utils.MalformedBoxError
				require.ErrorAs(t, err, &mb)
				require.Equal(t, "moof", mb.Box())
			},
		},
		{
			name: "box_too_large",
			data: flat,
			cfg:  func(c *Config) { c.MaxBoxSize = 64 },
			check: func(t *testing.T, err error) {
				var oom *utils.OutOfMemoryError
				require.ErrorAs(t, err, &oom)
				require.Equal(t, uint64(64), oom.Limit)
			},
		},
		{
			name: "required_brand",
			data: flat,
			cfg:  func(c *Config) { c.RequiredBrands = []string{"dash"} },
			check: func(t *testing.T, err error) {
				var ub *utils.UnsupportedBrandError
				require.ErrorAs(t, err, &ub)
				require.Equal(t, "isom", ub.Brand)
			},
		},
		{
			name: "size_below_header",
			data: []byte{0, 0, 0, 4, 'f', 'r', 'e', 'e'},
			check: func(t *testing.T, err error) {
				var mb *utils.MalformedBoxError
				require.ErrorAs(t, err, &mb)
				require.Equal(t, "free", mb.Box())
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultConfig()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			m, missing, err := OpenProgressive(tt.data, cfg)
			require.Nil(t, m)
			require.Zero(t, missing)
			tt.check(t, err)
		})
	}
}

func TestProgressiveStickyError(t *testing.T) {
	t.Parallel()

	flat := writeMovie(t, isom.ModeFlat, []trackInput{textTrack(2, 100)})
	m, _, err := OpenProgressive(flat[:10], DefaultConfig())
	require.Error(t, err)
	m.AppendData(flat[10:])
	m.AppendData(flat[spans(t, flat)[3].start:])
	_, err = m.RefreshProgressive()
	var mb *utils.MalformedBoxError
	require.ErrorAs(t, err, &mb)
	_, again := m.RefreshProgressive()
	require.Same(t, err, again)
}

func TestOnSamples(t *testing.T) {
	t.Parallel()

	tracks := []trackInput{videoTrack(12, 4), textTrack(3, 150)}
	tests := []struct {
		name  string
		data  []byte
		calls [][]uint32
	}{
		{
			name:  "flat",
			data:  writeMovie(t, isom.ModeFlat, tracks),
			calls: [][]uint32{{1, 2}},
		},
		{
			name:  "fragmented",
			data:  writeFragmented(t, tracks, 5, false),
			calls: [][]uint32{{1, 2}, {1, 2}, {1, 2}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls [][]uint32
			cfg := DefaultConfig()
			cfg.OnSamples = func(ids []uint32) { calls = append(calls, ids) }
			m, _, err := OpenProgressive(nil, cfg)
			require.NoError(t, err)
			require.NoError(t, m.Feed(bytes.NewReader(tt.data), 100))
			require.Equal(t, tt.calls, calls)
		})
	}
}

func TestFeedReadError(t *testing.T) {
	t.Parallel()

	m, _, err := OpenProgressive(nil, DefaultConfig())
	require.NoError(t, err)
	boom := errors.New("boom")
	err = m.Feed(iotest.ErrReader(boom), 0)
	var iof *utils.IOFailureError
	require.ErrorAs(t, err, &iof)
	require.ErrorIs(t, err, boom)

	w, err := Open(&bitio.MemorySink{}, isom.ModeFlat, DefaultConfig())
	require.NoError(t, err)
	_, err = w.RefreshProgressive()
	var inv *utils.InvalidStateError
	require.ErrorAs(t, err, &inv)
}

func TestReleaseSamples(t *testing.T) {
	t.Parallel()

	tracks := []trackInput{videoTrack(40, 8), audioTrack(50)}
	data := writeFragmented(t, tracks, 6, false)
	want := samplesOf(t, readMovie(t, data))

	m := readMovie(t, data)
	regions, boxes := len(m.prog.regions), len(m.Boxes())
	require.NoError(t, m.ReleaseSamples(1, 30))
	require.Len(t, m.prog.regions, regions)
	require.Len(t, m.Track(1).samples, 10)
	require.NoError(t, m.ReleaseSamples(2, 45))
	require.Less(t, len(m.prog.regions), regions)
	require.Less(t, len(m.Boxes()), boxes)
	require.Equal(t, []mp4io.Tag{mp4io.FTYP, mp4io.MOOV}, boxTags(m)[:2])

	n, err := m.SampleCount(1)
	require.NoError(t, err)
	require.Equal(t, 40, n)
	var inv *utils.InvalidStateError
	_, err = m.GetSample(1, 30)
	require.ErrorAs(t, err, &inv)
	require.ErrorAs(t, m.ReleaseSamples(1, 41), &inv)
	for id, first := range map[uint32]int{1: 31, 2: 46} {
		for i := first; i <= len(want[id]); i++ {
			s, err := m.GetSample(id, i)
			require.NoError(t, err)
			require.Equal(t, want[id][i-1], sampleKey{s.DTS, s.CTSOffset, s.Size, s.IsSync, string(s.Data)})
		}
	}

	edit, err := OpenEdit(data, &bitio.MemorySink{}, DefaultConfig())
	require.NoError(t, err)
	require.ErrorAs(t, edit.ReleaseSamples(1, 1), &inv)
	require.ErrorAs(t, edit.ResetTables(), &inv)
}

func TestResetTablesKeepsNumbering(t *testing.T) {
	t.Parallel()

	tracks := []trackInput{videoTrack(30, 6), textTrack(10, 300)}
	data := writeFragmented(t, tracks, 5, false)
	want := samplesOf(t, readMovie(t, data))

	var cut int
	moofs := 0
	for _, sp := range spans(t, data) {
		if sp.tag == mp4io.MOOF {
			if moofs++; moofs == 4 {
				cut = sp.start
				break
			}
		}
	}
	require.NotZero(t, cut)

	m, _, err := OpenProgressive(data[:cut], DefaultConfig())
	require.NoError(t, err)
	held := map[uint32]int{}
	for _, id := range m.TrackIDs() {
		held[id] = m.Track(id).SampleCount()
	}
	require.NoError(t, m.ResetTables())
	require.Equal(t, []mp4io.Tag{mp4io.FTYP, mp4io.MOOV}, boxTags(m))
	require.Empty(t, m.prog.regions)

	m.AppendData(data[cut:])
	_, err = m.EndOfStream()
	require.NoError(t, err)
	for id, keys := range want {
		require.Equal(t, len(keys), m.Track(id).SampleCount())
		for i := held[id] + 1; i <= len(keys); i++ {
			s, err := m.GetSample(id, i)
			require.NoError(t, err)
			require.Equal(t, keys[i-1], sampleKey{s.DTS, s.CTSOffset, s.Size, s.IsSync, string(s.Data)})
		}
	}
}
