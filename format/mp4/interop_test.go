package mp4

import (
	"bytes"
	"testing"

	mp4ff "github.com/Eyevinn/mp4ff/mp4"
	"github.com/stretchr/testify/require"
	"github.com/ugparu/isom"
)

// Files written here must decode with an independent ISOBMFF implementation.

func TestInteropSampleTables(t *testing.T) {
	t.Parallel()

	in := textTrack(10, 2000)
	for _, mode := range []isom.StorageMode{isom.ModeFlat, isom.ModeEdit} {
		t.Run(mode.String(), func(t *testing.T) {
			t.Parallel()

			f, err := mp4ff.DecodeFile(bytes.NewReader(writeMovie(t, mode, []trackInput{in})))
			require.NoError(t, err)
			require.False(t, f.IsFragmented())
			require.NotNil(t, f.Moov)
			require.Len(t, f.Moov.Traks, 1)

			trak := f.Moov.Traks[0]
			require.Equal(t, uint32(1), trak.Tkhd.TrackID)
			require.Equal(t, uint32(1000), trak.Mdia.Mdhd.Timescale)
			require.Equal(t, "text", trak.Mdia.Hdlr.HandlerType)

			stbl := trak.Mdia.Minf.Stbl
			require.Equal(t, []uint32{10}, stbl.Stts.SampleCount)
			require.Equal(t, []uint32{2000}, stbl.Stts.SampleTimeDelta)
			require.Equal(t, uint32(10), stbl.Stsz.SampleNumber)
			require.Equal(t, uint32(5), stbl.Stsz.SampleUniformSize)
			require.Nil(t, stbl.Stss)
			require.Len(t, stbl.Stsd.Children, 1)
			require.Equal(t, "rtxt", stbl.Stsd.Children[0].Type())
		})
	}
}

func TestInteropFragments(t *testing.T) {
	t.Parallel()

	in := textTrack(10, 2000)
	data := writeFragmented(t, []trackInput{in}, 4, true)

	f, err := mp4ff.DecodeFile(bytes.NewReader(data))
	require.NoError(t, err)
	require.True(t, f.IsFragmented())
	require.NotNil(t, f.Init)
	trex := f.Init.Moov.Mvex.Trex
	require.NotNil(t, trex)

	var got []mp4ff.FullSample
	fragments := 0
	for _, seg := range f.Segments {
		for _, frag := range seg.Fragments {
			fragments++
			samples, err := frag.GetFullSamples(trex)
			require.NoError(t, err)
			got = append(got, samples...)
		}
	}
	require.Equal(t, 3, fragments)
	require.Len(t, got, len(in.samples))
	for i, s := range got {
		want := in.samples[i]
		require.Equal(t, want.DTS, s.DecodeTime, "sample %d", i+1)
		require.Equal(t, uint32(2000), s.Dur)
		require.True(t, s.IsSync())
		require.Equal(t, want.Data, s.Data)
	}
}
