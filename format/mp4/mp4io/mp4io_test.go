package mp4io

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/ugparu/isom/utils"
	"github.com/ugparu/isom/utils/bits/bitio"
)

func testMovie() *Container {
	stbl := NewContainer(STBL,
		&SampleDesc{Entries: []Box{&SampleEntry{Format: StringToTag("rtxt"), DataRefIndex: 1, Data: []byte("cfg")}}},
		&TimeToSample{Entries: []TimeToSampleEntry{{Count: 3, Duration: 10}, {Count: 1, Duration: 7}}},
		&CompositionOffset{FullHeader: FullHeader{Version: 1}, Entries: []CompositionOffsetEntry{{Count: 2, Offset: -5}, {Count: 2, Offset: 20}}},
		&SampleToChunk{Entries: []SampleToChunkEntry{{FirstChunk: 1, SamplesPerChunk: 2, SampleDescID: 1}}},
		&SampleSize{Entries: []uint32{1, 2, 3, 4}},
		&ChunkOffset{Type: STCO, Entries: []uint64{100, 200}},
		&SyncSample{Entries: []uint32{1, 3}},
	)
	dref := NewSelfContainedDataRefer()
	minf := NewContainer(MINF, &NullMediaInfo{}, NewContainer(DINF, dref), stbl)
	hdlr := &HandlerRefer{HandlerType: StringToTag("text"), Name: []byte("Text\x00")}
	mdhd := &MediaHeader{TimeScale: 1000, Duration: 37}
	mdhd.SetLanguageCode("eng")
	trak := NewContainer(TRAK,
		&TrackHeader{FullHeader: FullHeader{Flags: TrackEnabled | TrackInMovie}, TrackID: 1, Duration: 37, Matrix: IdentityMatrix},
		NewContainer(EDTS, &EditList{Entries: []EditListEntry{{SegmentDuration: 37, MediaTime: 0, MediaRateInteger: 1}}}),
		NewContainer(MDIA, mdhd, hdlr, minf),
	)
	mvex := NewContainer(MVEX,
		&MovieExtendHeader{FullHeader: FullHeader{Version: 1}, FragmentDuration: 1 << 40},
		&TrackExtend{TrackID: 1, DefaultSampleDescIdx: 1},
	)
	return NewContainer(MOOV,
		&MovieHeader{TimeScale: 1000, Duration: 37, PreferredRate: 0x10000, PreferredVolume: 0x100, Matrix: IdentityMatrix, NextTrackID: 2},
		trak,
		mvex,
		&Container{Type: UDTA, Boxes: []Box{&Unknown{Type: StringToTag("name"), Data: []byte("clip")}}, Terminator: []byte{0, 0, 0, 0}},
		&ProtectionSystemHeader{
			FullHeader: FullHeader{Version: 1},
			SystemID:   uuid.MustParse("edef8ba9-79d6-4ace-a3c8-27dcd51d21ed"),
			KeyIDs:     []uuid.UUID{uuid.MustParse("00112233-4455-6677-8899-aabbccddeeff")},
			Data:       []byte{1, 2, 3},
		},
	)
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		box  Box
	}{
		{name: "moov", box: testMovie()},
		{name: "ftyp", box: &FileType{Type: FTYP, MajorBrand: BrandISOM, MinorVersion: 512, CompatibleBrands: []Tag{BrandISOM, BrandISO6}}},
		{name: "styp", box: &FileType{Type: STYP, MajorBrand: BrandMSDH, CompatibleBrands: []Tag{BrandMSDH, BrandMSIX, BrandLMSG}}},
		{name: "mvhd_v1", box: &MovieHeader{FullHeader: FullHeader{Version: 1}, TimeScale: 90000, Duration: 1 << 33}},
		{name: "co64", box: &ChunkOffset{Type: CO64, Entries: []uint64{1 << 33, 1<<33 + 100}}},
		{name: "stsz_uniform", box: &SampleSize{SampleSize: 188, SampleCount: 1000}},
		{name: "free", box: NewFreeSpace(16)},
		{name: "mdat", box: &MediaData{Data: []byte("payload")}},
		{name: "uuid", box: &UserTypeBox{UserType: PIFFSampleEncryption, Data: []byte{9, 9}}},
		{name: "large_unknown", box: &Unknown{Type: StringToTag("abcd"), Data: []byte{1}, AtomPos: AtomPos{Large: true}}},
		{name: "prft", box: &ProducerReferenceTime{FullHeader: FullHeader{Version: 1}, ReferenceTrackID: 1, NTPTimestamp: 0xe1234567_89abcdef, MediaTime: 1 << 40}},
		{name: "moof", box: NewContainer(MOOF,
			&MovieFragHeader{Seqnum: 7},
			NewContainer(TRAF,
				&TrackFragHeader{
					FullHeader:      FullHeader{Flags: TFHDDefaultBaseIsMOOF | TFHDDefaultDuration | TFHDDefaultFlags | TFHDStsdID},
					TrackID:         1,
					StsdID:          2,
					DefaultDuration: 100,
					DefaultFlags:    SampleNonKeyframe,
				},
				&TrackFragDecodeTime{FullHeader: FullHeader{Version: 1}, Time: 1 << 35},
				&TrackFragRun{
					FullHeader:       FullHeader{Version: 1, Flags: TRUNDataOffset | TRUNFirstSampleFlags | TRUNSampleSize | TRUNSampleCTS},
					DataOffset:       120,
					FirstSampleFlags: SampleNoDependencies,
					Entries:          []TrackFragRunEntry{{Size: 10, CTS: -3}, {Size: 20, CTS: 40}},
				},
			),
		)},
		{name: "senc", box: &SampleEncryption{FullHeader: FullHeader{Flags: SencSubsamples}, SampleCount: 2, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8, 0, 0}}},
		{name: "saiz_default", box: &SampleAuxInfoSizes{DefaultSize: 8, SampleCount: 30}},
		{name: "saiz_sizes", box: &SampleAuxInfoSizes{
			FullHeader:  FullHeader{Flags: AuxInfoTypePresent},
			AuxInfoType: AuxInfoType{Type: StringToTag("cenc")},
			Sizes:       []uint8{16, 22, 16},
		}},
		{name: "saio_v0", box: &SampleAuxInfoOffsets{Offsets: []uint64{1234}}},
		{name: "saio_v1", box: &SampleAuxInfoOffsets{FullHeader: FullHeader{Version: 1, Flags: AuxInfoTypePresent}, AuxInfoType: AuxInfoType{Type: StringToTag("cbcs"), Parameter: 1}, Offsets: []uint64{1 << 40, 7}}},
		{name: "sinf", box: NewContainer(SINF,
			&Unknown{Type: StringToTag("frma"), Data: []byte("avc1")},
			NewContainer(SCHI, &Unknown{Type: StringToTag("tenc"), Data: make([]byte, 24)}),
		)},
		{name: "sidx", box: &SegmentIndex{
			FullHeader:  FullHeader{Version: 1},
			ReferenceID: 1,
			Timescale:   1000,
			EarliestPT:  12345,
			Entries: []Reference{
				{ReferencedSize: 1<<31 - 1, SubsegmentDuration: 2000, StartsWithSAP: true, SAPType: 1},
				{ReferenceType: 1, ReferencedSize: 77, SubsegmentDuration: 1, SAPType: 7, SAPDeltaTime: 1<<28 - 1},
			},
		}},
	}

	reg := DefaultRegistry()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b, err := Marshal(tt.box)
			require.NoError(t, err)
			require.Len(t, b, tt.box.Len())

			r := bitio.NewReader(b)
			parsed, err := reg.Parse(r)
			require.NoError(t, err)
			require.Equal(t, 0, r.Remaining())
			require.Equal(t, tt.box.Tag(), parsed.Tag())

			again, err := Marshal(parsed)
			require.NoError(t, err)
			require.Equal(t, b, again)
		})
	}
}

func TestParsedFields(t *testing.T) {
	t.Parallel()

	b, err := Marshal(testMovie())
	require.NoError(t, err)

	moov, err := DefaultRegistry().Parse(bitio.NewReader(b))
	require.NoError(t, err)

	mdhd, ok := FindPath(moov, TRAK, MDIA, MDHD).(*MediaHeader)
	require.True(t, ok)
	require.Equal(t, "eng", mdhd.LanguageCode())

	ctts, ok := FindChildren(moov, CTTS).(*CompositionOffset)
	require.True(t, ok)
	require.Equal(t, int32(-5), ctts.Entries[0].Offset)

	entry, ok := FindChildren(moov, StringToTag("rtxt")).(*SampleEntry)
	require.True(t, ok)
	require.Equal(t, uint16(1), entry.DataRefIndex)
	require.Equal(t, []byte("cfg"), entry.Data)

	udta, ok := FindChildren(moov, UDTA).(*Container)
	require.True(t, ok)
	require.Equal(t, []byte{0, 0, 0, 0}, udta.Terminator)
	name, ok := udta.Child(StringToTag("name")).(*Unknown)
	require.True(t, ok)
	require.Equal(t, "clip", string(name.Data))

	pssh, ok := FindChildren(moov, PSSH).(*ProtectionSystemHeader)
	require.True(t, ok)
	require.Len(t, pssh.KeyIDs, 1)

	trak := FindChildren(moov, TRAK)
	offset, size := trak.Pos()
	require.Positive(t, offset)
	require.Equal(t, trak.Len(), size)

	out := new(bytes.Buffer)
	FprintAtom(out, moov)
	require.Contains(t, out.String(), "    mdhd offset=")
	require.Contains(t, out.String(), "language=eng")
}

func TestUnknownBoxesPreserved(t *testing.T) {
	t.Parallel()

	raw := []byte{
		0, 0, 0, 8 + 8 + 12, 'm', 'o', 'o', 'v',
		0, 0, 0, 8, 'z', 'z', 'z', 'z',
		0, 0, 0, 12, 'x', 'y', 'z', 'w', 0xde, 0xad, 0xbe, 0xef,
	}
	box, err := DefaultRegistry().Parse(bitio.NewReader(raw))
	require.NoError(t, err)

	children := box.Children()
	require.Len(t, children, 2)
	require.IsType(t, &Unknown{}, children[1])

	again, err := Marshal(box)
	require.NoError(t, err)
	require.Equal(t, raw, again)
}

func TestParseIncomplete(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   []byte
		missing uint64
	}{
		{name: "empty", input: nil, missing: 8},
		{name: "partial_header", input: []byte{0, 0, 0}, missing: 5},
		{name: "partial_largesize", input: []byte{0, 0, 0, 1, 'm', 'd', 'a', 't', 0}, missing: 7},
		{name: "body", input: []byte{0, 0, 0, 108, 'm', 'd', 'a', 't'}, missing: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := bitio.NewReader(tt.input)
			_, err := DefaultRegistry().Parse(r)
			missing, ok := utils.IsIncomplete(err)
			require.True(t, ok)
			require.Equal(t, tt.missing, missing)
			require.Equal(t, int64(0), r.Pos())
		})
	}
}

func TestParseMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
		box   string
		path  []string
	}{
		{
			name:  "trailing_bytes",
			input: []byte{0, 0, 0, 18, 'm', 'f', 'h', 'd', 0, 0, 0, 0, 0, 0, 0, 1, 0xff, 0xff},
			box:   "mfhd",
			path:  []string{"mfhd"},
		},
		{
			name:  "truncated_field",
			input: []byte{0, 0, 0, 14, 'm', 'f', 'h', 'd', 0, 0, 0, 0, 0, 1},
			box:   "mfhd",
			path:  []string{"mfhd"},
		},
		{
			name: "entry_count_overflow",
			input: []byte{
				0, 0, 0, 24, 't', 'r', 'a', 'f',
				0, 0, 0, 16, 's', 't', 's', 's', 0, 0, 0, 0, 0xff, 0xff, 0xff, 0xff,
			},
			box:  "stss",
			path: []string{"traf", "stss"},
		},
		{
			name: "child_exceeds_parent",
			input: []byte{
				0, 0, 0, 16, 'm', 'o', 'o', 'v',
				0, 0, 0, 64, 't', 'r', 'a', 'k',
			},
			box:  "trak",
			path: []string{"moov", "trak"},
		},
		{
			name:  "size_below_header",
			input: []byte{0, 0, 0, 4, 'f', 'r', 'e', 'e'},
			box:   "free",
			path:  []string{"free"},
		},
		{
			name:  "udta_trailing_garbage",
			input: []byte{0, 0, 0, 12, 'u', 'd', 't', 'a', 0, 0, 0, 1},
			box:   "udta",
			path:  []string{"udta"},
		},
		{
			name:  "saiz_count_overflow",
			input: []byte{0, 0, 0, 19, 's', 'a', 'i', 'z', 0, 0, 0, 0, 0, 0, 0, 0, 9, 1, 2},
			box:   "saiz",
			path:  []string{"saiz"},
		},
		{
			name:  "ftyp_partial_brand",
			input: []byte{0, 0, 0, 18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0, 0, 0, 0, 'i', 's'},
			box:   "ftyp",
			path:  []string{"ftyp"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := DefaultRegistry().Parse(bitio.NewReader(tt.input))
			var mb *utils.MalformedBoxError
			require.ErrorAs(t, err, &mb)
			require.Equal(t, tt.box, mb.Box())
			require.Equal(t, tt.path, mb.Path)
		})
	}
}

type lyingBox struct {
	Unknown
}

func (l *lyingBox) Len() int {
	return l.Unknown.Len() + 1
}

func TestEncodeChecksSize(t *testing.T) {
	t.Parallel()

	_, err := Marshal(&lyingBox{Unknown: Unknown{Type: StringToTag("lies"), Data: []byte{1, 2}}})
	var mb *utils.MalformedBoxError
	require.ErrorAs(t, err, &mb)
	require.Equal(t, "lies", mb.Box())
}

type markerBox struct {
	Value uint32
	AtomPos
}

func (m *markerBox) Tag() Tag        { return StringToTag("mark") }
func (m *markerBox) Len() int        { return m.boxLen(4) }
func (m *markerBox) Children() []Box { return nil }
func (m *markerBox) Marshal(w *bitio.Writer) error {
	m.writeHeader(w, m.Tag(), 4)
	w.U32(m.Value)
	return w.Err()
}

func (m *markerBox) Unmarshal(d *Decoder, size int) error {
	if size != 4 {
		return errors.New("bad marker")
	}
	v, err := d.R.U32()
	m.Value = v
	return err
}

func TestCustomRegistration(t *testing.T) {
	t.Parallel()

	reg := DefaultRegistry()
	reg.Register(StringToTag("mark"), func(Tag) Box { return new(markerBox) })

	b, err := Marshal(NewContainer(MOOV, &markerBox{Value: 42}))
	require.NoError(t, err)

	moov, err := reg.Parse(bitio.NewReader(b))
	require.NoError(t, err)
	mark, ok := FindChildrenByName(moov, "mark").(*markerBox)
	require.True(t, ok)
	require.Equal(t, uint32(42), mark.Value)

	plain, err := DefaultRegistry().Parse(bitio.NewReader(b))
	require.NoError(t, err)
	require.IsType(t, &Unknown{}, plain.Children()[0])
}

func TestContainerEditing(t *testing.T) {
	t.Parallel()

	c := NewContainer(MOOV, &MovieHeader{}, NewContainer(TRAK), NewContainer(TRAK), &Unknown{Type: UDTA})
	require.Len(t, c.ChildrenOf(TRAK), 2)
	require.Equal(t, 2, c.Remove(TRAK))
	require.Len(t, c.Boxes, 2)
	require.Nil(t, c.Child(TRAK))

	mvhd := &MovieHeader{TimeScale: 5}
	c.Set(mvhd)
	require.Same(t, mvhd, c.Child(MVHD))
	c.Set(NewContainer(MVEX))
	require.Len(t, c.Boxes, 3)
}

func TestTagString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "moov", MOOV.String())
	require.Equal(t, "url ", URL.String())
	require.Equal(t, MDAT, StringToTag("mdat"))
	require.Equal(t, "ab  ", Tag(0x61620000).String())
}
