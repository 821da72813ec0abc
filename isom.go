// Package isom holds the types shared by the ISO base media file reader and writer.
package isom

// StorageMode selects how a movie lays out its output.
type StorageMode uint8

const (
	ModeRead       StorageMode = iota // parsed from input, no output
	ModeFlat                          // media first, index appended at close
	ModeEdit                          // everything held in memory, written at close
	ModeFragmented                    // init segment followed by moof/mdat fragments
)

// String returns the human-readable name of a StorageMode.
func (m StorageMode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeFlat:
		return "flat"
	case ModeEdit:
		return "edit"
	case ModeFragmented:
		return "fragmented"
	default:
		return "unknown"
	}
}

// MediaType is the handler type of a track, a four-character code.
type MediaType uint32

const (
	Video    MediaType = 0x76696465 // vide
	Audio    MediaType = 0x736f756e // soun
	Text     MediaType = 0x74657874 // text
	Subtitle MediaType = 0x73756274 // subt
	Metadata MediaType = 0x6d657461 // meta
	Hint     MediaType = 0x68696e74 // hint
)

// String returns the four-character code of a MediaType.
func (t MediaType) String() string {
	b := [4]byte{byte(t >> 24), byte(t >> 16), byte(t >> 8), byte(t)}
	return string(b[:])
}

// Sample is one timed unit of payload. Times are in the track timescale.
type Sample struct {
	Data             []byte
	Size             uint32 // len(Data) when Data is set
	DTS              uint64
	CTSOffset        int32 // CTS - DTS
	IsSync           bool
	DescriptionIndex uint32 // 1-based
	Duration         uint32 // optional hint, used for the last sample of a track
	// AuxInfo is the opaque sample auxiliary information of a protected sample, the IV
	// optionally followed by a subsample map. Only fragmented output carries it.
	AuxInfo []byte
}

// CTS returns the composition timestamp.
func (s Sample) CTS() int64 {
	return int64(s.DTS) + int64(s.CTSOffset) //nolint:gosec
}

// SampleWriter is implemented by movies that accept samples.
type SampleWriter interface {
	NewTrack(timescale uint32, mediaType MediaType) (uint32, error) // Adds a track and returns its id.
	AddSample(trackID, descIndex uint32, s Sample) error             // Appends a sample to a track.
	Close() error                                                    // Finalizes the output.
}

// SampleReader is implemented by movies that expose parsed samples.
type SampleReader interface {
	TrackIDs() []uint32                                   // Returns track ids in file order.
	SampleCount(trackID uint32) (int, error)              // Returns the number of known samples.
	GetSample(trackID uint32, index int) (Sample, error) // Returns the 1-based index-th sample.
}
