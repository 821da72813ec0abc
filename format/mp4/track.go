package mp4

import (
	"fmt"
	"math"
	"slices"

	"github.com/ugparu/isom"
	"github.com/ugparu/isom/format/mp4/mp4io"
	"github.com/ugparu/isom/utils"
)

// SampleDescription is one sample entry: its format code, data reference index and the
// codec configuration that follows them, kept as opaque bytes.
type SampleDescription struct {
	Format       mp4io.Tag
	DataRefIndex uint16
	Data         []byte
}

func (d SampleDescription) entry() *mp4io.SampleEntry {
	ref := d.DataRefIndex
	if ref == 0 {
		ref = 1
	}
	return &mp4io.SampleEntry{Format: d.Format, DataRefIndex: ref, Data: d.Data}
}

type sampleRecord struct {
	dts       uint64
	ctsOffset int32
	size      uint32
	sync      bool
	desc      uint32
	duration  uint32 // exact when read, a hint when written
	offset    int64
	data      []byte
	aux       []byte
	order     uint64
}

func (r *sampleRecord) sample() isom.Sample {
	return isom.Sample{
		Data:             r.data,
		Size:             r.size,
		DTS:              r.dts,
		CTSOffset:        r.ctsOffset,
		IsSync:           r.sync,
		DescriptionIndex: r.desc,
		Duration:         r.duration,
		AuxInfo:          r.aux,
	}
}

// Track is one elementary stream of a Movie.
type Track struct {
	ID          uint32
	MediaType   isom.MediaType
	Timescale   uint32
	Language    string
	HandlerName string
	Width       uint32
	Height      uint32

	Descriptions []SampleDescription

	// AuxSubsamples marks sample auxiliary information that carries a subsample map
	// after the IV; it sets the senc flags of written fragments.
	AuxSubsamples bool

	// Fragment defaults, as carried by trex.
	DefaultDescription uint32
	DefaultDuration    uint32
	DefaultSize        uint32
	DefaultFlags       uint32

	samples []sampleRecord
	// released counts the records dropped from the front of samples.
	released int
	lastDTS  uint64
	hasDTS  bool

	// Decode time that follows the last folded fragment, used when tfdt is absent.
	fragTime uint64
	// Open fragment state of the writer.
	pending   *fragSample
	lastDelta uint32
	hasDelta  bool

	extra []mp4io.Box
}

func newTrack(id, timescale uint32, mediaType isom.MediaType, language string) *Track {
	return &Track{
		ID:                 id,
		MediaType:          mediaType,
		Timescale:          timescale,
		Language:           language,
		HandlerName:        handlerName(mediaType),
		DefaultDescription: 1,
	}
}

func handlerName(t isom.MediaType) string {
	switch t {
	case isom.Video:
		return "VideoHandler"
	case isom.Audio:
		return "SoundHandler"
	case isom.Text, isom.Subtitle:
		return "TextHandler"
	default:
		return t.String() + "Handler"
	}
}

func (t *Track) String() string {
	return fmt.Sprintf("track %d", t.ID)
}

// SampleCount returns the number of samples known for the track, released ones included.
func (t *Track) SampleCount() int {
	return t.released + len(t.samples)
}

// Duration returns the sum of the durations of the samples held by the track.
func (t *Track) Duration() uint64 {
	if len(t.samples) == 0 {
		return 0
	}
	durs, err := sampleDurations(t.samples)
	if err != nil {
		return 0
	}
	var d uint64
	for _, v := range durs {
		d += uint64(v)
	}
	return d
}

func (t *Track) firstDTS() uint64 {
	if len(t.samples) == 0 {
		return 0
	}
	return t.samples[0].dts
}

func (t *Track) checkDescription(op string, idx uint32) error {
	if idx == 0 || int(idx) > len(t.Descriptions) {
		return &utils.MalformedBoxError{
			Path:   []string{"stsd"},
			Reason: fmt.Sprintf("%s: %s has no sample description %d", op, t, idx),
		}
	}
	return nil
}

func (t *Track) checkDTS(op string, dts uint64) error {
	if t.hasDTS && dts < t.lastDTS {
		return &utils.MalformedBoxError{
			Path:   []string{"stts"},
			Reason: fmt.Sprintf("%s: %s decode time %d is before %d", op, t, dts, t.lastDTS),
		}
	}
	return nil
}

// checkGap rejects a decode time delta that stts cannot store.
func (t *Track) checkGap(op string, dts uint64) error {
	if t.hasDTS && dts-t.lastDTS > math.MaxUint32 {
		return &utils.MalformedBoxError{
			Path:   []string{"stts"},
			Reason: fmt.Sprintf("%s: %s sample at %d lasts %d ticks", op, t, t.lastDTS, dts-t.lastDTS),
		}
	}
	return nil
}

// startsExactly reports whether the first decode time survives the trip through an
// empty edit in the movie timescale.
func (t *Track) startsExactly(movieTimescale uint32) bool {
	dts := t.firstDTS()
	return dts == 0 || rescale(rescale(dts, t.Timescale, movieTimescale), movieTimescale, t.Timescale) == dts
}

func (t *Track) advance(dts uint64) {
	t.lastDTS = dts
	t.hasDTS = true
}

func (t *Track) sample(op string, index int) (*sampleRecord, error) {
	if index < 1 || index > t.SampleCount() {
		return nil, &utils.InvalidStateError{
			Op:    op,
			State: fmt.Sprintf("%s has %d samples, index %d", t, t.SampleCount(), index),
		}
	}
	if index <= t.released {
		return nil, &utils.InvalidStateError{
			Op:    op,
			State: fmt.Sprintf("%s sample %d was released", t, index),
		}
	}
	return &t.samples[index-1-t.released], nil
}

// release drops the records up to sample index upTo, 1-based.
func (t *Track) release(upTo int) int {
	n := min(upTo-t.released, len(t.samples))
	if n <= 0 {
		return 0
	}
	t.samples = slices.Delete(t.samples, 0, n)
	t.released += n
	return n
}
