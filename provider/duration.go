package provider

import (
	"fmt"
	"io"

	"drivecast/internal"
)

// Duration strategy names
const (
	StrategyAuto     = "auto"
	StrategyProbe    = "probe"
	StrategyMetadata = "metadata"
)

// DurationStrategy determines the playing time of an audio resource, in
// milliseconds. A strategy either reads the backend's item metadata or
// inspects the head of the audio stream.
type DurationStrategy interface {
	Name() string

	// Fields lists the item metadata fields the strategy reads
	Fields() []string

	// NeedsStream reports whether Duration consumes the audio stream
	NeedsStream() bool

	// Duration returns the duration and a reader that yields the complete
	// stream, including any bytes consumed while inspecting it. window is
	// the range the backend confirmed for stream.
	Duration(item *internal.DriveItem, window internal.Range, stream io.Reader) (uint64, io.Reader, error)
}

// NewDurationStrategy returns the strategy for name. "auto" probes FLAC and
// reads metadata for MP3.
func NewDurationStrategy(name, codec string) (DurationStrategy, error) {
	if name == "" || name == StrategyAuto {
		name = StrategyProbe
		if codec == "mp3" {
			name = StrategyMetadata
		}
	}

	switch name {
	case StrategyProbe:
		if codec != "flac" && codec != "mp3" {
			return nil, internal.NewConfigError("codec", fmt.Sprintf("cannot probe %q streams", codec))
		}
		return &ProbeStrategy{Codec: codec}, nil
	case StrategyMetadata:
		return &MetadataStrategy{}, nil
	default:
		return nil, internal.NewConfigError("duration_strategy", fmt.Sprintf("unknown duration strategy %q", name))
	}
}

// MetadataStrategy reads the duration the backend extracted when the file
// was uploaded
type MetadataStrategy struct{}

func (s *MetadataStrategy) Name() string { return StrategyMetadata }

func (s *MetadataStrategy) Fields() []string { return []string{"audio"} }

func (s *MetadataStrategy) NeedsStream() bool { return false }

func (s *MetadataStrategy) Duration(item *internal.DriveItem, window internal.Range, stream io.Reader) (uint64, io.Reader, error) {
	if item == nil || item.AudioDuration == nil {
		return 0, stream, internal.NewDecodeError("backend returned no audio duration for the item")
	}
	return *item.AudioDuration, stream, nil
}
