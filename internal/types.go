package internal

import (
	"io"
)

// AudioInfo describes a single audio resource as served to the host
type AudioInfo struct {
	Extension string `json:"extension"`
	Size      int64  `json:"size"`
	// Duration in milliseconds, 0 when it could not be determined for the
	// requested window
	Duration uint64 `json:"duration"`
}

// AudioResource is the result of a ranged audio fetch. Body must be closed by
// the caller; closing it releases the underlying connection.
type AudioResource struct {
	Info  AudioInfo
	Range Range
	Body  io.ReadCloser
}

// DriveItem is the backend's view of a file or folder. Every field except
// Name is optional because the backend does not guarantee response shape.
type DriveItem struct {
	Name          string
	ParentPath    *string
	Size          *int64
	AudioDuration *uint64
}

// HasName reports whether the backend returned a name for the item
func (d DriveItem) HasName() bool {
	return d.Name != ""
}
