package onedrive

import (
	"fmt"
	"net/url"
	"strings"

	"drivecast/internal"
)

// LocationKind identifies which Graph drive a DriveLocation addresses
type LocationKind int

const (
	LocationMe LocationKind = iota
	LocationDrive
	LocationUser
	LocationGroup
	LocationSite
)

func (k LocationKind) String() string {
	switch k {
	case LocationMe:
		return "me"
	case LocationDrive:
		return "drive"
	case LocationUser:
		return "user"
	case LocationGroup:
		return "group"
	case LocationSite:
		return "site"
	default:
		return "unknown"
	}
}

// DriveLocation is the workspace the catalog lives in. It is fixed for the
// lifetime of a Drive.
type DriveLocation struct {
	Kind LocationKind
	ID   string
}

var locationPrefixes = map[string]LocationKind{
	"drive": LocationDrive,
	"user":  LocationUser,
	"group": LocationGroup,
	"site":  LocationSite,
}

// ParseDriveLocation parses "me" or "<kind>:<id>" where kind is one of
// drive, user, group, site
func ParseDriveLocation(raw string) (DriveLocation, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DriveLocation{}, internal.NewValidationError("drive", "drive location cannot be empty")
	}
	if strings.EqualFold(raw, "me") {
		return DriveLocation{Kind: LocationMe}, nil
	}

	prefix, id, ok := strings.Cut(raw, ":")
	if !ok {
		return DriveLocation{}, internal.NewValidationErrorWithValue("drive", "expected me or <kind>:<id>", raw).
			WithSuggestion("Use one of: me, drive:<id>, user:<id>, group:<id>, site:<id>")
	}

	kind, known := locationPrefixes[strings.ToLower(prefix)]
	if !known {
		return DriveLocation{}, internal.NewValidationErrorWithValue("drive", fmt.Sprintf("unknown location kind %q", prefix), raw).
			WithSuggestion("Use one of: me, drive:<id>, user:<id>, group:<id>, site:<id>")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return DriveLocation{}, internal.NewValidationErrorWithValue("drive", "location id cannot be empty", raw)
	}

	return DriveLocation{Kind: kind, ID: id}, nil
}

// Prefix returns the Graph resource path of the drive, e.g. "/me/drive" or
// "/drives/{id}"
func (l DriveLocation) Prefix() string {
	id := url.PathEscape(l.ID)
	switch l.Kind {
	case LocationDrive:
		return "/drives/" + id
	case LocationUser:
		return "/users/" + id + "/drive"
	case LocationGroup:
		return "/groups/" + id + "/drive"
	case LocationSite:
		return "/sites/" + id + "/drive"
	default:
		return "/me/drive"
	}
}

func (l DriveLocation) String() string {
	if l.Kind == LocationMe {
		return "me"
	}
	return l.Kind.String() + ":" + l.ID
}

// itemPath renders the Graph address of a drive-relative path. The empty
// path and "/" address the root folder; anything else uses path-based
// addressing ("root:/a/b:").
func (l DriveLocation) itemPath(path string) string {
	path = strings.Trim(path, "/")
	if path == "" {
		return l.Prefix() + "/root"
	}

	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return l.Prefix() + "/root:/" + strings.Join(segments, "/") + ":"
}
