package provider

import (
	"fmt"
	"strings"

	"drivecast/internal"
)

// CoverFileName is the image looked up for album and disc covers
const CoverFileName = "cover.jpg"

// AudioPath returns the drive path of a track:
// /{base}/{album}/{disc}/{track}.{ext}, without the base segment when base
// is empty. Disc and track numbers start at 1.
func AudioPath(base, album string, disc, track uint8, ext string) (string, error) {
	if disc == 0 {
		return "", internal.NewInvalidPathError(album, "disc number must be at least 1")
	}
	if track == 0 {
		return "", internal.NewInvalidPathError(album, "track number must be at least 1")
	}
	if ext == "" {
		return "", internal.NewInvalidPathError(album, "missing file extension")
	}

	return join(base, fmt.Sprintf("/%s/%d/%d.%s", album, disc, track, ext))
}

// CoverPath returns the drive path of a cover image. Disc 0 selects the
// album-level cover, /{base}/{album}/cover.jpg; otherwise the disc's own
// cover, /{base}/{album}/{disc}/cover.jpg.
func CoverPath(base, album string, disc uint8) (string, error) {
	if disc == 0 {
		return join(base, fmt.Sprintf("/%s/%s", album, CoverFileName))
	}
	return join(base, fmt.Sprintf("/%s/%d/%s", album, disc, CoverFileName))
}

func join(base, rel string) (string, error) {
	path := rel
	if base != "" {
		path = "/" + base + rel
	}

	if err := validatePath(path); err != nil {
		return "", err
	}
	return path, nil
}

// validatePath rejects paths the backend cannot address by path: they must
// be absolute and must not contain the ':' item-path delimiter
func validatePath(path string) error {
	if !strings.HasPrefix(path, "/") {
		return internal.NewInvalidPathError(path, "path must start with '/'")
	}
	if strings.Contains(path, ":") {
		return internal.NewInvalidPathError(path, "path must not contain ':'")
	}
	if strings.Contains(path, "//") {
		return internal.NewInvalidPathError(path, "path has an empty segment")
	}
	return nil
}
