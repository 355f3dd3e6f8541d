package provider

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/samber/lo"

	"drivecast/internal"
)

// AlbumIDLength is the length of an album folder name (a hyphenated UUID)
const AlbumIDLength = 36

// rootMarker separates the drive identifier from the folder path in a
// parent reference, e.g. "/drive/root:/Music"
const rootMarker = "root:"

// Catalog maps album IDs to the base path of the folder containing them.
// Readers always see a complete snapshot; Reload builds a new map and swaps
// it in atomically.
type Catalog struct {
	backend internal.Backend
	root    string
	logger  *internal.SecureLogger

	albums atomic.Pointer[map[string]string]
}

// NewCatalog creates an empty catalog listing the folder at root
func NewCatalog(backend internal.Backend, root string, logger *internal.SecureLogger) *Catalog {
	if logger == nil {
		logger = internal.GetLogger()
	}
	c := &Catalog{
		backend: backend,
		root:    strings.Trim(root, "/"),
		logger:  logger,
	}
	empty := map[string]string{}
	c.albums.Store(&empty)
	return c
}

// Reload lists the catalog root and replaces the snapshot. On failure the
// previous snapshot stays in place. Returns the number of albums found.
func (c *Catalog) Reload(ctx context.Context) (int, error) {
	items, err := c.backend.ListChildren(ctx, c.root)
	if err != nil {
		return 0, internal.WrapError(err, "failed to list catalog root", internal.ErrBackend)
	}

	albums := make(map[string]string, len(items))
	skipped := 0
	for _, item := range items {
		if len(item.Name) != AlbumIDLength || item.ParentPath == nil {
			skipped++
			continue
		}
		albums[item.Name] = BasePath(*item.ParentPath)
	}

	c.albums.Store(&albums)
	c.logger.Info("catalog reloaded: %d albums, %d other entries skipped", len(albums), skipped)
	return len(albums), nil
}

// Lookup returns the base path of album
func (c *Catalog) Lookup(album string) (string, bool) {
	base, ok := (*c.albums.Load())[album]
	return base, ok
}

// Has reports whether album is in the current snapshot
func (c *Catalog) Has(album string) bool {
	_, ok := c.Lookup(album)
	return ok
}

// List returns the album IDs of the current snapshot, sorted
func (c *Catalog) List() []string {
	ids := lo.Keys(*c.albums.Load())
	sort.Strings(ids)
	return ids
}

// Len returns the number of albums in the current snapshot
func (c *Catalog) Len() int {
	return len(*c.albums.Load())
}

// BasePath extracts the folder path following the root marker of a parent
// reference, without surrounding separators. "/drive/root:/Music/Lossless"
// yields "Music/Lossless"; a reference without the marker yields "".
func BasePath(parentPath string) string {
	_, after, found := strings.Cut(parentPath, rootMarker)
	if !found {
		return ""
	}
	return strings.Trim(after, "/")
}
