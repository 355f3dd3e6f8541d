package internal

import "context"

// Backend is the remote storage contract the provider depends on
type Backend interface {
	// ListChildren returns the immediate children of the folder at path.
	// An empty path addresses the drive root.
	ListChildren(ctx context.Context, path string) ([]DriveItem, error)

	// GetItem fetches a single item's metadata, restricted to fields when
	// any are given
	GetItem(ctx context.Context, path string, fields ...string) (*DriveItem, error)

	// GetDownloadURL returns a temporary, unauthenticated direct-download URL
	GetDownloadURL(ctx context.Context, path string) (string, error)
}

// TokenSource hands out a currently valid access token
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}
