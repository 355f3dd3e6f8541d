package provider

import (
	"context"
	"errors"
	"io"
	"net/http"

	"golang.org/x/sync/errgroup"

	"drivecast/internal"
	"drivecast/utils"
)

// Config configures a Provider
type Config struct {
	// Root is the drive folder holding album folders; empty means the drive
	// root
	Root string

	// Codec is both the file extension of audio tracks and the format
	// probed by ProbeStrategy
	Codec    string
	Strategy DurationStrategy

	// HTTPClient downloads from pre-authenticated URLs. It should follow
	// redirects and have no overall timeout.
	HTTPClient *utils.HTTPClient
	Logger     *internal.SecureLogger
}

// Provider serves albums stored on a remote drive: catalog lookups, audio
// info, ranged audio streams and covers
type Provider struct {
	backend  internal.Backend
	catalog  *Catalog
	codec    string
	strategy DurationStrategy
	client   *utils.HTTPClient
	logger   *internal.SecureLogger
}

// readCloser pairs a replaying reader with the response body it drains
type readCloser struct {
	io.Reader
	io.Closer
}

// New creates a Provider with an empty catalog. Call Reload to populate it.
func New(backend internal.Backend, cfg Config) (*Provider, error) {
	if backend == nil {
		return nil, internal.NewConfigError("backend", "a backend is required")
	}

	codec := cfg.Codec
	if codec == "" {
		codec = "flac"
	}

	strategy := cfg.Strategy
	if strategy == nil {
		var err error
		strategy, err = NewDurationStrategy(StrategyAuto, codec)
		if err != nil {
			return nil, err
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = internal.GetLogger()
	}

	client := cfg.HTTPClient
	if client == nil {
		var err error
		client, err = utils.NewHTTPClientWithConfig(&utils.HTTPClientConfig{
			FollowRedirects: true,
			Logger:          logger,
		})
		if err != nil {
			return nil, err
		}
	}

	return &Provider{
		backend:  backend,
		catalog:  NewCatalog(backend, cfg.Root, logger),
		codec:    codec,
		strategy: strategy,
		client:   client,
		logger:   logger,
	}, nil
}

// Open creates a Provider and loads its catalog
func Open(ctx context.Context, backend internal.Backend, cfg Config) (*Provider, error) {
	p, err := New(backend, cfg)
	if err != nil {
		return nil, err
	}
	if err := p.Reload(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Codec returns the audio file extension served by the provider
func (p *Provider) Codec() string {
	return p.codec
}

// Strategy returns the duration strategy in use
func (p *Provider) Strategy() DurationStrategy {
	return p.strategy
}

// Albums returns the IDs of all albums in the catalog
func (p *Provider) Albums() []string {
	return p.catalog.List()
}

// HasAlbum reports whether album is in the catalog
func (p *Provider) HasAlbum(album string) bool {
	return p.catalog.Has(album)
}

// Reload rebuilds the catalog from the drive. Operations already in flight
// keep the paths they resolved.
func (p *Provider) Reload(ctx context.Context) error {
	_, err := p.catalog.Reload(ctx)
	return err
}

// GetAudioInfo returns extension, size and duration of a track without
// streaming it, unless the duration strategy must read the stream head
func (p *Provider) GetAudioInfo(ctx context.Context, album string, disc, track uint8) (internal.AudioInfo, error) {
	if p.strategy.NeedsStream() {
		res, err := p.GetAudio(ctx, album, disc, track, internal.FullRange)
		if err != nil {
			return internal.AudioInfo{}, err
		}
		res.Body.Close()
		return res.Info, nil
	}

	path, err := p.audioPath(album, disc, track)
	if err != nil {
		return internal.AudioInfo{}, err
	}

	item, err := p.backend.GetItem(ctx, path, p.itemFields()...)
	if err != nil {
		return internal.AudioInfo{}, err
	}
	if item.Size == nil {
		return internal.AudioInfo{}, missingSize(path)
	}

	duration, _, err := p.strategy.Duration(item, internal.FullRange, nil)
	if err != nil {
		return internal.AudioInfo{}, withContext(err, "path", path)
	}

	return internal.AudioInfo{
		Extension: p.codec,
		Size:      *item.Size,
		Duration:  duration,
	}, nil
}

// GetAudio streams a track. The returned Body must be closed. Range is the
// window the backend confirmed, which may be wider than requested.
func (p *Provider) GetAudio(ctx context.Context, album string, disc, track uint8, rng internal.Range) (*internal.AudioResource, error) {
	path, err := p.audioPath(album, disc, track)
	if err != nil {
		return nil, err
	}
	logger := p.logger.With("album", album, "disc", disc, "track", track)

	var (
		item        *internal.DriveItem
		downloadURL string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		item, err = p.backend.GetItem(gctx, path, p.itemFields()...)
		return err
	})
	g.Go(func() error {
		var err error
		downloadURL, err = p.backend.GetDownloadURL(gctx, path)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if item.Size == nil {
		return nil, missingSize(path)
	}

	resp, err := p.download(ctx, downloadURL, rng)
	if err != nil {
		return nil, withContext(err, "path", path)
	}

	contentRange := resp.Header.Get("Content-Range")
	window := internal.ParseContentRange(contentRange, contentRange != "")
	if resp.StatusCode == http.StatusPartialContent && window.End == nil {
		// A partial reply without a usable confirmation is assumed to
		// cover the requested window
		logger.Debug("unconfirmed partial content for %s, assuming window %s", path, rng)
		window = rng
	}

	duration, body, err := p.strategy.Duration(item, window, resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, withContext(err, "path", path)
	}

	logger.Debug("streaming %s window %s", path, window)

	return &internal.AudioResource{
		Info: internal.AudioInfo{
			Extension: p.codec,
			Size:      *item.Size,
			Duration:  duration,
		},
		Range: window,
		Body:  readCloser{Reader: body, Closer: resp.Body},
	}, nil
}

// GetCover streams an album cover (disc 0) or a disc cover. The returned
// body must be closed.
func (p *Provider) GetCover(ctx context.Context, album string, disc uint8) (io.ReadCloser, error) {
	base, ok := p.catalog.Lookup(album)
	if !ok {
		return nil, internal.NewNotFoundError("album").WithContext("album", album)
	}
	path, err := CoverPath(base, album, disc)
	if err != nil {
		return nil, err
	}

	downloadURL, err := p.backend.GetDownloadURL(ctx, path)
	if err != nil {
		return nil, err
	}

	resp, err := p.download(ctx, downloadURL, internal.FullRange)
	if err != nil {
		return nil, withContext(err, "path", path)
	}
	return resp.Body, nil
}

// download fetches a pre-authenticated URL with the Range header derived
// from rng. Only 200 and 206 are successful.
func (p *Provider) download(ctx context.Context, downloadURL string, rng internal.Range) (*http.Response, error) {
	headers := map[string]string{}
	if value, ok := rng.Header(); ok {
		headers["Range"] = value
	}

	resp, err := p.client.GetWithContext(ctx, downloadURL, headers)
	if err != nil {
		return nil, err
	}
	if err := utils.CheckStatus(resp, http.StatusOK, http.StatusPartialContent); err != nil {
		return nil, err
	}
	return resp, nil
}

func (p *Provider) audioPath(album string, disc, track uint8) (string, error) {
	base, ok := p.catalog.Lookup(album)
	if !ok {
		return "", internal.NewNotFoundError("album").WithContext("album", album)
	}
	return AudioPath(base, album, disc, track, p.codec)
}

func (p *Provider) itemFields() []string {
	return append([]string{"size"}, p.strategy.Fields()...)
}

func missingSize(path string) error {
	return internal.NewBackendError(0, "backend returned no size for the item").WithContext("path", path)
}

func withContext(err error, key string, value interface{}) error {
	var pe *internal.ProviderError
	if errors.As(err, &pe) {
		pe.WithContext(key, value)
	}
	return err
}
