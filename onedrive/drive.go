package onedrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"drivecast/internal"
	"drivecast/utils"
)

// DefaultGraphURL is the Microsoft Graph v1.0 endpoint
const DefaultGraphURL = "https://graph.microsoft.com/v1.0"

// pageSize is the $top hint sent when listing folders
const pageSize = 200

// maxItemBody bounds a single item metadata response
const maxItemBody = 1 << 20

// DriveConfig configures a Drive
type DriveConfig struct {
	GraphURL   string
	Location   DriveLocation
	Tokens     internal.TokenSource
	HTTPClient *utils.HTTPClient
	Logger     *internal.SecureLogger
}

// Drive implements internal.Backend over the Microsoft Graph drive API
type Drive struct {
	baseURL  string
	location DriveLocation
	tokens   internal.TokenSource
	client   *utils.HTTPClient
	logger   *internal.SecureLogger
}

// childrenPage is one page of a folder listing. Items stay raw so that
// optional fields can be probed individually.
type childrenPage struct {
	Value    []json.RawMessage `json:"value"`
	NextLink string            `json:"@odata.nextLink"`
}

// NewDrive creates a Graph-backed Drive. The HTTP client must not follow
// redirects, otherwise download URLs cannot be captured.
func NewDrive(cfg DriveConfig) (*Drive, error) {
	if cfg.Tokens == nil {
		return nil, internal.NewConfigError("credentials", "a token source is required")
	}

	baseURL := strings.TrimRight(cfg.GraphURL, "/")
	if baseURL == "" {
		baseURL = DefaultGraphURL
	}

	client := cfg.HTTPClient
	if client == nil {
		var err error
		client, err = utils.NewHTTPClientWithConfig(&utils.HTTPClientConfig{
			Timeout:         0,
			FollowRedirects: false,
			Logger:          cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = internal.GetLogger()
	}

	return &Drive{
		baseURL:  baseURL,
		location: cfg.Location,
		tokens:   cfg.Tokens,
		client:   client,
		logger:   logger.With("drive", cfg.Location.String()),
	}, nil
}

// Location returns the drive location this Drive addresses
func (d *Drive) Location() DriveLocation {
	return d.location
}

// ListChildren lists the immediate children of the folder at path,
// following pagination links until the listing is exhausted
func (d *Drive) ListChildren(ctx context.Context, path string) ([]internal.DriveItem, error) {
	query := url.Values{}
	query.Set("$top", fmt.Sprint(pageSize))
	query.Set("$select", "name,parentReference,size,folder,file")
	next := d.baseURL + d.location.itemPath(path) + "/children?" + query.Encode()

	var items []internal.DriveItem
	seen := make(map[string]bool)
	for next != "" {
		if seen[next] {
			return nil, internal.NewBackendError(0, "pagination loop detected").WithContext("path", path)
		}
		seen[next] = true

		page, err := d.fetchPage(ctx, next)
		if err != nil {
			return nil, internal.WrapError(err, "failed to list children", internal.ErrBackend)
		}

		for _, raw := range page.Value {
			items = append(items, parseItem(raw))
		}
		next = page.NextLink
	}

	d.logger.Debug("listed %d children of %q", len(items), path)
	return items, nil
}

func (d *Drive) fetchPage(ctx context.Context, pageURL string) (*childrenPage, error) {
	resp, err := d.get(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := utils.CheckStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}

	var page childrenPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, internal.NewBackendError(resp.StatusCode, "malformed listing response").WithCause(err)
	}
	return &page, nil
}

// GetItem fetches the metadata of the item at path. When fields are given
// the response is restricted to them with $select.
func (d *Drive) GetItem(ctx context.Context, path string, fields ...string) (*internal.DriveItem, error) {
	itemURL := d.baseURL + d.location.itemPath(path)
	if len(fields) > 0 {
		query := url.Values{}
		query.Set("$select", strings.Join(fields, ","))
		itemURL += "?" + query.Encode()
	}

	resp, err := d.get(ctx, itemURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := utils.CheckStatus(resp, http.StatusOK); err != nil {
		return nil, withPath(err, path)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxItemBody))
	if err != nil {
		return nil, internal.NewBackendError(0, "failed to read item response").WithCause(err)
	}
	if !gjson.ValidBytes(body) {
		return nil, internal.NewBackendError(resp.StatusCode, "malformed item response").WithContext("path", path)
	}

	item := parseItem(body)
	return &item, nil
}

// GetDownloadURL asks for the item's content and captures the redirect
// target, a temporary pre-authenticated URL
func (d *Drive) GetDownloadURL(ctx context.Context, path string) (string, error) {
	resp, err := d.get(ctx, d.baseURL+d.location.itemPath(path)+"/content")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := utils.CheckStatus(resp,
		http.StatusFound, http.StatusMovedPermanently, http.StatusSeeOther, http.StatusTemporaryRedirect); err != nil {
		return "", withPath(err, path)
	}

	location, err := resp.Location()
	if err != nil {
		return "", internal.NewBackendError(resp.StatusCode, "redirect without a download location").
			WithContext("path", path)
	}
	return location.String(), nil
}

// get issues an authenticated GET. The access token is refreshed first if
// it has expired.
func (d *Drive) get(ctx context.Context, rawURL string) (*http.Response, error) {
	token, err := d.tokens.AccessToken(ctx)
	if err != nil {
		return nil, internal.WrapError(err, "failed to obtain access token", internal.ErrAuth)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, internal.NewBackendError(0, "failed to create request").WithCause(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	return d.client.Do(req)
}

// parseItem extracts the fields the provider relies on. Every field is
// optional; absent or mistyped values are left nil.
func parseItem(raw []byte) internal.DriveItem {
	result := gjson.ParseBytes(raw)
	item := internal.DriveItem{}

	if name := result.Get("name"); name.Type == gjson.String {
		item.Name = name.String()
	}
	if parent := result.Get("parentReference.path"); parent.Type == gjson.String {
		p := parent.String()
		item.ParentPath = &p
	}
	if size := result.Get("size"); size.Type == gjson.Number && size.Int() >= 0 {
		s := size.Int()
		item.Size = &s
	}
	if duration := result.Get("audio.duration"); duration.Type == gjson.Number && duration.Int() >= 0 {
		ms := duration.Uint()
		item.AudioDuration = &ms
	}

	return item
}

func withPath(err error, path string) error {
	var pe *internal.ProviderError
	if errors.As(err, &pe) {
		pe.WithContext("path", path)
	}
	return err
}
