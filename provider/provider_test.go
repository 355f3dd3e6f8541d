package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"drivecast/internal"
	"drivecast/onedrive"
)

// downloadServer serves byte ranges of registered files, keyed by drive
// path, the way pre-authenticated download URLs do
type downloadServer struct {
	*httptest.Server
	mu       sync.Mutex
	files    map[string][]byte
	status   atomic.Int64
	requests atomic.Int64
	ranges   []string

	// confirm, when set, replaces the Content-Range of partial replies.
	// An empty value omits the header.
	confirm atomic.Pointer[string]
}

func newDownloadServer(t *testing.T) *downloadServer {
	t.Helper()
	ds := &downloadServer{files: make(map[string][]byte)}
	ds.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ds.requests.Add(1)
		ds.mu.Lock()
		data, ok := ds.files[r.URL.Path]
		ds.ranges = append(ds.ranges, r.Header.Get("Range"))
		ds.mu.Unlock()

		if code := ds.status.Load(); code != 0 {
			w.WriteHeader(int(code))
			return
		}
		if !ok || r.URL.Query().Get("tempauth") == "" {
			http.NotFound(w, r)
			return
		}
		if confirm := ds.confirm.Load(); confirm != nil && r.Header.Get("Range") != "" {
			rng, err := internal.ParseRangeHeader(r.Header.Get("Range"))
			if err != nil || rng.Start >= uint64(len(data)) {
				w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
				return
			}
			end := uint64(len(data))
			if rng.End != nil && *rng.End+1 < end {
				end = *rng.End + 1
			}
			if *confirm != "" {
				w.Header().Set("Content-Range", *confirm)
			}
			w.WriteHeader(http.StatusPartialContent)
			w.Write(data[rng.Start:end])
			return
		}
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(ds.Close)
	return ds
}

func (ds *downloadServer) put(path string, data []byte) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.files[path] = data
}

func (ds *downloadServer) lastRange() string {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if len(ds.ranges) == 0 {
		return ""
	}
	return ds.ranges[len(ds.ranges)-1]
}

type fixture struct {
	backend  *fakeBackend
	download *downloadServer
	provider *Provider
	track    []byte
}

// newFixture serves one FLAC album under Music with a track at disc 1,
// track 1 and an album cover
func newFixture(t *testing.T, codec string) *fixture {
	t.Helper()
	f := &fixture{
		backend:  newFakeBackend(),
		download: newDownloadServer(t),
		track:    flacFile(4096),
	}
	f.backend.downloadBase = f.download.URL
	f.backend.setChildren(folder(testAlbum, "/drive/root:/Music"))

	trackPath := "/Music/" + testAlbum + "/1/1." + codec
	f.backend.setItem(trackPath, sizedItemWithDuration(int64(len(f.track)), 245000))
	f.download.put(trackPath, f.track)
	f.download.put("/Music/"+testAlbum+"/cover.jpg", []byte("album-cover"))
	f.download.put("/Music/"+testAlbum+"/2/cover.jpg", []byte("disc-cover"))

	p, err := Open(context.Background(), f.backend, Config{
		Root:   "Music",
		Codec:  codec,
		Logger: internal.NewNopLogger(),
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	f.provider = p
	return f
}

func TestNew_RequiresBackend(t *testing.T) {
	if _, err := New(nil, Config{}); !internal.IsType(err, internal.ErrInvalidConfig) {
		t.Errorf("New() error = %v, want InvalidConfig", err)
	}
}

func TestProvider_Albums(t *testing.T) {
	f := newFixture(t, "flac")
	if got := f.provider.Albums(); len(got) != 1 || got[0] != testAlbum {
		t.Errorf("Albums() = %v", got)
	}
	if !f.provider.HasAlbum(testAlbum) || f.provider.HasAlbum("missing") {
		t.Error("HasAlbum() mismatch")
	}
	if f.provider.Strategy().Name() != StrategyProbe {
		t.Errorf("default flac strategy = %q, want probe", f.provider.Strategy().Name())
	}
}

func TestProvider_UnknownAlbum(t *testing.T) {
	f := newFixture(t, "flac")
	ctx := context.Background()
	unknown := "00000000-0000-0000-0000-000000000000"

	if _, err := f.provider.GetAudio(ctx, unknown, 1, 1, internal.FullRange); !internal.IsType(err, internal.ErrNotFound) {
		t.Errorf("GetAudio() error = %v, want NotFound", err)
	}
	if _, err := f.provider.GetAudioInfo(ctx, unknown, 1, 1); !internal.IsType(err, internal.ErrNotFound) {
		t.Errorf("GetAudioInfo() error = %v, want NotFound", err)
	}
	if _, err := f.provider.GetCover(ctx, unknown, 0); !internal.IsType(err, internal.ErrNotFound) {
		t.Errorf("GetCover() error = %v, want NotFound", err)
	}
	if n := f.backend.itemCalls.Load() + f.backend.urlCalls.Load(); n != 0 {
		t.Errorf("unknown album caused %d backend calls", n)
	}
}

func TestProvider_InvalidTrack(t *testing.T) {
	f := newFixture(t, "flac")
	if _, err := f.provider.GetAudio(context.Background(), testAlbum, 0, 1, internal.FullRange); !internal.IsType(err, internal.ErrInvalidPath) {
		t.Errorf("GetAudio() error = %v, want InvalidPath", err)
	}
}

func TestProvider_GetAudioFull(t *testing.T) {
	f := newFixture(t, "flac")

	res, err := f.provider.GetAudio(context.Background(), testAlbum, 1, 1, internal.FullRange)
	if err != nil {
		t.Fatalf("GetAudio() error = %v", err)
	}
	defer res.Body.Close()

	if res.Info.Extension != "flac" || res.Info.Size != int64(len(f.track)) || res.Info.Duration != 245500 {
		t.Errorf("Info = %+v", res.Info)
	}
	if got := readAll(t, res.Body); !bytes.Equal(got, f.track) {
		t.Errorf("body has %d bytes, want %d", len(got), len(f.track))
	}
	if f.download.lastRange() != "" {
		t.Errorf("full range sent Range header %q", f.download.lastRange())
	}
}

func TestProvider_GetAudioRange(t *testing.T) {
	f := newFixture(t, "flac")

	res, err := f.provider.GetAudio(context.Background(), testAlbum, 1, 1, internal.NewRange(100, 199))
	if err != nil {
		t.Fatalf("GetAudio() error = %v", err)
	}
	defer res.Body.Close()

	if got := f.download.lastRange(); got != "bytes=100-199" {
		t.Errorf("Range header = %q", got)
	}
	if res.Info.Duration != 0 {
		t.Errorf("Duration = %d, want 0 for an offset window", res.Info.Duration)
	}
	if res.Range.Start != 100 || res.Range.End == nil || *res.Range.End != 199 {
		t.Errorf("Range = %s", res.Range)
	}
	if res.Range.Total == nil || *res.Range.Total != uint64(len(f.track)) {
		t.Errorf("Range total = %v", res.Range.Total)
	}
	if got := readAll(t, res.Body); !bytes.Equal(got, f.track[100:200]) {
		t.Errorf("body mismatch, got %d bytes", len(got))
	}
}

func TestProvider_GetAudioOpenEndedFromZero(t *testing.T) {
	f := newFixture(t, "flac")

	res, err := f.provider.GetAudio(context.Background(), testAlbum, 1, 1, internal.Range{Start: 0, End: nil})
	if err != nil {
		t.Fatalf("GetAudio() error = %v", err)
	}
	defer res.Body.Close()
	if res.Info.Duration != 245500 {
		t.Errorf("Duration = %d, want 245500", res.Info.Duration)
	}
}

func TestProvider_GetAudioUnconfirmedPartial(t *testing.T) {
	tests := []struct {
		name         string
		confirm      string
		rng          internal.Range
		wantDuration uint64
	}{
		{"malformed offset window", "bytes garbage", internal.Range{Start: 100}, 0},
		{"missing offset window", "", internal.Range{Start: 100}, 0},
		{"unparseable numbers", "bytes abc-def/ghi", internal.Range{Start: 100}, 0},
		{"malformed window from zero", "bytes garbage", internal.NewRange(0, 8191), 245500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "flac")
			confirm := tt.confirm
			f.download.confirm.Store(&confirm)

			res, err := f.provider.GetAudio(context.Background(), testAlbum, 1, 1, tt.rng)
			if err != nil {
				t.Fatalf("GetAudio() error = %v", err)
			}
			defer res.Body.Close()

			if res.Info.Duration != tt.wantDuration {
				t.Errorf("Duration = %d, want %d", res.Info.Duration, tt.wantDuration)
			}
			if res.Range.Start != tt.rng.Start {
				t.Errorf("Range = %s, want the requested start %d", res.Range, tt.rng.Start)
			}
			if got := readAll(t, res.Body); !bytes.Equal(got, f.track[tt.rng.Start:]) {
				t.Errorf("body has %d bytes, want %d", len(got), len(f.track)-int(tt.rng.Start))
			}
		})
	}
}

func TestProvider_GetAudioErrors(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(f *fixture)
		disc   uint8
		wantTy internal.ErrorType
	}{
		{
			name:   "missing item",
			setup:  func(f *fixture) {},
			disc:   3,
			wantTy: internal.ErrNotFound,
		},
		{
			name: "missing size",
			setup: func(f *fixture) {
				f.backend.setItem("/Music/"+testAlbum+"/1/1.flac", &internal.DriveItem{})
			},
			disc:   1,
			wantTy: internal.ErrBackend,
		},
		{
			name:   "download gone",
			setup:  func(f *fixture) { f.download.status.Store(http.StatusGone) },
			disc:   1,
			wantTy: internal.ErrBackend,
		},
		{
			name:   "download expired",
			setup:  func(f *fixture) { f.download.status.Store(http.StatusForbidden) },
			disc:   1,
			wantTy: internal.ErrAuth,
		},
		{
			name: "not flac",
			setup: func(f *fixture) {
				f.download.put("/Music/"+testAlbum+"/1/1.flac", []byte(strings.Repeat("RIFF", 32)))
			},
			disc:   1,
			wantTy: internal.ErrDecode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "flac")
			tt.setup(f)

			_, err := f.provider.GetAudio(context.Background(), testAlbum, tt.disc, 1, internal.FullRange)
			if !internal.IsType(err, tt.wantTy) {
				t.Errorf("GetAudio() error = %v, want %s", err, tt.wantTy)
			}
		})
	}
}

func TestProvider_GetAudioInfoMetadata(t *testing.T) {
	f := newFixture(t, "mp3")

	info, err := f.provider.GetAudioInfo(context.Background(), testAlbum, 1, 1)
	if err != nil {
		t.Fatalf("GetAudioInfo() error = %v", err)
	}
	if info.Extension != "mp3" || info.Size != int64(len(f.track)) || info.Duration != 245000 {
		t.Errorf("GetAudioInfo() = %+v", info)
	}
	if f.download.requests.Load() != 0 {
		t.Error("metadata strategy should not download the track")
	}
	if f.backend.urlCalls.Load() != 0 {
		t.Error("metadata strategy should not request a download URL")
	}

	f.backend.mu.Lock()
	fields := strings.Join(f.backend.lastFields, ",")
	f.backend.mu.Unlock()
	if fields != "size,audio" {
		t.Errorf("requested fields = %q, want size,audio", fields)
	}
}

func TestProvider_GetAudioInfoProbe(t *testing.T) {
	f := newFixture(t, "flac")

	info, err := f.provider.GetAudioInfo(context.Background(), testAlbum, 1, 1)
	if err != nil {
		t.Fatalf("GetAudioInfo() error = %v", err)
	}
	if info.Duration != 245500 || info.Size != int64(len(f.track)) {
		t.Errorf("GetAudioInfo() = %+v", info)
	}
}

func TestProvider_GetCover(t *testing.T) {
	f := newFixture(t, "flac")

	tests := []struct {
		disc uint8
		want string
	}{
		{0, "album-cover"},
		{2, "disc-cover"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("disc %d", tt.disc), func(t *testing.T) {
			body, err := f.provider.GetCover(context.Background(), testAlbum, tt.disc)
			if err != nil {
				t.Fatalf("GetCover() error = %v", err)
			}
			defer body.Close()
			if got := string(readAll(t, body)); got != tt.want {
				t.Errorf("GetCover() = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := f.provider.GetCover(context.Background(), testAlbum, 1); !internal.IsType(err, internal.ErrNotFound) {
		t.Errorf("missing disc cover error = %v, want NotFound", err)
	}
}

func TestProvider_ReloadDuringStream(t *testing.T) {
	f := newFixture(t, "flac")

	res, err := f.provider.GetAudio(context.Background(), testAlbum, 1, 1, internal.FullRange)
	if err != nil {
		t.Fatalf("GetAudio() error = %v", err)
	}
	defer res.Body.Close()

	f.backend.setChildren()
	if err := f.provider.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	if got := readAll(t, res.Body); !bytes.Equal(got, f.track) {
		t.Error("in-flight stream should complete after reload")
	}
	if _, err := f.provider.GetAudio(context.Background(), testAlbum, 1, 1, internal.FullRange); !internal.IsType(err, internal.ErrNotFound) {
		t.Errorf("GetAudio() after reload error = %v, want NotFound", err)
	}
}

func TestProvider_CloseReleasesBody(t *testing.T) {
	f := newFixture(t, "flac")

	res, err := f.provider.GetAudio(context.Background(), testAlbum, 1, 1, internal.FullRange)
	if err != nil {
		t.Fatalf("GetAudio() error = %v", err)
	}
	if err := res.Body.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if _, err := io.ReadAll(res.Body); err == nil {
		t.Error("reading past the head after Close should fail")
	}
}

// graphFixture wires the provider to a real Drive and CredentialManager
// against fake Graph and token endpoints
type graphFixture struct {
	tokenCalls atomic.Int64
	expiresIn  atomic.Int64
	clock      atomic.Int64
}

func (g *graphFixture) now() time.Time {
	return time.Now().Add(time.Duration(g.clock.Load()))
}

func TestProvider_ConcurrentRequestsShareOneRefresh(t *testing.T) {
	g := &graphFixture{}
	g.expiresIn.Store(60)

	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := g.tokenCalls.Add(1)
		time.Sleep(20 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"token_type":"Bearer","access_token":"access-%d","refresh_token":"refresh-%d","expires_in":%d}`,
			n, n, g.expiresIn.Load())
	}))
	defer tokenServer.Close()

	download := newDownloadServer(t)
	track := flacFile(2048)
	trackPath := "/Music/" + testAlbum + "/1/1.flac"
	download.put(trackPath, track)

	graph := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer access-") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1.0/me/drive/root:/Music:/children":
			fmt.Fprintf(w, `{"value":[{"name":%q,"parentReference":{"path":"/drive/root:/Music"}}]}`, testAlbum)
		case "/v1.0/me/drive/root:" + trackPath + ":":
			fmt.Fprintf(w, `{"size":%d}`, len(track))
		case "/v1.0/me/drive/root:" + trackPath + ":/content":
			http.Redirect(w, r, download.URL+trackPath+"?tempauth=t", http.StatusFound)
		default:
			http.NotFound(w, r)
		}
	}))
	defer graph.Close()

	creds, err := onedrive.NewCredentialManager(onedrive.CredentialConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		RefreshToken: "refresh-0",
		TokenURL:     tokenServer.URL,
		Logger:       internal.NewNopLogger(),
		Now:          g.now,
	})
	if err != nil {
		t.Fatalf("NewCredentialManager() error = %v", err)
	}
	if err := creds.Login(context.Background()); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	g.expiresIn.Store(3600)

	drive, err := onedrive.NewDrive(onedrive.DriveConfig{
		GraphURL: graph.URL + "/v1.0",
		Location: onedrive.DriveLocation{Kind: onedrive.LocationMe},
		Tokens:   creds,
		Logger:   internal.NewNopLogger(),
	})
	if err != nil {
		t.Fatalf("NewDrive() error = %v", err)
	}

	p, err := Open(context.Background(), drive, Config{Root: "Music", Codec: "flac", Logger: internal.NewNopLogger()})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	// The login token now lapses for every request below
	g.clock.Store(int64(time.Minute))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.GetAudio(context.Background(), testAlbum, 1, 1, internal.FullRange)
			if err != nil {
				errs <- err
				return
			}
			defer res.Body.Close()
			data, err := io.ReadAll(res.Body)
			if err != nil {
				errs <- err
				return
			}
			if !bytes.Equal(data, track) || res.Info.Duration != 245500 {
				errs <- fmt.Errorf("unexpected resource: %d bytes, duration %d", len(data), res.Info.Duration)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	if got := g.tokenCalls.Load(); got != 2 {
		t.Errorf("token exchanges = %d, want 2 (login plus one shared refresh)", got)
	}
}

func TestWithContext_WrappedError(t *testing.T) {
	inner := internal.NewBackendError(503, "unavailable")
	err := withContext(fmt.Errorf("download: %w", inner), "path", "/Music/a/1/1.flac")

	if inner.Context["path"] != "/Music/a/1/1.flac" {
		t.Errorf("context = %v, want path on the wrapped error", inner.Context)
	}
	if !internal.IsType(err, internal.ErrBackend) {
		t.Errorf("error type lost: %v", err)
	}
}
