package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"drivecast/internal"
)

const album = "0f8fad5b-d9cb-469f-a165-70867728950e"

// fakeLibrary serves one album with a 100-byte track at 1/1
type fakeLibrary struct {
	data      []byte
	reloadErr error
	audioErr  error
	lastRange internal.Range

	// openEnded confirms partial windows without an end or total
	openEnded bool
}

func newFakeLibrary() *fakeLibrary {
	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}
	return &fakeLibrary{data: data}
}

func (f *fakeLibrary) Albums() []string { return []string{album} }

func (f *fakeLibrary) Reload(ctx context.Context) error { return f.reloadErr }

func (f *fakeLibrary) lookup(a string, disc, track uint8) error {
	if a != album {
		return internal.NewNotFoundError("album").WithContext("album", a)
	}
	if disc == 0 || track == 0 {
		return internal.NewInvalidPathError(a, "disc and track start at 1")
	}
	if disc != 1 || track != 1 {
		return internal.NewNotFoundError("item")
	}
	return f.audioErr
}

func (f *fakeLibrary) info() internal.AudioInfo {
	return internal.AudioInfo{Extension: "flac", Size: int64(len(f.data)), Duration: 2500}
}

func (f *fakeLibrary) GetAudioInfo(ctx context.Context, a string, disc, track uint8) (internal.AudioInfo, error) {
	if err := f.lookup(a, disc, track); err != nil {
		return internal.AudioInfo{}, err
	}
	return f.info(), nil
}

func (f *fakeLibrary) GetAudio(ctx context.Context, a string, disc, track uint8, rng internal.Range) (*internal.AudioResource, error) {
	f.lastRange = rng
	if err := f.lookup(a, disc, track); err != nil {
		return nil, err
	}

	total := uint64(len(f.data))
	if rng.IsFull() {
		return &internal.AudioResource{Info: f.info(), Body: io.NopCloser(bytes.NewReader(f.data))}, nil
	}
	end := total - 1
	if rng.End != nil && *rng.End < end {
		end = *rng.End
	}
	if f.openEnded {
		return &internal.AudioResource{
			Info:  f.info(),
			Range: internal.Range{Start: rng.Start},
			Body:  io.NopCloser(bytes.NewReader(f.data[rng.Start:])),
		}, nil
	}
	window := internal.NewRange(rng.Start, end)
	window.Total = &total

	info := f.info()
	info.Duration = 0
	return &internal.AudioResource{
		Info:  info,
		Range: window,
		Body:  io.NopCloser(bytes.NewReader(f.data[rng.Start : end+1])),
	}, nil
}

func (f *fakeLibrary) GetCover(ctx context.Context, a string, disc uint8) (io.ReadCloser, error) {
	if a != album {
		return nil, internal.NewNotFoundError("album")
	}
	if disc == 0 {
		return io.NopCloser(strings.NewReader("album-cover")), nil
	}
	return io.NopCloser(strings.NewReader("disc-cover")), nil
}

func serve(t *testing.T, lib Library, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	New(lib, internal.NewNopLogger()).Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := serve(t, newFakeLibrary(), httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Status string `json:"status"`
		Albums int    `json:"albums"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if body.Status != "ok" || body.Albums != 1 {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestAlbums(t *testing.T) {
	rec := serve(t, newFakeLibrary(), httptest.NewRequest("GET", "/albums", nil))

	var body struct {
		Albums []string `json:"albums"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if len(body.Albums) != 1 || body.Albums[0] != album {
		t.Errorf("unexpected albums %v", body.Albums)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}
}

func TestReload(t *testing.T) {
	lib := newFakeLibrary()
	if rec := serve(t, lib, httptest.NewRequest("POST", "/reload", nil)); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	lib.reloadErr = internal.NewAuthError("refresh token revoked", nil)
	rec := serve(t, lib, httptest.NewRequest("POST", "/reload", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}

	if rec := serve(t, lib, httptest.NewRequest("GET", "/reload", nil)); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for GET /reload, got %d", rec.Code)
	}
}

func TestAudio_Full(t *testing.T) {
	lib := newFakeLibrary()
	rec := serve(t, lib, httptest.NewRequest("GET", "/albums/"+album+"/1/1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), lib.data) {
		t.Error("body mismatch")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/flac" {
		t.Errorf("expected audio/flac, got %s", ct)
	}
	if got := rec.Header().Get("Content-Length"); got != "100" {
		t.Errorf("expected Content-Length 100, got %s", got)
	}
	if got := rec.Header().Get("X-Audio-Duration"); got != "2500" {
		t.Errorf("expected duration 2500, got %s", got)
	}
}

func TestAudio_Range(t *testing.T) {
	lib := newFakeLibrary()
	req := httptest.NewRequest("GET", "/albums/"+album+"/1/1", nil)
	req.Header.Set("Range", "bytes=10-19")
	rec := serve(t, lib, req)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 10-19/100" {
		t.Errorf("unexpected Content-Range %q", got)
	}
	if !bytes.Equal(rec.Body.Bytes(), lib.data[10:20]) {
		t.Error("body mismatch")
	}
	if lib.lastRange.Start != 10 || lib.lastRange.End == nil || *lib.lastRange.End != 19 {
		t.Errorf("range forwarded as %s", lib.lastRange)
	}
}

func TestAudio_OpenEndedRange(t *testing.T) {
	lib := newFakeLibrary()
	req := httptest.NewRequest("GET", "/albums/"+album+"/1/1", nil)
	req.Header.Set("Range", "bytes=90-")
	rec := serve(t, lib, req)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 90-99/100" {
		t.Errorf("unexpected Content-Range %q", got)
	}
}

func TestAudio_OpenEndedConfirmation(t *testing.T) {
	lib := newFakeLibrary()
	lib.openEnded = true
	req := httptest.NewRequest("GET", "/albums/"+album+"/1/1", nil)
	req.Header.Set("Range", "bytes=90-")
	rec := serve(t, lib, req)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 90-99/100" {
		t.Errorf("unexpected Content-Range %q", got)
	}
	if got := rec.Header().Get("Content-Length"); got != "10" {
		t.Errorf("expected Content-Length 10, got %s", got)
	}
	if !bytes.Equal(rec.Body.Bytes(), lib.data[90:]) {
		t.Error("body mismatch")
	}
}

func TestAudio_Head(t *testing.T) {
	rec := serve(t, newFakeLibrary(), httptest.NewRequest("HEAD", "/albums/"+album+"/1/1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Error("HEAD must not send a body")
	}
	if got := rec.Header().Get("Content-Length"); got != "100" {
		t.Errorf("expected Content-Length 100, got %s", got)
	}
}

func TestInfo(t *testing.T) {
	rec := serve(t, newFakeLibrary(), httptest.NewRequest("GET", "/albums/"+album+"/1/1/info", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var info internal.AudioInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if info.Extension != "flac" || info.Size != 100 || info.Duration != 2500 {
		t.Errorf("unexpected info %+v", info)
	}
}

func TestCover(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/albums/" + album + "/cover", "album-cover"},
		{"/albums/" + album + "/2/cover", "disc-cover"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := serve(t, newFakeLibrary(), httptest.NewRequest("GET", tt.path, nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			if rec.Body.String() != tt.want {
				t.Errorf("expected %q, got %q", tt.want, rec.Body.String())
			}
			if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
				t.Errorf("expected image/jpeg, got %s", ct)
			}
		})
	}
}

func TestErrorStatuses(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		rangeHdr string
		audioErr error
		want     int
		wantType string
	}{
		{"unknown album", "/albums/missing/1/1", "", nil, http.StatusNotFound, "NotFound"},
		{"missing track", "/albums/" + album + "/1/9", "", nil, http.StatusNotFound, "NotFound"},
		{"disc zero", "/albums/" + album + "/0/1", "", nil, http.StatusBadRequest, "InvalidPath"},
		{"disc not a number", "/albums/" + album + "/one/1", "", nil, http.StatusBadRequest, "Validation"},
		{"track out of range", "/albums/" + album + "/1/300", "", nil, http.StatusBadRequest, "Validation"},
		{"bad range", "/albums/" + album + "/1/1", "items=0-1", nil, http.StatusBadRequest, "Validation"},
		{"backend failure", "/albums/" + album + "/1/1", "", internal.NewBackendError(503, "unavailable"), http.StatusBadGateway, "Backend"},
		{"auth failure", "/albums/" + album + "/1/1", "", internal.NewAuthError("revoked", nil), http.StatusUnauthorized, "Auth"},
		{"decode failure", "/albums/" + album + "/1/1", "", internal.NewDecodeError("no STREAMINFO"), http.StatusInternalServerError, "Decode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lib := newFakeLibrary()
			lib.audioErr = tt.audioErr

			req := httptest.NewRequest("GET", tt.path, nil)
			if tt.rangeHdr != "" {
				req.Header.Set("Range", tt.rangeHdr)
			}
			rec := serve(t, lib, req)

			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
			var body errorBody
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("bad JSON: %v", err)
			}
			if body.Error != tt.wantType {
				t.Errorf("expected error type %q, got %q", tt.wantType, body.Error)
			}
		})
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- New(newFakeLibrary(), internal.NewNopLogger()).ListenAndServe(ctx, "127.0.0.1:0")
	}()

	cancel()
	if err := <-done; err != nil {
		t.Errorf("ListenAndServe() error = %v", err)
	}
}
