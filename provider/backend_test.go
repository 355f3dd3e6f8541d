package provider

import (
	"context"
	"sync"
	"sync/atomic"

	"drivecast/internal"
)

// fakeBackend serves canned listings and items. Download URLs point at
// downloadBase followed by the item path.
type fakeBackend struct {
	mu           sync.Mutex
	children     []internal.DriveItem
	listErr      error
	items        map[string]*internal.DriveItem
	itemErr      error
	downloadBase string
	lastFields   []string

	listCalls atomic.Int64
	itemCalls atomic.Int64
	urlCalls  atomic.Int64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{items: make(map[string]*internal.DriveItem)}
}

func (f *fakeBackend) setChildren(children ...internal.DriveItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.children = children
}

func (f *fakeBackend) setListErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

func (f *fakeBackend) setItem(path string, item *internal.DriveItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[path] = item
}

func (f *fakeBackend) ListChildren(ctx context.Context, path string) ([]internal.DriveItem, error) {
	f.listCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]internal.DriveItem(nil), f.children...), nil
}

func (f *fakeBackend) GetItem(ctx context.Context, path string, fields ...string) (*internal.DriveItem, error) {
	f.itemCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFields = fields
	if f.itemErr != nil {
		return nil, f.itemErr
	}
	item, ok := f.items[path]
	if !ok {
		return nil, internal.NewNotFoundError("item").WithContext("path", path)
	}
	copied := *item
	return &copied, nil
}

func (f *fakeBackend) GetDownloadURL(ctx context.Context, path string) (string, error) {
	f.urlCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.downloadBase == "" {
		return "", internal.NewBackendError(0, "no download server")
	}
	return f.downloadBase + path + "?tempauth=secret", nil
}

func folder(name, parent string) internal.DriveItem {
	return internal.DriveItem{Name: name, ParentPath: &parent}
}

func sizedItem(size int64) *internal.DriveItem {
	return &internal.DriveItem{Size: &size}
}

func sizedItemWithDuration(size int64, ms uint64) *internal.DriveItem {
	return &internal.DriveItem{Size: &size, AudioDuration: &ms}
}
