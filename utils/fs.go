package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// PartSuffix marks a file that is still being written
const PartSuffix = ".part"

// FileOperations provides file system utilities
type FileOperations struct{}

// NewFileOperations creates a new FileOperations instance
func NewFileOperations() *FileOperations {
	return &FileOperations{}
}

// EnsureDir creates the parent directory of path if it doesn't exist
func (f *FileOperations) EnsureDir(path string) error {
	dir := filepath.Dir(path)
	return os.MkdirAll(dir, 0755)
}

// FileExists checks if a file exists
func (f *FileOperations) FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// GetFileSize returns the size of a file
func (f *FileOperations) GetFileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// AtomicRename performs an atomic file rename operation
func (f *FileOperations) AtomicRename(oldPath, newPath string) error {
	return os.Rename(oldPath, newPath)
}

// PartFile is an output file written under a temporary ".part" name and
// moved into place by Commit
type PartFile struct {
	*os.File
	finalPath string
	ops       *FileOperations
	done      bool
}

// CreatePartFile creates (or truncates) outputPath+".part", creating parent
// directories as needed
func (f *FileOperations) CreatePartFile(outputPath string) (*PartFile, error) {
	if err := f.EnsureDir(outputPath); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	file, err := os.OpenFile(outputPath+PartSuffix, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create partial file: %w", err)
	}

	return &PartFile{File: file, finalPath: outputPath, ops: f}, nil
}

// FinalPath returns the path the file will have after Commit
func (p *PartFile) FinalPath() string {
	return p.finalPath
}

// Commit syncs and closes the partial file, then renames it into place
func (p *PartFile) Commit() error {
	if p.done {
		return nil
	}
	p.done = true

	if err := p.Sync(); err != nil {
		p.File.Close()
		return fmt.Errorf("failed to sync %s: %w", p.Name(), err)
	}
	if err := p.File.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", p.Name(), err)
	}
	return p.ops.AtomicRename(p.Name(), p.finalPath)
}

// Discard closes and removes the partial file. It is a no-op after Commit,
// so it can be deferred unconditionally.
func (p *PartFile) Discard() error {
	if p.done {
		return nil
	}
	p.done = true

	p.File.Close()
	if err := os.Remove(p.Name()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
