package platform

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/openfroyo/decom/pkg/engine"
)

// OSFileSystem is the engine.FileSystem backed by the os package.
type OSFileSystem struct{}

var _ engine.FileSystem = OSFileSystem{}

// Exists reports whether path exists without following a final symlink.
func (OSFileSystem) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if err = classify("stat", path, err); engine.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// IsDir reports whether path is a directory. Symlinks are not followed.
func (OSFileSystem) IsDir(_ context.Context, path string) (bool, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return false, classify("stat", path, err)
	}
	return info.IsDir(), nil
}

// Walk lists every entry below root. Unreadable directories are skipped and
// the first such error is returned alongside the entries found.
func (OSFileSystem) Walk(ctx context.Context, root string) ([]engine.EntryInfo, error) {
	var (
		entries  []engine.EntryInfo
		firstErr error
	)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if firstErr == nil {
				firstErr = classify("walk", path, err)
			}
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}
		e := engine.EntryInfo{Path: path, IsDir: d.IsDir()}
		if !e.IsDir {
			if info, err := d.Info(); err == nil {
				e.Size = info.Size()
			}
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return entries, err
	}
	return entries, firstErr
}

// RemoveFile deletes one file, clearing a read-only attribute if needed.
func (OSFileSystem) RemoveFile(_ context.Context, path string) error {
	err := os.Remove(path)
	if err != nil && errors.Is(err, fs.ErrPermission) {
		if chmodErr := os.Chmod(path, 0o666); chmodErr == nil {
			err = os.Remove(path)
		}
	}
	if err != nil {
		return classify("remove", path, err)
	}
	return nil
}

// RemoveDir deletes one empty directory.
func (OSFileSystem) RemoveDir(_ context.Context, path string) error {
	if err := os.Remove(path); err != nil {
		return classify("rmdir", path, err)
	}
	return nil
}
