// Package fsutil provides the filesystem primitives the repositories
// and the worktree layer build on: atomic writes, state-directory moves
// with a cross-device fallback, and symlink merging for shared state.
package fsutil

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/renameio/v2"
)

// WriteFileAtomic writes data to path atomically: the content lands in
// a temp file in the same directory and is renamed over the target.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}
	return renameio.WriteFile(path, data, perm)
}

// MoveFile renames src to dst, creating dst's parent directory. When
// the rename crosses devices it falls back to copy+verify+delete so the
// source survives any partial failure.
func MoveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating target directory: %w", err)
	}

	if err := os.Rename(src, dst); err == nil {
		return nil
	} else if !isCrossDevice(err) {
		return fmt.Errorf("renaming %s: %w", filepath.Base(src), err)
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading source for copy fallback: %w", err)
	}
	if err := WriteFileAtomic(dst, data, 0o644); err != nil {
		return fmt.Errorf("copying to target: %w", err)
	}
	written, err := os.ReadFile(dst)
	if err != nil {
		return fmt.Errorf("verifying copied target: %w", err)
	}
	if !bytes.Equal(data, written) {
		_ = os.Remove(dst)
		return fmt.Errorf("copy verification failed for %s", dst)
	}
	return os.Remove(src)
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) {
		return false
	}
	return errors.Is(linkErr.Err, syscall.EXDEV) || strings.Contains(linkErr.Err.Error(), "cross-device")
}

// CopyFile copies a single file preserving permissions.
func CopyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// EnsureSymlink links target into linkPath. An existing correct link is
// left alone; an existing directory is merged exactly once by moving
// its contents into target before replacing it with the link.
func EnsureSymlink(target, linkPath string) error {
	if fi, err := os.Lstat(linkPath); err == nil {
		if fi.Mode()&os.ModeSymlink != 0 {
			existing, err := os.Readlink(linkPath)
			if err == nil && existing == target {
				return nil
			}
			if err := os.Remove(linkPath); err != nil {
				return fmt.Errorf("replacing stale symlink: %w", err)
			}
		} else if fi.IsDir() {
			if err := mergeDirInto(linkPath, target); err != nil {
				return fmt.Errorf("merging existing directory into shared target: %w", err)
			}
			if err := os.RemoveAll(linkPath); err != nil {
				return fmt.Errorf("removing merged directory: %w", err)
			}
		} else {
			if err := os.Remove(linkPath); err != nil {
				return fmt.Errorf("removing file in symlink position: %w", err)
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(linkPath), 0o755); err != nil {
		return err
	}
	return os.Symlink(target, linkPath)
}

// mergeDirInto moves every entry of src into dst, skipping entries that
// already exist in dst.
func mergeDirInto(src, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		from := filepath.Join(src, entry.Name())
		to := filepath.Join(dst, entry.Name())
		if _, err := os.Lstat(to); err == nil {
			continue
		}
		if err := os.Rename(from, to); err != nil {
			return err
		}
	}
	return nil
}

// ListDirNames returns the names of directory entries, files only or
// dirs only depending on wantDir. A missing directory yields nil.
func ListDirNames(dir string, wantDir bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() == wantDir {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Exists reports whether a path exists.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
