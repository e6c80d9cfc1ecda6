// Package fsx holds the file helpers shared by archive and key I/O.
package fsx

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
)

// ErrTooLarge is returned by ReadFileLimited when a file exceeds its limit.
var ErrTooLarge = errors.New("file exceeds max size")

// WriteFileAtomic replaces path with content via a synced temp file in the
// same directory. Missing parent directories are created with 0o750.
func WriteFileAtomic(path string, content []byte, mode os.FileMode) error {
	parent := filepath.Dir(path)
	if err := os.MkdirAll(parent, 0o750); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	tempPath, err := writeTemp(parent, filepath.Base(path), content, mode)
	if err != nil {
		return err
	}
	if err := replace(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return err
	}
	syncDir(parent)
	return nil
}

// WriteFileExclusive is WriteFileAtomic that refuses to replace an existing
// file. Key generation uses it so a second init never clobbers key material.
func WriteFileExclusive(path string, content []byte, mode os.FileMode) error {
	if _, err := os.Lstat(path); err == nil {
		return fmt.Errorf("%s: %w", path, os.ErrExist)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	return WriteFileAtomic(path, content, mode)
}

// ReadFileLimited reads at most maxBytes from path.
func ReadFileLimited(path string, maxBytes int64) ([]byte, error) {
	// #nosec G304 -- caller supplies local path by design
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = file.Close()
	}()
	if info, err := file.Stat(); err == nil && info.Size() > maxBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, path, info.Size())
	}
	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: %s", ErrTooLarge, path)
	}
	return data, nil
}

func writeTemp(dir, base string, content []byte, mode os.FileMode) (string, error) {
	tempFile, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	fail := func(step string, cause error) (string, error) {
		_ = tempFile.Close()
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("%s temp file: %w", step, cause)
	}
	if _, err := tempFile.Write(content); err != nil {
		return fail("write", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := tempFile.Chmod(mode); err != nil {
		return fail("chmod", err)
	}
	if err := tempFile.Close(); err != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return tempPath, nil
}

func replace(tempPath, path string) error {
	err := os.Rename(tempPath, path)
	if err == nil {
		return nil
	}
	if runtime.GOOS != "windows" {
		return fmt.Errorf("rename temp file: %w", err)
	}
	if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
		return fmt.Errorf("remove destination before rename: %w", removeErr)
	}
	if renameErr := os.Rename(tempPath, path); renameErr != nil {
		return fmt.Errorf("rename temp file after remove: %w", renameErr)
	}
	return nil
}

func syncDir(dir string) {
	// #nosec G304 -- dir is the parent of a caller-provided destination path.
	if handle, err := os.Open(dir); err == nil {
		_ = handle.Sync()
		_ = handle.Close()
	}
}
