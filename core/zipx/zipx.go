// Package zipx writes reproducible zip archives and reads entries from
// untrusted ones with a size ceiling.
package zipx

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

// DefaultLevel is maximum deflate compression.
const DefaultLevel = flate.BestCompression

// ErrEntryTooLarge is returned when an entry exceeds the caller's limit.
var ErrEntryTooLarge = errors.New("zip entry exceeds max size")

// fixedModTime keeps entry headers independent of wall-clock time.
var fixedModTime = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

type File struct {
	Path string
	Data []byte
	Mode os.FileMode
}

// WriteDeterministicZipLevel writes files sorted by path with fixed
// timestamps, so equal inputs give equal bytes.
func WriteDeterministicZipLevel(w io.Writer, files []File, level int) error {
	if level < flate.HuffmanOnly || level > flate.BestCompression {
		return fmt.Errorf("invalid compression level: %d", level)
	}
	sorted := make([]File, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	seen := make(map[string]struct{}, len(sorted))
	for _, file := range sorted {
		if err := checkEntryPath(file.Path); err != nil {
			return err
		}
		if _, ok := seen[file.Path]; ok {
			return fmt.Errorf("duplicate zip entry: %s", file.Path)
		}
		seen[file.Path] = struct{}{}
	}

	writer := zip.NewWriter(w)
	writer.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})
	for _, file := range sorted {
		mode := file.Mode
		if mode == 0 {
			mode = 0o644
		}
		header := &zip.FileHeader{
			Name:     file.Path,
			Method:   zip.Deflate,
			Modified: fixedModTime,
		}
		header.SetMode(mode)
		entry, err := writer.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("create zip entry %s: %w", file.Path, err)
		}
		if _, err := entry.Write(file.Data); err != nil {
			return fmt.Errorf("write zip entry %s: %w", file.Path, err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalize zip: %w", err)
	}
	return nil
}

func Open(data []byte) (*zip.Reader, error) {
	return zip.NewReader(bytes.NewReader(data), int64(len(data)))
}

func Find(files []*zip.File, name string) (*zip.File, bool) {
	for _, zipFile := range files {
		if zipFile.Name == name {
			return zipFile, true
		}
	}
	return nil, false
}

// ReadFile reads one entry, refusing to decompress more than maxBytes. The
// declared size is checked first and the stream is bounded regardless,
// since headers of an untrusted archive can lie.
func ReadFile(zipFile *zip.File, maxBytes int64) ([]byte, error) {
	if maxBytes > 0 && zipFile.UncompressedSize64 > uint64(maxBytes) {
		return nil, fmt.Errorf("%w: %s declares %d bytes", ErrEntryTooLarge, zipFile.Name, zipFile.UncompressedSize64)
	}
	reader, err := zipFile.Open()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = reader.Close()
	}()
	var source io.Reader = reader
	if maxBytes > 0 {
		source = io.LimitReader(reader, maxBytes+1)
	}
	data, err := io.ReadAll(source)
	if err != nil {
		return nil, err
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: %s", ErrEntryTooLarge, zipFile.Name)
	}
	return data, nil
}

func checkEntryPath(name string) error {
	if name == "" {
		return fmt.Errorf("zip entry path is empty")
	}
	if path.IsAbs(name) || path.Clean(name) != name || name == ".." || strings.HasPrefix(name, "../") {
		return fmt.Errorf("unsafe zip entry path: %s", name)
	}
	return nil
}
