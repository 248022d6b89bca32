// Package packaging merges library archives into a single function layer.
package packaging

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
)

// Archive is one packaged library archive.
type Archive struct {
	Name string
	Data []byte
}

type entry struct {
	file  *zip.File
	order int
}

// MergeLayer unpacks archives in order into a single zip written to w. A
// path present in several archives takes the content of the last one. It
// returns the number of files written.
func MergeLayer(w io.Writer, archives []Archive) (int, error) {
	entries := make(map[string]entry)
	order := 0
	for _, a := range archives {
		r, err := zip.NewReader(bytes.NewReader(a.Data), int64(len(a.Data)))
		if err != nil {
			return 0, fmt.Errorf("failed to open archive %s: %w", a.Name, err)
		}
		for _, f := range r.File {
			name, err := cleanName(f.Name)
			if err != nil {
				return 0, fmt.Errorf("archive %s: %w", a.Name, err)
			}
			if name == "" || f.FileInfo().IsDir() {
				continue
			}
			prev, ok := entries[name]
			if ok {
				prev.file = f
				entries[name] = prev
				continue
			}
			entries[name] = entry{file: f, order: order}
			order++
		}
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return entries[names[i]].order < entries[names[j]].order })

	zw := zip.NewWriter(w)
	for _, name := range names {
		if err := copyEntry(zw, name, entries[name].file); err != nil {
			_ = zw.Close()
			return 0, err
		}
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("failed to finalize layer archive: %w", err)
	}
	return len(names), nil
}

func copyEntry(zw *zip.Writer, name string, f *zip.File) error {
	header := &zip.FileHeader{Name: name, Method: zip.Deflate, Modified: f.Modified}
	header.SetMode(f.Mode())

	dst, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", name, err)
	}
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	defer src.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy %s: %w", name, err)
	}
	return nil
}

// cleanName rejects entries that would escape the layer root.
func cleanName(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("absolute path %q", name)
	}
	clean := path.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("path %q escapes the archive root", name)
	}
	if clean == "." {
		return "", nil
	}
	return clean, nil
}
