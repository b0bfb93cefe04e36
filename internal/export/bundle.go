package export

import (
	"archive/zip"
	"fmt"
	"io"
	"sort"
	"time"
)

// PackageFile is one materialized artifact of a package, by conventional
// name and rendered content.
type PackageFile struct {
	Name string
	Data []byte
}

// Bundle writes the package files as a single zip archive. The archive is
// deterministic for a fixed input: entries are ordered by name and all carry
// the supplied modification time, so rebuilding the same package yields
// byte-identical bundles.
func Bundle(w io.Writer, files []PackageFile, modified time.Time) error {
	ordered := append([]PackageFile(nil), files...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	archive := zip.NewWriter(w)
	for _, file := range ordered {
		if file.Name == "" {
			return fmt.Errorf("bundle: file with empty name")
		}
		entry, err := archive.CreateHeader(&zip.FileHeader{
			Name:     file.Name,
			Method:   zip.Deflate,
			Modified: modified.UTC(),
		})
		if err != nil {
			return fmt.Errorf("bundle %s: %w", file.Name, err)
		}
		if _, err := entry.Write(file.Data); err != nil {
			return fmt.Errorf("bundle %s: %w", file.Name, err)
		}
	}
	if err := archive.Close(); err != nil {
		return fmt.Errorf("close bundle: %w", err)
	}
	return nil
}
