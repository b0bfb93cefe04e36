// Command package-check validates a built expression data package, either an
// unpacked directory or a bundle zip: the manifest decodes against the
// supported schema version, every referenced file exists, the data files
// re-parse, and the expression tables cross-reference the metadata tables
// consistently.
package main

import (
	"archive/zip"
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"cellpack/internal/core"
	"cellpack/internal/export"
)

var (
	allowedReasons = buildAllowedReasons()
	exitFunc       = os.Exit
)

// buildAllowedReasons collects the exclusion reasons a gene may carry in the
// unconsidered gene metadata table. Resolved genes never appear there.
func buildAllowedReasons() map[string]struct{} {
	reasons := []core.MappingDisposition{
		core.DispositionUnassigned,
		core.DispositionMultiMapped,
		core.DispositionCollision,
	}
	m := make(map[string]struct{}, len(reasons))
	for _, reason := range reasons {
		m[string(reason)] = struct{}{}
	}
	return m
}

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("package-check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var packagePath string
	fs.StringVar(&packagePath, "package", "package", "path to a package directory or bundle zip")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if err := run(packagePath); err != nil {
		if _, writeErr := fmt.Fprintf(stderr, "Package validation failed: %v\n", err); writeErr != nil {
			return 1
		}
		return 1
	}
	if _, writeErr := fmt.Fprintln(stdout, "Package validation passed."); writeErr != nil {
		return 1
	}
	return 0
}

// run loads the package content, decodes the manifest, and walks the checks
// in dependency order: manifest, file inventory, metadata tables, expression
// tables. The first violation aborts the run.
func run(packagePath string) error {
	files, err := loadPackage(packagePath)
	if err != nil {
		return err
	}

	manifestData, ok := files[export.ManifestFile]
	if !ok {
		return fmt.Errorf("%s is missing", export.ManifestFile)
	}
	manifest, err := export.DecodeManifest(manifestData)
	if err != nil {
		return err
	}
	if err := checkManifest(manifest); err != nil {
		return fmt.Errorf("manifest: %w", err)
	}

	expected := map[string]struct{}{export.ManifestFile: {}}
	for _, name := range referencedFiles(manifest) {
		expected[name] = struct{}{}
		if _, ok := files[name]; !ok {
			return fmt.Errorf("referenced file %s is missing", name)
		}
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := expected[name]; !ok {
			return fmt.Errorf("unexpected file %q in package", name)
		}
	}

	cellFile := manifest.Data.CellMetadata.File
	cells, columns, err := checkCellMetadata(files[cellFile])
	if err != nil {
		return fmt.Errorf("%s: %w", cellFile, err)
	}
	if bc := manifest.Data.CellMetadata.BatchColumn; bc != "" && !stringInSlice(bc, columns) {
		return fmt.Errorf("batch column %q is not a cell metadata column", bc)
	}

	geneFile := manifest.Data.GeneMetadata.File
	resolvedIDs, resolvedOriginals, err := checkGeneMetadata(files[geneFile])
	if err != nil {
		return fmt.Errorf("%s: %w", geneFile, err)
	}

	excludedFile := manifest.Data.Supplemental.UnconsideredGenes.GeneMetadata.File
	excludedGenes, err := checkExcludedGeneMetadata(files[excludedFile])
	if err != nil {
		return fmt.Errorf("%s: %w", excludedFile, err)
	}
	for original := range resolvedOriginals {
		if _, both := excludedGenes[original]; both {
			return fmt.Errorf("gene %q appears both resolved and excluded", original)
		}
	}

	expressionFile := manifest.Data.ExpressionData.File
	entries, err := export.ParseExpression(bytes.NewReader(files[expressionFile]))
	if err != nil {
		return fmt.Errorf("%s: %w", expressionFile, err)
	}
	if err := checkEntries(entries, cells, resolvedIDs, "gene ID"); err != nil {
		return fmt.Errorf("%s: %w", expressionFile, err)
	}

	excludedExpressionFile := manifest.Data.Supplemental.UnconsideredGenes.ExpressionData.File
	excludedEntries, err := export.ParseExcludedExpression(bytes.NewReader(files[excludedExpressionFile]))
	if err != nil {
		return fmt.Errorf("%s: %w", excludedExpressionFile, err)
	}
	if err := checkEntries(excludedEntries, cells, excludedGenes, "gene"); err != nil {
		return fmt.Errorf("%s: %w", excludedExpressionFile, err)
	}

	return nil
}

// loadPackage reads every file of the package into memory, from a directory
// or from a bundle zip when the path ends in .zip.
func loadPackage(path string) (map[string][]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat package: %w", err)
	}
	if info.IsDir() {
		return loadDir(path)
	}
	if strings.HasSuffix(path, ".zip") {
		return loadBundle(path)
	}
	return nil, fmt.Errorf("package %s is neither a directory nor a bundle zip", path)
}

func loadDir(dir string) (map[string][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read package: %w", err)
	}
	files := make(map[string][]byte, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			return nil, fmt.Errorf("unexpected directory %q in package", entry.Name())
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name())) // #nosec G304: path derives from the -package flag
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		files[entry.Name()] = data
	}
	return files, nil
}

func loadBundle(path string) (files map[string][]byte, err error) {
	archive, err := zip.OpenReader(path) // #nosec G304: path derives from the -package flag
	if err != nil {
		return nil, fmt.Errorf("open bundle: %w", err)
	}
	defer func() {
		if cerr := archive.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close bundle: %w", cerr)
		}
	}()

	files = make(map[string][]byte, len(archive.File))
	for _, entry := range archive.File {
		rc, openErr := entry.Open()
		if openErr != nil {
			return nil, fmt.Errorf("open %s: %w", entry.Name, openErr)
		}
		data, readErr := io.ReadAll(rc)
		if cerr := rc.Close(); readErr == nil && cerr != nil {
			readErr = cerr
		}
		if readErr != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name, readErr)
		}
		files[entry.Name] = data
	}
	return files, nil
}

func checkManifest(m *export.Manifest) error {
	if m.SchemaVersion != export.SchemaVersion {
		return fmt.Errorf("schema_version %g is not supported (want %g)", m.SchemaVersion, export.SchemaVersion)
	}
	if m.Data.CellMetadata.Organism <= 0 {
		return errors.New("organism taxonomy ID is missing")
	}
	if strings.TrimSpace(m.Metadata.Title) == "" {
		return errors.New("title is empty")
	}
	if strings.TrimSpace(m.Metadata.Contact) == "" {
		return errors.New("contact is empty")
	}
	if m.Metadata.Version < 1 {
		return fmt.Errorf("version %d must be at least 1", m.Metadata.Version)
	}
	return nil
}

func referencedFiles(m *export.Manifest) []string {
	return []string{
		m.Data.CellMetadata.File,
		m.Data.GeneMetadata.File,
		m.Data.ExpressionData.File,
		m.Data.Supplemental.UnconsideredGenes.ExpressionData.File,
		m.Data.Supplemental.UnconsideredGenes.GeneMetadata.File,
	}
}

// checkCellMetadata verifies the cell metadata table and returns the cell
// count and the attribute column names. Cell IDs must run 0..n-1 in order.
func checkCellMetadata(data []byte) (int, []string, error) {
	lines := splitLines(data)
	if len(lines) == 0 {
		return 0, nil, errors.New("file is empty")
	}
	header := strings.Split(lines[0], "\t")
	if len(header) < 2 || header[0] != "cellId*Integer" || header[1] != "cellName" {
		return 0, nil, fmt.Errorf("unexpected header %q", lines[0])
	}
	for i, line := range lines[1:] {
		fields := strings.Split(line, "\t")
		if len(fields) != len(header) {
			return 0, nil, fmt.Errorf("line %d has %d fields, expected %d", i+2, len(fields), len(header))
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil || id != i {
			return 0, nil, fmt.Errorf("line %d: cell ID %q out of sequence", i+2, fields[0])
		}
	}
	return len(lines) - 1, header[2:], nil
}

// checkGeneMetadata verifies the resolved gene metadata table and returns the
// canonical ID set and the original identifier set.
func checkGeneMetadata(data []byte) (map[string]struct{}, map[string]struct{}, error) {
	lines := splitLines(data)
	if len(lines) == 0 {
		return nil, nil, errors.New("file is empty")
	}
	if lines[0] != "geneId*Integer\toriginalId" {
		return nil, nil, fmt.Errorf("unexpected header %q", lines[0])
	}
	ids := make(map[string]struct{}, len(lines)-1)
	originals := make(map[string]struct{}, len(lines)-1)
	for i, line := range lines[1:] {
		fields := strings.Split(line, "\t")
		if len(fields) != 2 {
			return nil, nil, fmt.Errorf("line %d has %d fields, expected 2", i+2, len(fields))
		}
		if _, err := strconv.ParseUint(fields[0], 10, 64); err != nil {
			return nil, nil, fmt.Errorf("line %d: gene ID %q is not numeric", i+2, fields[0])
		}
		if _, dup := ids[fields[0]]; dup {
			return nil, nil, fmt.Errorf("line %d: duplicate gene ID %q", i+2, fields[0])
		}
		if fields[1] == "" {
			return nil, nil, fmt.Errorf("line %d: empty original ID", i+2)
		}
		ids[fields[0]] = struct{}{}
		originals[fields[1]] = struct{}{}
	}
	return ids, originals, nil
}

// checkExcludedGeneMetadata verifies the unconsidered gene metadata table and
// returns the set of excluded gene identifiers.
func checkExcludedGeneMetadata(data []byte) (map[string]struct{}, error) {
	lines := splitLines(data)
	if len(lines) == 0 {
		return nil, errors.New("file is empty")
	}
	if lines[0] != "gene*String\tmappedId\treason" {
		return nil, fmt.Errorf("unexpected header %q", lines[0])
	}
	genes := make(map[string]struct{}, len(lines)-1)
	for i, line := range lines[1:] {
		fields := strings.Split(line, "\t")
		if len(fields) != 3 {
			return nil, fmt.Errorf("line %d has %d fields, expected 3", i+2, len(fields))
		}
		if fields[0] == "" {
			return nil, fmt.Errorf("line %d: empty gene identifier", i+2)
		}
		if _, ok := allowedReasons[fields[2]]; !ok {
			return nil, fmt.Errorf("line %d: unknown exclusion reason %q", i+2, fields[2])
		}
		genes[fields[0]] = struct{}{}
	}
	return genes, nil
}

// checkEntries verifies a parsed sparse expression table against the cell
// count and the gene set of its metadata table. Rows must be cell-major and
// zero values must not be materialized.
func checkEntries(entries []export.SparseEntry, cells int, genes map[string]struct{}, geneKind string) error {
	lastCell := -1
	for _, entry := range entries {
		if entry.CellID >= cells {
			return fmt.Errorf("cell ID %d out of range (package has %d cells)", entry.CellID, cells)
		}
		if entry.CellID < lastCell {
			return fmt.Errorf("cell ID %d breaks cell-major order", entry.CellID)
		}
		lastCell = entry.CellID
		if _, ok := genes[entry.Gene]; !ok {
			return fmt.Errorf("%s %q not present in metadata", geneKind, entry.Gene)
		}
		if entry.Value == 0 {
			return fmt.Errorf("cell %d, %s %q: explicit zero entry", entry.CellID, geneKind, entry.Gene)
		}
	}
	return nil
}

func splitLines(data []byte) []string {
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func stringInSlice(value string, values []string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
