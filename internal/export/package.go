package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"cellpack/internal/core"
	"cellpack/pkg/annotation"
	"cellpack/pkg/expr"
)

// PackageRequest describes one package build: the raw count matrix, how to
// derive cell attributes from it, and the descriptive facts recorded in the
// manifest.
type PackageRequest struct {
	Matrix         *expr.CountMatrix
	MetadataRows   *expr.RowSelector
	LabelSeparator string

	Organism    int // NCBI taxonomy ID
	BatchColumn string
	Title       string
	Technology  string
	Contact     string
	Version     int // defaults to 1
}

// PackageResult is a fully materialized package: every file in its
// conventional order plus the facts a caller reports on.
type PackageResult struct {
	Files    []PackageFile
	Manifest *Manifest
	Cells    []core.CellRecord
	Log      []core.GeneMappingRecord
	Stats    core.PartitionStats
}

// File returns the named package file, if present.
func (r PackageResult) File(name string) (PackageFile, bool) {
	for _, f := range r.Files {
		if f.Name == name {
			return f, true
		}
	}
	return PackageFile{}, false
}

// Packager runs the reconciliation pipeline over a count matrix and renders
// the complete package. It is synchronous; the build worker wraps it for
// queued execution.
type Packager struct {
	pipeline *core.Pipeline
}

// NewPackager constructs a packager over the given identifier lookup
// collaborator. Options are forwarded to the pipeline.
func NewPackager(lookup annotation.Lookup, opts ...core.PipelineOption) *Packager {
	return &Packager{pipeline: core.NewPipeline(lookup, opts...)}
}

// Build runs the pipeline and materializes all package files. Any stage or
// serialization failure aborts the build; there is no partial package.
func (p *Packager) Build(ctx context.Context, req PackageRequest) (PackageResult, error) {
	if req.Version < 0 {
		return PackageResult{}, expr.FormatError{
			Source: "package request",
			Reason: fmt.Sprintf("version %d must be at least 1", req.Version),
		}
	}

	run, err := p.pipeline.Run(ctx, core.PipelineRequest{
		Matrix:         req.Matrix,
		MetadataRows:   req.MetadataRows,
		LabelSeparator: req.LabelSeparator,
	})
	if err != nil {
		return PackageResult{}, err
	}

	if req.BatchColumn != "" && !hasColumn(run.Attributes, req.BatchColumn) {
		return PackageResult{}, expr.FormatError{
			Source: "package request",
			Reason: fmt.Sprintf("batch column %q is not an extracted attribute column", req.BatchColumn),
		}
	}

	files := make([]PackageFile, 0, 6)
	render := func(name string, write func(*bytes.Buffer) error) error {
		var buf bytes.Buffer
		if err := write(&buf); err != nil {
			return err
		}
		files = append(files, PackageFile{Name: name, Data: buf.Bytes()})
		return nil
	}

	steps := []struct {
		name  string
		write func(*bytes.Buffer) error
	}{
		{ExpressionFile, func(buf *bytes.Buffer) error { return WriteExpression(buf, run.Partition.Resolved) }},
		{CellMetadataFile, func(buf *bytes.Buffer) error { return WriteCellMetadata(buf, run.Cells, run.Attributes) }},
		{GeneMetadataFile, func(buf *bytes.Buffer) error { return WriteGeneMetadata(buf, run.Partition) }},
		{ExcludedExpressionFile, func(buf *bytes.Buffer) error { return WriteExcludedExpression(buf, run.Partition.Excluded) }},
		{ExcludedGeneMetadataFile, func(buf *bytes.Buffer) error { return WriteExcludedGeneMetadata(buf, run.Partition) }},
	}
	for _, step := range steps {
		if err := render(step.name, step.write); err != nil {
			return PackageResult{}, err
		}
	}

	manifest, err := buildManifest(req, run)
	if err != nil {
		return PackageResult{}, err
	}
	if err := render(ManifestFile, func(buf *bytes.Buffer) error { return WriteManifest(buf, manifest) }); err != nil {
		return PackageResult{}, err
	}

	return PackageResult{
		Files:    files,
		Manifest: manifest,
		Cells:    run.Cells,
		Log:      run.Partition.Log,
		Stats:    run.Stats,
	}, nil
}

func buildManifest(req PackageRequest, run core.PipelineResult) (*Manifest, error) {
	manifest := NewManifest()
	manifest.Data.CellMetadata.Organism = req.Organism
	manifest.Data.CellMetadata.BatchColumn = req.BatchColumn
	manifest.Metadata.Title = req.Title
	manifest.Metadata.Technology = req.Technology
	manifest.Metadata.Contact = req.Contact
	if req.Version > 0 {
		manifest.Metadata.Version = req.Version
	}

	in := DescriptionInput{
		Title:      req.Title,
		Organism:   req.Organism,
		Technology: req.Technology,
		Cells:      len(run.Cells),
		Stats:      run.Stats,
	}
	description, err := RenderDescription(in)
	if err != nil {
		return nil, err
	}
	manifest.Metadata.Description = description
	manifest.Metadata.ShortDescription = RenderShortDescription(in)
	return manifest, nil
}

func hasColumn(attrs core.AttributeTable, name string) bool {
	for _, column := range attrs.Columns {
		if column == name {
			return true
		}
	}
	return false
}

// WriteDir writes the package files into dir, creating it if needed. File
// names are the conventional package names and never contain separators.
func WriteDir(dir string, files []PackageFile) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return expr.IOError{Path: dir, Err: err}
	}
	for _, file := range files {
		if file.Name != filepath.Base(file.Name) {
			return expr.FormatError{
				Source: "package files",
				Reason: fmt.Sprintf("file name %q contains a path separator", file.Name),
			}
		}
		path := filepath.Join(dir, file.Name)
		if err := os.WriteFile(path, file.Data, 0o644); err != nil {
			return expr.IOError{Path: path, Err: err}
		}
	}
	return nil
}
