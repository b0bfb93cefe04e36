package export

import (
	"fmt"
	"io"

	yaml "gopkg.in/yaml.v2"
)

// SchemaVersion is the package schema version understood by the downstream
// platform. Serialized as the YAML number 2.1.
const SchemaVersion = 2.1

// Conventional file names inside a package directory or bundle.
const (
	ExpressionFile           = "expression_data.tsv"
	CellMetadataFile         = "cell_metadata.tsv"
	GeneMetadataFile         = "gene_metadata.tsv"
	ExcludedExpressionFile   = "expression_data_unconsidered.tsv"
	ExcludedGeneMetadataFile = "gene_metadata_unconsidered.tsv"
	ManifestFile             = "manifest.yml"
)

// Manifest is the descriptive structure bundled with every package. The key
// set is fixed by the platform schema; values are populated by the caller
// after construction. No component validates the manifest here.
type Manifest struct {
	SchemaVersion float64          `yaml:"schema_version"`
	Data          ManifestData     `yaml:"data"`
	Metadata      ManifestMetadata `yaml:"metadata"`
}

// ManifestData references the data files of the package.
type ManifestData struct {
	CellMetadata   CellMetadataRef `yaml:"cell_metadata"`
	GeneMetadata   FileRef         `yaml:"gene_metadata"`
	ExpressionData FileRef         `yaml:"expression_data"`
	Supplemental   Supplemental    `yaml:"supplemental"`
}

// CellMetadataRef points at the cell metadata file and carries the two
// dataset-level facts attached to it: the organism taxonomy ID and the
// optional name of the attribute column that identifies batches.
type CellMetadataRef struct {
	File        string `yaml:"file"`
	Organism    int    `yaml:"organism"`
	BatchColumn string `yaml:"batch_column,omitempty"`
}

// FileRef names a single package file.
type FileRef struct {
	File string `yaml:"file"`
}

// Supplemental groups the non-primary artifacts of the package.
type Supplemental struct {
	UnconsideredGenes UnconsideredGenes `yaml:"unconsidered_genes"`
}

// UnconsideredGenes references the artifacts for genes excluded during
// identifier reconciliation.
type UnconsideredGenes struct {
	ExpressionData FileRef `yaml:"expression_data"`
	GeneMetadata   FileRef `yaml:"gene_metadata"`
}

// ManifestMetadata carries the free-text description of the package.
type ManifestMetadata struct {
	Title            string     `yaml:"title"`
	Technology       string     `yaml:"technology"`
	Version          int        `yaml:"version"`
	Contact          string     `yaml:"contact"`
	Description      string     `yaml:"description"`
	ShortDescription string     `yaml:"short_description"`
	Processing       Processing `yaml:"processing"`
	Image            string     `yaml:"image"`
}

// Processing describes how the package content was produced.
type Processing struct {
	Notes string `yaml:"notes"`
	Tools string `yaml:"tools"`
}

// NewManifest returns a manifest template with the conventional file names
// and placeholder descriptive values. Shape is fixed; the caller overwrites
// values before serialization.
func NewManifest() *Manifest {
	return &Manifest{
		SchemaVersion: SchemaVersion,
		Data: ManifestData{
			CellMetadata:   CellMetadataRef{File: CellMetadataFile},
			GeneMetadata:   FileRef{File: GeneMetadataFile},
			ExpressionData: FileRef{File: ExpressionFile},
			Supplemental: Supplemental{
				UnconsideredGenes: UnconsideredGenes{
					ExpressionData: FileRef{File: ExcludedExpressionFile},
					GeneMetadata:   FileRef{File: ExcludedGeneMetadataFile},
				},
			},
		},
		Metadata: ManifestMetadata{Version: 1},
	}
}

// EncodeManifest renders the manifest as YAML.
func EncodeManifest(m *Manifest) ([]byte, error) {
	out, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return out, nil
}

// WriteManifest writes the YAML manifest to w.
func WriteManifest(w io.Writer, m *Manifest) error {
	out, err := EncodeManifest(m)
	if err != nil {
		return err
	}
	if _, err := w.Write(out); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// DecodeManifest parses a YAML manifest, the inverse of EncodeManifest.
func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}
