package export

import (
	"fmt"
	"strings"
	"text/template"

	"cellpack/internal/core"
)

// DescriptionInput carries the facts rendered into the package description.
type DescriptionInput struct {
	Title      string
	Organism   int
	Technology string
	Cells      int
	Stats      core.PartitionStats
}

const descriptionTemplate = `# {{.Title}}

Single-cell expression package with {{.Cells}} cells and {{.Stats.Total}} genes
for organism NCBI:txid{{.Organism}}{{if .Technology}} ({{.Technology}}){{end}}.

## Gene identifier reconciliation

{{.Stats.Resolved}} of {{.Stats.Total}} genes were mapped to a unique canonical
identifier and are included in the expression table. The remaining
{{excluded .Stats}} genes are shipped unchanged in the supplemental
unconsidered-genes files together with the reason for their exclusion:

| Reason | Genes |
| ------ | ----- |
| no canonical ID defined | {{.Stats.Unassigned}} |
| mapped to multiple canonical IDs | {{.Stats.MultiMapped}} |
| multiple original IDs mapped to same canonical ID | {{.Stats.Collisions}} |
`

var descriptionTmpl = template.Must(template.New("description").
	Funcs(template.FuncMap{
		"excluded": func(s core.PartitionStats) int { return s.Excluded() },
	}).
	Parse(descriptionTemplate))

// RenderDescription produces the Markdown description block stored in the
// manifest's metadata.description field.
func RenderDescription(in DescriptionInput) (string, error) {
	if in.Title == "" {
		in.Title = "Single-cell expression package"
	}
	var buf strings.Builder
	if err := descriptionTmpl.Execute(&buf, in); err != nil {
		return "", fmt.Errorf("render description: %w", err)
	}
	return buf.String(), nil
}

// RenderShortDescription produces the one-line summary stored in the
// manifest's metadata.short_description field.
func RenderShortDescription(in DescriptionInput) string {
	return fmt.Sprintf("%d cells, %d/%d genes mapped to canonical IDs",
		in.Cells, in.Stats.Resolved, in.Stats.Total)
}
