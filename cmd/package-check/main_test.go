package main

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"cellpack/internal/export"
)

const validManifest = `schema_version: 2.1
data:
  cell_metadata:
    file: cell_metadata.tsv
    organism: 9606
    batch_column: token_2
  gene_metadata:
    file: gene_metadata.tsv
  expression_data:
    file: expression_data.tsv
  supplemental:
    unconsidered_genes:
      expression_data:
        file: expression_data_unconsidered.tsv
      gene_metadata:
        file: gene_metadata_unconsidered.tsv
metadata:
  title: PBMC study
  technology: 10x
  version: 3
  contact: lab@example.org
`

// validPackageFiles returns a consistent minimal package: two cells, two
// resolved genes, two excluded genes.
func validPackageFiles() map[string]string {
	return map[string]string{
		"manifest.yml": validManifest,
		"cell_metadata.tsv": "cellId*Integer\tcellName\ttoken_1\ttoken_2\n" +
			"0\ts1_a\ts1\ta\n" +
			"1\ts2_b\ts2\tb\n",
		"gene_metadata.tsv": "geneId*Integer\toriginalId\n" +
			"7\tGeneB\n" +
			"9\tGeneD\n",
		"expression_data.tsv": "cellId*Integer\tgeneId*Integer\texpressionValue*Number\n" +
			"0\t7\t5\n" +
			"1\t9\t2\n",
		"expression_data_unconsidered.tsv": "cellId*Integer\tgene*String\texpressionValue*Number\n" +
			"0\tGeneA\t1\n",
		"gene_metadata_unconsidered.tsv": "gene*String\tmappedId\treason\n" +
			"GeneA\t\tno canonical ID defined\n" +
			"GeneE\t3;4\tmapped to multiple canonical IDs\n",
	}
}

func writePackage(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "pkg")
	if err := os.Mkdir(dir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func TestCLIValidPackageDir(t *testing.T) {
	dir := writePackage(t, validPackageFiles())
	var stdout, stderr bytes.Buffer
	if code := cli([]string{"-package", dir}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "Package validation passed.") {
		t.Fatalf("stdout = %s", stdout.String())
	}
}

func TestCLIValidBundle(t *testing.T) {
	files := validPackageFiles()
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	packaged := make([]export.PackageFile, 0, len(files))
	for _, name := range names {
		packaged = append(packaged, export.PackageFile{Name: name, Data: []byte(files[name])})
	}

	var buf bytes.Buffer
	if err := export.Bundle(&buf, packaged, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("bundle: %v", err)
	}
	path := filepath.Join(t.TempDir(), "bundle.zip")
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write bundle: %v", err)
	}

	var stdout, stderr bytes.Buffer
	if code := cli([]string{"-package", path}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, stderr.String())
	}
}

func TestCLIBadFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := cli([]string{"-nope"}, &stdout, &stderr); code != 2 {
		t.Fatalf("exit code %d", code)
	}
}

func TestCLIMissingPackage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := cli([]string{"-package", filepath.Join(t.TempDir(), "absent")}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("exit code %d", code)
	}
	if !strings.Contains(stderr.String(), "Package validation failed") {
		t.Fatalf("stderr = %s", stderr.String())
	}
}

func TestRunDetectsViolations(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(files map[string]string)
		want   string
	}{
		{
			name: "unsupported schema version",
			mutate: func(files map[string]string) {
				files["manifest.yml"] = strings.Replace(files["manifest.yml"], "schema_version: 2.1", "schema_version: 9.9", 1)
			},
			want: "schema_version",
		},
		{
			name: "missing organism",
			mutate: func(files map[string]string) {
				files["manifest.yml"] = strings.Replace(files["manifest.yml"], "organism: 9606", "organism: 0", 1)
			},
			want: "organism taxonomy ID is missing",
		},
		{
			name: "empty title",
			mutate: func(files map[string]string) {
				files["manifest.yml"] = strings.Replace(files["manifest.yml"], "title: PBMC study", `title: ""`, 1)
			},
			want: "title is empty",
		},
		{
			name: "empty contact",
			mutate: func(files map[string]string) {
				files["manifest.yml"] = strings.Replace(files["manifest.yml"], "contact: lab@example.org", `contact: ""`, 1)
			},
			want: "contact is empty",
		},
		{
			name: "version below one",
			mutate: func(files map[string]string) {
				files["manifest.yml"] = strings.Replace(files["manifest.yml"], "version: 3", "version: 0", 1)
			},
			want: "version 0 must be at least 1",
		},
		{
			name: "referenced file missing",
			mutate: func(files map[string]string) {
				delete(files, "gene_metadata.tsv")
			},
			want: "referenced file gene_metadata.tsv is missing",
		},
		{
			name: "unexpected file",
			mutate: func(files map[string]string) {
				files["extra.txt"] = "leftover\n"
			},
			want: `unexpected file "extra.txt"`,
		},
		{
			name: "cell ID out of sequence",
			mutate: func(files map[string]string) {
				files["cell_metadata.tsv"] = strings.Replace(files["cell_metadata.tsv"], "1\ts2_b", "5\ts2_b", 1)
			},
			want: "out of sequence",
		},
		{
			name: "unknown batch column",
			mutate: func(files map[string]string) {
				files["manifest.yml"] = strings.Replace(files["manifest.yml"], "batch_column: token_2", "batch_column: sample", 1)
			},
			want: `batch column "sample"`,
		},
		{
			name: "duplicate gene ID",
			mutate: func(files map[string]string) {
				files["gene_metadata.tsv"] += "7\tGeneF\n"
			},
			want: `duplicate gene ID "7"`,
		},
		{
			name: "non-numeric gene ID",
			mutate: func(files map[string]string) {
				files["gene_metadata.tsv"] += "abc\tGeneF\n"
			},
			want: "is not numeric",
		},
		{
			name: "unknown exclusion reason",
			mutate: func(files map[string]string) {
				files["gene_metadata_unconsidered.tsv"] += "GeneG\t\tbecause\n"
			},
			want: `unknown exclusion reason "because"`,
		},
		{
			name: "gene resolved and excluded",
			mutate: func(files map[string]string) {
				files["gene_metadata_unconsidered.tsv"] += "GeneB\t7\tmultiple original IDs mapped to same canonical ID\n"
			},
			want: "appears both resolved and excluded",
		},
		{
			name: "expression gene without metadata",
			mutate: func(files map[string]string) {
				files["expression_data.tsv"] += "1\t99\t4\n"
			},
			want: `gene ID "99" not present in metadata`,
		},
		{
			name: "expression cell out of range",
			mutate: func(files map[string]string) {
				files["expression_data.tsv"] += "9\t7\t4\n"
			},
			want: "cell ID 9 out of range",
		},
		{
			name: "expression order broken",
			mutate: func(files map[string]string) {
				files["expression_data.tsv"] = "cellId*Integer\tgeneId*Integer\texpressionValue*Number\n" +
					"1\t9\t2\n" +
					"0\t7\t5\n"
			},
			want: "breaks cell-major order",
		},
		{
			name: "explicit zero entry",
			mutate: func(files map[string]string) {
				files["expression_data.tsv"] += "1\t9\t0\n"
			},
			want: "explicit zero entry",
		},
		{
			name: "excluded expression unknown gene",
			mutate: func(files map[string]string) {
				files["expression_data_unconsidered.tsv"] += "1\tGeneZ\t2\n"
			},
			want: `gene "GeneZ" not present in metadata`,
		},
		{
			name: "corrupt manifest",
			mutate: func(files map[string]string) {
				files["manifest.yml"] = "schema_version: [\n"
			},
			want: "decode manifest",
		},
		{
			name: "corrupt expression header",
			mutate: func(files map[string]string) {
				files["expression_data.tsv"] = "wrong\theader\tline\n0\t7\t5\n"
			},
			want: "does not match",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			files := validPackageFiles()
			tc.mutate(files)
			dir := writePackage(t, files)
			err := run(dir)
			if err == nil {
				t.Fatalf("expected error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error = %v, want substring %q", err, tc.want)
			}
		})
	}
}

func TestRunValid(t *testing.T) {
	dir := writePackage(t, validPackageFiles())
	if err := run(dir); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestLoadPackageRejectsPlainFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := loadPackage(path); err == nil || !strings.Contains(err.Error(), "neither a directory nor a bundle zip") {
		t.Fatalf("error = %v", err)
	}
}

func TestSplitLines(t *testing.T) {
	if got := splitLines(nil); got != nil {
		t.Fatalf("nil input: %v", got)
	}
	if got := splitLines([]byte("a\nb\n")); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("two lines: %v", got)
	}
}

// TestMainInvoke exercises main with a patched exit function.
func TestMainInvoke(t *testing.T) {
	dir := writePackage(t, validPackageFiles())

	var codes []int
	old := exitFunc
	exitFunc = func(code int) { codes = append(codes, code) }
	defer func() { exitFunc = old }()

	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()

	os.Args = []string{"package-check", "-package", dir}
	main()
	os.Args = []string{"package-check", "-package", filepath.Join(dir, "absent")}
	main()

	if len(codes) != 2 || codes[0] != 0 || codes[1] == 0 {
		t.Fatalf("exit codes = %v", codes)
	}
}
