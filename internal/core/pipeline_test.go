package core

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"cellpack/pkg/annotation"
	"cellpack/pkg/expr"
)

type metricsCall struct {
	op       string
	success  bool
	duration time.Duration
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, duration time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success, duration: duration})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type captureLogger struct {
	messages []string
}

func (c *captureLogger) Debug(msg string, _ ...any) { c.messages = append(c.messages, "debug:"+msg) }
func (c *captureLogger) Info(msg string, _ ...any)  { c.messages = append(c.messages, "info:"+msg) }
func (c *captureLogger) Warn(msg string, _ ...any)  { c.messages = append(c.messages, "warn:"+msg) }
func (c *captureLogger) Error(msg string, _ ...any) { c.messages = append(c.messages, "error:"+msg) }

func pipelineFixture(t *testing.T) *expr.CountMatrix {
	t.Helper()
	m, err := expr.NewDense(
		[]string{"batch", "GeneA", "GeneB"},
		[]string{"s1_c1", "s2_c2"},
		[][]float64{
			{1, 2},
			{5, 0},
			{0, 3},
		},
	)
	if err != nil {
		t.Fatalf("NewDense: %v", err)
	}
	return m
}

func TestPipelineRunFullFlow(t *testing.T) {
	lookup := annotation.NewStaticTable(map[string][]string{
		"GeneA": {"100"},
		"GeneB": {"200"},
	})
	metrics := &captureMetricsRecorder{}
	logger := &captureLogger{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := NewPipeline(lookup,
		WithLogger(logger),
		WithMetricsRecorder(metrics),
		WithClock(ClockFunc(func() time.Time { return now })),
	)

	selector := expr.ByLabel("batch")
	result, err := p.Run(context.Background(), PipelineRequest{
		Matrix:         pipelineFixture(t),
		MetadataRows:   &selector,
		LabelSeparator: "_",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(result.Cells) != 2 {
		t.Fatalf("cells = %d, want 2", len(result.Cells))
	}
	for i, record := range result.Cells {
		if record.CellID != i {
			t.Fatalf("cell %d has id %d", i, record.CellID)
		}
	}
	if result.Cells[0].CellName != "s1_c1" || result.Cells[1].CellName != "s2_c2" {
		t.Fatalf("cell names = %+v", result.Cells)
	}

	// batch row plus two label tokens.
	wantColumns := []string{"batch", "token_1", "token_2"}
	if !reflect.DeepEqual(result.Attributes.Columns, wantColumns) {
		t.Fatalf("attribute columns = %v, want %v", result.Attributes.Columns, wantColumns)
	}
	if !reflect.DeepEqual(result.Attributes.Values[0], []string{"1", "s1", "c1"}) {
		t.Fatalf("attributes of cell 0 = %v", result.Attributes.Values[0])
	}

	// The batch row is withheld from reconciliation, so only two gene rows
	// reach the partition and both resolve.
	if result.Stats.Total != 2 || result.Stats.Resolved != 2 {
		t.Fatalf("stats = %+v", result.Stats)
	}
	if got := result.Partition.Resolved.RowLabels(); !reflect.DeepEqual(got, []string{"100", "200"}) {
		t.Fatalf("resolved labels = %v", got)
	}

	for _, op := range []string{"assign_cell_indices", "extract_cell_attributes", "reconcile_identifiers"} {
		if !metrics.has(op, true) {
			t.Fatalf("metrics missing successful %s: %+v", op, metrics.calls)
		}
	}
	if len(logger.messages) == 0 || logger.messages[len(logger.messages)-1] != "info:pipeline finished" {
		t.Fatalf("unexpected log tail: %v", logger.messages)
	}
}

func TestPipelineRunWithoutAttributeExtraction(t *testing.T) {
	lookup := annotation.NewStaticTable(map[string][]string{"GeneA": {"1"}})
	p := NewPipeline(lookup)

	m, err := expr.NewDense([]string{"GeneA"}, []string{"c1"}, [][]float64{{2}})
	if err != nil {
		t.Fatalf("NewDense: %v", err)
	}
	result, err := p.Run(context.Background(), PipelineRequest{Matrix: m})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.Attributes.Empty() {
		t.Fatalf("expected no attributes, got %+v", result.Attributes)
	}
	if result.Stats.Resolved != 1 {
		t.Fatalf("stats = %+v", result.Stats)
	}
}

func TestPipelineRunNilMatrix(t *testing.T) {
	p := NewPipeline(annotation.NewStaticTable(nil))
	_, err := p.Run(context.Background(), PipelineRequest{})
	var formatErr expr.FormatError
	if !errors.As(err, &formatErr) {
		t.Fatalf("expected FormatError, got %v", err)
	}
}

func TestPipelineRunLookupFailureRecordsMetrics(t *testing.T) {
	failing := annotation.LookupFunc(func(context.Context, string) ([]string, error) {
		return nil, fmt.Errorf("unreachable")
	})
	metrics := &captureMetricsRecorder{}
	logger := &captureLogger{}
	p := NewPipeline(failing, WithMetricsRecorder(metrics), WithLogger(logger))

	m, err := expr.NewDense([]string{"GeneA"}, []string{"c1"}, [][]float64{{2}})
	if err != nil {
		t.Fatalf("NewDense: %v", err)
	}
	_, err = p.Run(context.Background(), PipelineRequest{Matrix: m})
	var lookupErr expr.LookupError
	if !errors.As(err, &lookupErr) {
		t.Fatalf("expected LookupError, got %v", err)
	}
	if !metrics.has("reconcile_identifiers", false) {
		t.Fatalf("metrics missing failed reconcile: %+v", metrics.calls)
	}
	found := false
	for _, msg := range logger.messages {
		if msg == "error:pipeline stage failed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected stage failure log, got %v", logger.messages)
	}
}

func TestPipelineRunBadMetadataSelector(t *testing.T) {
	p := NewPipeline(annotation.NewStaticTable(nil))
	selector := expr.ByLabel("no-such-row")
	_, err := p.Run(context.Background(), PipelineRequest{
		Matrix:       pipelineFixture(t),
		MetadataRows: &selector,
	})
	var idxErr expr.IndexError
	if !errors.As(err, &idxErr) {
		t.Fatalf("expected IndexError, got %v", err)
	}
}

func TestPipelineTracerSpansPerStage(t *testing.T) {
	lookup := annotation.NewStaticTable(map[string][]string{"GeneA": {"1"}, "GeneB": {"2"}})
	tracer := NewJSONTracer(nil)
	p := NewPipeline(lookup, WithTracer(tracer))

	selector := expr.ByPosition(0)
	_, err := p.Run(context.Background(), PipelineRequest{
		Matrix:       pipelineFixture(t),
		MetadataRows: &selector,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	entries := tracer.Entries()
	if len(entries) != 3 {
		t.Fatalf("span count = %d, want 3", len(entries))
	}
	for _, entry := range entries {
		if entry.Status != "success" {
			t.Fatalf("span %s status = %s", entry.Operation, entry.Status)
		}
	}
}
