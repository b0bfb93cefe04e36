package core

import (
	"context"
	"time"

	"cellpack/pkg/annotation"
	"cellpack/pkg/expr"
)

// Pipeline orchestrates the packaging stages: cell index assignment, cell
// attribute extraction, and gene identifier reconciliation. Stages run
// synchronously and every derived artifact is produced once and read-only
// afterwards. A stage failure aborts the run; there is no partial result.
type Pipeline struct {
	lookup  annotation.Lookup
	clock   Clock
	now     func() time.Time
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
}

// PipelineOption customizes pipeline construction.
type PipelineOption func(*Pipeline)

// WithLogger installs a logger. The default discards all output.
func WithLogger(l Logger) PipelineOption {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock installs a time source, primarily for deterministic tests.
func WithClock(c Clock) PipelineOption {
	return func(p *Pipeline) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithMetricsRecorder installs a metrics sink for stage outcomes.
func WithMetricsRecorder(m MetricsRecorder) PipelineOption {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithTracer installs a tracer producing one span per stage.
func WithTracer(tr Tracer) PipelineOption {
	return func(p *Pipeline) {
		if tr != nil {
			p.tracer = tr
		}
	}
}

// NewPipeline constructs a pipeline over the given identifier lookup
// collaborator.
func NewPipeline(lookup annotation.Lookup, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		lookup: lookup,
		clock:  ClockFunc(nil),
		logger: noopLogger{},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.now = p.clock.Now
	return p
}

// PipelineRequest carries one matrix through the pipeline. MetadataRows
// designates matrix rows that encode cell attributes rather than expression
// counts; they are extracted into the attribute table and withheld from
// reconciliation. LabelSeparator, when non-empty, additionally tokenizes the
// original cell labels into attribute columns.
type PipelineRequest struct {
	Matrix         *expr.CountMatrix
	MetadataRows   *expr.RowSelector
	LabelSeparator string
}

// PipelineResult is the complete outcome of a run. Partition carries the
// resolved and excluded expression matrices plus the mapping audit log.
type PipelineResult struct {
	Cells      []CellRecord
	Attributes AttributeTable
	Partition  GenePartition
	Stats      PartitionStats
}

// Run executes the pipeline stages in order and returns the assembled result.
func (p *Pipeline) Run(ctx context.Context, req PipelineRequest) (PipelineResult, error) {
	if req.Matrix == nil {
		return PipelineResult{}, expr.FormatError{Source: "pipeline", Reason: "no matrix supplied"}
	}

	var result PipelineResult
	var indexed *expr.CountMatrix
	err := p.observe(ctx, "assign_cell_indices", func(context.Context) error {
		var err error
		indexed, result.Cells, err = AssignCellIndices(req.Matrix)
		return err
	})
	if err != nil {
		return PipelineResult{}, err
	}

	var metadataRows []int
	if req.MetadataRows != nil || req.LabelSeparator != "" {
		err = p.observe(ctx, "extract_cell_attributes", func(context.Context) error {
			var err error
			result.Attributes, metadataRows, err = p.extractAttributes(indexed, result.Cells, req)
			return err
		})
		if err != nil {
			return PipelineResult{}, err
		}
	}

	counts := indexed
	if len(metadataRows) > 0 {
		counts, err = counts.SubsetRows(complementRows(indexed.Rows(), metadataRows))
		if err != nil {
			return PipelineResult{}, err
		}
	}

	err = p.observe(ctx, "reconcile_identifiers", func(spanCtx context.Context) error {
		var err error
		result.Partition, err = ReconcileIdentifiers(spanCtx, counts, p.lookup)
		return err
	})
	if err != nil {
		return PipelineResult{}, err
	}

	result.Stats = result.Partition.Stats()
	p.logger.Info("pipeline finished",
		"cells", len(result.Cells),
		"genes", result.Stats.Total,
		"resolved", result.Stats.Resolved,
		"excluded", result.Stats.Excluded(),
	)
	return result, nil
}

// extractAttributes collects row-derived and label-derived attributes and
// merges them into one table. It returns the resolved metadata row positions
// so Run can withhold those rows from reconciliation.
func (p *Pipeline) extractAttributes(indexed *expr.CountMatrix, cells []CellRecord, req PipelineRequest) (AttributeTable, []int, error) {
	var table AttributeTable
	var rows []int
	if req.MetadataRows != nil {
		positions, err := req.MetadataRows.Resolve(indexed)
		if err != nil {
			return AttributeTable{}, nil, err
		}
		rows = positions
		fromRows, err := ExtractRowAttributes(indexed, expr.ByPosition(positions...))
		if err != nil {
			return AttributeTable{}, nil, err
		}
		table = fromRows
	}
	if req.LabelSeparator != "" {
		fromLabels, err := ExtractLabelAttributes(cells, req.LabelSeparator)
		if err != nil {
			return AttributeTable{}, nil, err
		}
		merged, err := MergeAttributeTables(table, fromLabels)
		if err != nil {
			return AttributeTable{}, nil, err
		}
		table = merged
	}
	return table, rows, nil
}

// complementRows returns all row positions of an n-row matrix that are not in
// exclude, in ascending order.
func complementRows(n int, exclude []int) []int {
	drop := make(map[int]struct{}, len(exclude))
	for _, p := range exclude {
		drop[p] = struct{}{}
	}
	keep := make([]int, 0, n-len(drop))
	for i := 0; i < n; i++ {
		if _, skip := drop[i]; !skip {
			keep = append(keep, i)
		}
	}
	return keep
}

// observe wraps a stage with tracing, metrics, and failure logging.
func (p *Pipeline) observe(ctx context.Context, operation string, fn func(context.Context) error) error {
	start := p.now()
	spanCtx := ctx
	var span TraceSpan
	if p.tracer != nil {
		spanCtx, span = p.tracer.Start(ctx, operation)
	}
	err := fn(spanCtx)
	if span != nil {
		span.End(err)
	}
	if p.metrics != nil {
		p.metrics.Observe(ctx, operation, err == nil, p.now().Sub(start))
	}
	if err != nil {
		p.logger.Error("pipeline stage failed", "operation", operation, "error", err)
	} else {
		p.logger.Debug("pipeline stage finished", "operation", operation)
	}
	return err
}
