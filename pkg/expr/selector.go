package expr

import "fmt"

// RowSelector names a set of matrix rows either by integer position or by
// row label. Callers mix both representations freely in the source data this
// pipeline ingests, so operations accept a selector and resolve it to
// positions exactly once before doing any work.
type RowSelector struct {
	positions []int
	labels    []string
	byLabel   bool
}

// ByPosition selects rows by zero-based position.
func ByPosition(positions ...int) RowSelector {
	return RowSelector{positions: append([]int(nil), positions...)}
}

// ByLabel selects rows by label. A label occurring more than once selects
// its first occurrence.
func ByLabel(labels ...string) RowSelector {
	return RowSelector{labels: append([]string(nil), labels...), byLabel: true}
}

// Len returns the number of selected rows.
func (s RowSelector) Len() int {
	if s.byLabel {
		return len(s.labels)
	}
	return len(s.positions)
}

// Resolve maps the selector onto m, returning row positions in selector
// order. Unknown labels and out-of-range positions yield an IndexError.
func (s RowSelector) Resolve(m *CountMatrix) ([]int, error) {
	if !s.byLabel {
		out := make([]int, len(s.positions))
		for i, p := range s.positions {
			if p < 0 || p >= m.Rows() {
				return nil, IndexError{Kind: "row", Requested: fmt.Sprintf("%d", p)}
			}
			out[i] = p
		}
		return out, nil
	}
	index := make(map[string]int, m.Rows())
	for i, label := range m.rowLabels {
		if _, seen := index[label]; !seen {
			index[label] = i
		}
	}
	out := make([]int, len(s.labels))
	for i, label := range s.labels {
		p, ok := index[label]
		if !ok {
			return nil, IndexError{Kind: "row", Requested: label}
		}
		out[i] = p
	}
	return out, nil
}
