package expr

import "fmt"

// FormatError reports a malformed or structurally inconsistent input table,
// such as a data row whose width disagrees with the header or a cell label
// that cannot be tokenized.
type FormatError struct {
	Source string
	Reason string
}

func (e FormatError) Error() string {
	if e.Source == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Source, e.Reason)
}

// IOError reports an unreachable or unreadable tabular source.
type IOError struct {
	Path string
	Err  error
}

func (e IOError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Path, e.Err)
}

func (e IOError) Unwrap() error { return e.Err }

// IndexError reports a requested row or column that does not exist.
type IndexError struct {
	Kind      string // "row" or "column"
	Requested string
}

func (e IndexError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Requested)
}

// LookupError reports a failure of the annotation lookup collaborator. The
// wrapped error carries the backend cause; Label is the gene identifier whose
// query failed.
type LookupError struct {
	Label string
	Err   error
}

func (e LookupError) Error() string {
	return fmt.Sprintf("lookup %s: %v", e.Label, e.Err)
}

func (e LookupError) Unwrap() error { return e.Err }
