package ingest

import (
	"cellpack/pkg/expr"
	"os"
)

// InDir runs fn with the process working directory switched to dir and
// restores the previous directory on every exit path, including an error or
// panic inside fn. It exists for callers that locate inputs by relative
// path; new code should pass WithBaseDir instead and leave the working
// directory alone.
func InDir(dir string, fn func() error) (err error) {
	prev, wdErr := os.Getwd()
	if wdErr != nil {
		return expr.IOError{Path: ".", Err: wdErr}
	}
	if chErr := os.Chdir(dir); chErr != nil {
		return expr.IOError{Path: dir, Err: chErr}
	}
	defer func() {
		if restoreErr := os.Chdir(prev); restoreErr != nil && err == nil {
			err = expr.IOError{Path: prev, Err: restoreErr}
		}
	}()
	return fn()
}
