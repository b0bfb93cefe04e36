// Package blob wraps the bundle storage backends behind one constructor
// surface. Call sites depend on the Store interface; the concrete backend is
// chosen here, by explicit constructor or from the environment.
package blob

import (
	"cellpack/internal/blob/core"
)

type (
	// Driver identifies a bundle storage driver.
	Driver = core.Driver
	// PutOptions configures a bundle write.
	PutOptions = core.PutOptions
	// SignedURLOptions configures URL pre-signing.
	SignedURLOptions = core.SignedURLOptions
	// Info describes stored bundle metadata.
	Info = core.Info
	// Store is the interface for bundle storage backends.
	Store = core.Store
)

const (
	// DriverFilesystem is the local filesystem driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory test driver.
	DriverMemory = core.DriverMemory
)

// ErrUnsupported indicates an operation isn't supported by a driver.
var ErrUnsupported = core.ErrUnsupported
