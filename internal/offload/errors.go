package offload

import (
	"errors"
	"fmt"
)

// ValidationError rejects a file before any upload: unknown extension,
// oversized file or an exhausted request budget.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// RemoteFetchError is a network or HTTP failure pulling a hosted file.
type RemoteFetchError struct {
	URL string
	Err error
}

func (e *RemoteFetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s: %v", e.URL, e.Err)
}

func (e *RemoteFetchError) Unwrap() error { return e.Err }

// StorageBackendError means the object store could not place a file, or
// the server could not read back a buffered upload.
type StorageBackendError struct {
	Path string
	Err  error
}

func (e *StorageBackendError) Error() string {
	return fmt.Sprintf("storage backend failed for %s: %v", e.Path, e.Err)
}

func (e *StorageBackendError) Unwrap() error { return e.Err }

// spoolError reports a buffered upload the server could not read back. The
// multipart spool is server storage, so this is a backend fault.
func spoolError(name string, err error) *StorageBackendError {
	return &StorageBackendError{Path: name, Err: fmt.Errorf("cannot read buffered upload: %w", err)}
}

// OffloadError is the per-file failure of one offload attempt.
type OffloadError struct {
	Filename  string
	FieldName string
	Strategy  string
	Cause     error
}

func (e *OffloadError) Error() string {
	return fmt.Sprintf("offload %s: %v", e.Filename, e.Cause)
}

func (e *OffloadError) Unwrap() error { return e.Cause }

// Kind names the class of the underlying cause, for responses and metrics.
func (e *OffloadError) Kind() string {
	var (
		validation *ValidationError
		fetch      *RemoteFetchError
		backend    *StorageBackendError
	)
	switch {
	case errors.As(e.Cause, &validation):
		return "validation"
	case errors.As(e.Cause, &fetch):
		return "remote_fetch"
	case errors.As(e.Cause, &backend):
		return "storage_backend"
	}
	return "unknown"
}
