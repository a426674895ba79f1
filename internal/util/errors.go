package util

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common failure modes
var (
	// ErrUnsupported indicates a file format or operation is not supported
	ErrUnsupported = errors.New("unsupported")

	// ErrNotFound indicates a required resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrPermission indicates a permission error
	ErrPermission = errors.New("permission denied")

	// ErrAlreadyExists indicates a catalog root that is already registered
	ErrAlreadyExists = errors.New("already exists")
)

// Error kinds reported by synchronization runs. Every skipped, disabled or
// failed item carries exactly one of these.
var (
	// ErrPath: unreadable root or directory; fatal to that subtree only
	ErrPath = errors.New("path error")

	// ErrExtraction: corrupt or unsupported tags; the file is skipped
	ErrExtraction = errors.New("extraction error")

	// ErrEncoding: filename does not encode in the configured charset
	ErrEncoding = errors.New("encoding error")

	// ErrIntegrity: backing file missing or zero bytes; the song is disabled
	ErrIntegrity = errors.New("integrity error")

	// ErrRemoteProtocol: handshake, listing or page fault
	ErrRemoteProtocol = errors.New("remote protocol error")

	// ErrStorage: insert/update/delete failure
	ErrStorage = errors.New("storage error")
)

// SyncError is a structured report entry for a single item of a run.
type SyncError struct {
	Kind error
	Path string
	Err  error
}

// NewSyncError builds a report entry of the given kind
func NewSyncError(kind error, path string, err error) *SyncError {
	return &SyncError{Kind: kind, Path: path, Err: err}
}

func (e *SyncError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Path != "" {
		b.WriteString(": ")
		b.WriteString(e.Path)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As
func (e *SyncError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the error kind of err, or nil when it carries none
func KindOf(err error) error {
	for _, kind := range []error{ErrPath, ErrExtraction, ErrEncoding, ErrIntegrity, ErrRemoteProtocol, ErrStorage} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// StorageError wraps a database failure as an ErrStorage report entry
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return NewSyncError(ErrStorage, "", fmt.Errorf("%s: %w", op, err))
}

// IsFatalStorageError reports whether err means the database connection
// itself is unusable, which aborts the whole run.
func IsFatalStorageError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	return strings.Contains(err.Error(), "sql: database is closed")
}
