package services

import "errors"

// Record-scoped problems (validation failures, duplicate flags, per-record
// import failures) are persisted on the record itself, never returned as
// errors; only structurally invalid requests surface through these.
var (
	ErrBatchNotFound       = errors.New("batch not found")
	ErrRecordNotFound      = errors.New("staged record not found")
	ErrDuplicateNotFound   = errors.New("staging duplicate not found")
	ErrConcurrencyConflict = errors.New("batch was modified concurrently, retry with fresh state")
	ErrInvalidStatusFilter = errors.New("invalid status filter")
	ErrInvalidResolution   = errors.New("invalid duplicate resolution")
	ErrRecordNotReviewable = errors.New("staged record is not in a reviewable state")
	ErrBatchNotReviewable  = errors.New("batch is not in a reviewable state")
	ErrBatchNotCancellable = errors.New("batch can no longer be cancelled")
	ErrBatchNotImportable  = errors.New("batch is not ready to import")
	ErrEmptyDocument       = errors.New("document is empty")
)
