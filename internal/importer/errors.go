package importer

import (
	"errors"
	"fmt"
)

var (
	ErrTaskNotFound  = errors.New("import task not found")
	ErrTaskRunning   = errors.New("import task is still running")
	ErrUnknownKind   = errors.New("unknown import kind")
	ErrUnknownFormat = errors.New("unsupported file format")
	ErrEmptyFile     = errors.New("file has no data rows")
	ErrRowLimit      = errors.New("row limit exceeded")
)

// ValidationFailure is a row that could not be turned into a record.
type ValidationFailure struct {
	Row    int
	Field  Field
	Reason string
}

func (e *ValidationFailure) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
	}
	return fmt.Sprintf("row %d: %s: %s", e.Row, e.Field, e.Reason)
}

// InsertFailure is a row rejected by the store inside an otherwise healthy batch.
type InsertFailure struct {
	Row int
	Err error
}

func (e *InsertFailure) Error() string {
	return fmt.Sprintf("row %d: insert failed: %v", e.Row, e.Err)
}

func (e *InsertFailure) Unwrap() error { return e.Err }

// TransactionFailure is a batch whose transaction could not be opened or committed.
// Every row of the batch is counted as failed.
type TransactionFailure struct {
	Batch    int
	FirstRow int
	LastRow  int
	Err      error
}

func (e *TransactionFailure) Error() string {
	return fmt.Sprintf("rows %d-%d: batch %d rolled back: %v", e.FirstRow, e.LastRow, e.Batch, e.Err)
}

func (e *TransactionFailure) Unwrap() error { return e.Err }
