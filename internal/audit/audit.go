// Package audit records who changed what. Import runs and destructive edits are logged.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Record is one encoded audit row.
type Record struct {
	UserID     *uuid.UUID
	Action     string
	EntityType string
	EntityID   string
	RequestID  string
	Metadata   []byte
}

type Sink interface {
	InsertAuditLog(ctx context.Context, record Record) error
}

type Logger struct {
	sink Sink
}

func NewLogger(sink Sink) *Logger {
	return &Logger{sink: sink}
}

type Entry struct {
	UserID     *uuid.UUID
	Action     string
	EntityType string
	EntityID   string
	RequestID  string
	Metadata   map[string]any
}

func (l *Logger) Log(ctx context.Context, entry Entry) error {
	if l == nil || l.sink == nil {
		return nil
	}
	metadata := []byte("{}")
	if len(entry.Metadata) > 0 {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metadata = encoded
	}

	record := Record{
		UserID:     entry.UserID,
		Action:     entry.Action,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		RequestID:  entry.RequestID,
		Metadata:   metadata,
	}
	if err := l.sink.InsertAuditLog(ctx, record); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}
