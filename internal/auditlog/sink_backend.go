package auditlog

import (
	"context"
	"errors"

	"enrollgate/internal/backend"
)

// AuditAppender is the backend call the BackendSink needs.
type AuditAppender interface {
	AppendAuditLog(ctx context.Context, entry backend.AuditRecord) error
}

// BackendSink mirrors entries into the backend's audit table.
type BackendSink struct {
	backend AuditAppender
}

func NewBackendSink(b AuditAppender) (*BackendSink, error) {
	if b == nil {
		return nil, errors.New("backend is required")
	}
	return &BackendSink{backend: b}, nil
}

func (s *BackendSink) Name() string { return "backend" }

func (s *BackendSink) Publish(ctx context.Context, entry Entry) error {
	return s.backend.AppendAuditLog(ctx, entry.Record())
}
