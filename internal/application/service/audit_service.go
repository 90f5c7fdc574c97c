package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/garyjia/expense-workflow/internal/application/port"
	"github.com/garyjia/expense-workflow/internal/domain/entity"
)

// AuditWriter appends audit entries. Record uses the transaction carried by
// ctx, so an entry commits or rolls back with the change it describes.
type AuditWriter struct {
	repo port.AuditRepository
	now  func() time.Time
}

// NewAuditWriter creates a new AuditWriter
func NewAuditWriter(repo port.AuditRepository) *AuditWriter {
	return &AuditWriter{repo: repo, now: time.Now}
}

// Record appends one entry. Values are stored as JSON; nil stays NULL.
func (w *AuditWriter) Record(ctx context.Context, entityType string, entityID int64, action string, actorID *int64, oldValue, newValue interface{}) error {
	oldJSON, err := marshalAuditValue(oldValue)
	if err != nil {
		return fmt.Errorf("marshal old value: %w", err)
	}
	newJSON, err := marshalAuditValue(newValue)
	if err != nil {
		return fmt.Errorf("marshal new value: %w", err)
	}

	entry := &entity.AuditLogEntry{
		EntityType:  entityType,
		EntityID:    entityID,
		Action:      action,
		ActorID:     actorID,
		OldValue:    oldJSON,
		NewValue:    newJSON,
		PerformedAt: w.now(),
	}
	if err := w.repo.Create(ctx, entry); err != nil {
		return fmt.Errorf("create audit entry: %w", err)
	}
	return nil
}

// Trail returns the entries for one entity, oldest first
func (w *AuditWriter) Trail(ctx context.Context, entityType string, entityID int64) ([]*entity.AuditLogEntry, error) {
	entries, err := w.repo.ListByEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}

func marshalAuditValue(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}
