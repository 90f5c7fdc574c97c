package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/expense-workflow/internal/application/port"
	"github.com/garyjia/expense-workflow/internal/domain/entity"
	"github.com/garyjia/expense-workflow/internal/infrastructure/persistence/sqlite"
)

// AuditRepository implements port.AuditRepository. It only inserts and reads.
type AuditRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit log repository
func NewAuditRepository(db *sql.DB, logger *zap.Logger) port.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends an audit entry on the caller's transaction
func (r *AuditRepository) Create(ctx context.Context, entry *entity.AuditLogEntry) error {
	query := `
		INSERT INTO audit_logs (
			entity_type, entity_id, action, actor_id, old_value, new_value, performed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	if entry.PerformedAt.IsZero() {
		entry.PerformedAt = time.Now()
	}

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		entry.EntityType,
		entry.EntityID,
		entry.Action,
		nullInt64(entry.ActorID),
		nullJSON(entry.OldValue),
		nullJSON(entry.NewValue),
		entry.PerformedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create audit entry",
			zap.String("entity_type", entry.EntityType),
			zap.Int64("entity_id", entry.EntityID),
			zap.String("action", entry.Action),
			zap.Error(err))
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	entry.ID = id
	return nil
}

// ListByEntity returns the trail of one entity, oldest first
func (r *AuditRepository) ListByEntity(ctx context.Context, entityType string, entityID int64) ([]*entity.AuditLogEntry, error) {
	query := `
		SELECT id, entity_type, entity_id, action, actor_id, old_value, new_value, performed_at
		FROM audit_logs
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY performed_at ASC, id ASC
	`

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, entityType, entityID)
	if err != nil {
		r.logger.Error("Failed to list audit entries",
			zap.String("entity_type", entityType),
			zap.Int64("entity_id", entityID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*entity.AuditLogEntry
	for rows.Next() {
		var e entity.AuditLogEntry
		var actorID sql.NullInt64
		var oldValue, newValue sql.NullString
		if err := rows.Scan(
			&e.ID,
			&e.EntityType,
			&e.EntityID,
			&e.Action,
			&actorID,
			&oldValue,
			&newValue,
			&e.PerformedAt,
		); err != nil {
			r.logger.Error("Failed to scan audit entry", zap.Error(err))
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if actorID.Valid {
			e.ActorID = &actorID.Int64
		}
		if oldValue.Valid {
			e.OldValue = []byte(oldValue.String)
		}
		if newValue.Valid {
			e.NewValue = []byte(newValue.String)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func nullJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

var _ port.AuditRepository = (*AuditRepository)(nil)
