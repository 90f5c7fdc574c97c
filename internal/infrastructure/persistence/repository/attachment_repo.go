package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/expense-workflow/internal/application/port"
	"github.com/garyjia/expense-workflow/internal/domain/domainerr"
	"github.com/garyjia/expense-workflow/internal/domain/entity"
	"github.com/garyjia/expense-workflow/internal/infrastructure/persistence/sqlite"
)

// AttachmentRepository implements port.AttachmentRepository
type AttachmentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAttachmentRepository creates a new attachment repository
func NewAttachmentRepository(db *sql.DB, logger *zap.Logger) port.AttachmentRepository {
	return &AttachmentRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new attachment record. The content hash column is UNIQUE,
// so a concurrent upload of the same receipt fails here.
func (r *AttachmentRepository) Create(ctx context.Context, att *entity.Attachment) error {
	query := `
		INSERT INTO attachments (
			expense_id, original_name, storage_path, file_type, size,
			content_hash, uploaded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	if att.UploadedAt.IsZero() {
		att.UploadedAt = time.Now()
	}

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		att.ExpenseID,
		att.OriginalName,
		att.StoragePath,
		att.FileType,
		att.Size,
		att.ContentHash,
		att.UploadedAt,
	)
	if isUniqueViolation(err) {
		r.logger.Warn("Duplicate receipt rejected by constraint",
			zap.Int64("expense_id", att.ExpenseID),
			zap.String("content_hash", att.ContentHash))
		return fmt.Errorf("%w: content hash %s", domainerr.ErrDuplicateReceipt, att.ContentHash)
	}
	if err != nil {
		r.logger.Error("Failed to create attachment", zap.Int64("expense_id", att.ExpenseID), zap.Error(err))
		return fmt.Errorf("failed to create attachment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	att.ID = id
	return nil
}

// ExistsByHash reports whether any attachment already has this content hash
func (r *AttachmentRepository) ExistsByHash(ctx context.Context, contentHash string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM attachments WHERE content_hash = ?)`

	var exists bool
	if err := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, contentHash).Scan(&exists); err != nil {
		r.logger.Error("Failed to check attachment hash", zap.String("content_hash", contentHash), zap.Error(err))
		return false, fmt.Errorf("failed to check attachment hash: %w", err)
	}
	return exists, nil
}

// GetByExpenseID retrieves all attachments for an expense, primary first
func (r *AttachmentRepository) GetByExpenseID(ctx context.Context, expenseID int64) ([]*entity.Attachment, error) {
	query := `
		SELECT id, expense_id, original_name, storage_path, file_type, size,
			content_hash, uploaded_at
		FROM attachments
		WHERE expense_id = ?
		ORDER BY id ASC
	`

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, expenseID)
	if err != nil {
		r.logger.Error("Failed to get attachments by expense ID", zap.Int64("expense_id", expenseID), zap.Error(err))
		return nil, fmt.Errorf("failed to get attachments: %w", err)
	}
	defer rows.Close()

	var attachments []*entity.Attachment
	for rows.Next() {
		var att entity.Attachment
		if err := rows.Scan(
			&att.ID,
			&att.ExpenseID,
			&att.OriginalName,
			&att.StoragePath,
			&att.FileType,
			&att.Size,
			&att.ContentHash,
			&att.UploadedAt,
		); err != nil {
			r.logger.Error("Failed to scan attachment", zap.Error(err))
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		attachments = append(attachments, &att)
	}
	return attachments, rows.Err()
}

var _ port.AttachmentRepository = (*AttachmentRepository)(nil)
