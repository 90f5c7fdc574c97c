package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/expense-workflow/internal/application/port"
	"github.com/garyjia/expense-workflow/internal/domain/entity"
	"github.com/garyjia/expense-workflow/internal/domain/workflow"
	"github.com/garyjia/expense-workflow/internal/infrastructure/persistence/sqlite"
)

const approvalColumns = `id, expense_id, role, decision, decided_by, COALESCE(comments, ''), decided_at, created_at`

// ApprovalRepository implements port.ApprovalRepository
type ApprovalRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewApprovalRepository creates a new approval repository
func NewApprovalRepository(db *sql.DB, logger *zap.Logger) port.ApprovalRepository {
	return &ApprovalRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a pending record. UNIQUE(expense_id, role) turns a second
// insert into a no-op, reported as created == false.
func (r *ApprovalRepository) Create(ctx context.Context, record *entity.ApprovalRecord) (bool, error) {
	query := `
		INSERT OR IGNORE INTO expense_approvals (
			expense_id, role, decision, decided_by, comments, decided_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	if record.Decision == "" {
		record.Decision = entity.DecisionPending
	}

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		record.ExpenseID,
		record.Role.String(),
		string(record.Decision),
		nullInt64(record.DecidedBy),
		emptyAsNull(record.Comments),
		nullTime(record.DecidedAt),
		record.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create approval record",
			zap.Int64("expense_id", record.ExpenseID),
			zap.String("role", record.Role.String()),
			zap.Error(err))
		return false, fmt.Errorf("failed to create approval record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("failed to get last insert id: %w", err)
	}
	record.ID = id
	return true, nil
}

// Get retrieves the record for one role on one expense
func (r *ApprovalRepository) Get(ctx context.Context, expenseID int64, role workflow.Role) (*entity.ApprovalRecord, error) {
	query := `SELECT ` + approvalColumns + `
		FROM expense_approvals
		WHERE expense_id = ? AND role = ?
	`

	record, err := scanApproval(sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, expenseID, role.String()))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get approval record",
			zap.Int64("expense_id", expenseID),
			zap.String("role", role.String()),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get approval record: %w", err)
	}
	return record, nil
}

// ListByExpense retrieves every approval record of an expense
func (r *ApprovalRepository) ListByExpense(ctx context.Context, expenseID int64) ([]*entity.ApprovalRecord, error) {
	query := `SELECT ` + approvalColumns + `
		FROM expense_approvals
		WHERE expense_id = ?
		ORDER BY id ASC
	`

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, expenseID)
	if err != nil {
		r.logger.Error("Failed to list approval records", zap.Int64("expense_id", expenseID), zap.Error(err))
		return nil, fmt.Errorf("failed to list approval records: %w", err)
	}
	defer rows.Close()

	var records []*entity.ApprovalRecord
	for rows.Next() {
		record, err := scanApproval(rows)
		if err != nil {
			r.logger.Error("Failed to scan approval record", zap.Error(err))
			return nil, fmt.Errorf("failed to scan approval record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Decide records the decision only while the row is still PENDING
func (r *ApprovalRepository) Decide(ctx context.Context, id int64, decision entity.Decision, decidedBy int64, comments string, at time.Time) (bool, error) {
	query := `
		UPDATE expense_approvals
		SET decision = ?, decided_by = ?, comments = ?, decided_at = ?
		WHERE id = ? AND decision = ?
	`

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		string(decision),
		decidedBy,
		emptyAsNull(comments),
		at,
		id,
		string(entity.DecisionPending),
	)
	if err != nil {
		r.logger.Error("Failed to record approval decision", zap.Int64("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to record approval decision: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

func scanApproval(row rowScanner) (*entity.ApprovalRecord, error) {
	var rec entity.ApprovalRecord
	var role, decision string
	var decidedBy sql.NullInt64
	var decidedAt sql.NullTime

	if err := row.Scan(
		&rec.ID,
		&rec.ExpenseID,
		&role,
		&decision,
		&decidedBy,
		&rec.Comments,
		&decidedAt,
		&rec.CreatedAt,
	); err != nil {
		return nil, err
	}

	parsed, err := workflow.ParseRole(role)
	if err != nil {
		return nil, err
	}
	rec.Role = parsed
	rec.Decision = entity.Decision(decision)
	if decidedBy.Valid {
		rec.DecidedBy = &decidedBy.Int64
	}
	if decidedAt.Valid {
		rec.DecidedAt = &decidedAt.Time
	}
	return &rec, nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

var _ port.ApprovalRepository = (*ApprovalRepository)(nil)
