package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"

	"github.com/garyjia/expense-workflow/internal/application/port"
	"github.com/garyjia/expense-workflow/internal/domain/entity"
	"github.com/garyjia/expense-workflow/internal/domain/workflow"
	"github.com/garyjia/expense-workflow/internal/infrastructure/persistence/sqlite"
)

var expenseColumns = []string{
	"e.id", "e.submitter_id", "e.category_id", "e.transport_type_id", "e.amount",
	"e.expense_date", "e.description", "e.status", "e.rejection_remarks",
	"COALESCE(e.file_hash, '')", "COALESCE(e.text_hash, '')",
	"e.validation_score", "e.ai_validated", "e.risk_factors", "e.recommendations",
	"e.policy_check", "e.created_at", "e.updated_at",
}

// ExpenseRepository implements port.ExpenseRepository
type ExpenseRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewExpenseRepository creates a new expense repository
func NewExpenseRepository(db *sql.DB, logger *zap.Logger) port.ExpenseRepository {
	return &ExpenseRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts an expense and sets its ID
func (r *ExpenseRepository) Create(ctx context.Context, expense *entity.Expense) error {
	query := `
		INSERT INTO expenses (
			submitter_id, category_id, transport_type_id, amount, expense_date,
			description, status, rejection_remarks, file_hash, text_hash,
			validation_score, ai_validated, risk_factors, recommendations,
			policy_check, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now()
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = now
	}
	if expense.UpdatedAt.IsZero() {
		expense.UpdatedAt = expense.CreatedAt
	}

	riskFactors, recommendations, policyCheck, err := marshalScreening(expense)
	if err != nil {
		return err
	}

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		expense.SubmitterID,
		expense.CategoryID,
		nullInt64(expense.TransportTypeID),
		expense.Amount.StringFixed(2),
		expense.ExpenseDate.Format(entity.DateLayout),
		expense.Description,
		expense.Status.String(),
		nullString(expense.RejectionRemarks),
		emptyAsNull(expense.FileHash),
		emptyAsNull(expense.TextHash),
		expense.ValidationScore,
		expense.AIValidated,
		riskFactors,
		recommendations,
		policyCheck,
		expense.CreatedAt,
		expense.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create expense", zap.Int64("submitter_id", expense.SubmitterID), zap.Error(err))
		return fmt.Errorf("failed to create expense: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	expense.ID = id
	return nil
}

// GetByID retrieves an expense by ID
func (r *ExpenseRepository) GetByID(ctx context.Context, id int64) (*entity.Expense, error) {
	query, args, err := sq.Select(expenseColumns...).
		From("expenses e").
		Where(sq.Eq{"e.id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build expense query: %w", err)
	}

	expense, err := scanExpense(sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get expense by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get expense: %w", err)
	}
	return expense, nil
}

// Update writes the editable fields and the policy check while the
// expense is still in from
func (r *ExpenseRepository) Update(ctx context.Context, expense *entity.Expense, from workflow.State) (bool, error) {
	query := `
		UPDATE expenses
		SET category_id = ?, transport_type_id = ?, amount = ?, expense_date = ?,
			description = ?, policy_check = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	if expense.UpdatedAt.IsZero() {
		expense.UpdatedAt = time.Now()
	}

	_, _, policyCheck, err := marshalScreening(expense)
	if err != nil {
		return false, err
	}

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		expense.CategoryID,
		nullInt64(expense.TransportTypeID),
		expense.Amount.StringFixed(2),
		expense.ExpenseDate.Format(entity.DateLayout),
		expense.Description,
		policyCheck,
		expense.UpdatedAt,
		expense.ID,
		from.String(),
	)
	if err != nil {
		r.logger.Error("Failed to update expense", zap.Int64("id", expense.ID), zap.Error(err))
		return false, fmt.Errorf("failed to update expense: %w", err)
	}
	return singleRow(result)
}

// UpdateStatus moves the expense from one status to another. Remarks are
// only overwritten when given.
func (r *ExpenseRepository) UpdateStatus(ctx context.Context, id int64, from, to workflow.State, remarks *string) (bool, error) {
	query := `
		UPDATE expenses
		SET status = ?, rejection_remarks = COALESCE(?, rejection_remarks), updated_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		to.String(),
		nullString(remarks),
		time.Now(),
		id,
		from.String(),
	)
	if err != nil {
		r.logger.Error("Failed to update expense status",
			zap.Int64("id", id),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
			zap.Error(err))
		return false, fmt.Errorf("failed to update expense status: %w", err)
	}

	return singleRow(result)
}

// Delete removes an expense still in from; attachments and approval
// records cascade
func (r *ExpenseRepository) Delete(ctx context.Context, id int64, from workflow.State) (bool, error) {
	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx,
		`DELETE FROM expenses WHERE id = ? AND status = ?`, id, from.String())
	if err != nil {
		r.logger.Error("Failed to delete expense", zap.Int64("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to delete expense: %w", err)
	}
	return singleRow(result)
}

// singleRow reports whether a conditional write hit its row
func singleRow(result sql.Result) (bool, error) {
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

// List returns expenses matching the filter, newest first
func (r *ExpenseRepository) List(ctx context.Context, filter entity.ExpenseFilter) ([]*entity.Expense, error) {
	builder := sq.Select(expenseColumns...).From("expenses e")

	if filter.SubmitterID != 0 {
		builder = builder.Where(sq.Eq{"e.submitter_id": filter.SubmitterID})
	}
	if filter.ManagerID != 0 {
		builder = builder.
			Join("users u ON u.id = e.submitter_id").
			Where(sq.Eq{"u.manager_id": filter.ManagerID})
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = s.String()
		}
		builder = builder.Where(sq.Eq{"e.status": statuses})
	}

	builder = builder.OrderBy("e.created_at DESC", "e.id DESC")
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		builder = builder.Offset(uint64(filter.Offset))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build expense list query: %w", err)
	}

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list expenses", zap.Error(err))
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}
	defer rows.Close()

	var expenses []*entity.Expense
	for rows.Next() {
		expense, err := scanExpense(rows)
		if err != nil {
			r.logger.Error("Failed to scan expense", zap.Error(err))
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		expenses = append(expenses, expense)
	}
	return expenses, rows.Err()
}

// ListPrior returns the submitter's expenses with the hash of their primary receipt
func (r *ExpenseRepository) ListPrior(ctx context.Context, submitterID int64) ([]*entity.PriorExpense, error) {
	query := `
		SELECT e.id, e.amount, e.expense_date,
			COALESCE((SELECT a.content_hash FROM attachments a WHERE a.expense_id = e.id ORDER BY a.id LIMIT 1), e.file_hash, ''),
			COALESCE(e.text_hash, '')
		FROM expenses e
		WHERE e.submitter_id = ?
		ORDER BY e.id ASC
	`

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, submitterID)
	if err != nil {
		r.logger.Error("Failed to list prior expenses", zap.Int64("submitter_id", submitterID), zap.Error(err))
		return nil, fmt.Errorf("failed to list prior expenses: %w", err)
	}
	defer rows.Close()

	var priors []*entity.PriorExpense
	for rows.Next() {
		var p entity.PriorExpense
		var expenseDate string
		if err := rows.Scan(&p.ID, &p.Amount, &expenseDate, &p.FileHash, &p.TextHash); err != nil {
			return nil, fmt.Errorf("failed to scan prior expense: %w", err)
		}
		if p.ExpenseDate, err = time.Parse(entity.DateLayout, expenseDate); err != nil {
			return nil, fmt.Errorf("invalid expense date %q on expense %d: %w", expenseDate, p.ID, err)
		}
		priors = append(priors, &p)
	}
	return priors, rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExpense(row rowScanner) (*entity.Expense, error) {
	var e entity.Expense
	var transportTypeID sql.NullInt64
	var expenseDate, status string
	var remarks, riskFactors, recommendations, policyCheck sql.NullString

	err := row.Scan(
		&e.ID,
		&e.SubmitterID,
		&e.CategoryID,
		&transportTypeID,
		&e.Amount,
		&expenseDate,
		&e.Description,
		&status,
		&remarks,
		&e.FileHash,
		&e.TextHash,
		&e.ValidationScore,
		&e.AIValidated,
		&riskFactors,
		&recommendations,
		&policyCheck,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if e.ExpenseDate, err = time.Parse(entity.DateLayout, expenseDate); err != nil {
		return nil, fmt.Errorf("invalid expense date %q: %w", expenseDate, err)
	}
	if e.Status, err = workflow.ParseState(status); err != nil {
		return nil, err
	}
	if transportTypeID.Valid {
		e.TransportTypeID = &transportTypeID.Int64
	}
	if remarks.Valid {
		e.RejectionRemarks = &remarks.String
	}

	e.RiskFactors = []string{}
	e.Recommendations = []string{}
	if err := unmarshalNullable(riskFactors, &e.RiskFactors); err != nil {
		return nil, fmt.Errorf("invalid risk_factors: %w", err)
	}
	if err := unmarshalNullable(recommendations, &e.Recommendations); err != nil {
		return nil, fmt.Errorf("invalid recommendations: %w", err)
	}
	if policyCheck.Valid && policyCheck.String != "" {
		e.PolicyCheck = &entity.PolicyResult{}
		if err := json.Unmarshal([]byte(policyCheck.String), e.PolicyCheck); err != nil {
			return nil, fmt.Errorf("invalid policy_check: %w", err)
		}
	}

	return &e, nil
}

func marshalScreening(expense *entity.Expense) (riskFactors, recommendations, policyCheck interface{}, err error) {
	if riskFactors, err = marshalJSON(nonNil(expense.RiskFactors)); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal risk factors: %w", err)
	}
	if recommendations, err = marshalJSON(nonNil(expense.Recommendations)); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal recommendations: %w", err)
	}
	if expense.PolicyCheck != nil {
		if policyCheck, err = marshalJSON(expense.PolicyCheck); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal policy check: %w", err)
		}
	}
	return riskFactors, recommendations, policyCheck, nil
}

func marshalJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

func unmarshalNullable(s sql.NullString, dest interface{}) error {
	if !s.Valid || s.String == "" || s.String == "null" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), dest)
}

func nullInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(v *string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func emptyAsNull(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

var _ port.ExpenseRepository = (*ExpenseRepository)(nil)
