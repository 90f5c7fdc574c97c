package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/expense-workflow/internal/application/port"
	"github.com/garyjia/expense-workflow/internal/domain/entity"
	"github.com/garyjia/expense-workflow/internal/infrastructure/persistence/sqlite"
)

// PolicyRepository implements port.PolicyRepository
type PolicyRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPolicyRepository creates a new policy repository
func NewPolicyRepository(db *sql.DB, logger *zap.Logger) port.PolicyRepository {
	return &PolicyRepository{
		db:     db,
		logger: logger,
	}
}

// GetCategory retrieves a category by ID
func (r *PolicyRepository) GetCategory(ctx context.Context, id int64) (*entity.Category, error) {
	var c entity.Category
	err := sqlite.ExecutorFor(ctx, r.db).
		QueryRowContext(ctx, `SELECT id, name FROM categories WHERE id = ?`, id).
		Scan(&c.ID, &c.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get category", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return &c, nil
}

// ListCategories returns all categories ordered by name
func (r *PolicyRepository) ListCategories(ctx context.Context) ([]*entity.Category, error) {
	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, `SELECT id, name FROM categories ORDER BY name ASC`)
	if err != nil {
		r.logger.Error("Failed to list categories", zap.Error(err))
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var categories []*entity.Category
	for rows.Next() {
		var c entity.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, &c)
	}
	return categories, rows.Err()
}

// GetPolicy retrieves the spending limit for a grade and category
func (r *PolicyRepository) GetPolicy(ctx context.Context, gradeID, categoryID int64) (*entity.Policy, error) {
	query := `
		SELECT id, grade_id, category_id, max_amount, frequency, requires_approval
		FROM policies
		WHERE grade_id = ? AND category_id = ?
	`

	policy, err := scanPolicy(sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, gradeID, categoryID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get policy",
			zap.Int64("grade_id", gradeID),
			zap.Int64("category_id", categoryID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}
	return policy, nil
}

// ListPolicies returns every policy of a grade
func (r *PolicyRepository) ListPolicies(ctx context.Context, gradeID int64) ([]*entity.Policy, error) {
	query := `
		SELECT id, grade_id, category_id, max_amount, frequency, requires_approval
		FROM policies
		WHERE grade_id = ?
		ORDER BY category_id ASC
	`

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, gradeID)
	if err != nil {
		r.logger.Error("Failed to list policies", zap.Int64("grade_id", gradeID), zap.Error(err))
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	defer rows.Close()

	var policies []*entity.Policy
	for rows.Next() {
		policy, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		policies = append(policies, policy)
	}
	return policies, rows.Err()
}

// GetTransportPolicy retrieves the limit for a grade and transport type
func (r *PolicyRepository) GetTransportPolicy(ctx context.Context, gradeID, transportTypeID int64) (*entity.TransportPolicy, error) {
	query := `
		SELECT id, grade_id, transport_type_id, allowed_class, max_amount, requires_ticket
		FROM transport_policies
		WHERE grade_id = ? AND transport_type_id = ?
	`

	var p entity.TransportPolicy
	err := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, gradeID, transportTypeID).Scan(
		&p.ID,
		&p.GradeID,
		&p.TransportTypeID,
		&p.AllowedClass,
		&p.MaxAmount,
		&p.RequiresTicket,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get transport policy",
			zap.Int64("grade_id", gradeID),
			zap.Int64("transport_type_id", transportTypeID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get transport policy: %w", err)
	}
	return &p, nil
}

func scanPolicy(row rowScanner) (*entity.Policy, error) {
	var p entity.Policy
	var frequency string
	if err := row.Scan(
		&p.ID,
		&p.GradeID,
		&p.CategoryID,
		&p.MaxAmount,
		&frequency,
		&p.RequiresApproval,
	); err != nil {
		return nil, err
	}
	p.Frequency = entity.Frequency(frequency)
	return &p, nil
}

var _ port.PolicyRepository = (*PolicyRepository)(nil)
