package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/expense-workflow/internal/application/port"
	"github.com/garyjia/expense-workflow/internal/domain/entity"
	"github.com/garyjia/expense-workflow/internal/domain/workflow"
	"github.com/garyjia/expense-workflow/internal/infrastructure/persistence/sqlite"
)

const userColumns = `id, name, email, role, grade_id, manager_id, COALESCE(lark_open_id, '')`

// UserRepository implements port.UserRepository
type UserRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sql.DB, logger *zap.Logger) port.UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*entity.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`

	user, err := scanUser(sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get user by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// ListByRole returns every user holding the role
func (r *UserRepository) ListByRole(ctx context.Context, role workflow.Role) ([]*entity.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE role = ? ORDER BY id ASC`

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, role.String())
	if err != nil {
		r.logger.Error("Failed to list users by role", zap.String("role", role.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*entity.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			r.logger.Error("Failed to scan user", zap.Error(err))
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func scanUser(row rowScanner) (*entity.User, error) {
	var u entity.User
	var role string
	var gradeID, managerID sql.NullInt64
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &role, &gradeID, &managerID, &u.LarkOpenID); err != nil {
		return nil, err
	}

	parsed, err := workflow.ParseRole(role)
	if err != nil {
		return nil, err
	}
	u.Role = parsed
	if gradeID.Valid {
		u.GradeID = &gradeID.Int64
	}
	if managerID.Valid {
		u.ManagerID = &managerID.Int64
	}
	return &u, nil
}

var _ port.UserRepository = (*UserRepository)(nil)
