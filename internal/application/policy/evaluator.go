// Package policy checks expenses against grade-based spending limits.
package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/expense-workflow/internal/application/port"
	"github.com/garyjia/expense-workflow/internal/domain/entity"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// CheckRequest is the input to a policy check
type CheckRequest struct {
	GradeID         *int64
	CategoryID      int64
	Amount          decimal.Decimal
	ExpenseDate     time.Time
	TransportTypeID *int64
}

// Evaluator checks expenses against policy limits. It only reads.
type Evaluator interface {
	Check(ctx context.Context, req CheckRequest) (*entity.PolicyResult, error)
	PoliciesForGrade(ctx context.Context, gradeID *int64) ([]*entity.Policy, error)
}

type evaluator struct {
	repo   port.PolicyRepository
	logger Logger
}

// NewEvaluator creates a policy evaluator
func NewEvaluator(repo port.PolicyRepository, logger Logger) Evaluator {
	return &evaluator{repo: repo, logger: logger}
}

// Check never fails for policy reasons; violations are reported in the
// result. Errors are only returned when the policy store cannot be read.
func (e *evaluator) Check(ctx context.Context, req CheckRequest) (*entity.PolicyResult, error) {
	result := &entity.PolicyResult{
		IsCompliant: true,
		Violations:  []string{},
	}

	// users without a grade are not subject to limits
	if req.GradeID == nil {
		return result, nil
	}
	gradeID := *req.GradeID

	category, err := e.repo.GetCategory(ctx, req.CategoryID)
	if err != nil {
		e.logger.Error("Failed to load category", "error", err, "category_id", req.CategoryID)
		return nil, fmt.Errorf("load category: %w", err)
	}
	if category == nil {
		result.IsCompliant = false
		result.Violations = append(result.Violations, "Invalid expense category")
		return result, nil
	}

	details := map[string]interface{}{
		"grade_id":       gradeID,
		"category_id":    req.CategoryID,
		"category":       category.Name,
		"checked_amount": req.Amount.StringFixed(2),
	}
	if req.TransportTypeID != nil {
		details["transport_type_id"] = *req.TransportTypeID
	}

	policy, err := e.repo.GetPolicy(ctx, gradeID, req.CategoryID)
	if err != nil {
		e.logger.Error("Failed to load policy", "error", err, "grade_id", gradeID, "category_id", req.CategoryID)
		return nil, fmt.Errorf("load policy: %w", err)
	}
	if policy != nil {
		// frequency windows are recorded but not enforced
		details["frequency"] = string(policy.Frequency)
		details["requires_approval"] = policy.RequiresApproval
		details["max_amount"] = policy.MaxAmount.StringFixed(2)

		if policy.MaxAmount.IsPositive() && req.Amount.GreaterThan(policy.MaxAmount) {
			allowed := policy.MaxAmount
			result.IsCompliant = false
			result.AllowedAmount = &allowed
			result.Violations = append(result.Violations, fmt.Sprintf("Amount %s exceeds limit of %s",
				req.Amount.StringFixed(2), policy.MaxAmount.StringFixed(2)))
		}
	}

	if req.TransportTypeID != nil {
		tp, err := e.repo.GetTransportPolicy(ctx, gradeID, *req.TransportTypeID)
		if err != nil {
			e.logger.Error("Failed to load transport policy", "error", err, "grade_id", gradeID, "transport_type_id", *req.TransportTypeID)
			return nil, fmt.Errorf("load transport policy: %w", err)
		}
		if tp != nil {
			details["allowed_class"] = tp.AllowedClass
			details["requires_ticket"] = tp.RequiresTicket
			if tp.MaxAmount.IsPositive() && req.Amount.GreaterThan(tp.MaxAmount) {
				result.IsCompliant = false
				result.Violations = append(result.Violations, fmt.Sprintf("Transport amount %s exceeds limit of %s",
					req.Amount.StringFixed(2), tp.MaxAmount.StringFixed(2)))
			}
		}
	}

	result.Details = details
	return result, nil
}

// PoliciesForGrade lists the limits that apply to a grade
func (e *evaluator) PoliciesForGrade(ctx context.Context, gradeID *int64) ([]*entity.Policy, error) {
	if gradeID == nil {
		return []*entity.Policy{}, nil
	}
	policies, err := e.repo.ListPolicies(ctx, *gradeID)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	return policies, nil
}
