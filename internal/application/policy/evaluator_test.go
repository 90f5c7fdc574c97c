package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/expense-workflow/internal/domain/entity"
)

type mockPolicyRepo struct {
	getCategoryFunc        func(ctx context.Context, id int64) (*entity.Category, error)
	getPolicyFunc          func(ctx context.Context, gradeID, categoryID int64) (*entity.Policy, error)
	getTransportPolicyFunc func(ctx context.Context, gradeID, transportTypeID int64) (*entity.TransportPolicy, error)
	listPoliciesFunc       func(ctx context.Context, gradeID int64) ([]*entity.Policy, error)
	calls                  int
}

func (m *mockPolicyRepo) GetCategory(ctx context.Context, id int64) (*entity.Category, error) {
	m.calls++
	if m.getCategoryFunc != nil {
		return m.getCategoryFunc(ctx, id)
	}
	return &entity.Category{ID: id, Name: "Travel"}, nil
}

func (m *mockPolicyRepo) ListCategories(ctx context.Context) ([]*entity.Category, error) {
	return nil, nil
}

func (m *mockPolicyRepo) GetPolicy(ctx context.Context, gradeID, categoryID int64) (*entity.Policy, error) {
	m.calls++
	if m.getPolicyFunc != nil {
		return m.getPolicyFunc(ctx, gradeID, categoryID)
	}
	return nil, nil
}

func (m *mockPolicyRepo) ListPolicies(ctx context.Context, gradeID int64) ([]*entity.Policy, error) {
	if m.listPoliciesFunc != nil {
		return m.listPoliciesFunc(ctx, gradeID)
	}
	return []*entity.Policy{}, nil
}

func (m *mockPolicyRepo) GetTransportPolicy(ctx context.Context, gradeID, transportTypeID int64) (*entity.TransportPolicy, error) {
	m.calls++
	if m.getTransportPolicyFunc != nil {
		return m.getTransportPolicyFunc(ctx, gradeID, transportTypeID)
	}
	return nil, nil
}

type mockLogger struct{}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}

func int64Ptr(v int64) *int64 { return &v }

func limit(max string) func(ctx context.Context, gradeID, categoryID int64) (*entity.Policy, error) {
	return func(ctx context.Context, gradeID, categoryID int64) (*entity.Policy, error) {
		return &entity.Policy{GradeID: gradeID, CategoryID: categoryID, MaxAmount: decimal.RequireFromString(max), Frequency: entity.FrequencyPerTrip}, nil
	}
}

func TestEvaluator_Check(t *testing.T) {
	tests := []struct {
		name           string
		grade          *int64
		amount         string
		transport      *int64
		repo           *mockPolicyRepo
		wantCompliant  bool
		wantViolations []string
		wantAllowed    string
	}{
		{
			name:          "no grade is compliant",
			grade:         nil,
			amount:        "999999",
			repo:          &mockPolicyRepo{},
			wantCompliant: true,
		},
		{
			name:   "unknown category",
			grade:  int64Ptr(1),
			amount: "100",
			repo: &mockPolicyRepo{getCategoryFunc: func(ctx context.Context, id int64) (*entity.Category, error) {
				return nil, nil
			}},
			wantCompliant:  false,
			wantViolations: []string{"Invalid expense category"},
		},
		{
			name:          "within limit",
			grade:         int64Ptr(1),
			amount:        "1000",
			repo:          &mockPolicyRepo{getPolicyFunc: limit("1000")},
			wantCompliant: true,
		},
		{
			name:           "over limit",
			grade:          int64Ptr(1),
			amount:         "1500",
			repo:           &mockPolicyRepo{getPolicyFunc: limit("1000")},
			wantCompliant:  false,
			wantViolations: []string{"Amount 1500.00 exceeds limit of 1000.00"},
			wantAllowed:    "1000",
		},
		{
			name:          "no policy row",
			grade:         int64Ptr(3),
			amount:        "50000",
			repo:          &mockPolicyRepo{},
			wantCompliant: true,
		},
		{
			name:      "transport limit exceeded",
			grade:     int64Ptr(2),
			amount:    "3000",
			transport: int64Ptr(4),
			repo: &mockPolicyRepo{
				getPolicyFunc: limit("5000"),
				getTransportPolicyFunc: func(ctx context.Context, gradeID, transportTypeID int64) (*entity.TransportPolicy, error) {
					return &entity.TransportPolicy{AllowedClass: "Economy", MaxAmount: decimal.NewFromInt(2500)}, nil
				},
			},
			wantCompliant:  false,
			wantViolations: []string{"Transport amount 3000.00 exceeds limit of 2500.00"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEvaluator(tt.repo, &mockLogger{})

			result, err := e.Check(context.Background(), CheckRequest{
				GradeID:         tt.grade,
				CategoryID:      1,
				Amount:          decimal.RequireFromString(tt.amount),
				ExpenseDate:     time.Now(),
				TransportTypeID: tt.transport,
			})
			require.NoError(t, err)

			assert.Equal(t, tt.wantCompliant, result.IsCompliant)
			if tt.wantViolations == nil {
				assert.Empty(t, result.Violations)
			} else {
				assert.Equal(t, tt.wantViolations, result.Violations)
			}
			if tt.wantAllowed != "" {
				require.NotNil(t, result.AllowedAmount)
				assert.True(t, result.AllowedAmount.Equal(decimal.RequireFromString(tt.wantAllowed)))
			} else {
				assert.Nil(t, result.AllowedAmount)
			}
		})
	}
}

func TestEvaluator_Check_NoGradeSkipsLookups(t *testing.T) {
	repo := &mockPolicyRepo{}
	_, err := NewEvaluator(repo, &mockLogger{}).Check(context.Background(), CheckRequest{CategoryID: 1, Amount: decimal.NewFromInt(10)})
	require.NoError(t, err)
	assert.Zero(t, repo.calls)
}

func TestEvaluator_Check_DetailsCarryFrequency(t *testing.T) {
	e := NewEvaluator(&mockPolicyRepo{getPolicyFunc: limit("1000")}, &mockLogger{})

	result, err := e.Check(context.Background(), CheckRequest{GradeID: int64Ptr(1), CategoryID: 1, Amount: decimal.NewFromInt(10)})
	require.NoError(t, err)
	assert.Equal(t, "PER_TRIP", result.Details["frequency"])
	assert.Equal(t, "10.00", result.Details["checked_amount"])
	assert.Equal(t, int64(1), result.Details["grade_id"])
}

func TestEvaluator_Check_RepositoryError(t *testing.T) {
	repoErr := errors.New("db locked")
	e := NewEvaluator(&mockPolicyRepo{getPolicyFunc: func(ctx context.Context, gradeID, categoryID int64) (*entity.Policy, error) {
		return nil, repoErr
	}}, &mockLogger{})

	_, err := e.Check(context.Background(), CheckRequest{GradeID: int64Ptr(1), CategoryID: 1, Amount: decimal.NewFromInt(10)})
	assert.ErrorIs(t, err, repoErr)
}

func TestEvaluator_PoliciesForGrade(t *testing.T) {
	e := NewEvaluator(&mockPolicyRepo{listPoliciesFunc: func(ctx context.Context, gradeID int64) ([]*entity.Policy, error) {
		return []*entity.Policy{{GradeID: gradeID}}, nil
	}}, &mockLogger{})

	none, err := e.PoliciesForGrade(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, none)

	some, err := e.PoliciesForGrade(context.Background(), int64Ptr(2))
	require.NoError(t, err)
	require.Len(t, some, 1)
	assert.Equal(t, int64(2), some[0].GradeID)
}
