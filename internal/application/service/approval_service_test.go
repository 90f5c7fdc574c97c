package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/expense-workflow/internal/domain/domainerr"
	"github.com/garyjia/expense-workflow/internal/domain/entity"
	"github.com/garyjia/expense-workflow/internal/domain/workflow"
)

func newTestApprovalManager() (*approvalRecordManagerImpl, *mockApprovalRepo, *mockAuditRepo) {
	repo := newMockApprovalRepo()
	auditRepo := &mockAuditRepo{}
	audit := NewAuditWriter(auditRepo)
	m := NewApprovalRecordManager(repo, audit, &mockLogger{}).(*approvalRecordManagerImpl)
	m.now = fixedClock
	return m, repo, auditRepo
}

func TestApprovalRecordManager_EnsurePending(t *testing.T) {
	m, repo, _ := newTestApprovalManager()
	ctx := context.Background()

	first, err := m.EnsurePending(ctx, 7, workflow.RoleManager)
	require.NoError(t, err)
	assert.Equal(t, entity.DecisionPending, first.Decision)
	assert.Equal(t, testNow, first.CreatedAt)

	second, err := m.EnsurePending(ctx, 7, workflow.RoleManager)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, repo.count(7))
}

func TestApprovalRecordManager_EnsurePendingLosesInsertRace(t *testing.T) {
	m, repo, _ := newTestApprovalManager()
	ctx := context.Background()

	// another request inserts between our Get and Create
	winner := &entity.ApprovalRecord{ExpenseID: 7, Role: workflow.RoleFinance, Decision: entity.DecisionPending}
	racing := &racingApprovalRepo{mockApprovalRepo: repo, before: func() {
		_, _ = repo.Create(ctx, winner)
	}}
	m.approvalRepo = racing

	got, err := m.EnsurePending(ctx, 7, workflow.RoleFinance)
	require.NoError(t, err)
	assert.Equal(t, winner.ID, got.ID)
	assert.Equal(t, 1, repo.count(7))
}

// racingApprovalRepo runs before ahead of the first Create
type racingApprovalRepo struct {
	*mockApprovalRepo
	before func()
	fired  bool
}

func (r *racingApprovalRepo) Create(ctx context.Context, record *entity.ApprovalRecord) (bool, error) {
	if !r.fired {
		r.fired = true
		r.before()
	}
	return r.mockApprovalRepo.Create(ctx, record)
}

func TestApprovalRecordManager_Submit(t *testing.T) {
	m, _, _ := newTestApprovalManager()
	ctx := context.Background()

	_, err := m.Submit(ctx, 3, workflow.RoleManager)
	require.NoError(t, err)

	_, err = m.Submit(ctx, 3, workflow.RoleManager)
	assert.ErrorIs(t, err, domainerr.ErrInvalidState)

	_, err = m.Submit(ctx, 3, workflow.RoleEmployee)
	assert.ErrorIs(t, err, domainerr.ErrValidation)
}

func TestApprovalRecordManager_Decide(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(m *approvalRecordManagerImpl, repo *mockApprovalRepo)
		req     DecideRequest
		wantErr error
	}{
		{
			name: "approve pending",
			setup: func(m *approvalRecordManagerImpl, repo *mockApprovalRepo) {
				_, _ = m.EnsurePending(context.Background(), 1, workflow.RoleManager)
			},
			req: DecideRequest{ExpenseID: 1, Role: workflow.RoleManager, Decision: entity.DecisionApproved, ActorID: managerID, Comments: "ok"},
		},
		{
			name: "already decided",
			setup: func(m *approvalRecordManagerImpl, repo *mockApprovalRepo) {
				rec, _ := m.EnsurePending(context.Background(), 1, workflow.RoleManager)
				_, _ = repo.Decide(context.Background(), rec.ID, entity.DecisionRejected, managerID, "", testNow)
			},
			req:     DecideRequest{ExpenseID: 1, Role: workflow.RoleManager, Decision: entity.DecisionApproved, ActorID: managerID},
			wantErr: domainerr.ErrInvalidState,
		},
		{
			name: "lost compare and set",
			setup: func(m *approvalRecordManagerImpl, repo *mockApprovalRepo) {
				_, _ = m.EnsurePending(context.Background(), 1, workflow.RoleManager)
				repo.decideFunc = func(ctx context.Context, id int64, decision entity.Decision, decidedBy int64, comments string, at time.Time) (bool, error) {
					return false, nil
				}
			},
			req:     DecideRequest{ExpenseID: 1, Role: workflow.RoleManager, Decision: entity.DecisionApproved, ActorID: managerID},
			wantErr: domainerr.ErrInvalidState,
		},
		{
			name:    "no record",
			req:     DecideRequest{ExpenseID: 1, Role: workflow.RoleFinance, Decision: entity.DecisionApproved, ActorID: financeID},
			wantErr: domainerr.ErrNotFound,
		},
		{
			name: "pending is not a decision",
			setup: func(m *approvalRecordManagerImpl, repo *mockApprovalRepo) {
				_, _ = m.EnsurePending(context.Background(), 1, workflow.RoleManager)
			},
			req:     DecideRequest{ExpenseID: 1, Role: workflow.RoleManager, Decision: entity.DecisionPending, ActorID: managerID},
			wantErr: domainerr.ErrValidation,
		},
		{
			name:    "unknown role",
			req:     DecideRequest{ExpenseID: 1, Role: workflow.RoleSystem, Decision: entity.DecisionApproved},
			wantErr: domainerr.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, repo, auditRepo := newTestApprovalManager()
			if tt.setup != nil {
				tt.setup(m, repo)
			}

			rec, err := m.Decide(context.Background(), tt.req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, rec)
				assert.Empty(t, auditRepo.entries)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.req.Decision, rec.Decision)
			require.NotNil(t, rec.DecidedBy)
			assert.Equal(t, tt.req.ActorID, *rec.DecidedBy)
			assert.Equal(t, testNow, *rec.DecidedAt)

			stored, _ := repo.Get(context.Background(), tt.req.ExpenseID, tt.req.Role)
			assert.Equal(t, tt.req.Decision, stored.Decision)
			assert.Equal(t, []string{entity.AuditActionApproved}, auditRepo.actions(entity.AuditEntityApproval, rec.ID))
		})
	}
}

func TestApprovalRecordManager_DecideAuditFailure(t *testing.T) {
	m, _, auditRepo := newTestApprovalManager()
	auditRepo.createFunc = func(ctx context.Context, entry *entity.AuditLogEntry) error {
		return errors.New("database is locked")
	}
	_, err := m.EnsurePending(context.Background(), 1, workflow.RoleHR)
	require.NoError(t, err)

	_, err = m.Decide(context.Background(), DecideRequest{ExpenseID: 1, Role: workflow.RoleHR, Decision: entity.DecisionRejected, ActorID: hrID})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create audit entry")
}
