package workflow

import (
	"context"

	"github.com/garyjia/expense-workflow/internal/domain/entity"
	"github.com/garyjia/expense-workflow/internal/domain/event"
	domainwf "github.com/garyjia/expense-workflow/internal/domain/workflow"
)

// Actor is whoever fires a transition
type Actor struct {
	ID   *int64
	Role domainwf.Role
}

// SystemActor is used for transitions the service makes on its own
var SystemActor = Actor{Role: domainwf.RoleSystem}

// TransitionRequest asks the engine to move one expense
type TransitionRequest struct {
	Expense *entity.Expense
	Trigger domainwf.Trigger
	Actor   Actor
	Remarks *string // stored on the expense when set

	// Events are published after commit by Transition. Apply ignores them.
	Events []*event.Event
}

// TransitionResult describes a completed transition
type TransitionResult struct {
	From domainwf.State
	To   domainwf.State
}

// Engine moves expenses through the lifecycle
type Engine interface {
	// Machine builds the state machine for an expense's current status
	Machine(expense *entity.Expense) domainwf.StateMachine

	// Apply fires the trigger, persists the new status and writes the audit
	// entry on the transaction carried by ctx. The caller owns the transaction.
	Apply(ctx context.Context, req TransitionRequest) (*TransitionResult, error)

	// Transition runs Apply in its own transaction and publishes req.Events
	// once it commits
	Transition(ctx context.Context, req TransitionRequest) (*TransitionResult, error)

	// Publish hands events to the dispatcher without waiting for handlers
	Publish(ctx context.Context, events ...*event.Event)
}

// AuditRecorder appends audit entries on the caller's transaction
type AuditRecorder interface {
	Record(ctx context.Context, entityType string, entityID int64, action string, actorID *int64, oldValue, newValue interface{}) error
}
