package service

import (
	"time"

	"github.com/garyjia/expense-workflow/internal/domain/entity"
	"github.com/garyjia/expense-workflow/internal/domain/workflow"
)

// Submission outcomes reported to Metrics
const (
	OutcomeAccepted        = "accepted"
	OutcomePolicyException = "policy_exception"
	OutcomeDuplicate       = "duplicate"
	OutcomeBlocked         = "blocked"
	OutcomeInvalid         = "invalid"
	OutcomeError           = "error"
)

// Metrics receives business counters
type Metrics interface {
	SubmissionOutcome(outcome string)
	Decision(role workflow.Role, decision entity.Decision)
	ClassifierVerdict(decision string)
	ScreeningDuration(d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) SubmissionOutcome(string) {}
func (nopMetrics) Decision(workflow.Role, entity.Decision) {}
func (nopMetrics) ClassifierVerdict(string) {}
func (nopMetrics) ScreeningDuration(time.Duration) {}
