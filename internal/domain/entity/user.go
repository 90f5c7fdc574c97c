package entity

import "github.com/garyjia/expense-workflow/internal/domain/workflow"

// User is the reference data the workflow needs about a person
type User struct {
	ID         int64         `json:"id"`
	Name       string        `json:"name"`
	Email      string        `json:"email"`
	Role       workflow.Role `json:"role"`
	GradeID    *int64        `json:"grade_id,omitempty"`
	ManagerID  *int64        `json:"manager_id,omitempty"`
	LarkOpenID string        `json:"lark_open_id,omitempty"`
}
