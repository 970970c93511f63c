package entity

import "time"

// ApprovalHistory records one transition applied to a request
type ApprovalHistory struct {
	ID             int64     `json:"id"`
	RequestID      string    `json:"request_id"`
	ActorUserID    string    `json:"actor_user_id,omitempty"`
	ActorRole      string    `json:"actor_role,omitempty"`
	StepIndex      int       `json:"step_index"`
	StepID         string    `json:"step_id,omitempty"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	ActionType     string    `json:"action_type"`
	Detail         string    `json:"detail,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// History action types. SUBMIT and the decision actions come from humans,
// ESCALATE and SKIP from the deadline scheduler.
const (
	HistoryActionSubmit   = "SUBMIT"
	HistoryActionApprove  = "APPROVE"
	HistoryActionReject   = "REJECT"
	HistoryActionCancel   = "CANCEL"
	HistoryActionEscalate = "ESCALATE"
	HistoryActionSkip     = "SKIP"
)
