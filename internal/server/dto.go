package server

// Request bodies. Responses reuse the domain types, which carry their own
// JSON tags and enum annotations.

type CreateOrgRequest struct {
	Name string `json:"name" example:"Acme"`
	Slug string `json:"slug" example:"acme"`
}

type SetMemberRequest struct {
	ProfileID string `json:"profile_id"`
	Role      string `json:"role"`
}

type CreateTeamRequest struct {
	Name string `json:"name"`
}

type StageRequest struct {
	Name         string `json:"name"`
	Color        string `json:"color,omitempty"`
	WipLimit     *int   `json:"wip_limit,omitempty"`
	WipLimitType string `json:"wip_limit_type,omitempty" enum:",warning,strict"`
	IsDone       bool   `json:"is_done,omitempty"`
}

type CreateProjectRequest struct {
	OrgID  string         `json:"org_id"`
	TeamID *string        `json:"team_id,omitempty"`
	Name   string         `json:"name"`
	Color  string         `json:"color,omitempty"`
	Stages []StageRequest `json:"stages,omitempty"`
}

type CreateTaskRequest struct {
	ParentID       *string  `json:"parent_id,omitempty"`
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	StageID        string   `json:"stage_id,omitempty"`
	Priority       string   `json:"priority,omitempty" enum:",urgent,high,normal,low"`
	DueAt          *string  `json:"due_at,omitempty" format:"date-time"`
	StartAt        *string  `json:"start_at,omitempty" format:"date-time"`
	AssigneeID     *string  `json:"assignee_id,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	EstimatedHours *float64 `json:"estimated_hours,omitempty"`
	Color          string   `json:"color,omitempty"`
	RecurrenceRule string   `json:"recurrence_rule,omitempty" enum:",daily,weekly,monthly"`
	MaxOccurrences *int     `json:"max_occurrences,omitempty"`
}

type UpdateTaskRequest struct {
	Title          *string   `json:"title,omitempty"`
	Description    *string   `json:"description,omitempty"`
	Priority       *string   `json:"priority,omitempty"`
	DueAt          *string   `json:"due_at,omitempty" format:"date-time"`
	ClearDueAt     bool      `json:"clear_due_at,omitempty"`
	StartAt        *string   `json:"start_at,omitempty" format:"date-time"`
	ClearStartAt   bool      `json:"clear_start_at,omitempty"`
	AssigneeID     *string   `json:"assignee_id,omitempty"`
	ClearAssignee  bool      `json:"clear_assignee,omitempty"`
	Tags           *[]string `json:"tags,omitempty"`
	EstimatedHours *float64  `json:"estimated_hours,omitempty"`
	Color          *string   `json:"color,omitempty"`
	RecurrenceRule *string   `json:"recurrence_rule,omitempty"`
	MaxOccurrences *int      `json:"max_occurrences,omitempty"`
}

type MoveTaskRequest struct {
	StageID string `json:"stage_id"`
}

type UpdateSubtaskRequest struct {
	Title         *string `json:"title,omitempty"`
	AssigneeID    *string `json:"assignee_id,omitempty"`
	ClearAssignee bool    `json:"clear_assignee,omitempty"`
	Position      *int    `json:"position,omitempty"`
}

type ReorderTaskRequest struct {
	Index int `json:"index" minimum:"0"`
}

type RejectTaskRequest struct {
	Reason        string `json:"reason,omitempty"`
	ReturnStageID string `json:"return_stage_id,omitempty"`
}

type AssignTaskRequest struct {
	ProfileID string `json:"profile_id"`
	Role      string `json:"role,omitempty" enum:",owner,assignee,reviewer,collaborator"`
}

type AddDependencyRequest struct {
	BlockerID string `json:"blocker_id"`
	Type      string `json:"type,omitempty" enum:",finish_to_start,start_to_start,finish_to_finish,start_to_finish"`
	LagDays   int    `json:"lag_days,omitempty" minimum:"0"`
}

type SubtaskRequest struct {
	Title      string  `json:"title"`
	AssigneeID *string `json:"assignee_id,omitempty"`
}

type CommentRequest struct {
	Content string `json:"content"`
}

type AttachmentRequest struct {
	TaskID    *string `json:"task_id,omitempty"`
	CommentID *string `json:"comment_id,omitempty"`
	FileRef   string  `json:"file_ref"`
}

type StartTimerRequest struct {
	TaskID string `json:"task_id"`
}

type CompleteProfileRequest struct {
	DisplayName string `json:"display_name,omitempty"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}
