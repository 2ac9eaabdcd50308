package domain

type Profile struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Completed   bool   `json:"completed"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type Organization struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type OrgMember struct {
	OrgID     string `json:"org_id"`
	ProfileID string `json:"profile_id"`
	Role      string `json:"role" enum:"owner,admin,member"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Team struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type TeamMember struct {
	TeamID    string `json:"team_id"`
	ProfileID string `json:"profile_id"`
	Role      string `json:"role" enum:"owner,admin,member"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Project struct {
	ID        string  `json:"id"`
	OrgID     string  `json:"org_id"`
	TeamID    *string `json:"team_id,omitempty"`
	Name      string  `json:"name"`
	Color     string  `json:"color,omitempty"`
	CreatedBy string  `json:"created_by"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	UpdatedAt string  `json:"updated_at" format:"date-time"`
}

type Stage struct {
	ID           string `json:"id"`
	ProjectID    string `json:"project_id"`
	Name         string `json:"name"`
	Color        string `json:"color,omitempty"`
	Position     int    `json:"position"`
	WipLimit     *int   `json:"wip_limit,omitempty"`
	WipLimitType string `json:"wip_limit_type,omitempty" enum:"warning,strict"`
	IsDone       bool   `json:"is_done"`
}

type ProjectMember struct {
	ProjectID string `json:"project_id"`
	ProfileID string `json:"profile_id"`
	Role      string `json:"role" enum:"owner,admin,editor,reader"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Approval states for tasks in done stages.
const (
	ApprovalNone     = "none"
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

type Task struct {
	ID              string   `json:"id"`
	ProjectID       string   `json:"project_id"`
	ParentID        *string  `json:"parent_id,omitempty"`
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	StageID         string   `json:"stage_id"`
	Priority        string   `json:"priority,omitempty" enum:"urgent,high,normal,low"`
	Position        int      `json:"position"`
	DueAt           *string  `json:"due_at,omitempty" format:"date-time"`
	StartAt         *string  `json:"start_at,omitempty" format:"date-time"`
	CompletedAt     *string  `json:"completed_at,omitempty" format:"date-time"`
	Approval        string   `json:"approval" enum:"none,pending,approved,rejected"`
	ApproverID      *string  `json:"approver_id,omitempty"`
	RejectionReason *string  `json:"rejection_reason,omitempty"`
	AssigneeID      *string  `json:"assignee_id,omitempty"`
	CreatedBy       string   `json:"created_by"`
	Tags            []string `json:"tags,omitempty"`
	EstimatedHours  *float64 `json:"estimated_hours,omitempty"`
	Color           string   `json:"color,omitempty"`

	RecurrenceRule     string  `json:"recurrence_rule,omitempty" enum:",daily,weekly,monthly"`
	NextOccurrence     *string `json:"next_occurrence,omitempty"`
	OccurrencesCreated int     `json:"occurrences_created,omitempty"`
	MaxOccurrences     *int    `json:"max_occurrences,omitempty"`

	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type Subtask struct {
	ID         string  `json:"id"`
	TaskID     string  `json:"task_id"`
	Title      string  `json:"title"`
	Done       bool    `json:"done"`
	Position   int     `json:"position"`
	AssigneeID *string `json:"assignee_id,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	UpdatedAt  string  `json:"updated_at" format:"date-time"`
}

type TaskAssignment struct {
	TaskID    string `json:"task_id"`
	ProfileID string `json:"profile_id"`
	Role      string `json:"role" enum:"owner,assignee,reviewer,collaborator"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Dependency edge types; finish-to-start is the default.
const (
	DepFinishToStart  = "finish_to_start"
	DepStartToStart   = "start_to_start"
	DepFinishToFinish = "finish_to_finish"
	DepStartToFinish  = "start_to_finish"
)

type TaskDependency struct {
	BlockerID string `json:"blocker_id"`
	BlockedID string `json:"blocked_id"`
	Type      string `json:"type" enum:"finish_to_start,start_to_start,finish_to_finish,start_to_finish"`
	LagDays   int    `json:"lag_days"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Comment struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	ProjectID string `json:"project_id"`
	AuthorID  string `json:"author_id"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type Attachment struct {
	ID         string  `json:"id"`
	TaskID     *string `json:"task_id,omitempty"`
	CommentID  *string `json:"comment_id,omitempty"`
	FileRef    string  `json:"file_ref"`
	UploaderID string  `json:"uploader_id"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

type TimeEntry struct {
	ID              string  `json:"id"`
	TaskID          string  `json:"task_id"`
	ProfileID       string  `json:"profile_id"`
	StartedAt       string  `json:"started_at" format:"date-time"`
	EndedAt         *string `json:"ended_at,omitempty" format:"date-time"`
	DurationSeconds *int64  `json:"duration_seconds,omitempty"`
	IsRunning       bool    `json:"is_running"`
}

type Mention struct {
	ID          string  `json:"id"`
	MentionedID string  `json:"mentioned_id"`
	MentionerID string  `json:"mentioner_id"`
	TaskID      *string `json:"task_id,omitempty"`
	CommentID   *string `json:"comment_id,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	ReadAt      *string `json:"read_at,omitempty" format:"date-time"`
}

type AttentionItem struct {
	ID          string  `json:"id"`
	ProfileID   string  `json:"profile_id"`
	Kind        string  `json:"kind" enum:"mention,assignment,due_soon,overdue,comment,status_change,unassignment"`
	Priority    string  `json:"priority" enum:"urgent,high,normal,low"`
	TaskID      *string `json:"task_id,omitempty"`
	CommentID   *string `json:"comment_id,omitempty"`
	MentionID   *string `json:"mention_id,omitempty"`
	ProjectID   *string `json:"project_id,omitempty"`
	ActorID     *string `json:"actor_id,omitempty"`
	Title       string  `json:"title"`
	Body        string  `json:"body,omitempty"`
	DedupKey    *string `json:"dedup_key,omitempty"`
	ReadAt      *string `json:"read_at,omitempty" format:"date-time"`
	DismissedAt *string `json:"dismissed_at,omitempty" format:"date-time"`
	ActionedAt  *string `json:"actioned_at,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

// ActivityEntry rows are append-only and survive deletion of their subject:
// actor and project display fields are copied in at write time.
type ActivityEntry struct {
	ID           int64   `json:"id"`
	ProjectID    string  `json:"project_id"`
	ActorID      string  `json:"actor_id"`
	Kind         string  `json:"kind"`
	TaskID       *string `json:"task_id,omitempty"`
	CommentID    *string `json:"comment_id,omitempty"`
	ActorName    string  `json:"actor_name,omitempty"`
	ActorAvatar  string  `json:"actor_avatar,omitempty"`
	ProjectName  string  `json:"project_name,omitempty"`
	ProjectColor string  `json:"project_color,omitempty"`
	TaskTitle    string  `json:"task_title,omitempty"`
	DetailJSON   string  `json:"detail_json,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

type Notification struct {
	ID          string `json:"id"`
	ProfileID   string `json:"profile_id"`
	Kind        string `json:"kind"`
	Title       string `json:"title"`
	Message     string `json:"message,omitempty"`
	PayloadJSON string `json:"payload_json,omitempty"`
	IsRead      bool   `json:"is_read"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ProfileID string `json:"profile_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
