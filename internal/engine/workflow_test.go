package engine_test

import (
	"testing"

	"teamline/internal/config"
	"teamline/internal/engine"
	"teamline/internal/fault"
	"teamline/internal/repo"
)

func TestApprovalRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	done := env.doneStage(t)
	review := env.stage(t, "Review")
	task := env.createTask(t, "editor", engine.CreateTaskInput{Title: "ship feature"})

	res, err := env.Engine.MoveTaskToStage(env.Ctx, "editor", task.ID, done.ID)
	if err != nil {
		t.Fatalf("move to done: %v", err)
	}
	if res.Task.Approval != "pending" {
		t.Fatalf("after done move approval = %q, want pending", res.Task.Approval)
	}
	if res.Task.CompletedAt != nil {
		t.Fatalf("pending task already completed")
	}

	approved, err := env.Engine.ApproveTask(env.Ctx, "owner", task.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Approval != "approved" || approved.CompletedAt == nil {
		t.Fatalf("approved = %q completed=%v", approved.Approval, approved.CompletedAt)
	}
	if approved.ApproverID == nil || *approved.ApproverID != "owner" {
		t.Fatalf("approver not recorded")
	}

	// a decided task cannot be decided again
	if _, err := env.Engine.ApproveTask(env.Ctx, "owner", task.ID); !fault.IsCode(err, fault.CodeApprovalState) {
		t.Fatalf("double approve: got %v, want approval_state", err)
	}
	if _, err := env.Engine.RejectTask(env.Ctx, "owner", task.ID, "late", ""); !fault.IsCode(err, fault.CodeApprovalState) {
		t.Fatalf("reject after approve: got %v, want approval_state", err)
	}

	// an approved task keeps its approval when pulled back onto the board
	res, err = env.Engine.MoveTaskToStage(env.Ctx, "editor", task.ID, review.ID)
	if err != nil {
		t.Fatalf("move out of done: %v", err)
	}
	if res.Task.Approval != "approved" || res.Task.CompletedAt == nil || res.Task.ApproverID == nil {
		t.Fatalf("approval lost on leaving done: %+v", res.Task)
	}

	// and returning to done does not reopen the review
	res, err = env.Engine.MoveTaskToStage(env.Ctx, "editor", task.ID, done.ID)
	if err != nil {
		t.Fatalf("move back to done: %v", err)
	}
	if res.Task.Approval != "approved" {
		t.Fatalf("re-entering done reset approval to %q", res.Task.Approval)
	}
}

func TestPendingClearsOnLeavingDone(t *testing.T) {
	env := newTestEnv(t)
	done := env.doneStage(t)
	review := env.stage(t, "Review")
	task := env.createTask(t, "editor", engine.CreateTaskInput{Title: "not ready"})

	if _, err := env.Engine.MoveTaskToStage(env.Ctx, "editor", task.ID, done.ID); err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.MoveTaskToStage(env.Ctx, "editor", task.ID, review.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Task.Approval != "none" || res.Task.CompletedAt != nil || res.Task.ApproverID != nil {
		t.Fatalf("pending not cleared on leaving done: %+v", res.Task)
	}
}

func TestRejectReturnsTask(t *testing.T) {
	env := newTestEnv(t)
	done := env.doneStage(t)
	backlog := env.stage(t, "Backlog")
	progress := env.stage(t, "In Progress")
	task := env.createTask(t, "editor", engine.CreateTaskInput{Title: "redo me", StageID: progress.ID})

	if _, err := env.Engine.MoveTaskToStage(env.Ctx, "editor", task.ID, done.ID); err != nil {
		t.Fatal(err)
	}
	rejected, err := env.Engine.RejectTask(env.Ctx, "owner", task.ID, "tests missing", progress.ID)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.StageID != progress.ID {
		t.Fatalf("rejected task in stage %s, want %s", rejected.StageID, progress.ID)
	}
	if rejected.Approval != "rejected" || rejected.RejectionReason == nil || *rejected.RejectionReason != "tests missing" {
		t.Fatalf("rejection state wrong: %+v", rejected)
	}

	// rejecting into a done stage is not a thing
	if _, err := env.Engine.MoveTaskToStage(env.Ctx, "editor", task.ID, done.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RejectTask(env.Ctx, "owner", task.ID, "nope", done.ID); !fault.IsCode(err, fault.CodeInvariant) {
		t.Fatalf("reject to done stage: got %v, want invariant", err)
	}

	// empty return stage falls back to the first open stage
	back, err := env.Engine.RejectTask(env.Ctx, "owner", task.ID, "still broken", "")
	if err != nil {
		t.Fatal(err)
	}
	if back.StageID != backlog.ID {
		t.Fatalf("default return stage %s, want %s", back.StageID, backlog.ID)
	}

	// re-entering done restarts the approval cycle fresh
	res, err := env.Engine.MoveTaskToStage(env.Ctx, "editor", task.ID, done.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Task.Approval != "pending" || res.Task.RejectionReason != nil {
		t.Fatalf("re-entry state: %+v", res.Task)
	}
}

func TestApproveOutsideDoneStage(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "editor", engine.CreateTaskInput{Title: "not done"})
	if _, err := env.Engine.ApproveTask(env.Ctx, "owner", task.ID); !fault.IsCode(err, fault.CodeApprovalState) {
		t.Fatalf("approve open task: got %v, want approval_state", err)
	}
}

func wipProject(t *testing.T, env *testEnv, limitType string) (string, string, string) {
	t.Helper()
	one := 1
	project, stages, err := env.Engine.CreateProject(env.Ctx, "owner", engine.CreateProjectInput{
		OrgID: env.OrgID,
		Name:  "WIP " + limitType,
		Stages: []config.StageTemplate{
			{Name: "Todo"},
			{Name: "Doing", WipLimit: &one, WipLimitType: limitType},
			{Name: "Done", IsDone: true},
		},
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return project.ID, stages[0].ID, stages[1].ID
}

func TestWipStrictBlocks(t *testing.T) {
	env := newTestEnv(t)
	projectID, _, doing := wipProject(t, env, "strict")
	first := env.createTask(t, "owner", engine.CreateTaskInput{ProjectID: projectID, Title: "one"})
	second := env.createTask(t, "owner", engine.CreateTaskInput{ProjectID: projectID, Title: "two"})

	if _, err := env.Engine.MoveTaskToStage(env.Ctx, "owner", first.ID, doing); err != nil {
		t.Fatalf("first move: %v", err)
	}
	if _, err := env.Engine.MoveTaskToStage(env.Ctx, "owner", second.ID, doing); !fault.IsCode(err, fault.CodeWipExceeded) {
		t.Fatalf("second move: got %v, want wip_exceeded", err)
	}

	// child tasks do not count against the limit
	child := env.createTask(t, "owner", engine.CreateTaskInput{
		ProjectID: projectID, Title: "sub", ParentID: &first.ID,
	})
	if _, err := env.Engine.MoveTaskToStage(env.Ctx, "owner", child.ID, doing); err != nil {
		t.Fatalf("child move: %v", err)
	}
}

func TestWipWarningFlagsButAllows(t *testing.T) {
	env := newTestEnv(t)
	projectID, _, doing := wipProject(t, env, "warning")
	first := env.createTask(t, "owner", engine.CreateTaskInput{ProjectID: projectID, Title: "one"})
	second := env.createTask(t, "owner", engine.CreateTaskInput{ProjectID: projectID, Title: "two"})

	res, err := env.Engine.MoveTaskToStage(env.Ctx, "owner", first.ID, doing)
	if err != nil || res.WipWarning != "" {
		t.Fatalf("first move: err=%v warning=%q", err, res.WipWarning)
	}
	res, err = env.Engine.MoveTaskToStage(env.Ctx, "owner", second.ID, doing)
	if err != nil {
		t.Fatalf("second move: %v", err)
	}
	if res.WipWarning == "" {
		t.Fatalf("expected a wip warning over the limit")
	}
	if res.Task.StageID != doing {
		t.Fatalf("warning should not block the move")
	}
}

func TestRecurringTaskSpawnsOnApproval(t *testing.T) {
	env := newTestEnv(t)
	done := env.doneStage(t)
	backlog := env.stage(t, "Backlog")
	due := "2026-03-02T09:00:00Z"
	two := 2
	task := env.createTask(t, "owner", engine.CreateTaskInput{
		Title:          "weekly report",
		DueAt:          &due,
		RecurrenceRule: "weekly",
		MaxOccurrences: &two,
	})
	if _, err := env.Engine.MoveTaskToStage(env.Ctx, "owner", task.ID, done.ID); err != nil {
		t.Fatal(err)
	}
	approved, err := env.Engine.ApproveTask(env.Ctx, "owner", task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if approved.NextOccurrence == nil || *approved.NextOccurrence != "2026-03-09T09:00:00Z" {
		t.Fatalf("completed task next occurrence = %v, want 2026-03-09", approved.NextOccurrence)
	}

	tasks, err := env.Engine.ListTasks(env.Ctx, "owner", repo.TaskFilters{ProjectID: env.Project.ID, StageID: backlog.ID})
	if err != nil {
		t.Fatal(err)
	}
	var next *struct {
		due  string
		occ  int
		rule string
		id   string
	}
	for _, tk := range tasks {
		if tk.Title == "weekly report" && tk.ID != task.ID {
			next = &struct {
				due  string
				occ  int
				rule string
				id   string
			}{due: *tk.DueAt, occ: tk.OccurrencesCreated, rule: tk.RecurrenceRule, id: tk.ID}
		}
	}
	if next == nil {
		t.Fatalf("no next occurrence spawned")
	}
	if next.due != "2026-03-09T09:00:00Z" {
		t.Fatalf("next due %s, want +7d", next.due)
	}
	if next.occ != 1 || next.rule != "weekly" {
		t.Fatalf("occurrence bookkeeping: occ=%d rule=%q", next.occ, next.rule)
	}

	// the second occurrence hits MaxOccurrences and the chain stops
	if _, err := env.Engine.MoveTaskToStage(env.Ctx, "owner", next.id, done.ID); err != nil {
		t.Fatal(err)
	}
	last, err := env.Engine.ApproveTask(env.Ctx, "owner", next.id)
	if err != nil {
		t.Fatal(err)
	}
	if last.NextOccurrence != nil {
		t.Fatalf("exhausted chain still schedules %s", *last.NextOccurrence)
	}
	tasks, err = env.Engine.ListTasks(env.Ctx, "owner", repo.TaskFilters{ProjectID: env.Project.ID})
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for _, tk := range tasks {
		if tk.Title == "weekly report" {
			count++
		}
	}
	if count != 2 {
		t.Fatalf("got %d occurrences, want exactly 2", count)
	}
}
