package engine_test

import (
	"testing"

	"teamline/internal/engine"
	"teamline/internal/fault"
	"teamline/internal/repo"
)

func TestTaskNestingDepth(t *testing.T) {
	env := newTestEnv(t)
	parent := env.createTask(t, "editor", engine.CreateTaskInput{Title: "epic"})
	child := env.createTask(t, "editor", engine.CreateTaskInput{Title: "story", ParentID: &parent.ID})

	_, err := env.Engine.CreateTask(env.Ctx, "editor", engine.CreateTaskInput{
		ProjectID: env.Project.ID, Title: "too deep", ParentID: &child.ID,
	})
	if !fault.IsCode(err, fault.CodeInvariant) {
		t.Fatalf("grandchild: got %v, want invariant", err)
	}
}

func TestAssigneeMustHaveAccess(t *testing.T) {
	env := newTestEnv(t)
	assignee := "mallory"
	_, err := env.Engine.CreateTask(env.Ctx, "editor", engine.CreateTaskInput{
		ProjectID: env.Project.ID, Title: "for an outsider", AssigneeID: &assignee,
	})
	if !fault.IsCode(err, fault.CodeInvariant) {
		t.Fatalf("outsider assignee: got %v, want invariant", err)
	}
}

func TestReorderWithinStage(t *testing.T) {
	env := newTestEnv(t)
	a := env.createTask(t, "editor", engine.CreateTaskInput{Title: "a"})
	b := env.createTask(t, "editor", engine.CreateTaskInput{Title: "b"})
	c := env.createTask(t, "editor", engine.CreateTaskInput{Title: "c"})

	if err := env.Engine.ReorderTask(env.Ctx, "editor", c.ID, 0); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	tasks, err := env.Engine.ListTasks(env.Ctx, "editor", repo.TaskFilters{
		ProjectID: env.Project.ID, StageID: a.StageID,
	})
	if err != nil {
		t.Fatal(err)
	}
	byID := map[string]int{}
	for _, tk := range tasks {
		byID[tk.ID] = tk.Position
	}
	if !(byID[c.ID] < byID[a.ID] && byID[a.ID] < byID[b.ID]) {
		t.Fatalf("order after reorder: c=%d a=%d b=%d", byID[c.ID], byID[a.ID], byID[b.ID])
	}

	// past-the-end index clamps to last
	if err := env.Engine.ReorderTask(env.Ctx, "editor", c.ID, 99); err != nil {
		t.Fatalf("clamp reorder: %v", err)
	}
	if err := env.Engine.ReorderTask(env.Ctx, "editor", c.ID, -1); !fault.IsCode(err, fault.CodeInvariant) {
		t.Fatalf("negative index: got %v, want invariant", err)
	}
}

func TestAssignmentIdempotent(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "editor", engine.CreateTaskInput{Title: "shared"})

	if err := env.Engine.AssignTask(env.Ctx, "editor", task.ID, "reader", "assignee"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := env.Engine.AssignTask(env.Ctx, "editor", task.ID, "reader", "assignee"); err != nil {
		t.Fatalf("repeat assign: %v", err)
	}
	got, _, assignments, err := env.Engine.GetTask(env.Ctx, "editor", task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(assignments) != 1 {
		t.Fatalf("%d assignment rows after repeat, want 1", len(assignments))
	}
	if got.AssigneeID == nil || *got.AssigneeID != "reader" {
		t.Fatalf("primary assignee not set")
	}

	// unassigning someone who was never assigned is a no-op
	if err := env.Engine.UnassignTask(env.Ctx, "editor", task.ID, "owner"); err != nil {
		t.Fatalf("unassign stranger: %v", err)
	}
	if err := env.Engine.UnassignTask(env.Ctx, "editor", task.ID, "reader"); err != nil {
		t.Fatalf("unassign: %v", err)
	}
	got, _, _, err = env.Engine.GetTask(env.Ctx, "editor", task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AssigneeID != nil {
		t.Fatalf("primary assignee not cleared")
	}
}

func TestSubtasks(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "editor", engine.CreateTaskInput{Title: "with steps"})
	sub, err := env.Engine.AddSubtask(env.Ctx, "editor", task.ID, "step one", nil)
	if err != nil {
		t.Fatalf("add subtask: %v", err)
	}
	sub, err = env.Engine.SetSubtaskDone(env.Ctx, "editor", sub.ID, true)
	if err != nil {
		t.Fatalf("complete subtask: %v", err)
	}
	if !sub.Done {
		t.Fatalf("subtask not done")
	}
	if err := env.Engine.DeleteSubtask(env.Ctx, "editor", sub.ID); err != nil {
		t.Fatalf("delete subtask: %v", err)
	}
}

func TestUpdateSubtask(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "editor", engine.CreateTaskInput{Title: "with steps"})
	sub, err := env.Engine.AddSubtask(env.Ctx, "editor", task.ID, "draft", nil)
	if err != nil {
		t.Fatal(err)
	}

	title := "redraft"
	assignee := "reader"
	pos := 5
	sub, err = env.Engine.UpdateSubtask(env.Ctx, "editor", sub.ID, engine.UpdateSubtaskInput{
		Title: &title, AssigneeID: &assignee, AssigneeIDSet: true, Position: &pos,
	})
	if err != nil {
		t.Fatalf("update subtask: %v", err)
	}
	if sub.Title != "redraft" || sub.Position != 5 {
		t.Fatalf("subtask not updated: %+v", sub)
	}
	if sub.AssigneeID == nil || *sub.AssigneeID != "reader" {
		t.Fatalf("assignee not set: %+v", sub)
	}

	// unassign without touching the rest
	sub, err = env.Engine.UpdateSubtask(env.Ctx, "editor", sub.ID, engine.UpdateSubtaskInput{AssigneeIDSet: true})
	if err != nil {
		t.Fatal(err)
	}
	if sub.AssigneeID != nil || sub.Title != "redraft" {
		t.Fatalf("unassign changed too much: %+v", sub)
	}

	// outsiders cannot be put on a checklist item
	outsider := "mallory"
	if _, err := env.Engine.UpdateSubtask(env.Ctx, "editor", sub.ID, engine.UpdateSubtaskInput{
		AssigneeID: &outsider, AssigneeIDSet: true,
	}); !fault.IsCode(err, fault.CodeInvariant) {
		t.Fatalf("outsider assignee: got %v, want invariant", err)
	}
	empty := ""
	if _, err := env.Engine.UpdateSubtask(env.Ctx, "editor", sub.ID, engine.UpdateSubtaskInput{Title: &empty}); !fault.IsCode(err, fault.CodeInvariant) {
		t.Fatalf("empty title: got %v, want invariant", err)
	}
}

func TestUpdateTaskClearsOptionalFields(t *testing.T) {
	env := newTestEnv(t)
	due := "2026-03-05T00:00:00Z"
	task := env.createTask(t, "editor", engine.CreateTaskInput{Title: "due soon", DueAt: &due})

	updated, err := env.Engine.UpdateTask(env.Ctx, "editor", task.ID, engine.UpdateTaskInput{
		DueAtSet: true, DueAt: nil,
	})
	if err != nil {
		t.Fatalf("clear due: %v", err)
	}
	if updated.DueAt != nil {
		t.Fatalf("due date not cleared")
	}

	// an update that does not mention the field leaves it alone
	title := "renamed"
	task = env.createTask(t, "editor", engine.CreateTaskInput{Title: "keep due", DueAt: &due})
	updated, err = env.Engine.UpdateTask(env.Ctx, "editor", task.ID, engine.UpdateTaskInput{Title: &title})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Title != "renamed" || updated.DueAt == nil {
		t.Fatalf("partial update touched unrelated fields: %+v", updated)
	}
}

func TestActivitySurvivesTaskDeletion(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "editor", engine.CreateTaskInput{Title: "short lived"})
	if err := env.Engine.DeleteTask(env.Ctx, "editor", task.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	entries, err := env.Engine.ListActivity(env.Ctx, "editor", repo.ActivityFilters{ProjectID: env.Project.ID})
	if err != nil {
		t.Fatal(err)
	}
	var created, deleted bool
	for _, a := range entries {
		if a.TaskID != nil && *a.TaskID == task.ID {
			if a.TaskTitle != "short lived" {
				t.Fatalf("activity lost the task title: %+v", a)
			}
			switch a.Kind {
			case "task.created":
				created = true
			case "task.deleted":
				deleted = true
			}
		}
	}
	if !created || !deleted {
		t.Fatalf("trail incomplete: created=%v deleted=%v", created, deleted)
	}
}

func TestSingleRunningTimer(t *testing.T) {
	env := newTestEnv(t)
	first := env.createTask(t, "editor", engine.CreateTaskInput{Title: "one"})
	second := env.createTask(t, "editor", engine.CreateTaskInput{Title: "two"})

	if _, err := env.Engine.StartTimer(env.Ctx, "editor", first.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	// starting on another task displaces the running entry
	if _, err := env.Engine.StartTimer(env.Ctx, "editor", second.ID); err != nil {
		t.Fatalf("restart: %v", err)
	}
	running, ok, err := env.Engine.RunningTimer(env.Ctx, "editor")
	if err != nil || !ok {
		t.Fatalf("running: ok=%v err=%v", ok, err)
	}
	if running.TaskID != second.ID {
		t.Fatalf("running on %s, want %s", running.TaskID, second.ID)
	}

	stopped, err := env.Engine.StopTimer(env.Ctx, "editor")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stopped.IsRunning {
		t.Fatalf("stopped entry still running")
	}
	if _, err := env.Engine.StopTimer(env.Ctx, "editor"); !fault.IsCode(err, fault.CodeConflict) {
		t.Fatalf("stop idle: got %v, want conflict", err)
	}

	entries, err := env.Engine.ListTaskTime(env.Ctx, "editor", first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].IsRunning {
		t.Fatalf("displaced entry not closed: %+v", entries)
	}
}
