package engine_test

import (
	"testing"

	"teamline/internal/domain"
	"teamline/internal/engine"
)

func itemsOfKind(items []domain.AttentionItem, kind string) []domain.AttentionItem {
	var out []domain.AttentionItem
	for _, it := range items {
		if it.Kind == kind {
			out = append(out, it)
		}
	}
	return out
}

func TestMentionCreatesInboxItem(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "owner", engine.CreateTaskInput{Title: "review this"})

	comment, err := env.Engine.AddComment(env.Ctx, "owner", task.ID, "ptal @editor")
	if err != nil {
		t.Fatalf("comment: %v", err)
	}

	items, err := env.Engine.ListInbox(env.Ctx, "editor", false, 0)
	if err != nil {
		t.Fatal(err)
	}
	mentions := itemsOfKind(items, "mention")
	if len(mentions) != 1 {
		t.Fatalf("%d mention items, want 1", len(mentions))
	}
	if mentions[0].Priority != "urgent" {
		t.Fatalf("mention priority %q", mentions[0].Priority)
	}

	// re-saving the comment must not mint a second mention
	if _, err := env.Engine.UpdateComment(env.Ctx, "owner", comment.ID, "ptal again @editor"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	items, err = env.Engine.ListInbox(env.Ctx, "editor", false, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(itemsOfKind(items, "mention")); got != 1 {
		t.Fatalf("%d mention items after edit, want 1", got)
	}
}

func TestMentionSkipsSelfAndStrangers(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "owner", engine.CreateTaskInput{Title: "solo"})

	// self-mentions, unknown handles and non-members are all dropped
	if _, err := env.Engine.AddComment(env.Ctx, "owner", task.ID, "cc @owner @nobody @mallory"); err != nil {
		t.Fatalf("comment: %v", err)
	}
	for _, profile := range []string{"owner", "mallory"} {
		items, err := env.Engine.ListInbox(env.Ctx, profile, false, 0)
		if err != nil {
			t.Fatal(err)
		}
		if got := len(itemsOfKind(items, "mention")); got != 0 {
			t.Fatalf("%s got %d mention items, want 0", profile, got)
		}
	}
}

func TestCommentAttentionDedupsPerHour(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "owner", engine.CreateTaskInput{Title: "chatty"})

	if _, err := env.Engine.AddComment(env.Ctx, "editor", task.ID, "first"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddComment(env.Ctx, "editor", task.ID, "second"); err != nil {
		t.Fatal(err)
	}
	items, err := env.Engine.ListInbox(env.Ctx, "owner", false, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(itemsOfKind(items, "comment")); got != 1 {
		t.Fatalf("%d comment items within the hour, want 1", got)
	}
}

func TestAssignmentAttention(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "owner", engine.CreateTaskInput{Title: "handoff"})

	if err := env.Engine.AssignTask(env.Ctx, "owner", task.ID, "editor", "assignee"); err != nil {
		t.Fatal(err)
	}
	// repeated assignment folds into the one open item
	if err := env.Engine.AssignTask(env.Ctx, "owner", task.ID, "editor", "assignee"); err != nil {
		t.Fatal(err)
	}
	items, err := env.Engine.ListInbox(env.Ctx, "editor", false, 0)
	if err != nil {
		t.Fatal(err)
	}
	assigned := itemsOfKind(items, "assignment")
	if len(assigned) != 1 {
		t.Fatalf("%d assignment items, want 1", len(assigned))
	}
	if assigned[0].Priority != "high" {
		t.Fatalf("assignment priority = %q, want high", assigned[0].Priority)
	}
	// assigning yourself stays silent
	self := env.createTask(t, "editor", engine.CreateTaskInput{Title: "mine"})
	if err := env.Engine.AssignTask(env.Ctx, "editor", self.ID, "editor", "assignee"); err != nil {
		t.Fatal(err)
	}
	items, _ = env.Engine.ListInbox(env.Ctx, "editor", false, 0)
	for _, it := range items {
		if it.Kind == "assignment" && it.TaskID != nil && *it.TaskID == self.ID {
			t.Fatalf("self-assignment produced an item")
		}
	}
}

func TestInboxReadLifecycle(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "owner", engine.CreateTaskInput{Title: "lifecycle"})
	if _, err := env.Engine.AddComment(env.Ctx, "owner", task.ID, "hey @editor, also @reader"); err != nil {
		t.Fatal(err)
	}

	n, err := env.Engine.InboxUnreadCount(env.Ctx, "editor")
	if err != nil {
		t.Fatal(err)
	}
	if n == 0 {
		t.Fatalf("unread count 0 after mention")
	}

	items, err := env.Engine.ListInbox(env.Ctx, "editor", true, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.MarkInboxRead(env.Ctx, "editor", items[0].ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	unread, err := env.Engine.ListInbox(env.Ctx, "editor", true, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(unread) != len(items)-1 {
		t.Fatalf("unread %d after read, want %d", len(unread), len(items)-1)
	}

	marked, err := env.Engine.MarkAllInboxRead(env.Ctx, "reader")
	if err != nil {
		t.Fatal(err)
	}
	if marked == 0 {
		t.Fatalf("mark-all touched nothing")
	}
	n, err = env.Engine.InboxUnreadCount(env.Ctx, "reader")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("reader unread %d after mark-all", n)
	}
}

func TestStatusChangeAttention(t *testing.T) {
	env := newTestEnv(t)
	review := env.stage(t, "Review")
	task := env.createTask(t, "owner", engine.CreateTaskInput{Title: "watched"})

	if _, err := env.Engine.MoveTaskToStage(env.Ctx, "editor", task.ID, review.ID); err != nil {
		t.Fatal(err)
	}
	items, err := env.Engine.ListInbox(env.Ctx, "owner", false, 0)
	if err != nil {
		t.Fatal(err)
	}
	changes := itemsOfKind(items, "status_change")
	if len(changes) != 1 {
		t.Fatalf("%d status items for the creator, want 1", len(changes))
	}
	// the mover gets nothing
	items, _ = env.Engine.ListInbox(env.Ctx, "editor", false, 0)
	if got := len(itemsOfKind(items, "status_change")); got != 0 {
		t.Fatalf("mover received %d status items", got)
	}
}
