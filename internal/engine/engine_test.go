package engine_test

import (
	"context"
	"testing"
	"time"

	"teamline/internal/config"
	"teamline/internal/db"
	"teamline/internal/domain"
	"teamline/internal/engine"
	"teamline/internal/fault"
	"teamline/internal/migrate"
)

type testEnv struct {
	Engine  engine.Engine
	Ctx     context.Context
	OrgID   string
	Project domain.Project
	Stages  []domain.Stage
}

// newTestEnv builds a workspace with one org, one project seeded with the
// default workflow, and four profiles: owner, editor, reader and mallory
// (no membership at all).
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if _, err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	for _, id := range []string{"owner", "editor", "reader", "mallory"} {
		if _, err := eng.UpsertProfileFromIdentity(ctx, id, engine.IdentityClaims{
			Email:       id + "@example.com",
			DisplayName: id,
		}); err != nil {
			t.Fatalf("seed profile %s: %v", id, err)
		}
	}
	org, err := eng.CreateOrg(ctx, "owner", "Acme", "acme")
	if err != nil {
		t.Fatalf("create org: %v", err)
	}
	project, stages, err := eng.CreateProject(ctx, "owner", engine.CreateProjectInput{
		OrgID: org.ID, Name: "Platform",
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if err := eng.SetProjectMember(ctx, "owner", project.ID, "editor", "editor"); err != nil {
		t.Fatalf("add editor: %v", err)
	}
	if err := eng.SetProjectMember(ctx, "owner", project.ID, "reader", "reader"); err != nil {
		t.Fatalf("add reader: %v", err)
	}
	return &testEnv{Engine: eng, Ctx: ctx, OrgID: org.ID, Project: project, Stages: stages}
}

func (env *testEnv) stage(t *testing.T, name string) domain.Stage {
	t.Helper()
	for _, s := range env.Stages {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("no stage named %q", name)
	return domain.Stage{}
}

func (env *testEnv) doneStage(t *testing.T) domain.Stage {
	t.Helper()
	for _, s := range env.Stages {
		if s.IsDone {
			return s
		}
	}
	t.Fatalf("no done stage")
	return domain.Stage{}
}

func (env *testEnv) createTask(t *testing.T, actor string, in engine.CreateTaskInput) domain.Task {
	t.Helper()
	if in.ProjectID == "" {
		in.ProjectID = env.Project.ID
	}
	task, err := env.Engine.CreateTask(env.Ctx, actor, in)
	if err != nil {
		t.Fatalf("create task %q: %v", in.Title, err)
	}
	return task
}

func TestNonMemberSeesNothing(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "owner", engine.CreateTaskInput{Title: "secret"})

	// reads by a complete outsider come back as not_found, never forbidden
	if _, _, err := env.Engine.GetProject(env.Ctx, "mallory", env.Project.ID); !fault.IsCode(err, fault.CodeNotFound) {
		t.Fatalf("project read by outsider: got %v, want not_found", err)
	}
	if _, _, _, err := env.Engine.GetTask(env.Ctx, "mallory", task.ID); !fault.IsCode(err, fault.CodeNotFound) {
		t.Fatalf("task read by outsider: got %v, want not_found", err)
	}
	if _, err := env.Engine.ListComments(env.Ctx, "mallory", task.ID); !fault.IsCode(err, fault.CodeNotFound) {
		t.Fatalf("comments by outsider: got %v, want not_found", err)
	}

	projects, err := env.Engine.ListProjects(env.Ctx, "mallory")
	if err != nil {
		t.Fatalf("list projects: %v", err)
	}
	if len(projects) != 0 {
		t.Fatalf("outsider sees %d projects", len(projects))
	}

	// write attempts are refused outright, not hidden
	title := "renamed"
	if _, err := env.Engine.UpdateTask(env.Ctx, "mallory", task.ID, engine.UpdateTaskInput{Title: &title}); !fault.IsCode(err, fault.CodeForbidden) {
		t.Fatalf("task update by outsider: got %v, want forbidden", err)
	}
	if _, err := env.Engine.AddComment(env.Ctx, "mallory", task.ID, "hi"); !fault.IsCode(err, fault.CodeForbidden) {
		t.Fatalf("comment by outsider: got %v, want forbidden", err)
	}
	if err := env.Engine.DeleteTask(env.Ctx, "mallory", task.ID); !fault.IsCode(err, fault.CodeForbidden) {
		t.Fatalf("task delete by outsider: got %v, want forbidden", err)
	}
}

func TestReaderCannotWrite(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "owner", engine.CreateTaskInput{Title: "work"})

	_, err := env.Engine.CreateTask(env.Ctx, "reader", engine.CreateTaskInput{
		ProjectID: env.Project.ID, Title: "nope",
	})
	if !fault.IsCode(err, fault.CodeForbidden) {
		t.Fatalf("create by reader: got %v, want forbidden", err)
	}
	if _, err := env.Engine.MoveTaskToStage(env.Ctx, "reader", task.ID, env.stage(t, "Review").ID); !fault.IsCode(err, fault.CodeForbidden) {
		t.Fatalf("move by reader: got %v, want forbidden", err)
	}
	if _, err := env.Engine.AddComment(env.Ctx, "reader", task.ID, "hi"); !fault.IsCode(err, fault.CodeForbidden) {
		t.Fatalf("comment by reader: got %v, want forbidden", err)
	}

	// but reads work
	if _, _, _, err := env.Engine.GetTask(env.Ctx, "reader", task.ID); err != nil {
		t.Fatalf("read by reader: %v", err)
	}
}

func TestEditorCannotAdministrate(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.SetProjectMember(env.Ctx, "editor", env.Project.ID, "mallory", "editor"); !fault.IsCode(err, fault.CodeForbidden) {
		t.Fatalf("member grant by editor: got %v, want forbidden", err)
	}
	done := env.doneStage(t)
	task := env.createTask(t, "editor", engine.CreateTaskInput{Title: "ship it"})
	if _, err := env.Engine.MoveTaskToStage(env.Ctx, "editor", task.ID, done.ID); err != nil {
		t.Fatalf("move to done: %v", err)
	}
	if _, err := env.Engine.ApproveTask(env.Ctx, "editor", task.ID); !fault.IsCode(err, fault.CodeForbidden) {
		t.Fatalf("approve by editor: got %v, want forbidden", err)
	}
}

func TestOrgRoleProjection(t *testing.T) {
	env := newTestEnv(t)
	// an org member with no direct project edge still reads the project
	if _, err := env.Engine.UpsertProfileFromIdentity(env.Ctx, "casey", engine.IdentityClaims{Email: "casey@example.com"}); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.SetOrgMember(env.Ctx, "owner", env.OrgID, "casey", "member"); err != nil {
		t.Fatalf("add org member: %v", err)
	}
	if _, _, err := env.Engine.GetProject(env.Ctx, "casey", env.Project.ID); err != nil {
		t.Fatalf("org member project read: %v", err)
	}
	// plain membership projects to reader, so writes stay forbidden
	_, err := env.Engine.CreateTask(env.Ctx, "casey", engine.CreateTaskInput{
		ProjectID: env.Project.ID, Title: "nope",
	})
	if !fault.IsCode(err, fault.CodeForbidden) {
		t.Fatalf("create by org member: got %v, want forbidden", err)
	}
	// org admins project to project admin
	if err := env.Engine.SetOrgMember(env.Ctx, "owner", env.OrgID, "casey", "admin"); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.SetProjectMember(env.Ctx, "casey", env.Project.ID, "mallory", "reader"); err != nil {
		t.Fatalf("member grant by org admin: %v", err)
	}
}

func TestLastOwnerGuard(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.SetOrgMember(env.Ctx, "owner", env.OrgID, "owner", "admin"); !fault.IsCode(err, fault.CodeLastOwner) {
		t.Fatalf("demote sole org owner: got %v, want last_owner", err)
	}
	if err := env.Engine.RemoveOrgMember(env.Ctx, "owner", env.OrgID, "owner"); !fault.IsCode(err, fault.CodeLastOwner) {
		t.Fatalf("remove sole org owner: got %v, want last_owner", err)
	}
	// with a second owner the demotion goes through
	if err := env.Engine.SetOrgMember(env.Ctx, "owner", env.OrgID, "editor", "owner"); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.SetOrgMember(env.Ctx, "owner", env.OrgID, "owner", "admin"); err != nil {
		t.Fatalf("demote with co-owner: %v", err)
	}

	if err := env.Engine.SetProjectMember(env.Ctx, "owner", env.Project.ID, "owner", "admin"); !fault.IsCode(err, fault.CodeLastOwner) {
		t.Fatalf("demote sole project owner: got %v, want last_owner", err)
	}
}

func TestOrgSlugUniqueness(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateOrg(env.Ctx, "editor", "Other Acme", "acme"); !fault.IsCode(err, fault.CodeConflict) {
		t.Fatalf("duplicate slug: got %v, want conflict", err)
	}
	if _, err := env.Engine.CreateOrg(env.Ctx, "editor", "Bad Slug", "Not A Slug!"); !fault.IsCode(err, fault.CodeInvariant) {
		t.Fatalf("invalid slug: got %v, want invariant", err)
	}
}

func TestProfileHandleCollision(t *testing.T) {
	env := newTestEnv(t)
	p1, err := env.Engine.UpsertProfileFromIdentity(env.Ctx, "ext-1", engine.IdentityClaims{Email: "sam@foo.com"})
	if err != nil {
		t.Fatal(err)
	}
	p2, err := env.Engine.UpsertProfileFromIdentity(env.Ctx, "ext-2", engine.IdentityClaims{Email: "sam@bar.com"})
	if err != nil {
		t.Fatal(err)
	}
	if p1.Handle == p2.Handle {
		t.Fatalf("handle collision not resolved: %q", p1.Handle)
	}
	// re-observation keeps the same profile
	again, err := env.Engine.UpsertProfileFromIdentity(env.Ctx, "ext-1", engine.IdentityClaims{Email: "sam@foo.com", DisplayName: "Sam"})
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != p1.ID {
		t.Fatalf("re-upsert created a new profile")
	}
	if again.DisplayName != "Sam" {
		t.Fatalf("claims not refreshed: %q", again.DisplayName)
	}
}
