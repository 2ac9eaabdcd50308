package engine_test

import (
	"testing"

	"teamline/internal/domain"
	"teamline/internal/engine"
	"teamline/internal/fault"
)

func TestDependencyCycleRejected(t *testing.T) {
	env := newTestEnv(t)
	a := env.createTask(t, "editor", engine.CreateTaskInput{Title: "a"})
	b := env.createTask(t, "editor", engine.CreateTaskInput{Title: "b"})
	c := env.createTask(t, "editor", engine.CreateTaskInput{Title: "c"})

	if _, err := env.Engine.AddDependency(env.Ctx, "editor", a.ID, b.ID, "", 0); err != nil {
		t.Fatalf("a->b: %v", err)
	}
	if _, err := env.Engine.AddDependency(env.Ctx, "editor", b.ID, c.ID, "", 0); err != nil {
		t.Fatalf("b->c: %v", err)
	}
	// closing the loop c->a must fail, even transitively
	if _, err := env.Engine.AddDependency(env.Ctx, "editor", c.ID, a.ID, "", 0); !fault.IsCode(err, fault.CodeCycleDetected) {
		t.Fatalf("c->a: got %v, want cycle_detected", err)
	}
	// a task cannot block itself
	if _, err := env.Engine.AddDependency(env.Ctx, "editor", a.ID, a.ID, "", 0); !fault.IsCode(err, fault.CodeInvariant) {
		t.Fatalf("self edge: got %v, want invariant", err)
	}
	// duplicate edges conflict
	if _, err := env.Engine.AddDependency(env.Ctx, "editor", a.ID, b.ID, "", 0); !fault.IsCode(err, fault.CodeConflict) {
		t.Fatalf("duplicate: got %v, want conflict", err)
	}

	blocked, err := env.Engine.TaskIsBlocked(env.Ctx, "editor", b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !blocked {
		t.Fatalf("b should be blocked by a")
	}

	// removing the edge unblocks and allows the former cycle edge
	if err := env.Engine.RemoveDependency(env.Ctx, "editor", a.ID, b.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddDependency(env.Ctx, "editor", c.ID, a.ID, "", 0); err != nil {
		t.Fatalf("c->a after break: %v", err)
	}
}

func TestDependencyCrossProjectRejected(t *testing.T) {
	env := newTestEnv(t)
	other, _, err := env.Engine.CreateProject(env.Ctx, "owner", engine.CreateProjectInput{
		OrgID: env.OrgID, Name: "Elsewhere",
	})
	if err != nil {
		t.Fatal(err)
	}
	local := env.createTask(t, "owner", engine.CreateTaskInput{Title: "here"})
	remote := env.createTask(t, "owner", engine.CreateTaskInput{ProjectID: other.ID, Title: "there"})

	if _, err := env.Engine.AddDependency(env.Ctx, "owner", local.ID, remote.ID, "", 0); !fault.IsCode(err, fault.CodeInvariant) {
		t.Fatalf("cross-project edge: got %v, want invariant", err)
	}
}

func TestDependencyLagValidation(t *testing.T) {
	env := newTestEnv(t)
	a := env.createTask(t, "editor", engine.CreateTaskInput{Title: "a"})
	b := env.createTask(t, "editor", engine.CreateTaskInput{Title: "b"})
	if _, err := env.Engine.AddDependency(env.Ctx, "editor", a.ID, b.ID, "", -1); !fault.IsCode(err, fault.CodeInvariant) {
		t.Fatalf("negative lag: got %v, want invariant", err)
	}
	dep, err := env.Engine.AddDependency(env.Ctx, "editor", a.ID, b.ID, "", 3)
	if err != nil {
		t.Fatal(err)
	}
	if dep.LagDays != 3 {
		t.Fatalf("lag %d, want 3", dep.LagDays)
	}
	if dep.Type != domain.DepFinishToStart {
		t.Fatalf("default type %q", dep.Type)
	}
	if _, err := env.Engine.AddDependency(env.Ctx, "editor", b.ID, a.ID, "sideways", 0); !fault.IsCode(err, fault.CodeInvariant) {
		t.Fatalf("bad type: got %v, want invariant", err)
	}
}
