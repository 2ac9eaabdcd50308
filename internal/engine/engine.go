// Package engine implements the authorization and data-integrity core.
// Every mutating operation receives the verified caller id, runs its
// authorization predicate, domain rules and derived-state writes inside a
// single transaction and publishes committed events to the bus afterwards.
package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"teamline/internal/config"
	"teamline/internal/domain"
	"teamline/internal/engine/authz"
	"teamline/internal/events"
	"teamline/internal/fault"
	"teamline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Authz  authz.Service
	Events events.Writer
	Bus    *events.Bus
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Authz:  authz.Service{Repo: r},
		Events: events.Writer{},
		Bus:    events.NewBus(),
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

func newID() string {
	return uuid.New().String()
}

// emit appends an event row inside the transaction and records it for
// post-commit publication.
func (e Engine) emit(ctx context.Context, tx *sql.Tx, pending *[]events.Event, ev events.Event) error {
	w := e.Events
	if w.Now == nil {
		w.Now = e.Now
	}
	ev, err := w.Append(ctx, tx, ev)
	if err != nil {
		return err
	}
	*pending = append(*pending, ev)
	return nil
}

// publish hands committed events to subscribers; never called before commit.
func (e Engine) publish(evs []events.Event) {
	if e.Bus == nil || len(evs) == 0 {
		return
	}
	e.Bus.Publish(evs...)
}

// logActivity appends an audit row with display fields denormalized from
// the current actor and project so the row survives their deletion.
func (e Engine) logActivity(ctx context.Context, tx *sql.Tx, projectID, actorID, kind string, task *domain.Task, commentID *string, detail map[string]any) error {
	entry := domain.ActivityEntry{
		ProjectID: projectID,
		ActorID:   actorID,
		Kind:      kind,
		CommentID: commentID,
		CreatedAt: e.nowStr(),
	}
	if task != nil {
		entry.TaskID = &task.ID
		entry.TaskTitle = task.Title
	}
	if actor, err := e.Repo.GetProfile(ctx, tx, actorID); err == nil {
		entry.ActorName = actor.DisplayName
		if entry.ActorName == "" {
			entry.ActorName = actor.Handle
		}
		entry.ActorAvatar = actor.AvatarURL
	}
	if p, err := e.Repo.GetProject(ctx, tx, projectID); err == nil {
		entry.ProjectName = p.Name
		entry.ProjectColor = p.Color
	}
	if len(detail) > 0 {
		b, err := json.Marshal(detail)
		if err != nil {
			return err
		}
		entry.DetailJSON = string(b)
	}
	return e.Repo.AppendActivity(ctx, tx, entry)
}

// notFound rewraps the repo sentinel as a caller-facing code.
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fault.NotFound(format, args...)
	}
	return err
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
