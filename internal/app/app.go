// Package app wires the workspace pieces together: database, migrations,
// config, engine and the notification subscriber.
package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"

	"teamline/internal/config"
	"teamline/internal/db"
	"teamline/internal/domain"
	"teamline/internal/engine"
	"teamline/internal/events"
	"teamline/internal/migrate"

	"github.com/google/uuid"
)

// Open prepares a workspace and returns a ready engine. The caller owns the
// returned DB handle and closes it when done.
func Open(workspace string) (engine.Engine, *sql.DB, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return engine.Engine{}, nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return engine.Engine{}, nil, err
	}
	if _, err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return engine.Engine{}, nil, err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		conn.Close()
		return engine.Engine{}, nil, err
	}
	e := engine.New(conn, cfg)
	SubscribeNotifications(e)
	return e, conn, nil
}

// SubscribeNotifications turns committed workflow events into notification
// rows for the people on the affected task. Handlers run after commit, so a
// failed write is logged and dropped rather than rolled back.
func SubscribeNotifications(e engine.Engine) {
	deliver := func(ev events.Event, title string) {
		ctx := context.Background()
		t, err := e.Repo.GetTask(ctx, e.DB, ev.EntityID)
		if err != nil {
			return
		}
		targets := map[string]bool{t.CreatedBy: true}
		if t.AssigneeID != nil {
			targets[*t.AssigneeID] = true
		}
		payload, _ := json.Marshal(ev.Payload)
		for profileID := range targets {
			if profileID == ev.ActorID {
				continue
			}
			n := domain.Notification{
				ID:          uuid.New().String(),
				ProfileID:   profileID,
				Kind:        ev.Type,
				Title:       title + " " + t.Title,
				PayloadJSON: string(payload),
				CreatedAt:   ev.TS,
			}
			if err := e.Repo.InsertNotification(ctx, e.DB, n); err != nil {
				log.Printf("notification: insert failed: %v", err)
			}
		}
	}
	e.Bus.Subscribe("task.approved", func(ev events.Event) { deliver(ev, "Approved:") })
	e.Bus.Subscribe("task.rejected", func(ev events.Event) { deliver(ev, "Rejected:") })
	e.Bus.Subscribe("task.moved", func(ev events.Event) { deliver(ev, "Moved:") })
}
