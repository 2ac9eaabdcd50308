package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Payload carries the changed attributes of an event. Before/after values
// for updates go under "before" and "after" keys.
type Payload map[string]any

// Event is the unit handed to subscribers after commit.
type Event struct {
	Type       string
	ProjectID  string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    Payload
	TS         string
}

// Writer appends events to the events table inside the caller's transaction.
type Writer struct {
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, ev Event) (Event, error) {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ev.TS = now().UTC().Format(time.RFC3339)
	if ev.Payload == nil {
		ev.Payload = Payload{}
	}
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		return ev, fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ev.TS, ev.Type, nullable(ev.ProjectID), ev.EntityKind, nullable(ev.EntityID), ev.ActorID, string(data))
	return ev, err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
