package engine

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"

	"teamline/internal/domain"
	"teamline/internal/engine/authz"
	"teamline/internal/repo"
)

var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_.-]+)`)

// attentionInput is what an operation knows when it wants to surface an
// item; the engine fills in ids, timestamps and the dedup upsert.
type attentionInput struct {
	ProfileID string
	Kind      string
	Priority  string
	TaskID    *string
	CommentID *string
	MentionID *string
	ProjectID *string
	ActorID   string
	Title     string
	Body      string
	DedupKey  string
}

// emitAttention upserts one inbox item. Items about the actor's own action
// are suppressed; an open item with the same dedup key is refreshed in
// place instead of duplicated.
func (e Engine) emitAttention(ctx context.Context, tx *sql.Tx, in attentionInput) error {
	if in.ProfileID == "" || in.ProfileID == in.ActorID {
		return nil
	}
	if in.Priority == "" {
		in.Priority = "normal"
	}
	now := e.nowStr()
	it := domain.AttentionItem{
		ID:        newID(),
		ProfileID: in.ProfileID,
		Kind:      in.Kind,
		Priority:  in.Priority,
		TaskID:    in.TaskID,
		CommentID: in.CommentID,
		MentionID: in.MentionID,
		ProjectID: in.ProjectID,
		ActorID:   optionalString(in.ActorID),
		Title:     in.Title,
		Body:      in.Body,
		DedupKey:  optionalString(in.DedupKey),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return e.Repo.UpsertAttentionItem(ctx, tx, it)
}

// extractMentions resolves @handle tokens in content to profiles that can
// read the project. Handles are matched case-insensitively; unknown or
// unauthorized handles are skipped silently. The returned slice is
// deduplicated and never contains the author.
func (e Engine) extractMentions(ctx context.Context, tx *sql.Tx, projectID, authorID, content string) ([]domain.Profile, error) {
	matches := mentionPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil, nil
	}
	seen := map[string]bool{}
	var out []domain.Profile
	for _, m := range matches {
		handle := strings.ToLower(strings.Trim(m[1], "."))
		if handle == "" || seen[handle] {
			continue
		}
		seen[handle] = true
		p, err := e.Repo.GetProfileByHandle(ctx, tx, handle)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if p.ID == authorID {
			continue
		}
		role, err := e.Authz.ProjectRole(ctx, tx, projectID, p.ID)
		if err != nil {
			return nil, err
		}
		if role == authz.RoleNone {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// recordMention persists the mention edge and its inbox item. Re-running
// the extraction for the same comment is a no-op.
func (e Engine) recordMention(ctx context.Context, tx *sql.Tx, mentioned domain.Profile, actorID string, task domain.Task, commentID *string) error {
	m := domain.Mention{
		ID:          newID(),
		MentionedID: mentioned.ID,
		MentionerID: actorID,
		TaskID:      &task.ID,
		CommentID:   commentID,
		CreatedAt:   e.nowStr(),
	}
	inserted, err := e.Repo.InsertMentionIfNew(ctx, tx, m)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}
	dedup := "mention:" + task.ID
	if commentID != nil {
		dedup = "mention:" + *commentID
	}
	return e.emitAttention(ctx, tx, attentionInput{
		ProfileID: mentioned.ID,
		Kind:      "mention",
		Priority:  "urgent",
		TaskID:    &task.ID,
		CommentID: commentID,
		MentionID: &m.ID,
		ProjectID: &task.ProjectID,
		ActorID:   actorID,
		Title:     "Mentioned on " + task.Title,
		DedupKey:  dedup,
	})
}

// ListInbox returns the caller's open attention items, newest first.
func (e Engine) ListInbox(ctx context.Context, callerID string, unreadOnly bool, limit int) ([]domain.AttentionItem, error) {
	if err := e.Authz.RequireProfile(ctx, e.DB, callerID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	return e.Repo.ListAttentionItems(ctx, e.DB, repo.AttentionFilters{ProfileID: callerID, UnreadOnly: unreadOnly, Limit: limit})
}

// MarkInboxRead marks one of the caller's items read.
func (e Engine) MarkInboxRead(ctx context.Context, callerID, itemID string) error {
	if err := e.Authz.RequireProfile(ctx, e.DB, callerID); err != nil {
		return err
	}
	if err := e.Repo.MarkAttentionRead(ctx, e.DB, itemID, callerID, e.nowStr()); err != nil {
		return notFound(err, "attention item %s", itemID)
	}
	return nil
}

// MarkAllInboxRead marks every open item read; returns the count touched.
func (e Engine) MarkAllInboxRead(ctx context.Context, callerID string) (int64, error) {
	if err := e.Authz.RequireProfile(ctx, e.DB, callerID); err != nil {
		return 0, err
	}
	return e.Repo.MarkAllAttentionRead(ctx, e.DB, callerID, e.nowStr())
}

// DismissInboxItem closes an item; a later event with the same dedup key
// creates a fresh one.
func (e Engine) DismissInboxItem(ctx context.Context, callerID, itemID string) error {
	if err := e.Authz.RequireProfile(ctx, e.DB, callerID); err != nil {
		return err
	}
	if err := e.Repo.DismissAttention(ctx, e.DB, itemID, callerID, e.nowStr()); err != nil {
		return notFound(err, "attention item %s", itemID)
	}
	return nil
}

// InboxUnreadCount returns the caller's open unread item count.
func (e Engine) InboxUnreadCount(ctx context.Context, callerID string) (int, error) {
	if err := e.Authz.RequireProfile(ctx, e.DB, callerID); err != nil {
		return 0, err
	}
	return e.Repo.UnreadAttentionCount(ctx, e.DB, callerID)
}

// ListNotifications returns the caller's delivered notifications.
func (e Engine) ListNotifications(ctx context.Context, callerID string, limit int) ([]domain.Notification, error) {
	if err := e.Authz.RequireProfile(ctx, e.DB, callerID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	return e.Repo.ListNotifications(ctx, callerID, limit)
}
