package engine

import (
	"context"

	"teamline/internal/domain"
	"teamline/internal/engine/authz"
	"teamline/internal/events"
	"teamline/internal/fault"
)

// AddComment posts a comment on a task. Requires project editor. Mentions
// in the content land in the mentioned profiles' inboxes; the task's people
// get a comment item folded per hour.
func (e Engine) AddComment(ctx context.Context, callerID, taskID, content string) (domain.Comment, error) {
	if content == "" {
		return domain.Comment{}, fault.Invariant("comment content required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Comment{}, err
	}
	defer tx.Rollback()
	if err := e.Authz.RequireProfile(ctx, tx, callerID); err != nil {
		return domain.Comment{}, err
	}
	t, err := e.Repo.GetTask(ctx, tx, taskID)
	if err != nil {
		return domain.Comment{}, notFound(err, "task %s", taskID)
	}
	if err := e.Authz.RequireProjectRole(ctx, tx, t.ProjectID, callerID, authz.RoleEditor); err != nil {
		return domain.Comment{}, err
	}
	now := e.nowStr()
	c := domain.Comment{
		ID: newID(), TaskID: taskID, ProjectID: t.ProjectID, AuthorID: callerID,
		Content: content, CreatedAt: now, UpdatedAt: now,
	}
	if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
		return domain.Comment{}, err
	}

	mentioned, err := e.extractMentions(ctx, tx, t.ProjectID, callerID, content)
	if err != nil {
		return domain.Comment{}, err
	}
	mentionedIDs := map[string]bool{}
	for _, p := range mentioned {
		mentionedIDs[p.ID] = true
		if err := e.recordMention(ctx, tx, p, callerID, t, &c.ID); err != nil {
			return domain.Comment{}, err
		}
	}

	// One open comment item per task per hour; mentions already made a
	// louder item, skip those profiles.
	hour := e.now().UTC().Format("2006-01-02T15")
	targets := map[string]bool{t.CreatedBy: true}
	if t.AssigneeID != nil {
		targets[*t.AssigneeID] = true
	}
	for profileID := range targets {
		if mentionedIDs[profileID] {
			continue
		}
		if err := e.emitAttention(ctx, tx, attentionInput{
			ProfileID: profileID,
			Kind:      "comment",
			TaskID:    &t.ID,
			CommentID: &c.ID,
			ProjectID: &t.ProjectID,
			ActorID:   callerID,
			Title:     "New comment on " + t.Title,
			DedupKey:  "comment:" + t.ID + ":" + hour,
		}); err != nil {
			return domain.Comment{}, err
		}
	}

	if err := e.logActivity(ctx, tx, t.ProjectID, callerID, "comment.created", &t, &c.ID, nil); err != nil {
		return domain.Comment{}, err
	}
	var emitted []events.Event
	if err := e.emit(ctx, tx, &emitted, events.Event{
		Type: "comment.created", ProjectID: t.ProjectID, EntityKind: "comment", EntityID: c.ID, ActorID: callerID,
		Payload: events.Payload{"task_id": t.ID},
	}); err != nil {
		return domain.Comment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Comment{}, err
	}
	e.publish(emitted)
	return c, nil
}

// UpdateComment edits a comment's content. Only the author may edit.
// New mentions introduced by the edit are recorded; re-saving the same
// mentions is a no-op.
func (e Engine) UpdateComment(ctx context.Context, callerID, commentID, content string) (domain.Comment, error) {
	if content == "" {
		return domain.Comment{}, fault.Invariant("comment content required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Comment{}, err
	}
	defer tx.Rollback()
	if err := e.Authz.RequireProfile(ctx, tx, callerID); err != nil {
		return domain.Comment{}, err
	}
	c, err := e.Repo.GetComment(ctx, tx, commentID)
	if err != nil {
		return domain.Comment{}, notFound(err, "comment %s", commentID)
	}
	if err := e.Authz.RequireProjectRole(ctx, tx, c.ProjectID, callerID, authz.RoleReader); err != nil {
		return domain.Comment{}, err
	}
	if c.AuthorID != callerID {
		return domain.Comment{}, fault.Forbidden("only the author can edit a comment")
	}
	now := e.nowStr()
	if err := e.Repo.UpdateCommentContent(ctx, tx, commentID, content, now); err != nil {
		return domain.Comment{}, err
	}
	c.Content = content
	c.UpdatedAt = now

	t, err := e.Repo.GetTask(ctx, tx, c.TaskID)
	if err != nil {
		return domain.Comment{}, notFound(err, "task %s", c.TaskID)
	}
	mentioned, err := e.extractMentions(ctx, tx, t.ProjectID, callerID, content)
	if err != nil {
		return domain.Comment{}, err
	}
	for _, p := range mentioned {
		if err := e.recordMention(ctx, tx, p, callerID, t, &c.ID); err != nil {
			return domain.Comment{}, err
		}
	}
	return c, tx.Commit()
}

// DeleteComment removes a comment. Author or project admin.
func (e Engine) DeleteComment(ctx context.Context, callerID, commentID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Authz.RequireProfile(ctx, tx, callerID); err != nil {
		return err
	}
	c, err := e.Repo.GetComment(ctx, tx, commentID)
	if err != nil {
		return notFound(err, "comment %s", commentID)
	}
	if err := e.Authz.RequireProjectRole(ctx, tx, c.ProjectID, callerID, authz.RoleReader); err != nil {
		return err
	}
	if c.AuthorID != callerID {
		if err := e.Authz.RequireProjectRole(ctx, tx, c.ProjectID, callerID, authz.RoleAdmin); err != nil {
			return err
		}
	}
	if err := e.Repo.DeleteComment(ctx, tx, commentID); err != nil {
		return err
	}
	return tx.Commit()
}

// ListComments returns a task's comments oldest first.
func (e Engine) ListComments(ctx context.Context, callerID, taskID string) ([]domain.Comment, error) {
	if err := e.Authz.RequireProfile(ctx, e.DB, callerID); err != nil {
		return nil, err
	}
	t, err := e.Repo.GetTask(ctx, e.DB, taskID)
	if err != nil {
		return nil, notFound(err, "task %s", taskID)
	}
	if _, err := e.Authz.RequireProjectRead(ctx, e.DB, t.ProjectID, callerID); err != nil {
		return nil, fault.NotFound("task %s", taskID)
	}
	return e.Repo.ListComments(ctx, e.DB, taskID)
}

// AddAttachment records a file reference on a task or a comment.
// Requires project editor on the owning project.
func (e Engine) AddAttachment(ctx context.Context, callerID string, taskID, commentID *string, fileRef string) (domain.Attachment, error) {
	if fileRef == "" {
		return domain.Attachment{}, fault.Invariant("file reference required")
	}
	if taskID == nil && commentID == nil {
		return domain.Attachment{}, fault.Invariant("attachment needs a task or a comment")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Attachment{}, err
	}
	defer tx.Rollback()
	if err := e.Authz.RequireProfile(ctx, tx, callerID); err != nil {
		return domain.Attachment{}, err
	}
	var projectID string
	if commentID != nil {
		c, err := e.Repo.GetComment(ctx, tx, *commentID)
		if err != nil {
			return domain.Attachment{}, notFound(err, "comment %s", *commentID)
		}
		projectID = c.ProjectID
	} else {
		t, err := e.Repo.GetTask(ctx, tx, *taskID)
		if err != nil {
			return domain.Attachment{}, notFound(err, "task %s", *taskID)
		}
		projectID = t.ProjectID
	}
	if err := e.Authz.RequireProjectRole(ctx, tx, projectID, callerID, authz.RoleEditor); err != nil {
		return domain.Attachment{}, err
	}
	a := domain.Attachment{
		ID: newID(), TaskID: taskID, CommentID: commentID,
		FileRef: fileRef, UploaderID: callerID, CreatedAt: e.nowStr(),
	}
	if err := e.Repo.InsertAttachment(ctx, tx, a); err != nil {
		return domain.Attachment{}, err
	}
	return a, tx.Commit()
}

// RemoveAttachment deletes a file reference. Uploader or project admin.
func (e Engine) RemoveAttachment(ctx context.Context, callerID, attachmentID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Authz.RequireProfile(ctx, tx, callerID); err != nil {
		return err
	}
	a, err := e.Repo.GetAttachment(ctx, tx, attachmentID)
	if err != nil {
		return notFound(err, "attachment %s", attachmentID)
	}
	var projectID string
	if a.CommentID != nil {
		c, err := e.Repo.GetComment(ctx, tx, *a.CommentID)
		if err != nil {
			return notFound(err, "comment %s", *a.CommentID)
		}
		projectID = c.ProjectID
	} else if a.TaskID != nil {
		t, err := e.Repo.GetTask(ctx, tx, *a.TaskID)
		if err != nil {
			return notFound(err, "task %s", *a.TaskID)
		}
		projectID = t.ProjectID
	}
	if projectID != "" {
		if err := e.Authz.RequireProjectRole(ctx, tx, projectID, callerID, authz.RoleReader); err != nil {
			return err
		}
	}
	if a.UploaderID != callerID {
		if projectID == "" {
			return fault.Forbidden("only the uploader can remove this attachment")
		}
		if err := e.Authz.RequireProjectRole(ctx, tx, projectID, callerID, authz.RoleAdmin); err != nil {
			return err
		}
	}
	if err := e.Repo.DeleteAttachment(ctx, tx, attachmentID); err != nil {
		return err
	}
	return tx.Commit()
}
