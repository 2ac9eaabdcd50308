package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"teamline/internal/domain"
	"teamline/internal/fault"
	"teamline/internal/repo"
)

// CreateAPIKey mints a key for the caller and returns the plaintext once;
// only the hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, callerID, name string) (domain.APIKey, string, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if err := e.Authz.RequireProfile(ctx, tx, callerID); err != nil {
		return domain.APIKey{}, "", err
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return domain.APIKey{}, "", err
	}
	plaintext := "tlk_" + hex.EncodeToString(raw)
	key := domain.APIKey{
		ID:        newID(),
		ProfileID: callerID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plaintext),
		CreatedAt: e.nowStr(),
	}
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plaintext, nil
}

// RevokeAPIKey deletes one of the caller's keys.
func (e Engine) RevokeAPIKey(ctx context.Context, callerID, keyID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Authz.RequireProfile(ctx, tx, callerID); err != nil {
		return err
	}
	keys, err := e.Repo.ListAPIKeys(ctx, callerID)
	if err != nil {
		return err
	}
	owned := false
	for _, k := range keys {
		if k.ID == keyID {
			owned = true
		}
	}
	if !owned {
		return fault.NotFound("api key %s", keyID)
	}
	if err := e.Repo.DeleteAPIKey(ctx, tx, keyID); err != nil {
		return notFound(err, "api key %s", keyID)
	}
	return tx.Commit()
}

// ListAPIKeys returns the caller's keys with hashes blanked.
func (e Engine) ListAPIKeys(ctx context.Context, callerID string) ([]domain.APIKey, error) {
	if err := e.Authz.RequireProfile(ctx, e.DB, callerID); err != nil {
		return nil, err
	}
	keys, err := e.Repo.ListAPIKeys(ctx, callerID)
	if err != nil {
		return nil, err
	}
	for i := range keys {
		keys[i].KeyHash = ""
	}
	return keys, nil
}

// ListProjectEvents returns a project's committed events, newest first.
func (e Engine) ListProjectEvents(ctx context.Context, callerID, projectID string, limit int, cursor int64) ([]domain.Event, error) {
	if err := e.Authz.RequireProfile(ctx, e.DB, callerID); err != nil {
		return nil, err
	}
	if _, err := e.Authz.RequireProjectRead(ctx, e.DB, projectID, callerID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return e.Repo.LatestEvents(ctx, limit, cursor, projectID, "", "", "")
}
