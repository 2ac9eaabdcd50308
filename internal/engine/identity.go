package engine

import (
	"context"
	"fmt"
	"strings"

	"teamline/internal/domain"
	"teamline/internal/fault"
)

// IdentityClaims are the verified fields supplied by the identity provider.
type IdentityClaims struct {
	Email       string
	DisplayName string
	AvatarURL   string
}

// UpsertProfileFromIdentity binds a verified external user id to a profile.
// First observation creates the row; re-observation refreshes non-empty
// claim fields in place.
func (e Engine) UpsertProfileFromIdentity(ctx context.Context, callerID string, claims IdentityClaims) (domain.Profile, error) {
	if callerID == "" {
		return domain.Profile{}, fault.Unauthenticated("caller id required")
	}
	if claims.Email == "" {
		return domain.Profile{}, fault.Unauthenticated("identity claims missing email")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Profile{}, err
	}
	defer tx.Rollback()

	now := e.nowStr()
	handle := handleFromEmail(claims.Email)
	// Suffix the handle when another profile already claimed it.
	for i := 0; ; i++ {
		candidate := handle
		if i > 0 {
			candidate = fmt.Sprintf("%s%d", handle, i)
		}
		taken, err := e.Repo.HandleTaken(ctx, tx, candidate, callerID)
		if err != nil {
			return domain.Profile{}, err
		}
		if !taken {
			handle = candidate
			break
		}
	}
	p := domain.Profile{
		ID:          callerID,
		Email:       claims.Email,
		Handle:      handle,
		DisplayName: claims.DisplayName,
		AvatarURL:   claims.AvatarURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.UpsertProfile(ctx, tx, p); err != nil {
		return domain.Profile{}, err
	}
	stored, err := e.Repo.GetProfile(ctx, tx, callerID)
	if err != nil {
		return domain.Profile{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Profile{}, err
	}
	return stored, nil
}

// CompleteProfile marks onboarding finished, optionally setting the display name.
func (e Engine) CompleteProfile(ctx context.Context, callerID, displayName string) (domain.Profile, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Profile{}, err
	}
	defer tx.Rollback()
	if err := e.Authz.RequireProfile(ctx, tx, callerID); err != nil {
		return domain.Profile{}, err
	}
	if err := e.Repo.SetProfileCompleted(ctx, tx, callerID, displayName, e.nowStr()); err != nil {
		return domain.Profile{}, notFound(err, "profile %s", callerID)
	}
	p, err := e.Repo.GetProfile(ctx, tx, callerID)
	if err != nil {
		return domain.Profile{}, err
	}
	return p, tx.Commit()
}

// GetProfile returns the caller's own profile.
func (e Engine) GetProfile(ctx context.Context, callerID string) (domain.Profile, error) {
	p, err := e.Repo.GetProfile(ctx, e.DB, callerID)
	if err != nil {
		return p, notFound(err, "profile %s", callerID)
	}
	return p, nil
}

func handleFromEmail(email string) string {
	local := email
	if i := strings.IndexByte(email, '@'); i > 0 {
		local = email[:i]
	}
	local = strings.ToLower(local)
	var b strings.Builder
	for _, r := range local {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "user"
	}
	return b.String()
}
