package quotations

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/solarcalc/invoicing/internal/sales/actionlog"
	"github.com/solarcalc/invoicing/internal/shared"
)

const (
	shareTokenBytes = 32
	// DefaultShareTTL is how long a new share link stays valid.
	DefaultShareTTL = 7 * 24 * time.Hour
)

func newShareToken() (string, error) {
	b := make([]byte, shareTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("share token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// UpdateShare enables, disables, extends or rotates a document's public link.
// Re-enabling an expired link restarts the default lifetime.
func (s *Service) UpdateShare(ctx context.Context, id uuid.UUID, req ShareRequest, actor string) (*Document, error) {
	verr := &shared.ValidationError{}
	shared.Validate(s.validate, req, verr)
	if err := verr.Err(); err != nil {
		return nil, err
	}
	doc, err := s.mutable(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	now := s.now()
	state := ShareState{Token: doc.ShareToken, Enabled: req.Enabled, ExpiresAt: doc.ShareExpiresAt}
	rotated := false
	if req.Rotate || (req.Enabled && state.Token == "") {
		token, err := s.newToken()
		if err != nil {
			return nil, err
		}
		state.Token = token
		rotated = true
	}
	switch {
	case req.ExpiresInDays > 0:
		exp := now.Add(time.Duration(req.ExpiresInDays) * 24 * time.Hour)
		state.ExpiresAt = &exp
	case req.Enabled && (state.ExpiresAt == nil || !now.Before(*state.ExpiresAt)):
		exp := now.Add(s.shareTTL)
		state.ExpiresAt = &exp
	}

	if err := s.repo.UpdateShare(ctx, doc.ID, state); err != nil {
		return nil, fmt.Errorf("update share: %w", err)
	}
	s.invalidate(ctx, doc.ShareToken, state.Token, doc.ID.String())

	s.actions.Append(ctx, doc.ID, actionlog.ActionShareUpdated, actor, actionlog.Details{
		"enabled":    state.Enabled,
		"expires_at": state.ExpiresAt,
		"rotated":    rotated,
	})
	return s.repo.Get(ctx, doc.ID)
}

// ShareURL is the public link for token, or "" when there is none.
func (s *Service) ShareURL(token string) string {
	if token == "" {
		return ""
	}
	return s.baseURL + "/view/" + token
}
