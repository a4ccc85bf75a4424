package contract

import (
	"context"
	"errors"

	"ai-docqa-be/pkg/store"
)

var ErrSessionNotFound = errors.New("session not found or expired")

// SessionRepository keeps Q&A sessions between requests. Get returns a copy the caller owns.
type SessionRepository interface {
	Get(ctx context.Context, sessionID string) (*store.Session, error)
	Save(ctx context.Context, session *store.Session) error
	Delete(ctx context.Context, sessionID string) error
}
