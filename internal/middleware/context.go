package middleware

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yutaoyuan/crm-system-sub000/internal/auth"
)

// Actor is the authenticated staff member of a request.
type Actor struct {
	SessionID uuid.UUID
	UserID    uuid.UUID
	Email     string
	FullName  string
	Role      auth.Role
	CSRFToken string
	ExpiresAt time.Time
}

func actorFromPrincipal(p auth.Principal) Actor {
	return Actor{
		SessionID: p.SessionID,
		UserID:    p.UserID,
		Email:     p.Email,
		FullName:  p.FullName,
		Role:      p.Role,
		CSRFToken: p.CSRFToken,
		ExpiresAt: p.ExpiresAt,
	}
}

type contextKey string

const actorKey contextKey = "actor"

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	v, ok := ctx.Value(actorKey).(Actor)
	return v, ok
}
