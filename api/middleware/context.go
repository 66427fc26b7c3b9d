package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/pushpay-backend/pkg/enums"
)

type principalKey struct{}

// Principal is the authenticated caller attached by Auth.
type Principal struct {
	UserID uuid.UUID
	Role   enums.MemberRole
}

// WithPrincipal attaches the caller to ctx. A nil user id is ignored.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if p.UserID == uuid.Nil {
		return ctx
	}
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// UserIDFromContext returns the caller id as a string, or "" when anonymous.
func UserIDFromContext(ctx context.Context) string {
	if p, ok := PrincipalFromContext(ctx); ok {
		return p.UserID.String()
	}
	return ""
}

func RoleFromContext(ctx context.Context) string {
	if p, ok := PrincipalFromContext(ctx); ok {
		return string(p.Role)
	}
	return ""
}
