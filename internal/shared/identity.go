package shared

import "context"

// Role enumerates the access levels supplied by the session layer.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleUser   Role = "user"
	RoleViewer Role = "viewer"
)

// Identity describes the authenticated caller of a request.
type Identity struct {
	ActorID int64
	OrgID   int64
	Role    Role
}

// CanWrite reports whether the role may mutate documents.
func (id Identity) CanWrite() bool {
	return id.Role == RoleAdmin || id.Role == RoleUser
}

// IsAdmin reports whether the role may manage organization-level entities.
func (id Identity) IsAdmin() bool {
	return id.Role == RoleAdmin
}

type identityContextKey struct{}

// ContextWithIdentity stores the caller identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the caller identity from context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}
