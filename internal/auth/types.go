package auth

import (
	"context"
	"errors"
)

// Common authentication errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Built-in principals and roles
const (
	GuestUser     = "Guest"
	AdminUser     = "Administrator"
	RoleAdmin     = "admin"
	RoleWidgetUse = "widget_user"
)

// Principal is the caller a request runs as. It replaces the host
// framework's ambient session user.
type Principal struct {
	User      string   `json:"user"`
	FullName  string   `json:"full_name"`
	UserImage string   `json:"user_image,omitempty"`
	Roles     []string `json:"roles,omitempty"`
}

// Guest returns the anonymous principal
func Guest() Principal {
	return Principal{User: GuestUser, FullName: GuestUser}
}

// Administrator returns the principal used when authentication is disabled
func Administrator() Principal {
	return Principal{User: AdminUser, FullName: AdminUser, Roles: []string{RoleAdmin}}
}

// IsGuest reports whether the principal is unauthenticated
func (p Principal) IsGuest() bool {
	return p.User == "" || p.User == GuestUser
}

// HasRole reports whether the principal carries role
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type principalKey struct{}

// WithPrincipal attaches a principal to ctx
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the request principal, or Guest if none was attached
func FromContext(ctx context.Context) Principal {
	if p, ok := ctx.Value(principalKey{}).(Principal); ok {
		return p
	}
	return Guest()
}

type clientIPKey struct{}

// WithClientIP attaches the caller's address to ctx for audit records
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIPFromContext returns the address set by WithClientIP, if any
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}
