package domain

import "strings"

// Roles recognised by the access guard.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// AnonymousLogin is the marker recorded for public creation flows.
// It is never silently substituted for a real identity.
const AnonymousLogin = "anonymous"

// Identity is a verified caller principal. Token verification happens
// at the transport boundary; by the time an Identity reaches a service
// it is trusted.
type Identity struct {
	Email string
	Login string
	Role  string
}

// Anonymous returns the explicit anonymous principal.
func Anonymous() Identity {
	return Identity{Login: AnonymousLogin, Role: RoleUser}
}

// Authenticated reports whether the identity carries a real principal.
func (i Identity) Authenticated() bool {
	if i.Login == AnonymousLogin {
		return false
	}
	return strings.TrimSpace(i.Email) != "" || strings.TrimSpace(i.Login) != ""
}

// IsAdmin reports whether the identity holds the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// DispatchOwner is the identity recorded on build dispatches. A
// project created anonymously dispatches as "anonymous" rather than
// being attributed to another principal.
func (i Identity) DispatchOwner() string {
	if login := strings.TrimSpace(i.Login); login != "" {
		return login
	}
	if email := strings.TrimSpace(i.Email); email != "" {
		return email
	}
	return AnonymousLogin
}
