package access

import (
	"strings"

	"github.com/slipway-sh/slipway/internal/domain"
)

// Guard decides mutation rights for project records. Decisions are
// computed fresh on every call; roles and ownership can change between
// requests, so nothing here may be cached.
type Guard struct{}

// New returns a Guard.
func New() Guard {
	return Guard{}
}

// CanMutate reports whether the identity may mutate the project:
// admins always may, otherwise the caller must match the record's
// owner email or owner login.
func (Guard) CanMutate(identity domain.Identity, project *domain.Project) bool {
	if project == nil {
		return false
	}
	if identity.IsAdmin() {
		return true
	}
	if !identity.Authenticated() {
		return false
	}
	if email := strings.TrimSpace(identity.Email); email != "" && email == project.Owner {
		return true
	}
	if login := strings.TrimSpace(identity.Login); login != "" && login == project.OwnerLogin {
		return true
	}
	return false
}
