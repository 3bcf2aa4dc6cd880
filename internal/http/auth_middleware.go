package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/slipway-sh/slipway/internal/domain"
	"github.com/slipway-sh/slipway/pkg/token"
)

type authContextKey string

const contextKeyIdentity authContextKey = "slipway-identity"

type contextSetter interface {
	SetContext(context.Context)
}

// requireAuth ensures the request carries a verified identity before
// invoking the handler.
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx, _, ok := r.ensureAuth(w, req)
		if !ok {
			return
		}
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

// ensureAuth validates the Authorization header and enriches the
// context with the caller identity.
func (r *Router) ensureAuth(w http.ResponseWriter, req *http.Request) (context.Context, domain.Identity, bool) {
	identity, err := r.identityFromRequest(req)
	if err != nil {
		r.logger.Warn("authentication failed", "error", err, "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "authentication required")
		return req.Context(), domain.Identity{}, false
	}
	ctx := context.WithValue(req.Context(), contextKeyIdentity, identity)
	return ctx, identity, true
}

// identityFromRequest parses the bearer token into a verified
// identity. The identity provider issued the token; only the
// signature and expiry are checked here.
func (r *Router) identityFromRequest(req *http.Request) (domain.Identity, error) {
	bearer, err := bearerToken(req.Header.Get("Authorization"))
	if err != nil {
		return domain.Identity{}, err
	}
	claims, err := token.Parse(bearer, r.jwtSecret)
	if err != nil {
		return domain.Identity{}, err
	}
	role := claims.Role
	if role == "" {
		role = domain.RoleUser
	}
	identity := domain.Identity{Email: claims.Email, Login: claims.Login, Role: role}
	if !identity.Authenticated() {
		return domain.Identity{}, errors.New("token carries no principal")
	}
	return identity, nil
}

// identityFromContext extracts the verified identity from context.
func identityFromContext(ctx context.Context) (domain.Identity, bool) {
	value := ctx.Value(contextKeyIdentity)
	if value == nil {
		return domain.Identity{}, false
	}
	identity, ok := value.(domain.Identity)
	return identity, ok
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	value := strings.TrimSpace(parts[1])
	if value == "" {
		return "", errors.New("empty bearer token")
	}
	return value, nil
}
