package httpapi

import (
	"errors"
	"net/http"

	"auditdesk.org/internal/auth"
	"auditdesk.org/internal/obs"
)

const authHeader = "Authorization"

// Authenticate resolves the bearer token to a live, active user and attaches
// its identity to the request context. The user row is read on every request,
// so a deactivated account is rejected even while its token is still valid.
func (a *API) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.ExtractBearer(r.Header.Get(authHeader))
		if !ok {
			rejectAuth(w, r, "missing_token", "Access token required")
			return
		}

		claims, err := a.codec.Decode(token)
		if err != nil {
			var te *auth.TokenError
			if errors.As(err, &te) {
				rejectAuth(w, r, "token_"+te.Code, te.Reason)
				return
			}
			rejectAuth(w, r, "token_invalid", "Invalid token")
			return
		}

		user, err := a.users.FindByID(r.Context(), claims.UserID)
		switch {
		case errors.Is(err, auth.ErrNotFound):
			rejectAuth(w, r, "user_not_found", "User not found")
			return
		case err != nil:
			a.internalError(w, r, "authenticate", "", err)
			return
		case !user.IsActive:
			rejectAuth(w, r, "account_deactivated", "User account is deactivated")
			return
		}

		ctx := auth.ContextWithIdentity(r.Context(), user.Identity())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func rejectAuth(w http.ResponseWriter, r *http.Request, reason, msg string) {
	obs.AuthFailure(reason)
	writeError(w, r, http.StatusUnauthorized, msg)
}

// RequireRole lets the request through only when the attached identity holds
// one of the listed roles. It must run after Authenticate.
func RequireRole(roles ...auth.Role) Stage {
	allowed := make(map[auth.Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				rejectAuth(w, r, "no_identity", "Authentication required")
				return
			}
			if _, ok := allowed[id.Role]; !ok {
				obs.AuthFailure("forbidden")
				writeError(w, r, http.StatusForbidden, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

var (
	// RequireAdmin admits ADMIN and SUPER_ADMIN.
	RequireAdmin = RequireRole(auth.RoleAdmin, auth.RoleSuperAdmin)
	// RequireSuperAdmin admits SUPER_ADMIN only.
	RequireSuperAdmin = RequireRole(auth.RoleSuperAdmin)
)
