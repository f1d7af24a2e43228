package middleware

import (
	"net/http"

	gmpAuth "github.com/MrEthical07/gmpAuth"
	"github.com/go-chi/chi/v5"
)

// OrganizationFunc extracts the organization a request acts within. An
// empty result selects the global scope.
type OrganizationFunc func(*http.Request) string

// URLParamOrganization reads the organization from a chi route parameter.
func URLParamOrganization(name string) OrganizationFunc {
	return func(r *http.Request) string {
		return chi.URLParam(r, name)
	}
}

// RequirePermission allows the request only when the caller currently holds
// every code, resolved live rather than from the token snapshot. It must run
// after Guard.
func RequirePermission(engine *gmpAuth.Engine, codes ...string) func(http.Handler) http.Handler {
	return requirePermission(engine, nil, codes)
}

// RequirePermissionInOrganization is RequirePermission scoped to the
// organization org returns.
func RequirePermissionInOrganization(engine *gmpAuth.Engine, org OrganizationFunc, codes ...string) func(http.Handler) http.Handler {
	return requirePermission(engine, org, codes)
}

func requirePermission(engine *gmpAuth.Engine, org OrganizationFunc, codes []string) func(http.Handler) http.Handler {
	return authorize(func(r *http.Request, userID string) bool {
		if org != nil {
			if orgID := org(r); orgID != "" {
				return engine.HasAllPermissionsInOrganization(r.Context(), userID, orgID, codes...)
			}
		}
		return engine.HasAllPermissions(r.Context(), userID, codes...)
	})
}

// RequireRole allows the request only when the caller holds roleCode.
func RequireRole(engine *gmpAuth.Engine, roleCode string) func(http.Handler) http.Handler {
	return authorize(func(r *http.Request, userID string) bool {
		return engine.HasRole(r.Context(), userID, roleCode)
	})
}

// RequireSubsystem allows the request when the caller's access level on
// subsystem is at least min. Authorization store failures deny.
func RequireSubsystem(engine *gmpAuth.Engine, subsystem string, min gmpAuth.AccessLevel) func(http.Handler) http.Handler {
	return authorize(func(r *http.Request, userID string) bool {
		levels, err := engine.SubsystemAccessLevels(r.Context(), userID)
		if err != nil {
			return false
		}
		return levels[subsystem] >= min
	})
}

func authorize(allowed func(r *http.Request, userID string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !allowed(r, claims.UserID) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
