package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/MrEthical07/stampauth"
)

// RejectImpersonation must run after Guard. It refuses impersonated
// principals, for routes such as password or MFA changes that only the
// account owner may call.
func RejectImpersonation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			WriteError(w, stampauth.ErrUnauthenticated)
			return
		}
		if p.Impersonated() {
			writeForbidden(w, "impersonated sessions may not call this route")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole must run after Guard. It admits principals whose role is one
// of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				WriteError(w, stampauth.ErrUnauthenticated)
				return
			}
			if _, ok := allowed[p.RoleID]; !ok {
				writeForbidden(w, "role not permitted")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeForbidden(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(errorBody{Error: "forbidden", Message: msg})
}
