package authz

import (
	"net/http"
	"strings"

	"log/slog"
)

// Request headers set by the authenticating gateway in front of this
// service.
const (
	HeaderUserID   = "X-User-ID"
	HeaderBranchID = "X-Branch-ID"
)

// Middleware wires authorization checks for HTTP handlers.
type Middleware struct {
	Resolver *Resolver
	Logger   *slog.Logger
}

// RequireAny ensures the current user holds at least one of the required
// permissions in their branch context.
func (m Middleware) RequireAny(perms ...Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(perms) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			granted, ok := m.granted(w, r)
			if !ok {
				return
			}
			for _, p := range perms {
				if HasPermission(granted, p) {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

// RequireAll ensures the current user holds every required permission.
func (m Middleware) RequireAll(perms ...Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			granted, ok := m.granted(w, r)
			if !ok {
				return
			}
			for _, p := range perms {
				if !HasPermission(granted, p) {
					http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) granted(w http.ResponseWriter, r *http.Request) ([]Permission, bool) {
	userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if userID == "" {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return nil, false
	}
	res, err := m.Resolver.Resolve(r.Context(), userID, strings.TrimSpace(r.Header.Get(HeaderBranchID)))
	if err != nil {
		if m.Logger != nil {
			m.Logger.Error("authz middleware: resolve", slog.Any("error", err))
		}
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return nil, false
	}
	return res.Permissions, true
}
