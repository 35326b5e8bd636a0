package authsite

import (
	"net/http"
	"net/url"
	"strings"
)

// Guard protects next with req. Anonymous callers are sent to the login page,
// unverified accounts to the verification pending page and accounts without
// the required role get a 403 page.
func (s *Site) Guard(req Requirement, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account := AccountFromContext(r.Context())
		switch Evaluate(req, account) {
		case Allow:
			next.ServeHTTP(w, r)
		case DenyUnauthenticated:
			http.Redirect(w, r, "/login/?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusFound)
		case DenyUnverified:
			s.flash(r, LevelWarning, "Please verify your email first.")
			http.Redirect(w, r, VerifyPendingPath(account.User.ID), http.StatusFound)
		default:
			s.Logger.Warn("permission denied", "user_id", account.User.ID, "path", r.URL.Path)
			s.render(w, r, http.StatusForbidden, "error.html", map[string]any{
				"title":   "Permission denied",
				"message": MsgPermissionDenied,
			})
		}
	})
}

// redirectIfAuthenticated sends signed in users to the dashboard. It returns
// true when a redirect was written.
func (s *Site) redirectIfAuthenticated(w http.ResponseWriter, r *http.Request) bool {
	if IsAuthenticated(AccountFromContext(r.Context())) {
		http.Redirect(w, r, "/dashboard/", http.StatusFound)
		return true
	}
	return false
}

// safeNext returns next if it is a local path, otherwise fallback
func safeNext(next, fallback string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.ContainsAny(next, "\\\r\n") {
		return fallback
	}
	u, err := url.Parse(next)
	if err != nil || u.IsAbs() || u.Host != "" {
		return fallback
	}
	return next
}
