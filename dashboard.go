package authsite

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

const adminPageSize = 50

func (s *Site) handleDashboard(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{}
	if account := AccountFromContext(r.Context()); account.User.LastLoginAt != nil {
		data["last_login"] = *account.User.LastLoginAt
	}
	s.render(w, r, http.StatusOK, "dashboard.html", data)
}

func (s *Site) handleAdminDashboard(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	overview, err := s.Accounts.Overview(r.Context(), (page-1)*adminPageSize, adminPageSize)
	if err != nil {
		s.Logger.Error("loading admin overview", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	prevPage, nextPage := 0, 0
	if page > 1 {
		prevPage = page - 1
	}
	if int64(page*adminPageSize) < overview.Stats.Total {
		nextPage = page + 1
	}

	rows := make([]map[string]any, 0, len(overview.Accounts))
	for _, a := range overview.Accounts {
		rows = append(rows, map[string]any{
			"uid":      EncodeUID(a.User.ID),
			"email":    a.User.Email,
			"active":   a.User.IsActive,
			"joined":   a.User.CreatedAt,
			"role":     string(a.Profile.Role),
			"verified": a.Profile.EmailVerified,
		})
	}
	s.render(w, r, http.StatusOK, "admin_dashboard.html", map[string]any{
		"total_users":    overview.Stats.Total,
		"verified_users": overview.Stats.Verified,
		"admin_users":    overview.Stats.Admins,
		"accounts":       rows,
		"roles":          []string{string(RoleUser), string(RoleAdmin)},
		"prev_page":      prevPage,
		"next_page":      nextPage,
	})
}

func (s *Site) handleSetRole(w http.ResponseWriter, r *http.Request) {
	actor := AccountFromContext(r.Context())
	targetID, err := DecodeUID(mux.Vars(r)["uid"])
	if err == nil {
		err = s.Accounts.SetRole(r.Context(), actor, targetID, Role(r.PostFormValue("role")))
	}

	var ve *ValidationError
	switch {
	case err == nil:
		s.flash(r, LevelSuccess, "Role updated.")
	case errors.Is(err, ErrPermissionDenied):
		s.flash(r, LevelError, "You cannot change your own role.")
	case errors.Is(err, ErrNotFound):
		s.flash(r, LevelError, "User not found.")
	case errors.As(err, &ve):
		s.flash(r, LevelError, ve.Field("role"))
	default:
		s.Logger.Error("changing role", "error", err)
		s.flash(r, LevelError, "An unexpected error occurred. Please try again.")
	}
	http.Redirect(w, r, "/admin-dashboard/", http.StatusFound)
}
