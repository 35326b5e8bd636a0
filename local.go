package authsite

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"golang.org/x/oauth2"
)

func (s *Site) handleIndex(w http.ResponseWriter, r *http.Request) {
	if s.redirectIfAuthenticated(w, r) {
		return
	}
	s.render(w, r, http.StatusOK, "index.html", nil)
}

func (s *Site) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.redirectIfAuthenticated(w, r) {
		return
	}
	next := r.FormValue("next")
	if r.Method != http.MethodPost {
		data := map[string]any{"next": next}
		if r.URL.Query().Get("error") == "oauth" {
			data["form_error"] = "Google sign-in failed. Please try again."
		}
		s.render(w, r, http.StatusOK, "login.html", data)
		return
	}

	form := LoginForm{Email: r.PostFormValue("email"), Password: r.PostFormValue("password")}
	account, err := s.Accounts.Login(r.Context(), form)
	if err != nil {
		var ve *ValidationError
		data := map[string]any{"email": form.Email, "next": next}
		switch {
		case errors.As(err, &ve):
			data["errors"] = formErrors(err)
			s.render(w, r, http.StatusBadRequest, "login.html", data)
		case errors.Is(err, ErrInvalidCredentials):
			data["form_error"] = MsgInvalidCredentials
			s.render(w, r, http.StatusUnauthorized, "login.html", data)
		default:
			s.Logger.Error("login failed", "error", err)
			data["form_error"] = "An error occurred during login."
			s.render(w, r, http.StatusInternalServerError, "login.html", data)
		}
		return
	}

	if err := s.Sessions.Login(r.Context(), account.User); err != nil {
		s.Logger.Error("starting session", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	s.flash(r, LevelSuccess, "Welcome back, "+account.User.Email+"!")
	http.Redirect(w, r, safeNext(next, "/dashboard/"), http.StatusFound)
}

func (s *Site) handleLogout(w http.ResponseWriter, r *http.Request) {
	if account := AccountFromContext(r.Context()); account != nil {
		s.Logger.Info("user logged out", "user_id", account.User.ID)
	}
	if err := s.Sessions.Logout(r.Context()); err != nil {
		s.Logger.Error("destroying session", "error", err)
	}
	s.flash(r, LevelSuccess, "You have been logged out successfully.")
	http.Redirect(w, r, "/login/", http.StatusFound)
}

// HandleProviderUser logs in the user returned by a social login provider.
// It matches oauth2.HandleUserFunc.
func (s *Site) HandleProviderUser(authtype string, provider string, token *oauth2.Token, userInfo map[string]any, w http.ResponseWriter, r *http.Request) {
	email, _ := userInfo["email"].(string)
	verified, _ := userInfo["verified_email"].(bool)
	if v, ok := userInfo["email_verified"].(bool); ok {
		verified = v
	}

	account, err := s.Accounts.LoginWithProvider(r.Context(), provider, email, verified)
	if err != nil {
		if !errors.Is(err, ErrInvalidCredentials) {
			s.Logger.Error("provider login failed", "provider", provider, "error", err)
		}
		s.flash(r, LevelError, "Could not sign you in with "+provider+". Please try again.")
		http.Redirect(w, r, "/login/", http.StatusFound)
		return
	}
	if err := s.Sessions.Login(r.Context(), account.User); err != nil {
		s.Logger.Error("starting session", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	s.flash(r, LevelSuccess, "Welcome back, "+account.User.Email+"!")
	http.Redirect(w, r, "/dashboard/", http.StatusFound)
}

func (s *Site) handlePasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	if s.redirectIfAuthenticated(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		s.render(w, r, http.StatusOK, "password_reset_request.html", nil)
		return
	}

	form := PasswordResetRequestForm{Email: r.PostFormValue("email")}
	if err := s.Accounts.RequestPasswordReset(r.Context(), form); err != nil {
		s.render(w, r, http.StatusBadRequest, "password_reset_request.html", map[string]any{
			"email":  form.Email,
			"errors": formErrors(err),
		})
		return
	}
	s.flash(r, LevelSuccess, "If an account exists with this email, you will receive password reset instructions.")
	http.Redirect(w, r, "/login/", http.StatusFound)
}

func (s *Site) handlePasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	uid, token := vars["uid"], vars["token"]

	if r.Method != http.MethodPost {
		if _, err := s.Accounts.CheckResetLink(r.Context(), uid, token); err != nil {
			s.linkFailed(w, r, err, "/password-reset/")
			return
		}
		s.render(w, r, http.StatusOK, "password_reset_confirm.html", map[string]any{"uid": uid, "token": token})
		return
	}

	form := PasswordResetForm{
		Password:        r.PostFormValue("password"),
		PasswordConfirm: r.PostFormValue("password_confirm"),
	}
	err := s.Accounts.ResetPassword(r.Context(), uid, token, form)
	var ve *ValidationError
	switch {
	case err == nil:
		s.flash(r, LevelSuccess, "Password has been reset successfully. Please login with your new password.")
		http.Redirect(w, r, "/login/", http.StatusFound)
	case errors.As(err, &ve):
		s.render(w, r, http.StatusBadRequest, "password_reset_confirm.html", map[string]any{
			"uid":    uid,
			"token":  token,
			"errors": formErrors(err),
		})
	default:
		s.linkFailed(w, r, err, "/password-reset/")
	}
}

// linkFailed reports a verification or reset link failure with the generic
// message and redirects to fallback
func (s *Site) linkFailed(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	if IsLinkError(err) {
		s.Logger.Info("link rejected", "reason", err)
		s.flash(r, LevelError, MsgInvalidLink)
	} else {
		s.Logger.Error("link handling failed", "error", err)
		s.flash(r, LevelError, "An unexpected error occurred. Please try again.")
	}
	http.Redirect(w, r, fallback, http.StatusFound)
}
