package authsite

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
)

// sessionPendingUID remembers which account this browser just registered
const sessionPendingUID = "_pending_uid"

func (s *Site) handleSignup(w http.ResponseWriter, r *http.Request) {
	if s.redirectIfAuthenticated(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		s.render(w, r, http.StatusOK, "signup.html", nil)
		return
	}

	form := SignupForm{
		Email:           r.PostFormValue("email"),
		Password:        r.PostFormValue("password"),
		PasswordConfirm: r.PostFormValue("password_confirm"),
	}
	account, err := s.Accounts.Signup(r.Context(), form)
	var ve *ValidationError
	var de *DeliveryError
	switch {
	case err == nil:
		s.Sessions.Manager.Put(r.Context(), sessionPendingUID, account.User.ID)
		s.flash(r, LevelSuccess, "Registration successful! Check your email to verify your account.")
	case errors.As(err, &ve):
		s.render(w, r, http.StatusBadRequest, "signup.html", map[string]any{
			"email":  NormalizeEmail(form.Email),
			"errors": formErrors(err),
		})
		return
	case errors.As(err, &de) && account != nil:
		s.Sessions.Manager.Put(r.Context(), sessionPendingUID, account.User.ID)
		s.flash(r, LevelWarning, "Your account was created but the verification email could not be sent. Use the button below to send it again.")
	default:
		s.Logger.Error("signup failed", "error", err)
		s.render(w, r, http.StatusInternalServerError, "signup.html", map[string]any{
			"email":      NormalizeEmail(form.Email),
			"form_error": "An error occurred during registration. Please try again.",
		})
		return
	}
	http.Redirect(w, r, VerifyPendingPath(account.User.ID), http.StatusFound)
}

func (s *Site) handleVerifyPending(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]
	if userID, err := DecodeUID(uid); err == nil && s.ownsPending(r, userID) {
		if account, err := s.Accounts.Get(r.Context(), userID); err == nil && account.Profile.EmailVerified {
			s.flash(r, LevelInfo, "Your email is already verified. Please login.")
			http.Redirect(w, r, "/login/", http.StatusFound)
			return
		}
	}
	s.render(w, r, http.StatusOK, "verify_email_pending.html", map[string]any{"uid": uid})
}

// ownsPending reports whether the request's session registered or is signed
// in as userID. Other callers only ever see the generic pending page.
func (s *Site) ownsPending(r *http.Request, userID string) bool {
	if account := AccountFromContext(r.Context()); account != nil && account.User != nil && account.User.ID == userID {
		return true
	}
	return s.Sessions.Manager.GetString(r.Context(), sessionPendingUID) == userID
}

func (s *Site) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]
	if err := s.Accounts.ResendVerification(r.Context(), uid); err != nil {
		var de *DeliveryError
		if !errors.As(err, &de) {
			s.Logger.Error("resending verification failed", "error", err)
		}
	}
	s.flash(r, LevelInfo, "If this account still needs verification, a new link has been sent.")
	http.Redirect(w, r, "/verify-email-pending/"+uid+"/", http.StatusFound)
}

func (s *Site) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if _, err := s.Accounts.VerifyEmail(r.Context(), vars["uid"], vars["token"]); err != nil {
		s.linkFailed(w, r, err, "/signup/")
		return
	}
	s.flash(r, LevelSuccess, "Email verified successfully! You can now login.")
	http.Redirect(w, r, "/login/", http.StatusFound)
}
