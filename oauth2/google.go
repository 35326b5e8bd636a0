package oauth2

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2/google"
)

const GoogleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

type GoogleOAuth2 struct {
	*BaseOAuth2

	// UserInfoURL defaults to GoogleUserInfoURL
	UserInfoURL string
}

// NewGoogleOAuth2 serves /login/ and /callback/ relative to where it is
// mounted. handleUser receives the Google userinfo map, which carries
// "email" and "verified_email".
func NewGoogleOAuth2(clientId string, clientSecret string, callbackUrl string, stateSecret []byte, handleUser HandleUserFunc) *GoogleOAuth2 {
	out := GoogleOAuth2{
		BaseOAuth2:  NewBaseOAuth2(clientId, clientSecret, callbackUrl, stateSecret, handleUser),
		UserInfoURL: GoogleUserInfoURL,
	}
	out.oauthConfig.Endpoint = google.Endpoint
	out.oauthConfig.Scopes = []string{
		"https://www.googleapis.com/auth/userinfo.email",
		"https://www.googleapis.com/auth/userinfo.profile",
	}
	out.mux.HandleFunc("/callback/", out.handleCallback)
	return &out
}

func (g *GoogleOAuth2) handleCallback(w http.ResponseWriter, r *http.Request) {
	if errParam := r.FormValue("error"); errParam != "" {
		g.fail(w, r, "provider error", fmt.Errorf("%s", errParam))
		return
	}
	if err := g.state.checkState(r); err != nil {
		g.fail(w, r, "state", err)
		return
	}
	clearStateCookie(w)

	token, err := g.oauthConfig.Exchange(r.Context(), r.FormValue("code"))
	if err != nil {
		g.fail(w, r, "code exchange", err)
		return
	}

	resp, err := g.oauthConfig.Client(r.Context(), token).Get(g.UserInfoURL)
	if err != nil {
		g.fail(w, r, "userinfo", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		g.fail(w, r, "userinfo", fmt.Errorf("status %d", resp.StatusCode))
		return
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		g.fail(w, r, "userinfo", err)
		return
	}
	var userInfo map[string]any
	if err := json.Unmarshal(body, &userInfo); err != nil {
		g.fail(w, r, "userinfo", err)
		return
	}
	g.HandleUser("oauth", "google", token, userInfo, w, r)
}
