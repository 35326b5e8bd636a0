package oauth2

import (
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// BaseOAuth2 holds what every provider shares: the client config, the
// signed state helper and the mux serving the login and callback routes.
type BaseOAuth2 struct {
	ClientId     string
	ClientSecret string
	CallbackURL  string
	HandleUser   HandleUserFunc

	// FailureURL receives the browser when the flow fails
	FailureURL string

	Logger *slog.Logger

	state       *StateSigner
	oauthConfig oauth2.Config
	mux         *http.ServeMux
}

func NewBaseOAuth2(clientId string, clientSecret string, callbackUrl string, stateSecret []byte, handleUser HandleUserFunc) *BaseOAuth2 {
	out := &BaseOAuth2{
		ClientId:     clientId,
		ClientSecret: clientSecret,
		CallbackURL:  callbackUrl,
		HandleUser:   handleUser,
		FailureURL:   "/login/?error=oauth",
		Logger:       slog.Default(),
		state:        &StateSigner{Secret: stateSecret, TTL: 10 * time.Minute, Now: time.Now},
		mux:          http.NewServeMux(),
		oauthConfig: oauth2.Config{
			ClientID:     clientId,
			ClientSecret: clientSecret,
			RedirectURL:  callbackUrl,
		},
	}
	out.mux.HandleFunc("/login/", out.handleLogin)
	return out
}

// SetEndpoint points the flow at a different authorization server
func (b *BaseOAuth2) SetEndpoint(endpoint oauth2.Endpoint) {
	b.oauthConfig.Endpoint = endpoint
}

// SetClock replaces the clock used to sign and check the state parameter
func (b *BaseOAuth2) SetClock(now func() time.Time) {
	b.state.Now = now
}

func (b *BaseOAuth2) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mux.ServeHTTP(w, r)
}

func (b *BaseOAuth2) handleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := b.state.Sign()
	if err != nil {
		b.Logger.Error("signing oauth state", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	setStateCookie(w, state, b.state.TTL)
	http.Redirect(w, r, b.oauthConfig.AuthCodeURL(state), http.StatusFound)
}

func (b *BaseOAuth2) fail(w http.ResponseWriter, r *http.Request, reason string, err error) {
	b.Logger.Warn("oauth flow failed", "reason", reason, "error", err)
	clearStateCookie(w)
	http.Redirect(w, r, b.FailureURL, http.StatusFound)
}
