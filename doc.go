// Package authsite is a server rendered authentication site: signup with
// email verification, login, password reset, idle session expiry and two
// roles (user and admin), plus social login through a provider handler.
//
// # Architecture
//
// AccountStore persists a User (email, password hash, active flag) and its
// one-to-one Profile (role, verification flag and two token slots). The
// stores package keeps accounts in JSON files; stores/gorm keeps them in
// PostgreSQL or SQLite.
//
// TokenPolicy mints verification and reset tokens as a keyed MAC over the
// user id, the purpose, the issuance time and a per-user fingerprint, and
// checks them against the stored slot with a fixed validity window.
// Consuming a token is a compare-and-clear in the store, so a link works once.
//
// SessionPolicy binds an account to a scs session and expires it after a
// period without requests. Evaluate and Guard gate views by authentication,
// then verification, then role.
//
// Accounts ties these together and Site serves the HTML pages.
//
// # Basic Usage
//
//	store := stores.NewFSAccountStore("/var/lib/authsite")
//	site, err := authsite.NewSite(authsite.Options{
//	    SecretKey:    os.Getenv("SECRET_KEY"),
//	    AllowedHosts: []string{"example.com"},
//	    BaseURL:      "https://example.com",
//	}, store, nil, &authsite.ConsoleEmailSender{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Add Google login:
//
//	google := oauth2.NewGoogleOAuth2(clientID, clientSecret,
//	    "https://example.com/accounts/google/callback/",
//	    authsite.DeriveKey(secret, "oauth-state"), site.HandleProviderUser)
//	site.AddAuth("/accounts/google", google)
//
//	http.ListenAndServe(":8000", site.Handler())
//
// # Routes
//
//	GET       /                                  landing page
//	GET,POST  /signup/                           create an account
//	GET       /verify-email-pending/{uid}/       check your inbox
//	POST      /verify-email-pending/{uid}/resend/
//	GET       /verify-email/{uid}/{token}/       consume a verification link
//	GET,POST  /login/
//	GET       /logout/
//	GET,POST  /password-reset/                   request a reset link
//	GET,POST  /password-reset/{uid}/{token}/     choose a new password
//	GET       /dashboard/                        verified accounts
//	GET       /admin-dashboard/                  admins
//	POST      /admin-dashboard/users/{uid}/role/ admins change another user's role
package authsite
