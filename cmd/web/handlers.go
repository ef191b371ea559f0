package main

import (
	"context"
	"net/http"
	"net/url"
	"time"

	app "github.com/etitcombe/jpconnect"
	"github.com/etitcombe/jpconnect/connection"
	"github.com/etitcombe/jpconnect/nonce"
)

// postAction is a handler reachable through the admin-post dispatcher. The
// dispatcher verifies the nonce for nonceAction before calling handle.
type postAction struct {
	nonceAction string
	handle      func(w http.ResponseWriter, r *http.Request, u *app.User)
}

var errorMessages = map[string]string{
	connection.ErrorAlreadyRegistered: "This site is already registered.",
	connection.ErrorNotRegistered:     "The site must be registered before users can be connected or disconnected.",
	connection.ErrorNotConnected:      "You are not connected.",
	connection.ErrorMasterUser:        "You are the master user and cannot be disconnected on your own. Disconnect the site instead.",
	connection.ErrorStateInvalid:      "The authorization request is invalid or has expired. Please try again.",
	connection.ErrorAuthorizeDenied:   "The authorization was denied.",
	connection.ErrorRemoteFailure:     "The connection service could not complete the request. Please try again later.",
	connection.ErrorInternal:          "Something went wrong. Check the error log for details.",
}

func (s *server) registerAdminPage() {
	s.menu = append(s.menu, menuPage{
		Slug:      pluginSlug,
		PageTitle: "Jetpack Connect",
		MenuTitle: "Jetpack Connect",
	})
}

func (s *server) registerPostActions() {
	s.postActions = map[string]postAction{
		actionRegisterSite:   {nonceAction: nonceRegisterSite, handle: s.registerSite},
		actionConnectUser:    {nonceAction: nonceConnectUser, handle: s.connectUser},
		actionDisconnectUser: {nonceAction: nonceDisconnectUser, handle: s.disconnectUser},
		actionDisconnectSite: {nonceAction: nonceDisconnectSite, handle: s.disconnectSite},
	}
}

func (s *server) handleHome() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, s.adminPageURL(), http.StatusFound)
	}
}

func (s *server) handleLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			err := r.ParseForm()
			if err != nil {
				s.clientError(w, http.StatusBadRequest, err.Error())
				return
			}
			email := r.PostFormValue("email")
			if len(email) == 0 {
				s.clientError(w, http.StatusBadRequest, "Email address is required.")
				return
			}
			password := r.PostFormValue("password")
			if len(password) == 0 {
				s.clientError(w, http.StatusBadRequest, "Password is required.")
				return
			}

			u, err := s.userStore.Authenticate(email, password)
			if err != nil {
				s.clientError(w, http.StatusUnauthorized, "")
				return
			}

			token, err := s.userStore.CreateRememberToken(u)
			if err != nil {
				s.serverError(w, r, err)
				return
			}

			c := http.Cookie{
				HttpOnly: true,
				Name:     rememberCookieName,
				Value:    token,
				Path:     "/",
				Expires:  time.Now().AddDate(1, 0, 0),
				MaxAge:   365 * 24 * 60 * 60,
				SameSite: http.SameSiteLaxMode,
			}
			http.SetCookie(w, &c)
			http.Redirect(w, r, s.adminPageURL(), http.StatusFound)
			return
		}

		if r.Method != http.MethodGet {
			s.clientError(w, http.StatusMethodNotAllowed, "")
			return
		}
		s.render(w, r, "login", "Login", nil)
	}
}

func (s *server) handleLogout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sess, ok := s.session(r); ok {
			if err := s.userStore.ClearRememberToken(sess.token); err != nil {
				s.serverError(w, r, err)
				return
			}
		}
		http.SetCookie(w, &http.Cookie{
			HttpOnly: true,
			Name:     rememberCookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
		})
		http.Redirect(w, r, loginPath, http.StatusFound)
	}
}

// handleAdminPost dispatches a form post to the handler registered for its
// action field.
func (s *server) handleAdminPost() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			s.clientError(w, http.StatusBadRequest, err.Error())
			return
		}
		action := r.PostFormValue("action")
		pa, ok := s.postActions[action]
		if !ok {
			s.clientError(w, http.StatusBadRequest, "unknown action")
			return
		}
		if !s.checkAdminReferer(r, pa.nonceAction) {
			s.clientError(w, http.StatusForbidden, "The link you followed has expired.")
			return
		}
		pa.handle(w, r, s.currentUser(r))
	}
}

// checkAdminReferer reports whether the posted nonce is valid for action and
// the current session.
func (s *server) checkAdminReferer(r *http.Request, action string) bool {
	sess, ok := s.session(r)
	if !ok {
		return false
	}
	return s.nonces.Verify(r.PostFormValue(nonceField), action, sess.user.ID, sess.token) != nonce.Invalid
}

func (s *server) registerSite(w http.ResponseWriter, r *http.Request, u *app.User) {
	err := s.manager.Register(r.Context())
	s.finishAction(w, r, actionRegisterSite, err)
}

func (s *server) connectUser(w http.ResponseWriter, r *http.Request, u *app.User) {
	authorizeURL, err := s.manager.ConnectUser(r.Context(), u.ID, s.authorizeCallbackURL())
	if err != nil {
		s.finishAction(w, r, actionConnectUser, err)
		return
	}
	http.Redirect(w, r, authorizeURL, http.StatusFound)
}

func (s *server) disconnectUser(w http.ResponseWriter, r *http.Request, u *app.User) {
	err := s.manager.DisconnectUser(r.Context(), u.ID)
	s.finishAction(w, r, actionDisconnectUser, err)
}

// disconnectSite deregisters the site and deletes every local token. The
// tokens are deleted even when the remote deregistration fails.
func (s *server) disconnectSite(w http.ResponseWriter, r *http.Request, u *app.User) {
	err := s.manager.DisconnectSite(r.Context())
	if err != nil {
		s.errorLog.Printf("%s: %v", actionDisconnectSite, err)
	}
	if delErr := s.manager.DeleteAllConnectionTokens(r.Context()); delErr != nil {
		err = delErr
	}
	s.finishAction(w, r, actionDisconnectSite, err)
}

// finishAction redirects back to the referring page, or to the home page when
// there is no safe referer. A failed action is logged and its text code is
// passed to the page.
func (s *server) finishAction(w http.ResponseWriter, r *http.Request, action string, err error) {
	target := s.safeReferer(r)
	if err != nil {
		s.errorLog.Printf("%s: %v", action, err)
		target = setQuery(target, errorParam, connection.TextCode(err))
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// handleAuthorize completes the authorization flow when the remote service
// sends the user back.
func (s *server) handleAuthorize() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := s.adminPageURL()
		q := r.URL.Query()
		if denied := q.Get("error"); denied != "" {
			s.infoLog.Printf("authorization denied: %s", denied)
			http.Redirect(w, r, setQuery(target, errorParam, connection.ErrorAuthorizeDenied), http.StatusFound)
			return
		}

		u := s.currentUser(r)
		if err := s.manager.Authorize(r.Context(), u.ID, q.Get("code"), q.Get("state")); err != nil {
			s.errorLog.Printf("authorize: %v", err)
			target = setQuery(target, errorParam, connection.TextCode(err))
		}
		http.Redirect(w, r, target, http.StatusFound)
	}
}

type connectPage struct {
	Registered    bool
	UserConnected bool
	MasterUser    bool
	AuthorizeURL  string
	PostURL       string
	Nonces        map[string]string
	Error         string
	CodeSample    string
	Options       string
	Private       string
}

func (s *server) handleAdminPage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slug := r.URL.Query().Get("page")
		if slug == "" {
			http.Redirect(w, r, s.adminPageURL(), http.StatusFound)
			return
		}
		page, ok := s.menuPage(slug)
		if !ok {
			s.clientError(w, http.StatusNotFound, "Sorry, you are not allowed to access this page.")
			return
		}

		data, err := s.connectPageData(r.Context(), r)
		if err != nil {
			s.serverError(w, r, err)
			return
		}
		s.render(w, r, "connect", page.PageTitle, data)
	}
}

func (s *server) connectPageData(ctx context.Context, r *http.Request) (connectPage, error) {
	u := s.currentUser(r)

	userToken, err := s.manager.AccessToken(ctx, u.ID)
	if err != nil {
		return connectPage{}, err
	}
	blogToken, err := s.manager.AccessToken(ctx, 0)
	if err != nil {
		return connectPage{}, err
	}

	data := connectPage{
		Registered:    blogToken != "",
		UserConnected: userToken != "",
		PostURL:       adminPostPath,
		CodeSample:    registerSample,
		Nonces: map[string]string{
			nonceRegisterSite:   s.nonceFor(r, nonceRegisterSite),
			nonceConnectUser:    s.nonceFor(r, nonceConnectUser),
			nonceDisconnectUser: s.nonceFor(r, nonceDisconnectUser),
			nonceDisconnectSite: s.nonceFor(r, nonceDisconnectSite),
		},
	}
	if code := r.URL.Query().Get(errorParam); code != "" {
		data.Error = errorMessages[code]
	}

	if data.UserConnected {
		data.MasterUser, err = s.manager.IsMasterUser(ctx, u.ID)
		if err != nil {
			return connectPage{}, err
		}
	}
	if data.Registered && !data.UserConnected {
		data.AuthorizeURL, err = s.manager.AuthorizationURL(ctx, u.ID, s.authorizeCallbackURL())
		if err != nil {
			return connectPage{}, err
		}
	}

	options, err := s.optionStore.Get(ctx, app.OptionsName)
	if err != nil {
		return connectPage{}, err
	}
	private, err := s.optionStore.Get(ctx, app.PrivateOptionsName)
	if err != nil {
		return connectPage{}, err
	}
	data.Options = printR(options)
	data.Private = printR(private)
	return data, nil
}

func (s *server) menuPage(slug string) (menuPage, bool) {
	for _, p := range s.menu {
		if p.Slug == slug {
			return p, true
		}
	}
	return menuPage{}, false
}

func (s *server) adminPageURL() string {
	return setQuery(s.adminURL, "page", pluginSlug)
}

func (s *server) authorizeCallbackURL() string {
	u, err := url.Parse(s.adminURL)
	if err != nil {
		return authorizePath
	}
	ref, _ := url.Parse(authorizePath)
	return u.ResolveReference(ref).String()
}

// safeReferer returns the referer of r when it points to this host, without
// a stale error code, and the home URL otherwise.
func (s *server) safeReferer(r *http.Request) string {
	ref := r.Referer()
	if ref == "" {
		return s.homeURL
	}
	u, err := url.Parse(ref)
	if err != nil || (u.Host != "" && u.Host != r.Host) || (u.Host == "" && u.Scheme != "") {
		return s.homeURL
	}
	q := u.Query()
	q.Del(errorParam)
	u.RawQuery = q.Encode()
	return u.String()
}

func setQuery(target, key, value string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
