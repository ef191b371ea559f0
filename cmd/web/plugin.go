package main

import "github.com/etitcombe/jpconnect/config"

// Plugin metadata.
const (
	pluginName    = "Jetpack Connect Simple"
	pluginVersion = "1.0.0"
	pluginSlug    = "jetpack-connect-simple"
)

// Admin-post actions and the nonce actions they are checked against.
const (
	actionRegisterSite   = "register_site"
	actionConnectUser    = "connect_user"
	actionDisconnectUser = "disconnect_user"
	actionDisconnectSite = "disconnect_site"

	nonceRegisterSite   = "register-site"
	nonceConnectUser    = "connect-user"
	nonceDisconnectUser = "disconnect-user"
	nonceDisconnectSite = "disconnect-site"

	nonceField = "_wpnonce"
)

// Routes.
const (
	adminPath     = config.AdminPath
	adminPostPath = "/admin/post"
	authorizePath = "/connection/authorize"
	loginPath     = "/login/"
	logoutPath    = "/logout/"
)

// errorParam carries the text code of a failed action back to the admin page.
const errorParam = "connection_error"

type menuPage struct {
	Slug      string
	PageTitle string
	MenuTitle string
}

const registerSample = `<form action="/admin/post" method="post">
	<input type="hidden" name="action" value="register_site">
	<input type="hidden" name="_wpnonce" value="{{ nonce "register-site" }}">
	<input type="submit" value="Register this site" class="button button-primary">
</form>

func (s *server) registerSite(w http.ResponseWriter, r *http.Request, u *app.User) {
	err := s.manager.Register(r.Context())
	s.finishAction(w, r, actionRegisterSite, err)
}`
