package main

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"runtime/debug"

	app "github.com/etitcombe/jpconnect"
	"github.com/etitcombe/jpconnect/nonce"
)

//go:embed templates/*.gohtml
var templateFS embed.FS

type contextKey string

const (
	rememberCookieName string = "jpconnect-remember"

	sessionKey contextKey = "session"
)

// session is the logged in user of a request and the remember token that
// identifies the login.
type session struct {
	user  *app.User
	token string
}

type server struct {
	infoLog  *log.Logger
	errorLog *log.Logger

	router http.Handler

	userStore   app.UserStore
	optionStore app.OptionStore
	manager     app.ConnectionManager
	nonces      *nonce.Generator

	homeURL  string
	adminURL string

	menu        []menuPage
	postActions map[string]postAction

	templateCache map[string]*template.Template
}

type viewModel struct {
	Title string
	User  *app.User
	Menu  []menuPage
	Yield interface{}
}

type serverDeps struct {
	userStore   app.UserStore
	optionStore app.OptionStore
	manager     app.ConnectionManager
	nonces      *nonce.Generator
	homeURL     string
	adminURL    string
}

func newServer(infoLog, errorLog *log.Logger, deps serverDeps) *server {
	srv := &server{
		infoLog:     infoLog,
		errorLog:    errorLog,
		userStore:   deps.userStore,
		optionStore: deps.optionStore,
		manager:     deps.manager,
		nonces:      deps.nonces,
		homeURL:     deps.homeURL,
		adminURL:    deps.adminURL,
	}
	srv.parseTemplates()
	srv.registerAdminPage()
	srv.registerPostActions()
	srv.registerRoutes()
	return srv
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *server) clientError(w http.ResponseWriter, status int, message string) {
	errorMessage := http.StatusText(status)
	if message != "" {
		errorMessage += ": " + message
	}
	http.Error(w, errorMessage, status)
}

func (s *server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	trace := fmt.Sprintf("%s\n%s", err.Error(), debug.Stack())
	s.errorLog.Output(2, trace)

	errorMessage := http.StatusText(http.StatusInternalServerError)
	if s.currentUser(r) != nil {
		errorMessage += "\n" + trace
	}
	http.Error(w, errorMessage, http.StatusInternalServerError)
}

func withSession(ctx context.Context, sess session) context.Context {
	return context.WithValue(ctx, sessionKey, sess)
}

func (s *server) session(r *http.Request) (session, bool) {
	if temp := r.Context().Value(sessionKey); temp != nil {
		if val, ok := temp.(session); ok {
			return val, true
		}
		s.errorLog.Printf("session context.value is not a session: %v", temp)
	}
	return session{}, false
}

func (s *server) currentUser(r *http.Request) *app.User {
	sess, ok := s.session(r)
	if !ok {
		return nil
	}
	return sess.user
}

// nonceFor returns the nonce for action bound to the session of r.
func (s *server) nonceFor(r *http.Request, action string) string {
	sess, ok := s.session(r)
	if !ok {
		return ""
	}
	return s.nonces.Create(action, sess.user.ID, sess.token)
}

func (s *server) parseTemplates() {
	cache := map[string]*template.Template{}
	for _, name := range []string{"login", "connect"} {
		cache[name] = template.Must(template.New(name).ParseFS(templateFS, "templates/layout.gohtml", "templates/"+name+".gohtml"))
	}
	s.templateCache = cache
}

func (s *server) render(w http.ResponseWriter, r *http.Request, name, title string, data interface{}) {
	ts, ok := s.templateCache[name]
	if !ok {
		s.serverError(w, r, fmt.Errorf("template %s does not exist", name))
		return
	}

	vm := viewModel{
		Title: title,
		User:  s.currentUser(r),
		Yield: data,
	}
	if vm.User != nil {
		vm.Menu = s.menu
	}

	buf := bytes.Buffer{}
	if err := ts.ExecuteTemplate(&buf, "layout", vm); err != nil {
		s.serverError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}
