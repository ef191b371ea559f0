package main

import (
	"fmt"
	"net/http"

	"github.com/etitcombe/logifymw"
	"github.com/go-chi/chi/v5"
)

func (s *server) registerRoutes() {
	r := chi.NewRouter()
	r.Use(s.authenticate)

	r.Get("/", s.handleHome())
	r.Handle(loginPath, s.handleLogin())
	r.Handle(logoutPath, s.handleLogout())

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuthentication)
		r.Get(adminPath, s.handleAdminPage())
		r.Post(adminPostPath, s.handleAdminPost())
		r.Get(authorizePath, s.handleAuthorize())
	})

	s.router = s.recoverPanicMw(logifymw.LogIt2(s.infoLog, headersMw(r)))
}

func (s *server) authenticate(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(rememberCookieName)
		if err != nil {
			// When the cookie doesn't exist the err will be "http: named cookie not present"
			h.ServeHTTP(w, r)
			return
		}

		u, err := s.userStore.ByRememberToken(c.Value)
		if err != nil {
			s.infoLog.Println("remember token not found:", err)
			h.ServeHTTP(w, r)
			return
		}

		r = r.WithContext(withSession(r.Context(), session{user: u, token: c.Value}))
		h.ServeHTTP(w, r)
	})
}

func headersMw(next http.Handler) http.Handler {
	var headers = map[string]string{
		"Referrer-Policy":        "same-origin",
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "SAMEORIGIN",
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range headers {
			w.Header().Set(k, v)
		}

		next.ServeHTTP(w, r)
	})
}

func (s *server) recoverPanicMw(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				w.Header().Set("Connection", "close")
				s.serverError(w, r, fmt.Errorf("%s", err))
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func (s *server) requireAuthentication(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.currentUser(r) == nil {
			http.Redirect(w, r, loginPath, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}
