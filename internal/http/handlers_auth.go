package http

import (
	"net/http"

	"expensedash/internal/core"
	"expensedash/internal/guard"
	applog "expensedash/internal/log"
)

type authPage struct {
	Name   string
	From   string
	Error  string
	Notice string
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	if _, ok := s.sessions.User(); ok {
		http.Redirect(w, r, guard.AfterLogin(from), http.StatusSeeOther)
		return
	}

	page := authPage{From: from}
	if r.URL.Query().Get("registered") != "" {
		page.Notice = "Registration successful. Please log in."
	}
	s.render(w, r, http.StatusOK, "login.html", page)
}

// handleLogin exchanges the form credentials for a session. A session that
// could not be persisted still logs the user in for this process.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := applog.FromContext(ctx)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	creds := core.Credentials{
		Name:     sanitizeInput(r.PostForm.Get("name")),
		Password: r.PostForm.Get("password"),
	}
	from := r.PostForm.Get("from")

	user, token, err := s.auth.Login(ctx, creds)
	if err != nil {
		s.render(w, r, statusFor(err), "login.html", authPage{
			Name:  creds.Name,
			From:  from,
			Error: core.UserMessage(err),
		})
		return
	}

	if err := s.sessions.Login(ctx, user, token); err != nil {
		if _, ok := s.sessions.User(); !ok {
			logger.ErrorContext(ctx, "Session rejected", applog.FieldError, err)
			s.render(w, r, http.StatusInternalServerError, "login.html", authPage{
				Name:  creds.Name,
				From:  from,
				Error: core.UserMessage(err),
			})
			return
		}
		logger.WarnContext(ctx, "Session not persisted", applog.FieldError, err)
	}

	http.Redirect(w, r, guard.AfterLogin(from), http.StatusSeeOther)
}

func (s *Server) handleRegisterPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "register.html", authPage{})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	creds := core.Credentials{
		Name:     sanitizeInput(r.PostForm.Get("name")),
		Password: r.PostForm.Get("password"),
	}
	if _, err := s.auth.Register(ctx, creds, r.PostForm.Get("confirm_password")); err != nil {
		s.render(w, r, statusFor(err), "register.html", authPage{
			Name:  creds.Name,
			Error: core.UserMessage(err),
		})
		return
	}
	http.Redirect(w, r, guard.EntryPath+"?registered=1", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.sessions.Logout(ctx); err != nil {
		applog.FromContext(ctx).WarnContext(ctx, "Session slot not cleared", applog.FieldError, err)
	}
	http.Redirect(w, r, guard.EntryPath, http.StatusSeeOther)
}
