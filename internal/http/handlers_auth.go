package http

import (
	"net/http"

	"budgetbuddy/internal/core"
	"budgetbuddy/internal/log"
)

const afterLogin = "/dashboard"

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "home.html", s.newPage(r, "Home"))
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	next := safeNext(r.URL.Query().Get("next"), "")
	if s.budget.IsAuthenticated() {
		redirect(w, r, safeNext(next, afterLogin))
		return
	}
	p := s.newPage(r, "Login")
	p.Form["next"] = next
	s.render(w, r, http.StatusOK, "login.html", p)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	form, err := parseForm(w, r)
	if err != nil {
		BadRequestError("Invalid request format").Write(w, r)
		return
	}
	p := s.newPage(r, "Login")
	p.Form = form.Values(credentialFields...)
	p.Form["password"] = ""
	p.Form["next"] = safeNext(p.Form["next"], "")

	if _, err := s.budget.Login(r.Context(), parseCredentials(form)); err != nil {
		s.formFailed(w, r, "login.html", p, err)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Login succeeded", log.FieldOperation, log.OpLogin)
	redirect(w, r, safeNext(p.Form["next"], afterLogin))
}

func (s *Server) handleRegisterPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "register.html", s.newPage(r, "Register"))
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	form, err := parseForm(w, r)
	if err != nil {
		BadRequestError("Invalid request format").Write(w, r)
		return
	}
	p := s.newPage(r, "Register")
	p.Form = form.Values(registerFields...)
	p.Form["password"], p.Form["confirmPassword"] = "", ""

	if _, err := s.budget.Register(r.Context(), parseRegistration(form)); err != nil {
		s.formFailed(w, r, "register.html", p, err)
		return
	}
	redirect(w, r, "/login?notice=registered")
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.budget.Logout(r.Context()); err != nil {
		// the in-memory session is gone even if storage failed
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Logout failed", log.FieldError, err)
	}
	redirect(w, r, "/login?notice=logged-out")
}

func (s *Server) handleProfilePage(w http.ResponseWriter, r *http.Request) {
	p := s.newPage(r, "Profile")
	if p.User != nil {
		p.Form["username"] = p.User.Name
		p.Form["email"] = p.User.Email
	}
	s.render(w, r, http.StatusOK, "profile.html", p)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	form, err := parseForm(w, r)
	if err != nil {
		BadRequestError("Invalid request format").Write(w, r)
		return
	}
	p := s.newPage(r, "Profile")
	p.Form = form.Values(profileFields...)

	in := core.ProfileUpdate{Username: p.Form["username"], Email: p.Form["email"]}
	if _, err := s.budget.UpdateProfile(r.Context(), in); err != nil {
		s.formFailed(w, r, "profile.html", p, err)
		return
	}
	redirect(w, r, "/profile?notice=profile-saved")
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	form, err := parseForm(w, r)
	if err != nil {
		BadRequestError("Invalid request format").Write(w, r)
		return
	}
	p := s.newPage(r, "Profile")
	if p.User != nil {
		p.Form["username"] = p.User.Name
		p.Form["email"] = p.User.Email
	}

	if err := s.budget.ChangePassword(r.Context(), core.PasswordChange{NewPassword: form.Get("newPassword")}); err != nil {
		s.formFailed(w, r, "profile.html", p, err)
		return
	}
	redirect(w, r, "/profile?notice=password-changed")
}
