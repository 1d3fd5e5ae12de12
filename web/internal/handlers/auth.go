package handlers

import (
	"log/slog"
	"net/http"

	"github.com/devilmonastery/passgate/internal/domain/services"
)

// Index sends users to their profile or to the login page
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	if h.auth.Current(r) != nil {
		http.Redirect(w, r, "/user", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/auth", http.StatusSeeOther)
}

// AuthPage shows the login form
func (h *Handler) AuthPage(w http.ResponseWriter, r *http.Request) {
	if h.auth.Current(r) != nil {
		http.Redirect(w, r, "/user", http.StatusSeeOther)
		return
	}

	data := h.newTemplateData(r)
	data["Username"] = r.URL.Query().Get("login")
	if r.URL.Query().Get("reset") == "done" {
		data["Notice"] = "Your password was changed. Log in with the new one."
	}
	h.renderTemplate(w, "auth.html", data)
}

// Login checks the credentials against the directory and starts a browser session
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if h.auth.Current(r) != nil {
		http.Redirect(w, r, "/user", http.StatusSeeOther)
		return
	}

	login := r.PostFormValue("login")
	password := r.PostFormValue("password")
	previousID, _ := h.sessionManager.GetSessionID(r)

	s, err := h.svc.Sessions.Login(r.Context(), login, password, r.UserAgent(), previousID)
	if err != nil {
		if !services.IsUserError(err) {
			h.log.Error("login failed", slog.String("error", err.Error()))
		}
		data := h.newTemplateData(r)
		data["Username"] = login
		data["Error"] = services.UserMessage(err)
		h.renderTemplate(w, "auth.html", data)
		return
	}

	if err := h.sessionManager.SetSessionID(r, w, s.ID); err != nil {
		h.log.Error("failed to save session cookie", slog.String("error", err.Error()))
		h.renderError(w, r, err)
		return
	}
	http.Redirect(w, r, "/user", http.StatusSeeOther)
}

// Logout drops the browser session and its cookie
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if id, err := h.sessionManager.GetSessionID(r); err == nil {
		if err := h.svc.Sessions.Logout(r.Context(), id); err != nil {
			h.log.Error("failed to delete session", slog.String("error", err.Error()))
		}
	}
	if err := h.sessionManager.Clear(r, w); err != nil {
		h.log.Error("error clearing session", slog.String("error", err.Error()))
	}
	http.Redirect(w, r, "/auth", http.StatusSeeOther)
}
