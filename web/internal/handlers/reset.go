package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/devilmonastery/passgate/internal/domain/entities"
	"github.com/devilmonastery/passgate/internal/domain/services"
)

const (
	textPasswordsDiffer = "The two passwords do not match."
	textPasswordEmpty   = "Enter a new password."
)

// ResetPage shows the first step of the password reset
func (h *Handler) ResetPage(w http.ResponseWriter, r *http.Request) {
	if h.auth.Current(r) != nil {
		http.Redirect(w, r, "/user", http.StatusSeeOther)
		return
	}
	data := h.newTemplateData(r)
	data["Username"] = r.URL.Query().Get("login")
	h.renderTemplate(w, "reset.html", data)
}

// ResetBegin resolves the login and lists the destinations it can reset with
func (h *Handler) ResetBegin(w http.ResponseWriter, r *http.Request) {
	login := r.PostFormValue("login")

	rec, destinations, err := h.svc.Reset.Begin(r.Context(), login)
	if err != nil {
		h.resetStartOver(w, r, login, err)
		return
	}

	data := h.newTemplateData(r)
	data["Username"] = rec.Login
	data["Destinations"] = destinations
	h.renderTemplate(w, "reset_choose.html", data)
}

// ResetChoose dispatches the challenge for the chosen destination
func (h *Handler) ResetChoose(w http.ResponseWriter, r *http.Request) {
	login := r.PostFormValue("login")
	dest, err := entities.ParseDestinationName(r.PostFormValue("destination"))
	if err != nil {
		h.resetStartOver(w, r, login, services.ErrUnsupportedDestination)
		return
	}

	rec, err := h.svc.Reset.Choose(r.Context(), login, dest)
	if err != nil {
		h.resetStartOver(w, r, login, err)
		return
	}

	h.renderSubmitForm(w, r, rec.Login, dest, "")
}

// ResetSubmit verifies the challenge and sets the new password
func (h *Handler) ResetSubmit(w http.ResponseWriter, r *http.Request) {
	login := r.PostFormValue("login")
	dest, err := entities.ParseDestinationName(r.PostFormValue("destination"))
	if err != nil {
		h.resetStartOver(w, r, login, services.ErrUnsupportedDestination)
		return
	}

	password := r.PostFormValue("password")
	switch {
	case password == "":
		h.renderSubmitForm(w, r, login, dest, textPasswordEmpty)
		return
	case password != r.PostFormValue("password_confirm"):
		h.renderSubmitForm(w, r, login, dest, textPasswordsDiffer)
		return
	}

	err = h.svc.Reset.Submit(r.Context(), login, dest, r.PostFormValue("code"), password)
	switch {
	case err == nil:
		h.log.Info("password reset via web", slog.String("login", login), slog.String("destination", dest.String()))
		http.Redirect(w, r, "/auth?reset=done", http.StatusSeeOther)

	case errors.Is(err, services.ErrPersistenceFailure):
		h.resetStartOver(w, r, login, err)

	case errors.Is(err, services.ErrTokenMismatch):
		h.renderSubmitForm(w, r, login, dest, services.UserMessage(err))

	case errors.Is(err, services.ErrPasswordRejected) && dest == entities.DestinationOTP:
		// the chat token is consumed by now, only an OTP form can be retried as is
		h.renderSubmitForm(w, r, login, dest, services.UserMessage(err))

	default:
		h.resetStartOver(w, r, login, err)
	}
}

func (h *Handler) renderSubmitForm(w http.ResponseWriter, r *http.Request, login string, dest entities.Destination, message string) {
	data := h.newTemplateData(r)
	data["Username"] = login
	data["Destination"] = dest
	if message != "" {
		data["Error"] = message
	}
	h.renderTemplate(w, "reset_submit.html", data)
}

// resetStartOver sends the user back to the first step with the error shown
func (h *Handler) resetStartOver(w http.ResponseWriter, r *http.Request, login string, err error) {
	if !services.IsUserError(err) {
		h.log.Error("password reset step failed",
			slog.String("login", login),
			slog.String("error", err.Error()))
	}
	status := http.StatusOK
	if errors.Is(err, services.ErrDirectoryUnavailable) {
		status = http.StatusServiceUnavailable
	}

	data := h.newTemplateData(r)
	data["Username"] = login
	data["Error"] = services.UserMessage(err)
	h.renderStatus(w, status, "reset.html", data)
}
