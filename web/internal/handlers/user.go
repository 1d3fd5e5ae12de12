package handlers

import (
	"log/slog"
	"net/http"
	"net/mail"
	"strings"

	"github.com/devilmonastery/passgate/internal/domain/entities"
)

var resetInfoNotices = map[string]string{
	"channels":    "Your contact details were saved.",
	"unlinked":    "Telegram was unlinked.",
	"otp":         "The authenticator app is enabled.",
	"otp_removed": "The authenticator app was removed.",
}

// Profile shows the authenticated user and their bound channels
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	rec, err := h.currentIdentity(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	data := h.newTemplateData(r)
	data["Identity"] = rec
	h.renderTemplate(w, "user.html", data)
}

// ResetInfo lists the reset destinations with link and unlink actions
func (h *Handler) ResetInfo(w http.ResponseWriter, r *http.Request) {
	rec, err := h.currentIdentity(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	data := h.newTemplateData(r)
	data["Identity"] = rec
	data["Destinations"] = rec.AvailableDestinations()
	data["Notice"] = resetInfoNotices[r.URL.Query().Get("done")]
	h.renderTemplate(w, "reset_info.html", data)
}

// Channels replaces the email and phone channels. A field missing from the form is left alone.
func (h *Handler) Channels(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	email := formField(r, "email")
	if email != nil && *email != "" {
		addr, err := mail.ParseAddress(*email)
		if err != nil {
			data := h.newTemplateData(r)
			if rec, err := h.currentIdentity(r); err == nil {
				data["Identity"] = rec
				data["Destinations"] = rec.AvailableDestinations()
			}
			data["Error"] = "That email address does not look right."
			h.renderStatus(w, http.StatusBadRequest, "reset_info.html", data)
			return
		}
		*email = addr.Address
	}
	phone := formField(r, "phone")

	err := h.withIdentity(r.Context(), func(rec *entities.Identity) error {
		return h.svc.Binding.SetChannels(r.Context(), rec, email, phone)
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	h.log.Info("channels updated", slog.Bool("email", email != nil), slog.Bool("phone", phone != nil))
	http.Redirect(w, r, "/user/reset_info?done=channels", http.StatusSeeOther)
}

func formField(r *http.Request, name string) *string {
	if _, ok := r.PostForm[name]; !ok {
		return nil
	}
	v := strings.TrimSpace(r.PostForm.Get(name))
	return &v
}
