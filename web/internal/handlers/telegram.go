package handlers

import (
	"errors"
	"net/http"

	"github.com/devilmonastery/passgate/internal/domain/entities"
	"github.com/devilmonastery/passgate/internal/domain/services"
	"github.com/devilmonastery/passgate/web/internal/render"
)

// errAlreadyLinked short-circuits withIdentity when there is nothing to start
var errAlreadyLinked = errors.New("already linked")

// TelegramNew issues a chat bind token and shows the bot deep link with its QR code
func (h *Handler) TelegramNew(w http.ResponseWriter, r *http.Request) {
	var (
		rec     *entities.Identity
		binding *services.ChatBinding
	)
	err := h.withIdentity(r.Context(), func(current *entities.Identity) error {
		if current.HasChat() {
			return errAlreadyLinked
		}
		var err error
		rec = current
		binding, err = h.svc.Binding.StartChatBinding(r.Context(), current)
		return err
	})
	switch {
	case errors.Is(err, errAlreadyLinked):
		http.Redirect(w, r, "/user/reset_info", http.StatusSeeOther)
		return
	case err != nil:
		h.renderError(w, r, err)
		return
	}

	qr, err := render.QRDataURI(binding.Link)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	data := h.newTemplateData(r)
	data["Identity"] = rec
	data["Link"] = binding.Link
	data["Token"] = binding.Token
	data["Embedded"] = binding.Embedded
	data["QRCode"] = qr
	h.renderTemplate(w, "telegram_new.html", data)
}

// TelegramDestroy unlinks the chat and tells the former chat about it
func (h *Handler) TelegramDestroy(w http.ResponseWriter, r *http.Request) {
	err := h.withIdentity(r.Context(), func(rec *entities.Identity) error {
		return h.svc.Binding.UnlinkChat(r.Context(), rec)
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	http.Redirect(w, r, "/user/reset_info?done=unlinked", http.StatusSeeOther)
}
