package handlers

import (
	"errors"
	"net/http"

	"github.com/devilmonastery/passgate/internal/domain/entities"
	"github.com/devilmonastery/passgate/internal/domain/services"
	"github.com/devilmonastery/passgate/web/internal/render"
)

const textOTPMismatch = "The code did not match. Check the clock of your device and try again."

var errOTPEnabled = errors.New("otp already enabled")

// OTPNew provisions a TOTP secret, or shows the one still awaiting its first code
func (h *Handler) OTPNew(w http.ResponseWriter, r *http.Request) {
	var p *services.Provisioning
	err := h.withIdentity(r.Context(), func(rec *entities.Identity) error {
		if rec.HasOTP() {
			return errOTPEnabled
		}
		if pending, ok := h.svc.OTP.Pending(rec); ok {
			p = pending
			return nil
		}
		var err error
		p, err = h.svc.OTP.Provision(r.Context(), rec)
		return err
	})
	switch {
	case errors.Is(err, errOTPEnabled):
		http.Redirect(w, r, "/user/reset_info", http.StatusSeeOther)
		return
	case err != nil:
		h.renderError(w, r, err)
		return
	}

	h.renderProvisioning(w, r, http.StatusOK, p, "")
}

// OTPVerify commits the provisioned secret once a code from the app matches
func (h *Handler) OTPVerify(w http.ResponseWriter, r *http.Request) {
	code := r.PostFormValue("code")

	var pending *services.Provisioning
	err := h.withIdentity(r.Context(), func(rec *entities.Identity) error {
		pending, _ = h.svc.OTP.Pending(rec)
		return h.svc.OTP.VerifyAndCommit(r.Context(), rec, code)
	})
	switch {
	case err == nil:
		http.Redirect(w, r, "/user/reset_info?done=otp", http.StatusSeeOther)
	case errors.Is(err, services.ErrNoTokenOutstanding):
		http.Redirect(w, r, "/user/otp_new", http.StatusSeeOther)
	case errors.Is(err, services.ErrTokenMismatch) && pending != nil:
		h.renderProvisioning(w, r, http.StatusOK, pending, textOTPMismatch)
	default:
		h.renderError(w, r, err)
	}
}

// OTPDestroy removes the committed factor
func (h *Handler) OTPDestroy(w http.ResponseWriter, r *http.Request) {
	err := h.withIdentity(r.Context(), func(rec *entities.Identity) error {
		return h.svc.OTP.Destroy(r.Context(), rec)
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	http.Redirect(w, r, "/user/reset_info?done=otp_removed", http.StatusSeeOther)
}

func (h *Handler) renderProvisioning(w http.ResponseWriter, r *http.Request, status int, p *services.Provisioning, message string) {
	qr, err := render.QRDataURI(p.URI)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	data := h.newTemplateData(r)
	data["Secret"] = p.Secret
	data["URI"] = p.URI
	data["QRCode"] = qr
	if message != "" {
		data["Error"] = message
	}
	h.renderStatus(w, status, "otp_new.html", data)
}
