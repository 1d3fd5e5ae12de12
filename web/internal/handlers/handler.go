package handlers

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/devilmonastery/passgate/internal/domain/entities"
	"github.com/devilmonastery/passgate/internal/domain/services"
	"github.com/devilmonastery/passgate/web/internal/middleware"
	"github.com/devilmonastery/passgate/web/internal/render"
	"github.com/devilmonastery/passgate/web/internal/session"
)

// Handler holds dependencies for all web handlers
type Handler struct {
	svc            *services.Services
	sessionManager *session.Manager
	auth           *middleware.AuthMiddleware
	templates      *render.TemplateSet
	log            *slog.Logger
}

// New creates a new handler with dependencies
func New(svc *services.Services, sessionManager *session.Manager, auth *middleware.AuthMiddleware, templates *render.TemplateSet, logger *slog.Logger) *Handler {
	return &Handler{
		svc:            svc,
		sessionManager: sessionManager,
		auth:           auth,
		templates:      templates,
		log:            logger.With(slog.String("component", "web_handler")),
	}
}

// newTemplateData creates a new template data map with standard fields populated
// Callers can add page-specific fields to the returned map
func (h *Handler) newTemplateData(r *http.Request) map[string]interface{} {
	login, _ := middleware.LoginFromContext(r.Context())
	return map[string]interface{}{
		"Login": login,
	}
}

// renderTemplate renders a page with status 200
func (h *Handler) renderTemplate(w http.ResponseWriter, name string, data interface{}) {
	h.renderStatus(w, http.StatusOK, name, data)
}

// renderStatus renders a page into a buffer first so a template failure still yields a clean 500
func (h *Handler) renderStatus(w http.ResponseWriter, status int, name string, data interface{}) {
	if h.templates == nil {
		http.Error(w, "Templates not loaded", http.StatusInternalServerError)
		return
	}
	h.log.Debug("rendering template", slog.String("template", name))

	var buf bytes.Buffer
	if err := h.templates.Execute(&buf, name, data); err != nil {
		h.log.Error("template rendering failed",
			slog.String("template", name),
			slog.String("error", err.Error()))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// renderError shows the error page for an unrecoverable failure of the current step
func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrDirectoryUnavailable):
		status = http.StatusServiceUnavailable
	case services.IsUserError(err):
		status = http.StatusBadRequest
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}

	data := h.newTemplateData(r)
	data["Status"] = status
	data["Message"] = services.UserMessage(err)
	h.renderStatus(w, status, "error.html", data)
}

// NotFound renders the 404 page
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	data := h.newTemplateData(r)
	data["Status"] = http.StatusNotFound
	data["Message"] = "Page not found."
	h.renderStatus(w, http.StatusNotFound, "error.html", data)
}

// currentIdentity resolves the record of the authenticated user
func (h *Handler) currentIdentity(r *http.Request) (*entities.Identity, error) {
	login, ok := middleware.LoginFromContext(r.Context())
	if !ok {
		return nil, services.ErrSessionInvalid
	}
	return h.svc.Identities.Resolve(r.Context(), login)
}

// withIdentity runs fn on the authenticated user's record under the login lock
func (h *Handler) withIdentity(ctx context.Context, fn func(rec *entities.Identity) error) error {
	login, ok := middleware.LoginFromContext(ctx)
	if !ok {
		return services.ErrSessionInvalid
	}
	unlock := h.svc.Identities.Lock(login)
	defer unlock()

	rec, err := h.svc.Identities.Resolve(ctx, login)
	if err != nil {
		return err
	}
	return fn(rec)
}
