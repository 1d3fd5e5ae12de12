package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/devilmonastery/passgate/internal/domain/directory"
	"github.com/devilmonastery/passgate/internal/domain/entities"
	"github.com/devilmonastery/passgate/internal/pkg/logger"
	"github.com/devilmonastery/passgate/internal/pkg/metrics"
	"github.com/devilmonastery/passgate/internal/pkg/urlutil"
)

// ResetService drives the web password reset: begin, choose a destination, submit the challenge
type ResetService struct {
	identities *IdentityService
	tokens     *TokenService
	otp        *OTPService
	dir        directory.Directory
	chat       Messenger
	email      Messenger
	audit      *Auditor
	portalURL  string
	logger     *slog.Logger
}

// NewResetService creates a new reset service. email may be nil when SMTP is disabled,
// portalURL may be empty.
func NewResetService(identities *IdentityService, tokens *TokenService, otpService *OTPService, dir directory.Directory, chat, email Messenger, audit *Auditor, portalURL string) *ResetService {
	if chat == nil {
		chat = NopMessenger{}
	}
	if email == nil {
		email = NopMessenger{}
	}
	return &ResetService{
		identities: identities,
		tokens:     tokens,
		otp:        otpService,
		dir:        dir,
		chat:       chat,
		email:      email,
		audit:      audit,
		portalURL:  portalURL,
		logger:     slog.Default().With(slog.String("component", "reset_service")),
	}
}

// Begin resolves login and lists the destinations it can reset with. Nothing is written.
func (s *ResetService) Begin(ctx context.Context, login string) (*entities.Identity, []entities.Destination, error) {
	rec, err := s.identities.Resolve(ctx, login)
	if err != nil {
		return nil, nil, err
	}
	return rec, rec.AvailableDestinations(), nil
}

// Choose prepares the challenge for dest. For the chat destination a reset token is
// issued and delivered; the OTP factor needs no dispatch.
func (s *ResetService) Choose(ctx context.Context, login string, dest entities.Destination) (*entities.Identity, error) {
	principal, err := s.identities.Normalize(login)
	if err != nil {
		return nil, err
	}
	unlock := s.identities.Lock(principal)
	defer unlock()

	rec, err := s.identities.Resolve(ctx, principal)
	if err != nil {
		return nil, err
	}

	switch dest {
	case entities.DestinationOTP:
		if !rec.HasOTP() {
			return rec, ErrDestinationUnavailable
		}
		return rec, nil

	case entities.DestinationChat:
		if !rec.HasChat() {
			return rec, ErrDestinationUnavailable
		}
		token, err := s.tokens.Issue(ctx, rec, TokenReset, entities.DestinationChat)
		if err != nil {
			return rec, err
		}
		deliver(ctx, s.logger, s.chat, rec.ChatDestinationID(),
			fmt.Sprintf("Your password reset code: %s\nIf you did not ask for it, ignore this message.", token))
		return rec, nil

	case entities.DestinationEmail:
		if rec.EmailChannel == nil {
			return rec, ErrDestinationUnavailable
		}
		return rec, nil

	case entities.DestinationPhone:
		if rec.PhoneChannel == nil {
			return rec, ErrDestinationUnavailable
		}
		return rec, nil

	default:
		return rec, ErrUnsupportedDestination
	}
}

// Submit verifies code for dest and, on success, sets newPassword in the directory.
// Each outstanding chat token is consumed before the directory is called, so a
// resubmitted form is always rejected.
func (s *ResetService) Submit(ctx context.Context, login string, dest entities.Destination, code, newPassword string) error {
	principal, err := s.identities.Normalize(login)
	if err != nil {
		return err
	}
	unlock := s.identities.Lock(principal)
	defer unlock()

	rec, err := s.identities.Resolve(ctx, principal)
	if err != nil {
		return err
	}

	switch dest {
	case entities.DestinationOTP:
		if !rec.HasOTP() {
			return s.failed(ctx, rec, dest, ErrDestinationUnavailable)
		}
		if !s.otp.VerifyResetChallenge(*rec.OTPSecret, code) {
			return s.failed(ctx, rec, dest, ErrTokenMismatch)
		}

	case entities.DestinationChat:
		if err := s.tokens.Check(ctx, rec, TokenReset, code); err != nil {
			return s.failed(ctx, rec, dest, err)
		}
		rec.ClearResetToken()
		if err := s.identities.Save(ctx, rec); err != nil {
			return err
		}

	default:
		return s.failed(ctx, rec, dest, ErrUnsupportedDestination)
	}

	if newPassword == "" {
		return s.failed(ctx, rec, dest, ErrPasswordRejected)
	}

	if err := s.dir.SetPassword(ctx, rec.Login, newPassword); err != nil {
		switch {
		case errors.Is(err, directory.ErrPasswordRejected):
			err = fmt.Errorf("%w: %w", ErrPasswordRejected, err)
		case errors.Is(err, directory.ErrPrincipalNotFound):
			err = ErrNotFound
		default:
			err = fmt.Errorf("%w: %w", ErrDirectoryUnavailable, err)
		}
		return s.failed(ctx, rec, dest, err)
	}

	metrics.PasswordResets.WithLabelValues(dest.String(), "success").Inc()
	s.audit.record(ctx, entities.NewAuditLog(rec.Login, entities.ActionPasswordReset).WithDestination(dest))
	s.logger.Info("password reset", slog.String("login", rec.Login), slog.String("destination", dest.String()))

	s.notifyReset(ctx, rec)
	return nil
}

func (s *ResetService) failed(ctx context.Context, rec *entities.Identity, dest entities.Destination, err error) error {
	metrics.PasswordResets.WithLabelValues(dest.String(), "failure").Inc()
	s.audit.record(ctx, entities.NewAuditLog(rec.Login, entities.ActionPasswordResetFailed).
		WithDestination(dest).
		WithError(err))
	logger.WithLogin(s.logger, rec.Login).Info("password reset failed",
		slog.String("destination", dest.String()),
		slog.String("reason", err.Error()))
	return err
}

// notifyReset tells every bound channel that the password changed
func (s *ResetService) notifyReset(ctx context.Context, rec *entities.Identity) {
	name := rec.DisplayName
	if name == "" {
		name = rec.Login
	}
	text := fmt.Sprintf("The password for %s (%s) was just changed. If this was not you, contact your administrator.", name, rec.Login)
	if s.portalURL != "" {
		if link, err := urlutil.BuildResetURL(s.portalURL, rec.Login); err == nil {
			text = fmt.Sprintf("The password for %s (%s) was just changed. If this was not you, reset it again at %s and contact your administrator.",
				name, rec.Login, link)
		} else {
			s.logger.Warn("invalid portal url", slog.String("error", err.Error()))
		}
	}

	deliver(ctx, s.logger, s.chat, rec.ChatDestinationID(), text)
	if rec.EmailChannel != nil {
		deliver(ctx, s.logger, s.email, *rec.EmailChannel, text)
	}
}
