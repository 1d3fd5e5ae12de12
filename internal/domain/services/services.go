package services

import (
	"github.com/devilmonastery/passgate/internal/config"
	"github.com/devilmonastery/passgate/internal/domain/directory"
	"github.com/devilmonastery/passgate/internal/domain/repositories"
)

// Deps are the collaborators every binary wires into the services
type Deps struct {
	Config       *config.Config
	Directory    directory.Directory
	Repositories *repositories.Repositories
	Chat         Messenger // outbound chat delivery
	Email        Messenger // nil when SMTP is disabled
	PortalURL    string    // public web portal URL for notice links; defaults to Config.Web.BaseURL
}

// Services groups the domain services sharing one store and one lock table
type Services struct {
	Identities *IdentityService
	Tokens     *TokenService
	OTP        *OTPService
	Binding    *BindingService
	Reset      *ResetService
	Sessions   *SessionService
	Audit      *Auditor
}

// New builds all services from deps
func New(d Deps) *Services {
	audit := NewAuditor(d.Repositories.Audit)
	identities := NewIdentityService(d.Directory, d.Repositories.Identities, d.Config.Directory, NewKeyedMutex())
	tokens := NewTokenService(identities, audit)
	otpService := NewOTPService(identities, audit, d.Config.OTP)
	portalURL := d.PortalURL
	if portalURL == "" {
		portalURL = d.Config.Web.BaseURL
	}

	return &Services{
		Identities: identities,
		Tokens:     tokens,
		OTP:        otpService,
		Binding:    NewBindingService(identities, tokens, d.Chat, audit, d.Config.Telegram.BotURL, portalURL),
		Reset:      NewResetService(identities, tokens, otpService, d.Directory, d.Chat, d.Email, audit, portalURL),
		Sessions:   NewSessionService(d.Repositories.Sessions, identities, d.Directory, audit, d.Config.Session.MaxTime),
		Audit:      audit,
	}
}
