package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/devilmonastery/passgate/internal/domain/entities"
	"github.com/devilmonastery/passgate/internal/pkg/urlutil"
)

// ChatBinding is what the web portal shows a user starting a chat binding
type ChatBinding struct {
	Token   string
	Payload string
	Link    string
	// Embedded is false when the payload was too long for a deep link and Link is the bare bot URL
	Embedded bool
}

// BindingService links and unlinks out-of-band channels
type BindingService struct {
	identities *IdentityService
	tokens     *TokenService
	chat       Messenger
	audit      *Auditor
	botURL     string
	portalURL  string
	logger     *slog.Logger
}

// NewBindingService creates a new binding service. portalURL may be empty.
func NewBindingService(identities *IdentityService, tokens *TokenService, chat Messenger, audit *Auditor, botURL, portalURL string) *BindingService {
	if chat == nil {
		chat = NopMessenger{}
	}
	return &BindingService{
		identities: identities,
		tokens:     tokens,
		chat:       chat,
		audit:      audit,
		botURL:     botURL,
		portalURL:  portalURL,
		logger:     slog.Default().With(slog.String("component", "binding_service")),
	}
}

// StartChatBinding issues a bind token for the chat destination and builds the bot deep link
func (s *BindingService) StartChatBinding(ctx context.Context, rec *entities.Identity) (*ChatBinding, error) {
	token, err := s.tokens.Issue(ctx, rec, TokenBind, entities.DestinationChat)
	if err != nil {
		return nil, err
	}

	payload := urlutil.EncodeBindPayload(rec.Login, token)
	link, embedded, err := urlutil.TelegramDeepLink(s.botURL, payload)
	if err != nil {
		return nil, fmt.Errorf("invalid bot url: %w", err)
	}
	if !embedded {
		s.logger.Info("binding payload too long for deep link",
			slog.String("login", rec.Login),
			slog.Int("payload_length", len(payload)))
	}

	return &ChatBinding{Token: token, Payload: payload, Link: link, Embedded: embedded}, nil
}

// CommitChat binds chatID to rec. A still outstanding chat bind token is consumed in the same save.
func (s *BindingService) CommitChat(ctx context.Context, rec *entities.Identity, chatID int64) error {
	before := rec.Clone()
	rec.BindChat(chatID)
	if rec.BindDestination == entities.DestinationChat {
		rec.ClearBindToken()
	}
	if err := s.identities.Save(ctx, rec); err != nil {
		*rec = *before
		return err
	}

	s.audit.record(ctx, entities.NewAuditLog(rec.Login, entities.ActionChatBound).
		WithDestination(entities.DestinationChat).
		WithMetadata("chat_id", chatID))
	s.logger.Info("chat bound", slog.String("login", rec.Login), slog.Int64("chat_id", chatID))
	return nil
}

// UnlinkChat clears the chat channel and tells the former chat about it
func (s *BindingService) UnlinkChat(ctx context.Context, rec *entities.Identity) error {
	before := rec.Clone()
	prev, ok := rec.UnbindChat()
	if !ok {
		return nil
	}
	if err := s.identities.Save(ctx, rec); err != nil {
		*rec = *before
		return err
	}

	s.audit.record(ctx, entities.NewAuditLog(rec.Login, entities.ActionChatUnbound).
		WithDestination(entities.DestinationChat).
		WithMetadata("chat_id", prev))
	s.logger.Info("chat unbound", slog.String("login", rec.Login), slog.Int64("chat_id", prev))

	name := rec.DisplayName
	if name == "" {
		name = rec.Login
	}
	text := fmt.Sprintf("Integration cancelled for %s.", name)
	if link := s.ProfileLink(); link != "" {
		text += " Link a chat again at " + link
	}
	deliver(ctx, s.logger, s.chat, fmt.Sprintf("%d", prev), text)
	return nil
}

// ProfileLink returns the portal page where channels are managed, or "" without a portal URL
func (s *BindingService) ProfileLink() string {
	if s.portalURL == "" {
		return ""
	}
	link, err := urlutil.BuildProfileURL(s.portalURL)
	if err != nil {
		s.logger.Warn("invalid portal url", slog.String("error", err.Error()))
		return ""
	}
	return link
}

// SetChannels replaces the email and phone channels. Empty strings clear them.
func (s *BindingService) SetChannels(ctx context.Context, rec *entities.Identity, email, phone *string) error {
	before := rec.Clone()
	if email != nil {
		rec.EmailChannel = optional(*email)
	}
	if phone != nil {
		rec.PhoneChannel = optional(*phone)
	}
	if err := s.identities.Save(ctx, rec); err != nil {
		*rec = *before
		return err
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// deliver sends a message and only logs failures
func deliver(ctx context.Context, logger *slog.Logger, m Messenger, destinationID, text string) {
	if m == nil || destinationID == "" {
		return
	}
	if err := m.Deliver(ctx, destinationID, text); err != nil {
		logger.Warn("message delivery failed",
			slog.String("destination", destinationID),
			slog.String("error", err.Error()))
	}
}
