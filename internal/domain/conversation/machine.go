package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/devilmonastery/passgate/internal/domain/entities"
	"github.com/devilmonastery/passgate/internal/domain/services"
	"github.com/devilmonastery/passgate/internal/pkg/logger"
	"github.com/devilmonastery/passgate/internal/pkg/metrics"
	"github.com/devilmonastery/passgate/internal/pkg/urlutil"
)

// Machine decides the chat binding conversation
type Machine struct {
	identities *services.IdentityService
	tokens     *services.TokenService
	binding    *services.BindingService
	logger     *slog.Logger
}

// NewMachine creates a conversation machine over the shared services
func NewMachine(identities *services.IdentityService, tokens *services.TokenService, binding *services.BindingService) *Machine {
	return &Machine{
		identities: identities,
		tokens:     tokens,
		binding:    binding,
		logger:     slog.Default().With(slog.String("component", "conversation")),
	}
}

// Handle applies ev to s and returns the next session with the effects to execute.
// On an unexpected error the session is returned unchanged together with a generic
// reply; the caller is expected to report the error.
func (m *Machine) Handle(ctx context.Context, s Session, ev Event) (Session, []Effect, error) {
	next, effects, err := m.dispatch(ctx, s, ev)
	log := logger.WithChat(m.logger, ev.ChatID)
	if err != nil {
		log.Error("conversation step failed",
			slog.String("state", s.State.String()),
			slog.String("event", ev.Kind.String()),
			slog.String("error", err.Error()))
		fail := []Effect{Reply{Text: textInternalError}}
		if ev.Kind == EventCallback && ev.CallbackID != "" {
			fail = append([]Effect{AnswerCallback{CallbackID: ev.CallbackID}}, fail...)
		}
		return s, fail, err
	}

	if next.State != s.State {
		metrics.ConversationTransitions.WithLabelValues(s.State.String(), next.State.String()).Inc()
		log.Info("conversation transition",
			slog.String("from", s.State.String()),
			slog.String("to", next.State.String()))
	}
	return next, effects, nil
}

func (m *Machine) dispatch(ctx context.Context, s Session, ev Event) (Session, []Effect, error) {
	switch ev.Kind {
	case EventCommand:
		switch ev.Command {
		case "start":
			return m.start(ctx, ev)
		case "whoami":
			effects, err := m.whoami(ctx, ev)
			return s, effects, err
		case "help":
			return s, []Effect{Reply{Text: textHelp}}, nil
		}

	case EventText:
		if strings.TrimSpace(ev.Text) == "" {
			break
		}
		switch s.State {
		case StateLogin:
			return m.login(ctx, ev)
		case StateConfirmation:
			return m.confirm(ctx, s, ev)
		}

	case EventCallback:
		if ev.MessageID == 0 {
			break
		}
		if s.State != StateFinish {
			return s, []Effect{AnswerCallback{CallbackID: ev.CallbackID}}, nil
		}
		switch ev.Data {
		case CallbackSave:
			return m.save(ctx, s, ev)
		case CallbackReset:
			return Session{State: StateLogin}, []Effect{
				AnswerCallback{CallbackID: ev.CallbackID},
				EditMessage{MessageID: ev.MessageID, Text: textStartLogin},
			}, nil
		}
	}

	m.logger.Debug("event ignored",
		slog.Int64("chat_id", ev.ChatID),
		slog.String("state", s.State.String()),
		slog.String("event", ev.Kind.String()))
	// a pressed button spins until its callback is answered
	if ev.Kind == EventCallback && ev.CallbackID != "" {
		return s, []Effect{AnswerCallback{CallbackID: ev.CallbackID}}, nil
	}
	return s, nil, nil
}

// start handles /start, with or without a deep-link payload
func (m *Machine) start(ctx context.Context, ev Event) (Session, []Effect, error) {
	bound, err := m.identities.ResolveByChat(ctx, ev.ChatID)
	if err == nil {
		return Session{}, []Effect{Reply{Text: textAlreadyIntegrated(displayName(bound))}}, nil
	}
	if !errors.Is(err, services.ErrNotFound) {
		return Session{}, nil, err
	}

	payload := strings.TrimSpace(ev.Args)
	if payload == "" {
		return loginPrompt()
	}

	login, token, err := urlutil.DecodeBindPayload(payload)
	if err != nil {
		m.logger.Info("invalid start payload", slog.Int64("chat_id", ev.ChatID))
		return loginPrompt(textLoginError)
	}
	principal, err := m.identities.Normalize(login)
	if err != nil {
		return loginPrompt(textLoginError)
	}

	unlock := m.identities.Lock(principal)
	defer unlock()

	rec, err := m.identities.Resolve(ctx, principal)
	if err != nil {
		if services.IsUserError(err) {
			return loginPrompt(textLoginError)
		}
		return Session{}, nil, err
	}
	return m.accept(ctx, rec, token, ev.ChatID)
}

// login handles the login sent while in StateLogin
func (m *Machine) login(ctx context.Context, ev Event) (Session, []Effect, error) {
	rec, err := m.identities.Resolve(ctx, strings.TrimSpace(ev.Text))
	if err != nil {
		if services.IsUserError(err) {
			return loginPrompt(textLoginError)
		}
		return Session{}, nil, err
	}
	if !rec.HasBindToken() || rec.BindDestination != entities.DestinationChat {
		return loginPrompt(m.noBindingText())
	}
	return Session{State: StateConfirmation, Context: Context{Login: rec.Login}},
		[]Effect{Reply{Text: textConfirmationAsk}}, nil
}

// confirm handles the bind token sent while in StateConfirmation
func (m *Machine) confirm(ctx context.Context, s Session, ev Event) (Session, []Effect, error) {
	unlock := m.identities.Lock(s.Context.Login)
	defer unlock()

	rec, err := m.identities.Resolve(ctx, s.Context.Login)
	if err != nil {
		if services.IsUserError(err) {
			return loginPrompt(textLoginError)
		}
		return Session{}, nil, err
	}
	return m.accept(ctx, rec, strings.TrimSpace(ev.Text), ev.ChatID)
}

// accept verifies token against the chat bind token of rec. A match consumes the
// token and moves on to StateFinish with the login and chat stashed; anything else
// clears the token and returns to StateLogin.
func (m *Machine) accept(ctx context.Context, rec *entities.Identity, token string, chatID int64) (Session, []Effect, error) {
	if !rec.HasBindToken() {
		return loginPrompt(m.noBindingText())
	}
	if rec.BindDestination != entities.DestinationChat {
		if err := m.tokens.Invalidate(ctx, rec, services.TokenBind); err != nil {
			return Session{}, nil, err
		}
		return loginPrompt(textWrongDestination)
	}

	if err := m.tokens.Check(ctx, rec, services.TokenBind, token); err != nil {
		if errors.Is(err, services.ErrPersistenceFailure) || !errors.Is(err, services.ErrTokenMismatch) {
			return Session{}, nil, err
		}
		return loginPrompt(textConfirmationBad)
	}

	rec.ClearBindToken()
	if err := m.identities.Save(ctx, rec); err != nil {
		return Session{}, nil, err
	}

	return Session{State: StateFinish, Context: Context{Login: rec.Login, ChatID: chatID}},
		[]Effect{Reply{Text: textFinish(displayName(rec)), Keyboard: finishKeyboard()}}, nil
}

// save commits the stashed chat onto the stashed login
func (m *Machine) save(ctx context.Context, s Session, ev Event) (Session, []Effect, error) {
	ack := AnswerCallback{CallbackID: ev.CallbackID}
	if s.Context.Login == "" || s.Context.ChatID == 0 {
		return Session{State: StateLogin}, []Effect{ack, EditMessage{MessageID: ev.MessageID, Text: textStartLogin}}, nil
	}

	unlock := m.identities.Lock(s.Context.Login)
	defer unlock()

	rec, err := m.identities.Resolve(ctx, s.Context.Login)
	if err != nil {
		return s, nil, err
	}
	if err := m.binding.CommitChat(ctx, rec, s.Context.ChatID); err != nil {
		if errors.Is(err, services.ErrChatAlreadyBound) {
			return Session{}, []Effect{ack, EditMessage{MessageID: ev.MessageID, Text: services.UserMessage(err)}}, nil
		}
		return s, nil, err
	}
	return Session{}, []Effect{ack, EditMessage{MessageID: ev.MessageID, Text: textSaved}}, nil
}

func (m *Machine) whoami(ctx context.Context, ev Event) ([]Effect, error) {
	rec, err := m.identities.ResolveByChat(ctx, ev.ChatID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return []Effect{Reply{Text: textWhoamiNone}}, nil
		}
		return nil, err
	}
	return []Effect{Reply{Text: textWhoami(rec.Login, displayName(rec))}}, nil
}

// loginPrompt resets to StateLogin, sending any notices before the login prompt
func loginPrompt(notices ...string) (Session, []Effect, error) {
	effects := make([]Effect, 0, len(notices)+1)
	for _, n := range notices {
		effects = append(effects, Reply{Text: n})
	}
	effects = append(effects, Reply{Text: textStartLogin})
	return Session{State: StateLogin}, effects, nil
}

func displayName(rec *entities.Identity) string {
	if rec.DisplayName != "" {
		return rec.DisplayName
	}
	return rec.Login
}

// noBindingText points the user at the portal page where a binding starts
func (m *Machine) noBindingText() string {
	if link := m.binding.ProfileLink(); link != "" {
		return textConfirmationNone + "\n" + link
	}
	return textConfirmationNone
}
