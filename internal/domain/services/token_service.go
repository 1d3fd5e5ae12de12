package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strconv"

	"github.com/devilmonastery/passgate/internal/domain/entities"
	"github.com/devilmonastery/passgate/internal/domain/repositories"
	"github.com/devilmonastery/passgate/internal/pkg/metrics"
)

// TokenKind selects which challenge slot of a record a token lives in
type TokenKind int

const (
	TokenBind TokenKind = iota
	TokenReset
)

func (k TokenKind) String() string {
	if k == TokenReset {
		return "reset"
	}
	return "bind"
}

const (
	tokenMin  = 1000000
	tokenSpan = 9000000 // tokens are 7 digit decimals in [1000000, 9999999]
)

// TokenService issues and verifies single-use numeric challenge tokens
type TokenService struct {
	identities *IdentityService
	audit      *Auditor
	random     io.Reader
	logger     *slog.Logger
}

// NewTokenService creates a new token service
func NewTokenService(identities *IdentityService, audit *Auditor) *TokenService {
	logger := slog.Default().With(slog.String("component", "token_service"))
	return &TokenService{
		identities: identities,
		audit:      audit,
		random:     rand.Reader,
		logger:     logger,
	}
}

func (s *TokenService) generate() (string, error) {
	n, err := rand.Int(s.random, big.NewInt(tokenSpan))
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return strconv.FormatInt(n.Int64()+tokenMin, 10), nil
}

// Issue draws a new token into the kind's slot of rec, replacing any previous one, and persists.
// dest is recorded as the bind destination for TokenBind; for TokenReset it only labels metrics.
// On failure rec is left as it was.
func (s *TokenService) Issue(ctx context.Context, rec *entities.Identity, kind TokenKind, dest entities.Destination) (string, error) {
	if kind == TokenBind && dest == entities.DestinationNone {
		return "", fmt.Errorf("%w: bind token needs a destination", ErrUnsupportedDestination)
	}

	token, err := s.generate()
	if err != nil {
		return "", err
	}

	before := rec.Clone()
	switch kind {
	case TokenBind:
		rec.SetBindToken(token, dest)
	case TokenReset:
		rec.SetResetToken(token)
	}

	if err := s.identities.Save(ctx, rec); err != nil {
		*rec = *before
		return "", err
	}

	metrics.TokensIssued.WithLabelValues(kind.String(), dest.String()).Inc()
	s.audit.record(ctx, entities.NewAuditLog(rec.Login, entities.ActionTokenIssued).
		WithDestination(dest).
		WithMetadata("kind", kind.String()))
	s.logger.Info("challenge token issued",
		slog.String("login", rec.Login),
		slog.String("kind", kind.String()),
		slog.String("destination", dest.String()))

	return token, nil
}

// Check verifies supplied against the outstanding token of kind.
// A match returns nil and leaves rec untouched: the caller clears the token in the
// same save that commits its effect. A mismatch clears the token and persists, so
// the same or any other value can never be retried. With nothing outstanding the
// error matches both ErrNoTokenOutstanding and ErrTokenMismatch.
func (s *TokenService) Check(ctx context.Context, rec *entities.Identity, kind TokenKind, supplied string) error {
	stored := rec.BindToken
	if kind == TokenReset {
		stored = rec.ResetToken
	}
	if stored == nil {
		metrics.TokenVerifications.WithLabelValues(kind.String(), "none").Inc()
		return fmt.Errorf("%w: %w", ErrTokenMismatch, ErrNoTokenOutstanding)
	}

	if TokensMatch(*stored, supplied) {
		metrics.TokenVerifications.WithLabelValues(kind.String(), metrics.Result(true)).Inc()
		return nil
	}

	metrics.TokenVerifications.WithLabelValues(kind.String(), metrics.Result(false)).Inc()
	dest := rec.BindDestination
	if err := s.Invalidate(ctx, rec, kind); err != nil {
		return errors.Join(ErrTokenMismatch, err)
	}
	s.audit.record(ctx, entities.NewAuditLog(rec.Login, entities.ActionTokenMismatch).
		WithDestination(dest).
		WithMetadata("kind", kind.String()))
	return ErrTokenMismatch
}

// Invalidate clears the token of kind and persists. A no-op if nothing is outstanding.
// When another writer moved the row on in between, the clear is applied again to
// the fresh row: an invalidation must never be lost to a version conflict.
func (s *TokenService) Invalidate(ctx context.Context, rec *entities.Identity, kind TokenKind) error {
	if !clearToken(rec, kind) {
		return nil
	}
	err := s.identities.Save(ctx, rec)
	if err == nil || !errors.Is(err, repositories.ErrVersionConflict) {
		return err
	}

	fresh, rerr := s.identities.Reload(ctx, rec)
	if rerr != nil {
		return errors.Join(err, rerr)
	}
	if clearToken(fresh, kind) {
		if err := s.identities.Save(ctx, fresh); err != nil {
			return err
		}
	}
	s.logger.Warn("token invalidation retried after version conflict",
		slog.String("login", rec.Login),
		slog.String("kind", kind.String()))
	*rec = *fresh
	return nil
}

// clearToken empties the slot of kind and reports whether anything was outstanding
func clearToken(rec *entities.Identity, kind TokenKind) bool {
	switch kind {
	case TokenBind:
		if !rec.HasBindToken() {
			return false
		}
		rec.ClearBindToken()
	case TokenReset:
		if !rec.HasResetToken() {
			return false
		}
		rec.ClearResetToken()
	}
	return true
}

// TokensMatch compares a stored token with user input. The input must be all digits
// and equal the stored value both as a number and as a string, so "01234567" or
// overflowing input never matches.
func TokensMatch(stored, supplied string) bool {
	if supplied == "" || stored == "" {
		return false
	}
	for _, r := range supplied {
		if r < '0' || r > '9' {
			return false
		}
	}
	want, err := strconv.ParseInt(stored, 10, 64)
	if err != nil {
		return false
	}
	got, err := strconv.ParseInt(supplied, 10, 64)
	if err != nil {
		return false
	}
	return got == want && supplied == stored
}
