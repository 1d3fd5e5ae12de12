package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/devilmonastery/passgate/internal/config"
	"github.com/devilmonastery/passgate/internal/domain/entities"
	"github.com/devilmonastery/passgate/internal/pkg/metrics"
)

const otpPeriod = 30

// Provisioning is what a user needs to enroll an authenticator app
type Provisioning struct {
	Secret string
	URI    string
}

// OTPService provisions and verifies the TOTP factor
type OTPService struct {
	identities *IdentityService
	audit      *Auditor
	issuer     string
	skew       uint
	now        func() time.Time
	logger     *slog.Logger
}

// NewOTPService creates a new OTP service
func NewOTPService(identities *IdentityService, audit *Auditor, cfg config.OTPConfig) *OTPService {
	return &OTPService{
		identities: identities,
		audit:      audit,
		issuer:     cfg.Issuer,
		skew:       cfg.Skew,
		now:        time.Now,
		logger:     slog.Default().With(slog.String("component", "otp_service")),
	}
}

// Provision generates a fresh secret and parks it in the bind slot until a code proves possession.
// Any earlier outstanding binding is replaced.
func (s *OTPService) Provision(ctx context.Context, rec *entities.Identity) (*Provisioning, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: rec.Login,
		Period:      otpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate otp secret: %w", err)
	}

	before := rec.Clone()
	rec.SetBindToken(key.Secret(), entities.DestinationOTP)
	if err := s.identities.Save(ctx, rec); err != nil {
		*rec = *before
		return nil, err
	}

	s.audit.record(ctx, entities.NewAuditLog(rec.Login, entities.ActionOTPProvisioned).
		WithDestination(entities.DestinationOTP))
	s.logger.Info("otp provisioned", slog.String("login", rec.Login))

	return &Provisioning{Secret: key.Secret(), URI: key.URL()}, nil
}

// Pending returns the provisioning of an outstanding, uncommitted OTP enrollment
func (s *OTPService) Pending(rec *entities.Identity) (*Provisioning, bool) {
	if !rec.HasBindToken() || rec.BindDestination != entities.DestinationOTP {
		return nil, false
	}
	uri := provisioningURI(s.issuer, rec.Login, *rec.BindToken)
	return &Provisioning{Secret: *rec.BindToken, URI: uri}, true
}

// VerifyAndCommit checks code against the provisioned secret. On success the secret becomes
// the committed factor. On failure nothing changes and the same secret may be retried.
func (s *OTPService) VerifyAndCommit(ctx context.Context, rec *entities.Identity, code string) error {
	if !rec.HasBindToken() || rec.BindDestination != entities.DestinationOTP {
		return fmt.Errorf("%w: %w", ErrTokenMismatch, ErrNoTokenOutstanding)
	}
	secret := *rec.BindToken

	if !s.validate(secret, code, "commit") {
		return ErrTokenMismatch
	}

	before := rec.Clone()
	rec.OTPSecret = &secret
	rec.ClearBindToken()
	if err := s.identities.Save(ctx, rec); err != nil {
		*rec = *before
		return err
	}

	s.audit.record(ctx, entities.NewAuditLog(rec.Login, entities.ActionOTPCommitted).
		WithDestination(entities.DestinationOTP))
	s.logger.Info("otp committed", slog.String("login", rec.Login))
	return nil
}

// VerifyResetChallenge checks code against a committed secret. It mutates nothing.
func (s *OTPService) VerifyResetChallenge(secret, code string) bool {
	if secret == "" {
		return false
	}
	return s.validate(secret, code, "reset")
}

// Destroy removes the committed factor
func (s *OTPService) Destroy(ctx context.Context, rec *entities.Identity) error {
	if !rec.HasOTP() {
		return nil
	}
	before := rec.Clone()
	rec.OTPSecret = nil
	if err := s.identities.Save(ctx, rec); err != nil {
		*rec = *before
		return err
	}
	s.audit.record(ctx, entities.NewAuditLog(rec.Login, entities.ActionOTPDestroyed).
		WithDestination(entities.DestinationOTP))
	s.logger.Info("otp destroyed", slog.String("login", rec.Login))
	return nil
}

func (s *OTPService) validate(secret, code, purpose string) bool {
	code = strings.TrimSpace(code)

	var digits otp.Digits
	switch len(code) {
	case 6:
		digits = otp.DigitsSix
	case 8:
		digits = otp.DigitsEight
	default:
		metrics.OTPVerifications.WithLabelValues(purpose, "malformed").Inc()
		return false
	}

	ok, err := totp.ValidateCustom(code, secret, s.now().UTC(), totp.ValidateOpts{
		Period:    otpPeriod,
		Skew:      s.skew,
		Digits:    digits,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		s.logger.Debug("otp validation error", slog.String("error", err.Error()))
		ok = false
	}
	metrics.OTPVerifications.WithLabelValues(purpose, metrics.Result(ok)).Inc()
	return ok
}

// provisioningURI rebuilds the otpauth URI for an existing secret, the same shape totp.Generate emits
func provisioningURI(issuer, account, secret string) string {
	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(otpPeriod))
	v.Set("algorithm", "SHA1")
	v.Set("digits", "6")
	u := url.URL{
		Scheme:   "otpauth",
		Host:     "totp",
		Path:     "/" + issuer + ":" + account,
		RawQuery: v.Encode(),
	}
	return u.String()
}
