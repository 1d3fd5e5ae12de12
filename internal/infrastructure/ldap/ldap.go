// Package ldap implements the account directory on top of Active Directory.
package ldap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/go-ldap/ldap/v3"
	"golang.org/x/text/encoding/unicode"

	"github.com/devilmonastery/passgate/internal/config"
	"github.com/devilmonastery/passgate/internal/domain/directory"
	"github.com/devilmonastery/passgate/internal/pkg/metrics"
)

var searchAttributes = []string{"userPrincipalName", "displayName", "distinguishedName"}

// Directory talks to an AD domain controller. Every call opens its own connection.
type Directory struct {
	cfg  config.DirectoryConfig
	dial func(ctx context.Context) (*ldap.Conn, error)
	log  *slog.Logger
}

var _ directory.Directory = (*Directory)(nil)

// New creates a directory client from configuration
func New(cfg config.DirectoryConfig) *Directory {
	d := &Directory{
		cfg: cfg,
		log: slog.Default().With(slog.String("component", "ldap")),
	}
	d.dial = d.dialServer
	return d
}

func (d *Directory) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName:         d.cfg.Server,
		InsecureSkipVerify: d.cfg.InsecureSkipVerify, // #nosec G402
		MinVersion:         tls.VersionTLS12,
	}
}

func (d *Directory) dialServer(ctx context.Context) (*ldap.Conn, error) {
	timeout := d.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout || timeout == 0 {
			timeout = until
		}
	}

	conn, err := ldap.DialURL(d.cfg.URL(),
		ldap.DialWithDialer(&net.Dialer{Timeout: timeout}),
		ldap.DialWithTLSConfig(d.tlsConfig()))
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		conn.SetTimeout(timeout)
	}

	if d.cfg.StartTLS {
		if err := conn.StartTLS(d.tlsConfig()); err != nil {
			conn.Close()
			return nil, fmt.Errorf("starttls: %w", err)
		}
	}
	return conn, nil
}

// adminConn opens a connection bound as the service account
func (d *Directory) adminConn(ctx context.Context) (*ldap.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := d.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %v", directory.ErrUnavailable, err)
	}
	if err := conn.Bind(d.cfg.AdminUser, d.cfg.AdminPassword); err != nil {
		conn.Close()
		d.log.Error("LDAP bind failed", slog.String("user", d.cfg.AdminUser), slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: bind as %s: %v", directory.ErrUnavailable, d.cfg.AdminUser, err)
	}
	return conn, nil
}

// userFilter builds the AD person search filter for a principal name
func userFilter(principal string) string {
	return fmt.Sprintf("(&(objectCategory=person)(objectClass=user)(userPrincipalName=%s))", ldap.EscapeFilter(principal))
}

func (d *Directory) search(conn *ldap.Conn, principal string) (*directory.Principal, error) {
	req := ldap.NewSearchRequest(
		d.cfg.UserBase,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases,
		2, int(d.cfg.Timeout.Seconds()), false,
		userFilter(principal),
		searchAttributes,
		nil,
	)

	result, err := conn.Search(req)
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return nil, directory.ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("%w: search: %v", directory.ErrUnavailable, err)
	}
	if len(result.Entries) == 0 {
		return nil, directory.ErrPrincipalNotFound
	}

	entry := result.Entries[0]
	name := entry.GetAttributeValue("userPrincipalName")
	if name == "" {
		name = principal
	}
	return &directory.Principal{
		PrincipalName: name,
		DisplayName:   entry.GetAttributeValue("displayName"),
		DN:            entry.DN,
	}, nil
}

// Lookup resolves a principal name to its directory entry
func (d *Directory) Lookup(ctx context.Context, principal string) (*directory.Principal, error) {
	var err error
	defer func() { metrics.RecordDirectoryOperation("lookup", ignoreNotFound(err)) }()

	conn, err := d.adminConn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	p, err := d.search(conn, principal)
	if err != nil {
		if errors.Is(err, directory.ErrPrincipalNotFound) {
			d.log.Info("no LDAP entry found", slog.String("principal", principal), slog.String("base", d.cfg.UserBase))
		}
		return nil, err
	}
	d.log.Debug("found LDAP entry", slog.String("principal", p.PrincipalName), slog.String("dn", p.DN))
	return p, nil
}

// Authenticate binds as the user to check the password
func (d *Directory) Authenticate(ctx context.Context, principal, password string) (bool, error) {
	if principal == "" || password == "" {
		// An empty password would be an unauthenticated bind, which AD accepts
		d.log.Warn("LDAP login without username/password is unsupported")
		return false, nil
	}

	var err error
	defer func() { metrics.RecordDirectoryOperation("authenticate", err) }()

	if err = ctx.Err(); err != nil {
		return false, err
	}
	conn, err := d.dial(ctx)
	if err != nil {
		err = fmt.Errorf("%w: dial: %v", directory.ErrUnavailable, err)
		return false, err
	}
	defer conn.Close()

	if bindErr := conn.Bind(principal, password); bindErr != nil {
		if ldap.IsErrorWithCode(bindErr, ldap.LDAPResultInvalidCredentials) {
			d.log.Info("LDAP bind rejected", slog.String("principal", principal))
			return false, nil
		}
		err = fmt.Errorf("%w: bind: %v", directory.ErrUnavailable, bindErr)
		return false, err
	}
	return true, nil
}

// SetPassword replaces the user's password through the service account
func (d *Directory) SetPassword(ctx context.Context, principal, newPassword string) error {
	var err error
	defer func() { metrics.RecordDirectoryOperation("set_password", err) }()

	conn, err := d.adminConn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	p, err := d.search(conn, principal)
	if err != nil {
		return err
	}

	encoded, err := encodePassword(newPassword)
	if err != nil {
		return err
	}

	req := ldap.NewModifyRequest(p.DN, nil)
	req.Replace("unicodePwd", []string{encoded})

	if modErr := conn.Modify(req); modErr != nil {
		err = classifyModifyError(modErr)
		d.log.Warn("LDAP password change failed",
			slog.String("principal", principal),
			slog.String("error", modErr.Error()))
		return err
	}

	d.log.Info("LDAP password changed", slog.String("principal", principal))
	return nil
}

// encodePassword renders a password the way AD expects unicodePwd: quoted, UTF-16LE
func encodePassword(password string) (string, error) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	out, err := enc.String(`"` + password + `"`)
	if err != nil {
		return "", fmt.Errorf("encode password: %w", err)
	}
	return out, nil
}

func classifyModifyError(err error) error {
	switch {
	case ldap.IsErrorWithCode(err, ldap.LDAPResultConstraintViolation),
		ldap.IsErrorWithCode(err, ldap.LDAPResultUnwillingToPerform):
		return fmt.Errorf("%w: %v", directory.ErrPasswordRejected, err)
	default:
		return fmt.Errorf("%w: modify: %v", directory.ErrUnavailable, err)
	}
}

func ignoreNotFound(err error) error {
	if errors.Is(err, directory.ErrPrincipalNotFound) {
		return nil
	}
	return err
}
