package ldap

import (
	"errors"
	"testing"

	"github.com/go-ldap/ldap/v3"

	"github.com/devilmonastery/passgate/internal/domain/directory"
)

func TestEncodePassword(t *testing.T) {
	got, err := encodePassword("ab")
	if err != nil {
		t.Fatalf("encodePassword() error = %v", err)
	}
	want := string([]byte{'"', 0, 'a', 0, 'b', 0, '"', 0})
	if got != want {
		t.Errorf("encodePassword() = %q, want %q", got, want)
	}
}

func TestUserFilter(t *testing.T) {
	tests := []struct {
		name      string
		principal string
		want      string
	}{
		{
			name:      "plain",
			principal: "alice@corp.local",
			want:      "(&(objectCategory=person)(objectClass=user)(userPrincipalName=alice@corp.local))",
		},
		{
			name:      "injection escaped",
			principal: "*)(cn=*",
			want:      `(&(objectCategory=person)(objectClass=user)(userPrincipalName=\2a\29\28cn=\2a))`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := userFilter(tt.principal); got != tt.want {
				t.Errorf("userFilter() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassifyModifyError(t *testing.T) {
	tests := []struct {
		name string
		code uint16
		want error
	}{
		{name: "constraint violation", code: ldap.LDAPResultConstraintViolation, want: directory.ErrPasswordRejected},
		{name: "unwilling to perform", code: ldap.LDAPResultUnwillingToPerform, want: directory.ErrPasswordRejected},
		{name: "busy", code: ldap.LDAPResultBusy, want: directory.ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyModifyError(ldap.NewError(tt.code, errors.New("boom")))
			if !errors.Is(err, tt.want) {
				t.Errorf("classifyModifyError() = %v, want %v", err, tt.want)
			}
		})
	}
}
