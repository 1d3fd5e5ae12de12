package entities

import (
	"errors"
	"testing"
	"time"
)

func TestParseDestination(t *testing.T) {
	tests := []struct {
		code    int64
		want    Destination
		wantErr bool
	}{
		{code: 0, want: DestinationNone},
		{code: 1, want: DestinationEmail},
		{code: 2, want: DestinationPhone},
		{code: 3, want: DestinationChat},
		{code: 4, want: DestinationOTP},
		{code: 5, wantErr: true},
		{code: -1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(Destination(tt.code).String(), func(t *testing.T) {
			got, err := ParseDestination(tt.code)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidDestination) {
					t.Fatalf("ParseDestination(%d) error = %v, want ErrInvalidDestination", tt.code, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ParseDestination(%d) = %v, %v; want %v", tt.code, got, err, tt.want)
			}
		})
	}
}

func TestParseDestinationName(t *testing.T) {
	tests := []struct {
		name    string
		want    Destination
		wantErr bool
	}{
		{name: "chat", want: DestinationChat},
		{name: " OTP ", want: DestinationOTP},
		{name: "email", want: DestinationEmail},
		{name: "phone", want: DestinationPhone},
		{name: "none", wantErr: true},
		{name: "fax", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDestinationName(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDestinationName(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseDestinationName(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestDestinationScan(t *testing.T) {
	tests := []struct {
		name    string
		src     any
		want    Destination
		wantErr bool
	}{
		{name: "nil", src: nil, want: DestinationNone},
		{name: "int64", src: int64(3), want: DestinationChat},
		{name: "bytes", src: []byte("4"), want: DestinationOTP},
		{name: "out of range", src: int64(9), wantErr: true},
		{name: "garbage bytes", src: []byte("x"), wantErr: true},
		{name: "wrong type", src: "3", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Destination
			err := d.Scan(tt.src)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Scan() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && d != tt.want {
				t.Errorf("Scan() = %v, want %v", d, tt.want)
			}
		})
	}
}

func TestDestinationValueRejectsInvalid(t *testing.T) {
	if _, err := Destination(42).Value(); !errors.Is(err, ErrInvalidDestination) {
		t.Errorf("Value() error = %v, want ErrInvalidDestination", err)
	}
}

func TestAvailableDestinations(t *testing.T) {
	email := "alice@example.com"
	empty := ""
	secret := "JBSWY3DPEHPK3PXP"
	chat := int64(42)

	tests := []struct {
		name string
		rec  Identity
		want []Destination
	}{
		{name: "nothing bound", rec: Identity{}, want: nil},
		{name: "empty email ignored", rec: Identity{EmailChannel: &empty}, want: nil},
		{name: "email and chat", rec: Identity{EmailChannel: &email, ChatChannel: &chat}, want: []Destination{DestinationEmail, DestinationChat}},
		{name: "chat and otp", rec: Identity{ChatChannel: &chat, OTPSecret: &secret}, want: []Destination{DestinationChat, DestinationOTP}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.rec.AvailableDestinations()
			if len(got) != len(tt.want) {
				t.Fatalf("AvailableDestinations() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("AvailableDestinations()[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestIdentityTokens(t *testing.T) {
	rec := NewIdentity("alice@corp.local")
	if rec.IsPersisted() {
		t.Fatal("new identity should be transient")
	}

	rec.SetBindToken("1234567", DestinationChat)
	if !rec.HasBindToken() || rec.BindDestination != DestinationChat {
		t.Fatalf("SetBindToken() did not record token and destination")
	}

	clone := rec.Clone()
	rec.ClearBindToken()
	if rec.HasBindToken() || rec.BindDestination != DestinationNone {
		t.Error("ClearBindToken() left state behind")
	}
	if !clone.HasBindToken() {
		t.Error("Clone() shares token pointer with original")
	}

	rec.BindChat(99)
	prev, ok := rec.UnbindChat()
	if !ok || prev != 99 || rec.HasChat() {
		t.Errorf("UnbindChat() = %d, %v", prev, ok)
	}
}

func TestBrowserSessionMatches(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := BrowserSession{UserAgent: "firefox", IssuedAt: now.Add(-30 * time.Minute)}

	if !s.Matches("firefox", now, time.Hour) {
		t.Error("session should match within max age")
	}
	if s.Matches("chrome", now, time.Hour) {
		t.Error("session should not match a different user agent")
	}
	if s.Matches("firefox", now, 30*time.Minute) {
		t.Error("session issued exactly max age ago should be expired")
	}
}
