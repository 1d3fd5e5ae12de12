package urlutil

import (
	"encoding/base64"
	"errors"
	"net/url"
	"strings"
)

// MaxStartPayloadLength is the longest /start parameter Telegram accepts in a deep link.
const MaxStartPayloadLength = 64

// ErrInvalidPayload is returned when a /start parameter cannot be decoded into a login and token.
var ErrInvalidPayload = errors.New("invalid binding payload")

// EncodeBindPayload builds the /start parameter for a binding deep link:
// standard base64 of "<login> <token>".
func EncodeBindPayload(login, token string) string {
	return base64.StdEncoding.EncodeToString([]byte(login + " " + token))
}

// DecodeBindPayload reverses EncodeBindPayload.
func DecodeBindPayload(payload string) (login, token string, err error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return "", "", ErrInvalidPayload
	}
	login, token, ok := strings.Cut(string(raw), " ")
	if !ok || login == "" || token == "" || strings.Contains(token, " ") {
		return "", "", ErrInvalidPayload
	}
	return login, token, nil
}

// TelegramDeepLink returns botURL with the start parameter attached.
// When the payload is longer than Telegram allows, the bare bot URL is returned
// and the second return value is false.
func TelegramDeepLink(botURL, payload string) (string, bool, error) {
	u, err := url.Parse(botURL)
	if err != nil {
		return "", false, err
	}
	if payload == "" || len(payload) > MaxStartPayloadLength {
		return u.String(), false, nil
	}
	q := u.Query()
	q.Set("start", payload)
	u.RawQuery = q.Encode()
	return u.String(), true, nil
}
