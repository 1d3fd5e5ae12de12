package urlutil

import (
	"net/url"
)

// BuildResetURL builds the web portal link for starting a password reset.
// Returns a URL like: {baseURL}/auth/reset?login={login}
func BuildResetURL(baseURL, login string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	u.Path = "/auth/reset"
	if login != "" {
		q := u.Query()
		q.Set("login", login)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// BuildProfileURL builds the link to a user's reset settings page.
func BuildProfileURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	u.Path = "/user/reset_info"
	return u.String(), nil
}
