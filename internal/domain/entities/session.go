package entities

import "time"

// BrowserSession is a logged-in web portal session
type BrowserSession struct {
	ID        string    `json:"id" db:"id"`
	Login     string    `json:"login" db:"login"`
	UserAgent string    `json:"user_agent" db:"user_agent"`
	IssuedAt  time.Time `json:"issued_at" db:"issued_at"`
}

// IsExpired returns true if the session is older than maxAge
func (s *BrowserSession) IsExpired(now time.Time, maxAge time.Duration) bool {
	return !s.IssuedAt.After(now.Add(-maxAge))
}

// Matches reports whether the session may be used by a request with userAgent at now
func (s *BrowserSession) Matches(userAgent string, now time.Time, maxAge time.Duration) bool {
	return s.UserAgent == userAgent && !s.IsExpired(now, maxAge)
}
