package bot

import (
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/devilmonastery/passgate/internal/domain/conversation"
	"github.com/devilmonastery/passgate/internal/pkg/metrics"
)

// SessionStore keeps conversation state per chat. Idle conversations expire.
type SessionStore struct {
	cache *cache.Cache
}

// NewSessionStore creates a store whose entries expire after idle without activity
func NewSessionStore(idle time.Duration) *SessionStore {
	s := &SessionStore{cache: cache.New(idle, idle/2)}
	s.cache.OnEvicted(func(string, interface{}) {
		s.gauge()
	})
	return s
}

// Get returns the session of chatID, the zero session if none is held
func (s *SessionStore) Get(chatID int64) conversation.Session {
	v, ok := s.cache.Get(key(chatID))
	if !ok {
		return conversation.Session{}
	}
	return v.(conversation.Session)
}

// Put stores the session of chatID. A finished conversation is dropped.
func (s *SessionStore) Put(chatID int64, session conversation.Session) {
	if !session.Active() {
		s.cache.Delete(key(chatID))
	} else {
		s.cache.SetDefault(key(chatID), session)
	}
	s.gauge()
}

// Len returns the number of chats with a live conversation
func (s *SessionStore) Len() int {
	return s.cache.ItemCount()
}

func (s *SessionStore) gauge() {
	metrics.ActiveConversations.Set(float64(s.cache.ItemCount()))
}

func key(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}
