// Package memory provides in-process repositories for local development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/devilmonastery/passgate/internal/domain/entities"
	"github.com/devilmonastery/passgate/internal/domain/repositories"
	"github.com/devilmonastery/passgate/internal/pkg/idgen"
)

// New returns a full set of in-memory repositories sharing nothing
func New() *repositories.Repositories {
	return &repositories.Repositories{
		Identities: NewIdentityRepository(),
		Sessions:   NewSessionRepository(),
		Audit:      NewAuditRepository(),
	}
}

// IdentityRepository keeps identities in a map keyed by login.
// Records are copied on the way in and out so callers never share state.
type IdentityRepository struct {
	mu      sync.RWMutex
	byLogin map[string]*entities.Identity
	writes  int
}

var _ repositories.IdentityRepository = (*IdentityRepository)(nil)

func NewIdentityRepository() *IdentityRepository {
	return &IdentityRepository{byLogin: make(map[string]*entities.Identity)}
}

func (r *IdentityRepository) Create(_ context.Context, identity *entities.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byLogin[identity.Login]; exists {
		return repositories.ErrVersionConflict
	}
	if err := r.checkChatLocked(identity); err != nil {
		return err
	}

	if identity.ID == "" {
		identity.ID = idgen.GenerateID()
	}
	now := time.Now()
	identity.CreatedAt = now
	identity.UpdatedAt = now
	identity.Version = 1

	r.byLogin[identity.Login] = identity.Clone()
	r.writes++
	return nil
}

func (r *IdentityRepository) GetByLogin(_ context.Context, login string) (*entities.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.byLogin[login]
	if !ok {
		return nil, repositories.ErrIdentityNotFound
	}
	return stored.Clone(), nil
}

func (r *IdentityRepository) GetByChat(_ context.Context, chatID int64) (*entities.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, stored := range r.byLogin {
		if stored.ChatChannel != nil && *stored.ChatChannel == chatID {
			return stored.Clone(), nil
		}
	}
	return nil, repositories.ErrIdentityNotFound
}

func (r *IdentityRepository) Update(_ context.Context, identity *entities.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byLogin[identity.Login]
	if !ok || stored.ID != identity.ID {
		return repositories.ErrIdentityNotFound
	}
	if stored.Version != identity.Version {
		return repositories.ErrVersionConflict
	}
	if err := r.checkChatLocked(identity); err != nil {
		return err
	}

	identity.Version++
	identity.UpdatedAt = time.Now()
	r.byLogin[identity.Login] = identity.Clone()
	r.writes++
	return nil
}

// Writes returns how many successful inserts and updates the repository has seen
func (r *IdentityRepository) Writes() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.writes
}

func (r *IdentityRepository) checkChatLocked(identity *entities.Identity) error {
	if identity.ChatChannel == nil {
		return nil
	}
	for login, stored := range r.byLogin {
		if login != identity.Login && stored.ChatChannel != nil && *stored.ChatChannel == *identity.ChatChannel {
			return repositories.ErrChatAlreadyBound
		}
	}
	return nil
}

// SessionRepository keeps browser sessions in a map
type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]entities.BrowserSession
}

var _ repositories.SessionRepository = (*SessionRepository)(nil)

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: make(map[string]entities.BrowserSession)}
}

func (r *SessionRepository) Create(_ context.Context, session *entities.BrowserSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session.ID == "" {
		session.ID = idgen.GenerateID()
	}
	if session.IssuedAt.IsZero() {
		session.IssuedAt = time.Now()
	}
	r.sessions[session.ID] = *session
	return nil
}

func (r *SessionRepository) GetByID(_ context.Context, id string) (*entities.BrowserSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, repositories.ErrSessionNotFound
	}
	return &s, nil
}

func (r *SessionRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

func (r *SessionRepository) DeleteByLogin(_ context.Context, login string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, s := range r.sessions {
		if s.Login == login {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

func (r *SessionRepository) DeleteIssuedBefore(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, s := range r.sessions {
		if s.IssuedAt.Before(before) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

// AuditRepository appends audit entries to a slice
type AuditRepository struct {
	mu   sync.RWMutex
	logs []entities.AuditLog
}

var _ repositories.AuditRepository = (*AuditRepository)(nil)

func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

func (r *AuditRepository) Create(_ context.Context, log *entities.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if log.ID == "" {
		log.ID = idgen.GenerateID()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	r.logs = append(r.logs, *log)
	return nil
}

func (r *AuditRepository) ListByLogin(_ context.Context, login string, limit int) ([]*entities.AuditLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*entities.AuditLog
	for i := len(r.logs) - 1; i >= 0; i-- {
		if r.logs[i].Login == login {
			entry := r.logs[i]
			out = append(out, &entry)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Actions returns every recorded action for login, oldest first
func (r *AuditRepository) Actions(login string) []entities.AuditAction {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []entities.AuditAction
	for _, l := range r.logs {
		if l.Login == login {
			out = append(out, l.Action)
		}
	}
	return out
}
