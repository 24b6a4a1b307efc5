package directory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/docstore"
	"github.com/clinic/clinic/internal/platform/websocket"
)

var (
	ErrSessionNotFound = errors.New("listing session not found")
	ErrForbidden       = errors.New("listing not allowed for role")
)

type RegistryConfig struct {
	Debounce time.Duration
	IdleTTL  time.Duration
	// QueryTimeout bounds debounced searches, which run outside any request.
	QueryTimeout time.Duration
	// Publisher receives every view a session produces. Nil disables it.
	Publisher websocket.Publisher
}

// Registry owns the open listing sessions.
type Registry struct {
	store   docstore.Store
	catalog Catalog
	cfg     RegistryConfig
	logger  zerolog.Logger
	base    context.Context
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(base context.Context, store docstore.Store, catalog Catalog, cfg RegistryConfig, logger zerolog.Logger) *Registry {
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = 10 * time.Second
	}
	return &Registry{
		store:    store,
		catalog:  catalog,
		cfg:      cfg,
		logger:   logger.With().Str("component", "listings").Logger(),
		base:     base,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Open creates a session on the named listing for owner and loads its first
// page. The session is kept even when that first load fails.
func (r *Registry) Open(ctx context.Context, name, owner, role string, filters Filters) (*Session, SessionView, error) {
	listing, err := r.catalog.Lookup(name)
	if err != nil {
		return nil, SessionView{}, err
	}
	if !listing.Allows(role) {
		return nil, SessionView{}, ErrForbidden
	}
	if _, err := listing.where(filters.Effective()); err != nil {
		return nil, SessionView{}, err
	}

	s := &Session{
		ID:        uuid.NewString(),
		Owner:     owner,
		engine:    NewEngine(r.store, listing, r.logger),
		debounce:  NewDebouncer(r.cfg.Debounce),
		base:      r.base,
		timeout:   r.cfg.QueryTimeout,
		publisher: r.cfg.Publisher,
		filters:   filters.Effective(),
		now:       r.now,
	}
	s.touch()

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	v, err := s.Navigate(ctx, First)
	return s, v, err
}

// Get returns the session id when it belongs to owner.
func (r *Registry) Get(id, owner string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.Owner != owner {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// AuthorizeTopic lets users subscribe to the live views of their own sessions.
func (r *Registry) AuthorizeTopic(userID, _ string, topic string) bool {
	id, ok := sessionIDFromTopic(topic)
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return ok && s.Owner == userID
}

func (r *Registry) Close(id, owner string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok || s.Owner != owner {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(r.sessions, id)
	r.mu.Unlock()
	s.Close()
	return nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Evict closes sessions idle for longer than the configured TTL.
func (r *Registry) Evict() int {
	cutoff := r.now().Add(-r.cfg.IdleTTL)
	var stale []*Session

	r.mu.Lock()
	for id, s := range r.sessions {
		if s.idleSince().Before(cutoff) {
			stale = append(stale, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range stale {
		s.Close()
	}
	if len(stale) > 0 {
		r.logger.Debug().Int("evicted", len(stale)).Msg("evicted idle listing sessions")
	}
	return len(stale)
}

// RunJanitor evicts idle sessions every interval until ctx ends.
func (r *Registry) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Evict()
		}
	}
}
