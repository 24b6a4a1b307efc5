package directory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/clinic/clinic/internal/platform/websocket"
)

// TopicPrefix prefixes the live-update topic of every session.
const TopicPrefix = "listings/"

// Topic is the topic a session publishes its views on.
func Topic(sessionID string) string {
	return TopicPrefix + sessionID
}

func sessionIDFromTopic(topic string) (string, bool) {
	if !strings.HasPrefix(topic, TopicPrefix) {
		return "", false
	}
	return strings.TrimPrefix(topic, TopicPrefix), true
}

// Session is one open listing: an engine plus the filters and search text the
// user has entered. Search text takes effect after the debounce period.
type Session struct {
	ID     string
	Owner  string
	engine *Engine

	debounce  *Debouncer
	base      context.Context
	timeout   time.Duration
	publisher websocket.Publisher

	// nav spans reading the inputs and running the engine, so a navigation
	// never applies inputs older than the ones the previous one used.
	nav sync.Mutex

	mu      sync.Mutex
	filters Filters
	search  string
	pending string
	touched time.Time
	now     func() time.Time
}

// SessionView is the engine view plus the session inputs.
type SessionView struct {
	ID      string  `json:"id"`
	Filters Filters `json:"filters"`
	// PendingSearch is the typed text not yet applied.
	PendingSearch string `json:"pending_search,omitempty"`
	View
}

func (s *Session) touch() {
	s.touched = s.now()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched
}

func (s *Session) inputs() (Filters, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	f := make(Filters, len(s.filters))
	for k, v := range s.filters {
		f[k] = v
	}
	return f, s.search
}

func (s *Session) wrap(v View) SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	sv := SessionView{ID: s.ID, Filters: s.filters, View: v}
	if s.pending != s.search {
		sv.PendingSearch = s.pending
	}
	return sv
}

func (s *Session) View() SessionView {
	return s.wrap(s.engine.Snapshot())
}

func (s *Session) Navigate(ctx context.Context, dir Direction) (SessionView, error) {
	s.nav.Lock()
	filters, search := s.inputs()
	v, err := s.engine.FetchPage(ctx, dir, filters, search)
	s.nav.Unlock()
	sv := s.wrap(v)
	s.publish(ctx, sv)
	return sv, err
}

func (s *Session) publish(ctx context.Context, sv SessionView) {
	if s.publisher == nil {
		return
	}
	ev, err := websocket.NewEvent("listing.view", Topic(s.ID), sv)
	if err == nil {
		err = s.publisher.Publish(ctx, ev)
	}
	if err != nil {
		s.engine.logger.Warn().Err(err).Str("session", s.ID).Msg("failed to publish listing view")
	}
}

// SetFilters replaces the filter set and reloads the first page.
func (s *Session) SetFilters(ctx context.Context, filters Filters) (SessionView, error) {
	if _, err := s.engine.Listing().where(filters.Effective()); err != nil {
		return s.View(), err
	}
	s.mu.Lock()
	s.filters = filters.Effective()
	s.touch()
	s.mu.Unlock()
	return s.Navigate(ctx, First)
}

// SetSearch records typed text. The query runs once the text has been stable
// for the debounce period.
func (s *Session) SetSearch(text string) (SessionView, error) {
	if text != "" && s.engine.Listing().SearchField == "" {
		return s.View(), ErrSearchUnsupported
	}
	s.mu.Lock()
	s.pending = text
	s.touch()
	s.mu.Unlock()

	s.debounce.Trigger(func() {
		s.mu.Lock()
		s.search = text
		s.mu.Unlock()
		ctx, cancel := context.WithTimeout(s.base, s.timeout)
		defer cancel()
		s.Navigate(ctx, First)
	})
	return s.View(), nil
}

func (s *Session) Close() {
	s.debounce.Stop()
}
