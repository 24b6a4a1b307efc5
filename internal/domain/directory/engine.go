package directory

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/clinic/clinic/internal/platform/docstore"
)

// Item is one rendered document: its fields plus "id".
type Item map[string]interface{}

// View is the page a listing currently shows.
type View struct {
	Listing     string `json:"listing"`
	Items       []Item `json:"items"`
	Page        int    `json:"page"`
	IsFirstPage bool   `json:"is_first_page"`
	IsLastPage  bool   `json:"is_last_page"`
	Search      string `json:"search,omitempty"`
	Loading     bool   `json:"loading"`
	Error       string `json:"error,omitempty"`
}

// Engine keeps the cursor state of one listing instance. Navigation calls are
// serialized: a request waits for the one in flight and then runs against the
// state it left.
type Engine struct {
	store   docstore.Store
	listing Listing
	logger  zerolog.Logger
	tracer  trace.Tracer

	nav sync.Mutex

	mu sync.Mutex
	// gen identifies the sort, filters and search term the state belongs to.
	gen string
	// starts[i] is the first document of page i+1.
	starts  []docstore.Cursor
	last    *docstore.Cursor
	page    int
	isLast  bool
	search  string
	items   []Item
	loading bool
	err     error
}

func NewEngine(store docstore.Store, listing Listing, logger zerolog.Logger) *Engine {
	return &Engine{
		store:   store,
		listing: listing,
		logger:  logger.With().Str("listing", listing.Name).Logger(),
		tracer:  otel.Tracer("github.com/clinic/clinic/internal/domain/directory"),
	}
}

func (e *Engine) Listing() Listing {
	return e.listing
}

// Snapshot returns the current view without querying.
func (e *Engine) Snapshot() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewLocked()
}

// FetchPage moves the listing in direction dir. A change of filters or search
// term resets the listing to its first page. Moving next from the last page or
// back from the first page returns the current view without a query. A failed
// query empties the page, records the error and returns it.
func (e *Engine) FetchPage(ctx context.Context, dir Direction, filters Filters, search string) (View, error) {
	e.nav.Lock()
	defer e.nav.Unlock()

	filters = filters.Effective()
	search = strings.TrimSpace(search)
	where, err := e.listing.where(filters)
	if err != nil {
		return e.Snapshot(), err
	}
	if search != "" && e.listing.SearchField == "" {
		return e.Snapshot(), ErrSearchUnsupported
	}

	e.mu.Lock()
	gen := e.listing.Sort.Field + "|" + filters.key() + "|" + search
	if gen != e.gen {
		e.resetLocked()
		e.gen = gen
		dir = First
	}
	if e.page == 0 || (dir == Prev && len(e.starts) < e.page-1) {
		dir = First
	}
	if (dir == Next && e.isLast) || (dir == Prev && e.page <= 1) {
		v := e.viewLocked()
		e.mu.Unlock()
		return v, nil
	}
	q := e.planLocked(dir, where, search)
	e.loading = true
	e.mu.Unlock()

	ctx, span := e.tracer.Start(ctx, "directory.FetchPage", trace.WithAttributes(
		attribute.String("listing", e.listing.Name),
		attribute.String("direction", string(dir)),
		attribute.Bool("search", search != ""),
	))
	defer span.End()

	docs, err := e.store.Query(ctx, q)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.loading = false
	if err != nil {
		e.items = nil
		e.err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		e.logger.Error().Err(err).Str("direction", string(dir)).Msg("listing query failed")
		return e.viewLocked(), err
	}
	e.err = nil

	if search != "" {
		e.applySearchLocked(docs, search)
	} else {
		e.applyPageLocked(dir, docs)
	}
	return e.viewLocked(), nil
}

func (e *Engine) planLocked(dir Direction, where []docstore.Filter, search string) docstore.Query {
	size := e.listing.PageSize
	if search != "" {
		return docstore.Query{
			Collection: e.listing.Collection,
			OrderBy:    docstore.Order{Field: e.listing.SearchField},
			Where:      append(where, docstore.PrefixRange(e.listing.SearchField, docstore.Capitalize(search))...),
			Limit:      size,
		}
	}

	// One extra document tells whether a further page exists.
	q := docstore.Query{
		Collection: e.listing.Collection,
		OrderBy:    e.listing.Sort,
		Where:      where,
		Limit:      size + 1,
	}
	switch dir {
	case Next:
		q.StartAfter = e.last
	case Prev:
		start := e.starts[e.page-2]
		q.StartAt = &start
	}
	return q
}

func (e *Engine) applyPageLocked(dir Direction, docs []docstore.Document) {
	size := e.listing.PageSize
	hasMore := len(docs) > size
	if hasMore {
		docs = docs[:size]
	}

	switch dir {
	case First:
		e.starts = e.starts[:0]
		if len(docs) > 0 {
			e.starts = append(e.starts, docstore.CursorAt(docs[0], e.listing.Sort))
		}
		e.page = 1
	case Next:
		if len(docs) == 0 {
			// Documents after the cursor went away since the last fetch.
			e.isLast = true
			return
		}
		e.starts = append(e.starts, docstore.CursorAt(docs[0], e.listing.Sort))
		e.page++
	case Prev:
		e.page--
		e.starts = e.starts[:e.page]
		if len(docs) > 0 {
			e.starts[e.page-1] = docstore.CursorAt(docs[0], e.listing.Sort)
		}
	}

	e.isLast = !hasMore
	e.last = nil
	if len(docs) > 0 {
		c := docstore.CursorAt(docs[len(docs)-1], e.listing.Sort)
		e.last = &c
	}
	e.items = e.render(docs)
}

func (e *Engine) applySearchLocked(docs []docstore.Document, search string) {
	e.starts = e.starts[:0]
	e.last = nil
	e.page = 1
	e.isLast = true
	e.search = search
	e.items = e.render(docs)
}

func (e *Engine) render(docs []docstore.Document) []Item {
	items := make([]Item, 0, len(docs))
	for _, d := range docs {
		if e.listing.excluded(d) {
			continue
		}
		it := make(Item, len(d.Fields)+1)
		for k, v := range d.Fields {
			it[k] = v
		}
		it["id"] = d.ID
		items = append(items, it)
	}
	return items
}

func (e *Engine) resetLocked() {
	e.starts = nil
	e.last = nil
	e.page = 0
	e.isLast = false
	e.search = ""
	e.items = nil
	e.err = nil
}

func (e *Engine) viewLocked() View {
	v := View{
		Listing:     e.listing.Name,
		Items:       append([]Item{}, e.items...),
		Page:        e.page,
		IsFirstPage: e.page <= 1,
		IsLastPage:  e.isLast,
		Search:      e.search,
		Loading:     e.loading,
	}
	if v.Page == 0 {
		v.Page = 1
	}
	if e.err != nil {
		v.Error = e.err.Error()
	}
	return v
}
