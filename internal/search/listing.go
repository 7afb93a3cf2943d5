package search

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/cin-capture/internal/constants"
	"github.com/kozaktomas/cin-capture/internal/logger"
	"github.com/kozaktomas/cin-capture/internal/record"
	"github.com/kozaktomas/cin-capture/internal/upload"
)

// DocumentStore is the persistence service as seen by the listing.
type DocumentStore interface {
	List(ctx context.Context, skip, limit int) ([]record.DocumentRecord, error)
	Get(ctx context.Context, id int64) (*record.DocumentRecord, error)
	SearchByTerm(ctx context.Context, term string) ([]record.DocumentRecord, error)
	Delete(ctx context.Context, id int64) error
}

// Mode is what the current view shows.
type Mode string

const (
	ModeAll    Mode = "all"
	ModeText   Mode = "text"
	ModeRemote Mode = "remote"
	ModePhoto  Mode = "photo"
)

// ListingOptions configures a Listing. Zero values fall back to defaults.
type ListingOptions struct {
	RequestTimeout time.Duration
	PageSize       int
	Rules          upload.Rules
	Logger         *zap.Logger
}

// View is a copy of what the listing currently displays.
type View struct {
	Mode      Mode        `json:"mode"`
	Query     string      `json:"query,omitempty"`
	Documents []Annotated `json:"documents"`
	// Total is the size of the loaded collection, not of the view.
	Total int    `json:"total"`
	Error string `json:"error,omitempty"`
}

// Listing holds the loaded document collection and the view derived from it. Network
// calls run without the lock; a completion is applied only if no newer request was
// started in the meantime.
type Listing struct {
	store      DocumentStore
	correlator *Correlator
	opts       ListingOptions
	log        *zap.Logger

	mu    sync.Mutex
	seq   uint64
	docs  []record.DocumentRecord
	view  []Annotated
	mode  Mode
	query string
	err   string
}

// NewListing creates an empty listing. Call Load to fetch the collection.
func NewListing(store DocumentStore, correlator *Correlator, opts ListingOptions) *Listing {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = constants.DefaultRequestTimeout
	}
	if opts.PageSize <= 0 {
		opts.PageSize = constants.DefaultHandlerPageSize
	}
	if opts.Rules.MaxBytes <= 0 || len(opts.Rules.AllowedTypes) == 0 {
		opts.Rules = upload.DefaultRules()
	}
	opts.Logger = logger.OrNop(opts.Logger)
	return &Listing{
		store:      store,
		correlator: correlator,
		opts:       opts,
		log:        opts.Logger,
		mode:       ModeAll,
	}
}

func (l *Listing) next() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	return l.seq
}

// apply runs f under the lock if seq is still the latest request.
func (l *Listing) apply(seq uint64, f func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if seq != l.seq {
		return false
	}
	f()
	return true
}

func (l *Listing) failed(seq uint64, err error) error {
	l.apply(seq, func() { l.err = record.UserMessage(err) })
	return err
}

func plain(docs []record.DocumentRecord) []Annotated {
	out := make([]Annotated, len(docs))
	for i, d := range docs {
		out[i] = Annotated{DocumentRecord: d}
	}
	return out
}

// Load fetches the collection from persistence and shows all of it.
func (l *Listing) Load(ctx context.Context) error {
	seq := l.next()
	ctx, cancel := context.WithTimeout(ctx, l.opts.RequestTimeout)
	defer cancel()

	docs, err := l.store.List(ctx, 0, l.opts.PageSize)
	if err != nil {
		l.log.Warn("loading documents failed", zap.Error(err))
		return l.failed(seq, record.NewCollaboratorError(record.OpList, err))
	}

	l.apply(seq, func() {
		l.docs = docs
		l.view = plain(docs)
		l.mode = ModeAll
		l.query = ""
		l.err = ""
	})
	return nil
}

// FilterText narrows the loaded collection locally. It leaves photo search mode.
func (l *Listing) FilterText(query string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++

	l.query = query
	l.err = ""
	l.view = plain(FilterLocal(l.docs, query))
	if strings.TrimSpace(query) == "" {
		l.mode = ModeAll
	} else {
		l.mode = ModeText
	}
}

// SearchRemote asks persistence for documents matching term and shows them. The loaded
// collection is kept. A blank term reloads the full collection and a not-found answer
// shows an empty list. Any other failure keeps the current view.
func (l *Listing) SearchRemote(ctx context.Context, term string) error {
	if strings.TrimSpace(term) == "" {
		return l.Load(ctx)
	}

	seq := l.next()
	ctx, cancel := context.WithTimeout(ctx, l.opts.RequestTimeout)
	defer cancel()

	docs, err := l.store.SearchByTerm(ctx, term)
	if err != nil && !errors.Is(err, record.ErrNotFound) {
		l.log.Warn("remote search failed", zap.String("term", term), zap.Error(err))
		return l.failed(seq, record.NewCollaboratorError(record.OpSearchByTerm, err))
	}

	l.apply(seq, func() {
		l.view = plain(docs)
		l.mode = ModeRemote
		l.query = term
		l.err = ""
	})
	return nil
}

// SearchPhoto validates the probe photo, runs a face search and shows the matched
// documents in rank order. It leaves text filtering mode.
func (l *Listing) SearchPhoto(ctx context.Context, u upload.Upload) (Result, error) {
	photo, err := l.opts.Rules.Read(ctx, u)
	if err != nil {
		l.mu.Lock()
		l.err = record.UserMessage(err)
		l.mu.Unlock()
		return Result{}, err
	}

	seq := l.next()

	l.mu.Lock()
	docs := slices.Clone(l.docs)
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, l.opts.RequestTimeout)
	defer cancel()

	res, err := l.correlator.Search(ctx, docs, photo)
	if err != nil {
		l.log.Warn("photo search failed", zap.String("file", photo.Name), zap.Error(err))
		return Result{}, l.failed(seq, err)
	}

	l.apply(seq, func() {
		l.view = res.Matches
		l.mode = ModePhoto
		l.query = ""
		l.err = ""
	})
	l.log.Info("photo search",
		zap.Int("documents", len(docs)),
		zap.Int("matches", len(res.Matches)))
	return res, nil
}

// ResetPhotoSearch discards the match annotations and reloads the collection.
func (l *Listing) ResetPhotoSearch(ctx context.Context) error {
	return l.Load(ctx)
}

// Get fetches the full record for id.
func (l *Listing) Get(ctx context.Context, id int64) (*record.DocumentRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opts.RequestTimeout)
	defer cancel()

	doc, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, record.NewCollaboratorError(record.OpGet, err)
	}
	return doc, nil
}

// Delete removes id from persistence and, once that succeeds, from the loaded
// collection and the current view.
func (l *Listing) Delete(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, l.opts.RequestTimeout)
	defer cancel()

	if err := l.store.Delete(ctx, id); err != nil {
		l.log.Warn("delete failed", zap.Int64("id", id), zap.Error(err))
		err = record.NewCollaboratorError(record.OpDelete, err)
		l.mu.Lock()
		l.err = record.UserMessage(err)
		l.mu.Unlock()
		return fmt.Errorf("delete document %d: %w", id, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.docs = slices.DeleteFunc(slices.Clone(l.docs), func(d record.DocumentRecord) bool { return d.ID == id })
	l.view = slices.DeleteFunc(slices.Clone(l.view), func(a Annotated) bool { return a.ID == id })
	l.err = ""
	l.log.Info("document deleted", zap.Int64("id", id))
	return nil
}

// View returns a copy of the current view.
func (l *Listing) View() View {
	l.mu.Lock()
	defer l.mu.Unlock()

	docs := slices.Clone(l.view)
	if docs == nil {
		docs = []Annotated{}
	}
	return View{
		Mode:      l.mode,
		Query:     l.query,
		Documents: docs,
		Total:     len(l.docs),
		Error:     l.err,
	}
}

// Documents returns a copy of the loaded collection.
func (l *Listing) Documents() []record.DocumentRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.docs)
}
