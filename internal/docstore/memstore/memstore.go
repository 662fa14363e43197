// Package memstore is an in-process docstore.Store used for local runs
// and tests. Live queries are fanned out on coalescing channels: each
// subscriber holds at most one pending snapshot and a newer one replaces
// it, so the latest delivered snapshot always supersedes the previous.
package memstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fmarques/failforward/internal/docstore"
)

var _ docstore.Store = (*Store)(nil)

type Store struct {
	logger *slog.Logger

	mu          sync.Mutex
	collections map[string]map[string]map[string]any
	subs        map[int]*subscription
	nextSubID   int

	now func() time.Time
}

func New(logger *slog.Logger) *Store {
	return &Store{
		logger:      logger,
		collections: make(map[string]map[string]map[string]any),
		subs:        make(map[int]*subscription),
		now:         time.Now,
	}
}

type subscription struct {
	id         int
	collection string
	filters    []docstore.Filter
	ch         chan []docstore.Document
	store      *Store
	once       sync.Once
}

func (s *subscription) Snapshots() <-chan []docstore.Document {
	return s.ch
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.store.mu.Lock()
		delete(s.store.subs, s.id)
		close(s.ch)
		s.store.mu.Unlock()
	})
}

func (s *Store) GetDocument(ctx context.Context, collection, id string) (docstore.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fields, ok := s.collections[collection][id]
	if !ok {
		return docstore.Document{}, docstore.ErrNotFound
	}
	return docstore.Document{ID: id, Fields: copyFields(fields)}, nil
}

func (s *Store) SetDocument(ctx context.Context, collection, id string, fields map[string]any, merge bool) error {
	resolved := docstore.ResolveTimestamps(fields, s.now())

	s.mu.Lock()
	defer s.mu.Unlock()

	coll := s.collections[collection]
	if coll == nil {
		coll = make(map[string]map[string]any)
		s.collections[collection] = coll
	}

	if existing, ok := coll[id]; ok && merge {
		merged := copyFields(existing)
		for k, v := range resolved {
			merged[k] = v
		}
		coll[id] = merged
	} else {
		coll[id] = copyFields(resolved)
	}

	s.notifyLocked(collection)
	return nil
}

func (s *Store) AddDocument(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := uuid.NewString()
	if err := s.SetDocument(ctx, collection, id, fields, false); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) SubscribeToQuery(ctx context.Context, collection string, filters []docstore.Filter) (docstore.Subscription, error) {
	for _, f := range filters {
		if f.Op != "==" {
			return nil, &docstore.StoreError{Op: "subscribe", Collection: collection, Err: fmt.Errorf("unsupported filter op %q", f.Op)}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSubID++
	sub := &subscription{
		id:         s.nextSubID,
		collection: collection,
		filters:    filters,
		ch:         make(chan []docstore.Document, 1),
		store:      s,
	}
	s.subs[sub.id] = sub
	s.deliverLocked(sub)
	s.logger.Debug("live query opened", slog.String("collection", collection), slog.Int("filters", len(filters)))
	return sub, nil
}

// notifyLocked pushes a fresh snapshot to every subscriber of the mutated
// collection. Caller holds s.mu, which serializes the drain-then-send on
// the capacity-1 channels.
func (s *Store) notifyLocked(collection string) {
	for _, sub := range s.subs {
		if sub.collection == collection {
			s.deliverLocked(sub)
		}
	}
}

func (s *Store) deliverLocked(sub *subscription) {
	var snap []docstore.Document
	for id, fields := range s.collections[sub.collection] {
		if matches(fields, sub.filters) {
			snap = append(snap, docstore.Document{ID: id, Fields: copyFields(fields)})
		}
	}

	// Replace any undelivered snapshot with the newer one.
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- snap:
	default:
	}
}

func matches(fields map[string]any, filters []docstore.Filter) bool {
	for _, f := range filters {
		v, ok := fields[f.Field]
		if !ok || fmt.Sprint(v) != fmt.Sprint(f.Value) {
			return false
		}
	}
	return true
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
