// Package dashboard maintains the three live views behind the main
// screen: the signed-in user's failures, the global feed and the
// user's goals. Each view is backed by an independent live query and
// holds a fully replaced, locally sorted result set.
package dashboard

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fmarques/failforward/app/observability/metrics"
	"github.com/fmarques/failforward/internal/docstore"
	"github.com/fmarques/failforward/internal/types"
)

const (
	failuresCollection = "failures"
	goalsCollection    = "futureGoals"

	// The global feed shows at most this many posts, trimmed after the
	// local sort so the cut always keeps the most recent entries.
	feedLimit = 10

	anonymousAuthor = "Anonymous"
)

// Service owns the dashboard's live queries. The global feed query is
// opened once at Start and never depends on a user; the two filtered
// queries follow the current user id and are torn down and reopened on
// every change so a previous user's filter can never leak snapshots
// into the next session.
type Service struct {
	store  docstore.Store
	logger *slog.Logger

	mu      sync.Mutex
	gen     uint64
	userID  string
	profile *types.Profile

	myFailures []types.Failure
	feed       []types.Failure
	goals      []types.Goal

	feedSub     docstore.Subscription
	failuresSub docstore.Subscription
	goalsSub    docstore.Subscription

	watchers  map[uint64]chan struct{}
	watcherID uint64

	wg     sync.WaitGroup
	closed bool
}

func NewService(store docstore.Store, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		logger:   logger,
		watchers: make(map[uint64]chan struct{}),
	}
}

// Start opens the global feed query. It has no user dependency and
// stays open until Close.
func (s *Service) Start(ctx context.Context) error {
	sub, err := s.store.SubscribeToQuery(ctx, failuresCollection, nil)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.feedSub = sub
	s.mu.Unlock()

	// The feed has no user dependency: its consumer ignores generation
	// bumps from SetUser and runs until the subscription closes.
	s.consumeFailures(ctx, sub, 0, false, "feed", func(list []types.Failure) {
		if len(list) > feedLimit {
			list = list[:feedLimit]
		}
		s.feed = list
	})
	return nil
}

// SetUser switches the two filtered queries to the given user. An
// empty id tears the queries down and clears the user views. The
// profile is captured here and echoed onto submissions, so later
// profile edits do not relabel posts already made.
func (s *Service) SetUser(ctx context.Context, userID string, profile *types.Profile) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.gen++
	gen := s.gen
	failuresSub := s.failuresSub
	goalsSub := s.goalsSub
	s.failuresSub = nil
	s.goalsSub = nil
	s.userID = userID
	s.profile = profile
	s.myFailures = nil
	s.goals = nil
	s.mu.Unlock()

	if failuresSub != nil {
		failuresSub.Unsubscribe()
	}
	if goalsSub != nil {
		goalsSub.Unsubscribe()
	}
	if userID == "" {
		s.notifyWatchers()
		return nil
	}

	filters := []docstore.Filter{docstore.Eq("authorId", userID)}
	fSub, err := s.store.SubscribeToQuery(ctx, failuresCollection, filters)
	if err != nil {
		return err
	}
	gSub, err := s.store.SubscribeToQuery(ctx, goalsCollection, filters)
	if err != nil {
		fSub.Unsubscribe()
		return err
	}

	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		fSub.Unsubscribe()
		gSub.Unsubscribe()
		return nil
	}
	s.failuresSub = fSub
	s.goalsSub = gSub
	s.mu.Unlock()

	s.consumeFailures(ctx, fSub, gen, true, "my_failures", func(list []types.Failure) {
		s.myFailures = list
	})
	s.consumeGoals(ctx, gSub, gen)
	return nil
}

// consumeFailures drains a failure subscription, replacing the target
// view on every snapshot. apply runs under the service lock with the
// sorted result set. User-scoped consumers stop applying once their
// generation is superseded; the feed consumer is not user-scoped and
// only stops when the subscription closes.
func (s *Service) consumeFailures(ctx context.Context, sub docstore.Subscription, gen uint64, userScoped bool, view string, apply func([]types.Failure)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for snapshot := range sub.Snapshots() {
			list := decodeFailures(snapshot, s.logger)
			sortByCreatedAtDesc(list, func(f types.Failure) types.DocTime { return f.CreatedAt })

			s.mu.Lock()
			if userScoped && gen != s.gen {
				s.mu.Unlock()
				return
			}
			apply(list)
			s.mu.Unlock()

			metrics.Get().SnapshotsDeliveredTotal.Add(ctx, 1,
				metric.WithAttributes(attribute.String("view", view)))
			s.notifyWatchers()
		}
	}()
}

func (s *Service) consumeGoals(ctx context.Context, sub docstore.Subscription, gen uint64) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for snapshot := range sub.Snapshots() {
			list := decodeGoals(snapshot, s.logger)
			sortByCreatedAtDesc(list, func(g types.Goal) types.DocTime { return g.CreatedAt })

			s.mu.Lock()
			if gen != s.gen {
				s.mu.Unlock()
				return
			}
			s.goals = list
			s.mu.Unlock()

			metrics.Get().SnapshotsDeliveredTotal.Add(ctx, 1,
				metric.WithAttributes(attribute.String("view", "goals")))
			s.notifyWatchers()
		}
	}()
}

// MyFailures returns the current user's failures, newest first.
func (s *Service) MyFailures() []types.Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Failure(nil), s.myFailures...)
}

// Feed returns the global feed, newest first, at most feedLimit entries.
func (s *Service) Feed() []types.Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Failure(nil), s.feed...)
}

// Goals returns the current user's goals, newest first.
func (s *Service) Goals() []types.Goal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Goal(nil), s.goals...)
}

// AddFailure submits a new failure post. A trimmed-empty title is a
// silent no-op and reports not accepted. A non-empty title is always
// accepted: the write runs store-then-forget, so a storage failure is
// logged but the caller still sees the submission as queued.
func (s *Service) AddFailure(ctx context.Context, title, description string) bool {
	title = strings.TrimSpace(title)
	if title == "" {
		return false
	}

	authorID, authorName, authorAvatar := s.author()
	fields := map[string]any{
		"title":        title,
		"description":  strings.TrimSpace(description),
		"authorId":     authorID,
		"authorName":   authorName,
		"authorAvatar": authorAvatar,
		"tags":         []string{},
		"votes":        0,
		"comments":     0,
		"status":       string(types.FailureStatusOpen),
		"createdAt":    docstore.ServerTimestamp,
		"updatedAt":    docstore.ServerTimestamp,
	}
	s.submit(ctx, failuresCollection, fields)
	return true
}

// AddGoal submits a new goal with the same acceptance rules as
// AddFailure.
func (s *Service) AddGoal(ctx context.Context, title, description string) bool {
	title = strings.TrimSpace(title)
	if title == "" {
		return false
	}

	authorID, authorName, _ := s.author()
	fields := map[string]any{
		"title":       title,
		"description": strings.TrimSpace(description),
		"authorId":    authorID,
		"authorName":  authorName,
		"status":      string(types.GoalStatusActive),
		"createdAt":   docstore.ServerTimestamp,
		"updatedAt":   docstore.ServerTimestamp,
	}
	s.submit(ctx, goalsCollection, fields)
	return true
}

func (s *Service) submit(ctx context.Context, collection string, fields map[string]any) {
	metrics.Get().SubmissionsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("collection", collection)))

	if _, err := s.store.AddDocument(ctx, collection, fields); err != nil {
		metrics.Get().StoreErrorsTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("collection", collection)))
		s.logger.ErrorContext(ctx, "submission write failed",
			slog.String("collection", collection), slog.Any("error", err))
	}
}

func (s *Service) author() (id, name, avatar string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name = anonymousAuthor
	if s.profile != nil {
		if s.profile.DisplayName != "" {
			name = s.profile.DisplayName
		}
		avatar = s.profile.AvatarURL
	}
	return s.userID, name, avatar
}

// Watch registers a change listener. The returned channel receives a
// tick whenever any view is replaced, coalesced so a slow reader only
// wakes once. The cancel function releases the watcher.
func (s *Service) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.watcherID++
	id := s.watcherID
	s.watchers[id] = ch
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

func (s *Service) notifyWatchers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Close tears down every live query and waits for the view goroutines
// to drain.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.gen++
	subs := []docstore.Subscription{s.feedSub, s.failuresSub, s.goalsSub}
	s.feedSub = nil
	s.failuresSub = nil
	s.goalsSub = nil
	s.mu.Unlock()

	for _, sub := range subs {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
	s.wg.Wait()
}

func decodeFailures(docs []docstore.Document, logger *slog.Logger) []types.Failure {
	list := make([]types.Failure, 0, len(docs))
	for _, doc := range docs {
		var f types.Failure
		if err := doc.Decode(&f); err != nil {
			logger.Warn("skipping undecodable failure document", slog.String("id", doc.ID), slog.Any("error", err))
			continue
		}
		f.ID = doc.ID
		list = append(list, f)
	}
	return list
}

func decodeGoals(docs []docstore.Document, logger *slog.Logger) []types.Goal {
	list := make([]types.Goal, 0, len(docs))
	for _, doc := range docs {
		var g types.Goal
		if err := doc.Decode(&g); err != nil {
			logger.Warn("skipping undecodable goal document", slog.String("id", doc.ID), slog.Any("error", err))
			continue
		}
		g.ID = doc.ID
		list = append(list, g)
	}
	return list
}

// sortByCreatedAtDesc orders newest first. The zero time is the
// earliest instant, so entries without a usable timestamp end up last.
func sortByCreatedAtDesc[T any](list []T, createdAt func(T) types.DocTime) {
	sort.SliceStable(list, func(i, j int) bool {
		return createdAt(list[i]).After(createdAt(list[j]).Time)
	})
}
