package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fmarques/failforward/app/observability/metrics"
	"github.com/fmarques/failforward/internal/types"
)

// State describes where the session context is in its lifecycle.
type State string

const (
	// StateLoading holds until the identity provider reports its first
	// auth state. Consumers should render a neutral placeholder.
	StateLoading       State = "loading"
	StateAuthenticated State = "authenticated"
	StateAnonymous     State = "anonymous"
)

// Snapshot is an immutable view of the current session. Profile is
// best-effort and may be nil even when authenticated.
type Snapshot struct {
	State   State          `json:"state"`
	Session *types.Session `json:"session,omitempty"`
	Profile *types.Profile `json:"profile,omitempty"`
}

// IdentitySource is the slice of the identity client the session
// context consumes.
type IdentitySource interface {
	OnSessionChange(cb func(*types.Session)) func()
}

// ProfileReader loads the profile attached to an authenticated session.
type ProfileReader interface {
	GetProfile(ctx context.Context, userID string) (*types.Profile, error)
}

// Context tracks the authenticated user across the process. It starts
// in StateLoading, follows every auth state transition the identity
// provider reports, and decorates authenticated sessions with the
// user's profile. Consumers either poll Snapshot or range over
// Updates, which coalesces so a slow consumer only ever sees the
// latest state.
type Context struct {
	profiles ProfileReader
	logger   *slog.Logger

	mu          sync.Mutex
	current     Snapshot
	updates     chan Snapshot
	unsubscribe func()
	closeOnce   sync.Once
}

func NewContext(identity IdentitySource, profiles ProfileReader, logger *slog.Logger) *Context {
	c := &Context{
		profiles: profiles,
		logger:   logger,
		current:  Snapshot{State: StateLoading},
		updates:  make(chan Snapshot, 1),
	}
	// The provider delivers the current auth state immediately on
	// subscribe, so StateLoading resolves before NewContext returns.
	c.unsubscribe = identity.OnSessionChange(c.onSessionChange)
	return c
}

func (c *Context) onSessionChange(sess *types.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap := Snapshot{State: StateAnonymous}
	if sess != nil {
		snap = Snapshot{State: StateAuthenticated, Session: sess}
		profile, err := c.profiles.GetProfile(ctx, sess.UserID)
		if err != nil {
			c.logger.WarnContext(ctx, "session profile load failed",
				slog.String("user_id", sess.UserID), slog.Any("error", err))
		}
		snap.Profile = profile
	}
	c.publish(snap)

	metrics.Get().SessionTransitionsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("state", string(snap.State))))
}

func (c *Context) publish(snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = snap

	// Coalesce: replace an undelivered snapshot rather than block.
	select {
	case <-c.updates:
	default:
	}
	select {
	case c.updates <- snap:
	default:
	}
}

// Snapshot returns the latest session state.
func (c *Context) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Updates delivers session snapshots, latest-wins.
func (c *Context) Updates() <-chan Snapshot {
	return c.updates
}

// Close detaches from the identity provider. The updates channel stays
// open but goes quiet.
func (c *Context) Close() {
	c.closeOnce.Do(func() {
		if c.unsubscribe != nil {
			c.unsubscribe()
		}
	})
}
