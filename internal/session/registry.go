package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aarutech20/indicVoice/internal/apperr"
	"github.com/aarutech20/indicVoice/internal/metrics"
	"github.com/aarutech20/indicVoice/internal/store"
)

// Config controls the idle reaper. A zero IdleTimeout disables it.
type Config struct {
	IdleTimeout  time.Duration
	ReapInterval time.Duration
}

// Registry creates, ends and looks up sessions. It is safe for concurrent use.
type Registry struct {
	store   store.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	config  Config
	now     func() time.Time

	locks *KeyedMutex
	group singleflight.Group

	// Last activity of sessions touched through this registry.
	mu       sync.Mutex
	activity map[string]time.Time
}

// NewRegistry creates a registry on top of st. m may be nil.
func NewRegistry(st store.Store, logger *slog.Logger, m *metrics.Metrics, config Config) *Registry {
	if config.ReapInterval <= 0 {
		config.ReapInterval = 30 * time.Second
	}

	return &Registry{
		store:    st,
		logger:   logger,
		metrics:  m,
		config:   config,
		now:      func() time.Time { return time.Now().UTC() },
		locks:    NewKeyedMutex(),
		activity: make(map[string]time.Time),
	}
}

type createResult struct {
	session *store.Session
	created bool
}

// CreateOrGet returns the session with the given id, creating it with
// languageCode if it does not exist. An existing session keeps its original
// language. created reports whether this call inserted the session.
func (r *Registry) CreateOrGet(ctx context.Context, id, languageCode string) (*store.Session, bool, error) {
	if err := apperr.FromContext(ctx); err != nil {
		return nil, false, err
	}

	// A follower that inherited a leader's cancellation retries once with its
	// own context.
	for attempt := 0; ; attempt++ {
		leader := false
		v, err, _ := r.group.Do(id, func() (any, error) {
			leader = true
			return r.createOrGet(ctx, id, languageCode)
		})
		if err != nil {
			if attempt == 0 && !leader && apperr.IsKind(err, apperr.KindCancelled) && ctx.Err() == nil {
				continue
			}
			return nil, false, err
		}

		res := v.(createResult)
		// Late chunks on an ended session must not bring it back under the
		// reaper.
		if res.session.Active {
			r.touch(id)
		}
		return res.session, res.created && leader, nil
	}
}

func (r *Registry) createOrGet(ctx context.Context, id, languageCode string) (createResult, error) {
	unlock, err := r.locks.Lock(ctx, id)
	if err != nil {
		return createResult{}, apperr.Cancelled(err)
	}
	defer unlock()

	now := r.now()
	sess, created, err := r.store.CreateSessionIfAbsent(ctx, store.Session{
		ID:           id,
		LanguageCode: languageCode,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return createResult{}, r.storageError(ctx, "create_session", err)
	}

	if created {
		r.metrics.RecordSessionCreated()
		r.logger.Info("Created session",
			slog.String("session_id", id),
			slog.String("language_code", languageCode),
		)
	}

	return createResult{session: sess, created: created}, nil
}

// Get returns the session or a NotFound error.
func (r *Registry) Get(ctx context.Context, id string) (*store.Session, error) {
	if err := apperr.FromContext(ctx); err != nil {
		return nil, err
	}

	sess, err := r.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("session", id)
		}
		return nil, r.storageError(ctx, "get_session", err)
	}
	return sess, nil
}

// End marks the session inactive. Ending an unknown or already ended session
// is not an error.
func (r *Registry) End(ctx context.Context, id string) error {
	_, err := r.end(ctx, id, "client")
	return err
}

// end reports whether the session went from active to inactive.
func (r *Registry) end(ctx context.Context, id, reason string) (bool, error) {
	if err := apperr.FromContext(ctx); err != nil {
		return false, err
	}

	unlock, err := r.locks.Lock(ctx, id)
	if err != nil {
		return false, apperr.Cancelled(err)
	}
	defer unlock()

	wasActive := true
	prev, err := r.store.GetSession(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return false, r.storageError(ctx, "get_session", err)
	default:
		wasActive = prev.Active
	}

	existed, err := r.store.EndSession(ctx, id, r.now())
	if err != nil {
		return false, r.storageError(ctx, "end_session", err)
	}

	r.forget(id)

	if !existed {
		r.logger.Debug("End requested for unknown session", slog.String("session_id", id))
		return false, nil
	}
	if !wasActive {
		r.logger.Debug("Session already ended", slog.String("session_id", id))
		return false, nil
	}

	r.metrics.RecordSessionEnded(reason)
	r.logger.Info("Ended session",
		slog.String("session_id", id),
		slog.String("reason", reason),
	)
	return true, nil
}

// Lock serializes mutations of one session. Callers must invoke the returned
// function to release it.
func (r *Registry) Lock(ctx context.Context, id string) (func(), error) {
	unlock, err := r.locks.Lock(ctx, id)
	if err != nil {
		return nil, apperr.Cancelled(err)
	}
	return unlock, nil
}

// Ping checks the underlying store.
func (r *Registry) Ping(ctx context.Context) error {
	if err := r.store.Ping(ctx); err != nil {
		return r.storageError(ctx, "ping", err)
	}
	return nil
}

// Run drives the idle reaper until ctx is done.
func (r *Registry) Run(ctx context.Context) error {
	if r.config.IdleTimeout <= 0 {
		r.logger.Info("Session idle reaper disabled")
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(r.config.ReapInterval)
	defer ticker.Stop()

	r.logger.Info("Session idle reaper started",
		slog.Duration("idle_timeout", r.config.IdleTimeout),
		slog.Duration("check_interval", r.config.ReapInterval),
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Session idle reaper stopping")
			return nil
		case <-ticker.C:
			r.ReapIdle(ctx)
		}
	}
}

// ReapIdle ends every tracked session idle for longer than the configured
// timeout and returns how many it ended.
func (r *Registry) ReapIdle(ctx context.Context) int {
	if r.config.IdleTimeout <= 0 {
		return 0
	}

	now := r.now()
	expired := make([]string, 0)

	r.mu.Lock()
	for id, last := range r.activity {
		if now.Sub(last) > r.config.IdleTimeout {
			expired = append(expired, id)
		}
	}
	r.mu.Unlock()

	if len(expired) == 0 {
		return 0
	}

	r.logger.Info("Ending idle sessions", slog.Int("expired_count", len(expired)))

	ended := 0
	for _, id := range expired {
		if !r.stillIdle(id, now) {
			continue
		}
		changed, err := r.end(ctx, id, "idle")
		if err != nil {
			r.logger.Warn("Failed to end idle session",
				slog.String("session_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		if changed {
			ended++
		}
	}
	return ended
}

// TrackedCount returns the number of sessions watched by the reaper.
func (r *Registry) TrackedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.activity)
}

// touch records activity for the reaper. Nothing is tracked while the reaper
// is disabled.
func (r *Registry) touch(id string) {
	if r.config.IdleTimeout <= 0 {
		return
	}
	r.mu.Lock()
	r.activity[id] = r.now()
	n := len(r.activity)
	r.mu.Unlock()
	r.metrics.SetTrackedSessions(n)
}

func (r *Registry) forget(id string) {
	r.mu.Lock()
	delete(r.activity, id)
	n := len(r.activity)
	r.mu.Unlock()
	r.metrics.SetTrackedSessions(n)
}

func (r *Registry) stillIdle(id string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	last, ok := r.activity[id]
	return ok && now.Sub(last) > r.config.IdleTimeout
}

func (r *Registry) storageError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return apperr.Cancelled(err)
	}
	r.metrics.RecordStoreError(op)
	r.logger.Error("Store operation failed",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	return apperr.Storage(op, err)
}
