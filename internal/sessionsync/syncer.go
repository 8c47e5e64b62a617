// Package sessionsync keeps a user's local session list in step with the
// remote copy held by their chosen cloud backend.
//
// The Syncer is the only writer of the session list, its content signature
// and the sync metadata. Its public operations never fail: remote and
// storage errors are logged, recorded in the sync metadata and degraded to
// "use local data" for loads and "report failure, keep local copy" for saves.
package sessionsync

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/adem9445/iub-recorder/backend/internal/cloud"
	"github.com/adem9445/iub-recorder/backend/internal/lease"
	"github.com/adem9445/iub-recorder/backend/internal/model"
	"github.com/adem9445/iub-recorder/backend/internal/store"
)

const (
	DefaultRefreshInterval = 60 * time.Second
	DefaultRemoteTimeout   = 30 * time.Second
)

// ReasonUnchanged is reported when a save is skipped because the content
// signature did not change.
const ReasonUnchanged = "unchanged"

// TokenReader supplies the user's cloud tokens.
type TokenReader interface {
	ReadTokens(ctx context.Context) (model.CloudTokens, error)
}

// LoadOptions controls LoadSessions.
type LoadOptions struct {
	// ForceRemote bypasses the refresh interval.
	ForceRemote bool
}

// Syncer synchronizes one user's sessions.
type Syncer struct {
	store           *store.Store
	vault           TokenReader
	newClient       ClientFactory
	now             func() time.Time
	refreshInterval time.Duration
	remoteTimeout   time.Duration
	quotaBytes      int64
	logger          *log.Logger
	lease           lease.Locker
	leaseOwner      string

	init singleflight.Group

	mu              sync.Mutex
	initialized     bool
	configVersion   string
	provider        model.Provider
	settings        model.CloudSettings
	client          cloud.Client
	lastRemoteFetch time.Time
}

// Option configures a Syncer.
type Option func(*Syncer)

func WithClock(now func() time.Time) Option {
	return func(s *Syncer) { s.now = now }
}

func WithRefreshInterval(d time.Duration) Option {
	return func(s *Syncer) { s.refreshInterval = d }
}

// WithRemoteTimeout bounds every backend call. Zero disables the bound.
func WithRemoteTimeout(d time.Duration) Option {
	return func(s *Syncer) { s.remoteTimeout = d }
}

func WithClientFactory(f ClientFactory) Option {
	return func(s *Syncer) { s.newClient = f }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Syncer) { s.logger = l }
}

// WithQuota sets the storage quota used by usage checks and auto cleanup.
func WithQuota(bytes int64) Option {
	return func(s *Syncer) { s.quotaBytes = bytes }
}

// New creates a Syncer over the user's store. vault may be nil, in which
// case no tokens are available.
func New(st *store.Store, vault TokenReader, opts ...Option) *Syncer {
	s := &Syncer{
		store:           st,
		vault:           vault,
		newClient:       DefaultClientFactory(),
		now:             time.Now,
		refreshInterval: DefaultRefreshInterval,
		remoteTimeout:   DefaultRemoteTimeout,
		quotaBytes:      store.DefaultQuotaBytes,
		logger:          log.New(os.Stderr, "[sessionsync] ", log.LstdFlags),
		provider:        model.ProviderLocal,
		settings:        model.DefaultCloudSettings(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureInitialized loads settings and tokens and builds the backend client.
// Concurrent callers share a single in-flight initialization. force discards
// the current state and reads everything again.
func (s *Syncer) EnsureInitialized(ctx context.Context, force bool) error {
	s.mu.Lock()
	done := s.initialized && !force
	s.mu.Unlock()
	if done {
		return nil
	}

	_, err, _ := s.init.Do("init", func() (any, error) {
		s.mu.Lock()
		done := s.initialized && !force
		s.mu.Unlock()
		if done {
			return nil, nil
		}
		return nil, s.initialize(ctx)
	})
	return err
}

// Reinitialize forces the next operation to use freshly read settings and
// tokens, for example after the user switched provider.
func (s *Syncer) Reinitialize(ctx context.Context) error {
	return s.EnsureInitialized(ctx, true)
}

func (s *Syncer) initialize(ctx context.Context) error {
	// Read before the settings so a concurrent change is picked up next time.
	version, err := s.store.ReadConfigVersion(ctx)
	if err != nil {
		s.logger.Printf("failed to read config version for user %s: %v", s.store.UserID(), err)
	}

	settings, err := s.store.ReadSettings(ctx)
	if err != nil {
		s.resetToLocal()
		return fmt.Errorf("failed to read cloud settings: %w", err)
	}

	var tokens model.CloudTokens
	if s.vault != nil {
		tokens, err = s.vault.ReadTokens(ctx)
		if err != nil {
			s.resetToLocal()
			return fmt.Errorf("failed to read cloud tokens: %w", err)
		}
	}

	provider := model.ParseProvider(string(settings.Provider))
	var client cloud.Client
	if provider != model.ProviderLocal {
		client, err = s.newClient(ctx, provider, settings, tokens)
		if err != nil {
			// Without a client the provider behaves like local until the
			// next re-initialization.
			s.logger.Printf("failed to create %s client for user %s: %v", provider, s.store.UserID(), err)
			client = nil
		}
	}

	s.mu.Lock()
	s.settings = settings
	s.provider = provider
	s.client = client
	s.configVersion = version
	s.lastRemoteFetch = time.Time{}
	s.initialized = true
	s.mu.Unlock()
	return nil
}

// resetToLocal leaves the syncer uninitialized so the next call retries.
func (s *Syncer) resetToLocal() {
	s.mu.Lock()
	s.settings = model.DefaultCloudSettings()
	s.provider = model.ProviderLocal
	s.client = nil
	s.initialized = false
	s.mu.Unlock()
}

func (s *Syncer) ensure(ctx context.Context) {
	if err := s.EnsureInitialized(ctx, s.configChanged(ctx)); err != nil {
		s.logger.Printf("initialization failed for user %s, continuing locally: %v", s.store.UserID(), err)
	}
}

// configChanged reports whether settings or tokens were written since the
// syncer was initialized, possibly by another instance.
func (s *Syncer) configChanged(ctx context.Context) bool {
	s.mu.Lock()
	initialized, seen := s.initialized, s.configVersion
	s.mu.Unlock()
	if !initialized {
		return false
	}

	current, err := s.store.ReadConfigVersion(ctx)
	if err != nil {
		s.logger.Printf("failed to read config version for user %s: %v", s.store.UserID(), err)
		return false
	}
	return current != seen
}

func (s *Syncer) state() (model.Provider, cloud.Client, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.provider, s.client, s.lastRemoteFetch
}

func (s *Syncer) markRemoteFetch() {
	s.mu.Lock()
	s.lastRemoteFetch = s.now()
	s.mu.Unlock()
}

func (s *Syncer) remoteContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.remoteTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.remoteTimeout)
}

// Store returns the user's store.
func (s *Syncer) Store() *store.Store {
	return s.store
}

// GetActiveProvider returns the provider in use.
func (s *Syncer) GetActiveProvider(ctx context.Context) model.Provider {
	s.ensure(ctx)
	provider, _, _ := s.state()
	return provider
}

// Settings returns the settings the syncer was initialized with.
func (s *Syncer) Settings(ctx context.Context) model.CloudSettings {
	s.ensure(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// GetCloudSyncMeta returns the last recorded sync outcome, or nil. It never
// contacts the backend.
func (s *Syncer) GetCloudSyncMeta(ctx context.Context) (*model.SyncMeta, error) {
	return s.store.ReadMeta(ctx)
}

// LoadSessions returns the user's sessions, merged with the remote copy when
// a backend is configured and the refresh interval has passed.
func (s *Syncer) LoadSessions(ctx context.Context, opts LoadOptions) []model.Session {
	s.ensure(ctx)

	local, err := s.store.ReadSessions(ctx)
	if err != nil {
		// Merging against an unreadable local list could overwrite it.
		s.logger.Printf("failed to read local sessions for user %s: %v", s.store.UserID(), err)
		return []model.Session{}
	}

	provider, client, last := s.state()
	if client == nil || provider == model.ProviderLocal {
		return local
	}
	if !opts.ForceRemote && s.now().Sub(last) < s.refreshInterval {
		return local
	}

	rctx, cancel := s.remoteContext(ctx)
	remote, err := client.LoadSessions(rctx)
	cancel()
	if err != nil {
		s.writeMeta(ctx, provider, model.StatusError, err.Error())
		s.logger.Printf("remote load failed for user %s: %v", s.store.UserID(), err)
		return local
	}
	s.markRemoteFetch()
	if remote == nil {
		return local
	}

	merged, changed := Merge(local, remote)
	if !changed {
		return merged
	}

	if err := s.store.WriteSessions(ctx, merged); err != nil {
		s.writeMeta(ctx, provider, model.StatusError, err.Error())
		s.logger.Printf("failed to store merged sessions for user %s: %v", s.store.UserID(), err)
		return local
	}
	s.writeSignature(ctx, merged)
	return merged
}

// SaveSessions stores sessions locally and pushes them to the backend when
// their content changed since the last save.
func (s *Syncer) SaveSessions(ctx context.Context, sessions []model.Session) model.SaveResult {
	s.ensure(ctx)
	if sessions == nil {
		sessions = []model.Session{}
	}
	provider, client, _ := s.state()

	if err := s.store.WriteSessions(ctx, sessions); err != nil {
		msg := fmt.Sprintf("failed to store sessions locally: %v", err)
		s.writeMeta(ctx, provider, model.StatusError, msg)
		s.logger.Printf("local save failed for user %s: %v", s.store.UserID(), err)
		return model.SaveResult{Success: false, Provider: provider, Error: msg}
	}

	previous, err := s.store.ReadSignature(ctx)
	if err != nil {
		s.logger.Printf("failed to read signature for user %s: %v", s.store.UserID(), err)
		previous = ""
	}
	signature := s.writeSignature(ctx, sessions)

	if client == nil || provider == model.ProviderLocal {
		s.writeMeta(ctx, provider, model.StatusLocal, "")
		return model.SaveResult{Success: true, Provider: provider, Skipped: true}
	}

	if signature != "" && previous != "" && signature == previous {
		s.writeMeta(ctx, provider, model.StatusCached, "")
		return model.SaveResult{Success: true, Provider: provider, Skipped: true, Reason: ReasonUnchanged}
	}

	rctx, cancel := s.remoteContext(ctx)
	res, err := s.push(rctx, client, sessions)
	cancel()
	if err != nil {
		s.writeMeta(ctx, provider, model.StatusError, err.Error())
		s.logger.Printf("remote save failed for user %s: %v", s.store.UserID(), err)
		return model.SaveResult{Success: false, Provider: provider, Error: err.Error()}
	}
	if !res.Success {
		msg := res.Reason
		if msg == "" {
			msg = "cloud storage is not configured"
		}
		s.writeMeta(ctx, provider, model.StatusError, msg)
		return model.SaveResult{Success: false, Provider: provider, Skipped: res.Skipped, Reason: res.Reason, Error: msg}
	}

	s.writeMeta(ctx, provider, model.StatusSynced, "")
	s.markRemoteFetch()
	return model.SaveResult{Success: true, Provider: provider, Remote: &res}
}

func (s *Syncer) push(ctx context.Context, client cloud.Client, sessions []model.Session) (model.RemoteResult, error) {
	release, err := s.acquireLease(ctx)
	if err != nil {
		return model.RemoteResult{}, err
	}
	defer release()
	return client.SaveSessions(ctx, sessions)
}

// writeSignature stores the digest of sessions and returns it, or "" if it
// could not be computed.
func (s *Syncer) writeSignature(ctx context.Context, sessions []model.Session) string {
	signature, err := Digest(sessions)
	if err != nil {
		s.logger.Printf("failed to hash sessions: %v", err)
		return ""
	}
	if err := s.store.WriteSignature(ctx, signature); err != nil {
		s.logger.Printf("failed to store signature for user %s: %v", s.store.UserID(), err)
	}
	return signature
}

func (s *Syncer) writeMeta(ctx context.Context, provider model.Provider, status model.SyncStatus, msg string) {
	meta := model.SyncMeta{
		Provider:  provider,
		Status:    status,
		Error:     msg,
		UpdatedAt: s.now().UnixMilli(),
	}
	if err := s.store.WriteMeta(ctx, meta); err != nil {
		s.logger.Printf("failed to record sync status for user %s: %v", s.store.UserID(), err)
	}
}
