package sessionsync

import (
	"context"
	"sort"

	"github.com/adem9445/iub-recorder/backend/internal/model"
	"github.com/adem9445/iub-recorder/backend/internal/store"
)

const (
	DefaultKeepSessions = 3
	autoCleanupKeep     = 2
)

// CleanupResult reports what CleanupOldSessions removed.
type CleanupResult struct {
	Cleaned   int               `json:"cleaned"`
	Remaining int               `json:"remaining"`
	Error     string            `json:"error,omitempty"`
	Sync      *model.SaveResult `json:"sync,omitempty"`
}

// AutoCleanupResult reports the outcome of AutoCleanupIfNeeded.
type AutoCleanupResult struct {
	Cleaned         bool         `json:"cleaned"`
	OldUsage        *store.Usage `json:"oldUsage,omitempty"`
	NewUsage        *store.Usage `json:"newUsage,omitempty"`
	SessionsRemoved int          `json:"sessionsRemoved,omitempty"`
}

// Usage measures the user's storage against the configured quota.
func (s *Syncer) Usage(ctx context.Context) (store.Usage, error) {
	return s.store.Usage(ctx, s.quotaBytes)
}

// CleanupOldSessions keeps only the keep newest sessions. The trimmed list
// is saved through SaveSessions so the remote copy follows.
func (s *Syncer) CleanupOldSessions(ctx context.Context, keep int) CleanupResult {
	if keep < 0 {
		keep = 0
	}
	s.ensure(ctx)

	sessions, err := s.store.ReadSessions(ctx)
	if err != nil {
		s.logger.Printf("cleanup failed for user %s: %v", s.store.UserID(), err)
		return CleanupResult{Error: err.Error()}
	}
	if len(sessions) <= keep {
		return CleanupResult{Remaining: len(sessions)}
	}

	sorted := make([]model.Session, len(sessions))
	copy(sorted, sessions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp > sorted[j].Timestamp
	})
	kept := sorted[:keep]

	res := s.SaveSessions(ctx, kept)
	out := CleanupResult{Sync: &res}

	// A failed remote push still trims the local list, so success is
	// judged by what the store now holds.
	stored, err := s.store.ReadSessions(ctx)
	if err != nil || len(stored) != len(kept) {
		out.Remaining = len(sessions)
		out.Error = res.Error
		if out.Error == "" && err != nil {
			out.Error = err.Error()
		}
		return out
	}
	out.Cleaned = len(sessions) - len(kept)
	out.Remaining = len(kept)
	s.logger.Printf("cleaned up %d old sessions for user %s, kept %d", out.Cleaned, s.store.UserID(), out.Remaining)
	return out
}

// AutoCleanupIfNeeded trims the session list to the two newest sessions when
// usage is critical.
func (s *Syncer) AutoCleanupIfNeeded(ctx context.Context) (AutoCleanupResult, error) {
	before, err := s.Usage(ctx)
	if err != nil {
		return AutoCleanupResult{}, err
	}
	if before.Level != store.LevelCritical {
		return AutoCleanupResult{Cleaned: false}, nil
	}

	s.logger.Printf("storage at %.1f%% for user %s, cleaning old sessions", before.PercentUsed, s.store.UserID())
	res := s.CleanupOldSessions(ctx, autoCleanupKeep)

	after, err := s.Usage(ctx)
	if err != nil {
		return AutoCleanupResult{}, err
	}
	return AutoCleanupResult{
		Cleaned:         true,
		OldUsage:        &before,
		NewUsage:        &after,
		SessionsRemoved: res.Cleaned,
	}, nil
}
