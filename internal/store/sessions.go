package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/adem9445/iub-recorder/backend/internal/model"
)

// ReadSessions returns the stored session list, or an empty list if none
// has been written yet.
func (s *Store) ReadSessions(ctx context.Context) ([]model.Session, error) {
	var sessions []model.Session
	if _, err := s.Get(ctx, KeySessions, &sessions); err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	return sessions, nil
}

// WriteSessions replaces the stored session list.
func (s *Store) WriteSessions(ctx context.Context, sessions []model.Session) error {
	if sessions == nil {
		sessions = []model.Session{}
	}
	return s.Put(ctx, KeySessions, sessions)
}

// ReadSignature returns the last stored content signature, or "" if absent.
func (s *Store) ReadSignature(ctx context.Context) (string, error) {
	var sig string
	if _, err := s.Get(ctx, KeySignature, &sig); err != nil {
		return "", err
	}
	return sig, nil
}

// WriteSignature stores the content signature of the current session list.
func (s *Store) WriteSignature(ctx context.Context, signature string) error {
	return s.Put(ctx, KeySignature, signature)
}

// ReadMeta returns the last sync metadata, or nil if nothing was recorded.
func (s *Store) ReadMeta(ctx context.Context) (*model.SyncMeta, error) {
	var meta model.SyncMeta
	ok, err := s.Get(ctx, KeyMeta, &meta)
	if err != nil || !ok {
		return nil, err
	}
	return &meta, nil
}

// WriteMeta records the outcome of a sync attempt.
func (s *Store) WriteMeta(ctx context.Context, meta model.SyncMeta) error {
	return s.Put(ctx, KeyMeta, meta)
}

// ReadSettings returns the defaults overlaid with whatever fields the user
// has stored.
func (s *Store) ReadSettings(ctx context.Context) (model.CloudSettings, error) {
	settings := model.DefaultCloudSettings()
	raw, err := s.GetRaw(ctx, KeySettings)
	if errors.Is(err, ErrNotFound) {
		return settings, nil
	}
	if err != nil {
		return settings, err
	}
	if err := json.Unmarshal(raw, &settings); err != nil {
		return model.DefaultCloudSettings(), fmt.Errorf("failed to decode %s: %w", KeySettings, err)
	}
	return settings, nil
}

// WriteSettings replaces the stored cloud settings.
func (s *Store) WriteSettings(ctx context.Context, settings model.CloudSettings) error {
	if err := s.Put(ctx, KeySettings, settings); err != nil {
		return err
	}
	return s.TouchConfig(ctx)
}

// ReadConfigVersion returns the current configuration version, or "" if
// settings and tokens were never written.
func (s *Store) ReadConfigVersion(ctx context.Context) (string, error) {
	var version string
	if _, err := s.Get(ctx, KeyConfigVersion, &version); err != nil {
		return "", err
	}
	return version, nil
}

// TouchConfig records that settings or tokens changed.
func (s *Store) TouchConfig(ctx context.Context) error {
	return s.Put(ctx, KeyConfigVersion, uuid.NewString())
}
