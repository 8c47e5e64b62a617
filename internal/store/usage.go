package store

import (
	"context"
	"math"
)

// DefaultQuotaBytes mirrors the local storage quota granted to extensions.
const DefaultQuotaBytes = 10 * 1024 * 1024

// Quota levels.
const (
	LevelOK       = "ok"
	LevelHigh     = "high"
	LevelCritical = "critical"
)

// Usage describes how much of the quota a user occupies.
type Usage struct {
	Bytes       int64   `json:"bytes"`
	MB          float64 `json:"mb"`
	QuotaBytes  int64   `json:"quotaBytes"`
	PercentUsed float64 `json:"percentUsed"`
	Level       string  `json:"level"`
}

// Warning reports whether the usage should be surfaced to the user.
func (u Usage) Warning() bool {
	return u.Level != LevelOK
}

// Usage measures the store against quotaBytes (DefaultQuotaBytes if <= 0).
func (s *Store) Usage(ctx context.Context, quotaBytes int64) (Usage, error) {
	if quotaBytes <= 0 {
		quotaBytes = DefaultQuotaBytes
	}
	n, err := s.BytesInUse(ctx)
	if err != nil {
		return Usage{}, err
	}
	return NewUsage(n, quotaBytes), nil
}

// NewUsage classifies n bytes against quotaBytes.
func NewUsage(n, quotaBytes int64) Usage {
	percent := float64(n) / float64(quotaBytes) * 100
	u := Usage{
		Bytes:       n,
		MB:          round(float64(n)/(1024*1024), 2),
		QuotaBytes:  quotaBytes,
		PercentUsed: round(percent, 1),
		Level:       LevelOK,
	}
	switch {
	case percent > 90:
		u.Level = LevelCritical
	case percent > 70:
		u.Level = LevelHigh
	}
	return u
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
