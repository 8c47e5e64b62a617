package sessionsync

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/adem9445/iub-recorder/backend/internal/model"
)

// Merge reconciles local and remote session lists. Sessions are matched by
// identity key; on a collision the one with the greater or equal timestamp
// wins, and since local sessions are applied last they win ties. The result
// is ordered newest first.
//
// changed reports whether the result differs from local position by
// position, so a pure reordering also counts as a change.
func Merge(local, remote []model.Session) ([]model.Session, bool) {
	if len(remote) == 0 {
		return local, false
	}

	index := make(map[string]int, len(local)+len(remote))
	merged := make([]model.Session, 0, len(local)+len(remote))
	insert := func(items []model.Session) {
		for _, s := range items {
			key := identityKey(s)
			if i, ok := index[key]; ok {
				if s.Timestamp >= merged[i].Timestamp {
					merged[i] = s
				}
				continue
			}
			index[key] = len(merged)
			merged = append(merged, s)
		}
	}
	insert(remote)
	insert(local)

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp > merged[j].Timestamp
	})

	if len(merged) != len(local) {
		return merged, true
	}
	for i := range merged {
		if !sameJSON(merged[i], local[i]) {
			return merged, true
		}
	}
	return merged, false
}

// identityKey picks the first of id, timestamp and title that is set.
// Sessions with none of them never collide.
func identityKey(s model.Session) string {
	if id, ok := s.IDKey(); ok {
		return id
	}
	switch {
	case s.Timestamp != 0:
		return strconv.FormatInt(s.Timestamp, 10)
	case s.Title != "":
		return s.Title
	default:
		return uuid.NewString()
	}
}

func sameJSON(a, b model.Session) bool {
	ja, err := json.Marshal(a)
	if err != nil {
		return false
	}
	jb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

// Digest returns the hex SHA-256 of the serialized session list. A nil list
// hashes like an empty one.
func Digest(sessions []model.Session) (string, error) {
	if sessions == nil {
		sessions = []model.Session{}
	}
	b, err := json.Marshal(sessions)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
