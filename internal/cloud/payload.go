package cloud

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/adem9445/iub-recorder/backend/internal/model"
)

// PayloadVersion is the version written into every remote document.
const PayloadVersion = 1

// isoMillis matches JavaScript's Date.prototype.toISOString.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// Payload is the remote document shared by all backends.
type Payload struct {
	Version   int             `json:"version"`
	UpdatedAt string          `json:"updatedAt"`
	Sessions  []model.Session `json:"sessions"`
}

// NewPayload wraps sessions for upload, stamped with now.
func NewPayload(sessions []model.Session, now time.Time) Payload {
	if sessions == nil {
		sessions = []model.Session{}
	}
	return Payload{
		Version:   PayloadVersion,
		UpdatedAt: now.UTC().Format(isoMillis),
		Sessions:  sessions,
	}
}

// EncodePayload marshals the wrapped document for sessions.
func EncodePayload(sessions []model.Session, now time.Time) ([]byte, error) {
	body, err := json.Marshal(NewPayload(sessions, now))
	if err != nil {
		return nil, fmt.Errorf("failed to encode sessions: %w", err)
	}
	return body, nil
}

// ParseSessions decodes a remote document. It accepts a bare array or an
// object with a "sessions" array; any other shape is treated as empty.
// Text that is not JSON at all is an error.
func ParseSessions(data []byte) ([]model.Session, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return []model.Session{}, nil
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	var sessionsJSON json.RawMessage
	switch v := raw.(type) {
	case []any:
		sessionsJSON = data
	case map[string]any:
		if _, ok := v["sessions"].([]any); !ok {
			return []model.Session{}, nil
		}
		var wrapper struct {
			Sessions json.RawMessage `json:"sessions"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		sessionsJSON = wrapper.Sessions
	default:
		return []model.Session{}, nil
	}

	// Entries that are not objects (null, numbers) are skipped like the
	// extension skips falsy entries.
	var entries []json.RawMessage
	if err := json.Unmarshal(sessionsJSON, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	sessions := make([]model.Session, 0, len(entries))
	for _, entry := range entries {
		if !bytes.HasPrefix(bytes.TrimSpace(entry), []byte("{")) {
			continue
		}
		var s model.Session
		if err := json.Unmarshal(entry, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// ErrorMessage extracts a human-readable message from a failed response,
// looking at error.message, message and error_summary before falling back
// to the raw body.
func ErrorMessage(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return err.Error()
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return ""
	}

	var data struct {
		Error        json.RawMessage `json:"error"`
		Message      string          `json:"message"`
		ErrorSummary string          `json:"error_summary"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return text
	}
	var nested struct {
		Message string `json:"message"`
	}
	if len(data.Error) > 0 && json.Unmarshal(data.Error, &nested) == nil && nested.Message != "" {
		return nested.Message
	}
	if data.Message != "" {
		return data.Message
	}
	if data.ErrorSummary != "" {
		return data.ErrorSummary
	}
	return text
}
