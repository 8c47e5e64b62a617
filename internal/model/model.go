package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Session is a captured workflow unit as stored by the extension.
// Captures and any field the backend does not know about are carried
// through unchanged.
type Session struct {
	ID        int64
	Title     string
	Timestamp int64
	Captures  []json.RawMessage

	// Extra holds unknown top-level fields keyed by their JSON name.
	Extra map[string]json.RawMessage

	// raw is the decoded encoding of the known fields. A field whose typed
	// value still matches is written back as it came in, so ids that are
	// not numbers, empty titles and zero timestamps survive.
	raw map[string]json.RawMessage
}

var sessionFields = map[string]bool{"id": true, "title": true, "timestamp": true, "captures": true}

// IDKey renders the id the way the extension stringifies it. ok is false
// when the session has no usable id.
func (s Session) IDKey() (key string, ok bool) {
	if raw, found := s.raw["id"]; found && decodeNumber(raw) == s.ID {
		if string(raw) == "null" {
			return "", false
		}
		var str string
		if err := json.Unmarshal(raw, &str); err == nil {
			return str, true
		}
		return strconv.FormatInt(s.ID, 10), true
	}
	if s.ID != 0 {
		return strconv.FormatInt(s.ID, 10), true
	}
	return "", false
}

// MarshalJSON writes the known fields in a fixed order followed by Extra
// sorted by key, as one flat object.
func (s Session) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	write := func(k string, v []byte) error {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		key, err := json.Marshal(k)
		if err != nil {
			return err
		}
		buf.Write(key)
		buf.WriteByte(':')
		return json.Compact(&buf, v)
	}

	known, err := s.knownFields()
	if err != nil {
		return nil, err
	}
	for _, f := range known {
		if err := write(f.name, f.value); err != nil {
			return nil, err
		}
	}

	keys := make([]string, 0, len(s.Extra))
	for k := range s.Extra {
		if !sessionFields[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := write(k, s.Extra[k]); err != nil {
			return nil, fmt.Errorf("session field %q: %w", k, err)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type jsonField struct {
	name  string
	value []byte
}

func (s Session) knownFields() ([]jsonField, error) {
	var out []jsonField
	add := func(name string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		out = append(out, jsonField{name, b})
		return nil
	}

	if raw, ok := s.raw["id"]; ok && decodeNumber(raw) == s.ID {
		out = append(out, jsonField{"id", raw})
	} else if ok || s.ID != 0 {
		if err := add("id", s.ID); err != nil {
			return nil, err
		}
	}

	if raw, ok := s.raw["title"]; ok && decodeString(raw) == s.Title {
		out = append(out, jsonField{"title", raw})
	} else if ok || s.Title != "" {
		if err := add("title", s.Title); err != nil {
			return nil, err
		}
	}

	if raw, ok := s.raw["timestamp"]; ok && decodeNumber(raw) == s.Timestamp {
		out = append(out, jsonField{"timestamp", raw})
	} else if ok || s.Timestamp != 0 {
		if err := add("timestamp", s.Timestamp); err != nil {
			return nil, err
		}
	}

	if raw, ok := s.raw["captures"]; s.Captures == nil && ok {
		out = append(out, jsonField{"captures", raw})
	} else if s.Captures != nil {
		if err := add("captures", s.Captures); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// UnmarshalJSON accepts the extension's session object, keeping unknown fields.
func (s *Session) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = Session{}
		return nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("session: %w", err)
	}

	var out Session
	if raw, ok := fields["id"]; ok {
		out.ID = decodeNumber(raw)
	}
	if raw, ok := fields["timestamp"]; ok {
		out.Timestamp = decodeNumber(raw)
	}
	if raw, ok := fields["title"]; ok {
		out.Title = decodeString(raw)
	}
	if raw, ok := fields["captures"]; ok {
		if err := json.Unmarshal(raw, &out.Captures); err != nil {
			return fmt.Errorf("session captures: %w", err)
		}
	}
	for k, v := range fields {
		if sessionFields[k] {
			if out.raw == nil {
				out.raw = make(map[string]json.RawMessage, len(sessionFields))
			}
			out.raw[k] = v
			continue
		}
		if out.Extra == nil {
			out.Extra = make(map[string]json.RawMessage)
		}
		out.Extra[k] = v
	}
	*s = out
	return nil
}

func decodeString(raw json.RawMessage) string {
	var str string
	_ = json.Unmarshal(raw, &str)
	return str
}

// decodeNumber reads a JSON number or numeric string, returning 0 for
// anything else. Fractional epoch values are truncated.
func decodeNumber(raw json.RawMessage) int64 {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int64(f)
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		n := json.Number(str)
		if v, err := n.Int64(); err == nil {
			return v
		}
		if v, err := n.Float64(); err == nil {
			return int64(v)
		}
	}
	return 0
}

// Provider identifies the remote storage backend.
type Provider string

const (
	ProviderLocal    Provider = "local"
	ProviderDropbox  Provider = "dropbox"
	ProviderOneDrive Provider = "onedrive"
	ProviderGDrive   Provider = "gdrive"
)

// ParseProvider resolves a stored provider name. Unknown or empty values
// resolve to ProviderLocal.
func ParseProvider(name string) Provider {
	switch p := Provider(name); p {
	case ProviderDropbox, ProviderOneDrive, ProviderGDrive:
		return p
	default:
		return ProviderLocal
	}
}

const DefaultFileName = "iub-recorder-sessions.json"

// CloudSettings is the user-configured sync configuration.
type CloudSettings struct {
	Provider            Provider `json:"provider"`
	FileName            string   `json:"fileName"`
	DropboxPath         string   `json:"dropboxPath"`
	OneDrivePath        string   `json:"oneDrivePath"`
	GoogleDriveFileID   string   `json:"googleDriveFileId"`
	GoogleDriveFolderID string   `json:"googleDriveFolderId"`
}

// DefaultCloudSettings returns the settings used before the user changes anything.
func DefaultCloudSettings() CloudSettings {
	return CloudSettings{
		Provider:     ProviderLocal,
		FileName:     DefaultFileName,
		DropboxPath:  "/Apps/IUB-Recorder",
		OneDrivePath: "/Documents/IUB-Recorder",
	}
}

// CloudTokens holds one bearer token per backend.
type CloudTokens struct {
	DropboxToken            string `json:"dropboxToken"`
	OneDriveToken           string `json:"oneDriveToken"`
	GoogleDriveToken        string `json:"googleDriveToken"`
	GoogleDriveRefreshToken string `json:"googleDriveRefreshToken,omitempty"`
}

// String reports which tokens are present without revealing them.
func (t CloudTokens) String() string {
	mask := func(v string) string {
		if v == "" {
			return "unset"
		}
		return "set"
	}
	return fmt.Sprintf("CloudTokens{dropbox:%s onedrive:%s gdrive:%s gdriveRefresh:%s}",
		mask(t.DropboxToken), mask(t.OneDriveToken), mask(t.GoogleDriveToken), mask(t.GoogleDriveRefreshToken))
}

// GoString keeps %#v from printing token values.
func (t CloudTokens) GoString() string { return t.String() }

// SyncStatus is the state shown on the extension's sync badge.
type SyncStatus string

const (
	StatusLocal   SyncStatus = "local"
	StatusPending SyncStatus = "pending"
	StatusSynced  SyncStatus = "synced"
	StatusCached  SyncStatus = "cached"
	StatusError   SyncStatus = "error"
)

// SyncMeta is the last recorded sync outcome.
type SyncMeta struct {
	Provider  Provider   `json:"provider"`
	Status    SyncStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
	UpdatedAt int64      `json:"updatedAt"` // epoch milliseconds
}

// RemoteResult is what a cloud backend reports for a save.
type RemoteResult struct {
	Success bool   `json:"success"`
	Skipped bool   `json:"skipped,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Status  int    `json:"status,omitempty"`
}

// SaveResult is returned to callers of SaveSessions.
type SaveResult struct {
	Success  bool          `json:"success"`
	Provider Provider      `json:"provider"`
	Skipped  bool          `json:"skipped,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Error    string        `json:"error,omitempty"`
	Remote   *RemoteResult `json:"remote,omitempty"`
}
