package provision

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Hook names the worker dispatches scheduled jobs by.
const (
	HookUserCreation = "process-user-creation-batch"
	HookUserMeta     = "process-user-meta-batch"
)

// UserRecord is one user-creation item.
type UserRecord struct {
	Login       string         `json:"login"`
	Email       string         `json:"email"`
	Role        string         `json:"role,omitempty"`
	Password    string         `json:"password,omitempty"`
	FirstName   string         `json:"first_name,omitempty"`
	LastName    string         `json:"last_name,omitempty"`
	DisplayName string         `json:"display_name,omitempty"`
	Nickname    string         `json:"nickname,omitempty"`
	URL         string         `json:"url,omitempty"`
	Description string         `json:"description,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// MetaRecord is one metadata-update item. The user is resolved by UserID,
// then Login, then Email.
type MetaRecord struct {
	UserID int64          `json:"user_id,omitempty"`
	Login  string         `json:"login,omitempty"`
	Email  string         `json:"email,omitempty"`
	Meta   map[string]any `json:"meta"`

	// Attempt counts single-key retries; zero for jobs scheduled from CSV.
	Attempt int `json:"attempt,omitempty"`

	// KeyMode names how Meta keys were selected when the job was scheduled.
	// Items that carry it are applied as is; items without it are filtered
	// by the applier's allow-list.
	KeyMode string `json:"key_mode,omitempty"`
}

// Legacy producers wrote user_login / user_email / user_pass / user_url.
var (
	loginKeys    = []string{"login", "user_login"}
	emailKeys    = []string{"email", "user_email"}
	passwordKeys = []string{"password", "user_pass"}
	urlKeys      = []string{"url", "user_url"}
)

// UserRecordFromItem decodes a normalized payload item.
func UserRecordFromItem(item map[string]any) UserRecord {
	return UserRecord{
		Login:       stringField(item, loginKeys...),
		Email:       stringField(item, emailKeys...),
		Role:        stringField(item, "role"),
		Password:    stringField(item, passwordKeys...),
		FirstName:   stringField(item, "first_name"),
		LastName:    stringField(item, "last_name"),
		DisplayName: stringField(item, "display_name"),
		Nickname:    stringField(item, "nickname"),
		URL:         stringField(item, urlKeys...),
		Description: stringField(item, "description"),
		Meta:        mapField(item, "meta"),
	}
}

// MetaRecordFromItem decodes a normalized payload item. A non-numeric user_id
// decodes as 0 and is ignored during resolution.
func MetaRecordFromItem(item map[string]any) MetaRecord {
	return MetaRecord{
		UserID: intField(item, "user_id"),
		Login:  stringField(item, loginKeys...),
		Email:  stringField(item, emailKeys...),
		Meta:   mapField(item, "meta"),

		Attempt: int(intField(item, "attempt")),
		KeyMode: stringField(item, "key_mode"),
	}
}

// IsUserItem reports whether a mapping looks like a single user-creation item.
func IsUserItem(m map[string]any) bool {
	return hasAny(m, loginKeys...) && hasAny(m, emailKeys...)
}

// IsMetaItem reports whether a mapping looks like a single metadata item.
func IsMetaItem(m map[string]any) bool {
	return hasAny(m, "user_id") || hasAny(m, loginKeys...) || hasAny(m, emailKeys...)
}

func hasAny(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return true
		}
	}
	return false
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			return t
		case json.Number:
			return t.String()
		case bool, float64, int, int64:
			return fmt.Sprint(t)
		}
	}
	return ""
}

func intField(m map[string]any, key string) int64 {
	switch t := m[key].(type) {
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0
		}
		return n
	case float64:
		if t != float64(int64(t)) {
			return 0
		}
		return int64(t)
	case int:
		return int64(t)
	case int64:
		return t
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}

func mapField(m map[string]any, key string) map[string]any {
	v, ok := m[key].(map[string]any)
	if !ok {
		return nil
	}
	return v
}
