package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/cuongbtq/user-provisioner/internal/account"
)

const byteOrderMark = "\uFEFF"

// metaValue renders a metadata value for storage. Strings are trimmed and
// BOM-stripped, scalars become text, anything else is stored as JSON. The
// second result is false when there is nothing to store.
func metaValue(v any) (string, bool, error) {
	switch t := v.(type) {
	case nil:
		return "", false, nil
	case string:
		s := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(t), byteOrderMark))
		return s, s != "", nil
	case json.Number:
		return t.String(), true, nil
	case bool:
		return strconv.FormatBool(t), true, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true, nil
	case int:
		return strconv.Itoa(t), true, nil
	case int64:
		return strconv.FormatInt(t, 10), true, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return "", false, fmt.Errorf("failed to serialize meta value: %w", err)
	}
	return string(data), true, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// sanitizeLogin trims the login and drops characters outside
// letters, digits, space, "_", ".", "-" and "@". Inner whitespace runs
// collapse to one space.
func sanitizeLogin(login string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.TrimSpace(login) {
		switch {
		case unicode.IsSpace(r):
			space = true
			continue
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)),
			r == '_', r == '.', r == '-', r == '@':
		default:
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// sanitizeEmail trims the address and lowercases its domain.
func sanitizeEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	return email[:at+1] + strings.ToLower(email[at+1:])
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	at := strings.LastIndex(email, "@")
	return at > 0 && strings.Contains(email[at+1:], ".")
}

// ResolveUser finds the account an item refers to, trying user_id, then
// login, then email. Lookups that miss fall through to the next identifier.
func ResolveUser(ctx context.Context, finder account.Finder, rec MetaRecord) (*account.User, error) {
	type lookup struct {
		ok   bool
		find func() (*account.User, error)
	}

	lookups := []lookup{
		{rec.UserID > 0, func() (*account.User, error) { return finder.FindByID(ctx, rec.UserID) }},
		{strings.TrimSpace(rec.Login) != "", func() (*account.User, error) {
			return finder.FindByLogin(ctx, strings.TrimSpace(rec.Login))
		}},
		{strings.TrimSpace(rec.Email) != "", func() (*account.User, error) {
			return finder.FindByEmail(ctx, strings.TrimSpace(rec.Email))
		}},
	}

	for _, l := range lookups {
		if !l.ok {
			continue
		}
		u, err := l.find()
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, account.ErrNotFound) {
			return nil, err
		}
	}

	return nil, ErrUserNotFound
}
