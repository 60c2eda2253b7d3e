package importer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	// ErrUnknownOption is returned for a key=value argument with an unrecognized key
	ErrUnknownOption = errors.New("unknown option")

	// ErrInvalidOption is returned when an option value cannot be parsed
	ErrInvalidOption = errors.New("invalid option value")
)

// Options controls one enqueue run.
type Options struct {
	Role      string
	Group     string
	Now       bool
	Step      time.Duration
	Lead      time.Duration
	Delimiter rune
	Limit     int
	Match     MatchStrategy
	IDColumn  string
	MetaMode  MetaMode
	AllowList AllowList
	DryRun    bool
}

// Set applies one textual option, as given on a flag, a key=value argument
// or an upload form field. Keys are case-insensitive and "_" equals "-".
func (o *Options) Set(key, value string) error {
	key = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), "_", "-")
	value = strings.TrimSpace(value)

	switch key {
	case "role":
		o.Role = value
	case "group":
		o.Group = value
	case "now":
		b, err := parseBool(value)
		if err != nil {
			return fmt.Errorf("%w: now=%q", ErrInvalidOption, value)
		}
		o.Now = b
	case "dry-run":
		b, err := parseBool(value)
		if err != nil {
			return fmt.Errorf("%w: dry-run=%q", ErrInvalidOption, value)
		}
		o.DryRun = b
	case "step":
		d, err := parseSeconds(value)
		if err != nil {
			return fmt.Errorf("%w: step=%q", ErrInvalidOption, value)
		}
		o.Step = d
	case "lead":
		d, err := parseSeconds(value)
		if err != nil {
			return fmt.Errorf("%w: lead=%q", ErrInvalidOption, value)
		}
		o.Lead = d
	case "delimiter", "delim":
		r, err := ParseDelimiter(value)
		if err != nil {
			return err
		}
		o.Delimiter = r
	case "limit":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("%w: limit=%q", ErrInvalidOption, value)
		}
		o.Limit = n
	case "match":
		m, err := ParseMatchStrategy(value)
		if err != nil {
			return err
		}
		o.Match = m
	case "idcol":
		o.IDColumn = value
	case "meta-mode", "mode":
		m, err := ParseMetaMode(value)
		if err != nil {
			return err
		}
		o.MetaMode = m
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOption, key)
	}

	return nil
}

// SplitArgs separates the CSV path from trailing key=value arguments. The
// first argument without "=" is the path; a second one is an error.
func SplitArgs(args []string) (string, map[string]string, error) {
	var path string
	values := make(map[string]string)

	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			if path != "" {
				return "", nil, fmt.Errorf("%w: unexpected argument %q", ErrInvalidOption, arg)
			}
			path = arg
			continue
		}
		if strings.TrimSpace(key) == "" {
			return "", nil, fmt.Errorf("%w: empty key in %q", ErrInvalidOption, arg)
		}
		values[key] = value
	}

	return path, values, nil
}

// ParseDelimiter accepts a single character, or the two-character escape \t.
func ParseDelimiter(s string) (rune, error) {
	switch s {
	case "":
		return ',', nil
	case `\t`, "tab":
		return '\t', nil
	}

	// Shells and forms often keep the quotes in delimiter=','
	if len(s) >= 3 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		s = s[1 : len(s)-1]
	}

	r, size := utf8.DecodeRuneInString(s)
	if size != len(s) || r == utf8.RuneError || r == '\r' || r == '\n' || r == '"' {
		return 0, fmt.Errorf("%w: delimiter=%q", ErrInvalidOption, s)
	}
	return r, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "on":
		return true, nil
	case "", "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", s)
}

// parseSeconds reads plain integers as seconds and anything else as a Go
// duration ("90s", "2m").
func parseSeconds(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}
