package importer

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const byteOrderMark = "\uFEFF"

// StripBOM removes a leading UTF-8 byte-order-mark.
func StripBOM(s string) string {
	return strings.TrimPrefix(s, byteOrderMark)
}

// NormalizeHeader maps a CSV header to its canonical form:
// "Correo Electrónico" and "correo_electronico" both become "correo_electronico".
func NormalizeHeader(header string) string {
	h := strings.ToLower(strings.TrimSpace(StripBOM(header)))
	h = foldAccents(h)

	var b strings.Builder
	b.Grow(len(h))

	pendingSep := false
	for _, r := range h {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}

	return b.String()
}

// foldAccents decomposes the string and drops combining marks, so "ñ" -> "n"
// and "ü" -> "u". Characters without a decomposition are left alone.
func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// ColumnIndex maps normalized header names to column positions. It is built
// once per file and only read afterwards.
type ColumnIndex struct {
	positions map[string]int
	width     int
}

// NewColumnIndex indexes a header row. When two headers normalize to the
// same name the first one wins.
func NewColumnIndex(header []string) ColumnIndex {
	idx := ColumnIndex{
		positions: make(map[string]int, len(header)),
		width:     len(header),
	}

	for i, h := range header {
		key := NormalizeHeader(h)
		if key == "" {
			continue
		}
		if _, seen := idx.positions[key]; seen {
			continue
		}
		idx.positions[key] = i
	}

	return idx
}

// Width is the number of columns in the header row.
func (c ColumnIndex) Width() int {
	return c.width
}

// Resolve returns the position of the first alias present in the index.
func (c ColumnIndex) Resolve(aliases ...string) (int, bool) {
	for _, alias := range aliases {
		if pos, ok := c.positions[NormalizeHeader(alias)]; ok {
			return pos, true
		}
	}
	return -1, false
}

// Name returns the normalized header at pos, or "" when pos is not indexed.
func (c ColumnIndex) Name(pos int) string {
	for name, p := range c.positions {
		if p == pos {
			return name
		}
	}
	return ""
}

// padRow extends short rows with empty strings up to width.
func padRow(row []string, width int) []string {
	if len(row) >= width {
		return row
	}
	padded := make([]string, width)
	copy(padded, row)
	return padded
}

// cell reads a trimmed, BOM-free value; -1 or out-of-range positions yield "".
func cell(row []string, pos int) string {
	if pos < 0 || pos >= len(row) {
		return ""
	}
	return strings.TrimSpace(StripBOM(row[pos]))
}
