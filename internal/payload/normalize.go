// Package payload collapses the payload shapes producers schedule into one
// ordered list of items.
//
// Accepted shapes:
//
//	{"batch": [item, ...]}
//	item
//	[item, ...]  or  {"0": item, "1": item, ...}
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Shape names the rule that matched a payload.
type Shape string

const (
	ShapeBatch   Shape = "batch"
	ShapeSingle  Shape = "single"
	ShapeList    Shape = "list"
	ShapeUnknown Shape = "unknown"
)

// Decode parses a JSON payload keeping numbers as json.Number.
func Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return v, nil
}

// Normalize returns the items carried by payload. isItem decides whether a
// bare mapping is a single item for the target applier. An unrecognized
// payload yields an empty list.
func Normalize(payload any, isItem func(map[string]any) bool) []any {
	items, _ := Classify(payload, isItem)
	return items
}

// Classify is Normalize that also reports which rule matched.
func Classify(payload any, isItem func(map[string]any) bool) ([]any, Shape) {
	switch v := payload.(type) {
	case []any:
		return v, ShapeList
	case map[string]any:
		if batch, ok := v["batch"].([]any); ok {
			return batch, ShapeBatch
		}
		if isItem != nil && isItem(v) {
			return []any{v}, ShapeSingle
		}
		if list, ok := indexedList(v); ok {
			return list, ShapeList
		}
	}
	return []any{}, ShapeUnknown
}

// indexedList accepts a mapping whose keys are exactly "0".."n-1".
func indexedList(m map[string]any) ([]any, bool) {
	if len(m) == 0 {
		return nil, false
	}

	list := make([]any, len(m))
	for k, v := range m {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 || i >= len(m) || strconv.Itoa(i) != k {
			return nil, false
		}
		list[i] = v
	}
	return list, true
}
