package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Document is the storage and wire form of every synchronized entity.
type Document map[string]any

// Keys holding append-only sequences. Patches append to them instead of
// replacing them, de-duplicating by entry id.
var appendOnlyKeys = map[string]bool{
	"history":     true,
	"chatHistory": true,
}

// ToDocument converts any JSON-serializable value into a Document.
func ToDocument(v any) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return doc, nil
}

// ID returns the document's id field.
func (d Document) ID() string {
	id, _ := d["id"].(string)
	return id
}

// String returns a string field or "".
func (d Document) String(key string) string {
	s, _ := d[key].(string)
	return s
}

// Clone deep-copies the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return cloneValue(d).(Document)
}

// ApplyPatch returns a copy of base with patch applied. Scalar keys
// overwrite, nil values clear, append-only keys append unseen entries.
// Applying the same patch twice yields the same document.
func ApplyPatch(base, patch Document) Document {
	out := base.Clone()
	if out == nil {
		out = Document{}
	}
	for key, value := range patch {
		if appendOnlyKeys[key] {
			out[key] = appendEntries(out[key], value)
			continue
		}
		out[key] = cloneValue(value)
	}
	return out
}

// MergePatches folds a later patch into an earlier one, as if both had been
// applied in order.
func MergePatches(earlier, later Document) Document {
	out := earlier.Clone()
	if out == nil {
		out = Document{}
	}
	for key, value := range later {
		if appendOnlyKeys[key] {
			out[key] = appendEntries(out[key], value)
			continue
		}
		out[key] = cloneValue(value)
	}
	return out
}

// ReplaceString rewrites every string value equal to from, at any depth, and
// reports whether anything changed.
func (d Document) ReplaceString(from, to string) bool {
	changed := false
	for key, value := range d {
		next, ok := replaceIn(value, from, to)
		if ok {
			d[key] = next
			changed = true
		}
	}
	return changed
}

// StringsWithPrefix returns every string value, at any depth, that starts
// with prefix.
func (d Document) StringsWithPrefix(prefix string) []string {
	var found []string
	walkStrings(d, func(s string) {
		if strings.HasPrefix(s, prefix) {
			found = append(found, s)
		}
	})
	return found
}

func appendEntries(existing, incoming any) any {
	current := toList(existing)
	seen := make(map[string]bool, len(current))
	for _, entry := range current {
		if id := entryID(entry); id != "" {
			seen[id] = true
		}
	}
	out := make([]any, 0, len(current))
	for _, entry := range current {
		out = append(out, cloneValue(entry))
	}
	for _, entry := range toList(incoming) {
		id := entryID(entry)
		if id != "" && seen[id] {
			continue
		}
		if id != "" {
			seen[id] = true
		}
		out = append(out, cloneValue(entry))
	}
	return out
}

func toList(v any) []any {
	switch list := v.(type) {
	case nil:
		return nil
	case []any:
		return list
	case []Document:
		out := make([]any, len(list))
		for i := range list {
			out[i] = list[i]
		}
		return out
	case []map[string]any:
		out := make([]any, len(list))
		for i := range list {
			out[i] = list[i]
		}
		return out
	}
	return []any{v}
}

func entryID(entry any) string {
	switch e := entry.(type) {
	case map[string]any:
		id, _ := e["id"].(string)
		return id
	case Document:
		return e.ID()
	}
	return ""
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case Document:
		out := make(Document, len(val))
		for k, inner := range val {
			out[k] = cloneValue(inner)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = cloneValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = cloneValue(inner)
		}
		return out
	case []Document, []map[string]any:
		return cloneValue(toList(val))
	}
	return v
}

func replaceIn(v any, from, to string) (any, bool) {
	switch val := v.(type) {
	case string:
		if val == from {
			return to, true
		}
	case Document:
		return val, val.ReplaceString(from, to)
	case map[string]any:
		return val, Document(val).ReplaceString(from, to)
	case []any:
		changed := false
		for i, inner := range val {
			if next, ok := replaceIn(inner, from, to); ok {
				val[i] = next
				changed = true
			}
		}
		return val, changed
	}
	return v, false
}

func walkStrings(v any, fn func(string)) {
	switch val := v.(type) {
	case string:
		fn(val)
	case Document:
		for _, inner := range val {
			walkStrings(inner, fn)
		}
	case map[string]any:
		for _, inner := range val {
			walkStrings(inner, fn)
		}
	case []any:
		for _, inner := range val {
			walkStrings(inner, fn)
		}
	}
}
