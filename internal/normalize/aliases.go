package normalize

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"form-webhook-sync/pkg/metrics"

	"go.uber.org/zap"
)

// Field is a semantic field looked up through the alias table.
type Field string

const (
	FieldFormID        Field = "form_id"
	FieldEntryID       Field = "entry_id"
	FieldFileReference Field = "file_reference"
)

// Alias lists the payload keys tried, in order, for one semantic field.
type Alias struct {
	Field      Field
	Candidates []string
	// Accept filters candidate values; nil accepts any non-empty value.
	Accept func(value string) bool
}

// DefaultAliases is the ordered alias table. The form tool mixes hyphen and
// underscore naming, and integrations put file links in several places.
func DefaultAliases() []Alias {
	return []Alias{
		{
			Field:      FieldFormID,
			Candidates: []string{"form_id", "form-id", "formId", "formid"},
		},
		{
			Field:      FieldEntryID,
			Candidates: []string{"entry_id", "entry-id", "entryId", "entryid"},
		},
		{
			Field: FieldFileReference,
			Candidates: []string{
				"file_url", "file-url", "url", "uploaded_files", "uploaded-files",
				"upload", "upload-1", "upload_1", "file", "files", "attachment", "attachments",
			},
		},
	}
}

// Resolution is the outcome of looking up one semantic field.
type Resolution struct {
	Field  Field
	Value  string
	Source string
	// Fallback is set when the value came from the heuristic scan rather
	// than the alias table.
	Fallback bool
	// Candidates lists every field the fallback scan found plausible.
	Candidates []string
}

func (r Resolution) Found() bool {
	return r.Source != ""
}

func (r Resolution) Ambiguous() bool {
	return len(r.Candidates) > 1
}

// Identity holds the semantic fields of a payload.
type Identity struct {
	FormID        Resolution
	EntryID       Resolution
	FileReference Resolution
}

// Resolve evaluates the alias table against fields. Table order decides
// between table matches; only the file reference falls back to scanning all
// string fields.
func (n *Normalizer) Resolve(fields map[string]any) Identity {
	var id Identity
	for _, alias := range n.aliases {
		res := n.resolveAlias(alias, fields)
		switch alias.Field {
		case FieldFormID:
			id.FormID = res
		case FieldEntryID:
			id.EntryID = res
		case FieldFileReference:
			if !res.Found() {
				res = n.scanForReference(fields, alias.Candidates)
			}
			id.FileReference = res
		}
	}
	return id
}

func (n *Normalizer) resolveAlias(alias Alias, fields map[string]any) Resolution {
	accept := alias.Accept
	if alias.Field == FieldFileReference && accept == nil {
		accept = n.looksLikeReference
	}
	for _, name := range alias.Candidates {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		value, ok := scalarString(raw)
		if !ok || value == "" {
			continue
		}
		if accept != nil && !accept(value) {
			continue
		}
		return Resolution{Field: alias.Field, Value: value, Source: name}
	}
	return Resolution{Field: alias.Field}
}

// scanForReference is the last resort for file links buried in arbitrarily
// named fields. Keys are visited in sorted order so the pick is stable.
func (n *Normalizer) scanForReference(fields map[string]any, skip []string) Resolution {
	skipped := make(map[string]struct{}, len(skip))
	for _, name := range skip {
		skipped[name] = struct{}{}
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		if _, ok := skipped[key]; !ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	res := Resolution{Field: FieldFileReference, Fallback: true}
	for _, key := range keys {
		value, ok := fields[key].(string)
		if !ok || !n.looksLikeReference(value) {
			continue
		}
		if res.Source == "" {
			res.Source = key
			res.Value = strings.TrimSpace(value)
		}
		res.Candidates = append(res.Candidates, key)
	}

	if res.Ambiguous() {
		metrics.AliasAmbiguity.WithLabelValues(string(FieldFileReference)).Inc()
		n.logger.Warn("Several fields look like file references, using the first in key order",
			zap.String("chosen", res.Source),
			zap.Strings("candidates", res.Candidates))
	}
	return res
}

// looksLikeReference is a literal prefix/substring check for hosted file
// links or storage paths.
func (n *Normalizer) looksLikeReference(value string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return false
	}
	if strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://") ||
		strings.HasPrefix(v, "http%3a") || strings.HasPrefix(v, "https%3a") {
		return true
	}
	return strings.Contains(v, "/"+strings.ToLower(n.uploadMarker))
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case json.Number:
		return t.String(), true
	case float64, int, int64, bool:
		return fmt.Sprint(t), true
	case []string:
		if len(t) > 0 {
			return strings.TrimSpace(t[0]), true
		}
	}
	return "", false
}
