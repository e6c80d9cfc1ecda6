package ecox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/TemporalDynamics/verifysign-sub002/core/jcs"
)

// CanonicalizeManifest returns the canonical string that manifest signatures
// cover. Before JCS canonicalization it orders assets by id, segments by
// (projectStartTime, id) and operationLog entries by timestamp, so two
// manifests with the same content built in different order sign the same
// bytes. The caller's value is never modified.
func CanonicalizeManifest(value any) (string, error) {
	tree, err := toTree(value)
	if err != nil {
		return "", err
	}
	if manifest, ok := tree.(map[string]any); ok {
		sortManifestArrays(manifest)
	}
	return jcs.Canonicalize(tree)
}

// toTree round-trips value through JSON into maps, slices and json.Number,
// giving an independent copy that keeps unknown fields and exact numbers.
func toTree(value any) (any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return decodeTree(raw)
}

func decodeTree(raw []byte) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var tree any
	if err := decoder.Decode(&tree); err != nil {
		return nil, err
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected data after top-level value")
	}
	return tree, nil
}

func sortManifestArrays(manifest map[string]any) {
	if assets, ok := manifest["assets"].([]any); ok {
		sort.SliceStable(assets, func(i, j int) bool {
			return stringField(assets[i], "id") < stringField(assets[j], "id")
		})
	}
	if segments, ok := manifest["segments"].([]any); ok {
		sort.SliceStable(segments, func(i, j int) bool {
			left, _ := numberField(segments[i], "projectStartTime")
			right, _ := numberField(segments[j], "projectStartTime")
			if left != right {
				return left < right
			}
			return stringField(segments[i], "id") < stringField(segments[j], "id")
		})
	}
	if entries, ok := manifest["operationLog"].([]any); ok {
		sort.SliceStable(entries, func(i, j int) bool {
			return entryTime(entries[i]).Before(entryTime(entries[j]))
		})
	}
}

// entryTime sorts entries with an unparseable timestamp first; the verifier
// rejects such manifests anyway.
func entryTime(entry any) time.Time {
	parsed, ok := parseTimestamp(stringField(entry, "timestamp"))
	if !ok {
		return time.Time{}
	}
	return parsed
}

func stringField(value any, key string) string {
	object, ok := value.(map[string]any)
	if !ok {
		return ""
	}
	text, _ := object[key].(string)
	return text
}

// numberField reads a JSON number; missing or non-numeric fields report
// false and read as zero.
func numberField(value any, key string) (float64, bool) {
	object, ok := value.(map[string]any)
	if !ok {
		return 0, false
	}
	return toFloat(object[key])
}

func toFloat(value any) (float64, bool) {
	switch typed := value.(type) {
	case json.Number:
		parsed, err := typed.Float64()
		if err != nil {
			return 0, false
		}
		return parsed, true
	case float64:
		return typed, true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	default:
		return 0, false
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
}

// parseTimestamp accepts ISO-8601 forms with or without zone (zone-less
// values are UTC) plus the RFC 1123 forms HTTP producers emit.
func parseTimestamp(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// formatTimestamp renders t in UTC with millisecond precision.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
