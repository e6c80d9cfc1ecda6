package ecox

import (
	"fmt"
	"time"

	"github.com/TemporalDynamics/verifysign-sub002/core/jcs"
	schemaeco "github.com/TemporalDynamics/verifysign-sub002/core/schema/v1/eco"
)

// Field lookups for public summaries, in priority order. Producers have
// renamed these fields over time; the lists are a migration shim and new
// producers should only write the first name.
var (
	summaryVersionFields  = []string{"specVersion", "version"}
	summaryProjectFields  = []string{"id", "projectId"}
	summaryTitleFields    = []string{"name", "title"}
	summarySegmentFields  = []string{"timeline", "segments", "segmentsSummary"}
	summaryStartFields    = []string{"projectStartTime", "start"}
	defaultSummaryVersion = schemaeco.SpecVersion
)

// ExtractPublicSummary derives the canonical public summary of a full
// manifest or project. It never re-signs: sourceSignature is carried
// verbatim so the summary stays anchored to the original signature.
func ExtractPublicSummary(full any, sourceSignature string, now time.Time) (string, error) {
	summary, err := BuildPublicSummary(full, sourceSignature, now)
	if err != nil {
		return "", err
	}
	return jcs.Canonicalize(summary)
}

func BuildPublicSummary(full any, sourceSignature string, now time.Time) (schemaeco.PublicSummary, error) {
	tree, err := toTree(full)
	if err != nil {
		return schemaeco.PublicSummary{}, fmt.Errorf("read project: %w", err)
	}
	object, _ := tree.(map[string]any)

	segments := firstSlice(object, summarySegmentFields)
	summaries := make([]schemaeco.SegmentSummary, 0, len(segments))
	for _, segment := range segments {
		summaries = append(summaries, summarizeSegment(segment))
	}
	return schemaeco.PublicSummary{
		SchemaVersion:   firstString(object, summaryVersionFields, defaultSummaryVersion),
		ProjectID:       firstString(object, summaryProjectFields, ""),
		Title:           firstString(object, summaryTitleFields, ""),
		Duration:        totalDuration(segments),
		Segments:        summaries,
		SourceSignature: sourceSignature,
		Timestamp:       formatTimestamp(now),
	}, nil
}

// totalDuration is where the last segment ends on the project timeline.
func totalDuration(segments []any) float64 {
	if len(segments) == 0 {
		return 0
	}
	last := segments[len(segments)-1]
	projectStart, _ := numberField(last, "projectStartTime")
	start, _ := numberField(last, "startTime")
	end, ok := numberField(last, "endTime")
	if !ok {
		end = start
	}
	return projectStart + (end-start)/speedOf(last)
}

func summarizeSegment(segment any) schemaeco.SegmentSummary {
	summary := schemaeco.SegmentSummary{
		ID:      stringField(segment, "id"),
		AssetID: stringField(segment, "assetId"),
	}
	for _, field := range summaryStartFields {
		if value, ok := numberField(segment, field); ok {
			summary.ProjectStartTime = value
			break
		}
	}
	start, hasStart := numberField(segment, "startTime")
	end, hasEnd := numberField(segment, "endTime")
	if hasStart && hasEnd {
		summary.Duration = (end - start) / speedOf(segment)
	} else if duration, ok := numberField(segment, "duration"); ok {
		summary.Duration = duration
	}
	return summary
}

// speedOf treats a missing, zero or non-numeric speed as 1.
func speedOf(segment any) float64 {
	speed, ok := numberField(segment, "speed")
	if !ok || speed == 0 {
		return 1
	}
	return speed
}

func firstString(object map[string]any, fields []string, fallback string) string {
	for _, field := range fields {
		if value, ok := object[field].(string); ok {
			return value
		}
	}
	return fallback
}

func firstSlice(object map[string]any, fields []string) []any {
	for _, field := range fields {
		if value, ok := object[field].([]any); ok {
			return value
		}
	}
	return nil
}
