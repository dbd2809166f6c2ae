// Package event defines the canonical event envelope for the Creative
// Memory Graph and the normalizer that converts raw per-surface payloads
// into it. Every creative surface (journal, coach, timeline, designer,
// pack, moodboard, usage telemetry) funnels through this one shape before
// extraction sees it.
package event

import (
	"fmt"
	"strings"
	"time"
)

// SourceType identifies which creative surface produced an event.
type SourceType string

const (
	SourceJournal   SourceType = "journal"
	SourceCoach     SourceType = "coach"
	SourceTimeline  SourceType = "timeline"
	SourceDesigner  SourceType = "designer"
	SourcePack      SourceType = "pack"
	SourceMoodboard SourceType = "moodboard"
	SourceUsage     SourceType = "usage"
)

// AllSourceTypes lists every valid source type.
var AllSourceTypes = []SourceType{
	SourceJournal,
	SourceCoach,
	SourceTimeline,
	SourceDesigner,
	SourcePack,
	SourceMoodboard,
	SourceUsage,
}

// Valid reports whether s is a known source type.
func (s SourceType) Valid() bool {
	switch s {
	case SourceJournal, SourceCoach, SourceTimeline, SourceDesigner,
		SourcePack, SourceMoodboard, SourceUsage:
		return true
	}
	return false
}

// Event is the canonical envelope produced by the normalizer.
// Text may be empty; StructuredFields carries whatever per-surface
// metadata survived normalization (tags, captions, feature names).
type Event struct {
	UserID           string                 `json:"user_id"`
	SourceType       SourceType             `json:"source_type"`
	Timestamp        time.Time              `json:"timestamp"`
	Text             string                 `json:"text"`
	StructuredFields map[string]interface{} `json:"structured_fields,omitempty"`
}

// MalformedError is returned when a raw payload is missing the fields
// the pipeline cannot proceed without. All other validation is
// best-effort and never rejects an event.
type MalformedError struct {
	Field  string
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed event: %s %s", e.Field, e.Reason)
}

// IsMalformed reports whether err is a MalformedError.
func IsMalformed(err error) bool {
	_, ok := err.(*MalformedError)
	return ok
}

// RawEvent is the inbound envelope as received from a creative-surface
// collaborator, before normalization.
type RawEvent struct {
	UserID           string                 `json:"user_id" validate:"required"`
	SourceType       string                 `json:"source_type" validate:"required"`
	Timestamp        string                 `json:"timestamp" validate:"required"`
	Text             string                 `json:"text"`
	StructuredFields map[string]interface{} `json:"structured_fields"`
}

// Normalize converts a raw payload into the canonical Event.
// It fails only on a missing user, missing/unparseable timestamp, or an
// unknown source type. Missing text normalizes to the empty string.
func Normalize(raw RawEvent) (*Event, error) {
	if strings.TrimSpace(raw.UserID) == "" {
		return nil, &MalformedError{Field: "user_id", Reason: "is required"}
	}
	if strings.TrimSpace(raw.Timestamp) == "" {
		return nil, &MalformedError{Field: "timestamp", Reason: "is required"}
	}

	ts, err := time.Parse(time.RFC3339, raw.Timestamp)
	if err != nil {
		return nil, &MalformedError{Field: "timestamp", Reason: "is not RFC 3339"}
	}

	st := SourceType(strings.ToLower(strings.TrimSpace(raw.SourceType)))
	if !st.Valid() {
		return nil, &MalformedError{Field: "source_type", Reason: fmt.Sprintf("%q is not a known surface", raw.SourceType)}
	}

	return &Event{
		UserID:           strings.TrimSpace(raw.UserID),
		SourceType:       st,
		Timestamp:        ts.UTC(),
		Text:             raw.Text,
		StructuredFields: raw.StructuredFields,
	}, nil
}
