package model

import "time"

// CorrectionEvent is one human edit of an extracted invoice field: the value
// moved from OriginalValue to CorrectedValue on one document. Immutable once
// captured except for the Analyzed flag, which the analysis run sets after
// consuming the event.
type CorrectionEvent struct {
	ID             string    `json:"id"`
	IssuerID       string    `json:"issuer_id"`
	FieldName      string    `json:"field_name"`
	OriginalValue  *string   `json:"original_value,omitempty"`
	CorrectedValue string    `json:"corrected_value"`
	DocumentID     string    `json:"document_id"`
	OccurredAt     time.Time `json:"occurred_at"`
	Analyzed       bool      `json:"analyzed"`
	PatternID      *string   `json:"pattern_id,omitempty"`
}

// Original returns the original value with a nil treated as empty string.
func (e CorrectionEvent) Original() string {
	if e.OriginalValue == nil {
		return ""
	}
	return *e.OriginalValue
}

// SampleEvidence is one retained example backing a pattern.
type SampleEvidence struct {
	OriginalValue  string    `json:"original_value"`
	CorrectedValue string    `json:"corrected_value"`
	DocumentID     string    `json:"document_id"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// CorrectionPattern is the durable record of one recurring correction shape
// for a given issuer and field. PatternHash is a pure function of
// (IssuerID, FieldName, RepresentativeOriginal, RepresentativeCorrected);
// two patterns with the same hash are always merged, never duplicated.
type CorrectionPattern struct {
	ID                      string           `json:"id"`
	IssuerID                string           `json:"issuer_id"`
	FieldName               string           `json:"field_name"`
	PatternHash             string           `json:"pattern_hash"`
	RepresentativeOriginal  string           `json:"representative_original"`
	RepresentativeCorrected string           `json:"representative_corrected"`
	OccurrenceCount         int64            `json:"occurrence_count"`
	Confidence              float64          `json:"confidence"`
	SampleEvidence          []SampleEvidence `json:"sample_evidence"`
	Status                  PatternStatus    `json:"status"`
	FirstSeenAt             time.Time        `json:"first_seen_at"`
	LastSeenAt              time.Time        `json:"last_seen_at"`
}
