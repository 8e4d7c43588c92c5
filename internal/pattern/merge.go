package pattern

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/veridocs/correction-cli/internal/cluster"
	"github.com/veridocs/correction-cli/internal/model"
)

// Representative picks the cluster's most frequent exact (original,
// corrected) string pair, breaking ties by first occurrence in cluster
// order. The stored pattern then reads as a real example rather than a
// synthetic centroid.
func Representative(members []model.CorrectionEvent) (original, corrected string) {
	type pair struct{ orig, corr string }
	counts := make(map[pair]int, len(members))
	var order []pair

	for _, m := range members {
		p := pair{m.Original(), m.CorrectedValue}
		if counts[p] == 0 {
			order = append(order, p)
		}
		counts[p]++
	}

	best := order[0]
	for _, p := range order[1:] {
		if counts[p] > counts[best] {
			best = p
		}
	}
	return best.orig, best.corr
}

// Confidence maps an occurrence count onto [0,1], saturating at the
// configured count so accumulated evidence has diminishing marginal value.
func Confidence(occurrenceCount int64, saturation int64) float64 {
	if saturation <= 0 {
		return 1
	}
	return math.Min(1, float64(occurrenceCount)/float64(saturation))
}

// MergeSamples combines existing evidence with a cluster's new evidence,
// deduplicating by document id. Existing samples are kept in full and new
// ones appended until the cap: the earliest detections stay auditable, so
// nothing is ever evicted to make room.
func MergeSamples(existing, incoming []model.SampleEvidence, limit int) []model.SampleEvidence {
	merged := make([]model.SampleEvidence, 0, limit)
	seen := make(map[string]bool, limit)

	for _, s := range existing {
		if len(merged) >= limit {
			break
		}
		merged = append(merged, s)
		seen[s.DocumentID] = true
	}
	for _, s := range incoming {
		if len(merged) >= limit {
			break
		}
		if seen[s.DocumentID] {
			continue
		}
		merged = append(merged, s)
		seen[s.DocumentID] = true
	}
	return merged
}

// evidence converts cluster members into sample evidence rows.
func evidence(members []model.CorrectionEvent) []model.SampleEvidence {
	samples := make([]model.SampleEvidence, 0, len(members))
	for _, m := range members {
		samples = append(samples, model.SampleEvidence{
			OriginalValue:  m.Original(),
			CorrectedValue: m.CorrectedValue,
			DocumentID:     m.DocumentID,
			OccurredAt:     m.OccurredAt,
		})
	}
	return samples
}

// New creates a pattern from a first-sighted cluster, status Detected.
func New(g cluster.Group, now time.Time, saturation int64, sampleCap int) model.CorrectionPattern {
	orig, corr := Representative(g.Members)
	count := int64(len(g.Members))

	return model.CorrectionPattern{
		ID:                      uuid.New().String(),
		IssuerID:                g.IssuerID,
		FieldName:               g.FieldName,
		PatternHash:             Hash(g.IssuerID, g.FieldName, orig, corr),
		RepresentativeOriginal:  orig,
		RepresentativeCorrected: corr,
		OccurrenceCount:         count,
		Confidence:              Confidence(count, saturation),
		SampleEvidence:          MergeSamples(nil, evidence(g.Members), sampleCap),
		Status:                  model.StatusDetected,
		FirstSeenAt:             now,
		LastSeenAt:              now,
	}
}

// MergeInto folds a cluster into an existing pattern with the same hash:
// the occurrence count grows by the cluster size, confidence is monotonic
// (never regresses), samples merge under the cap, and LastSeenAt advances.
// Status is left untouched — operator decisions are never overwritten, and
// Suggested/Processed/Ignored patterns keep accumulating evidence silently.
func MergeInto(existing *model.CorrectionPattern, g cluster.Group, now time.Time, saturation int64, sampleCap int) {
	existing.OccurrenceCount += int64(len(g.Members))
	existing.Confidence = math.Max(existing.Confidence, Confidence(existing.OccurrenceCount, saturation))
	existing.SampleEvidence = MergeSamples(existing.SampleEvidence, evidence(g.Members), sampleCap)
	existing.LastSeenAt = now
}
