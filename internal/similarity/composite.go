package similarity

import "github.com/veridocs/correction-cli/internal/model"

// Composite scores how alike two correction events are by comparing their
// original values and their corrected values with the most specific
// comparator both pairs support, then averaging the two scores. Averaging
// rather than taking the minimum gives partial credit on one side when the
// other side is a near-perfect match.
func Composite(a, b model.CorrectionEvent, threshold float64) float64 {
	origA, origB := a.Original(), b.Original()
	corrA, corrB := a.CorrectedValue, b.CorrectedValue

	if jo, ok := Numeric(origA, origB); ok {
		if jc, ok := Numeric(corrA, corrB); ok {
			return (jo.Score + jc.Score) / 2
		}
	}

	if jo, ok := Date(origA, origB); ok {
		if jc, ok := Date(corrA, corrB); ok {
			return (jo.Score + jc.Score) / 2
		}
	}

	// String fallback. Each side gets a relaxed half-threshold pre-check so
	// obviously dissimilar values are rejected without the full edit-distance
	// matrix.
	half := threshold / 2
	jo := String(origA, origB, half)
	jc := String(corrA, corrB, half)
	return (jo.Score + jc.Score) / 2
}

// Similar reports whether two events clear the configured composite
// similarity threshold.
func Similar(a, b model.CorrectionEvent, threshold float64) bool {
	return Composite(a, b, threshold) >= threshold
}
