// Package similarity scores how alike two correction values are, using the
// most type-specific comparator that applies: numeric, then date, then plain
// string edit distance. All scores are normalized to [0,1].
package similarity

import (
	"math"
	"strings"

	"github.com/agext/levenshtein"

	"github.com/veridocs/correction-cli/internal/parse"
)

// Kind tags which comparator produced a judgment.
type Kind string

const (
	KindNumeric     Kind = "numeric"
	KindDate        Kind = "date"
	KindString      Kind = "string"
	KindUnparseable Kind = "unparseable"
)

// Judgment is the result of one pairwise value comparison. It is ephemeral:
// produced per comparison and consumed immediately by the grouping engine.
type Judgment struct {
	Score float64
	Kind  Kind

	// FormatChange is set when two dates name the same calendar day through
	// different source formats — a format-conversion correction.
	FormatChange bool
}

// Numeric compares two values as numbers. Applicability requires both to
// parse; the score is a relative-difference measure invariant to scale, with
// a near-zero special case so "0.00" vs "0.02" rounding fixes still register.
func Numeric(a, b string) (Judgment, bool) {
	va, okA := parse.Numeric(a)
	vb, okB := parse.Numeric(b)
	if !okA || !okB {
		return Judgment{Kind: KindUnparseable}, false
	}

	j := Judgment{Kind: KindNumeric}
	switch {
	case va == vb:
		j.Score = 1
	case va == 0 || vb == 0:
		mag := math.Abs(va + vb) // one of them is zero
		if mag < 1 {
			j.Score = 1 - mag
		}
	default:
		diff := math.Abs(va-vb) / math.Max(math.Abs(va), math.Abs(vb))
		j.Score = math.Max(0, 1-diff)
	}
	return j, true
}

// Date compares two values as calendar dates. The same day scores 1.0
// regardless of source format; otherwise the score decays linearly over a
// 365-day window and is 0 beyond one year.
func Date(a, b string) (Judgment, bool) {
	ta, fa, okA := parse.Date(a)
	tb, fb, okB := parse.Date(b)
	if !okA || !okB {
		return Judgment{Kind: KindUnparseable}, false
	}

	j := Judgment{Kind: KindDate}
	dayA := ta.Format("2006-01-02")
	dayB := tb.Format("2006-01-02")
	if dayA == dayB {
		j.Score = 1
		j.FormatChange = fa != fb
		return j, true
	}

	days := math.Abs(ta.Sub(tb).Hours()) / 24
	j.Score = math.Max(0, 1-days/365)
	return j, true
}

// String compares two values by normalized Levenshtein distance over the
// lower-cased, trimmed inputs. A non-zero minScore lets the library skip the
// full distance matrix when the length-difference upper bound already falls
// below it — scores under minScore come back as 0.
func String(a, b string, minScore float64) Judgment {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))

	if a == b {
		return Judgment{Score: 1, Kind: KindString}
	}

	params := levenshtein.NewParams()
	if minScore > 0 {
		params = params.MinScore(minScore)
	}
	return Judgment{
		Score: levenshtein.Similarity(a, b, params),
		Kind:  KindString,
	}
}
