// Package pattern builds and merges durable correction patterns from
// similarity clusters: representative selection, stable content hashing,
// evidence merging, and the confidence model.
package pattern

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

var foldCaser = cases.Fold()

// normalize folds case, trims, and collapses internal whitespace so that
// semantically identical representative values always hash the same.
func normalize(s string) string {
	return strings.Join(strings.Fields(foldCaser.String(s)), " ")
}

// Hash returns the SHA-256 hex of the normalized pattern identity. It is a
// pure function of (issuer, field, representative original, representative
// corrected): repeated runs over the same semantic pattern always collide,
// which is what makes dedup-by-hash safe.
func Hash(issuerID, fieldName, representativeOriginal, representativeCorrected string) string {
	key := fmt.Sprintf("%s|%s|%s|%s",
		normalize(issuerID),
		normalize(fieldName),
		normalize(representativeOriginal),
		normalize(representativeCorrected),
	)
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", h)
}
