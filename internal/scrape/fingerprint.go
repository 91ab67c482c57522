package scrape

import (
	"fmt"
	"strings"
	"unicode"
)

// Fingerprint derives the stable deduplication key for a raw record. The
// listing URL wins when present; otherwise name and location are normalized
// and joined. Two differently-cased or whitespace-varied scrapes of the same
// listing must collide.
func Fingerprint(hasher Hasher, rec RawRecord) (string, error) {
	var identity string
	if rec.ListingURL != "" {
		identity = normalizeIdentity(rec.ListingURL)
	} else {
		identity = normalizeIdentity(rec.Name) + "|" + normalizeIdentity(rec.Location)
	}
	if identity == "" || identity == "|" {
		return "", fmt.Errorf("%w: record has no identifying fields", ErrInvalidConfiguration)
	}
	digest, err := hasher.Hash([]byte(identity))
	if err != nil {
		return "", fmt.Errorf("hash identity: %w", err)
	}
	return digest, nil
}

// normalizeIdentity case-folds, collapses whitespace runs to single spaces,
// and strips punctuation.
func normalizeIdentity(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			// dropped
		default:
			if pendingSpace {
				b.WriteByte(' ')
				pendingSpace = false
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}
