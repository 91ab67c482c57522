package scrape

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/hash/sha256"
)

// TestFingerprintNormalization asserts that case, whitespace runs, and
// punctuation never change the dedup key.
func TestFingerprintNormalization(t *testing.T) {
	t.Parallel()

	hasher := sha256.New()

	base, err := Fingerprint(hasher, RawRecord{Name: "Acme Plumbing", Location: "Springfield IL"})
	require.NoError(t, err)

	variants := []RawRecord{
		{Name: "ACME  Plumbing", Location: "springfield il"},
		{Name: "acme plumbing!", Location: "Springfield, IL"},
		{Name: "  Acme\tPlumbing ", Location: "Springfield   IL"},
	}
	for _, rec := range variants {
		got, err := Fingerprint(hasher, rec)
		require.NoError(t, err)
		require.Equal(t, base, got, "record %+v should collide with base", rec)
	}

	other, err := Fingerprint(hasher, RawRecord{Name: "Acme Plumbing", Location: "Shelbyville IL"})
	require.NoError(t, err)
	require.NotEqual(t, base, other)
}

func TestFingerprintPrefersListingURL(t *testing.T) {
	t.Parallel()

	hasher := sha256.New()

	a, err := Fingerprint(hasher, RawRecord{
		Name:       "Acme Plumbing",
		Location:   "Springfield IL",
		ListingURL: "https://directory.example/biz/acme",
	})
	require.NoError(t, err)

	b, err := Fingerprint(hasher, RawRecord{
		Name:       "Totally Different Name",
		Location:   "Elsewhere",
		ListingURL: "HTTPS://directory.example/biz/ACME",
	})
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestFingerprintRejectsEmptyIdentity(t *testing.T) {
	t.Parallel()

	hasher := sha256.New()
	_, err := Fingerprint(hasher, RawRecord{Fields: map[string]string{"phone": "555"}})
	require.ErrorIs(t, err, ErrInvalidConfiguration)
}
