package sources

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/scrape"
	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/sources/static"
)

func TestRegistryResolveAndValidate(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(
		static.New("yellowpages", nil),
		static.New("yelp", nil),
	)

	adapter, err := registry.Resolve("yellowpages")
	require.NoError(t, err)
	require.Equal(t, "yellowpages", adapter.Name())

	_, err = registry.Resolve("unknown")
	require.ErrorIs(t, err, scrape.ErrInvalidConfiguration)

	require.NoError(t, registry.Validate([]string{"yellowpages", "yelp"}))
	require.ErrorIs(t, registry.Validate([]string{"yellowpages", "unknown"}), scrape.ErrInvalidConfiguration)
	require.ErrorIs(t, registry.Validate(nil), scrape.ErrInvalidConfiguration)

	require.Equal(t, []string{"yelp", "yellowpages"}, registry.Names())
}

func TestRegistryRegisterReplaces(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	registry.Register(static.New("yelp", nil))
	registry.Register(static.New("yelp", []scrape.RawRecord{{Name: "Acme", Location: "Springfield"}}))

	require.Len(t, registry.Names(), 1)
	require.NoError(t, registry.Validate([]string{"yelp"}))
}
