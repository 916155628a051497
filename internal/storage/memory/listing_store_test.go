package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/huurwatch/rental-crawler/internal/listing"
)

func TestUpsertReportsCreatedOnce(t *testing.T) {
	t.Parallel()

	store := NewListingStore()
	l := &listing.Listing{Source: "vb&t", URL: "https://example.nl/woning/1"}
	l.Finalize()

	created, err := store.Upsert(context.Background(), l)
	require.NoError(t, err)
	require.True(t, created)

	created, err = store.Upsert(context.Background(), l)
	require.NoError(t, err)
	require.False(t, created)

	require.Equal(t, 1, store.Len())
	got, ok := store.Get(l.ContentHash)
	require.True(t, ok)
	require.Equal(t, l.URL, got.URL)
}
