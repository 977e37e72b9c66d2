package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eldlit/auto-ria-downloader/internal/listing"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSaveAndLoad(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	ctx := context.Background()

	record := listing.Result{
		URL: "https://x.test/car/1",
		Fields: map[string]string{
			"title": "Audi A6 2019",
			"price": "31 500 $",
		},
		Phones: []listing.Phone{{Text: "(067) 123 45 67"}},
	}
	require.NoError(t, store.Save(ctx, record.URL, record))

	got, hit, err := store.Load(ctx, record.URL)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, record, got)
}

func TestSaveKeyedByLookupURL(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	ctx := context.Background()

	// The page behind the queued URL redirected to a canonical address.
	queued := "https://x.test/car/1?utm=abc"
	record := listing.Result{
		URL:    "https://x.test/car/canonical-1",
		Fields: map[string]string{"title": "Audi A6 2019"},
		Phones: []listing.Phone{{Text: "(067) 123 45 67"}},
	}
	require.NoError(t, store.Save(ctx, queued, record))

	got, hit, err := store.Load(ctx, queued)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, record, got)

	_, hit, err = store.Load(ctx, record.URL)
	require.NoError(t, err)
	require.False(t, hit, "landed URL is not the cache key")
}

func TestLoadMissing(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)

	_, hit, err := store.Load(context.Background(), "https://x.test/car/none")
	require.NoError(t, err)
	require.False(t, hit)
}

func TestLoadMaskedPhoneIsMiss(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	ctx := context.Background()

	record := listing.Result{
		URL:    "https://x.test/car/2",
		Fields: map[string]string{"title": "BMW 520d"},
		Phones: []listing.Phone{{Text: "(067) XXX XX 67", Masked: true}},
	}
	require.NoError(t, store.Save(ctx, record.URL, record))

	_, hit, err := store.Load(ctx, record.URL)
	require.NoError(t, err)
	require.False(t, hit)
}

func TestLoadNoPhonesIsMiss(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	ctx := context.Background()

	record := listing.Result{
		URL:    "https://x.test/car/3",
		Fields: map[string]string{"title": "VW Golf"},
	}
	require.NoError(t, store.Save(ctx, record.URL, record))

	_, hit, err := store.Load(ctx, record.URL)
	require.NoError(t, err)
	require.False(t, hit)
}

func TestSaveOverwrites(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	ctx := context.Background()

	url := "https://x.test/car/4"
	first := listing.Result{
		URL:    url,
		Fields: map[string]string{"title": "old"},
		Phones: []listing.Phone{{Text: "(050) 111 11 11"}},
	}
	second := listing.Result{
		URL:    url,
		Fields: map[string]string{"title": "new"},
		Phones: []listing.Phone{{Text: "(050) 222 22 22"}},
	}
	require.NoError(t, store.Save(ctx, url, first))
	require.NoError(t, store.Save(ctx, url, second))

	got, hit, err := store.Load(ctx, url)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, second, got)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestCorruptEntryIsMiss(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	ctx := context.Background()

	url := "https://x.test/car/5"
	_, err := store.db.ExecContext(ctx,
		`INSERT INTO listings (fingerprint, url, record) VALUES (?, ?, ?)`,
		Fingerprint(url), url, "{not json")
	require.NoError(t, err)

	_, hit, err := store.Load(ctx, url)
	require.NoError(t, err)
	require.False(t, hit)
}

func TestClear(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "https://x.test/car/6", listing.Result{
		URL:    "https://x.test/car/6",
		Phones: []listing.Phone{{Text: "(093) 333 33 33"}},
	}))
	require.NoError(t, store.Clear(ctx))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestFingerprintStable(t *testing.T) {
	t.Parallel()

	a := Fingerprint("https://x.test/car/1")
	b := Fingerprint("https://x.test/car/1")
	c := Fingerprint("https://x.test/car/2")
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Len(t, a, 40)
}
