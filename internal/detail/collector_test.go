package detail

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eldlit/auto-ria-downloader/internal/listing"
)

func record(url, phone string) listing.Result {
	return listing.Result{
		URL:    url,
		Fields: map[string]string{"title": "t"},
		Phones: []listing.Phone{{Text: phone}},
	}
}

func TestCollectorFlushesInBatches(t *testing.T) {
	t.Parallel()

	var sizes []int
	var all []listing.Result
	c := NewCollector(2, func(batch []listing.Result) error {
		sizes = append(sizes, len(batch))
		all = append(all, batch...)
		return nil
	}, zap.NewNop())

	for i := 0; i < 5; i++ {
		accepted, err := c.Accept(record(
			fmt.Sprintf("https://x.test/car/%d", i),
			fmt.Sprintf("(067) 000 00 0%d", i),
		))
		require.NoError(t, err)
		require.True(t, accepted)
	}
	require.NoError(t, c.FinalFlush())

	require.Equal(t, []int{2, 2, 1}, sizes)
	require.Equal(t, 5, c.Accepted())
	require.Len(t, all, 5)
	for i, r := range all {
		require.Equal(t, fmt.Sprintf("https://x.test/car/%d", i), r.URL)
	}
}

func TestCollectorDeduplicatesByNormalizedPhone(t *testing.T) {
	t.Parallel()

	c := NewCollector(10, func([]listing.Result) error { return nil }, zap.NewNop())

	accepted, err := c.Accept(record("https://x.test/car/1", "+38 (067) 123-45-67"))
	require.NoError(t, err)
	require.True(t, accepted)

	// Same number in local form; the first record wins.
	accepted, err = c.Accept(record("https://x.test/car/2", "0671234567"))
	require.NoError(t, err)
	require.False(t, accepted)
	require.Equal(t, 1, c.Accepted())
}

func TestCollectorAcceptsOnAnyNewPhone(t *testing.T) {
	t.Parallel()

	c := NewCollector(10, func([]listing.Result) error { return nil }, zap.NewNop())

	accepted, err := c.Accept(record("https://x.test/car/1", "0671234567"))
	require.NoError(t, err)
	require.True(t, accepted)

	// One seen phone plus one new phone still passes the gate.
	accepted, err = c.Accept(listing.Result{
		URL:    "https://x.test/car/2",
		Fields: map[string]string{"title": "t"},
		Phones: []listing.Phone{
			{Text: "0671234567"},
			{Text: "0502223344"},
		},
	})
	require.NoError(t, err)
	require.True(t, accepted)
	require.Equal(t, 2, c.Accepted())
}

func TestCollectorRejectsMaskedOnlyPhones(t *testing.T) {
	t.Parallel()

	c := NewCollector(10, func([]listing.Result) error { return nil }, zap.NewNop())

	accepted, err := c.Accept(listing.Result{
		URL:    "https://x.test/car/1",
		Phones: []listing.Phone{{Text: "(067) XXX XX 67", Masked: true}},
	})
	require.NoError(t, err)
	require.False(t, accepted)
}

func TestCollectorFinalFlushEmpty(t *testing.T) {
	t.Parallel()

	calls := 0
	c := NewCollector(2, func([]listing.Result) error {
		calls++
		return nil
	}, zap.NewNop())
	require.NoError(t, c.FinalFlush())
	require.Zero(t, calls)
}

func TestCollectorPropagatesFlushError(t *testing.T) {
	t.Parallel()

	sinkErr := errors.New("disk full")
	c := NewCollector(1, func([]listing.Result) error { return sinkErr }, zap.NewNop())

	accepted, err := c.Accept(record("https://x.test/car/1", "0671234567"))
	require.True(t, accepted)
	require.ErrorIs(t, err, sinkErr)
}
