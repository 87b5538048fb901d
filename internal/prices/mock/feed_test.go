package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/leafsii/leafsii-dsc/internal/prices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedSetPrice(t *testing.T) {
	f := NewFeed(nil, DefaultDecimals, 0)
	f.SetPrice("ethusd", uint256.NewInt(2000_00000000))

	q, err := f.LatestPrice(context.Background(), "ETHUSD")
	require.NoError(t, err)
	assert.Equal(t, uint64(2000_00000000), q.Raw.Uint64())
	assert.Equal(t, uint8(8), q.Decimals)
	assert.False(t, q.UpdatedAt.IsZero())

	// the returned quote is a copy
	q.Raw.SetUint64(1)
	q, err = f.LatestPrice(context.Background(), "ETHUSD")
	require.NoError(t, err)
	assert.Equal(t, uint64(2000_00000000), q.Raw.Uint64())
}

func TestFeedUnknownAndErrors(t *testing.T) {
	f := NewFeed(nil, DefaultDecimals, 0)

	_, err := f.LatestPrice(context.Background(), "NOPE")
	assert.ErrorIs(t, err, prices.ErrUnknownFeed)

	boom := errors.New("boom")
	f.SetPrice("ETHUSD", uint256.NewInt(1))
	f.SetError("ETHUSD", boom)
	_, err = f.LatestPrice(context.Background(), "ETHUSD")
	assert.ErrorIs(t, err, boom)

	f.SetError("ETHUSD", nil)
	_, err = f.LatestPrice(context.Background(), "ETHUSD")
	assert.NoError(t, err)
}

func TestFeedStepStaysInBand(t *testing.T) {
	f := NewFeed(nil, DefaultDecimals, 0.2)
	f.SetPrice("BTCUSD", uint256.NewInt(100_000_000))

	for i := 0; i < 200; i++ {
		f.Step()
	}

	q, err := f.LatestPrice(context.Background(), "BTCUSD")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, q.Raw.Uint64(), uint64(50_000_000))
	assert.LessOrEqual(t, q.Raw.Uint64(), uint64(150_000_000))
}
