package rates

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rhinox-exchange/rhinox-v2/internal/clock"
	"github.com/rhinox-exchange/rhinox-v2/internal/storage"
	"github.com/rhinox-exchange/rhinox-v2/pkg/errs"
	"github.com/rhinox-exchange/rhinox-v2/pkg/money"
)

func setup(t *testing.T) *Service {
	t.Helper()
	store, err := storage.New(&storage.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, &clock.Fixed{T: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)})
}

func TestSameCurrencyIsIdentity(t *testing.T) {
	s := setup(t)
	rate, err := s.GetRate(context.Background(), "NGN", "NGN")
	require.NoError(t, err)
	require.Equal(t, "1", rate.String())
}

func TestSetAndGetDirectRate(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	_, err := s.SetRate(ctx, "NGN", "USD", money.MustParse("0.0012"), nil)
	require.NoError(t, err)

	rate, err := s.GetRate(ctx, "NGN", "USD")
	require.NoError(t, err)
	require.Equal(t, "0.0012", rate.String())
}

func TestInverseFallbackStored(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	inverse := money.MustParse("833.33")
	_, err := s.SetRate(ctx, "NGN", "USD", money.MustParse("0.0012"), &inverse)
	require.NoError(t, err)

	// No USD/NGN row: the stored inverse of NGN/USD answers.
	rate, err := s.GetRate(ctx, "USD", "NGN")
	require.NoError(t, err)
	require.Equal(t, "833.33", rate.String())
}

func TestInverseFallbackComputed(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	_, err := s.SetRate(ctx, "USD", "NGN", money.MustParse("1500"), nil)
	require.NoError(t, err)

	rate, err := s.GetRate(ctx, "NGN", "USD")
	require.NoError(t, err)
	// 1/1500 half-even at scale 8
	require.Equal(t, "0.00066667", rate.String())
}

func TestRateUnavailable(t *testing.T) {
	s := setup(t)
	_, err := s.GetRate(context.Background(), "GHS", "KES")
	require.ErrorIs(t, err, errs.ErrRateUnavailable)
}

func TestZeroRateRejected(t *testing.T) {
	s := setup(t)
	_, err := s.SetRate(context.Background(), "NGN", "USD", money.MustParse("0"), nil)
	require.ErrorIs(t, err, errs.ErrInvalidInput)

	neg := money.MustParse("-1")
	_, err = s.SetRate(context.Background(), "NGN", "USD", money.MustParse("1"), &neg)
	require.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestConvert(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	inverse := money.MustParse("833.33")
	_, err := s.SetRate(ctx, "NGN", "USD", money.MustParse("0.0012"), &inverse)
	require.NoError(t, err)

	converted, err := s.Convert(ctx, money.MustParse("1000000"), "NGN", "USD")
	require.NoError(t, err)
	require.Equal(t, "1200.00", converted.StringFixed(money.FiatScale))
}

func TestSetRateReplacesExisting(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	_, err := s.SetRate(ctx, "NGN", "USD", money.MustParse("0.0012"), nil)
	require.NoError(t, err)
	_, err = s.SetRate(ctx, "NGN", "USD", money.MustParse("0.0013"), nil)
	require.NoError(t, err)

	rate, err := s.GetRate(ctx, "NGN", "USD")
	require.NoError(t, err)
	require.Equal(t, "0.0013", rate.String())

	all, err := s.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestListFromBase(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	_, err := s.SetRate(ctx, "USD", "NGN", money.MustParse("1500"), nil)
	require.NoError(t, err)
	_, err = s.SetRate(ctx, "USD", "GHS", money.MustParse("15"), nil)
	require.NoError(t, err)
	_, err = s.SetRate(ctx, "NGN", "GHS", money.MustParse("0.01"), nil)
	require.NoError(t, err)

	fromUSD, err := s.ListFromBase(ctx, "USD")
	require.NoError(t, err)
	require.Len(t, fromUSD, 2)
	for _, r := range fromUSD {
		require.Equal(t, "USD", r.FromCurrency)
	}
}
