package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mintqueue-system/internal/status"
)

func TestToBaseUnits(t *testing.T) {
	units, err := ToBaseUnits(decimal.RequireFromString("10"))
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000_000), units)

	units, err = ToBaseUnits(decimal.RequireFromString("0.000001"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), units)

	// Sub-unit precision is rejected, never truncated.
	_, err = ToBaseUnits(decimal.RequireFromString("0.0000001"))
	assert.ErrorIs(t, err, status.ErrInvalidAmount)

	_, err = ToBaseUnits(decimal.RequireFromString("-1"))
	assert.ErrorIs(t, err, status.ErrInvalidAmount)

	// Amounts past the representable range are rejected, never wrapped.
	_, err = ToBaseUnits(decimal.RequireFromString("10000000000000000000"))
	assert.ErrorIs(t, err, status.ErrInvalidAmount)
}

func TestBaseUnitsRoundTrip(t *testing.T) {
	for _, s := range []string{"0", "0.5", "7", "10.25", "123456.789123"} {
		amount := decimal.RequireFromString(s)
		units, err := ToBaseUnits(amount)
		require.NoError(t, err)
		assert.True(t, amount.Equal(FromBaseUnits(units)), "round trip of %s", s)
	}
}

func TestJoinCost(t *testing.T) {
	assert.Equal(t, uint64(10), JoinCost(10, 1))
	assert.Equal(t, uint64(30), JoinCost(10, 3))
	assert.Equal(t, uint64(0), JoinCost(10, 0))
}

func TestQueueConfigInputValidate(t *testing.T) {
	valid := QueueConfigInput{
		MarketplaceID:   "market-1",
		Threshold:       10,
		BaseCost:        decimal.RequireFromString("10"),
		EffectiveCost:   decimal.RequireFromString("7"),
		PlatformAddress: "MQPLATFORM",
		EscrowAddress:   "MQESCROW",
		TimeWindowSecs:  3600,
	}
	require.NoError(t, valid.Validate())

	cases := []struct {
		name    string
		mutate  func(*QueueConfigInput)
		wantErr error
	}{
		{"zero threshold", func(in *QueueConfigInput) { in.Threshold = 0 }, status.ErrInvalidThreshold},
		{"threshold past cap", func(in *QueueConfigInput) { in.Threshold = MaxThreshold + 1 }, status.ErrInvalidThreshold},
		{"base cost past cap", func(in *QueueConfigInput) {
			in.BaseCost = decimal.RequireFromString("2000000")
		}, status.ErrInvalidCosts},
		{"zero window", func(in *QueueConfigInput) { in.TimeWindowSecs = 0 }, status.ErrInvalidTimeWindow},
		{"negative window", func(in *QueueConfigInput) { in.TimeWindowSecs = -5 }, status.ErrInvalidTimeWindow},
		{"zero base cost", func(in *QueueConfigInput) { in.BaseCost = decimal.Zero }, status.ErrInvalidCosts},
		{"effective equals base", func(in *QueueConfigInput) { in.EffectiveCost = in.BaseCost }, status.ErrInvalidCosts},
		{"effective above base", func(in *QueueConfigInput) {
			in.EffectiveCost = decimal.RequireFromString("10.5")
		}, status.ErrInvalidCosts},
		{"missing platform address", func(in *QueueConfigInput) { in.PlatformAddress = "" }, status.ErrInvalidAddress},
		{"missing escrow address", func(in *QueueConfigInput) { in.EscrowAddress = "" }, status.ErrInvalidAddress},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := valid
			tc.mutate(&input)
			assert.ErrorIs(t, input.Validate(), tc.wantErr)
		})
	}
}
