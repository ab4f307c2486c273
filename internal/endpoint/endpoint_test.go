package endpoint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRateLimitOrdering(t *testing.T) {
	sixtyPerHour := RateLimitConfig{Name: "a", Number: 60, Period: "1h"}
	onePerMinute := RateLimitConfig{Name: "b", Number: 1, Period: "1m"}
	onePerSecond := RateLimitConfig{Name: "c", Number: 1, Period: "1s"}

	require.Equal(t, periodPerRequest(sixtyPerHour), periodPerRequest(onePerMinute))
	require.Less(t, periodPerRequest(onePerSecond), periodPerRequest(onePerMinute))
	require.Greater(t, periodPerRequest(sixtyPerHour), periodPerRequest(onePerSecond))
}

func TestNewRateLimitsSortsStrictestFirst(t *testing.T) {
	rls, err := NewRateLimits([]RateLimitConfig{
		{Name: "lax", Number: 1, Period: "1s"},
		{Name: "strict", Number: 1, Period: "1h"},
	})
	require.NoError(t, err)
	require.Len(t, rls.limits, 2)
	require.Less(t, rls.limits[0].limiter.Limit(), rls.limits[1].limiter.Limit())
}

func TestNewRejectsZeroNumber(t *testing.T) {
	_, err := NewRateLimits([]RateLimitConfig{{Name: "bad", Number: 0, Period: "1s"}})
	require.Error(t, err)
}

func TestRateLimitMatchesByResourceOrPath(t *testing.T) {
	rl, err := newRateLimit(RateLimitConfig{
		Name:      "newOrder",
		Number:    10,
		Period:    "1m",
		Resources: []NamedResource{ResourceNewOrder},
		Path:      `^/acme/order/`,
	})
	require.NoError(t, err)
	require.True(t, rl.matches(ResourceNewOrder, "/whatever"))
	require.True(t, rl.matches("", "/acme/order/abc"))
	require.False(t, rl.matches(ResourceNewAccount, "/other"))
}
