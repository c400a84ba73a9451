package nem12

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIntervalClock(t *testing.T) {
	require.Equal(t, "00:00", IntervalClock(0))
	require.Equal(t, "00:05", IntervalClock(1))
	require.Equal(t, "01:00", IntervalClock(12))
	require.Equal(t, "12:00", IntervalClock(144))
	require.Equal(t, "23:55", IntervalClock(287))
}

func TestIntervalEpochSpacing(t *testing.T) {
	// plain day, no DST transition
	for i := 0; i < IntervalsPerDay-1; i++ {
		a, err := IntervalEpoch("20240615", i)
		require.NoError(t, err)
		b, err := IntervalEpoch("20240615", i+1)
		require.NoError(t, err)
		require.Equal(t, int64(300), b-a, "slot %d", i)
	}
}

func TestIntervalEpochAcrossDSTTransitions(t *testing.T) {
	// Adelaide DST started 2023-10-01 (23-hour day) and ended
	// 2024-04-07 (25-hour day). Slots must stay distinct and
	// monotonically increasing either way.
	for _, date := range []string{"20231001", "20240407"} {
		var prev int64
		for i := 0; i < IntervalsPerDay; i++ {
			epoch, err := IntervalEpoch(date, i)
			require.NoError(t, err)
			if i > 0 {
				require.Greater(t, epoch, prev, "date %s slot %d", date, i)
			}
			prev = epoch
		}
	}
}

func TestIntervalEpochUTCValue(t *testing.T) {
	// midnight ACDT on 2024-01-01 is 13:30 UTC the previous day
	epoch, err := IntervalEpoch("20240101", 0)
	require.NoError(t, err)
	require.Equal(t, int64(1704029400), epoch)
}

func TestIntervalTimeRejectsBadDate(t *testing.T) {
	_, err := IntervalTime("not-a-date", 0)
	require.Error(t, err)
}

func TestAggregates(t *testing.T) {
	readings := []Reading{
		{Date: "20240102", Interval: 0, Value: 1.5},
		{Date: "20240101", Interval: 0, Value: 1},
		{Date: "20240101", Interval: 1, Value: 2},
	}

	require.Equal(t, []string{"20240101", "20240102"}, Dates(readings))
	require.Equal(t, 3.0, DailyTotal(readings, "20240101"))
	require.Equal(t, 1.5, DailyTotal(readings, "20240102"))
	require.Equal(t, 0.0, DailyTotal(readings, "20231231"))
	require.Equal(t, "20240102", LatestDate(readings))
	require.Equal(t, "", LatestDate(nil))
}
