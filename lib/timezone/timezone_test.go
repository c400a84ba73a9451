package timezone

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocation(t *testing.T) {
	require.Equal(t, "Australia/Adelaide", Location.String())

	// ACST (+9:30) in July, ACDT (+10:30) in January
	winter := time.Date(2024, time.July, 1, 12, 0, 0, 0, Location)
	_, winterOffset := winter.Zone()
	require.Equal(t, int(9*time.Hour+30*time.Minute)/int(time.Second), winterOffset)

	summer := time.Date(2024, time.January, 15, 12, 0, 0, 0, Location)
	_, summerOffset := summer.Zone()
	require.Equal(t, int(10*time.Hour+30*time.Minute)/int(time.Second), summerOffset)
}

func TestToday(t *testing.T) {
	today := Today()
	require.Equal(t, 0, today.Hour())
	require.Equal(t, 0, today.Minute())
	require.Equal(t, Location, today.Location())
}
