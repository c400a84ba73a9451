package nem12

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func identityRecord(nmi string) string {
	return fmt.Sprintf("200,%s,E1,E1,E1,,METER123,KWH,5,", nmi)
}

func intervalRecord(date string, value float64, quality string) string {
	values := make([]string, IntervalsPerDay)
	for i := range values {
		values[i] = fmt.Sprintf("%g", value)
	}
	return fmt.Sprintf("300,%s,%s,%s,,,20240102120000,", date, strings.Join(values, ","), quality)
}

func TestDecodeRoundTrip(t *testing.T) {
	payload := strings.Join([]string{
		"100,NEM12,202401020000,SAPN,SAPN",
		identityRecord("2001234567"),
		intervalRecord("20240101", 0.1, "A"),
		"900",
	}, "\n")

	data, err := Decode(payload)
	require.NoError(t, err)

	require.Equal(t, "2001234567", data.NMI)
	require.Equal(t, "METER123", data.Serial)
	require.Equal(t, "KWH", data.Unit)
	require.Equal(t, 5, data.IntervalLength)
	require.Len(t, data.Readings, IntervalsPerDay)

	total := 0.0
	for i, r := range data.Readings {
		require.Equal(t, "20240101", r.Date)
		require.Equal(t, i, r.Interval)
		require.Equal(t, 0.1, r.Value)
		require.Equal(t, "A", r.Quality)
		total += r.Value
	}
	require.InDelta(t, 28.8, total, 1e-9)
}

func TestDecodeMultipleDates(t *testing.T) {
	payload := strings.Join([]string{
		identityRecord("2001234567"),
		intervalRecord("20240101", 1, "A"),
		intervalRecord("20240102", 2, "V"),
	}, "\n")

	data, err := Decode(payload)
	require.NoError(t, err)
	require.Len(t, data.Readings, 2*IntervalsPerDay)

	perDate := map[string]int{}
	for _, r := range data.Readings {
		perDate[r.Date]++
		switch r.Date {
		case "20240101":
			require.Equal(t, 1.0, r.Value)
			require.Equal(t, "A", r.Quality)
		case "20240102":
			require.Equal(t, 2.0, r.Value)
			require.Equal(t, "V", r.Quality)
		default:
			t.Fatalf("unexpected date %q", r.Date)
		}
	}
	require.Equal(t, map[string]int{"20240101": 288, "20240102": 288}, perDate)
}

func TestDecodeMissingIdentityRecord(t *testing.T) {
	_, err := Decode(intervalRecord("20240101", 0.5, "A"))
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	require.Contains(t, err.Error(), "missing identity record")
}

func TestDecodeShortIntervalRecord(t *testing.T) {
	payload := strings.Join([]string{
		identityRecord("2001234567"),
		"300,20240101,0.1,0.2,0.3,A",
	}, "\n")

	data, err := Decode(payload)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	require.Empty(t, data.Readings)
}

func TestDecodeInvalidDate(t *testing.T) {
	for _, date := range []string{"2024011", "202401015", "2024010a", "01/01/24"} {
		payload := strings.Join([]string{
			identityRecord("2001234567"),
			intervalRecord(date, 0.1, "A"),
		}, "\n")

		data, err := Decode(payload)
		var decodeErr *DecodeError
		require.ErrorAs(t, err, &decodeErr, "date %q", date)
		require.Contains(t, err.Error(), "invalid date")
		require.Empty(t, data.Readings)
	}
}

func TestDecodeNonNumericValue(t *testing.T) {
	record := intervalRecord("20240101", 0.1, "A")
	record = strings.Replace(record, "0.1", "bogus", 1)
	payload := strings.Join([]string{
		identityRecord("2001234567"),
		record,
	}, "\n")

	_, err := Decode(payload)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	require.Equal(t, 2, decodeErr.Line)
	require.Equal(t, 0, decodeErr.Slot)
}

func TestDecodeEmptyValuesBecomeZero(t *testing.T) {
	record := intervalRecord("20240101", 0.1, "A")
	record = strings.Replace(record, "0.1", "", 1)
	payload := strings.Join([]string{
		identityRecord("2001234567"),
		record,
	}, "\n")

	data, err := Decode(payload)
	require.NoError(t, err)
	require.Equal(t, 0.0, data.Readings[0].Value)
	require.Equal(t, 0.1, data.Readings[1].Value)
}

func TestDecodeLenientDefaults(t *testing.T) {
	// blank interval length falls back to 5, blank unit to KWH,
	// blank quality to A
	payload := strings.Join([]string{
		"200,2001234567,E1,E1,E1,,,,x,",
		intervalRecord("20240101", 0.1, ""),
	}, "\n")

	data, err := Decode(payload)
	require.NoError(t, err)
	require.Equal(t, 5, data.IntervalLength)
	require.Equal(t, "KWH", data.Unit)
	require.Equal(t, "", data.Serial)
	require.Equal(t, "A", data.Readings[0].Quality)
}

func TestDecodeIgnoresUnknownRecordTypes(t *testing.T) {
	payload := strings.Join([]string{
		identityRecord("2001234567"),
		"550,whatever,fields",
		"",
		intervalRecord("20240101", 0.1, "A"),
		"400,1,288,S14,,",
		"900",
	}, "\n")

	data, err := Decode(payload)
	require.NoError(t, err)
	require.Len(t, data.Readings, IntervalsPerDay)
}

func TestDecodeFirstIdentityRecordWins(t *testing.T) {
	payload := strings.Join([]string{
		identityRecord("2001234567"),
		"200,9999999999,E1,E1,E1,,OTHER,KWH,30,",
	}, "\n")

	data, err := Decode(payload)
	require.NoError(t, err)
	require.Equal(t, "2001234567", data.NMI)
	require.Equal(t, 5, data.IntervalLength)
}
