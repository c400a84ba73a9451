// Package nem12 decodes NEM12 interval-meter payloads as served by the
// SA Power Networks customer portal.
//
// NEM12 is a record-typed CSV convention: the first field of every line
// is a record-type code. Only "200" (identity) and "300" (interval data)
// records carry anything we need; the rest are recognized and skipped.
package nem12

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// a day of 5-minute slots
	IntervalsPerDay = 288
	IntervalMinutes = 5
)

// Reading is a single 5-minute consumption slot.
type Reading struct {
	// civil date in YYYYMMDD form
	Date string
	// slot within the day, 0..287
	Interval int
	// consumption in kWh
	Value float64
	// quality flag: A/V/E/S/N/F
	Quality string
}

// Dataset is the decoded result of one NEM12 payload. It is handed to
// sinks by value and must not be mutated after Decode returns.
type Dataset struct {
	NMI            string
	Serial         string
	Unit           string
	IntervalLength int
	// readings in file order; sort explicitly if you need chronological order
	Readings []Reading
}

type DecodeError struct {
	// 1-based line number, 0 when not tied to a line
	Line int
	// interval slot, -1 when not applicable
	Slot int
	Msg  string
}

func (e *DecodeError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("nem12: %s", e.Msg)
	}
	if e.Slot >= 0 {
		return fmt.Sprintf("nem12: line %d, slot %d: %s", e.Line, e.Slot, e.Msg)
	}
	return fmt.Sprintf("nem12: line %d: %s", e.Line, e.Msg)
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}

// Decode parses a raw NEM12 payload into a Dataset. It is all-or-nothing:
// a malformed record fails the whole payload, no partial dataset is ever
// returned.
func Decode(payload string) (Dataset, error) {
	var out Dataset
	seenIdentity := false

	for i, line := range strings.Split(payload, "\n") {
		lineno := i + 1
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		fields := strings.Split(line, ",")
		switch fields[0] {
		case "200":
			// first identity record wins, later ones (multi-stream
			// files) are skipped
			if seenIdentity {
				continue
			}
			if len(fields) < 9 {
				return Dataset{}, &DecodeError{Line: lineno, Slot: -1, Msg: "identity record too short"}
			}
			out.NMI = fields[1]
			out.Serial = fields[6]
			out.Unit = fields[7]
			if out.Unit == "" {
				out.Unit = "KWH"
			}
			length, err := strconv.Atoi(fields[8])
			if err != nil {
				// the portal has been seen emitting blanks here,
				// fall back rather than rejecting the whole file
				length = IntervalMinutes
			}
			out.IntervalLength = length
			seenIdentity = true

		case "300":
			// type + date + 288 values + quality at minimum
			if len(fields) < IntervalsPerDay+3 {
				return Dataset{}, &DecodeError{
					Line: lineno,
					Slot: -1,
					Msg:  fmt.Sprintf("interval record has %d fields, want at least %d", len(fields), IntervalsPerDay+3),
				}
			}
			date := fields[1]
			if len(date) != 8 || !isDigits(date) {
				return Dataset{}, &DecodeError{
					Line: lineno,
					Slot: -1,
					Msg:  fmt.Sprintf("invalid date %q", date),
				}
			}
			quality := fields[2+IntervalsPerDay]
			if quality == "" {
				quality = "A"
			}
			for slot := 0; slot < IntervalsPerDay; slot++ {
				raw := fields[2+slot]
				value := 0.0
				if raw != "" {
					var err error
					value, err = strconv.ParseFloat(raw, 64)
					if err != nil {
						return Dataset{}, &DecodeError{
							Line: lineno,
							Slot: slot,
							Msg:  fmt.Sprintf("invalid value %q", raw),
						}
					}
				}
				out.Readings = append(out.Readings, Reading{
					Date:     date,
					Interval: slot,
					Value:    value,
					Quality:  quality,
				})
			}

		case "100", "400", "500", "900":
			// header, quality-detail, reactive-energy and end-marker
			// records carry no consumption data

		default:
			// unknown record types must not abort decoding
		}
	}

	if !seenIdentity {
		return Dataset{}, &DecodeError{Slot: -1, Msg: "missing identity record"}
	}
	return out, nil
}
