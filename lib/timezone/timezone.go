package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("Australia/Adelaide")
	if err != nil {
		panic(err)
	}
}

// force timestamps into the NMI's local zone because the exporter may be
// deployed anywhere; deriving Year()/Month()/Day() from server-local time
// would shift readings across day boundaries.
func Now() time.Time {
	return time.Now().In(Location)
}

// Today returns midnight of the current civil day.
func Today() time.Time {
	now := Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, Location)
}
