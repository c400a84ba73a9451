package sapn

import (
	"sapn-exporter/lib/restyutil"
	"sapn-exporter/lib/telemetry"
)

var tracer = telemetry.Tracer("sapn-exporter.lib.scrapers.sapn")
var restyInstrumentOutput restyutil.InstrumentOutput

func SetRestyInstrumentOutput(out restyutil.InstrumentOutput) {
	restyInstrumentOutput = out
}
