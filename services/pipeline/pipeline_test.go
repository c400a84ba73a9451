package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sapn-exporter/lib/nem12"
	"sapn-exporter/lib/retryutil"
	"sapn-exporter/lib/scrapers/sapn"
	"sapn-exporter/lib/telemetry"

	"github.com/stretchr/testify/require"
)

var testRetry = retryutil.Policy{Attempts: 3, BaseDelay: time.Millisecond}

const testLoginPage = `<html><body>
<form id="loginPage:loginForm" action="/meterdata/SiteLogin" method="post">
	<input type="hidden" name="com.salesforce.visualforce.ViewState" value="vs1"/>
	<input type="text" name="loginPage:loginForm:username"/>
	<input type="password" name="loginPage:loginForm:password"/>
</form>
</body></html>`

const testMeterDataPage = `<html><head><script>
Visualforce.remoting.Manager.add(new $VFRM.RemotingProviderImpl(
{"vf":{"vid":"066xx0000000001","xhr":false,"dev":false,"tst":false},
"service":"apexremote",
"actions":{"CADAccessMyDataController":{"ms":[
{"name":"downloadNMIData","len":7,"ns":"","ver":35,"csrf":"csrftoken123","authorization":"authtoken456"}
]}}}));
</script></head><body></body></html>`

func testNem12Payload() string {
	var b strings.Builder
	b.WriteString("100,NEM12,202401020400,SAPN,SAPN\n")
	b.WriteString("200,2001234567,E1,E1,E1,,METER123,KWH,5,\n")
	b.WriteString("300,20240101")
	for i := 0; i < nem12.IntervalsPerDay; i++ {
		b.WriteString(",0.1")
	}
	b.WriteString(",A\n")
	b.WriteString("900\n")
	return b.String()
}

// newTestPortal speaks just enough of the portal's dialect to carry a
// pipeline run: login form, session cookie plus js redirect, meter data
// page with the remoting descriptor, and the apexremote endpoint.
func newTestPortal(t *testing.T, payload string) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /meterdata/SiteLogin", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, testLoginPage)
	})
	mux.HandleFunc("POST /meterdata/SiteLogin", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "session123", Path: "/"})
		fmt.Fprint(w, `<script>window.location.replace('/meterdata/CADAccessMyData');</script>`)
	})
	mux.HandleFunc("GET /meterdata/CADAccessMyData", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, testMeterDataPage)
	})
	mux.HandleFunc("POST /meterdata/apexremote", func(w http.ResponseWriter, r *http.Request) {
		encoded, _ := json.Marshal(payload)
		fmt.Fprintf(w, `[{"statusCode":200,"result":{"results":%s,"totalStreams":1}}]`, encoded)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func testPipeline(ts *httptest.Server) *Pipeline {
	return New(Config{
		BaseUrl:  ts.URL,
		Username: "alice@example.com",
		Password: "hunter2",
		NMI:      "2001234567",
		Retry:    testRetry,
	})
}

func TestRunEndToEnd(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:pipeline")
	defer cleanup()

	ts := newTestPortal(t, testNem12Payload())

	data, err := testPipeline(ts).Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, "2001234567", data.NMI)
	require.Equal(t, "METER123", data.Serial)
	require.Equal(t, "KWH", data.Unit)
	require.Len(t, data.Readings, nem12.IntervalsPerDay)
	require.InDelta(t, 28.8, nem12.DailyTotal(data.Readings, "20240101"), 0.001)
}

func TestRunDecodeFailureIsAllOrNothing(t *testing.T) {
	// one corrupt value in an otherwise valid payload fails the run
	corrupt := strings.Replace(testNem12Payload(), ",0.1,", ",oops,", 1)
	ts := newTestPortal(t, corrupt)

	_, err := testPipeline(ts).Run(context.Background())

	var decodeErr *nem12.DecodeError
	require.ErrorAs(t, err, &decodeErr)
}

func TestRunLoginFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /meterdata/SiteLogin", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>maintenance window</body></html>`)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	_, err := testPipeline(ts).Run(context.Background())

	var authErr *sapn.AuthError
	require.ErrorAs(t, err, &authErr)
}

type fakeInflux struct {
	intervals int
	statuses  []bool
}

func (f *fakeInflux) WriteAll(ctx context.Context, data nem12.Dataset) (int, int, error) {
	f.intervals += len(data.Readings)
	return len(data.Readings), len(nem12.Dates(data.Readings)), nil
}

func (f *fakeInflux) WriteScrapeStatus(ctx context.Context, nmi string, success bool, duration time.Duration, readings int) error {
	f.statuses = append(f.statuses, success)
	return nil
}

type fakeProm struct {
	updates int
	scrapes []bool
}

func (f *fakeProm) Update(ctx context.Context, data nem12.Dataset) { f.updates++ }
func (f *fakeProm) RecordScrape(success bool)                      { f.scrapes = append(f.scrapes, success) }

func TestRunnerScrapeFansOutToSinks(t *testing.T) {
	ts := newTestPortal(t, testNem12Payload())
	influx := &fakeInflux{}
	prom := &fakeProm{}
	runner := NewRunner(testPipeline(ts), influx, prom)

	require.NoError(t, runner.Scrape(context.Background()))

	require.Equal(t, nem12.IntervalsPerDay, influx.intervals)
	require.Equal(t, []bool{true}, influx.statuses)
	require.Equal(t, 1, prom.updates)
	require.Equal(t, []bool{true}, prom.scrapes)
}

func TestRunnerScrapeRecordsFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /meterdata/SiteLogin", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>maintenance window</body></html>`)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	influx := &fakeInflux{}
	prom := &fakeProm{}
	runner := NewRunner(testPipeline(ts), influx, prom)

	require.Error(t, runner.Scrape(context.Background()))

	require.Zero(t, influx.intervals)
	require.Equal(t, []bool{false}, influx.statuses)
	require.Zero(t, prom.updates)
	require.Equal(t, []bool{false}, prom.scrapes)
}
