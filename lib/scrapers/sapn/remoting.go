package sapn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"sapn-exporter/lib/timezone"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/codes"
)

const (
	remotingAction = "CADAccessMyDataController"
	remotingMethod = "downloadNMIData"

	// protocol constants for this portal generation, not discovered
	remotingNs  = ""
	remotingVer = 35

	reportKind = "Customer Access NEM12"
	meterKind  = "Interval"
)

// RemotingContext is the page-scoped authorization for one remoting
// call: the Visualforce page id plus CSRF and authorization tokens. It
// expires with the page, refresh it every run.
type RemotingContext struct {
	Vid           string
	Ns            string
	Ver           int
	Csrf          string
	Authorization string
}

var (
	vidRegex = regexp.MustCompile(`"vid"\s*:\s*"([^"]+)"`)
	// the remoting descriptor object for the download method
	methodDescriptorRegex = regexp.MustCompile(`\{[^{}]*"name"\s*:\s*"` + remotingMethod + `"[^{}]*\}`)
	csrfRegex             = regexp.MustCompile(`"csrf"\s*:\s*"([^"]+)"`)
	authorizationRegex    = regexp.MustCompile(`"authorization"\s*:\s*"([^"]+)"`)
)

// ExtractRemotingContext scans the meter-data page's inline JavaScript
// configuration for the remoting tokens. This is deliberately regex over
// text, not DOM or JS parsing: the tokens live inside script blocks the
// vendor controls, and a zero-match page must fail loudly rather than
// yield a default context.
func ExtractRemotingContext(page string) (RemotingContext, error) {
	vid := vidRegex.FindStringSubmatch(page)
	if vid == nil {
		return RemotingContext{}, &ExtractionError{Reason: "no vid in page"}
	}

	descriptor := methodDescriptorRegex.FindString(page)
	if descriptor == "" {
		return RemotingContext{}, &ExtractionError{Reason: fmt.Sprintf("no %s descriptor in page", remotingMethod)}
	}
	csrf := csrfRegex.FindStringSubmatch(descriptor)
	authorization := authorizationRegex.FindStringSubmatch(descriptor)
	if csrf == nil || authorization == nil {
		return RemotingContext{}, &ExtractionError{Reason: "missing csrf/authorization token"}
	}

	return RemotingContext{
		Vid:           vid[1],
		Ns:            remotingNs,
		Ver:           remotingVer,
		Csrf:          csrf[1],
		Authorization: authorization[1],
	}, nil
}

// DownloadRequest describes one downloadNMIData call.
type DownloadRequest struct {
	NMI string
	// zero values default to a trailing 30-day window
	FromDate time.Time
	ToDate   time.Time
}

type remotingCall struct {
	Action string          `json:"action"`
	Method string          `json:"method"`
	Data   []any           `json:"data"`
	Type   string          `json:"type"`
	Tid    int             `json:"tid"`
	Ctx    remotingCallCtx `json:"ctx"`
}

type remotingCallCtx struct {
	Csrf          string `json:"csrf"`
	Vid           string `json:"vid"`
	Ns            string `json:"ns"`
	Ver           int    `json:"ver"`
	Authorization string `json:"authorization"`
}

type remotingResult struct {
	StatusCode int             `json:"statusCode"`
	Message    string          `json:"message"`
	Result     json.RawMessage `json:"result"`
}

// dates go over the wire at day precision in this exact textual form
func formatRemotingDate(t time.Time) string {
	return t.Format("Mon, 02 Jan 2006") + " 00:00:00 GMT"
}

// DownloadNMIData performs the remoting call and returns the raw NEM12
// payload text.
func (c *Client) DownloadNMIData(ctx context.Context, rctx RemotingContext, req DownloadRequest) (string, error) {
	ctx, span := tracer.Start(ctx, "client:DownloadNMIData")
	defer span.End()

	to := req.ToDate
	if to.IsZero() {
		to = timezone.Today()
	}
	from := req.FromDate
	if from.IsZero() {
		from = to.AddDate(0, 0, -30)
	}

	call := remotingCall{
		Action: remotingAction,
		Method: remotingMethod,
		Data: []any{
			req.NMI,
			"",
			formatRemotingDate(from),
			formatRemotingDate(to),
			reportKind,
			meterKind,
			0,
		},
		Type: "rpc",
		Tid:  1,
		Ctx: remotingCallCtx{
			Csrf:          rctx.Csrf,
			Vid:           rctx.Vid,
			Ns:            rctx.Ns,
			Ver:           rctx.Ver,
			Authorization: rctx.Authorization,
		},
	}

	pageUrl := c.resolve(meterDataPath)
	res, err := c.execute(
		ctx,
		c.Http.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetHeader("Referer", pageUrl).
			SetHeader("Origin", c.origin()).
			SetBody(call),
		resty.MethodPost, remotingPath,
	)
	if err != nil {
		span.SetStatus(codes.Error, "remoting request failed")
		return "", err
	}

	payload, err := decodeRemotingResponse(ctx, res.Body())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return payload, nil
}

// decodeRemotingResponse unwraps the remoting envelope: a one-element
// array whose element carries a statusCode and a result that is either
// an object with a `results` payload string or, degenerately, the
// payload string itself.
func decodeRemotingResponse(ctx context.Context, body []byte) (string, error) {
	var results []remotingResult
	if err := json.Unmarshal(body, &results); err != nil {
		return "", &DownloadError{Reason: fmt.Sprintf("malformed remoting response: %s", err)}
	}
	if len(results) == 0 {
		return "", &DownloadError{Reason: "empty remoting response"}
	}

	first := results[0]
	if first.StatusCode != 200 {
		msg := first.Message
		if msg == "" {
			msg = fmt.Sprintf("remote status %d", first.StatusCode)
		}
		return "", &DownloadError{Reason: msg}
	}

	result := bytes.TrimSpace(first.Result)
	switch {
	case len(result) == 0 || bytes.Equal(result, []byte("null")):
		return "", &DownloadError{Reason: "no data returned"}

	case result[0] == '{':
		var obj struct {
			Results      string `json:"results"`
			TotalStreams int    `json:"totalStreams"`
		}
		if err := json.Unmarshal(result, &obj); err != nil {
			return "", &DownloadError{Reason: fmt.Sprintf("unexpected result type: %s", err)}
		}
		if obj.Results == "" {
			return "", &DownloadError{Reason: "no data returned"}
		}
		slog.DebugContext(ctx, "remoting result", "total_streams", obj.TotalStreams)
		return obj.Results, nil

	case result[0] == '"':
		var bare string
		if err := json.Unmarshal(result, &bare); err != nil {
			return "", &DownloadError{Reason: fmt.Sprintf("unexpected result type: %s", err)}
		}
		if bare == "" {
			return "", &DownloadError{Reason: "no data returned"}
		}
		return bare, nil

	default:
		return "", &DownloadError{Reason: "unexpected result type"}
	}
}
