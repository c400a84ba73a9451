// Package sapn drives the SA Power Networks customer portal: a
// Salesforce-generation site with a form-based login, JavaScript
// redirects instead of HTTP 3xx, and a Visualforce-remoting RPC endpoint
// that serves NEM12 meter data.
package sapn

import (
	"context"
	"fmt"
	"log/slog"
	"net/http/cookiejar"
	"net/url"
	"time"

	"sapn-exporter/lib/restyutil"
	"sapn-exporter/lib/retryutil"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/codes"
)

const DefaultBaseUrl = "https://customer.portal.sapowernetworks.com.au"

const (
	loginPath     = "/meterdata/SiteLogin"
	meterDataPath = "/meterdata/CADAccessMyData"
	remotingPath  = "/meterdata/apexremote"
)

// field names the portal assigns to the Visualforce login form
const (
	usernameField = "loginPage:loginForm:username"
	passwordField = "loginPage:loginForm:password"
	submitField   = "loginPage:loginForm:loginButton"
)

// Salesforce session cookie
const sessionCookieName = "sid"

const maxJsRedirects = 5

type Client struct {
	BaseUrl *url.URL
	Http    *resty.Client

	retry         retryutil.Policy
	username      string
	password      string
	authenticated bool
}

type ClientOptions struct {
	// defaults to the production portal
	BaseUrl  string
	Username string
	Password string
	// zero value means the default policy (3 attempts, 2s then 4s backoff)
	Retry retryutil.Policy
}

// NewClient builds an unauthenticated client owning a fresh cookie jar.
// One client serves one pipeline run; do not share across concurrent
// runs, the session and remoting tokens are stateful.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.BaseUrl == "" {
		opts.BaseUrl = DefaultBaseUrl
	}
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	client.SetTimeout(time.Second * 30)

	restyutil.InstrumentClient(client, tracer, restyInstrumentOutput)

	retry := opts.Retry
	if retry.Attempts == 0 {
		retry = retryutil.Default
	}

	return &Client{
		BaseUrl:  baseUrl,
		Http:     client,
		retry:    retry,
		username: opts.Username,
		password: opts.Password,
	}, nil
}

func (c *Client) Authenticated() bool {
	return c.authenticated
}

func (c *Client) origin() string {
	return c.BaseUrl.Scheme + "://" + c.BaseUrl.Host
}

// resolve turns a possibly-relative href into an absolute URL against the
// portal origin.
func (c *Client) resolve(ref string) string {
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return c.BaseUrl.ResolveReference(parsed).String()
}

// execute runs one request under the retry policy. Transport errors and
// 5xx responses are transient; anything else is the caller's to judge.
func (c *Client) execute(ctx context.Context, req *resty.Request, method, url string) (*resty.Response, error) {
	var res *resty.Response
	err := c.retry.Do(ctx, func() error {
		var err error
		res, err = req.Execute(method, url)
		if err != nil {
			return err
		}
		if res.StatusCode() >= 500 {
			return fmt.Errorf("portal returned status %d", res.StatusCode())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Login drives the multi-step handshake: fetch the login form, submit
// credentials merged with the form's hidden fields, follow the
// JavaScript redirects the portal emits in place of HTTP 3xx, then
// verify the session actually took.
func (c *Client) Login(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "client:Login")
	defer span.End()

	res, err := c.execute(ctx, c.Http.R().SetContext(ctx), resty.MethodGet, loginPath)
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch login page")
		return err
	}

	form, err := extractLoginForm(res.Body())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	fields := map[string]string{}
	for name, value := range form.Hidden {
		fields[name] = value
	}
	fields[usernameField] = c.username
	fields[passwordField] = c.password
	fields[submitField] = "Login"

	pageUrl := c.resolve(loginPath)
	action := pageUrl
	if form.Action != "" {
		action = c.resolve(form.Action)
	}

	res, err = c.execute(
		ctx,
		c.Http.R().
			SetContext(ctx).
			SetFormData(fields).
			SetHeader("Referer", pageUrl).
			SetHeader("Origin", c.origin()),
		resty.MethodPost, action,
	)
	if err != nil {
		span.SetStatus(codes.Error, "failed to submit credentials")
		return err
	}

	res, err = c.followJsRedirects(ctx, res)
	if err != nil {
		span.SetStatus(codes.Error, "failed to follow js redirects")
		return err
	}

	ok, err := c.verifySession(ctx)
	if err != nil {
		return err
	}
	if !ok {
		span.SetStatus(codes.Error, "redirected back to login")
		return &AuthError{Reason: "redirected back to login"}
	}

	c.authenticated = true
	return nil
}

// followJsRedirects chases `window.location = '...'` style navigation in
// response bodies, at most maxJsRedirects hops. Relative targets resolve
// against the portal origin.
func (c *Client) followJsRedirects(ctx context.Context, res *resty.Response) (*resty.Response, error) {
	for i := 0; i < maxJsRedirects; i++ {
		target := jsRedirectTarget(res.String())
		if target == "" {
			return res, nil
		}
		next := c.resolve(target)
		slog.DebugContext(ctx, "following js redirect", "hop", i+1, "to", next)

		var err error
		res, err = c.execute(
			ctx,
			c.Http.R().SetContext(ctx).SetHeader("Referer", res.Request.URL),
			resty.MethodGet, next,
		)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// verifySession reports whether the handshake produced a live session:
// either the Salesforce session cookie is set, or a probe of the
// meter-data page no longer serves the login form.
func (c *Client) verifySession(ctx context.Context) (bool, error) {
	for _, cookie := range c.Http.GetClient().Jar.Cookies(c.BaseUrl) {
		if cookie.Name == sessionCookieName && cookie.Value != "" {
			return true, nil
		}
	}

	res, err := c.execute(ctx, c.Http.R().SetContext(ctx), resty.MethodGet, meterDataPath)
	if err != nil {
		return false, err
	}
	return !hasLoginForm(res.Body()), nil
}

// FetchMeterDataPage loads the page whose inline script carries the
// remoting context for the given NMI. The context is page- and
// session-scoped, fetch it fresh every run.
func (c *Client) FetchMeterDataPage(ctx context.Context, nmi string) (string, error) {
	ctx, span := tracer.Start(ctx, "client:FetchMeterDataPage")
	defer span.End()

	res, err := c.execute(
		ctx,
		c.Http.R().SetContext(ctx).SetQueryParam("nmi", nmi),
		resty.MethodGet, meterDataPath,
	)
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch meter data page")
		return "", err
	}
	return res.String(), nil
}
