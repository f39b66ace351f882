package portal

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"paulemploi-bot/internal/components/assert"
	"paulemploi-bot/internal/components/telemetry"
	"paulemploi-bot/lib/htmlutil"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	DefaultBootstrapURL = "https://candidat.pole-emploi.fr/espacepersonnel/"
	DefaultUserAgent    = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"
)

// Options configures the HTTP side of a portal session.
type Options struct {
	// BootstrapURL is the page the handshake starts from.
	BootstrapURL string
	UserAgent    string
	// RequestsPerSecond limits the request rate, 0 means unlimited.
	RequestsPerSecond float64
	CloudflareBypass  bool
	Timeout           time.Duration

	Telemetry telemetry.API
	// Output receives every HTTP exchange when non-nil.
	Output telemetry.MessageOutput
}

func (o Options) withDefaults() Options {
	if o.BootstrapURL == "" {
		o.BootstrapURL = DefaultBootstrapURL
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.Timeout == 0 {
		o.Timeout = 30 * time.Second
	}
	return o
}

// transport turns every non-2xx response into a *TransportError and never
// retries on its own.
type transport struct {
	http *resty.Client
	jar  http.CookieJar
	tel  telemetry.API
}

func newTransport(opts Options) (*transport, error) {
	assert.NotNil(opts.Telemetry)

	httpClient := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	httpClient.SetCookieJar(jar)
	if opts.CloudflareBypass {
		httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)
	}

	httpClient.SetHeader("user-agent", opts.UserAgent)
	httpClient.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	httpClient.SetTimeout(opts.Timeout)

	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		rateLimiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
		httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return rateLimiter.Wait(req.Context())
		})
	}

	telemetry.InstrumentResty(httpClient, opts.Telemetry, opts.Output)

	return &transport{
		http: httpClient,
		jar:  jar,
		tel:  opts.Telemetry,
	}, nil
}

// Do sends a request, `form` is sent as the query string of GET requests and
// as an urlencoded body otherwise.
func (t *transport) Do(ctx context.Context, method, target string, form url.Values, headers map[string]string) (*resty.Response, error) {
	req := t.http.R().
		SetContext(ctx).
		SetHeaders(headers)
	if len(form) > 0 {
		if method == http.MethodGet {
			req.SetQueryParamsFromValues(form)
		} else {
			req.SetFormDataFromValues(form)
		}
	}

	res, err := req.Execute(method, target)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	if res.StatusCode() < 200 || res.StatusCode() >= 300 {
		return res, &TransportError{Method: method, URL: target, Status: res.StatusCode()}
	}
	return res, nil
}

// Post sends a raw body with the given headers.
func (t *transport) Post(ctx context.Context, target string, body any, headers map[string]string) (*resty.Response, error) {
	res, err := t.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(body).
		Post(target)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", target, err)
	}
	if res.StatusCode() < 200 || res.StatusCode() >= 300 {
		return res, &TransportError{Method: http.MethodPost, URL: target, Status: res.StatusCode()}
	}
	return res, nil
}

// finalURL is the URL of the last request of the redirect chain.
func finalURL(res *resty.Response) *url.URL {
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		return res.RawResponse.Request.URL
	}
	parsed, err := url.Parse(res.Request.URL)
	if err != nil {
		return &url.URL{}
	}
	return parsed
}

// Page fetches an HTML page, its links resolve against the final URL.
func (t *transport) Page(ctx context.Context, method, target string, form url.Values) (htmlutil.Document, error) {
	res, err := t.Do(ctx, method, target, form, nil)
	if err != nil {
		return htmlutil.Document{}, err
	}
	doc, err := htmlutil.Parse(res.Body(), finalURL(res))
	if err != nil {
		return htmlutil.Document{}, fmt.Errorf("parse %s: %w", target, err)
	}
	return doc, nil
}

// Submit posts `values` to `form` the way a browser would.
func (t *transport) Submit(ctx context.Context, form htmlutil.Form, values url.Values) (htmlutil.Document, error) {
	return t.Page(ctx, form.Method, form.Action, values)
}

// Download fetches raw bytes along with their content type.
func (t *transport) Download(ctx context.Context, target string) ([]byte, string, error) {
	res, err := t.Do(ctx, http.MethodGet, target, nil, nil)
	if err != nil {
		return nil, "", err
	}
	return res.Body(), res.Header().Get("Content-Type"), nil
}
