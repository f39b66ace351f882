package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"paulemploi-bot/internal/components/telemetry"
	"paulemploi-bot/lib/htmlutil"

	"github.com/mazen160/go-random"
	"golang.org/x/oauth2"
)

const (
	report_login = "login"

	step_bootstrap    = "bootstrap"
	step_authorize    = "authorize"
	step_server_info  = "server-info"
	step_authenticate = "authenticate"
	step_token_cookie = "token-cookie"
	step_access_token = "access-token"
)

// Credentials of the claimant on the identity provider.
type Credentials struct {
	Username string
	Password string
}

var authenticateHeaders = map[string]string{
	"Accept-API-Version": "protocol=1.0,resource=2.0",
	"X-Password":         "anonymous",
	"X-Username":         "anonymous",
	"X-NoSession":        "true",
	"Content-Type":       "application/json",
}

type handshake struct {
	t   *transport
	tel telemetry.API
}

// Login runs the whole identity handshake and returns an authenticated
// session. It has no side effect on the portal and may be retried wholesale.
func Login(ctx context.Context, opts Options, creds Credentials) (*Session, error) {
	opts = opts.withDefaults()
	t, err := newTransport(opts)
	if err != nil {
		return nil, err
	}
	h := handshake{t: t, tel: telemetry.NewScopedAPI("portal", opts.Telemetry)}

	session, err := h.run(ctx, opts.BootstrapURL, creds)
	if err != nil {
		h.tel.ReportBroken(report_login, err)
		return nil, err
	}
	return session, nil
}

func fail(step string, err error) error {
	return &AuthenticationError{Step: step, Err: err}
}

func (h handshake) run(ctx context.Context, bootstrapURL string, creds Credentials) (*Session, error) {
	cfg, err := h.bootstrap(ctx, bootstrapURL)
	if err != nil {
		return nil, fail(step_bootstrap, err)
	}

	state, err := random.String(16)
	if err != nil {
		return nil, fail(step_authorize, err)
	}
	nonce, err := random.String(16)
	if err != nil {
		return nil, fail(step_authorize, err)
	}
	authorizeURL := buildAuthorizeURL(cfg.Identity, state, nonce)
	h.tel.ReportDebug("authorize", authorizeURL)

	res, err := h.t.Do(ctx, http.MethodGet, authorizeURL, nil, nil)
	if err != nil {
		return nil, fail(step_authorize, err)
	}
	landing := finalURL(res)
	realm, err := realmOverride(landing)
	if err != nil {
		return nil, fail(step_authorize, err)
	}

	cookie, err := h.cookieDescriptor(ctx, landing, realm)
	if err != nil {
		return nil, fail(step_server_info, err)
	}

	result, err := h.authenticate(ctx, landing, realm, creds)
	if err != nil {
		return nil, fail(step_authenticate, err)
	}

	err = h.installCookie(cookie, result.TokenId)
	if err != nil {
		return nil, fail(step_token_cookie, err)
	}

	res, err = h.t.Do(ctx, http.MethodGet, result.SuccessUrl, nil, nil)
	if err != nil {
		return nil, fail(step_access_token, err)
	}
	fragment, err := url.ParseQuery(finalURL(res).Fragment)
	if err != nil {
		return nil, fail(step_access_token, err)
	}
	accessToken := lastValue(fragment, "access_token")
	if accessToken == "" {
		return nil, fail(step_access_token, errors.New("no access_token in final redirect fragment"))
	}

	return &Session{
		t:      h.t,
		tel:    h.tel,
		Config: cfg,
		token: &oauth2.Token{
			AccessToken: accessToken,
			TokenType:   "Bearer",
		},
	}, nil
}

// bootstrap fetches the client configuration, either directly as JSON or
// through the main script referenced by the bootstrap page.
func (h handshake) bootstrap(ctx context.Context, bootstrapURL string) (PortalConfig, error) {
	res, err := h.t.Do(ctx, http.MethodGet, bootstrapURL, nil, nil)
	if err != nil {
		return PortalConfig{}, err
	}
	if strings.Contains(res.Header().Get("Content-Type"), "json") {
		return ExtractConfig(res.Body())
	}

	doc, err := htmlutil.Parse(res.Body(), finalURL(res))
	if err != nil {
		return PortalConfig{}, err
	}
	script, err := doc.SelectOne(`script[src*="/main."][src$=".js"]`).Unwrap("main script")
	if err != nil {
		return PortalConfig{}, err
	}
	src, err := script.URLAttr("src")
	if err != nil {
		return PortalConfig{}, err
	}
	res, err = h.t.Do(ctx, http.MethodGet, src, nil, nil)
	if err != nil {
		return PortalConfig{}, err
	}
	return ExtractConfig(res.Body())
}

// buildAuthorizeURL keeps the parameter order of the portal's web client and
// encodes spaces as %20.
func buildAuthorizeURL(id IdentityConfig, state, nonce string) string {
	params := []struct{ key, value string }{
		{"realm", id.CommonRessource.Realm},
		{"response_type", id.AuthorizeResource.ResponseType},
		{"scope", id.AuthorizeResource.Scope},
		{"client_id", id.CommonRessource.ClientId},
		{"state", state},
		{"nonce", nonce},
		{"redirect_uri", id.RedirectUri},
	}
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = p.key + "=" + strings.ReplaceAll(url.QueryEscape(p.value), "+", "%20")
	}
	return id.OpenAMUrl + id.AuthorizeResource.Url + "?" + strings.Join(parts, "&")
}

func lastValue(values url.Values, key string) string {
	v := values[key]
	if len(v) == 0 {
		return ""
	}
	return v[len(v)-1]
}

// realmOverride reads the realm from the fragment, falling back to the query.
func realmOverride(u *url.URL) (string, error) {
	fragment, err := url.ParseQuery(u.Fragment)
	if err == nil {
		if realm := lastValue(fragment, "realm"); realm != "" {
			return realm, nil
		}
	}
	if realm := lastValue(u.Query(), "realm"); realm != "" {
		return realm, nil
	}
	return "", fmt.Errorf("no realm in %s", u.Redacted())
}

// realmPath turns "/individu" into "/realms/root/realms/individu".
func realmPath(realm string) string {
	if strings.HasPrefix(realm, "/") {
		realm = "/root" + realm
	}
	return strings.ReplaceAll(realm, "/", "/realms/")
}

// jsonPath is the landing path without its last segment, plus "/json".
func jsonPath(u *url.URL) string {
	path := strings.TrimRight(u.Path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[:i]
	}
	return path + "/json"
}

func endpoint(landing *url.URL, path string, query url.Values) string {
	// RawPath keeps the "*" of the server info endpoint unescaped
	out := url.URL{
		Scheme:   landing.Scheme,
		Host:     landing.Host,
		Path:     path,
		RawPath:  path,
		RawQuery: strings.ReplaceAll(query.Encode(), "+", "%20"),
	}
	return out.String()
}

type cookieDescriptor struct {
	Name    string   `json:"cookieName"`
	Domains []string `json:"domains"`
	Secure  bool     `json:"secureCookie"`
}

func (h handshake) cookieDescriptor(ctx context.Context, landing *url.URL, realm string) (cookieDescriptor, error) {
	target := endpoint(landing, jsonPath(landing)+"/serverinfo/*", url.Values{"realm": {realm}})
	res, err := h.t.Do(ctx, http.MethodGet, target, nil, nil)
	if err != nil {
		return cookieDescriptor{}, err
	}
	var desc cookieDescriptor
	err = json.Unmarshal(res.Body(), &desc)
	if err != nil {
		return cookieDescriptor{}, fmt.Errorf("decode server info: %w", err)
	}
	if desc.Name == "" || len(desc.Domains) == 0 {
		return cookieDescriptor{}, errors.New("server info has no cookie name or domains")
	}
	return desc, nil
}

type authenticateResult struct {
	TokenId    string `json:"tokenId"`
	SuccessUrl string `json:"successUrl"`
}

// fillCallback sets the first input of the callback at `index`, the rest of
// the form is posted back untouched.
func fillCallback(form map[string]any, index int, value string) error {
	callbacks, ok := form["callbacks"].([]any)
	if !ok {
		return errors.New("callback form has no callbacks")
	}
	if len(callbacks) <= index {
		return fmt.Errorf("expected at least %d callbacks, got %d", index+1, len(callbacks))
	}
	cb, ok := callbacks[index].(map[string]any)
	if !ok {
		return fmt.Errorf("callback %d is not an object", index)
	}
	inputs, ok := cb["input"].([]any)
	if !ok || len(inputs) == 0 {
		return fmt.Errorf("callback %d has no input", index)
	}
	input, ok := inputs[0].(map[string]any)
	if !ok {
		return fmt.Errorf("callback %d input is not an object", index)
	}
	input["value"] = value
	return nil
}

func (h handshake) authenticate(ctx context.Context, landing *url.URL, realm string, creds Credentials) (authenticateResult, error) {
	query := landing.Query()
	query.Set("realm", realm)
	target := endpoint(landing, jsonPath(landing)+realmPath(realm)+"/authenticate", query)

	post := func(body any) ([]byte, error) {
		res, err := h.t.Post(ctx, target, body, authenticateHeaders)
		if err != nil {
			return nil, err
		}
		return res.Body(), nil
	}

	body, err := post(nil)
	if err != nil {
		return authenticateResult{}, err
	}

	// username first, then password
	for i, value := range []string{creds.Username, creds.Password} {
		var form map[string]any
		err = json.Unmarshal(body, &form)
		if err != nil {
			return authenticateResult{}, fmt.Errorf("decode callback form: %w", err)
		}
		err = fillCallback(form, i, value)
		if err != nil {
			return authenticateResult{}, err
		}
		body, err = post(form)
		if err != nil {
			return authenticateResult{}, err
		}
	}

	var result authenticateResult
	err = json.Unmarshal(body, &result)
	if err != nil {
		return authenticateResult{}, fmt.Errorf("decode authenticate result: %w", err)
	}
	if result.TokenId == "" || result.SuccessUrl == "" {
		return authenticateResult{}, errors.New("authenticate result has no tokenId or successUrl")
	}
	return result, nil
}

func (h handshake) installCookie(desc cookieDescriptor, tokenId string) error {
	scheme := "http"
	if desc.Secure {
		scheme = "https"
	}
	for _, domain := range desc.Domains {
		host := strings.TrimPrefix(domain, ".")
		if host == "" {
			return fmt.Errorf("invalid cookie domain %q", domain)
		}
		h.t.jar.SetCookies(&url.URL{Scheme: scheme, Host: host, Path: "/"}, []*http.Cookie{{
			Name:   desc.Name,
			Value:  tokenId,
			Domain: domain,
			Path:   "/",
			Secure: desc.Secure,
		}})
	}
	return nil
}
