package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"paulemploi-bot/internal/components/telemetry"

	"golang.org/x/oauth2"
)

const report_session_get_json = "session.get-json"

var errNoToken = errors.New("session has no valid access token")

// Session is an authenticated portal session. Only Login creates one.
type Session struct {
	t     *transport
	tel   telemetry.API
	token *oauth2.Token

	Config PortalConfig
}

// Token returns the bearer token obtained at the end of the handshake.
func (s *Session) Token() *oauth2.Token {
	return s.token
}

// GetJSON fetches `target` with the bearer token and decodes it into `out`.
func (s *Session) GetJSON(ctx context.Context, target string, out any) error {
	if s == nil || !s.token.Valid() {
		return errNoToken
	}
	headers := map[string]string{
		"Accept":             "application/json, text/plain, */*",
		"pe-nom-application": "pn073-tdbcandidat",
		"Authorization":      s.token.Type() + " " + s.token.AccessToken,
	}
	res, err := s.t.Do(ctx, http.MethodGet, target, nil, headers)
	if err != nil {
		s.tel.ReportBroken(report_session_get_json, err)
		return err
	}
	err = json.Unmarshal(res.Body(), out)
	if err != nil {
		err = fmt.Errorf("decode %s: %w", target, err)
		s.tel.ReportBroken(report_session_get_json, err)
		return err
	}
	return nil
}
