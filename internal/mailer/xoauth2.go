package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	tokenCmdTimeout = 30 * time.Second
	// the command gives no expiry, the token is assumed valid for a while
	tokenLifetime = 10 * time.Minute
)

type commandTokenSource struct {
	cmd string
}

// CommandTokenSource returns a token source that runs `cmd` with `sh -c`
// and reads an access token from its trimmed output.
func CommandTokenSource(cmd string) oauth2.TokenSource {
	return commandTokenSource{cmd: cmd}
}

func (s commandTokenSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), tokenCmdTimeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "sh", "-c", s.cmd)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("oauth token command: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	token := strings.TrimSpace(string(out))
	if token == "" {
		return nil, errors.New("oauth token command printed nothing")
	}
	return &oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(tokenLifetime),
	}, nil
}

type xoauth2Auth struct {
	user   string
	tokens oauth2.TokenSource
}

// XOAuth2 implements the XOAUTH2 SASL mechanism with tokens from `tokens`.
func XOAuth2(user string, tokens oauth2.TokenSource) smtp.Auth {
	return xoauth2Auth{user: user, tokens: tokens}
}

func xoauth2Response(user, token string) []byte {
	return []byte("user=" + user + "\x01auth=Bearer " + token + "\x01\x01")
}

func isLocalhost(name string) bool {
	return name == "localhost" || name == "127.0.0.1" || name == "::1"
}

func (a xoauth2Auth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if !server.TLS && !isLocalhost(server.Name) {
		return "", nil, errors.New("unencrypted connection")
	}
	token, err := a.tokens.Token()
	if err != nil {
		return "", nil, err
	}
	return "XOAUTH2", xoauth2Response(a.user, token.AccessToken), nil
}

// Next answers the JSON error challenge with an empty response so that the
// server reports the failure.
func (a xoauth2Auth) Next(fromServer []byte, more bool) ([]byte, error) {
	if more {
		return []byte{}, nil
	}
	return nil, nil
}
