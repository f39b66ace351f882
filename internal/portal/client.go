package portal

import (
	"context"
	"encoding/json"
	"fmt"

	"paulemploi-bot/internal/components/assert"
	"paulemploi-bot/internal/components/telemetry"
)

const (
	report_client_navigation = "client.navigation"
	report_client_situation  = "client.situation"
)

// Client drives the portal pages of an authenticated session. It caches the
// navigation tree and the situation document and must not be shared between
// goroutines.
type Client struct {
	s   *Session
	tel telemetry.API

	navigation *NavigationTree
	situation  *Situation
}

func NewClient(s *Session, tel telemetry.API) *Client {
	assert.NotNil(s)
	assert.NotNil(tel)
	return &Client{
		s:   s,
		tel: telemetry.NewScopedAPI("portal", tel),
	}
}

// Navigation returns the portal menu, fetched on first use or when `force`.
func (c *Client) Navigation(ctx context.Context, force bool) (NavigationTree, error) {
	if c.navigation != nil && !force {
		return *c.navigation, nil
	}

	target, err := c.s.Config.Layout.NavigationURL()
	if err != nil {
		c.tel.ReportBroken(report_client_navigation, err)
		return NavigationTree{}, err
	}
	var doc navigationDocument
	err = c.s.GetJSON(ctx, target, &doc)
	if err != nil {
		return NavigationTree{}, fmt.Errorf("fetch navigation: %w", err)
	}

	tree := newNavigationTree(doc)
	c.tel.ReportDebug("navigation", tree.Len())
	c.navigation = &tree
	return tree, nil
}

// ServiceURL resolves a slash separated path of navigation codes to the
// current URL of that service.
func (c *Client) ServiceURL(ctx context.Context, path string) (string, error) {
	tree, err := c.Navigation(ctx, false)
	if err != nil {
		return "", err
	}
	node, err := tree.Resolve(path)
	if err != nil {
		c.tel.ReportBroken(report_client_navigation, err)
		return "", err
	}
	if node.URL == "" {
		return "", fmt.Errorf("navigation %q has no url", path)
	}
	return node.URL, nil
}

// Situation returns the claimant's situation, fetched on first use or when
// `force`.
func (c *Client) Situation(ctx context.Context, force bool) (Situation, error) {
	if c.situation != nil && !force {
		return *c.situation, nil
	}

	target, err := c.s.Config.Rest.Lookup("ex002", "situationsUtilisateur")
	if err != nil {
		c.tel.ReportBroken(report_client_situation, err)
		return Situation{}, err
	}
	var raw json.RawMessage
	err = c.s.GetJSON(ctx, target, &raw)
	if err != nil {
		return Situation{}, fmt.Errorf("fetch situation: %w", err)
	}
	situation, err := ParseSituation(raw)
	if err != nil {
		err = fmt.Errorf("decode situation: %w", err)
		c.tel.ReportBroken(report_client_situation, err)
		return Situation{}, err
	}

	c.situation = &situation
	return situation, nil
}
