package portal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/titanous/json5"
)

const (
	block_peam   = "peam"
	block_rest   = "rest"
	block_layout = "layout"
)

type CommonRessource struct {
	Realm    string `json:"realm"`
	ClientId string `json:"clientId"`
}

type AuthorizeResource struct {
	Url          string `json:"url"`
	Scope        string `json:"scope"`
	ResponseType string `json:"responseType"`
}

// IdentityConfig holds the identity provider parameters of the portal's
// web client.
type IdentityConfig struct {
	OpenAMUrl         string            `json:"openAMUrl"`
	RedirectUri       string            `json:"redirectUri"`
	CommonRessource   CommonRessource   `json:"commonRessource"`
	AuthorizeResource AuthorizeResource `json:"authorizeResource"`
}

func (c IdentityConfig) validate() error {
	missing := func(field string) error {
		return &ConfigurationError{Block: block_peam, Reason: "is missing " + field}
	}
	switch {
	case c.OpenAMUrl == "":
		return missing("openAMUrl")
	case c.AuthorizeResource.Url == "":
		return missing("authorizeResource.url")
	case c.CommonRessource.ClientId == "":
		return missing("commonRessource.clientId")
	case c.CommonRessource.Realm == "":
		return missing("commonRessource.realm")
	}
	return nil
}

// EndpointTable maps REST groups (ex002, ...) to named endpoint URLs.
type EndpointTable map[string]map[string]any

func (t EndpointTable) Lookup(group, key string) (string, error) {
	g, ok := t[group]
	if !ok {
		return "", &ConfigurationError{Block: block_rest, Reason: fmt.Sprintf("has no group %q", group)}
	}
	value, ok := g[key].(string)
	if !ok || value == "" {
		return "", &ConfigurationError{Block: block_rest, Reason: fmt.Sprintf("has no endpoint %s.%s", group, key)}
	}
	return value, nil
}

// Layout is the free-form layout descriptor, only the navigation endpoint is
// read from it.
type Layout map[string]any

// NavigationURL returns layout.rest.ex017.uri + layout.rest.ex017.navigation.
func (l Layout) NavigationURL() (string, error) {
	var node any = map[string]any(l)
	for _, key := range []string{"rest", "ex017"} {
		m, ok := node.(map[string]any)
		if !ok {
			return "", &ConfigurationError{Block: block_layout, Reason: "has no rest.ex017 entry"}
		}
		node = m[key]
	}
	ex017, ok := node.(map[string]any)
	if !ok {
		return "", &ConfigurationError{Block: block_layout, Reason: "has no rest.ex017 entry"}
	}
	uri, _ := ex017["uri"].(string)
	navigation, _ := ex017["navigation"].(string)
	if uri == "" || navigation == "" {
		return "", &ConfigurationError{Block: block_layout, Reason: "has no rest.ex017 navigation endpoint"}
	}
	return uri + navigation, nil
}

// PortalConfig is everything recovered from the bootstrap payload.
type PortalConfig struct {
	Identity IdentityConfig
	Rest     EndpointTable
	Layout   Layout
}

// ExtractConfig reads the portal configuration either from the strict JSON
// payload or from the object literals embedded in the legacy main script.
func ExtractConfig(payload []byte) (PortalConfig, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return extractJSON(trimmed)
	}
	return extractScript(payload)
}

func extractJSON(payload []byte) (PortalConfig, error) {
	var blocks map[string]json.RawMessage
	err := json.Unmarshal(payload, &blocks)
	if err != nil {
		return PortalConfig{}, &ConfigurationError{Block: "payload", Reason: "is not valid JSON", Err: err}
	}

	var cfg PortalConfig
	targets := []struct {
		name string
		out  any
	}{
		{block_peam, &cfg.Identity},
		{block_rest, &cfg.Rest},
		{block_layout, &cfg.Layout},
	}
	for _, t := range targets {
		raw, ok := blocks[t.name]
		if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return PortalConfig{}, &ConfigurationError{Block: t.name, Reason: "is absent"}
		}
		err = json.Unmarshal(raw, t.out)
		if err != nil {
			return PortalConfig{}, &ConfigurationError{Block: t.name, Reason: "is malformed", Err: err}
		}
	}
	return cfg, cfg.Identity.validate()
}

type literalSpan struct {
	key        string
	start, end int
}

func findLiteral(script []byte, key string) ([]literalSpan, error) {
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(key) + `\s*:\s*\{`)
	var spans []literalSpan
	for _, loc := range re.FindAllIndex(script, -1) {
		open := loc[1] - 1
		end, err := balancedObject(script, open)
		if err != nil {
			return nil, &ConfigurationError{Block: key, Reason: "is malformed", Err: err}
		}
		spans = append(spans, literalSpan{key: key, start: open, end: end})
	}
	return spans, nil
}

func extractScript(script []byte) (PortalConfig, error) {
	keys := []string{block_peam, block_rest, block_layout}
	var all []literalSpan
	for _, key := range keys {
		spans, err := findLiteral(script, key)
		if err != nil {
			return PortalConfig{}, err
		}
		all = append(all, spans...)
	}

	// `rest:{` also appears inside the layout literal, only literals that are
	// not nested in another one count.
	topLevel := map[string][]literalSpan{}
	for _, s := range all {
		nested := false
		for _, other := range all {
			if other != s && other.start < s.start && s.end <= other.end {
				nested = true
				break
			}
		}
		if !nested {
			topLevel[s.key] = append(topLevel[s.key], s)
		}
	}

	var cfg PortalConfig
	outs := map[string]any{
		block_peam:   &cfg.Identity,
		block_rest:   &cfg.Rest,
		block_layout: &cfg.Layout,
	}
	for _, key := range keys {
		spans := topLevel[key]
		switch {
		case len(spans) == 0:
			return PortalConfig{}, &ConfigurationError{Block: key, Reason: "is absent"}
		case len(spans) > 1:
			return PortalConfig{}, &ConfigurationError{Block: key, Reason: fmt.Sprintf("is duplicated (%d occurrences)", len(spans))}
		}
		literal := script[spans[0].start:spans[0].end]
		err := json5.Unmarshal(literal, outs[key])
		if err != nil {
			return PortalConfig{}, &ConfigurationError{Block: key, Reason: "is malformed", Err: err}
		}
	}
	return cfg, cfg.Identity.validate()
}

// balancedObject returns the index right after the brace closing the one at
// `open`. Braces inside string literals are ignored.
func balancedObject(src []byte, open int) (int, error) {
	depth := 0
	var quote byte
	escaped := false
	for i := open; i < len(src); i++ {
		c := src[i]
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, nil
			}
		}
	}
	return 0, fmt.Errorf("unbalanced braces starting at offset %d", open)
}
