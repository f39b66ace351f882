package portal

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildAuthorizeURL(t *testing.T) {
	id := IdentityConfig{
		OpenAMUrl:   "https://authentification-candidat.francetravail.fr",
		RedirectUri: "https://candidat.francetravail.fr/espacepersonnel/",
		CommonRessource: CommonRessource{
			Realm:    "/individu",
			ClientId: "USERS_PE",
		},
		AuthorizeResource: AuthorizeResource{
			Url:          "/connexion/oauth2/authorize",
			Scope:        "openid profile",
			ResponseType: "id_token token",
		},
	}
	require.Equal(t,
		"https://authentification-candidat.francetravail.fr/connexion/oauth2/authorize"+
			"?realm=%2Findividu&response_type=id_token%20token&scope=openid%20profile&client_id=USERS_PE"+
			"&state=s1&nonce=n%26x"+
			"&redirect_uri=https%3A%2F%2Fcandidat.francetravail.fr%2Fespacepersonnel%2F",
		buildAuthorizeURL(id, "s1", "n&x"),
	)
}

func TestRealmOverride(t *testing.T) {
	cases := []struct {
		raw   string
		realm string
	}{
		{"https://idp.example.fr/connexion/XUI/?realm=/query#login/&realm=/fragment", "/fragment"},
		{"https://idp.example.fr/connexion/XUI/?realm=/query#login/", "/query"},
		{"https://idp.example.fr/connexion/XUI/?realm=/a&realm=/b", "/b"},
	}
	for _, c := range cases {
		u, err := url.Parse(c.raw)
		require.NoError(t, err)
		realm, err := realmOverride(u)
		require.NoError(t, err, c.raw)
		require.Equal(t, c.realm, realm, c.raw)
	}

	u, err := url.Parse("https://idp.example.fr/connexion/XUI/#login/")
	require.NoError(t, err)
	_, err = realmOverride(u)
	require.ErrorContains(t, err, "no realm")
}

func TestRealmAndJSONPath(t *testing.T) {
	require.Equal(t, "/realms/root/realms/individu", realmPath("/individu"))

	landing, err := url.Parse("https://idp.example.fr/connexion/XUI/?realm=/individu&goto=x")
	require.NoError(t, err)
	require.Equal(t, "/connexion/json", jsonPath(landing))

	require.Equal(t,
		"https://idp.example.fr/connexion/json/serverinfo/*?realm=%2Findividu",
		endpoint(landing, jsonPath(landing)+"/serverinfo/*", url.Values{"realm": {"/individu"}}),
	)
	require.Equal(t,
		"https://idp.example.fr/connexion/json/realms/root/realms/individu/authenticate?goto=a%20b&realm=%2Findividu",
		endpoint(landing, jsonPath(landing)+realmPath("/individu")+"/authenticate", url.Values{
			"realm": {"/individu"},
			"goto":  {"a b"},
		}),
	)
}

func TestFillCallback(t *testing.T) {
	form := map[string]any{
		"authId": "step1",
		"callbacks": []any{
			map[string]any{
				"type":   "NameCallback",
				"output": []any{map[string]any{"name": "prompt", "value": "Identifiant"}},
				"input":  []any{map[string]any{"name": "IDToken1", "value": ""}},
			},
		},
	}
	require.NoError(t, fillCallback(form, 0, fixtureUsername))

	cb := form["callbacks"].([]any)[0].(map[string]any)
	require.Equal(t, map[string]any{"name": "IDToken1", "value": fixtureUsername}, cb["input"].([]any)[0])
	require.Equal(t, "NameCallback", cb["type"])
	require.Equal(t, "step1", form["authId"])

	require.ErrorContains(t, fillCallback(form, 1, fixturePassword), "expected at least 2 callbacks, got 1")
	require.ErrorContains(t, fillCallback(map[string]any{}, 0, "x"), "has no callbacks")
}
