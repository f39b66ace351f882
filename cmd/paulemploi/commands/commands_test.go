package commands

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"paulemploi-bot/internal/components/chrono"
	"paulemploi-bot/internal/components/telemetry"
	"paulemploi-bot/internal/portal"
	"paulemploi-bot/lib/retry"

	"github.com/stretchr/testify/require"
)

func TestAttachmentName(t *testing.T) {
	cases := map[string]string{
		"Avis de paiement":            "avis_de_paiement.pdf",
		"Attestation employeur reçue": "attestation_employeur_recue.pdf",
		"Évolution de vos droits":     "evolution_de_vos_droits.pdf",
		"Rendez-vous à l'agence":      "rendez-vous_a_l'agence.pdf",
	}
	for title, expected := range cases {
		require.Equal(t, expected, attachmentName(title), title)
	}
}

func TestMailBody(t *testing.T) {
	body := mailBody(portal.Mail{
		Date:  time.Date(2024, 3, 5, 0, 0, 0, 0, chrono.Paris()),
		Title: "Avis de paiement",
	})
	require.Equal(t, "Date: 05/03/2024\nTitre: Avis de paiement\n", body)
}

func TestDeclarationReport(t *testing.T) {
	situation, err := portal.ParseSituation([]byte(`{
		"indemnisation": {"dateDecheanceDroitAre": "2025-03-31", "indemnisationJournalierNet": "31,25"},
		"actualisation": {"periodeCourante": {"reference": "2024-02-01T00:00:00+01:00"}}
	}`))
	require.NoError(t, err)

	body, err := declarationReport(portal.Declaration{Summary: "Récapitulatif\nrechercheBloc-choice : OUI\n"}, situation)
	require.NoError(t, err)
	require.Equal(t, "Récapitulatif\nrechercheBloc-choice : OUI\n\n"+
		"Indemnisation prévue pour le mois de février: 906.25€\n"+
		"Droit au chômage jusqu'au: 31/03/2025\n", body)

	_, err = declarationReport(portal.Declaration{}, portal.Situation{})
	require.Error(t, err)
}

func TestConfigAccount(t *testing.T) {
	cfg := Config{Accounts: []Account{
		{Name: "alice", Username: "1234567A"},
		{Name: "bob", Username: "7654321B"},
	}}

	account, err := cfg.Account("")
	require.NoError(t, err)
	require.Equal(t, "alice", account.Name)
	account, err = cfg.Account("bob")
	require.NoError(t, err)
	require.Equal(t, "7654321B", account.Username)
	account, err = cfg.Account("1234567A")
	require.NoError(t, err)
	require.Equal(t, "alice", account.Name)

	_, err = cfg.Account("carol")
	require.ErrorContains(t, err, `no account named "carol"`)
	_, err = Config{}.Account("")
	require.Error(t, err)

	require.Equal(t, "paulemploi.db", cfg.historyPath(""))
	require.Equal(t, "other.db", cfg.historyPath("other.db"))
}

func TestRetryConfigPolicy(t *testing.T) {
	policy, err := RetryConfig{MaxAttempts: 2, BaseDelay: "1s"}.Policy()
	require.NoError(t, err)
	require.Equal(t, 2, policy.MaxAttempts)
	require.Equal(t, time.Second, policy.BaseDelay)
	require.Equal(t, 5*time.Minute, policy.MaxDelay)

	_, err = RetryConfig{MaxDelay: "forever"}.Policy()
	require.ErrorContains(t, err, "retry.max_delay")
}

func TestPermanent(t *testing.T) {
	transient := errors.New("connection reset")
	require.Equal(t, transient, permanent(transient))
	require.NoError(t, permanent(nil))

	structural := &portal.AlreadyDeclaredError{}
	require.NotEqual(t, error(structural), permanent(structural))
	require.ErrorIs(t, permanent(structural), structural)
}

// sessionApp is an app whose sessions are recorded instead of opened.
func sessionApp(t *testing.T, loginErr error) (*app, *[]*portal.Client) {
	var sessions []*portal.Client
	a := &app{
		tel:    telemetry.NewTestAPI(t),
		policy: retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		connect: func(ctx context.Context) (*portal.Client, error) {
			if loginErr != nil {
				return nil, loginErr
			}
			client := &portal.Client{}
			sessions = append(sessions, client)
			return client, nil
		},
	}
	return a, &sessions
}

func TestWithSessionLogsInAgainAfterExpiry(t *testing.T) {
	a, sessions := sessionApp(t, nil)

	var used []*portal.Client
	declaration, err := withSession(context.Background(), a, "declare", func(ctx context.Context, client *portal.Client) (portal.Declaration, error) {
		used = append(used, client)
		if len(used) == 1 {
			return portal.Declaration{}, fmt.Errorf("fetch navigation: %w", &portal.TransportError{Status: 401})
		}
		return portal.Declaration{Summary: "ok"}, nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", declaration.Summary)
	require.Len(t, *sessions, 2)
	require.Len(t, used, 2)
	require.Same(t, (*sessions)[0], used[0])
	require.Same(t, (*sessions)[1], used[1])
	require.NotSame(t, used[0], used[1])
}

func TestWithSessionStopsOnPermanentFailure(t *testing.T) {
	a, sessions := sessionApp(t, nil)
	attempts := 0
	_, err := withSession(context.Background(), a, "declare", func(ctx context.Context, client *portal.Client) (portal.Declaration, error) {
		attempts++
		return portal.Declaration{}, &portal.AlreadyDeclaredError{}
	})
	var declared *portal.AlreadyDeclaredError
	require.ErrorAs(t, err, &declared)
	require.Equal(t, 1, attempts)
	require.Len(t, *sessions, 1)

	attempts = 0
	_, err = withSession(context.Background(), a, "mails", func(ctx context.Context, client *portal.Client) ([]portal.Mail, error) {
		attempts++
		return nil, &portal.TransportError{Status: 503}
	})
	require.Error(t, err)
	require.Equal(t, 3, attempts)
}

func TestWithSessionStopsOnRejectedCredentials(t *testing.T) {
	rejected := &portal.AuthenticationError{Step: "authenticate", Err: &portal.TransportError{Status: 401}}
	a, _ := sessionApp(t, rejected)
	called := false
	_, err := withSession(context.Background(), a, "situation", func(ctx context.Context, client *portal.Client) (portal.Situation, error) {
		called = true
		return portal.Situation{}, nil
	})
	require.ErrorIs(t, err, rejected)
	require.False(t, called)
}

func TestFlowPermanent(t *testing.T) {
	expired := &portal.TransportError{Status: 403}
	require.Equal(t, error(expired), flowPermanent(expired))
	require.NoError(t, flowPermanent(nil))

	missing := &portal.TransportError{Status: 404}
	require.NotEqual(t, error(missing), flowPermanent(missing))
	require.ErrorIs(t, flowPermanent(missing), missing)
}

func TestErrorReport(t *testing.T) {
	err := fmt.Errorf("fetch navigation: %w", &portal.NavigationError{Path: "a/b", Code: "b"})
	report := errorReport("actualisation", "run-1", Account{Name: "alice"}, err)
	require.Contains(t, report, `Exception caught while trying to run "actualisation".`)
	require.Contains(t, report, "Run: run-1\nAccount: alice\n")
	require.Contains(t, report, `fetch navigation: navigation "a/b": no element with code "b"`)
	require.Contains(t, report, "  *fmt.wrapError\n  *portal.NavigationError\n")
}
