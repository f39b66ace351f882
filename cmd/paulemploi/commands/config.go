package commands

import (
	"fmt"

	"paulemploi-bot/internal/components/telemetry"
	"paulemploi-bot/internal/mailer"
	"paulemploi-bot/lib/configutil"
	"paulemploi-bot/lib/retry"
)

type PortalConfig struct {
	BaseURL           string              `json:"base_url"`
	UserAgent         string              `json:"user_agent"`
	RequestsPerSecond float64             `json:"requests_per_second"`
	CloudflareBypass  bool                `json:"cloudflare_bypass"`
	Timeout           configutil.Duration `json:"timeout"`
}

type Account struct {
	// Name is what --user selects, the portal username also works.
	Name     string `json:"name"`
	Username string `json:"username"`
	Password string `json:"password"`
	// Email receives the reports of this account.
	Email string `json:"email"`
}

type RetryConfig struct {
	MaxAttempts int                 `json:"max_attempts"`
	BaseDelay   configutil.Duration `json:"base_delay"`
	MaxDelay    configutil.Duration `json:"max_delay"`
	MaxElapsed  configutil.Duration `json:"max_elapsed"`
}

func (c RetryConfig) Policy() (retry.Policy, error) {
	policy := retry.DefaultPolicy()
	if c.MaxAttempts > 0 {
		policy.MaxAttempts = c.MaxAttempts
	}
	var err error
	policy.BaseDelay, err = c.BaseDelay.Parse(policy.BaseDelay)
	if err != nil {
		return retry.Policy{}, fmt.Errorf("retry.base_delay: %w", err)
	}
	policy.MaxDelay, err = c.MaxDelay.Parse(policy.MaxDelay)
	if err != nil {
		return retry.Policy{}, fmt.Errorf("retry.max_delay: %w", err)
	}
	policy.MaxElapsed, err = c.MaxElapsed.Parse(policy.MaxElapsed)
	if err != nil {
		return retry.Policy{}, fmt.Errorf("retry.max_elapsed: %w", err)
	}
	return policy, nil
}

type Config struct {
	Portal    PortalConfig     `json:"portal"`
	Smtp      mailer.Config    `json:"smtp"`
	Accounts  []Account        `json:"accounts"`
	Retry     RetryConfig      `json:"retry"`
	History   string           `json:"history"`
	Telemetry telemetry.Config `json:"telemetry"`
}

// Account returns the account called `name`, or the first one when `name`
// is empty.
func (c Config) Account(name string) (Account, error) {
	if len(c.Accounts) == 0 {
		return Account{}, fmt.Errorf("no account configured")
	}
	if name == "" {
		return c.Accounts[0], nil
	}
	for _, account := range c.Accounts {
		if account.Name == name || account.Username == name {
			return account, nil
		}
	}
	return Account{}, fmt.Errorf("no account named %q", name)
}

func (c Config) historyPath(override string) string {
	if override != "" {
		return override
	}
	if c.History != "" {
		return c.History
	}
	return "paulemploi.db"
}
