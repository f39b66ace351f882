package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"paulemploi-bot/internal/components/chrono"
	"paulemploi-bot/internal/components/telemetry"
	"paulemploi-bot/internal/history"
	"paulemploi-bot/internal/mailer"
	"paulemploi-bot/internal/portal"
	"paulemploi-bot/lib/configutil"
	"paulemploi-bot/lib/restyutil"
	"paulemploi-bot/lib/retry"
	"paulemploi-bot/lib/serviceutil"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const report_task = "task"

var (
	configPath  string
	user        string
	verbose     int
	quiet       int
	noErrorMail bool
	dumpHttp    string
	dbPath      string
)

var rootCmd = &cobra.Command{
	Use:   "paulemploi",
	Short: "paulemploi files the monthly declaration on the unemployment portal and forwards its inbox by mail.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		current = setup(cmd.Context())
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "config.json5", "The configuration file, merged with its .local variant.")
	flags.StringVarP(&user, "user", "u", "", "The configured account to use, defaults to the first one.")
	flags.CountVarP(&verbose, "verbose", "v", "Increase the console log level.")
	flags.CountVarP(&quiet, "quiet", "q", "Decrease the console log level.")
	flags.BoolVar(&noErrorMail, "no-error-mail", false, "Do not mail failures.")
	flags.StringVar(&dumpHttp, "dump-http", "", "Write every HTTP exchange to this directory.")
	flags.StringVar(&dbPath, "db", "", "The history database, overrides the configured one.")
}

func ExecuteContext(ctx context.Context) {
	err := rootCmd.ExecuteContext(ctx)
	if current != nil {
		current.close()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is what every command needs, built once from the flags and the
// configuration file.
type app struct {
	config   Config
	account  Account
	tel      telemetry.API
	debugLog *telemetry.DebugLog
	time     chrono.TimeAPI
	policy   retry.Policy
	portal   portal.Options
	mailer   mailer.Mailer
	history  history.Store
	runId    string

	// connect opens a new portal session, it is login outside of tests.
	connect         func(ctx context.Context) (*portal.Client, error)
	shutdownTracing func(context.Context) error
}

var current *app

func setup(ctx context.Context) *app {
	debugLog := telemetry.InitSlog(telemetry.VerbosityLevel(verbose - quiet))
	tel := telemetry.SlogAPI{}

	cfg, err := configutil.ReadConfig[Config](configPath)
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}
	account, err := cfg.Account(user)
	if err != nil {
		serviceutil.Fatal("failed to select account", err)
	}
	slog.Info("using account", "name", account.Name, "username", account.Username)

	policy, err := cfg.Retry.Policy()
	if err != nil {
		serviceutil.Fatal("invalid retry config", err)
	}
	timeout, err := cfg.Portal.Timeout.Parse(0)
	if err != nil {
		serviceutil.Fatal("invalid portal timeout", err)
	}
	opts := portal.Options{
		BootstrapURL:      cfg.Portal.BaseURL,
		UserAgent:         cfg.Portal.UserAgent,
		RequestsPerSecond: cfg.Portal.RequestsPerSecond,
		CloudflareBypass:  cfg.Portal.CloudflareBypass,
		Timeout:           timeout,
		Telemetry:         tel,
	}
	if dumpHttp != "" {
		output, err := restyutil.NewFilesystemOutput(dumpHttp)
		if err != nil {
			serviceutil.Fatal("failed to prepare http dump directory", err)
		}
		opts.Output = output
	}

	sender, err := mailer.NewMailer(cfg.Smtp, tel)
	if err != nil {
		serviceutil.Fatal("invalid smtp config", err)
	}
	store, err := history.Open(ctx, cfg.historyPath(dbPath))
	if err != nil {
		serviceutil.Fatal("failed to open history", err)
	}

	shutdown, err := telemetry.SetupTracing(ctx, "paulemploi", cfg.Telemetry)
	if err != nil {
		slog.Warn("tracing disabled", "err", err.Error())
	}

	a := &app{
		config:          cfg,
		account:         account,
		tel:             tel,
		debugLog:        debugLog,
		time:            chrono.NewStandardTime(),
		policy:          policy,
		portal:          opts,
		mailer:          sender,
		history:         store,
		runId:           uuid.NewString(),
		shutdownTracing: shutdown,
	}
	a.connect = a.login
	return a
}

func (a *app) close() {
	err := a.shutdownTracing(context.Background())
	if err != nil {
		slog.Warn("failed to flush traces", "err", err.Error())
	}
	err = a.history.Close()
	if err != nil {
		slog.Warn("failed to close history", "err", err.Error())
	}
}

// permanent marks the portal failures that a retry cannot fix.
func permanent(err error) error {
	if err != nil && portal.IsPermanent(err) {
		return retry.Permanent(err)
	}
	return err
}

// flowPermanent is permanent for a flow that starts over with a new
// session: an expired session is worth another attempt there.
func flowPermanent(err error) error {
	if portal.IsSessionExpired(err) {
		return err
	}
	return permanent(err)
}

// withSession retries `op` from scratch, logging in again before every
// attempt since tokens and form nonces are only good for one.
func withSession[T any](ctx context.Context, a *app, name string, op func(ctx context.Context, client *portal.Client) (T, error)) (T, error) {
	return retry.WithRetry(ctx, a.policy, a.tel, name, func(ctx context.Context) (T, error) {
		client, err := a.connect(ctx)
		if err != nil {
			var zero T
			return zero, permanent(err)
		}
		res, err := op(ctx, client)
		return res, flowPermanent(err)
	})
}

func (a *app) login(ctx context.Context) (*portal.Client, error) {
	session, err := portal.Login(ctx, a.portal, portal.Credentials{
		Username: a.account.Username,
		Password: a.account.Password,
	})
	if err != nil {
		return nil, err
	}
	return portal.NewClient(session, a.tel), nil
}

// run executes `fn` and, unless interrupted, mails its failure before
// exiting.
func run(cmd *cobra.Command, task string, fn func(ctx context.Context, a *app) error) {
	ctx := cmd.Context()
	a := current

	err := fn(ctx, a)
	if err == nil {
		return
	}
	if serviceutil.Interrupted(ctx) {
		slog.Warn("interrupted", "task", task)
		a.close()
		os.Exit(130)
	}

	a.tel.ReportBroken(report_task, task, err)
	if !noErrorMail {
		to := a.config.Smtp.User
		if to == "" {
			to = a.account.Email
		}
		mailErr := a.mailer.Error(context.WithoutCancel(ctx), to, errorReport(task, a.runId, a.account, err), []mailer.Attachment{
			{Name: "debug.log", Content: a.debugLog.Bytes()},
		})
		if mailErr != nil {
			slog.Error("failed to mail the error report", "err", mailErr.Error())
		}
	}
	a.close()
	serviceutil.Fatal(task+" failed", err)
}

// errorReport describes a failure along with every error it wraps.
func errorReport(task, runId string, account Account, err error) string {
	var out strings.Builder
	fmt.Fprintf(&out, "Exception caught while trying to run %q.\n\n", task)
	fmt.Fprintf(&out, "Run: %s\nAccount: %s\n\n", runId, account.Name)
	out.WriteString(err.Error())
	out.WriteString("\n\nError chain:\n")
	for e := err; e != nil; e = errors.Unwrap(e) {
		fmt.Fprintf(&out, "  %T\n", e)
	}
	return out.String()
}
