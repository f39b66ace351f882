package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"paulemploi-bot/internal/components/chrono"
	"paulemploi-bot/internal/history"
	"paulemploi-bot/internal/mailer"
	"paulemploi-bot/internal/portal"
	"paulemploi-bot/internal/worklog"

	"github.com/spf13/cobra"
)

var (
	workFile     string
	forceDeclare bool
)

func init() {
	declareCmd.Flags().StringVarP(&workFile, "work", "w", "", "The work log to read the hours of the period from.")
	declareCmd.Flags().BoolVar(&forceDeclare, "force", false, "Declare even if the history has this period as declared.")
	rootCmd.AddCommand(declareCmd)
}

var declareCmd = &cobra.Command{
	Use:   "declare [--work <worklog>] [--force]",
	Short: "Files the declaration of the current period and mails the receipt.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		run(cmd, "actualisation", declare)
	},
}

var frenchMonths = [...]string{
	"janvier", "février", "mars", "avril", "mai", "juin",
	"juillet", "août", "septembre", "octobre", "novembre", "décembre",
}

func answersFor(period time.Time) (portal.AnswerSet, error) {
	answers := portal.DefaultAnswers()
	if workFile == "" {
		slog.Debug("no work log to parse")
		return answers, nil
	}

	f, err := os.Open(workFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	totals, err := worklog.Parse(f, period)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", workFile, err)
	}
	return totals.Answers(answers), nil
}

// declarationReport is the body of the mail sent once the declaration is
// filed.
func declarationReport(declaration portal.Declaration, situation portal.Situation) (string, error) {
	period, err := situation.PeriodReference()
	if err != nil {
		return "", err
	}
	end, err := situation.EntitlementEnd()
	if err != nil {
		return "", err
	}
	estimate := situation.DailyAllowance() * float64(chrono.DaysIn(period))

	var body strings.Builder
	body.WriteString(declaration.Summary)
	body.WriteString("\n")
	fmt.Fprintf(&body, "Indemnisation prévue pour le mois de %s: %.2f€\n", frenchMonths[period.Month()-1], estimate)
	fmt.Fprintf(&body, "Droit au chômage jusqu'au: %s\n", end.Format(portal.DateLayout))
	return body.String(), nil
}

func declare(ctx context.Context, a *app) error {
	situation, err := withSession(ctx, a, "situation", func(ctx context.Context, client *portal.Client) (portal.Situation, error) {
		return client.Situation(ctx, true)
	})
	if err != nil {
		return err
	}
	period, err := situation.PeriodReference()
	if err != nil {
		return err
	}

	if !forceDeclare {
		record, found, err := a.history.Declaration(ctx, a.account.Username, period)
		if err != nil {
			return err
		}
		if found {
			slog.Info(
				"period already declared, use --force to declare again",
				"period", period.Format(history.PeriodLayout),
				"filed_at", record.FiledAt.Format(time.RFC3339),
			)
			return nil
		}
	}

	answers, err := answersFor(period)
	if err != nil {
		return err
	}
	declaration, err := withSession(ctx, a, "declare", func(ctx context.Context, client *portal.Client) (portal.Declaration, error) {
		return client.Declare(ctx, answers)
	})
	if err != nil {
		return err
	}
	err = a.history.RecordDeclaration(ctx, history.DeclarationRecord{
		Account: a.account.Username,
		Period:  period,
		FiledAt: a.time.Now(),
		Summary: declaration.Summary,
	})
	if err != nil {
		a.tel.ReportWarning(report_task, "failed to record the declaration", err)
	}

	body, err := declarationReport(declaration, situation)
	if err != nil {
		return err
	}
	situationJson, err := situation.Indent()
	if err != nil {
		return err
	}
	return a.mailer.Send(ctx, a.account.Email, "Actualisation", body, []mailer.Attachment{
		{Name: "situation.json", Content: situationJson},
		{Name: "declaration.pdf", Content: declaration.PDF},
	})
}
