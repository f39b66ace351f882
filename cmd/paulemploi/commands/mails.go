package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"
	"unicode"

	"paulemploi-bot/internal/mailer"
	"paulemploi-bot/internal/portal"
	"paulemploi-bot/lib/retry"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/text/unicode/norm"
)

var (
	allMails   bool
	mailsSince string
	noSend     bool
)

func init() {
	mailsCmd.Flags().BoolVar(&allMails, "all", false, "Forward every mail, not only the unread ones.")
	mailsCmd.Flags().StringVar(&mailsSince, "since", "", "Only forward the mails received after this date (JJ/MM/AAAA).")
	mailsCmd.Flags().BoolVarP(&noSend, "no-send", "n", false, "Print the mails instead of forwarding them.")
	rootCmd.AddCommand(mailsCmd)
}

var mailsCmd = &cobra.Command{
	Use:   "mails [--all] [--since JJ/MM/AAAA] [--no-send]",
	Short: "Forwards the new mails of the portal inbox.",
	Args:  cobra.NoArgs,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if mailsSince == "" {
			return nil
		}
		_, err := time.Parse(portal.DateLayout, mailsSince)
		if err != nil {
			return fmt.Errorf("--since must be a JJ/MM/AAAA date: %w", err)
		}
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		run(cmd, "mailmessages", forwardMails)
	},
}

// attachmentName turns a mail title into a lowercase ASCII pdf file name.
func attachmentName(title string) string {
	name := strings.ReplaceAll(strings.ToLower(title), " ", "_") + ".pdf"
	var out strings.Builder
	for _, r := range norm.NFD.String(name) {
		if r <= unicode.MaxASCII {
			out.WriteRune(r)
		}
	}
	return out.String()
}

func mailBody(mail portal.Mail) string {
	return fmt.Sprintf("Date: %s\nTitre: %s\n", mail.Date.Format(portal.DateLayout), mail.Title)
}

func printMails(mails []portal.Mail) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Date", "Title", "Channel", "Read", "File"})
	for _, mail := range mails {
		t.AppendRow(table.Row{
			mail.Date.Format(portal.DateLayout),
			mail.Title,
			mail.Channel,
			mail.Read,
			attachmentName(mail.Title),
		})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d messages to send", len(mails))})
	t.SetStyle(table.StyleRounded)
	t.Render()
}

type mailListing struct {
	client *portal.Client
	mails  []portal.Mail
}

// downloadMail fetches the PDF of `mail` with `client`, logging in again
// when the session expired between two mails. The client to use for the
// next mail is returned.
func downloadMail(ctx context.Context, a *app, client *portal.Client, mail portal.Mail) ([]byte, *portal.Client, error) {
	pdf, err := retry.WithRetry(ctx, a.policy, a.tel, "download-mail", func(ctx context.Context) ([]byte, error) {
		if client == nil {
			var err error
			client, err = a.connect(ctx)
			if err != nil {
				return nil, permanent(err)
			}
		}
		pdf, err := client.DownloadMail(ctx, mail.Link)
		if portal.IsSessionExpired(err) {
			client = nil
		}
		return pdf, flowPermanent(err)
	})
	return pdf, client, err
}

func forwardMails(ctx context.Context, a *app) error {
	filter := portal.MailFilter{All: allMails, Since: mailsSince}
	listing, err := withSession(ctx, a, "mails", func(ctx context.Context, client *portal.Client) (mailListing, error) {
		mails, err := client.Mails(ctx, filter)
		return mailListing{client: client, mails: mails}, err
	})
	if err != nil {
		return err
	}
	client, mails := listing.client, listing.mails
	sort.SliceStable(mails, func(i, j int) bool {
		return mails[i].Date.Before(mails[j].Date)
	})

	pending, err := a.history.Unforwarded(ctx, a.account.Username, mails)
	if err != nil {
		return err
	}
	if skipped := len(mails) - len(pending); skipped > 0 {
		slog.Info("skipping mails already forwarded", "count", skipped)
	}

	if noSend {
		printMails(pending)
		return nil
	}
	slog.Info("messages to send by email", "count", len(pending))

	for _, mail := range pending {
		var pdf []byte
		pdf, client, err = downloadMail(ctx, a, client, mail)
		if err != nil {
			return err
		}
		err = a.mailer.Send(ctx, a.account.Email, mail.Title, mailBody(mail), []mailer.Attachment{
			{Name: attachmentName(mail.Title), Content: pdf},
		})
		if err != nil {
			return err
		}
		err = a.history.RecordForward(ctx, a.account.Username, mail, a.time.Now())
		if err != nil {
			return err
		}
	}
	return nil
}
