// Package history keeps a ledger of the declarations filed and the inbox
// mails forwarded, so that a rerun does not repeat either.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"paulemploi-bot/internal/components/assert"
	"paulemploi-bot/internal/components/chrono"
	"paulemploi-bot/internal/history/db"
	"paulemploi-bot/internal/portal"
)

const PeriodLayout = "2006-01"

type Store struct {
	db *sql.DB
}

func NewStore(database *sql.DB) Store {
	assert.NotNil(database)
	return Store{db: database}
}

// Open opens the sqlite database at `path` and creates its tables.
func Open(ctx context.Context, path string) (Store, error) {
	database, err := sql.Open("sqlite", path)
	if err != nil {
		return Store{}, err
	}
	_, err = database.ExecContext(ctx, db.Schema)
	if err != nil {
		database.Close()
		return Store{}, fmt.Errorf("create history schema: %w", err)
	}
	return NewStore(database), nil
}

func (s Store) Close() error {
	return s.db.Close()
}

func periodKey(period time.Time) string {
	return period.In(chrono.Paris()).Format(PeriodLayout)
}

type DeclarationRecord struct {
	Account string
	Period  time.Time
	FiledAt time.Time
	Summary string
}

// Declaration returns the declaration filed by `account` for the month of
// `period`, if any.
func (s Store) Declaration(ctx context.Context, account string, period time.Time) (DeclarationRecord, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		"select filedAt, summary from Declaration where account = ? and period = ?",
		account, periodKey(period),
	)
	var filedAt int64
	var summary string
	err := row.Scan(&filedAt, &summary)
	if errors.Is(err, sql.ErrNoRows) {
		return DeclarationRecord{}, false, nil
	}
	if err != nil {
		return DeclarationRecord{}, false, err
	}
	start, _ := chrono.MonthBounds(period.In(chrono.Paris()))
	return DeclarationRecord{
		Account: account,
		Period:  start,
		FiledAt: time.Unix(filedAt, 0).In(chrono.Paris()),
		Summary: summary,
	}, true, nil
}

// RecordDeclaration stores a filed declaration, replacing the previous one
// of the same period.
func (s Store) RecordDeclaration(ctx context.Context, record DeclarationRecord) error {
	_, err := s.db.ExecContext(
		ctx,
		`insert into Declaration(account, period, filedAt, summary) values (?, ?, ?, ?)
		on conflict (account, period) do update set filedAt = excluded.filedAt, summary = excluded.summary`,
		record.Account, periodKey(record.Period), record.FiledAt.Unix(), record.Summary,
	)
	return err
}

// Unforwarded filters `mails` down to the ones not forwarded yet for
// `account`, keeping their order.
func (s Store) Unforwarded(ctx context.Context, account string, mails []portal.Mail) ([]portal.Mail, error) {
	out := make([]portal.Mail, 0, len(mails))
	for _, mail := range mails {
		var count int
		err := s.db.QueryRowContext(
			ctx,
			"select count(*) from ForwardedMail where account = ? and link = ?",
			account, mail.Link,
		).Scan(&count)
		if err != nil {
			return nil, err
		}
		if count == 0 {
			out = append(out, mail)
		}
	}
	return out, nil
}

func (s Store) RecordForward(ctx context.Context, account string, mail portal.Mail, at time.Time) error {
	_, err := s.db.ExecContext(
		ctx,
		`insert into ForwardedMail(account, link, title, mailDate, forwardedAt) values (?, ?, ?, ?, ?)
		on conflict (account, link) do nothing`,
		account, mail.Link, mail.Title, mail.Date.Unix(), at.Unix(),
	)
	return err
}
