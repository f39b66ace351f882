// Package worklog reads the hours worked during a month from a plain text
// log with one `DATE HOURS RATE` entry per line.
package worklog

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"paulemploi-bot/internal/components/chrono"
	"paulemploi-bot/internal/portal"
)

const DateLayout = "2006-01-02"

var entryRegex = regexp.MustCompile(`^(\S+)\s+(\S+)\s+(\S+)`)

// Totals are the truncated sums of the entries of one month.
type Totals struct {
	Hours   int
	Revenue int
}

func (t Totals) Empty() bool {
	return t.Hours == 0 && t.Revenue == 0
}

// Answers returns `base` with the work questions answered from the totals.
// An empty month leaves `base` untouched.
func (t Totals) Answers(base portal.AnswerSet) portal.AnswerSet {
	if t.Empty() {
		return base
	}
	return base.WithWork(t.Hours, t.Revenue)
}

// LineError is a line that is neither blank, a comment nor an entry.
type LineError struct {
	Line int
	Text string
	Err  error
}

func (e *LineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("work log line %d (%q): %s", e.Line, e.Text, e.Err)
	}
	return fmt.Sprintf("ill-formatted work log line %d: %q", e.Line, e.Text)
}

func (e *LineError) Unwrap() error { return e.Err }

// Parse sums the entries of `r` dated within the month of `month`. Text
// after a `#` is a comment. Anything following the third field of an entry
// is ignored.
func Parse(r io.Reader, month time.Time) (Totals, error) {
	start, end := chrono.MonthBounds(month)
	slog.Debug("looking for work entries", "start", start.Format(DateLayout), "end", end.Format(DateLayout))

	var hours, revenue float64
	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line, _, _ := strings.Cut(scanner.Text(), "#")
		line = strings.TrimRight(line, " \t\r")
		if line == "" {
			continue
		}

		match := entryRegex.FindStringSubmatch(line)
		if match == nil {
			return Totals{}, &LineError{Line: lineno, Text: line}
		}
		date, err := time.ParseInLocation(DateLayout, match[1], month.Location())
		if err != nil {
			return Totals{}, &LineError{Line: lineno, Text: line, Err: err}
		}
		if date.Before(start) || !date.Before(end) {
			slog.Debug("work entry out of the month", "date", match[1])
			continue
		}

		h, err := strconv.ParseFloat(match[2], 64)
		if err != nil {
			return Totals{}, &LineError{Line: lineno, Text: line, Err: err}
		}
		rate, err := strconv.ParseFloat(match[3], 64)
		if err != nil {
			return Totals{}, &LineError{Line: lineno, Text: line, Err: err}
		}

		hours += h
		revenue += h * rate
		slog.Debug("work entry", "date", match[1], "hours", h, "revenue", h*rate)
	}
	if err := scanner.Err(); err != nil {
		return Totals{}, err
	}

	totals := Totals{Hours: int(hours), Revenue: int(revenue)}
	if !totals.Empty() {
		slog.Info("work found for the month", "hours", totals.Hours, "revenue", totals.Revenue)
	}
	return totals, nil
}
