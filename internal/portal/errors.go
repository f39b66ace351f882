package portal

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ConfigurationError means the bootstrap payload did not carry a usable
// client configuration.
type ConfigurationError struct {
	Block  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("configuration block %q %s", e.Block, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// AuthenticationError wraps the failure of one handshake step.
type AuthenticationError struct {
	Step string
	Err  error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed at %s: %s", e.Step, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// NavigationError means a navigation path level did not match exactly one node.
type NavigationError struct {
	Path  string
	Code  string
	Count int
}

func (e *NavigationError) Error() string {
	if e.Count == 0 {
		return fmt.Sprintf("navigation %q: no element with code %q", e.Path, e.Code)
	}
	return fmt.Sprintf("navigation %q: %d elements with code %q", e.Path, e.Count, e.Code)
}

// TransportError is a non-2xx response.
type TransportError struct {
	Method string
	URL    string
	Status int
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.Status, http.StatusText(e.Status))
}

// MarkupError means a page did not contain exactly one of something it must.
type MarkupError struct {
	What   string
	Count  int
	Markup string
}

func (e *MarkupError) Error() string {
	if e.Count == 0 {
		return fmt.Sprintf("no %s found\nPlease check the page yourself:\n%s", e.What, e.Markup)
	}
	return fmt.Sprintf("expected exactly one %s, found %d\nPlease check the page yourself:\n%s", e.What, e.Count, e.Markup)
}

// QuestionDriftError means the portal's wording no longer matches the
// expected question table. Answers are never guessed in that case.
type QuestionDriftError struct {
	Block    string
	Expected string
	Found    string
	Markup   string
}

func (e *QuestionDriftError) Error() string {
	if e.Expected == "" {
		return fmt.Sprintf("unknown question block %q (%q)\nPlease check the form yourself:\n%s", e.Block, e.Found, e.Markup)
	}
	return fmt.Sprintf("question changed for block %q: expected %q, found %q", e.Block, e.Expected, e.Found)
}

// AmbiguousBlockError means a question block did not have the shape the
// form engine relies on.
type AmbiguousBlockError struct {
	Block  string
	Reason string
	Markup string
}

func (e *AmbiguousBlockError) Error() string {
	return fmt.Sprintf("block %q: %s\nPlease check the form yourself:\n%s", e.Block, e.Reason, e.Markup)
}

// InvalidAnswerError means the answer is not one of the block's options.
type InvalidAnswerError struct {
	Block     string
	Question  string
	Answer    string
	Available []string
	Markup    string
}

func (e *InvalidAnswerError) Error() string {
	return fmt.Sprintf(
		"no input for question %q with value %q, possible values are [%s]\nPlease check the form yourself:\n%s",
		e.Question, e.Answer, strings.Join(e.Available, ", "), e.Markup,
	)
}

// MissingAnswerError means a visible block has no entry in the AnswerSet.
type MissingAnswerError struct {
	Block    string
	Question string
}

func (e *MissingAnswerError) Error() string {
	return fmt.Sprintf("no answer for block %q (%q)", e.Block, e.Question)
}

// UnsupportedNestingError means a revealed block would reveal another one.
type UnsupportedNestingError struct {
	Parent string
	Child  string
	Opens  string
}

func (e *UnsupportedNestingError) Error() string {
	return fmt.Sprintf(
		"question block %q opened block %q which would open a third level block %q, only two levels are supported",
		e.Parent, e.Child, e.Opens,
	)
}

// AlreadyDeclaredError means the declaration for the period was already
// filed and the portal offers no way to reopen it.
type AlreadyDeclaredError struct{}

func (e *AlreadyDeclaredError) Error() string {
	return "declaration already filed for this period and cannot be modified"
}

// DownloadFormatError means a mail download did not return a PDF.
type DownloadFormatError struct {
	URL         string
	ContentType string
}

func (e *DownloadFormatError) Error() string {
	return fmt.Sprintf("%s: expected application/pdf, got %q", e.URL, e.ContentType)
}

// IsSessionExpired reports whether err is the portal refusing the bearer
// token or the cookies of an established session. A new handshake may
// succeed where the session failed. Handshake failures are never an expired
// session.
func IsSessionExpired(err error) bool {
	var (
		authErr      *AuthenticationError
		transportErr *TransportError
	)
	if errors.As(err, &authErr) || !errors.As(err, &transportErr) {
		return false
	}
	return transportErr.Status == http.StatusUnauthorized || transportErr.Status == http.StatusForbidden
}

// IsPermanent reports whether retrying the operation that returned err is
// pointless or unsafe.
func IsPermanent(err error) bool {
	var (
		configErr    *ConfigurationError
		navErr       *NavigationError
		markupErr    *MarkupError
		driftErr     *QuestionDriftError
		ambiguousErr *AmbiguousBlockError
		invalidErr   *InvalidAnswerError
		missingErr   *MissingAnswerError
		nestingErr   *UnsupportedNestingError
		declaredErr  *AlreadyDeclaredError
		formatErr    *DownloadFormatError
		transportErr *TransportError
	)
	switch {
	case errors.As(err, &configErr),
		errors.As(err, &navErr),
		errors.As(err, &markupErr),
		errors.As(err, &driftErr),
		errors.As(err, &ambiguousErr),
		errors.As(err, &invalidErr),
		errors.As(err, &missingErr),
		errors.As(err, &nestingErr),
		errors.As(err, &declaredErr),
		errors.As(err, &formatErr):
		return true
	case errors.As(err, &transportErr):
		return transportErr.Status >= 400 && transportErr.Status < 500 &&
			transportErr.Status != http.StatusTooManyRequests &&
			transportErr.Status != http.StatusRequestTimeout
	}
	return false
}
