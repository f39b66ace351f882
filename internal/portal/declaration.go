package portal

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"paulemploi-bot/lib/htmlutil"
)

const (
	report_client_declare = "client.declare"

	DeclarationPath = "dossier-de/actualisation/m-actualiser"

	alreadyDeclaredBanner     = "Vous avez déjà déclaré votre situation pour cette période"
	actualisationFormSelector = "form[action*=actualisation]"
)

// Declaration is the outcome of a filed declaration.
type Declaration struct {
	// Summary is the receipt shown by the portal, one detail per line.
	Summary string
	PDF     []byte
}

// Declare files the declaration of the current period with `answers`.
//
// When the portal reports the period as already declared without offering
// to reopen it, Declare fails with *AlreadyDeclaredError before touching
// any question.
func (c *Client) Declare(ctx context.Context, answers AnswerSet) (Declaration, error) {
	declaration, err := c.declare(ctx, answers)
	if err != nil {
		c.tel.ReportBroken(report_client_declare, err)
		return Declaration{}, err
	}
	return declaration, nil
}

func (c *Client) declare(ctx context.Context, answers AnswerSet) (Declaration, error) {
	t := c.s.t

	target, err := c.ServiceURL(ctx, DeclarationPath)
	if err != nil {
		return Declaration{}, err
	}
	doc, err := t.Page(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Declaration{}, err
	}

	// the first page only holds a self-submitting form
	form, err := firstForm(doc)
	if err != nil {
		return Declaration{}, err
	}
	doc, err = t.Submit(ctx, form, form.Values())
	if err != nil {
		return Declaration{}, err
	}

	if strings.Contains(htmlutil.Normalize(doc.Text()), alreadyDeclaredBanner) {
		reopen := doc.SelectOne(actualisationFormSelector)
		if reopen.NotFound() {
			return Declaration{}, &AlreadyDeclaredError{}
		}
		c.tel.ReportWarning(report_client_declare, "period already declared, reopening it")
		form, err = oneForm(doc.Node, actualisationFormSelector, "reopening form")
		if err != nil {
			return Declaration{}, err
		}
		doc, err = t.Submit(ctx, form, form.Values())
		if err != nil {
			return Declaration{}, err
		}
	}

	form, err = oneForm(doc.Node, actualisationFormSelector, "actualisation form")
	if err != nil {
		return Declaration{}, err
	}
	_, err = one(form.Node, "fieldset", "fieldset")
	if err != nil {
		return Declaration{}, err
	}
	values := form.Values()
	values.Set("formation", AnswerNo)
	doc, err = t.Submit(ctx, form, values)
	if err != nil {
		return Declaration{}, err
	}

	form, err = oneForm(doc.Node, actualisationFormSelector, "question form")
	if err != nil {
		return Declaration{}, err
	}
	values, err = fillBlocks(form, answers, c.tel)
	if err != nil {
		return Declaration{}, err
	}
	doc, err = t.Submit(ctx, form, values)
	if err != nil {
		return Declaration{}, err
	}

	summary, err := declarationSummary(doc)
	if err != nil {
		return Declaration{}, err
	}
	c.tel.ReportDebug("declaration summary", summary)

	form, err = oneForm(doc.Node, actualisationFormSelector, "confirmation form")
	if err != nil {
		return Declaration{}, err
	}
	doc, err = t.Submit(ctx, form, form.Values())
	if err != nil {
		return Declaration{}, err
	}

	redirect, err := one(doc.Node, "#link-redirect > a", "link to the last page")
	if err != nil {
		return Declaration{}, err
	}
	href, err := redirect.URLAttr("href")
	if err != nil {
		return Declaration{}, err
	}
	doc, err = t.Page(ctx, http.MethodGet, href, nil)
	if err != nil {
		return Declaration{}, err
	}

	pdfLink, err := one(doc.Node, ".pdf-fat-link", "PDF link")
	if err != nil {
		return Declaration{}, err
	}
	href, err = pdfLink.URLAttr("href")
	if err != nil {
		return Declaration{}, err
	}
	pdf, _, err := t.Download(ctx, href)
	if err != nil {
		return Declaration{}, fmt.Errorf("download declaration: %w", err)
	}

	return Declaration{Summary: summary, PDF: pdf}, nil
}

// declarationSummary reads the header preceding `.form-result` and every
// item of its list.
func declarationSummary(doc htmlutil.Document) (string, error) {
	result, err := one(doc.Node, ".form-result", "declaration result")
	if err != nil {
		return "", err
	}
	header, ok := result.Prev()
	if !ok {
		return "", &MarkupError{What: "declaration result header", Count: 0, Markup: result.HTML()}
	}

	var summary strings.Builder
	summary.WriteString(header.CleanText())
	summary.WriteString("\n")
	for _, li := range result.SelectAll("ul > li") {
		summary.WriteString(li.CleanText())
		summary.WriteString("\n")
	}
	return summary.String(), nil
}
