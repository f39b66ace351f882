package portal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"paulemploi-bot/internal/components/chrono"
	"paulemploi-bot/lib/htmlutil"
)

const (
	report_client_mails         = "client.mails"
	report_client_download_mail = "client.download-mail"

	InboxPath = "dossier-de/echanges-avec-pe/courriers-recus-pe"

	// DateLayout is the dd/mm/yyyy format of the inbox.
	DateLayout = "02/01/2006"

	unreadClass = "courrierNonLu"
)

// Mail describes one row of the inbox listing.
type Mail struct {
	Date    time.Time
	Title   string
	Channel string
	Link    string
	Read    bool
}

// MailFilter narrows the inbox listing. Without All only unread mails are
// listed. Since is a dd/mm/yyyy date.
type MailFilter struct {
	All   bool
	Since string
}

var onlyDigits = regexp.MustCompile(`^[0-9]+$`)

// Mails lists the inbox in the order the portal pages it.
func (c *Client) Mails(ctx context.Context, filter MailFilter) ([]Mail, error) {
	mails, err := c.mails(ctx, filter)
	if err != nil {
		c.tel.ReportBroken(report_client_mails, err)
		return nil, err
	}
	c.tel.ReportCount(report_client_mails, int64(len(mails)))
	return mails, nil
}

func (c *Client) mails(ctx context.Context, filter MailFilter) ([]Mail, error) {
	t := c.s.t

	target, err := c.ServiceURL(ctx, InboxPath)
	if err != nil {
		return nil, err
	}
	doc, err := t.Page(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}

	// auto-validated form in front of the inbox
	form, err := firstForm(doc)
	if err != nil {
		return nil, err
	}
	values := url.Values{}
	for _, input := range form.SelectAll("input") {
		if name := input.AttrOr("name", ""); name != "" {
			values.Set(name, input.AttrOr("value", ""))
		}
	}
	doc, err = t.Submit(ctx, form, values)
	if err != nil {
		return nil, err
	}

	form, err = firstForm(doc)
	if err != nil {
		return nil, err
	}
	values, err = filterValues(form, filter)
	if err != nil {
		return nil, err
	}
	doc, err = t.Submit(ctx, form, values)
	if err != nil {
		return nil, err
	}

	return c.listing(ctx, doc)
}

// filterValues fills the inbox filter form. Radio groups submit their
// checked option, except the one of `#nonlu` which is forced to it when
// only unread mails are wanted.
func filterValues(form htmlutil.Form, filter MailFilter) (url.Values, error) {
	values := url.Values{}
	var radios []htmlutil.Node
	for _, input := range form.SelectAll("input") {
		name := input.AttrOr("name", "")
		if name == "" {
			continue
		}
		if htmlutil.InputType(input) == "radio" {
			radios = append(radios, input)
			continue
		}
		values.Set(name, input.AttrOr("value", ""))
	}

	for _, radio := range radios {
		if _, checked := radio.Attr("checked"); checked {
			values.Set(radio.AttrOr("name", ""), radio.AttrOr("value", ""))
		}
	}
	if !filter.All {
		unread, err := one(form.Node, "input#nonlu", "unread filter")
		if err != nil {
			return nil, err
		}
		values.Set(unread.AttrOr("name", ""), unread.AttrOr("value", "on"))
	}

	for _, sel := range form.SelectAll("select") {
		name := sel.AttrOr("name", "")
		if value, ok := htmlutil.SelectValue(sel); ok && name != "" {
			values.Set(name, value)
		}
	}

	if filter.Since != "" {
		values.Set("dateDebut", filter.Since)
	}
	return values, nil
}

// listing reads the listing table of `doc` and of every numbered page linked
// from its pagination, in link order. A page without table has no mail.
func (c *Client) listing(ctx context.Context, doc htmlutil.Document) ([]Mail, error) {
	if len(doc.SelectAll("table.listingPyjama")) == 0 {
		return []Mail{}, nil
	}

	var pages []string
	paginations := doc.SelectAll(".pagination")
	switch len(paginations) {
	case 0:
	case 1:
		for _, a := range paginations[0].Anchors(ctx, "a") {
			if onlyDigits.MatchString(a.Name) {
				pages = append(pages, a.Href)
			}
		}
	default:
		return nil, &MarkupError{What: "pagination", Count: len(paginations), Markup: doc.HTML()}
	}

	mails, err := listingRows(doc)
	if err != nil {
		return nil, err
	}
	for _, page := range pages {
		c.tel.ReportDebug("inbox page", page)
		doc, err = c.s.t.Page(ctx, http.MethodGet, page, nil)
		if err != nil {
			return nil, err
		}
		rows, err := listingRows(doc)
		if err != nil {
			return nil, err
		}
		mails = append(mails, rows...)
	}
	return mails, nil
}

func listingRows(doc htmlutil.Document) ([]Mail, error) {
	table, err := one(doc.Node, "table.listingPyjama", "mail listing")
	if err != nil {
		return nil, err
	}

	mails := []Mail{}
	for _, row := range table.SelectAll("tr") {
		if len(row.SelectAll("th")) > 0 {
			continue
		}

		cell := func(selector, what string) (htmlutil.Node, error) {
			return one(row, selector, what)
		}
		date, err := cell("td.date", "mail date")
		if err != nil {
			return nil, err
		}
		title, err := cell("td.avisPaie", "mail title")
		if err != nil {
			return nil, err
		}
		channel, err := cell("td.courrierPap", "mail channel")
		if err != nil {
			return nil, err
		}
		link, err := cell("td.Telechar a", "mail link")
		if err != nil {
			return nil, err
		}

		parsedDate, err := time.ParseInLocation(DateLayout, date.CleanText(), chrono.Paris())
		if err != nil {
			return nil, fmt.Errorf("mail date: %w", err)
		}
		href, err := link.URLAttr("href")
		if err != nil {
			return nil, err
		}

		mails = append(mails, Mail{
			Date:    parsedDate,
			Title:   title.CleanText(),
			Channel: channel.CleanText(),
			Link:    href,
			Read:    !row.HasClass(unreadClass),
		})
	}
	return mails, nil
}

// DownloadMail fetches the PDF embedded in the page at `link`.
func (c *Client) DownloadMail(ctx context.Context, link string) ([]byte, error) {
	pdf, err := c.downloadMail(ctx, link)
	if err != nil {
		c.tel.ReportBroken(report_client_download_mail, err, link)
		return nil, err
	}
	return pdf, nil
}

func (c *Client) downloadMail(ctx context.Context, link string) ([]byte, error) {
	doc, err := c.s.t.Page(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, err
	}
	frame, err := one(doc.Node, "iframe[src], object[data]", "embedded document")
	if err != nil {
		return nil, err
	}
	attr := "src"
	if frame.Tag() == "object" {
		attr = "data"
	}
	src, err := frame.URLAttr(attr)
	if err != nil {
		return nil, err
	}

	body, contentType, err := c.s.t.Download(ctx, src)
	if err != nil {
		return nil, err
	}
	if contentType != "application/pdf" {
		return nil, &DownloadFormatError{URL: src, ContentType: contentType}
	}
	return body, nil
}
