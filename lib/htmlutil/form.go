package htmlutil

import (
	"fmt"
	"net/url"
	"strings"
)

// Form is a `form` element with its resolved submission target.
type Form struct {
	Node
	Method string
	Action string
}

// AsForm reads the method and action of a `form` node. A missing action
// submits to the document URL, a missing method is GET.
func (n Node) AsForm() (Form, error) {
	if n.Tag() != "form" {
		return Form{}, fmt.Errorf("expected a <form>, got <%s>", n.Tag())
	}

	method := strings.ToUpper(strings.TrimSpace(n.AttrOr("method", "")))
	if method == "" {
		method = "GET"
	}

	action := n.base.String()
	if raw := strings.TrimSpace(n.AttrOr("action", "")); raw != "" {
		var err error
		action, err = n.URLAttr("action")
		if err != nil {
			return Form{}, err
		}
	}

	return Form{Node: n, Method: method, Action: action}, nil
}

// Forms returns every form of the document in document order.
func (d Document) Forms() ([]Form, error) {
	var out []Form
	for _, n := range d.SelectAll("form") {
		form, err := n.AsForm()
		if err != nil {
			return nil, err
		}
		out = append(out, form)
	}
	return out, nil
}

var ignoredInputTypes = map[string]bool{
	"submit": true,
	"image":  true,
	"reset":  true,
	"button": true,
	"file":   true,
}

// InputType is the lowercased type attribute of an input, "text" if absent.
func InputType(n Node) string {
	kind := strings.ToLower(strings.TrimSpace(n.AttrOr("type", "")))
	if kind == "" {
		return "text"
	}
	return kind
}

// Values returns the values the browser would submit without any user
// interaction: buttons are skipped, unchecked radios and checkboxes are
// skipped and a select contributes its selected (or first) option.
func (f Form) Values() url.Values {
	values := url.Values{}
	for _, field := range f.SelectAll("input, select, textarea") {
		name, ok := field.Attr("name")
		if !ok || name == "" {
			continue
		}
		if _, disabled := field.Attr("disabled"); disabled {
			continue
		}

		switch field.Tag() {
		case "textarea":
			values.Add(name, field.Text())
		case "select":
			value, ok := SelectValue(field)
			if ok {
				values.Add(name, value)
			}
		default:
			kind := InputType(field)
			if ignoredInputTypes[kind] {
				continue
			}
			if kind == "radio" || kind == "checkbox" {
				if _, checked := field.Attr("checked"); !checked {
					continue
				}
				values.Add(name, field.AttrOr("value", "on"))
				continue
			}
			values.Add(name, field.AttrOr("value", ""))
		}
	}
	return values
}

// SelectValue is the value a `select` submits: its selected option, or the
// first one when none is selected.
func SelectValue(sel Node) (string, bool) {
	options := sel.SelectAll("option")
	if len(options) == 0 {
		return "", false
	}
	chosen := options[0]
	for _, opt := range options {
		if _, selected := opt.Attr("selected"); selected {
			chosen = opt
			break
		}
	}
	if value, ok := chosen.Attr("value"); ok {
		return value, true
	}
	return strings.TrimSpace(chosen.Text()), true
}
