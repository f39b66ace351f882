package portal

import (
	"errors"
	"net/url"
	"regexp"
	"strings"

	"paulemploi-bot/internal/components/telemetry"
	"paulemploi-bot/lib/htmlutil"
)

type BlockKind int

const (
	KindText BlockKind = iota
	KindChoice
)

func (k BlockKind) String() string {
	if k == KindChoice {
		return "choice"
	}
	return "text"
}

// BlockInput is one input of a question block. Opens is the id of the block
// revealed when this option is selected.
type BlockInput struct {
	Name  string
	Value string
	ID    string
	Opens string
}

// QuestionBlock is a question of the declaration form, read from the page
// and checked against Questions.
type QuestionBlock struct {
	ID       string
	Question string
	Kind     BlockKind
	Inputs   []BlockInput

	markup string
}

const (
	visibleBlocksSelector = "div:not(.hide) > fieldset:not([id]) > div.form-line:not(.js-hide)"
	childBlocksSelector   = "div.form-line"
	jsOpenClass           = "js-open"
	openSuffix            = "-open"
)

var trailingHelp = regexp.MustCompile(`\s*Aide$`)

// questionText is the first line of a block label without the trailing
// "Aide" of its help toggle. Spacing inside the line is kept so that a
// rewording in whitespace alone still counts as drift.
func questionText(label htmlutil.Node) string {
	text, _, _ := strings.Cut(strings.TrimSpace(label.Text()), "\n")
	text = trailingHelp.ReplaceAllString(strings.TrimSpace(text), "")
	return strings.TrimSpace(text)
}

// one turns a lookup that did not match exactly once into a *MarkupError
// carrying the markup it was searched in.
func one(scope htmlutil.Node, selector, what string) (htmlutil.Node, error) {
	node, err := scope.SelectOne(selector).Unwrap(what)
	if err != nil {
		var countErr *htmlutil.CountError
		if errors.As(err, &countErr) {
			return htmlutil.Node{}, &MarkupError{What: what, Count: countErr.Count, Markup: scope.HTML()}
		}
		return htmlutil.Node{}, err
	}
	return node, nil
}

func oneForm(scope htmlutil.Node, selector, what string) (htmlutil.Form, error) {
	node, err := one(scope, selector, what)
	if err != nil {
		return htmlutil.Form{}, err
	}
	return node.AsForm()
}

func firstForm(doc htmlutil.Document) (htmlutil.Form, error) {
	forms, err := doc.Forms()
	if err != nil {
		return htmlutil.Form{}, err
	}
	if len(forms) == 0 {
		return htmlutil.Form{}, &MarkupError{What: "form", Count: 0, Markup: doc.HTML()}
	}
	return forms[0], nil
}

// readBlock reads a question block and checks its wording. Nothing about the
// answers is looked at before the wording is known to be the expected one.
func readBlock(node htmlutil.Node) (QuestionBlock, error) {
	block := QuestionBlock{ID: node.ID(), markup: node.HTML()}

	labels := node.SelectAll(".label > .list-title")
	if len(labels) == 0 {
		labels = node.SelectAll(".label > label")
	}
	label, err := htmlutil.One(labels).Unwrap("question label")
	if err != nil {
		return QuestionBlock{}, &AmbiguousBlockError{Block: block.ID, Reason: err.Error(), Markup: block.markup}
	}
	block.Question = questionText(label)

	expected, known := Questions[block.ID]
	if !known {
		return QuestionBlock{}, &QuestionDriftError{Block: block.ID, Found: block.Question, Markup: block.markup}
	}
	if expected != block.Question {
		return QuestionBlock{}, &QuestionDriftError{Block: block.ID, Expected: expected, Found: block.Question, Markup: block.markup}
	}

	inputs := node.SelectAll("input")
	names := map[string]bool{}
	for _, input := range inputs {
		names[input.AttrOr("name", "")] = true
	}
	switch {
	case len(inputs) == 0:
		return QuestionBlock{}, &AmbiguousBlockError{Block: block.ID, Reason: "no input", Markup: block.markup}
	case len(names) > 1:
		return QuestionBlock{}, &AmbiguousBlockError{Block: block.ID, Reason: "several input names", Markup: block.markup}
	}

	switch kind := htmlutil.InputType(inputs[0]); kind {
	case "text":
		block.Kind = KindText
	case "radio":
		block.Kind = KindChoice
	default:
		return QuestionBlock{}, &MarkupError{What: "text or radio input (got " + kind + ")", Count: 0, Markup: block.markup}
	}

	for _, input := range inputs {
		in := BlockInput{
			Name:  input.AttrOr("name", ""),
			Value: input.AttrOr("value", ""),
			ID:    input.ID(),
		}
		if input.HasClass(jsOpenClass) && strings.HasSuffix(in.ID, openSuffix) {
			in.Opens = strings.TrimSuffix(in.ID, openSuffix)
		}
		block.Inputs = append(block.Inputs, in)
	}
	return block, nil
}

// Answer picks the field to submit for the block. `opens` is the id of the
// block revealed by the chosen option, if any.
func (b QuestionBlock) Answer(answers AnswerSet) (name, value, opens string, err error) {
	value, ok := answers[b.ID]
	if !ok {
		return "", "", "", &MissingAnswerError{Block: b.ID, Question: b.Question}
	}
	if b.Kind == KindText {
		return b.Inputs[0].Name, value, "", nil
	}

	var matches []BlockInput
	for _, in := range b.Inputs {
		if in.Value == value {
			matches = append(matches, in)
		}
	}
	switch len(matches) {
	case 0:
		available := make([]string, len(b.Inputs))
		for i, in := range b.Inputs {
			available[i] = in.Value
		}
		return "", "", "", &InvalidAnswerError{
			Block:     b.ID,
			Question:  b.Question,
			Answer:    value,
			Available: available,
			Markup:    b.markup,
		}
	case 1:
		return matches[0].Name, value, matches[0].Opens, nil
	default:
		return "", "", "", &AmbiguousBlockError{
			Block:  b.ID,
			Reason: "several inputs with value " + value,
			Markup: b.markup,
		}
	}
}

// fillBlocks answers every visible question block of `form`, plus the
// blocks revealed by the chosen answers, and returns the values to submit.
func fillBlocks(form htmlutil.Form, answers AnswerSet, tel telemetry.API) (url.Values, error) {
	values := form.Values()

	fill := func(node htmlutil.Node) (string, error) {
		block, err := readBlock(node)
		if err != nil {
			return "", err
		}
		name, value, opens, err := block.Answer(answers)
		if err != nil {
			return "", err
		}
		tel.ReportDebug("answer", block.ID, block.Question, value)
		values.Set(name, value)
		return opens, nil
	}

	for _, node := range form.SelectAll(visibleBlocksSelector) {
		opens, err := fill(node)
		if err != nil {
			return nil, err
		}
		if opens == "" {
			continue
		}

		tel.ReportDebug("block opens", node.ID(), opens)
		revealed, err := one(form.Node, "#"+opens, "block "+opens)
		if err != nil {
			return nil, err
		}
		for _, child := range revealed.SelectAll(childBlocksSelector) {
			deeper, err := fill(child)
			if err != nil {
				return nil, err
			}
			if deeper != "" {
				return nil, &UnsupportedNestingError{Parent: node.ID(), Child: opens, Opens: deeper}
			}
		}
	}
	return values, nil
}
