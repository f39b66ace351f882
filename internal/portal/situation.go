package portal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"paulemploi-bot/internal/components/chrono"
)

// flexNumber accepts both JSON numbers and numeric strings ("31,25" included).
type flexNumber float64

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		err := json.Unmarshal(data, &s)
		if err != nil {
			return err
		}
		s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
		if s == "" {
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*n = flexNumber(f)
		return nil
	}
	var f float64
	err := json.Unmarshal(data, &f)
	if err != nil {
		return err
	}
	*n = flexNumber(f)
	return nil
}

// Situation is the claimant's situation document. Only the fields read by
// the bot are typed, Raw keeps the whole document.
type Situation struct {
	Indemnisation struct {
		DateDecheanceDroitAre      string     `json:"dateDecheanceDroitAre"`
		IndemnisationJournalierNet flexNumber `json:"indemnisationJournalierNet"`
	} `json:"indemnisation"`
	Actualisation struct {
		PeriodeCourante struct {
			Reference string `json:"reference"`
		} `json:"periodeCourante"`
		Service struct {
			URL string `json:"url"`
		} `json:"service"`
	} `json:"actualisation"`

	Raw json.RawMessage `json:"-"`
}

// ParseSituation decodes a situation document and keeps a copy of it in Raw.
func ParseSituation(raw []byte) (Situation, error) {
	var s Situation
	err := json.Unmarshal(raw, &s)
	if err != nil {
		return Situation{}, err
	}
	s.Raw = append(json.RawMessage(nil), raw...)
	return s, nil
}

// parsePortalDate reads the ISO timestamps the portal uses, with or without
// a time part.
func parsePortalDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty date")
	}
	layouts := []string{time.RFC3339, "2006-01-02T15:04:05.000-0700", "2006-01-02T15:04:05", "2006-01-02"}
	for _, layout := range layouts {
		t, err := time.ParseInLocation(layout, value, chrono.Paris())
		if err == nil {
			return t.In(chrono.Paris()), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}

// EntitlementEnd is the date the current benefit entitlement runs out.
func (s Situation) EntitlementEnd() (time.Time, error) {
	return parsePortalDate(s.Indemnisation.DateDecheanceDroitAre)
}

// DailyAllowance is the net daily benefit amount.
func (s Situation) DailyAllowance() float64 {
	return float64(s.Indemnisation.IndemnisationJournalierNet)
}

// PeriodReference is a date inside the period being declared.
func (s Situation) PeriodReference() (time.Time, error) {
	return parsePortalDate(s.Actualisation.PeriodeCourante.Reference)
}

// Indent returns the raw document pretty printed.
func (s Situation) Indent() ([]byte, error) {
	var out bytes.Buffer
	err := json.Indent(&out, s.Raw, "", "  ")
	if err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
