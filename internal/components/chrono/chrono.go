package chrono

import "time"

var paris *time.Location

func init() {
	var err error
	paris, err = time.LoadLocation("Europe/Paris")
	if err != nil {
		panic(err)
	}
}

// Paris returns a [*time.Location] for Europe/Paris, the portal's timezone.
func Paris() *time.Location {
	return paris
}

// TimeAPI is the interface that anything depending on the system clock should use.
type TimeAPI interface {
	// Now returns the current time in Europe/Paris.
	Now() time.Time
}

// StandardTime is the standard implementation of TimeAPI using the standard library.
type StandardTime struct{}

func NewStandardTime() StandardTime {
	return StandardTime{}
}

func (StandardTime) Now() time.Time {
	return time.Now().In(paris)
}

// FixedTime always returns the same instant, for tests.
type FixedTime time.Time

func (f FixedTime) Now() time.Time {
	return time.Time(f).In(paris)
}

// MonthBounds returns the first instant of the month containing `t` and the
// first instant of the following month, in t's location.
func MonthBounds(t time.Time) (start, end time.Time) {
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	end = start.AddDate(0, 1, 0)
	return start, end
}

// DaysIn returns the number of days of the month containing `t`.
func DaysIn(t time.Time) int {
	start, end := MonthBounds(t)
	return int(end.Sub(start).Hours()+12) / 24
}
