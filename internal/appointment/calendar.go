package appointment

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

const dateLayout = "2006-01-02"

// clockPattern is the accepted shape of an appointment time before range checks.
var clockPattern = regexp.MustCompile(`^\d{1,2}:\d{2}$`)

// Date is a calendar date without a time zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidFormat, s)
	}
	return DateOf(t), nil
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Time returns midnight UTC of d.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// Compare returns -1, 0 or +1 depending on whether d is before, equal to or after o.
func (d Date) Compare(o Date) int {
	switch {
	case d.Year != o.Year:
		return cmpInt(d.Year, o.Year)
	case d.Month != o.Month:
		return cmpInt(int(d.Month), int(o.Month))
	default:
		return cmpInt(d.Day, o.Day)
	}
}

func (d Date) IsZero() bool { return d == Date{} }

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ClockTime is a wall-clock time of day at whole-minute granularity.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime accepts H:MM or HH:MM on a 24-hour clock.
func ParseClockTime(s string) (ClockTime, error) {
	if !clockPattern.MatchString(s) {
		return ClockTime{}, fmt.Errorf("%w: time %q must be HH:MM", ErrInvalidFormat, s)
	}

	sep := len(s) - 3
	hour, _ := strconv.Atoi(s[:sep])
	minute, _ := strconv.Atoi(s[sep+1:])
	if hour > 23 || minute > 59 {
		return ClockTime{}, fmt.Errorf("%w: time %q is out of range", ErrInvalidFormat, s)
	}

	return ClockTime{Hour: hour, Minute: minute}, nil
}

// String renders the canonical zero-padded HH:MM form.
func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Minutes returns minutes since midnight.
func (c ClockTime) Minutes() int {
	return c.Hour*60 + c.Minute
}

func (c ClockTime) Compare(o ClockTime) int {
	return cmpInt(c.Minutes(), o.Minutes())
}

func (c ClockTime) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ClockTime) UnmarshalText(b []byte) error {
	parsed, err := ParseClockTime(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
