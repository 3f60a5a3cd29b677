package features

import "time"

// Holiday is a nationwide German public holiday
type Holiday struct {
	Date time.Time // calendar day, UTC midnight
	Name string
}

// GermanHolidays returns the nationwide public holidays of a year.
// Regional holidays (Epiphany, Corpus Christi, ...) are not included.
func GermanHolidays(year int) []Holiday {
	easter := EasterSunday(year)
	fixed := func(m time.Month, d int) time.Time {
		return time.Date(year, m, d, 0, 0, 0, 0, time.UTC)
	}

	return []Holiday{
		{fixed(time.January, 1), "Neujahr"},
		{easter.AddDate(0, 0, -2), "Karfreitag"},
		{easter.AddDate(0, 0, 1), "Ostermontag"},
		{fixed(time.May, 1), "Tag der Arbeit"},
		{easter.AddDate(0, 0, 39), "Christi Himmelfahrt"},
		{easter.AddDate(0, 0, 50), "Pfingstmontag"},
		{fixed(time.October, 3), "Tag der Deutschen Einheit"},
		{fixed(time.December, 25), "1. Weihnachtstag"},
		{fixed(time.December, 26), "2. Weihnachtstag"},
	}
}

// EasterSunday computes Gregorian Easter (anonymous Gregorian algorithm)
func EasterSunday(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// holidayCalendar memoizes holidays per year
type holidayCalendar struct {
	years map[int]map[string]bool
}

func newHolidayCalendar() *holidayCalendar {
	return &holidayCalendar{years: make(map[int]map[string]bool)}
}

// isHoliday reports whether the local calendar day of t is a holiday
func (c *holidayCalendar) isHoliday(local time.Time) bool {
	year := local.Year()
	days, ok := c.years[year]
	if !ok {
		days = make(map[string]bool)
		for _, h := range GermanHolidays(year) {
			days[h.Date.Format("01-02")] = true
		}
		c.years[year] = days
	}
	return days[local.Format("01-02")]
}
