// Package timeparse converts fuzzy natural-language date and time phrases
// into concrete civil dates and wall-clock times under a tenant timezone.
// It is the single home for utterance date/time heuristics; callers must not
// duplicate them.
package timeparse

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrUnrecognized is returned when the phrase contains no usable date or time.
var ErrUnrecognized = errors.New("timeparse: unrecognized phrase")

// WallTime is a parsed clock time without a date.
type WallTime struct {
	Hour   int
	Minute int
}

var (
	timePattern    = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*(a\.m\.|p\.m\.|am\b|pm\b)`)
	clockPattern   = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)
	isoPattern     = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	slashPattern   = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{2,4}))?\b`)
	monthPattern   = regexp.MustCompile(`\b(jan|january|feb|february|mar|march|apr|april|may|jun|june|jul|july|aug|august|sep|sept|september|oct|october|nov|november|dec|december)\.?\s+(\d{1,2})(?:st|nd|rd|th)?\b`)
	ordinalPattern = regexp.MustCompile(`\bthe\s+(\d{1,2})(?:st|nd|rd|th)\b`)
)

var monthsByPrefix = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

type weekdayName struct {
	name string
	day  time.Weekday
}

// Ordered so multi-weekday utterances resolve deterministically.
var weekdayNames = []weekdayName{
	{"sunday", time.Sunday}, {"monday", time.Monday}, {"tuesday", time.Tuesday},
	{"wednesday", time.Wednesday}, {"thursday", time.Thursday},
	{"friday", time.Friday}, {"saturday", time.Saturday},
}

// ParseDate extracts a civil date from the phrase relative to now in loc.
// The result is midnight of the resolved date in loc. Dates in the past
// resolve forward: a bare weekday or day-of-month means the next occurrence.
func ParseDate(text string, now time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	normalized := normalize(text)
	today := midnight(now.In(loc))

	switch {
	case strings.Contains(normalized, "day after tomorrow"):
		return today.AddDate(0, 0, 2), nil
	case strings.Contains(normalized, "tomorrow"):
		return today.AddDate(0, 0, 1), nil
	case strings.Contains(normalized, "today") || strings.Contains(normalized, "tonight"):
		return today, nil
	}

	if m := isoPattern.FindStringSubmatch(normalized); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		return validDate(year, time.Month(month), day, loc)
	}

	if m := monthPattern.FindStringSubmatch(normalized); m != nil {
		month := monthsByPrefix[m[1][:3]]
		day, _ := strconv.Atoi(m[2])
		date, err := validDate(today.Year(), month, day, loc)
		if err != nil {
			return time.Time{}, err
		}
		if date.Before(today) {
			date = date.AddDate(1, 0, 0)
		}
		return date, nil
	}

	if m := slashPattern.FindStringSubmatch(normalized); m != nil {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		year := today.Year()
		if m[3] != "" {
			year, _ = strconv.Atoi(m[3])
			if year < 100 {
				year += 2000
			}
		}
		date, err := validDate(year, time.Month(month), day, loc)
		if err != nil {
			return time.Time{}, err
		}
		if m[3] == "" && date.Before(today) {
			date = date.AddDate(1, 0, 0)
		}
		return date, nil
	}

	for _, entry := range weekdayNames {
		if !containsWord(normalized, entry.name) && !containsWord(normalized, entry.name[:3]) {
			continue
		}
		days := int(entry.day-today.Weekday()+7) % 7
		if days == 0 && !strings.Contains(normalized, "this "+entry.name) {
			// A bare weekday matching today means the next occurrence.
			days = 7
		}
		return today.AddDate(0, 0, days), nil
	}

	if m := ordinalPattern.FindStringSubmatch(normalized); m != nil {
		day, _ := strconv.Atoi(m[1])
		date, err := validDate(today.Year(), today.Month(), day, loc)
		if err != nil {
			return time.Time{}, err
		}
		if date.Before(today) {
			date = date.AddDate(0, 1, 0)
		}
		return date, nil
	}

	return time.Time{}, ErrUnrecognized
}

// ParseTime extracts a wall-clock time from the phrase.
func ParseTime(text string) (WallTime, error) {
	normalized := normalize(text)

	switch {
	case containsWord(normalized, "noon") || strings.Contains(normalized, "midday"):
		return WallTime{Hour: 12}, nil
	case containsWord(normalized, "midnight"):
		return WallTime{}, nil
	}

	if m := timePattern.FindStringSubmatch(normalized); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if hour < 1 || hour > 12 || minute > 59 {
			return WallTime{}, ErrUnrecognized
		}
		meridiem := strings.ReplaceAll(m[3], ".", "")
		if meridiem == "pm" && hour != 12 {
			hour += 12
		}
		if meridiem == "am" && hour == 12 {
			hour = 0
		}
		return WallTime{Hour: hour, Minute: minute}, nil
	}

	if m := clockPattern.FindStringSubmatch(normalized); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		return WallTime{Hour: hour, Minute: minute}, nil
	}

	return WallTime{}, ErrUnrecognized
}

// ParseDateTime extracts both a date and a time from one utterance, reporting
// which halves were present. The returned instant is the civil combination
// resolved through loc.
func ParseDateTime(text string, now time.Time, loc *time.Location) (at time.Time, hasDate, hasTime bool) {
	if loc == nil {
		loc = time.UTC
	}

	date, dateErr := ParseDate(text, now, loc)
	wall, timeErr := ParseTime(text)
	hasDate = dateErr == nil
	hasTime = timeErr == nil

	switch {
	case hasDate && hasTime:
		at = time.Date(date.Year(), date.Month(), date.Day(), wall.Hour, wall.Minute, 0, 0, loc)
	case hasDate:
		at = date
	case hasTime:
		today := now.In(loc)
		at = time.Date(today.Year(), today.Month(), today.Day(), wall.Hour, wall.Minute, 0, 0, loc)
	}
	return at, hasDate, hasTime
}

func validDate(year int, month time.Month, day int, loc *time.Location) (time.Time, error) {
	if month < time.January || month > time.December || day < 1 || day > 31 {
		return time.Time{}, ErrUnrecognized
	}
	date := time.Date(year, month, day, 0, 0, 0, 0, loc)
	if date.Day() != day || date.Month() != month {
		return time.Time{}, ErrUnrecognized
	}
	return date, nil
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

func containsWord(text, word string) bool {
	index := 0
	for {
		found := strings.Index(text[index:], word)
		if found < 0 {
			return false
		}
		start := index + found
		end := start + len(word)
		beforeOK := start == 0 || !isAlnum(text[start-1])
		afterOK := end == len(text) || !isAlnum(text[end])
		if beforeOK && afterOK {
			return true
		}
		index = start + 1
	}
}

func isAlnum(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b >= 'A' && b <= 'Z'
}
