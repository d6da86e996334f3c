// Package gps converts between GPS seconds and calendar times.
package gps

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Epoch is the zero of GPS time.
var Epoch = time.Date(1980, time.January, 6, 0, 0, 0, 0, time.UTC)

// leapSeconds lists the UTC instants at which a leap second had just been
// inserted, since the GPS epoch.
var leapSeconds = []time.Time{
	time.Date(1981, time.July, 1, 0, 0, 0, 0, time.UTC),
	time.Date(1982, time.July, 1, 0, 0, 0, 0, time.UTC),
	time.Date(1983, time.July, 1, 0, 0, 0, 0, time.UTC),
	time.Date(1985, time.July, 1, 0, 0, 0, 0, time.UTC),
	time.Date(1988, time.January, 1, 0, 0, 0, 0, time.UTC),
	time.Date(1990, time.January, 1, 0, 0, 0, 0, time.UTC),
	time.Date(1991, time.January, 1, 0, 0, 0, 0, time.UTC),
	time.Date(1992, time.July, 1, 0, 0, 0, 0, time.UTC),
	time.Date(1993, time.July, 1, 0, 0, 0, 0, time.UTC),
	time.Date(1994, time.July, 1, 0, 0, 0, 0, time.UTC),
	time.Date(1996, time.January, 1, 0, 0, 0, 0, time.UTC),
	time.Date(1997, time.July, 1, 0, 0, 0, 0, time.UTC),
	time.Date(1999, time.January, 1, 0, 0, 0, 0, time.UTC),
	time.Date(2006, time.January, 1, 0, 0, 0, 0, time.UTC),
	time.Date(2009, time.January, 1, 0, 0, 0, 0, time.UTC),
	time.Date(2012, time.July, 1, 0, 0, 0, 0, time.UTC),
	time.Date(2015, time.July, 1, 0, 0, 0, 0, time.UTC),
	time.Date(2017, time.January, 1, 0, 0, 0, 0, time.UTC),
}

// layouts accepted by Parse, tried in order.
var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"Jan 2 2006 15:04:05",
	"Jan 2 2006",
}

// FromTime returns the GPS time of t.
func FromTime(t time.Time) float64 {
	t = t.UTC()
	leaps := 0
	for _, l := range leapSeconds {
		if !t.Before(l) {
			leaps++
		}
	}
	return t.Sub(Epoch).Seconds() + float64(leaps)
}

// ToTime returns the UTC time of a GPS time.
func ToTime(gps float64) time.Time {
	sec, frac := math.Modf(gps)
	t := Epoch.Add(time.Duration(sec)*time.Second + time.Duration(math.Round(frac*1e9)))
	for _, l := range leapSeconds {
		if !t.Add(-time.Second).Before(l) {
			t = t.Add(-time.Second)
		}
	}
	return t
}

// Parse accepts a GPS number, "now", or a UTC date string.
func Parse(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty GPS time")
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		if v < 0 {
			return 0, fmt.Errorf("GPS time %q is negative", s)
		}
		return v, nil
	}
	if strings.EqualFold(s, "now") {
		return FromTime(time.Now()), nil
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return FromTime(t), nil
		}
	}
	return 0, fmt.Errorf("unable to parse %q as GPS time or date", s)
}

// Round rounds gps to the given number of decimals.
func Round(gps float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(gps*p) / p
}

// Format renders gps the way it appears in titles and directory names:
// shortest representation, with at least one decimal.
func Format(gps float64) string {
	s := strconv.FormatFloat(gps, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
