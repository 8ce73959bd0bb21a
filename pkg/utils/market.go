package utils

import (
	"time"
)

// IndiaLocation is the timezone for Indian markets.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback to UTC+5:30
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// IsMarketOpen returns true if the equity market session is active
// (9:15 - 15:30 IST on weekdays).
func IsMarketOpen(now time.Time) bool {
	now = now.In(IndiaLocation)

	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return false
	}

	timeMinutes := now.Hour()*60 + now.Minute()
	return timeMinutes >= 555 && timeMinutes < 930
}

// NextMarketOpen returns the next market opening time after now.
func NextMarketOpen(now time.Time) time.Time {
	now = now.In(IndiaLocation)

	next := time.Date(now.Year(), now.Month(), now.Day(), 9, 15, 0, 0, IndiaLocation)
	if now.After(next) {
		next = next.AddDate(0, 0, 1)
	}

	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}

	return next
}
