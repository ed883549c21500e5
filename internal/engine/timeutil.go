package engine

import "time"

// startOfDay truncates t to the start of its calendar day in loc.
func startOfDay(loc *time.Location, t time.Time) time.Time {
	local := t.In(loc)
	year, month, day := local.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}

// startOfNextDay returns the first instant of the day after t in loc.
func startOfNextDay(loc *time.Location, t time.Time) time.Time {
	return startOfDay(loc, t).AddDate(0, 0, 1)
}

// startOfWeek truncates t to the start of its week in loc. Weeks open on
// Sunday.
func startOfWeek(loc *time.Location, t time.Time) time.Time {
	day := startOfDay(loc, t)
	return day.AddDate(0, 0, -int(day.Weekday()))
}
