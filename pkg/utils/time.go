package utils

import "time"

// DayStartUTC возвращает начало UTC дня для t
func DayStartUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DayKey возвращает UTC день в формате 2006-01-02
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// LastNDaysStart возвращает начало UTC дня, отстоящего на n-1 дней от now.
// LastNDaysStart(1, now) == DayStartUTC(now).
func LastNDaysStart(n int, now time.Time) time.Time {
	if n < 1 {
		n = 1
	}
	return DayStartUTC(now).AddDate(0, 0, -(n - 1))
}

// FormatUptime форматирует длительность с точностью до секунды
func FormatUptime(d time.Duration) string {
	return d.Truncate(time.Second).String()
}
