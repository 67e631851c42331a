// Package period содержит вычисления календарных периодов:
// окна дней для напоминаний, окончание пробного периода и проверку дат на корректность.
package period

import "time"

// epochGuard даты не позже этой границы считаются мусором, появившимся
// из нулевых значений или Unix-эпохи.
var epochGuard = time.Unix(0, 0).UTC().Add(24 * time.Hour)

// DayWindow возвращает границы календарного дня [начало, конец], смещённого на
// offsetDays от now, в часовом поясе now.
func DayWindow(now time.Time, offsetDays int) (time.Time, time.Time) {
	day := now.AddDate(0, 0, offsetDays)
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1).Add(-time.Nanosecond)
	return start, end
}

// TrialEnd возвращает дату окончания пробного периода, начатого в start.
func TrialEnd(start time.Time, length time.Duration) time.Time {
	return start.Add(length)
}

// ValidDate сообщает, что дата задана и не похожа на значение по умолчанию.
// nil считается "не задана", а не некорректной датой.
func ValidDate(t *time.Time) bool {
	if t == nil {
		return true
	}
	return t.After(epochGuard)
}

// DaysUntil возвращает количество целых календарных дней от now до end.
func DaysUntil(now, end time.Time) int {
	startNow, _ := DayWindow(now, 0)
	startEnd, _ := DayWindow(end.In(now.Location()), 0)
	return int(startEnd.Sub(startNow).Hours() / 24)
}
