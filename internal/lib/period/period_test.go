package period

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDayWindow(t *testing.T) {
	now := time.Date(2026, 1, 30, 15, 4, 5, 0, time.UTC)

	start, end := DayWindow(now, 3)

	assert.Equal(t, time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 2, 2, 23, 59, 59, 999999999, time.UTC), end)
}

func TestTrialEnd(t *testing.T) {
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC), TrialEnd(start, 14*24*time.Hour))
}

func TestValidDate(t *testing.T) {
	zero := time.Time{}
	epoch := time.Unix(0, 0)
	good := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, ValidDate(nil))
	assert.False(t, ValidDate(&zero))
	assert.False(t, ValidDate(&epoch))
	assert.True(t, ValidDate(&good))
}

func TestDaysUntil(t *testing.T) {
	now := time.Date(2026, 4, 1, 23, 0, 0, 0, time.UTC)

	assert.Equal(t, 1, DaysUntil(now, time.Date(2026, 4, 2, 1, 0, 0, 0, time.UTC)))
	assert.Equal(t, 7, DaysUntil(now, time.Date(2026, 4, 8, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, 0, DaysUntil(now, now))
}
