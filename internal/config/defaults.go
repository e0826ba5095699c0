package config

import (
	"fmt"
	"time"

	"github.com/johnayoung/go-kline-archiver/internal/models"
)

// ArchiveDefaults is the resolved, read-only default period enumeration handed to the
// fetchers. Accessors return copies so callers cannot mutate shared state.
type ArchiveDefaults struct {
	startDate       time.Time
	endDate         time.Time
	periodStartDate time.Time
	years           []int
	months          []int
	intervals       []string
	dailyIntervals  []string
}

// Resolve turns the serialised defaults into ArchiveDefaults, using now for an empty
// end date and the current year.
func (d DefaultsConfig) Resolve(now time.Time) (ArchiveDefaults, error) {
	now = now.UTC()

	start, err := time.Parse(models.DateLayout, d.StartDate)
	if err != nil {
		return ArchiveDefaults{}, fmt.Errorf("start_date %q: %w", d.StartDate, err)
	}

	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if d.EndDate != "" {
		if end, err = time.Parse(models.DateLayout, d.EndDate); err != nil {
			return ArchiveDefaults{}, fmt.Errorf("end_date %q: %w", d.EndDate, err)
		}
	}
	if start.After(end) {
		return ArchiveDefaults{}, fmt.Errorf("start_date %s is after end_date %s", d.StartDate, end.Format(models.DateLayout))
	}

	periodStart, err := time.Parse(models.DateLayout, d.PeriodStartDate)
	if err != nil {
		return ArchiveDefaults{}, fmt.Errorf("period_start_date %q: %w", d.PeriodStartDate, err)
	}

	if d.StartYear <= 0 || d.StartYear > end.Year() {
		return ArchiveDefaults{}, fmt.Errorf("start_year %d must be between 1 and %d", d.StartYear, end.Year())
	}
	years := make([]int, 0, end.Year()-d.StartYear+1)
	for y := d.StartYear; y <= end.Year(); y++ {
		years = append(years, y)
	}

	if len(d.Months) == 0 {
		return ArchiveDefaults{}, fmt.Errorf("months must not be empty")
	}
	for _, m := range d.Months {
		if m < 1 || m > 12 {
			return ArchiveDefaults{}, fmt.Errorf("month %d out of range", m)
		}
	}

	for _, iv := range append(append([]string(nil), d.Intervals...), d.DailyIntervals...) {
		if !models.IsKnownInterval(iv) {
			return ArchiveDefaults{}, fmt.Errorf("unknown interval %q", iv)
		}
	}
	if len(d.Intervals) == 0 || len(d.DailyIntervals) == 0 {
		return ArchiveDefaults{}, fmt.Errorf("intervals and daily_intervals must not be empty")
	}

	return ArchiveDefaults{
		startDate:       start,
		endDate:         end,
		periodStartDate: periodStart,
		years:           years,
		months:          append([]int(nil), d.Months...),
		intervals:       append([]string(nil), d.Intervals...),
		dailyIntervals:  append([]string(nil), d.DailyIntervals...),
	}, nil
}

// StartDate is the earliest date considered when no window is given.
func (a ArchiveDefaults) StartDate() time.Time { return a.startDate }

// EndDate is the latest date considered when no window is given.
func (a ArchiveDefaults) EndDate() time.Time { return a.endDate }

// Window returns the default inclusive date window.
func (a ArchiveDefaults) Window() models.DateWindow {
	return models.DateWindow{Start: a.startDate, End: a.endDate}
}

// Years returns the default years, oldest first.
func (a ArchiveDefaults) Years() []int { return append([]int(nil), a.years...) }

// Months returns the default months.
func (a ArchiveDefaults) Months() []int { return append([]int(nil), a.months...) }

// Intervals returns the default intervals.
func (a ArchiveDefaults) Intervals() []string { return append([]string(nil), a.intervals...) }

// DailyIntervals returns the intervals that have daily archives.
func (a ArchiveDefaults) DailyIntervals() []string {
	return append([]string(nil), a.dailyIntervals...)
}

// DailyDates returns every date from the period start date through the end date.
func (a ArchiveDefaults) DailyDates() []time.Time {
	var dates []time.Time
	for d := a.periodStartDate; !d.After(a.endDate); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}
	return dates
}
