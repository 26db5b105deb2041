// Package schedule models weekly working hours for clinics and doctors.
package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidWorkingHours = errors.New("invalid working hours")

// TimeOfDay is a wall-clock time expressed in minutes since midnight.
// 24:00 is allowed so an interval can run to the end of the day.
type TimeOfDay int

const endOfDay TimeOfDay = 24 * 60

// Clock builds a TimeOfDay from hours and minutes.
func Clock(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay accepts "HH:MM" and "HH:MM:SS" (seconds are ignored).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("time of day %q: expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("time of day %q: bad hour", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("time of day %q: bad minute", s)
	}
	if h == 24 && m != 0 {
		return 0, fmt.Errorf("time of day %q: past end of day", s)
	}
	return Clock(h, m), nil
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Interval is an open window [Start, End) within a day.
type Interval struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

// Empty reports whether the interval contributes no time. Inverted intervals are
// empty too.
func (i Interval) Empty() bool {
	return i.Start >= i.End
}

// On anchors the interval to the calendar date of day in loc.
func (i Interval) On(day time.Time, loc *time.Location) (time.Time, time.Time) {
	y, m, d := day.Date()
	start := time.Date(y, m, d, i.Start.Hour(), i.Start.Minute(), 0, 0, loc)
	end := time.Date(y, m, d, i.End.Hour(), i.End.Minute(), 0, 0, loc)
	return start, end
}

func (i Interval) String() string {
	return i.Start.String() + "-" + i.End.String()
}

var weekdayNames = [7]string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

// WeekdayName is the lower-case key used in the JSON form.
func WeekdayName(d time.Weekday) string {
	return weekdayNames[d]
}

// ParseWeekday maps a weekday key back to time.Weekday.
func ParseWeekday(name string) (time.Weekday, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range weekdayNames {
		if n == name {
			return time.Weekday(i), true
		}
	}
	return 0, false
}

// WorkingHours maps a weekday to its ordered open intervals. A missing or empty
// entry means closed that day. Order is kept as configured.
type WorkingHours map[time.Weekday][]Interval

// IntervalsFor returns the configured intervals for day, in configured order.
func (w WorkingHours) IntervalsFor(day time.Weekday) []Interval {
	if w == nil {
		return nil
	}
	return w[day]
}

// HasAny reports whether any day has at least one interval.
func (w WorkingHours) HasAny() bool {
	for _, intervals := range w {
		if len(intervals) > 0 {
			return true
		}
	}
	return false
}

// Validate rejects empty or inverted intervals and intervals that overlap within
// a day. Touching intervals (12:00-13:00, 13:00-17:00) are fine.
func (w WorkingHours) Validate() error {
	for day := time.Sunday; day <= time.Saturday; day++ {
		intervals := w[day]
		for _, iv := range intervals {
			if iv.Start < 0 || iv.End > endOfDay {
				return fmt.Errorf("%w: %s %s out of range", ErrInvalidWorkingHours, WeekdayName(day), iv)
			}
			if iv.Empty() {
				return fmt.Errorf("%w: %s %s starts at or after its end", ErrInvalidWorkingHours, WeekdayName(day), iv)
			}
		}
		sorted := append([]Interval(nil), intervals...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
		for i := 1; i < len(sorted); i++ {
			if sorted[i].Start < sorted[i-1].End {
				return fmt.Errorf("%w: %s %s overlaps %s", ErrInvalidWorkingHours, WeekdayName(day), sorted[i], sorted[i-1])
			}
		}
	}
	return nil
}

func (w WorkingHours) MarshalJSON() ([]byte, error) {
	out := make(map[string][]Interval, len(w))
	for day, intervals := range w {
		if day < time.Sunday || day > time.Saturday {
			return nil, fmt.Errorf("%w: weekday %d", ErrInvalidWorkingHours, day)
		}
		if intervals == nil {
			intervals = []Interval{}
		}
		out[WeekdayName(day)] = intervals
	}
	return json.Marshal(out)
}

func (w *WorkingHours) UnmarshalJSON(data []byte) error {
	var raw map[string][]Interval
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(WorkingHours, len(raw))
	for name, intervals := range raw {
		day, ok := ParseWeekday(name)
		if !ok {
			return fmt.Errorf("%w: unknown weekday %q", ErrInvalidWorkingHours, name)
		}
		out[day] = intervals
	}
	*w = out
	return nil
}
