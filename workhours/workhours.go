// Package workhours implements working-time arithmetic for SLA tracking.
// All calculations happen in the schedule's timezone so that DST shifts and
// holidays are accounted for, and the daily window is half-open: the closing
// minute is outside working time.
package workhours

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// maxScanDays bounds forward scans so a degenerate schedule (no working days,
// every day a holiday) cannot loop forever.
const maxScanDays = 365

const dateLayout = "2006-01-02"

// Schedule describes when a chat counts as "at work".
type Schedule struct {
	Location *time.Location
	Days     map[time.Weekday]bool
	Start    int // minutes from midnight, inclusive
	End      int // minutes from midnight, exclusive
	Holidays map[string]bool // dates formatted as 2006-01-02 in Location
	Always   bool            // 24x7 mode: every instant is working time
}

// Always24x7 returns a schedule where every instant counts.
func Always24x7() *Schedule {
	return &Schedule{Location: time.UTC, Always: true}
}

// New builds a schedule from its wire representation: an IANA timezone name,
// ISO weekday numbers (1 = Monday .. 7 = Sunday), and HH:MM bounds.
func New(timezone string, isoDays []int, start, end string, holidays []string) (*Schedule, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}

	startMin, err := ParseClock(start)
	if err != nil {
		return nil, err
	}
	endMin, err := ParseClock(end)
	if err != nil {
		return nil, err
	}
	if endMin <= startMin {
		return nil, fmt.Errorf("working window end %q must be after start %q", end, start)
	}

	days := make(map[time.Weekday]bool, len(isoDays))
	for _, d := range isoDays {
		if d < 1 || d > 7 {
			return nil, fmt.Errorf("invalid ISO weekday %d", d)
		}
		// ISO 7 (Sunday) maps to time.Sunday (0).
		days[time.Weekday(d%7)] = true
	}

	hols := make(map[string]bool, len(holidays))
	for _, h := range holidays {
		if _, err := time.ParseInLocation(dateLayout, h, loc); err != nil {
			return nil, fmt.Errorf("invalid holiday date %q: %w", h, err)
		}
		hols[h] = true
	}

	s := &Schedule{
		Location: loc,
		Days:     days,
		Start:    startMin,
		End:      endMin,
		Holidays: hols,
	}
	// A 00:00-23:59 window across all seven days is the conventional way of
	// spelling "around the clock" in stored settings.
	if startMin == 0 && endMin >= 23*60+59 && len(days) == 7 {
		s.Always = true
	}
	return s, nil
}

// ParseClock converts "HH:MM" into minutes from midnight.
func ParseClock(v string) (int, error) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock value %q", v)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in clock value %q", v)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in clock value %q", v)
	}
	return h*60 + m, nil
}

// workingDay reports whether the calendar day containing t (in the schedule's
// timezone) is a configured working day and not a holiday.
func (s *Schedule) workingDay(t time.Time) bool {
	if !s.Days[t.Weekday()] {
		return false
	}
	return !s.Holidays[t.Format(dateLayout)]
}

// dayStart returns the working window start on t's calendar day.
func (s *Schedule) dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), s.Start/60, s.Start%60, 0, 0, s.Location)
}

// dayEnd returns the working window end on t's calendar day.
func (s *Schedule) dayEnd(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), s.End/60, s.End%60, 0, 0, s.Location)
}

// nextDay returns midnight of the day after t's calendar day.
func (s *Schedule) nextDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, s.Location)
}

// IsWorkingTime reports whether t falls inside a working window.
func (s *Schedule) IsWorkingTime(t time.Time) bool {
	if s.Always {
		return true
	}
	local := t.In(s.Location)
	if !s.workingDay(local) {
		return false
	}
	tod := local.Hour()*60 + local.Minute()
	return tod >= s.Start && tod < s.End
}

// NextWorkingTime returns the earliest instant >= t that is working time.
// If no window is found within the scan bound, t is returned unchanged and a
// warning is logged.
func (s *Schedule) NextWorkingTime(t time.Time) time.Time {
	if s.IsWorkingTime(t) {
		return t
	}

	cur := t.In(s.Location)
	for i := 0; i < maxScanDays; i++ {
		if s.workingDay(cur) {
			start := s.dayStart(cur)
			if cur.Before(start) {
				return start
			}
			// Past today's window; keep scanning from tomorrow.
		}
		cur = s.nextDay(cur)
	}

	slog.Warn("no working window found within scan bound, returning input unchanged",
		"t", t, "scan_days", maxScanDays)
	return t
}

// MinutesBetween returns the number of working minutes in [a, b).
// Returns 0 when b <= a.
func (s *Schedule) MinutesBetween(a, b time.Time) int {
	if !b.After(a) {
		return 0
	}
	if s.Always {
		return int(b.Sub(a) / time.Minute)
	}

	a = a.In(s.Location)
	b = b.In(s.Location)

	total := 0
	cur := a
	for cur.Before(b) {
		if s.workingDay(cur) {
			lo := s.dayStart(cur)
			if lo.Before(cur) {
				lo = cur
			}
			hi := s.dayEnd(cur)
			if hi.After(b) {
				hi = b
			}
			if hi.After(lo) {
				total += int(hi.Sub(lo) / time.Minute)
			}
		}
		cur = s.nextDay(cur)
	}
	return total
}

// AddMinutes returns the instant at which the given number of working minutes
// has elapsed after t. Non-working gaps (nights, weekends, holidays) are
// skipped; the remainder is clamped to each day's window.
func (s *Schedule) AddMinutes(t time.Time, minutes int) time.Time {
	if minutes <= 0 {
		return t
	}
	if s.Always {
		return t.Add(time.Duration(minutes) * time.Minute)
	}

	cur := s.NextWorkingTime(t)
	remaining := time.Duration(minutes) * time.Minute
	for i := 0; i < maxScanDays; i++ {
		avail := s.dayEnd(cur.In(s.Location)).Sub(cur)
		if avail > remaining {
			return cur.Add(remaining)
		}
		remaining -= avail
		cur = s.NextWorkingTime(s.dayEnd(cur.In(s.Location)))
		if remaining == 0 {
			return cur
		}
	}

	slog.Warn("working-minute addition exceeded scan bound",
		"t", t, "minutes", minutes, "scan_days", maxScanDays)
	return cur
}

// DelayUntilBreach computes how long to wait from now until thresholdMinutes
// of working time have elapsed since receivedAt. The result is never negative:
// an already-breached request fires immediately.
func (s *Schedule) DelayUntilBreach(receivedAt time.Time, thresholdMinutes int, now time.Time) time.Duration {
	target := s.AddMinutes(receivedAt, thresholdMinutes)
	delay := target.Sub(now)
	if delay < 0 {
		return 0
	}
	return delay
}
