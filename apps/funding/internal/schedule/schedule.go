package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Clock abstracts the wall clock so time-dependent services can be tested.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant; Set moves it.
type FixedClock struct {
	T time.Time
}

func (c *FixedClock) Now() time.Time { return c.T }

func (c *FixedClock) Set(t time.Time) { c.T = t }

func (c *FixedClock) Advance(d time.Duration) { c.T = c.T.Add(d) }

// TimeOfDay is a wall-clock instant inside a day, in minutes since midnight.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ParseTimes reads a comma separated list of HH:MM values and returns them sorted.
func ParseTimes(raw string) ([]TimeOfDay, error) {
	var times []TimeOfDay
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		hm := strings.SplitN(part, ":", 2)
		if len(hm) != 2 {
			return nil, fmt.Errorf("invalid merge time %q: expected HH:MM", part)
		}
		h, err := strconv.Atoi(hm[0])
		if err != nil || h < 0 || h > 23 {
			return nil, fmt.Errorf("invalid hour in merge time %q", part)
		}
		m, err := strconv.Atoi(hm[1])
		if err != nil || m < 0 || m > 59 {
			return nil, fmt.Errorf("invalid minute in merge time %q", part)
		}
		times = append(times, TimeOfDay{Hour: h, Minute: m})
	}
	if len(times) == 0 {
		return nil, fmt.Errorf("no merge times configured")
	}
	sort.Slice(times, func(i, j int) bool {
		return times[i].Hour*60+times[i].Minute < times[j].Hour*60+times[j].Minute
	})
	return times, nil
}

// Window describes one merge instant and the instants derived from it.
type Window struct {
	MergeAt    time.Time `json:"merge_at"`
	JoinCloses time.Time `json:"join_closes"`
	CutoffAt   time.Time `json:"cutoff_at"`
}

// Contains reports whether t falls inside the join window [MergeAt, JoinCloses).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.MergeAt) && t.Before(w.JoinCloses)
}

// Calendar computes merge windows from fixed daily times in a location.
// It holds no state beyond its configuration.
type Calendar struct {
	Location   *time.Location
	Times      []TimeOfDay
	JoinWindow time.Duration
	Cutoff     time.Duration
}

func NewCalendar(loc *time.Location, times []TimeOfDay, joinWindow, cutoff time.Duration) *Calendar {
	return &Calendar{Location: loc, Times: times, JoinWindow: joinWindow, Cutoff: cutoff}
}

func (c *Calendar) window(mergeAt time.Time) Window {
	return Window{
		MergeAt:    mergeAt.UTC(),
		JoinCloses: mergeAt.Add(c.JoinWindow).UTC(),
		CutoffAt:   mergeAt.Add(-c.Cutoff).UTC(),
	}
}

func (c *Calendar) at(day time.Time, t TimeOfDay) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour, t.Minute, 0, 0, c.Location)
}

// Next returns the first merge instant strictly after now, wrapping to the next day.
func (c *Calendar) Next(now time.Time) Window {
	local := now.In(c.Location)
	for d := 0; d < 2; d++ {
		day := local.AddDate(0, 0, d)
		for _, t := range c.Times {
			candidate := c.at(day, t)
			if candidate.After(now) {
				return c.window(candidate)
			}
		}
	}
	// unreachable with at least one configured time
	return c.window(c.at(local.AddDate(0, 0, 1), c.Times[0]))
}

// Current returns the window whose join period contains now, if any.
func (c *Calendar) Current(now time.Time) (Window, bool) {
	local := now.In(c.Location)
	for d := -1; d <= 0; d++ {
		day := local.AddDate(0, 0, d)
		for _, t := range c.Times {
			w := c.window(c.at(day, t))
			if w.Contains(now) {
				return w, true
			}
		}
	}
	return Window{}, false
}

// Upcoming lists every merge window from now (exclusive) through the next days days.
func (c *Calendar) Upcoming(now time.Time, days int) []Window {
	local := now.In(c.Location)
	var windows []Window
	for d := 0; d <= days; d++ {
		day := local.AddDate(0, 0, d)
		for _, t := range c.Times {
			candidate := c.at(day, t)
			if candidate.After(now) {
				windows = append(windows, c.window(candidate))
			}
		}
	}
	return windows
}

// CancellationOpen reports whether a request may still be cancelled at now,
// and how long until the next merge.
func (c *Calendar) CancellationOpen(now time.Time) (bool, time.Duration) {
	next := c.Next(now)
	return now.Before(next.CutoffAt), next.MergeAt.Sub(now)
}

// NextMidnight returns the next local midnight after now.
func (c *Calendar) NextMidnight(now time.Time) time.Time {
	local := now.In(c.Location)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, c.Location).UTC()
}
