package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ResolveTimeRange maps a symbolic range ("1day", "7days", ...) onto the
// concrete [start, end) window ending now.
func ResolveTimeRange(name string, now time.Time) (time.Time, time.Time, error) {
	days, err := parseDays(name)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end := now
	start := end.Add(-time.Duration(days) * 24 * time.Hour)
	return start, end, nil
}

func parseDays(name string) (int, error) {
	trimmed := strings.TrimSuffix(strings.TrimSuffix(name, "days"), "day")
	days, err := strconv.Atoi(trimmed)
	if err != nil || days < 1 {
		return 0, fmt.Errorf("invalid time range %q", name)
	}
	if days > 365 {
		return 0, fmt.Errorf("time range %q exceeds one year", name)
	}
	return days, nil
}

// chunkTotal returns the number of chunks covering [start, end).
func chunkTotal(start, end time.Time) int {
	span := end.Sub(start)
	total := int((span + ChunkSize - 1) / ChunkSize)
	if total < 1 {
		total = 1
	}
	return total
}
