package game

import (
	"fmt"
	"strconv"
)

// Duration formats a number of seconds as "D days, HH:MM:SS".
// Negative durations render as "NaN (n)".
func Duration(secs int64) string {
	if secs < 0 {
		return fmt.Sprintf("NaN (%d)", secs)
	}
	days := secs / 86400
	unit := "days"
	if days == 1 {
		unit = "day"
	}
	return fmt.Sprintf("%d %s, %02d:%02d:%02d", days, unit, secs%86400/3600, secs%3600/60, secs%60)
}

// DurationText formats a number of seconds given as text.
// Text which is not a whole number renders as "NaN (text)".
func DurationText(s string) string {
	n, err := strconv.ParseUint(s, 10, 63)
	if err != nil {
		return "NaN (" + s + ")"
	}
	return Duration(int64(n))
}
