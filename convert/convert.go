// Package convert holds the small, pure value conversions the feature
// modules share: RGB <-> packed int, "HH:MM" <-> minutes-since-midnight,
// and weekday name <-> timer day-bitmask.
package convert

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Doekse/merossiot-sub004/common"
)

// RGBToInt packs an [r,g,b] triple (each 0-255) into a single 24-bit
// integer, matching the wire format used by Appliance.Control.Light.
func RGBToInt(rgb [3]int) int {
	return rgb[0]<<16 | rgb[1]<<8 | rgb[2]
}

// IntToRGB unpacks a 24-bit integer into an [r,g,b] triple.
func IntToRGB(v int) [3]int {
	return [3]int{(v >> 16) & 0xFF, (v >> 8) & 0xFF, v & 0xFF}
}

// TimeToMinutes converts "HH:MM" to minutes since midnight.
// Returns a VALIDATION error for out-of-range hours/minutes (including
// the documented edge case "24:00").
func TimeToMinutes(hhmm string) (int, error) {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return 0, common.New(common.KindValidation, fmt.Sprintf("malformed time %q", hhmm))
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, common.New(common.KindValidation, fmt.Sprintf("out-of-range time %q", hhmm))
	}
	return h*60 + m, nil
}

// MinutesToTime converts minutes-since-midnight back to "HH:MM".
func MinutesToTime(minutes int) string {
	h := (minutes / 60) % 24
	m := minutes % 60
	return fmt.Sprintf("%02d:%02d", h, m)
}

// weekdayBit maps a lowercase weekday name to its bit position in the
// Meross day-of-week bitmask, where bit 0 is monday and bit 7 is the
// "repeat weekly" flag set by DaysToWeekMask.
var weekdayBit = map[string]uint{
	"monday":    0,
	"tuesday":   1,
	"wednesday": 2,
	"thursday":  3,
	"friday":    4,
	"saturday":  5,
	"sunday":    6,
}

// DaysToWeekMask packs the named weekdays into a bitmask. When repeat
// is true, bit 7 (the "repeat weekly" flag) is also set.
func DaysToWeekMask(days []string, repeat bool) (int, error) {
	mask := 0
	for _, d := range days {
		bit, ok := weekdayBit[strings.ToLower(d)]
		if !ok {
			return 0, common.New(common.KindValidation, fmt.Sprintf("unknown weekday %q", d))
		}
		mask |= 1 << bit
	}
	if repeat {
		mask |= 1 << 7
	}
	return mask, nil
}

// WeekMaskToDays is the inverse of DaysToWeekMask: it returns the
// weekday names set in mask and whether the repeat flag (bit 7) is set.
func WeekMaskToDays(mask int) (days []string, repeat bool) {
	order := []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}
	for i, name := range order {
		if mask&(1<<uint(i)) != 0 {
			days = append(days, name)
		}
	}
	repeat = mask&(1<<7) != 0
	return days, repeat
}
