package resy

import (
	"strings"
	"time"
)

// slotTimeLayouts covers the formats the find endpoint has been seen to use.
var slotTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"15:04:05",
	"15:04",
}

// parseSlotMinutes returns the slot time as minutes past midnight.
func parseSlotMinutes(raw string) (int, bool) {
	for _, layout := range slotTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Hour()*60 + t.Minute(), true
		}
	}
	return 0, false
}

// pickBestSlot selects the slot whose time is closest to the preferred time
// by absolute minute difference. Ties go to the earlier slot; among equal
// times the first listed wins.
func pickBestSlot(slots []slot, timePreferred string) (slot, bool) {
	want, ok := parseSlotMinutes(timePreferred)
	if !ok {
		return slot{}, false
	}

	var best slot
	bestDiff := -1
	bestMinutes := 0
	for _, s := range slots {
		minutes, ok := parseSlotMinutes(s.Time)
		if !ok {
			continue
		}
		diff := minutes - want
		if diff < 0 {
			diff = -diff
		}
		if bestDiff < 0 || diff < bestDiff || (diff == bestDiff && minutes < bestMinutes) {
			best = s
			bestDiff = diff
			bestMinutes = minutes
		}
	}
	return best, bestDiff >= 0
}

// normalizeSlotTime reduces a slot timestamp to HH:MM for storage.
func normalizeSlotTime(raw string) string {
	for _, layout := range slotTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("15:04")
		}
	}
	// Unknown shape; keep whatever the platform sent.
	return strings.TrimSpace(raw)
}
