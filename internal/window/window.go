// Package window computes the time range a sync run covers.
package window

import (
	"fmt"
	"time"

	"github.com/verte-zerg/punchsync/internal/model"
)

// Compute returns the window from midnight of the Monday that starts the
// range up to now. On a Monday the window reaches back to the previous
// week's Monday so a full week is always covered.
func Compute(now time.Time) model.SyncWindow {
	daysSinceMonday := (int(now.Weekday()) + 6) % 7
	if daysSinceMonday == 0 {
		daysSinceMonday = 7
	}
	y, m, d := now.Date()
	start := time.Date(y, m, d-daysSinceMonday, 0, 0, 0, 0, now.Location())
	return model.SyncWindow{Start: start, End: now}
}

// Since returns the window [start, now] for an explicit start.
func Since(start, now time.Time) (model.SyncWindow, error) {
	if start.After(now) {
		return model.SyncWindow{}, fmt.Errorf("window start %s is after %s", start.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	return model.SyncWindow{Start: start, End: now}, nil
}
