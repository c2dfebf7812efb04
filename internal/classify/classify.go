// Package classify maps device-reported codes to attendance concepts.
package classify

import (
	"strings"
	"time"

	"github.com/verte-zerg/punchsync/internal/model"
)

// EmployeeIDWidth is the width the backend expects employee ids padded to.
const EmployeeIDWidth = 5

// TimestampLayout is the wire format of punch timestamps.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

var methods = map[int]model.Method{
	0:  model.MethodPIN,
	1:  model.MethodFingerprint,
	3:  model.MethodFingerprint,
	4:  model.MethodFace,
	15: model.MethodBadge,
}

var directions = map[int]model.Direction{
	0: model.DirectionIn,
	1: model.DirectionOut,
	2: model.DirectionOut, // break-out
	3: model.DirectionIn,  // break-in
	4: model.DirectionIn,  // overtime in
	5: model.DirectionOut, // overtime out
}

var categories = map[int]model.Category{
	0: model.CategoryCheckIn,
	1: model.CategoryCheckOut,
	2: model.CategoryBreakOut,
	3: model.CategoryBreakIn,
	4: model.CategoryOTIn,
	5: model.CategoryOTOut,
}

// Method returns the verification method for a device code. Unknown codes
// are reported as fingerprint.
func Method(code int) model.Method {
	if m, ok := methods[code]; ok {
		return m
	}
	return model.MethodFingerprint
}

// Direction returns the punch direction for a device state. Unknown states
// are treated as arrivals.
func Direction(state int) model.Direction {
	if d, ok := directions[state]; ok {
		return d
	}
	return model.DirectionIn
}

// Category returns the diagnostic label of a device state.
func Category(state int) model.Category {
	if c, ok := categories[state]; ok {
		return c
	}
	return model.CategoryUnknown
}

// PadEmployeeID left-pads id with zeros to EmployeeIDWidth. Longer ids are
// returned unchanged.
func PadEmployeeID(id string) string {
	if len(id) >= EmployeeIDWidth {
		return id
	}
	return strings.Repeat("0", EmployeeIDWidth-len(id)) + id
}

// FormatTimestamp renders t in UTC with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Classify derives the backend representation of a raw record.
func Classify(rec model.RawPunchRecord) model.ClassifiedPunch {
	return model.ClassifiedPunch{
		EmployeeID:    PadEmployeeID(strings.TrimSpace(rec.UserID)),
		Timestamp:     FormatTimestamp(rec.Timestamp),
		LocalTime:     rec.Timestamp,
		Direction:     Direction(rec.State),
		TerminalState: rec.State,
		Method:        Method(rec.Verify),
		Category:      Category(rec.State),
	}
}
