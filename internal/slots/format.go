package slots

import (
	"fmt"
	"strings"
	"time"

	"github.com/Far3/financial-advisor-ai/internal/task"
)

const displayLayout = "Mon, Jan 2 at 3:04 PM MST"

// Format renders a slot start in loc for people to read.
func Format(slot task.TimeSlot, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return slot.Start.In(loc).Format(displayLayout)
}

// NumberedList renders slots as "1. ...", one per line.
func NumberedList(slots []task.TimeSlot, loc *time.Location) string {
	lines := make([]string, len(slots))
	for i, s := range slots {
		lines[i] = fmt.Sprintf("%d. %s", i+1, Format(s, loc))
	}
	return strings.Join(lines, "\n")
}
