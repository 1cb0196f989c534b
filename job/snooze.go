package job

import (
	"errors"
	"fmt"
	"time"
)

// SnoozeError asks the executor to run the job again at Until. A snoozed
// job is not a failure: its retry count is left alone.
type SnoozeError struct {
	Until time.Time
}

func (e *SnoozeError) Error() string {
	return fmt.Sprintf("job snoozed until %s", e.Until.Format(time.RFC3339))
}

// Snooze returns an error that reschedules the job at until.
func Snooze(until time.Time) error {
	return &SnoozeError{Until: until}
}

// AsSnooze reports whether err asks for a snooze and returns its time.
func AsSnooze(err error) (time.Time, bool) {
	var s *SnoozeError
	if errors.As(err, &s) {
		return s.Until, true
	}
	return time.Time{}, false
}
