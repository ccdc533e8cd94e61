package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage names the milestone an Event reports.
type Stage string

// Supported stages.
const (
	StageJobStart  Stage = "JOB_START"
	StagePageDone  Stage = "PAGE_DONE"
	StagePageError Stage = "PAGE_ERROR"
	StageJobDone   Stage = "JOB_DONE"
	StageJobError  Stage = "JOB_ERROR"
)

// Event is one progress observation for a scraping job.
type Event struct {
	JobID string
	TS    time.Time
	Stage Stage
	// Site is the sanitized host label for page events.
	Site       string
	URL        string
	StatusCode int
	Bytes      int64
	// Done and Expected report pages scraped so far against the job's target.
	Done     int
	Expected int
	Dur      time.Duration
	// Note carries error text for failure stages.
	Note string
}

// Validate rejects events that sinks cannot attribute.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobDone, StageJobError:
	case StagePageDone, StagePageError:
		if e.Site == "" {
			return fmt.Errorf("%s requires site", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Percent converts Done/Expected into a progress value capped at 99, leaving
// 100 for the terminal transition.
func (e Event) Percent() int {
	if e.Expected <= 0 {
		return 0
	}
	pct := e.Done * 100 / e.Expected
	return min(max(pct, 0), 99)
}
