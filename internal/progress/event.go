package progress

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported stages.
const (
	StageJobStart     Stage = "JOB_START"
	StagePhase        Stage = "JOB_PHASE"
	StagePageCaptured Stage = "PAGE_CAPTURED"
	StagePageFailed   Stage = "PAGE_FAILED"
	StageJobDone      Stage = "JOB_DONE"
	StageJobError     Stage = "JOB_ERROR"
)

// Event is one lifecycle observation for a job.
type Event struct {
	// JobID is the registry identifier of the job.
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage selects which of the fields below are meaningful.
	Stage Stage
	// URL is the job root for job events and the page URL for page events.
	URL string
	// FullSite is set on JOB_START.
	FullSite bool
	// Phase is the job status entered, set on JOB_PHASE.
	Phase string
	// Renderer names the capture path that produced a page.
	Renderer string
	// Bytes is the captured markup size of a page.
	Bytes int64
	// Pages and Assets are final totals carried by JOB_DONE.
	Pages  int
	Assets int
	// Dur is the job wall time on terminal events.
	Dur time.Duration
	// Note carries low-volume context such as the failure text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if strings.TrimSpace(e.JobID) == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobDone, StageJobError:
	case StagePhase:
		if e.Phase == "" {
			return errors.New("phase event requires phase")
		}
	case StagePageCaptured, StagePageFailed:
		if e.URL == "" {
			return errors.New("page event requires url")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the event closes the job.
func (e Event) Terminal() bool {
	return e.Stage == StageJobDone || e.Stage == StageJobError
}

// Host returns the lowercased host of URL, or "unknown".
func (e Event) Host() string {
	u, err := url.Parse(e.URL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
