package tasks

import (
	"time"

	"github.com/lysyi3m/news-comb/app/database"
	"github.com/lysyi3m/news-comb/app/item"
	"github.com/lysyi3m/news-comb/app/sources"
	"github.com/robfig/cron/v3"
)

type JobState string

const (
	JobIdle     JobState = "idle"
	JobRunning  JobState = "running"
	JobBackoff  JobState = "backoff"
	JobDisabled JobState = "disabled"
)

// FetchJob is the scheduling state of one source. Only the Scheduler
// mutates it; callers get copies.
type FetchJob struct {
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	URL          string    `json:"url"`
	State        JobState  `json:"state"`
	NextRunAt    time.Time `json:"next_run_at"`
	FailureCount int       `json:"failure_count"`
	// StructuralFailures is the current run of consecutive auth or
	// malformed-source failures. A transient failure ends it.
	StructuralFailures int        `json:"structural_failures"`
	LastError          string     `json:"last_error,omitempty"`
	LastRunAt          *time.Time `json:"last_run_at,omitempty"`
	MaxFailures        int        `json:"max_failures"`

	config  *sources.Config
	cadence cron.Schedule
}

func newFetchJob(sourceConfig *sources.Config, now time.Time) *FetchJob {
	return &FetchJob{
		Name:        sourceConfig.Name,
		Type:        sourceConfig.Type,
		URL:         sourceConfig.URL,
		State:       JobIdle,
		NextRunAt:   now,
		MaxFailures: sourceConfig.Settings.MaxConsecutiveFailures,
		config:      sourceConfig,
		cadence:     sourceConfig.Cadence(),
	}
}

func (j *FetchJob) due(now time.Time) bool {
	return (j.State == JobIdle || j.State == JobBackoff) && !j.NextRunAt.After(now)
}

func (j *FetchJob) succeed(now time.Time) {
	j.State = JobIdle
	j.FailureCount = 0
	j.StructuralFailures = 0
	j.LastError = ""
	j.LastRunAt = &now
	j.NextRunAt = j.cadence.Next(now)
}

// fail records a failed run. Backoff grows with every failure, but only an
// unbroken run of structural failures disables the job.
func (j *FetchJob) fail(now time.Time, err error, backoff Backoff) {
	j.FailureCount++
	j.LastError = err.Error()
	j.LastRunAt = &now

	structural := item.IsStructural(err)
	if structural {
		j.StructuralFailures++
	} else {
		j.StructuralFailures = 0
	}

	if structural && j.MaxFailures > 0 && j.StructuralFailures >= j.MaxFailures {
		j.State = JobDisabled
		return
	}

	j.State = JobBackoff
	j.NextRunAt = now.Add(backoff.Delay(j.FailureCount))
}

func (j *FetchJob) enable(now time.Time) {
	j.State = JobIdle
	j.FailureCount = 0
	j.StructuralFailures = 0
	j.LastError = ""
	j.NextRunAt = now
}

// restore applies persisted state. A job persisted as running was cut off
// by a shutdown and runs again right away.
func (j *FetchJob) restore(s *database.Source, now time.Time) {
	j.FailureCount = s.FailureCount
	j.StructuralFailures = s.StructuralFailures
	j.LastError = s.LastError
	j.LastRunAt = s.LastRunAt
	if s.NextRunAt != nil {
		j.NextRunAt = *s.NextRunAt
	}

	switch JobState(s.State) {
	case JobDisabled:
		j.State = JobDisabled
	case JobBackoff:
		j.State = JobBackoff
	case JobRunning:
		j.State = JobIdle
		j.NextRunAt = now
	default:
		j.State = JobIdle
	}
}

func (j *FetchJob) toSource() database.Source {
	next := j.NextRunAt
	return database.Source{
		Name:               j.Name,
		Type:               j.Type,
		URL:                j.URL,
		State:              string(j.State),
		NextRunAt:          &next,
		FailureCount:       j.FailureCount,
		StructuralFailures: j.StructuralFailures,
		LastError:          j.LastError,
		LastRunAt:          j.LastRunAt,
	}
}

func (j *FetchJob) snapshot() FetchJob {
	out := *j
	if j.LastRunAt != nil {
		last := *j.LastRunAt
		out.LastRunAt = &last
	}
	return out
}

// Backoff grows exponentially from Base and is capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

func (b Backoff) Delay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	delay := b.Base
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= b.Max {
			return b.Max
		}
	}
	return min(delay, b.Max)
}
