package item

import (
	"time"
)

// IngestReport summarizes one pipeline run for one source.
type IngestReport struct {
	RunID      string    `json:"run_id"`
	Source     string    `json:"source"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Fetched  int `json:"fetched"`
	Created  int `json:"created"`
	Merged   int `json:"merged"`
	Skipped  int `json:"skipped"`
	Filtered int `json:"filtered"`
	Errors   int `json:"errors"`

	Error string `json:"error,omitempty"`
}

func (r IngestReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Admitted is the number of items that reached the durable store.
func (r IngestReport) Admitted() int {
	return r.Created + r.Merged
}

func (r IngestReport) Failed() bool {
	return r.Error != ""
}
