package database

import (
	"time"
)

// Source is the persisted scheduling state of one configured source.
type Source struct {
	Name               string
	Type               string
	URL                string
	State              string
	NextRunAt          *time.Time
	FailureCount       int
	StructuralFailures int // consecutive auth or malformed-source failures
	LastError          string
	LastRunAt          *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type ItemStats struct {
	Total      int
	Merged     int // items seen more than once
	MergeTotal int // sum of merge counts
}
