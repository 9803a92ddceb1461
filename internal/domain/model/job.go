package model

import "time"

// JobStage names one step of candidate processing. Stages chain: a crawl job
// that completes enqueues a score job, which enqueues a rank job.
type JobStage string

const (
	StageCrawl JobStage = "crawl"
	StageScore JobStage = "score"
	StageRank  JobStage = "rank"
)

// NextStage returns the stage enqueued after s completes, or "" for the last.
func (s JobStage) NextStage() JobStage {
	switch s {
	case StageCrawl:
		return StageScore
	case StageScore:
		return StageRank
	default:
		return ""
	}
}

// JobState is the queue-visible lifecycle of a Job.
type JobState string

const (
	JobPending      JobState = "pending"
	JobRunning      JobState = "running"
	JobDone         JobState = "done"
	JobFailed       JobState = "failed" // retryable, will reappear
	JobDeadLettered JobState = "dead_lettered"
)

// Terminal reports whether the state will never change again.
func (s JobState) Terminal() bool {
	return s == JobDone || s == JobDeadLettered
}

// Job is the persisted unit of work: one candidate, one stage. At-least-once
// delivery; workers must tolerate redelivery of the same job.
type Job struct {
	ID          string    `json:"id"`
	CandidateID string    `json:"candidate_id"`
	Stage       JobStage  `json:"stage"`
	State       JobState  `json:"state"`
	Attempts    int       `json:"attempts"`
	Reason      string    `json:"reason,omitempty"` // failure/dead-letter cause
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
