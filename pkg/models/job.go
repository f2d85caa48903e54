package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a QueueJob.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Outcome is the recorded result of one lead.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeRejected  Outcome = "rejected"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeAbandoned Outcome = "abandoned"
)

// Succeeded reports whether the outcome counts toward QueueJob.Completed.
func (o Outcome) Succeeded() bool {
	return o == OutcomeCompleted
}

// LeadResult records what happened to leads[Index].
type LeadResult struct {
	Index          int       `json:"index"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Outcome        Outcome   `json:"outcome"`
	Detail         string    `json:"detail,omitempty"`
	FinishedAt     time.Time `json:"finished_at"`
}

// QueueJob is one batch of sequential outbound calls. The client enqueues
// leads with POST /queue and polls GET /queue/{job_id} until Status is
// terminal.
type QueueJob struct {
	ID                    uuid.UUID    `db:"id"                      json:"id"`
	OwnerID               uuid.UUID    `db:"owner_id"                json:"owner_id"`
	Status                JobStatus    `db:"status"                  json:"status"`
	Leads                 []Lead       `db:"leads"                   json:"leads"`
	TotalLeads            int          `db:"total_leads"             json:"total_leads"`
	CurrentIndex          int          `db:"current_index"           json:"current_index"`
	Initiated             int          `db:"initiated"               json:"initiated"`
	Completed             int          `db:"completed"               json:"completed"`
	Failed                int          `db:"failed"                  json:"failed"`
	Abandoned             int          `db:"abandoned"               json:"abandoned"`
	CurrentConversationID string       `db:"current_conversation_id" json:"current_conversation_id"`
	CurrentLead           *Lead        `db:"current_lead"            json:"current_lead,omitempty"`
	Results               []LeadResult `db:"results"                 json:"results"`
	Error                 string       `db:"error"                   json:"error"`
	DispatchedAt          *time.Time   `db:"dispatched_at"           json:"dispatched_at,omitempty"`
	CreatedAt             time.Time    `db:"created_at"              json:"created_at"`
	UpdatedAt             time.Time    `db:"updated_at"              json:"updated_at"`
}

// Clone returns a copy that shares the immutable lead snapshot but owns its
// mutable slices and pointers.
func (j *QueueJob) Clone() *QueueJob {
	c := *j
	c.Results = append([]LeadResult(nil), j.Results...)
	if j.CurrentLead != nil {
		l := *j.CurrentLead
		c.CurrentLead = &l
	}
	if j.DispatchedAt != nil {
		t := *j.DispatchedAt
		c.DispatchedAt = &t
	}
	return &c
}

// InFlight reports whether a dispatched call is awaiting its completion.
func (j *QueueJob) InFlight() bool {
	return j.CurrentConversationID != ""
}
