package queue

import (
	"fmt"
	"time"

	"github.com/kiranshivaraju/dialq/pkg/models"
)

type transition struct {
	From models.JobStatus
	To   models.JobStatus
}

// validTransitions is the complete job lifecycle. running→running is a
// progress write (a lead dispatched or advanced).
var validTransitions = []transition{
	{From: models.JobStatusQueued, To: models.JobStatusRunning},
	{From: models.JobStatusQueued, To: models.JobStatusFailed},
	{From: models.JobStatusQueued, To: models.JobStatusCancelled},
	{From: models.JobStatusRunning, To: models.JobStatusRunning},
	{From: models.JobStatusRunning, To: models.JobStatusCompleted},
	{From: models.JobStatusRunning, To: models.JobStatusFailed},
	{From: models.JobStatusRunning, To: models.JobStatusCancelled},
}

// IsValidTransition reports whether a job may move from one status to another.
func IsValidTransition(from, to models.JobStatus) bool {
	for _, t := range validTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to models.JobStatus) error {
	if !IsValidTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// The functions below compute the next job state without touching storage.
// Each returns a fresh copy; the input is never modified.

// started moves a queued job to running, pointing at the first lead.
func started(job *models.QueueJob, now time.Time) *models.QueueJob {
	next := job.Clone()
	next.Status = models.JobStatusRunning
	next.CurrentLead = leadAt(next, next.CurrentIndex)
	next.UpdatedAt = now
	return next
}

// dispatched records that the current lead's call was placed.
func dispatched(job *models.QueueJob, conversationID string, now time.Time) *models.QueueJob {
	next := job.Clone()
	next.CurrentConversationID = conversationID
	next.Initiated++
	t := now
	next.DispatchedAt = &t
	next.UpdatedAt = now
	return next
}

// rejected records a per-lead refusal from the provider and moves on. The
// attempt counts as initiated so initiated >= completed+failed holds.
func rejected(job *models.QueueJob, detail string, now time.Time) *models.QueueJob {
	next := job.Clone()
	next.Initiated++
	return recorded(next, models.OutcomeRejected, detail, now)
}

// recorded closes out leads[current_index] with outcome and advances the
// pointer, completing the job after the last lead.
func recorded(job *models.QueueJob, outcome models.Outcome, detail string, now time.Time) *models.QueueJob {
	next := job.Clone()
	next.Results = append(next.Results, models.LeadResult{
		Index:          next.CurrentIndex,
		ConversationID: next.CurrentConversationID,
		Outcome:        outcome,
		Detail:         detail,
		FinishedAt:     now,
	})
	if outcome.Succeeded() {
		next.Completed++
	} else {
		next.Failed++
	}
	next.CurrentIndex++
	next.CurrentConversationID = ""
	next.DispatchedAt = nil
	next.CurrentLead = leadAt(next, next.CurrentIndex)
	if next.CurrentIndex >= next.TotalLeads {
		next.Status = models.JobStatusCompleted
	}
	next.UpdatedAt = now
	return next
}

// aborted fails the job: the current lead counts as an initiated, failed
// attempt and every lead after it as abandoned.
func aborted(job *models.QueueJob, cause error, now time.Time) *models.QueueJob {
	next := job.Clone()
	msg := cause.Error()
	if next.CurrentIndex < next.TotalLeads {
		next.Initiated++
		next.Failed++
		next.Results = append(next.Results, models.LeadResult{
			Index:          next.CurrentIndex,
			ConversationID: next.CurrentConversationID,
			Outcome:        models.OutcomeFailed,
			Detail:         msg,
			FinishedAt:     now,
		})
		next.CurrentIndex++
	}
	abandonFrom(next, next.CurrentIndex, "job failed", now)
	next.Status = models.JobStatusFailed
	next.Error = msg
	next.UpdatedAt = now
	return next
}

// cancelled stops the job. A call in flight is abandoned along with the
// remaining leads; its completion webhook will be ignored.
func cancelled(job *models.QueueJob, now time.Time) *models.QueueJob {
	next := job.Clone()
	abandonFrom(next, next.CurrentIndex, "job cancelled", now)
	next.Status = models.JobStatusCancelled
	next.UpdatedAt = now
	return next
}

func abandonFrom(job *models.QueueJob, from int, detail string, now time.Time) {
	for i := from; i < job.TotalLeads; i++ {
		conv := ""
		if i == from {
			conv = job.CurrentConversationID
		}
		job.Results = append(job.Results, models.LeadResult{
			Index:          i,
			ConversationID: conv,
			Outcome:        models.OutcomeAbandoned,
			Detail:         detail,
			FinishedAt:     now,
		})
		job.Abandoned++
	}
	job.CurrentIndex = job.TotalLeads
	job.CurrentConversationID = ""
	job.CurrentLead = nil
	job.DispatchedAt = nil
}

func leadAt(job *models.QueueJob, i int) *models.Lead {
	if i < 0 || i >= len(job.Leads) {
		return nil
	}
	l := job.Leads[i]
	return &l
}
