package queue

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/dialq/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidTransition(t *testing.T) {
	all := []models.JobStatus{
		models.JobStatusQueued,
		models.JobStatusRunning,
		models.JobStatusCompleted,
		models.JobStatusFailed,
		models.JobStatusCancelled,
	}

	valid := map[[2]models.JobStatus]bool{
		{models.JobStatusQueued, models.JobStatusRunning}:    true,
		{models.JobStatusQueued, models.JobStatusFailed}:     true,
		{models.JobStatusQueued, models.JobStatusCancelled}:  true,
		{models.JobStatusRunning, models.JobStatusRunning}:   true,
		{models.JobStatusRunning, models.JobStatusCompleted}: true,
		{models.JobStatusRunning, models.JobStatusFailed}:    true,
		{models.JobStatusRunning, models.JobStatusCancelled}: true,
	}

	for _, from := range all {
		for _, to := range all {
			want := valid[[2]models.JobStatus{from, to}]
			assert.Equal(t, want, IsValidTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestCheckTransition_TerminalStatesAreFinal(t *testing.T) {
	for _, from := range []models.JobStatus{models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled} {
		err := checkTransition(from, models.JobStatusRunning)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	}
}

func runningJob(n int) *models.QueueJob {
	leads := nLeads(n)
	return &models.QueueJob{
		ID:          uuid.New(),
		OwnerID:     uuid.New(),
		Status:      models.JobStatusRunning,
		Leads:       leads,
		TotalLeads:  n,
		CurrentLead: &leads[0],
		Results:     []models.LeadResult{},
		CreatedAt:   testClock,
		UpdatedAt:   testClock,
	}
}

func TestRecorded_DoesNotMutateInput(t *testing.T) {
	job := dispatched(runningJob(2), "c1", testClock)
	next := recorded(job, models.OutcomeCompleted, "", testClock)

	assert.Equal(t, 0, job.CurrentIndex)
	assert.Equal(t, "c1", job.CurrentConversationID)
	assert.Empty(t, job.Results)

	assert.Equal(t, 1, next.CurrentIndex)
	assert.Empty(t, next.CurrentConversationID)
	assert.Nil(t, next.DispatchedAt)
	assert.Equal(t, "L1", next.CurrentLead.FirstName)
}

func TestRecorded_TimedOutCountsAsFailed(t *testing.T) {
	job := dispatched(runningJob(1), "c1", testClock)
	next := recorded(job, models.OutcomeTimedOut, "no webhook", testClock)

	assert.Equal(t, 1, next.Failed)
	assert.Equal(t, models.JobStatusCompleted, next.Status)
	assert.Nil(t, next.CurrentLead)
}

func TestAborted_Counters(t *testing.T) {
	job := runningJob(4)
	job = recorded(dispatched(job, "c1", testClock), models.OutcomeCompleted, "", testClock)

	next := aborted(job, errors.New("provider down"), testClock)

	assert.Equal(t, models.JobStatusFailed, next.Status)
	assert.Equal(t, "provider down", next.Error)
	assert.Equal(t, 4, next.CurrentIndex)
	assert.Equal(t, 1, next.Completed)
	assert.Equal(t, 1, next.Failed)
	assert.Equal(t, 2, next.Abandoned)
	assert.Equal(t, 2, next.Initiated)
	require.Len(t, next.Results, 4)
	assert.Equal(t, models.OutcomeFailed, next.Results[1].Outcome, "aborted lead is a failed attempt")
	assert.Equal(t, "provider down", next.Results[1].Detail)
	assert.Equal(t, models.OutcomeAbandoned, next.Results[2].Outcome)
	assert.Equal(t, models.OutcomeAbandoned, next.Results[3].Outcome)
	assert.Nil(t, next.CurrentLead)
}

func TestCancelled_AbandonsInFlightCall(t *testing.T) {
	job := dispatched(runningJob(3), "c1", testClock)
	next := cancelled(job, testClock)

	assert.Equal(t, models.JobStatusCancelled, next.Status)
	assert.Equal(t, 3, next.Abandoned)
	assert.Equal(t, 3, next.CurrentIndex)
	assert.Empty(t, next.CurrentConversationID)
	assert.Equal(t, "c1", next.Results[0].ConversationID)
	assert.Equal(t, models.OutcomeAbandoned, next.Results[0].Outcome)
}
