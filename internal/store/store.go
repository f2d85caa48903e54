package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/dialq/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetAgentConfig(ctx context.Context, userID uuid.UUID) (*models.AgentConfig, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	JobStore
}

// JobStore is the subset of Store the queue runner depends on.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.QueueJob) error
	GetJob(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) (*models.QueueJob, error)
	GetJobByID(ctx context.Context, id uuid.UUID) (*models.QueueJob, error)
	FindJobByConversation(ctx context.Context, conversationID string) (*models.QueueJob, error)
	CompareAndAdvance(ctx context.Context, id uuid.UUID, expected Version, next *models.QueueJob) (bool, error)
	ListJobsByOwner(ctx context.Context, filter JobFilter) ([]*models.QueueJob, int, error)
	ListStalledJobs(ctx context.Context, cutoff time.Time, limit int) ([]*models.QueueJob, error)
}

// Version identifies the exact job state a writer observed. A
// CompareAndAdvance only lands if the row still matches it.
type Version struct {
	Status         models.JobStatus
	Index          int
	ConversationID string
}

// VersionOf captures the CAS expectation for job.
func VersionOf(job *models.QueueJob) Version {
	return Version{
		Status:         job.Status,
		Index:          job.CurrentIndex,
		ConversationID: job.CurrentConversationID,
	}
}

type JobFilter struct {
	OwnerID uuid.UUID
	Status  models.JobStatus
	Page    int
	Limit   int
}
