package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/dialq/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Users ---

func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, created_at, updated_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, created_at, updated_at FROM users WHERE lower(email) = lower($1)`, email,
	).Scan(&u.ID, &u.Email, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) GetAgentConfig(ctx context.Context, userID uuid.UUID) (*models.AgentConfig, error) {
	var c models.AgentConfig
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, agent_id, phone_number_id, updated_at FROM agent_configs WHERE user_id = $1`, userID,
	).Scan(&c.UserID, &c.AgentID, &c.PhoneNumberID, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent config: %w", err)
	}
	return &c, nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// --- Queue Jobs ---

const jobColumns = `id, owner_id, status, leads, total_leads, current_index, initiated, completed, failed,
	abandoned, current_conversation_id, current_lead, results, error, dispatched_at, created_at, updated_at`

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.QueueJob) error {
	leads, err := json.Marshal(job.Leads)
	if err != nil {
		return fmt.Errorf("encode leads: %w", err)
	}
	results, err := encodeResults(job.Results)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO queue_jobs (id, owner_id, status, leads, total_leads, current_index, results, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.OwnerID, job.Status, leads, job.TotalLeads, job.CurrentIndex, results,
		job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) (*models.QueueJob, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM queue_jobs WHERE id = $1 AND owner_id = $2`, id, ownerID))
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) GetJobByID(ctx context.Context, id uuid.UUID) (*models.QueueJob, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM queue_jobs WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get job by id: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) FindJobByConversation(ctx context.Context, conversationID string) (*models.QueueJob, error) {
	if conversationID == "" {
		return nil, ErrNotFound
	}
	job, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM queue_jobs
		 WHERE current_conversation_id = $1 AND status = 'running' LIMIT 1`, conversationID))
	if err != nil {
		return nil, fmt.Errorf("find job by conversation: %w", err)
	}
	return job, nil
}

// CompareAndAdvance writes next only if the row still has the expected
// status, index and conversation id and is not terminal. It reports whether
// the write landed.
func (s *PostgresStore) CompareAndAdvance(ctx context.Context, id uuid.UUID, expected Version, next *models.QueueJob) (bool, error) {
	results, err := encodeResults(next.Results)
	if err != nil {
		return false, err
	}
	var currentLead []byte
	if next.CurrentLead != nil {
		if currentLead, err = json.Marshal(next.CurrentLead); err != nil {
			return false, fmt.Errorf("encode current lead: %w", err)
		}
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE queue_jobs SET
		   status = $5, current_index = $6, initiated = $7, completed = $8, failed = $9,
		   abandoned = $10, current_conversation_id = $11, current_lead = $12, results = $13,
		   error = $14, dispatched_at = $15, updated_at = $16
		 WHERE id = $1 AND status = $2 AND current_index = $3 AND current_conversation_id = $4
		   AND status IN ('queued', 'running')`,
		id, expected.Status, expected.Index, expected.ConversationID,
		next.Status, next.CurrentIndex, next.Initiated, next.Completed, next.Failed,
		next.Abandoned, next.CurrentConversationID, currentLead, results,
		next.Error, next.DispatchedAt, next.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("compare and advance job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ListJobsByOwner(ctx context.Context, filter JobFilter) ([]*models.QueueJob, int, error) {
	conditions := []string{"owner_id = $1"}
	args := []any{filter.OwnerID}
	argIdx := 2

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM queue_jobs WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	page, limit := NormalizePage(filter.Page, filter.Limit)
	offset := (page - 1) * limit

	query := fmt.Sprintf(`SELECT %s FROM queue_jobs WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		jobColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	jobs, err := s.queryJobs(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, total, nil
}

// ListStalledJobs returns active jobs untouched since cutoff, oldest first.
func (s *PostgresStore) ListStalledJobs(ctx context.Context, cutoff time.Time, limit int) ([]*models.QueueJob, error) {
	jobs, err := s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM queue_jobs
		 WHERE status IN ('queued', 'running') AND updated_at < $1
		 ORDER BY updated_at ASC LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stalled jobs: %w", err)
	}
	return jobs, nil
}

func (s *PostgresStore) queryJobs(ctx context.Context, query string, args ...any) ([]*models.QueueJob, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []*models.QueueJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// NormalizePage clamps pagination input to page >= 1 and 1 <= limit <= 100.
func NormalizePage(page, limit int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if page <= 0 {
		page = 1
	}
	return page, limit
}

func scanJob(row pgx.Row) (*models.QueueJob, error) {
	var (
		j                           models.QueueJob
		leads, currentLead, results []byte
	)
	err := row.Scan(&j.ID, &j.OwnerID, &j.Status, &leads, &j.TotalLeads, &j.CurrentIndex,
		&j.Initiated, &j.Completed, &j.Failed, &j.Abandoned, &j.CurrentConversationID,
		&currentLead, &results, &j.Error, &j.DispatchedAt, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	if err := json.Unmarshal(leads, &j.Leads); err != nil {
		return nil, fmt.Errorf("decode leads: %w", err)
	}
	if len(currentLead) > 0 {
		var l models.Lead
		if err := json.Unmarshal(currentLead, &l); err != nil {
			return nil, fmt.Errorf("decode current lead: %w", err)
		}
		j.CurrentLead = &l
	}
	if err := json.Unmarshal(results, &j.Results); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}
	return &j, nil
}

func encodeResults(results []models.LeadResult) ([]byte, error) {
	if results == nil {
		results = []models.LeadResult{}
	}
	b, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("encode results: %w", err)
	}
	return b, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
