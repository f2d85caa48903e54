package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/dialq/internal/config"
	"github.com/kiranshivaraju/dialq/internal/store"
	"github.com/kiranshivaraju/dialq/internal/voice"
	"github.com/kiranshivaraju/dialq/pkg/models"
)

// --- in-memory job store ---

type memStore struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*models.QueueJob
	creates   int
	createErr error
	casErr    error
	// findMisses makes the next N FindJobByConversation calls report
	// not-found regardless of state.
	findMisses int
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[uuid.UUID]*models.QueueJob)}
}

func (s *memStore) CreateJob(_ context.Context, job *models.QueueJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if _, ok := s.jobs[job.ID]; ok {
		return store.ErrDuplicateKey
	}
	s.creates++
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *memStore) GetJob(_ context.Context, id, ownerID uuid.UUID) (*models.QueueJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.OwnerID != ownerID {
		return nil, fmt.Errorf("get job: %w", store.ErrNotFound)
	}
	return job.Clone(), nil
}

func (s *memStore) GetJobByID(_ context.Context, id uuid.UUID) (*models.QueueJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("get job by id: %w", store.ErrNotFound)
	}
	return job.Clone(), nil
}

func (s *memStore) FindJobByConversation(_ context.Context, conversationID string) (*models.QueueJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findMisses > 0 {
		s.findMisses--
		return nil, store.ErrNotFound
	}
	if conversationID == "" {
		return nil, store.ErrNotFound
	}
	for _, job := range s.jobs {
		if job.Status == models.JobStatusRunning && job.CurrentConversationID == conversationID {
			return job.Clone(), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *memStore) CompareAndAdvance(_ context.Context, id uuid.UUID, expected store.Version, next *models.QueueJob) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.casErr != nil {
		return false, s.casErr
	}
	job, ok := s.jobs[id]
	if !ok || job.Status.Terminal() || store.VersionOf(job) != expected {
		return false, nil
	}
	stored := next.Clone()
	stored.ID = job.ID
	stored.OwnerID = job.OwnerID
	stored.Leads = job.Leads
	stored.CreatedAt = job.CreatedAt
	s.jobs[id] = stored
	return true, nil
}

func (s *memStore) ListJobsByOwner(_ context.Context, filter store.JobFilter) ([]*models.QueueJob, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*models.QueueJob
	for _, job := range s.jobs {
		if job.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		matched = append(matched, job.Clone())
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	page, limit := store.NormalizePage(filter.Page, filter.Limit)
	start := (page - 1) * limit
	if start > len(matched) {
		start = len(matched)
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], len(matched), nil
}

func (s *memStore) ListStalledJobs(_ context.Context, cutoff time.Time, limit int) ([]*models.QueueJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.QueueJob
	for _, job := range s.jobs {
		if !job.Status.Terminal() && job.UpdatedAt.Before(cutoff) {
			out = append(out, job.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) get(id uuid.UUID) *models.QueueJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		return job.Clone()
	}
	return nil
}

func (s *memStore) put(job *models.QueueJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
}

var _ store.JobStore = (*memStore)(nil)

// --- in-memory outcome stash ---

type memStash struct {
	mu      sync.Mutex
	entries map[string][]byte
	err     error
}

func newMemStash() *memStash {
	return &memStash{entries: make(map[string][]byte)}
}

func (s *memStash) StashOutcome(_ context.Context, conversationID string, payload []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries[conversationID] = payload
	return nil
}

func (s *memStash) TakeOutcome(_ context.Context, conversationID string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, false, s.err
	}
	v, ok := s.entries[conversationID]
	delete(s.entries, conversationID)
	return v, ok, nil
}

func (s *memStash) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// --- scripted dispatcher ---

// scriptedDispatcher returns errs[n] for the n-th dispatch (nil entries and
// calls past the script succeed) and hands out conversation ids c1, c2, ...
// for every success.
type scriptedDispatcher struct {
	mu       sync.Mutex
	readyErr error
	errs     []error
	calls    []models.Lead
	seq      int
	// onDispatch runs after a successful placement, outside the lock.
	onDispatch func(conversationID string)
}

func (d *scriptedDispatcher) Ready(_ context.Context, _ uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readyErr
}

func (d *scriptedDispatcher) Dispatch(_ context.Context, _ uuid.UUID, lead models.Lead) (string, error) {
	d.mu.Lock()
	n := len(d.calls)
	d.calls = append(d.calls, lead)
	var err error
	if n < len(d.errs) {
		err = d.errs[n]
	}
	if err != nil {
		d.mu.Unlock()
		return "", err
	}
	d.seq++
	id := fmt.Sprintf("c%d", d.seq)
	hook := d.onDispatch
	d.mu.Unlock()

	if hook != nil {
		hook(id)
	}
	return id, nil
}

func (d *scriptedDispatcher) dispatched() []models.Lead {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.Lead(nil), d.calls...)
}

// --- helpers ---

var testClock = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type harness struct {
	store      *memStore
	stash      *memStash
	dispatcher *scriptedDispatcher
	runner     *Runner
	now        time.Time
}

func newHarness(errs ...error) *harness {
	h := &harness{
		store:      newMemStore(),
		stash:      newMemStash(),
		dispatcher: &scriptedDispatcher{errs: errs},
		now:        testClock,
	}
	h.runner = NewRunner(h.store, h.dispatcher, h.stash, config.QueueConfig{
		MaxLeads:        5,
		StallTimeout:    15 * time.Minute,
		OutcomeStashTTL: 10 * time.Minute,
	})
	h.runner.now = func() time.Time { return h.now }
	return h
}

func (h *harness) tick(d time.Duration) { h.now = h.now.Add(d) }

func twoLeads() []models.Lead {
	return []models.Lead{
		{FirstName: "A", Phone: "+15550000001"},
		{FirstName: "B", Phone: "+15550000002"},
	}
}

func nLeads(n int) []models.Lead {
	leads := make([]models.Lead, n)
	for i := range leads {
		leads[i] = models.Lead{FirstName: fmt.Sprintf("L%d", i), Phone: fmt.Sprintf("+1555000%04d", i)}
	}
	return leads
}

func unavailable() error {
	return fmt.Errorf("%w: status 500", voice.ErrProviderUnavailable)
}

func rejectedErr() error {
	return fmt.Errorf("%w: invalid number", voice.ErrProviderRejected)
}
