package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/crawlforge/crawlforge/domain/activity"
	"github.com/crawlforge/crawlforge/internal/storage"
	"github.com/crawlforge/crawlforge/internal/taskqueue"
)

// fakeStore is an in-memory serviceStore. Transactions buffer their
// writes and only apply them on Commit, so an aborted unit of work
// leaves the store exactly as it was.
type fakeStore struct {
	jobs        map[int64]*Job
	chunks      map[int64]*Chunk
	images      []ImageRecord
	nextJobID   int64
	nextChunkID int64
	member      bool
	beginErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:   map[int64]*Job{},
		chunks: map[int64]*Chunk{},
		member: true,
	}
}

func copyJob(j *Job) *Job {
	c := *j
	c.Keywords = append([]string(nil), j.Keywords...)
	c.TaskIDs = append([]string(nil), j.TaskIDs...)
	return &c
}

func (s *fakeStore) seedJob(job *Job) *Job {
	if job.ID == 0 {
		s.nextJobID++
		job.ID = s.nextJobID
	} else if job.ID > s.nextJobID {
		s.nextJobID = job.ID
	}
	s.jobs[job.ID] = job
	return job
}

func (s *fakeStore) seedChunk(chunk *Chunk) *Chunk {
	if chunk.ID == 0 {
		s.nextChunkID++
		chunk.ID = s.nextChunkID
	} else if chunk.ID > s.nextChunkID {
		s.nextChunkID = chunk.ID
	}
	s.chunks[chunk.ID] = chunk
	return chunk
}

func (s *fakeStore) jobChunks(jobID int64) []Chunk {
	var out []Chunk
	for _, c := range s.chunks {
		if c.JobID == jobID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out
}

func (s *fakeStore) Begin(context.Context) (Tx, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	return &fakeTx{store: s}, nil
}

func (s *fakeStore) Create(_ context.Context, job *Job) error {
	s.nextJobID++
	job.ID = s.nextJobID
	job.CreatedAt = time.Now().UTC()
	s.jobs[job.ID] = copyJob(job)
	return nil
}

func (s *fakeStore) GetForUser(_ context.Context, id int64, userID string) (*Job, error) {
	job := s.jobs[id]
	if job == nil || job.UserID != userID {
		return nil, nil
	}
	return copyJob(job), nil
}

func (s *fakeStore) UserInProject(context.Context, string, string) (bool, error) {
	return s.member, nil
}

func (s *fakeStore) ListForUser(_ context.Context, userID string, limit, offset int) ([]Job, int, error) {
	var out []Job
	for _, j := range s.jobs {
		if j.UserID == userID {
			out = append(out, *copyJob(j))
		}
	}
	return out, len(out), nil
}

func (s *fakeStore) ListByProject(_ context.Context, projectID string, limit, offset int) ([]Job, int, error) {
	var out []Job
	for _, j := range s.jobs {
		if j.ProjectID == projectID {
			out = append(out, *copyJob(j))
		}
	}
	return out, len(out), nil
}

func (s *fakeStore) ListChunks(_ context.Context, jobID int64) ([]Chunk, error) {
	return s.jobChunks(jobID), nil
}

func (s *fakeStore) ListImages(_ context.Context, jobID int64, limit, offset int) ([]ImageRecord, int, error) {
	var out []ImageRecord
	for _, img := range s.images {
		if img.JobID == jobID {
			out = append(out, img)
		}
	}
	return out, len(out), nil
}

// SumActiveChunks satisfies activeChunkCounter for the capacity monitor
func (s *fakeStore) SumActiveChunks(context.Context) (int, error) {
	n := 0
	for _, c := range s.chunks {
		if c.Status == ChunkProcessing {
			n++
		}
	}
	return n, nil
}

// fakeTx implements Tx over the fakeStore. Reads see the committed
// state; writes queue up and apply atomically on Commit.
type fakeTx struct {
	store     *fakeStore
	pending   []func(*fakeStore)
	committed bool
}

func (t *fakeTx) IDB() bun.IDB { return nil }

func (t *fakeTx) GetJobForUpdate(_ context.Context, id int64) (*Job, error) {
	job := t.store.jobs[id]
	if job == nil {
		return nil, nil
	}
	return copyJob(job), nil
}

func (t *fakeTx) GetChunk(_ context.Context, jobID, chunkID int64) (*Chunk, error) {
	chunk := t.store.chunks[chunkID]
	if chunk == nil || chunk.JobID != jobID {
		return nil, nil
	}
	c := *chunk
	return &c, nil
}

func (t *fakeTx) ListChunksForDispatch(_ context.Context, jobID int64) ([]Chunk, error) {
	var out []Chunk
	for _, c := range t.store.jobChunks(jobID) {
		if c.Status == ChunkPending {
			out = append(out, c)
		}
	}
	return out, nil
}

func (t *fakeTx) Update(_ context.Context, job *Job) error {
	snapshot := copyJob(job)
	t.pending = append(t.pending, func(s *fakeStore) {
		s.jobs[snapshot.ID] = snapshot
	})
	return nil
}

func (t *fakeTx) UpdateChunk(_ context.Context, chunk *Chunk) error {
	snapshot := *chunk
	t.pending = append(t.pending, func(s *fakeStore) {
		s.chunks[snapshot.ID] = &snapshot
	})
	return nil
}

func (t *fakeTx) BulkCreateChunks(_ context.Context, chunks []Chunk) error {
	batch := append([]Chunk(nil), chunks...)
	t.pending = append(t.pending, func(s *fakeStore) {
		for i := range batch {
			s.nextChunkID++
			batch[i].ID = s.nextChunkID
			c := batch[i]
			s.chunks[c.ID] = &c
		}
	})
	return nil
}

func (t *fakeTx) BulkCreateImages(_ context.Context, images []ImageRecord) error {
	batch := append([]ImageRecord(nil), images...)
	t.pending = append(t.pending, func(s *fakeStore) {
		s.images = append(s.images, batch...)
	})
	return nil
}

func (t *fakeTx) DeleteChunks(_ context.Context, jobID int64) error {
	t.pending = append(t.pending, func(s *fakeStore) {
		for id, c := range s.chunks {
			if c.JobID == jobID {
				delete(s.chunks, id)
			}
		}
	})
	return nil
}

func (t *fakeTx) Commit() error {
	if t.committed {
		return nil
	}
	for _, apply := range t.pending {
		apply(t.store)
	}
	t.pending = nil
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback() error {
	if !t.committed {
		t.pending = nil
	}
	return nil
}

// fakeQueue records submissions and revocations. failOn makes the nth
// enqueue fail to exercise mid-dispatch aborts.
type fakeQueue struct {
	enqueued  []taskqueue.Signature
	revoked   []string
	calls     int
	failOn    int
	revokeErr error
}

func (q *fakeQueue) Enqueue(ctx context.Context, sig taskqueue.Signature) (string, error) {
	return q.EnqueueTx(ctx, nil, sig)
}

func (q *fakeQueue) EnqueueTx(_ context.Context, _ bun.IDB, sig taskqueue.Signature) (string, error) {
	q.calls++
	if q.failOn > 0 && q.calls == q.failOn {
		return "", errors.New("queue insert failed")
	}
	q.enqueued = append(q.enqueued, sig)
	return fmt.Sprintf("task-%d", q.calls), nil
}

func (q *fakeQueue) Revoke(_ context.Context, taskID string, _ bool) error {
	if q.revokeErr != nil {
		return q.revokeErr
	}
	q.revoked = append(q.revoked, taskID)
	return nil
}

// fakeObjectStore is an in-memory storage.Store
type fakeObjectStore struct {
	keys    map[string]struct{}
	listErr error
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{keys: map[string]struct{}{}}
}

func (f *fakeObjectStore) Put(_ context.Context, key string, _ io.Reader, _ int64) error {
	f.keys[key] = struct{}{}
	return nil
}

func (f *fakeObjectStore) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeObjectStore) Delete(_ context.Context, key string) error {
	delete(f.keys, key)
	return nil
}

func (f *fakeObjectStore) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []storage.ObjectInfo
	for key := range f.keys {
		if strings.HasPrefix(key, prefix) {
			out = append(out, storage.ObjectInfo{Key: key})
		}
	}
	return out, nil
}

func (f *fakeObjectStore) Presign(context.Context, string, time.Duration) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeObjectStore) UsagePercent(context.Context) (*float64, error) {
	return nil, nil
}

// fakeRecorder captures audit entries synchronously
type fakeRecorder struct {
	entries []*activity.Entry
}

func (f *fakeRecorder) Record(entry *activity.Entry) {
	f.entries = append(f.entries, entry)
}

// fakeReclaimer captures chunk reclamation requests
type fakeReclaimer struct {
	jobIDs    []int64
	chunkIDs  []int64
	filenames [][]string
}

func (f *fakeReclaimer) ReclaimChunk(jobID, chunkID int64, filenames []string) {
	f.jobIDs = append(f.jobIDs, jobID)
	f.chunkIDs = append(f.chunkIDs, chunkID)
	f.filenames = append(f.filenames, filenames)
}

// storeCounts adapts the fakeStore to quota.UsageCounts
type storeCounts struct {
	store *fakeStore
}

func (c storeCounts) CountActiveJobs(_ context.Context, userID string, excludeJobID int64) (int, error) {
	n := 0
	for id, j := range c.store.jobs {
		if j.UserID != userID || id == excludeJobID {
			continue
		}
		if j.Status == StatusPending || j.Status == StatusRunning {
			n++
		}
	}
	return n, nil
}

func (c storeCounts) CountJobsToday(_ context.Context, userID string) (int, error) {
	n := 0
	for _, j := range c.store.jobs {
		if j.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (c storeCounts) CountProjects(context.Context, string) (int, error) { return 0, nil }
func (c storeCounts) CountMembers(context.Context, string) (int, error)  { return 0, nil }
