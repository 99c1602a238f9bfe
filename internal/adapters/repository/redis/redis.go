// Package redis implements repository.Store on Redis. Records are JSON
// strings; a compare-and-swap WATCHes every key it writes, checks the stored
// versions, and commits in one MULTI/EXEC.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/okian/installmatch/internal/adapters/repository"
	"github.com/okian/installmatch/internal/domain/model"
	"github.com/okian/installmatch/pkg/logger"
	"github.com/okian/installmatch/pkg/metrics"
	"github.com/redis/go-redis/v9"
)

// Store is a Redis-backed repository.Store. It owns the client and closes it.
type Store struct {
	client redis.UniversalClient
	prefix string
	logger logger.Logger
}

var _ repository.Store = (*Store)(nil)

// New wraps client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: DefaultKeyPrefix, logger: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close closes the client.
func (s *Store) Close() error { return s.client.Close() }

// Now reads the server clock with TIME.
func (s *Store) Now(ctx context.Context) (time.Time, error) {
	t, err := s.client.Time(ctx).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("read redis clock: %w", err)
	}
	return t.UTC(), nil
}

func (s *Store) GetJob(ctx context.Context, id string) (model.Job, error) {
	var j model.Job
	err := s.getDoc(ctx, s.jobKey(id), &j)
	if errors.Is(err, redis.Nil) {
		return model.Job{}, fmt.Errorf("%w: %s", repository.ErrJobNotFound, id)
	}
	return j, err
}

func (s *Store) GetContractor(ctx context.Context, id string) (model.Contractor, error) {
	var c model.Contractor
	err := s.getDoc(ctx, s.contractorKey(id), &c)
	if errors.Is(err, redis.Nil) {
		return model.Contractor{}, fmt.Errorf("%w: %s", repository.ErrContractorNotFound, id)
	}
	return c, err
}

func (s *Store) GetAssignment(ctx context.Context, id string) (model.Assignment, error) {
	var a model.Assignment
	err := s.getDoc(ctx, s.assignmentKey(id), &a)
	if errors.Is(err, redis.Nil) {
		return model.Assignment{}, fmt.Errorf("%w: %s", repository.ErrAssignmentNotFound, id)
	}
	return a, err
}

func (s *Store) getDoc(ctx context.Context, key string, dst any) error {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// pending is one record of a swap, encoded and ready to write.
type pending struct {
	kind  string
	id    string
	key   string
	idSet string
	want  int64
	doc   []byte
	jobID string
}

// CompareAndSwap commits the swap only if no watched key changed and every
// stored version matches. A concurrent writer aborts the EXEC, which is
// reported as a version conflict.
func (s *Store) CompareAndSwap(ctx context.Context, sw model.Swap) error {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryLatency("cas", float64(time.Since(start).Microseconds())/1000)
	}()

	var writes []pending
	if sw.Job != nil {
		j := sw.Job.Clone()
		j.Version++
		doc, err := json.Marshal(j)
		if err != nil {
			return fmt.Errorf("encode job %s: %w", j.ID, err)
		}
		writes = append(writes, pending{kind: "job", id: j.ID, key: s.jobKey(j.ID), idSet: s.jobIDsKey(), want: sw.Job.Version, doc: doc})
	}
	if sw.Contractor != nil {
		c := sw.Contractor.Clone()
		c.Version++
		doc, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("encode contractor %s: %w", c.ID, err)
		}
		writes = append(writes, pending{kind: "contractor", id: c.ID, key: s.contractorKey(c.ID), idSet: s.contractorIDsKey(), want: sw.Contractor.Version, doc: doc})
	}
	if sw.Assignment != nil {
		a := sw.Assignment.Clone()
		a.Version++
		doc, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("encode assignment %s: %w", a.ID, err)
		}
		writes = append(writes, pending{kind: "assignment", id: a.ID, key: s.assignmentKey(a.ID), idSet: s.assignmentIDsKey(), want: sw.Assignment.Version, doc: doc, jobID: a.JobID})
	}
	if len(writes) == 0 {
		return nil
	}

	keys := make([]string, len(writes))
	for i, w := range writes {
		keys[i] = w.key
	}

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		for _, w := range writes {
			if err := s.checkVersion(ctx, tx, w); err != nil {
				return err
			}
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, w := range writes {
				pipe.Set(ctx, w.key, w.doc, 0)
				pipe.SAdd(ctx, w.idSet, w.id)
				if w.jobID != "" {
					pipe.SAdd(ctx, s.jobAssignmentsKey(w.jobID), w.id)
				}
			}
			return nil
		})
		return err
	}, keys...)

	if errors.Is(err, redis.TxFailedErr) {
		metrics.RecordRepositoryConflict()
		s.logger.Debug(ctx, "redis swap aborted by concurrent write", logger.Any("keys", keys))
		return fmt.Errorf("%w: watched keys changed", repository.ErrConflict)
	}
	return err
}

func (s *Store) checkVersion(ctx context.Context, tx *redis.Tx, w pending) error {
	raw, err := tx.Get(ctx, w.key).Bytes()
	exists := true
	if errors.Is(err, redis.Nil) {
		exists = false
	} else if err != nil {
		return fmt.Errorf("read %s %s: %w", w.kind, w.id, err)
	}

	var have struct {
		Version int64 `json:"version"`
	}
	if exists {
		if err := json.Unmarshal(raw, &have); err != nil {
			return fmt.Errorf("decode %s %s: %w", w.kind, w.id, err)
		}
	}
	if (w.want == 0 && !exists) || (exists && have.Version == w.want) {
		return nil
	}
	metrics.RecordRepositoryConflict()
	return fmt.Errorf("%w: %s %s expected version %d, stored %d", repository.ErrConflict, w.kind, w.id, w.want, have.Version)
}

func (s *Store) CreateJob(ctx context.Context, job model.Job) (model.Job, error) {
	return repository.InsertJob(ctx, s, job)
}

func (s *Store) PutContractor(ctx context.Context, c model.Contractor) (model.Contractor, error) {
	return repository.SaveContractor(ctx, s, c)
}

func (s *Store) ListJobs(ctx context.Context, f repository.JobFilter) ([]model.Job, error) {
	if err := repository.CheckLimit(f.Limit); err != nil {
		return nil, err
	}
	all, err := loadAll[model.Job](ctx, s, s.jobIDsKey(), s.jobKey)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, j := range all {
		if f.Match(j) {
			out = append(out, j)
		}
	}
	return repository.SortJobs(out, f.Limit), nil
}

func (s *Store) ListContractors(ctx context.Context, f repository.ContractorFilter) ([]model.Contractor, error) {
	if err := repository.CheckLimit(f.Limit); err != nil {
		return nil, err
	}
	all, err := loadAll[model.Contractor](ctx, s, s.contractorIDsKey(), s.contractorKey)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, c := range all {
		if f.Match(c) {
			out = append(out, c)
		}
	}
	return repository.SortContractors(out, f.Limit), nil
}

func (s *Store) ListAssignments(ctx context.Context, jobID string) ([]model.Assignment, error) {
	as, err := loadAll[model.Assignment](ctx, s, s.jobAssignmentsKey(jobID), s.assignmentKey)
	if err != nil {
		return nil, err
	}
	return repository.SortAssignments(as), nil
}

func (s *Store) Stats(ctx context.Context) (repository.Stats, error) {
	st := repository.Stats{Jobs: make(map[model.JobStatus]int)}
	jobs, err := loadAll[model.Job](ctx, s, s.jobIDsKey(), s.jobKey)
	if err != nil {
		return st, err
	}
	for _, j := range jobs {
		st.Jobs[j.Status]++
	}
	contractors, err := s.client.SCard(ctx, s.contractorIDsKey()).Result()
	if err != nil {
		return st, fmt.Errorf("count contractors: %w", err)
	}
	assignments, err := s.client.SCard(ctx, s.assignmentIDsKey()).Result()
	if err != nil {
		return st, fmt.Errorf("count assignments: %w", err)
	}
	st.Contractors = int(contractors)
	st.Assignments = int(assignments)
	return st, nil
}

// loadAll reads every document whose id is in the set idsKey.
func loadAll[T any](ctx context.Context, s *Store, idsKey string, key func(string) string) ([]T, error) {
	ids, err := s.client.SMembers(ctx, idsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", idsKey, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = key(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", idsKey, err)
	}

	out := make([]T, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var doc T
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", keys[i], err)
		}
		out = append(out, doc)
	}
	return out, nil
}
