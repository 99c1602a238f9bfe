// Package postgres implements repository.Store on PostgreSQL. Records are
// JSONB documents next to the columns used for filtering and the version
// column every compare-and-swap checks.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/okian/installmatch/internal/adapters/repository"
	"github.com/okian/installmatch/internal/domain/model"
	"github.com/okian/installmatch/pkg/logger"
	"github.com/okian/installmatch/pkg/metrics"
)

//go:embed schema.sql
var schema string

// Store is a pgxpool-backed repository.Store.
type Store struct {
	pool        *pgxpool.Pool
	maxConns    int32
	minConns    int32
	maxLifetime time.Duration
	logger      logger.Logger
}

var _ repository.Store = (*Store)(nil)

// New connects to dsn, verifies the connection and applies the schema.
func New(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	s := &Store{
		maxConns:    25,
		minConns:    2,
		maxLifetime: 30 * time.Minute,
		logger:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = s.maxConns
	cfg.MinConns = min(s.minConns, s.maxConns)
	cfg.MaxConnLifetime = s.maxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s.pool = pool

	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	s.logger.Info(ctx, "postgres store ready", logger.Int("max_conns", int(s.maxConns)))
	return s, nil
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply postgres schema: %w", err)
	}
	return nil
}

// Truncate removes every record. Tests use it to start from empty.
func (s *Store) Truncate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE installmatch_jobs, installmatch_contractors, installmatch_assignments`)
	return err
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Now reads the database clock.
func (s *Store) Now(ctx context.Context) (time.Time, error) {
	var t time.Time
	if err := s.pool.QueryRow(ctx, `SELECT now()`).Scan(&t); err != nil {
		return time.Time{}, fmt.Errorf("read postgres clock: %w", err)
	}
	return t.UTC(), nil
}

func (s *Store) GetJob(ctx context.Context, id string) (model.Job, error) {
	var j model.Job
	err := s.getDoc(ctx, `SELECT doc FROM installmatch_jobs WHERE id = $1`, id, &j)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Job{}, fmt.Errorf("%w: %s", repository.ErrJobNotFound, id)
	}
	return j, err
}

func (s *Store) GetContractor(ctx context.Context, id string) (model.Contractor, error) {
	var c model.Contractor
	err := s.getDoc(ctx, `SELECT doc FROM installmatch_contractors WHERE id = $1`, id, &c)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Contractor{}, fmt.Errorf("%w: %s", repository.ErrContractorNotFound, id)
	}
	return c, err
}

func (s *Store) GetAssignment(ctx context.Context, id string) (model.Assignment, error) {
	var a model.Assignment
	err := s.getDoc(ctx, `SELECT doc FROM installmatch_assignments WHERE id = $1`, id, &a)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Assignment{}, fmt.Errorf("%w: %s", repository.ErrAssignmentNotFound, id)
	}
	return a, err
}

func (s *Store) getDoc(ctx context.Context, query, id string, dst any) error {
	var doc []byte
	if err := s.pool.QueryRow(ctx, query, id).Scan(&doc); err != nil {
		return err
	}
	if err := json.Unmarshal(doc, dst); err != nil {
		return fmt.Errorf("decode %s: %w", id, err)
	}
	return nil
}

// CompareAndSwap writes the swap in one transaction. Each row is inserted
// when its expected version is zero and updated only where the version still
// matches; a row that is not affected rolls back the whole swap.
func (s *Store) CompareAndSwap(ctx context.Context, sw model.Swap) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryLatency("cas", float64(time.Since(start).Microseconds())/1000)
	}()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin swap: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if sw.Job != nil {
		j := sw.Job.Clone()
		j.Version++
		doc, err := json.Marshal(j)
		if err != nil {
			return fmt.Errorf("encode job %s: %w", j.ID, err)
		}
		if err := s.write(ctx, tx, "job", j.ID, sw.Job.Version,
			`INSERT INTO installmatch_jobs (id, seller_id, status, assigned_contractor_id, created_at, version, doc)
			 VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (id) DO NOTHING`,
			`UPDATE installmatch_jobs SET seller_id = $2, status = $3, assigned_contractor_id = $4,
			 created_at = $5, version = $6, doc = $7 WHERE id = $1 AND version = $8`,
			j.ID, j.SellerID, string(j.Status), j.AssignedContractorID, j.CreatedAt, j.Version, doc,
		); err != nil {
			return err
		}
	}
	if sw.Contractor != nil {
		c := sw.Contractor.Clone()
		c.Version++
		doc, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("encode contractor %s: %w", c.ID, err)
		}
		if err := s.write(ctx, tx, "contractor", c.ID, sw.Contractor.Version,
			`INSERT INTO installmatch_contractors (id, active, version, doc)
			 VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING`,
			`UPDATE installmatch_contractors SET active = $2, version = $3, doc = $4
			 WHERE id = $1 AND version = $5`,
			c.ID, c.Eligible(), c.Version, doc,
		); err != nil {
			return err
		}
	}
	if sw.Assignment != nil {
		a := sw.Assignment.Clone()
		a.Version++
		doc, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("encode assignment %s: %w", a.ID, err)
		}
		if err := s.write(ctx, tx, "assignment", a.ID, sw.Assignment.Version,
			`INSERT INTO installmatch_assignments (id, job_id, created_at, version, doc)
			 VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`,
			`UPDATE installmatch_assignments SET job_id = $2, created_at = $3, version = $4, doc = $5
			 WHERE id = $1 AND version = $6`,
			a.ID, a.JobID, a.CreatedAt, a.Version, doc,
		); err != nil {
			return err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit swap: %w", err)
	}
	return nil
}

// write runs insert when want is zero and update otherwise. The update
// receives want as its last argument.
func (s *Store) write(ctx context.Context, tx pgx.Tx, kind, id string, want int64, insert, update string, args ...any) error {
	query := insert
	if want != 0 {
		query = update
		args = append(args, want)
	}
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("write %s %s: %w", kind, id, err)
	}
	if tag.RowsAffected() == 0 {
		metrics.RecordRepositoryConflict()
		return fmt.Errorf("%w: %s %s at version %d", repository.ErrConflict, kind, id, want)
	}
	return nil
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
	var (
		where []string
		args  []any
	)
	add := func(col, val string) {
		args = append(args, val)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if f.Status != "" {
		add("status", string(f.Status))
	}
	if f.SellerID != "" {
		add("seller_id", f.SellerID)
	}
	if f.ContractorID != "" {
		add("assigned_contractor_id", f.ContractorID)
	}

	query := `SELECT doc FROM installmatch_jobs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at, id`
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}
	return listDocs[model.Job](ctx, s.pool, query, args...)
}

func (s *Store) ListContractors(ctx context.Context, f repository.ContractorFilter) ([]model.Contractor, error) {
	if err := repository.CheckLimit(f.Limit); err != nil {
		return nil, err
	}
	query := `SELECT doc FROM installmatch_contractors`
	if f.ActiveOnly {
		query += ` WHERE active`
	}
	all, err := listDocs[model.Contractor](ctx, s.pool, query)
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
	return listDocs[model.Assignment](ctx, s.pool,
		`SELECT doc FROM installmatch_assignments WHERE job_id = $1 ORDER BY created_at, id`, jobID)
}

func (s *Store) Stats(ctx context.Context) (repository.Stats, error) {
	st := repository.Stats{Jobs: make(map[model.JobStatus]int)}
	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM installmatch_jobs GROUP BY status`)
	if err != nil {
		return st, fmt.Errorf("count jobs: %w", err)
	}
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return st, err
		}
		st.Jobs[model.JobStatus(status)] = int(n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return st, err
	}

	var contractors, assignments int64
	err = s.pool.QueryRow(ctx, `SELECT
		(SELECT count(*) FROM installmatch_contractors),
		(SELECT count(*) FROM installmatch_assignments)`).Scan(&contractors, &assignments)
	if err != nil {
		return st, fmt.Errorf("count records: %w", err)
	}
	st.Contractors = int(contractors)
	st.Assignments = int(assignments)
	return st, nil
}

func listDocs[T any](ctx context.Context, pool *pgxpool.Pool, query string, args ...any) ([]T, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal(doc, &v); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
