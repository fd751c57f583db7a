package job

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

const jobsTable = "jobs"

var jobColumns = []string{
	"id", "source", "requested_engine", "effective_engine", "kind", "status",
	"progress", "engine_handle", "save_path", "title", "note", "created_at", "updated_at",
}

// runner executes already-built SQL. The pgx and database/sql adapters
// implement it so both backends share the statements below.
type runner interface {
	exec(ctx context.Context, query string, args ...any) (int64, error)
	query(ctx context.Context, query string, args []any, each func(scan func(dest ...any) error) error) error
}

// SQLStore is the Store implementation shared by the Postgres and SQLite
// backends.
type SQLStore struct {
	db  runner
	sb  sq.StatementBuilderType
	now func() time.Time
}

var _ Store = (*SQLStore)(nil)

func newSQLStore(db runner, placeholder sq.PlaceholderFormat) *SQLStore {
	return &SQLStore{
		db:  db,
		sb:  sq.StatementBuilder.PlaceholderFormat(placeholder),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *SQLStore) Create(ctx context.Context, j *Job) error {
	now := s.now()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = j.CreatedAt
	if j.Status == "" {
		j.Status = StatusStarting
	}

	query, args, err := s.sb.Insert(jobsTable).
		Columns(jobColumns...).
		Values(
			j.ID, j.Source, j.RequestedEngine, nullString(j.EffectiveEngine), string(j.Kind), string(j.Status),
			j.Progress, nullString(j.EngineHandle), nullString(j.SavePath), nullString(j.Title), nullString(j.Note),
			j.CreatedAt, j.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.db.exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Job, error) {
	jobs, err := s.selectJobs(ctx, s.sb.Select(jobColumns...).From(jobsTable).Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, ErrNotFound
	}
	return jobs[0], nil
}

func (s *SQLStore) List(ctx context.Context, includeDeleted bool) ([]*Job, error) {
	b := s.sb.Select(jobColumns...).From(jobsTable).OrderBy("created_at DESC", "id")
	if !includeDeleted {
		b = b.Where(sq.NotEq{"status": string(StatusDeleted)})
	}
	return s.selectJobs(ctx, b)
}

func (s *SQLStore) ListByStatus(ctx context.Context, statuses ...Status) ([]*Job, error) {
	values := make([]string, len(statuses))
	for i, st := range statuses {
		values[i] = string(st)
	}
	return s.selectJobs(ctx, s.sb.Select(jobColumns...).From(jobsTable).
		Where(sq.Eq{"status": values}).
		OrderBy("created_at", "id"))
}

func (s *SQLStore) Update(ctx context.Context, id string, u Update) error {
	if u.empty() {
		return nil
	}

	b := s.sb.Update(jobsTable).Set("updated_at", s.now())
	if u.Status != nil {
		b = b.Set("status", string(*u.Status))
	}
	if u.Progress != nil {
		b = b.Set("progress", clampProgress(*u.Progress))
	}
	if u.SavePath != nil {
		b = b.Set("save_path", nullString(*u.SavePath))
	}
	if u.Title != nil {
		b = b.Set("title", nullString(*u.Title))
	}

	query, args, err := b.Where(sq.Eq{"id": id}).
		Where(sq.NotEq{"status": string(StatusDeleted)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	n, err := s.db.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n == 0 {
		return s.missingReason(ctx, id, nil)
	}
	return nil
}

func (s *SQLStore) SetEngine(ctx context.Context, id, engine, handle string) error {
	if handle == "" {
		return fmt.Errorf("set engine: empty handle")
	}
	query, args, err := s.sb.Update(jobsTable).
		Set("effective_engine", engine).
		Set("engine_handle", handle).
		Set("status", string(StatusDownloading)).
		Set("updated_at", s.now()).
		Where(sq.Eq{"id": id, "engine_handle": nil}).
		Where(sq.NotEq{"status": string(StatusDeleted)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build set engine: %w", err)
	}
	n, err := s.db.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("set engine: %w", err)
	}
	if n == 0 {
		return s.missingReason(ctx, id, ErrHandleAlreadySet)
	}
	return nil
}

// missingReason explains why a guarded write touched no rows.
func (s *SQLStore) missingReason(ctx context.Context, id string, otherwise error) error {
	j, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.Status == StatusDeleted {
		return ErrDeleted
	}
	return otherwise
}

func (s *SQLStore) selectJobs(ctx context.Context, b sq.SelectBuilder) ([]*Job, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var jobs []*Job
	err = s.db.query(ctx, query, args, func(scan func(dest ...any) error) error {
		var (
			j                                        Job
			kind, status                             string
			effective, handle, savePath, title, note sql.NullString
			createdAt, updatedAt                     dbTime
		)
		if err := scan(
			&j.ID, &j.Source, &j.RequestedEngine, &effective, &kind, &status,
			&j.Progress, &handle, &savePath, &title, &note, &createdAt, &updatedAt,
		); err != nil {
			return err
		}
		j.Kind = Kind(kind)
		j.Status = Status(status)
		j.EffectiveEngine = effective.String
		j.EngineHandle = handle.String
		j.SavePath = savePath.String
		j.Title = title.String
		j.Note = note.String
		j.CreatedAt = createdAt.Time
		j.UpdatedAt = updatedAt.Time
		jobs = append(jobs, &j)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("select jobs: %w", err)
	}
	return jobs, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func clampProgress(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
