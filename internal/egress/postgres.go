package egress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"callflow/pkg/utils"
)

// NOTE: This repository assumes the following tables exist:
//
//	CREATE TABLE egress_jobs (
//	  egress_id   TEXT PRIMARY KEY,
//	  session_id  TEXT NOT NULL DEFAULT '',
//	  room_name   TEXT NOT NULL,
//	  target_path TEXT NOT NULL DEFAULT '',
//	  status      TEXT NOT NULL,
//	  error       TEXT NOT NULL DEFAULT '',
//	  started_at  TIMESTAMPTZ NULL,
//	  ended_at    TIMESTAMPTZ NULL,
//	  updated_at  TIMESTAMPTZ NOT NULL
//	);
//	CREATE TABLE egress_files (
//	  egress_id   TEXT NOT NULL REFERENCES egress_jobs (egress_id) ON DELETE CASCADE,
//	  position    INT  NOT NULL,
//	  filename    TEXT NOT NULL,
//	  size_bytes  BIGINT NOT NULL,
//	  location    TEXT NOT NULL DEFAULT '',
//	  duration_ns BIGINT NOT NULL DEFAULT 0,
//	  PRIMARY KEY (egress_id, position)
//	);

// PostgresRepo is the egress job registry shared by every agent replica.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Save(ctx context.Context, j Job) error {
	if j.EgressID == "" {
		return errors.New("egress: job without egress id")
	}
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		// A terminal row is never overwritten, even by a replica that saw an
		// older report.
		const upsert = `
INSERT INTO egress_jobs (egress_id, session_id, room_name, target_path, status, error, started_at, ended_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (egress_id)
DO UPDATE SET session_id  = COALESCE(NULLIF(EXCLUDED.session_id, ''), egress_jobs.session_id),
              room_name   = EXCLUDED.room_name,
              target_path = COALESCE(NULLIF(EXCLUDED.target_path, ''), egress_jobs.target_path),
              status      = EXCLUDED.status,
              error       = EXCLUDED.error,
              started_at  = COALESCE(EXCLUDED.started_at, egress_jobs.started_at),
              ended_at    = COALESCE(EXCLUDED.ended_at, egress_jobs.ended_at),
              updated_at  = EXCLUDED.updated_at
WHERE egress_jobs.status NOT IN ('COMPLETE','FAILED','ABORTED','LIMIT_REACHED')
`
		res, err := tx.ExecContext(ctx, upsert,
			j.EgressID,
			j.SessionID,
			j.RoomName,
			j.TargetPath,
			j.Status.String(),
			j.Error,
			nullTime(j.StartedAt),
			nullTime(j.EndedAt),
			j.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("egress: upsert job: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM egress_files WHERE egress_id = $1`, j.EgressID); err != nil {
			return fmt.Errorf("egress: clear files: %w", err)
		}
		const insertFile = `
INSERT INTO egress_files (egress_id, position, filename, size_bytes, location, duration_ns)
VALUES ($1,$2,$3,$4,$5,$6)
`
		for i, f := range j.Files {
			if _, err := tx.ExecContext(ctx, insertFile, j.EgressID, i, f.Filename, f.Size, f.Location, int64(f.Duration)); err != nil {
				return fmt.Errorf("egress: insert file: %w", err)
			}
		}
		return nil
	})
}

func (r *PostgresRepo) Get(ctx context.Context, egressID string) (Job, error) {
	const q = `
SELECT egress_id, session_id, room_name, target_path, status, error, started_at, ended_at, updated_at
FROM egress_jobs
WHERE egress_id = $1
`
	var (
		j              Job
		status         string
		started, ended sql.NullTime
	)
	if err := r.db.QueryRowContext(ctx, q, egressID).Scan(
		&j.EgressID,
		&j.SessionID,
		&j.RoomName,
		&j.TargetPath,
		&status,
		&j.Error,
		&started,
		&ended,
		&j.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, err
	}
	j.Status = ParseStatus(status)
	j.StartedAt = started.Time
	j.EndedAt = ended.Time

	const files = `
SELECT filename, size_bytes, location, duration_ns
FROM egress_files
WHERE egress_id = $1
ORDER BY position
`
	rows, err := r.db.QueryContext(ctx, files, egressID)
	if err != nil {
		return Job{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			f  File
			ns int64
		)
		if err := rows.Scan(&f.Filename, &f.Size, &f.Location, &ns); err != nil {
			return Job{}, err
		}
		f.Duration = time.Duration(ns)
		j.Files = append(j.Files, f)
	}
	return j, rows.Err()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
