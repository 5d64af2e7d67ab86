package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/arpipe/internal/domain"
	"github.com/bnema/arpipe/internal/port"
)

const jobColumns = `id, content_id, source_image_path, output_dir, max_features, flow, output_path,
	artifact_url, attempts, max_attempts, status, error_kind, error_message, regenerate,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// CreateJob inserts job unless the content already has a pending or
// processing job. The check and the insert share one transaction; the
// partial unique index on active jobs backs it up.
func (s *Store) CreateJob(ctx context.Context, job *domain.MarkerJob) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var active int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM marker_jobs WHERE content_id = ? AND status IN ('pending', 'processing')`,
			job.ContentID,
		).Scan(&active); err != nil {
			return fmt.Errorf("count active jobs: %w", err)
		}
		if active > 0 {
			return domain.ErrJobInProgress
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO marker_jobs (`+jobColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			job.ID, job.ContentID, job.SourceImagePath, job.OutputDir, job.MaxFeatures, string(job.Flow),
			job.OutputPath, job.ArtifactURL, job.Attempts, job.MaxAttempts, string(job.Status),
			string(job.ErrorKind), job.ErrorMessage, boolToInt(job.Regenerate),
			toUnix(job.CreatedAt), toUnix(job.UpdatedAt),
		); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrJobInProgress
			}
			return fmt.Errorf("insert job: %w", err)
		}

		// A content item that already serves an artifact keeps its ready
		// status while a regeneration runs.
		_, err := tx.ExecContext(ctx, `INSERT INTO contents (id, marker_status, marker_job_id, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				marker_status = CASE WHEN contents.artifact_url = '' THEN excluded.marker_status ELSE contents.marker_status END,
				marker_job_id = CASE WHEN contents.artifact_url = '' THEN excluded.marker_job_id ELSE contents.marker_job_id END,
				updated_at = excluded.updated_at`,
			job.ContentID, string(job.Status), job.ID, toUnix(job.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("upsert content: %w", err)
		}
		return nil
	})
	if errors.Is(err, domain.ErrJobInProgress) {
		return fmt.Errorf("%w: %s", domain.ErrJobInProgress, job.ContentID)
	}
	return err
}

func (s *Store) GetJob(ctx context.Context, id string) (*domain.MarkerJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM marker_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return job, err
}

func (s *Store) LatestJob(ctx context.Context, contentID string) (*domain.MarkerJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM marker_jobs
		WHERE content_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, contentID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return job, err
}

// ListJobs returns the newest jobs first. An empty contentID lists all
// content; a non-positive limit means 50.
func (s *Store) ListJobs(ctx context.Context, contentID string, limit int) ([]*domain.MarkerJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM marker_jobs
		WHERE (? = '' OR content_id = ?) ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		contentID, contentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*domain.MarkerJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateJob persists a non-ready transition. Rows already terminal are
// never rewritten.
func (s *Store) UpdateJob(ctx context.Context, job *domain.MarkerJob) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := updateJobTx(ctx, tx, job); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE contents SET marker_status = ?, updated_at = ?
			WHERE id = ? AND marker_job_id = ? AND artifact_url = ''`,
			string(job.Status), toUnix(job.UpdatedAt), job.ContentID, job.ID)
		if err != nil {
			return fmt.Errorf("update content status: %w", err)
		}
		return nil
	})
}

// CompleteJob stores the ready job and points its content at the new
// artifact in the same transaction.
func (s *Store) CompleteJob(ctx context.Context, job *domain.MarkerJob, artifact *domain.MarkerArtifact) error {
	if job.Status != domain.MarkerStatusReady {
		return fmt.Errorf("%w: complete requires ready, job is %s", domain.ErrInvalidTransition, job.Status)
	}
	if artifact == nil || artifact.URL == "" {
		return errors.New("complete job: artifact url is required")
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := updateJobTx(ctx, tx, job); err != nil {
			return err
		}
		m := artifact.Metadata
		_, err := tx.ExecContext(ctx, `INSERT INTO contents (
				id, marker_status, marker_job_id, artifact_path, artifact_url, artifact_size,
				artifact_format, artifact_features, artifact_checksum, artifact_extracted_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				marker_status = excluded.marker_status,
				marker_job_id = excluded.marker_job_id,
				artifact_path = excluded.artifact_path,
				artifact_url = excluded.artifact_url,
				artifact_size = excluded.artifact_size,
				artifact_format = excluded.artifact_format,
				artifact_features = excluded.artifact_features,
				artifact_checksum = excluded.artifact_checksum,
				artifact_extracted_at = excluded.artifact_extracted_at,
				updated_at = excluded.updated_at`,
			job.ContentID, string(domain.MarkerStatusReady), job.ID, artifact.Path, artifact.URL, m.SizeBytes,
			m.FormatTag, m.FeaturePoints, m.Checksum, toUnix(m.ExtractedAt), toUnix(job.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("supersede content artifact: %w", err)
		}
		return nil
	})
}

func updateJobTx(ctx context.Context, tx *sql.Tx, job *domain.MarkerJob) error {
	res, err := tx.ExecContext(ctx, `UPDATE marker_jobs SET
			output_path = ?, artifact_url = ?, attempts = ?, status = ?,
			error_kind = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status NOT IN ('ready', 'failed')`,
		job.OutputPath, job.ArtifactURL, job.Attempts, string(job.Status),
		string(job.ErrorKind), job.ErrorMessage, toUnix(job.UpdatedAt), job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n > 0 {
		return nil
	}

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM marker_jobs WHERE id = ?`, job.ID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return fmt.Errorf("%w: %s is %s", domain.ErrJobTerminal, job.ID, status)
}

func scanJob(row rowScanner) (*domain.MarkerJob, error) {
	var (
		job                  domain.MarkerJob
		flow, status, kind   string
		regenerate           int64
		createdAt, updatedAt int64
	)
	err := row.Scan(&job.ID, &job.ContentID, &job.SourceImagePath, &job.OutputDir, &job.MaxFeatures,
		&flow, &job.OutputPath, &job.ArtifactURL, &job.Attempts, &job.MaxAttempts, &status,
		&kind, &job.ErrorMessage, &regenerate, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	job.Flow = domain.ObjectFlow(flow)
	job.Status = domain.MarkerStatus(status)
	job.ErrorKind = domain.ErrorKind(kind)
	job.Regenerate = regenerate != 0
	job.CreatedAt = fromUnix(createdAt)
	job.UpdatedAt = fromUnix(updatedAt)
	return &job, nil
}

func (s *Store) GetContent(ctx context.Context, id string) (*domain.Content, error) {
	var (
		c                   domain.Content
		status, jobID       string
		a                   domain.MarkerArtifact
		extractedAt, update int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, timezone, marker_status, marker_job_id,
			artifact_path, artifact_url, artifact_size, artifact_format, artifact_features,
			artifact_checksum, artifact_extracted_at, updated_at
		FROM contents WHERE id = ?`, id,
	).Scan(&c.ID, &c.Timezone, &status, &jobID, &a.Path, &a.URL, &a.Metadata.SizeBytes,
		&a.Metadata.FormatTag, &a.Metadata.FeaturePoints, &a.Metadata.Checksum, &extractedAt, &update)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get content: %w", err)
	}

	c.MarkerStatus = domain.MarkerStatus(status)
	c.MarkerJobID = jobID
	c.UpdatedAt = fromUnix(update)
	if a.URL != "" {
		a.JobID = jobID
		a.ContentID = c.ID
		a.Metadata.ExtractedAt = fromUnix(extractedAt)
		c.Artifact = &a
	}
	return &c, nil
}

// SaveContent upserts the externally owned content attributes. Marker
// fields are owned by the job methods and left untouched.
func (s *Store) SaveContent(ctx context.Context, c *domain.Content) error {
	if c.ID == "" {
		return errors.New("save content: id is required")
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO contents (id, timezone, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET timezone = excluded.timezone, updated_at = excluded.updated_at`,
			c.ID, c.Timezone, toUnix(c.UpdatedAt))
		if err != nil {
			return fmt.Errorf("save content: %w", err)
		}
		// The timezone decides which calendar day rotation evaluates.
		return bumpRotationVersion(ctx, tx, c.ID)
	})
}

var (
	_ port.MarkerJobStore = (*Store)(nil)
	_ port.ContentStore   = (*Store)(nil)
)
