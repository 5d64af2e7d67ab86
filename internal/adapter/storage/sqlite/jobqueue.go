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

const taskColumns = `id, job_id, status, run_at, error_message, created_at, claimed_at`

type JobQueue struct {
	store *Store
}

func NewJobQueue(store *Store) *JobQueue {
	return &JobQueue{store: store}
}

func (q *JobQueue) Enqueue(ctx context.Context, jobID string, runAt time.Time) (*domain.MarkerTask, error) {
	var task *domain.MarkerTask
	err := q.store.withRetry(ctx, func(ctx context.Context) error {
		row := q.store.db.QueryRowContext(ctx, `INSERT INTO marker_tasks (job_id, status, run_at, created_at)
			VALUES (?, 'pending', ?, ?) RETURNING `+taskColumns,
			jobID, toUnix(runAt), toUnix(time.Now()))
		var err error
		task, err = scanTask(row)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", jobID, err)
	}
	return task, nil
}

// Claim marks the oldest due pending task as running and returns it, or nil
// when nothing is due.
func (q *JobQueue) Claim(ctx context.Context, now time.Time) (*domain.MarkerTask, error) {
	var task *domain.MarkerTask
	err := q.store.withRetry(ctx, func(ctx context.Context) error {
		row := q.store.db.QueryRowContext(ctx, `UPDATE marker_tasks SET status = 'running', claimed_at = ?
			WHERE id = (
				SELECT id FROM marker_tasks
				WHERE status = 'pending' AND run_at <= ?
				ORDER BY run_at, id LIMIT 1
			)
			RETURNING `+taskColumns,
			toUnix(now), toUnix(now))
		var err error
		task, err = scanTask(row)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return task, nil
}

func (q *JobQueue) Complete(ctx context.Context, taskID int64) error {
	return q.setStatus(ctx, taskID, domain.TaskStatusDone, "")
}

func (q *JobQueue) Fail(ctx context.Context, taskID int64, errMsg string) error {
	return q.setStatus(ctx, taskID, domain.TaskStatusFailed, errMsg)
}

// Reschedule returns a claimed task to pending, due at runAt.
func (q *JobQueue) Reschedule(ctx context.Context, taskID int64, runAt time.Time, reason string) error {
	return q.store.withRetry(ctx, func(ctx context.Context) error {
		res, err := q.store.db.ExecContext(ctx, `UPDATE marker_tasks
			SET status = 'pending', run_at = ?, claimed_at = NULL, error_message = ?
			WHERE id = ?`, toUnix(runAt), reason, taskID)
		if err != nil {
			return fmt.Errorf("reschedule task %d: %w", taskID, err)
		}
		return requireAffected(res)
	})
}

// ResetStalled returns tasks left running by a crashed worker to pending.
func (q *JobQueue) ResetStalled(ctx context.Context) error {
	return q.store.withRetry(ctx, func(ctx context.Context) error {
		_, err := q.store.db.ExecContext(ctx,
			`UPDATE marker_tasks SET status = 'pending', claimed_at = NULL WHERE status = 'running'`)
		if err != nil {
			return fmt.Errorf("reset stalled tasks: %w", err)
		}
		return nil
	})
}

// RequeueOrphans enqueues a task for every non-terminal job that has no
// pending or running task, which happens when a process stops between
// creating a job and enqueueing it.
func (q *JobQueue) RequeueOrphans(ctx context.Context, now time.Time) (int, error) {
	var n int64
	err := q.store.withRetry(ctx, func(ctx context.Context) error {
		res, err := q.store.db.ExecContext(ctx, `INSERT INTO marker_tasks (job_id, status, run_at, created_at)
			SELECT j.id, 'pending', ?, ? FROM marker_jobs j
			WHERE j.status IN ('pending', 'processing')
			AND NOT EXISTS (
				SELECT 1 FROM marker_tasks t
				WHERE t.job_id = j.id AND t.status IN ('pending', 'running')
			)`, toUnix(now), toUnix(now))
		if err != nil {
			return fmt.Errorf("requeue orphans: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

// ListTasks returns the tasks recorded for jobID, oldest first.
func (q *JobQueue) ListTasks(ctx context.Context, jobID string) ([]*domain.MarkerTask, error) {
	rows, err := q.store.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM marker_tasks WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.MarkerTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (q *JobQueue) setStatus(ctx context.Context, taskID int64, status domain.TaskStatus, errMsg string) error {
	return q.store.withRetry(ctx, func(ctx context.Context) error {
		res, err := q.store.db.ExecContext(ctx,
			`UPDATE marker_tasks SET status = ?, error_message = ? WHERE id = ?`,
			string(status), errMsg, taskID)
		if err != nil {
			return fmt.Errorf("mark task %d %s: %w", taskID, status, err)
		}
		return requireAffected(res)
	})
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanTask(row rowScanner) (*domain.MarkerTask, error) {
	var (
		task             domain.MarkerTask
		status           string
		runAt, createdAt int64
		claimedAt        sql.NullInt64
	)
	if err := row.Scan(&task.ID, &task.JobID, &status, &runAt, &task.ErrorMessage, &createdAt, &claimedAt); err != nil {
		return nil, err
	}
	task.Status = domain.TaskStatus(status)
	task.RunAt = fromUnix(runAt)
	task.CreatedAt = fromUnix(createdAt)
	if claimedAt.Valid {
		t := fromUnix(claimedAt.Int64)
		task.ClaimedAt = &t
	}
	return &task, nil
}

var _ port.TaskQueue = (*JobQueue)(nil)
