package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/arpipe/internal/domain"
	"github.com/bnema/arpipe/internal/port"
	"github.com/google/uuid"
)

// rulePayload holds the kind-specific parts of a rotation rule.
type rulePayload struct {
	DateVideos []domain.DateVideo `json:"date_videos,omitempty"`
	CycleIDs   []string           `json:"cycle_video_ids,omitempty"`
	PoolIDs    []string           `json:"pool_video_ids,omitempty"`
}

func (s *Store) ListVideos(ctx context.Context, contentID string) ([]domain.Video, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, content_id, url, active_from, active_until,
			weight, sort_order, is_default, created_at
		FROM videos WHERE content_id = ? ORDER BY sort_order, created_at, id`, contentID)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var videos []domain.Video
	for rows.Next() {
		var (
			v             domain.Video
			from, until   sql.NullString
			isDefault     int64
			createdAtNano int64
		)
		if err := rows.Scan(&v.ID, &v.ContentID, &v.URL, &from, &until, &v.Weight, &v.Order,
			&isDefault, &createdAtNano); err != nil {
			return nil, fmt.Errorf("scan video: %w", err)
		}
		if v.ActiveFrom, err = parseNullDate(from); err != nil {
			return nil, err
		}
		if v.ActiveUntil, err = parseNullDate(until); err != nil {
			return nil, err
		}
		v.IsDefault = isDefault != 0
		v.CreatedAt = fromUnix(createdAtNano)
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

// SaveVideo upserts v. Marking it default clears the previous default of
// the same content in the same transaction.
func (s *Store) SaveVideo(ctx context.Context, v *domain.Video) error {
	if v.ContentID == "" || v.URL == "" {
		return errors.New("save video: content id and url are required")
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.Weight <= 0 {
		v.Weight = 1
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if v.IsDefault {
			if _, err := tx.ExecContext(ctx,
				`UPDATE videos SET is_default = 0 WHERE content_id = ? AND id <> ?`, v.ContentID, v.ID,
			); err != nil {
				return fmt.Errorf("clear default video: %w", err)
			}
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO videos
				(id, content_id, url, active_from, active_until, weight, sort_order, is_default, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				url = excluded.url,
				active_from = excluded.active_from,
				active_until = excluded.active_until,
				weight = excluded.weight,
				sort_order = excluded.sort_order,
				is_default = excluded.is_default
			WHERE videos.content_id = excluded.content_id`,
			v.ID, v.ContentID, v.URL, nullDate(v.ActiveFrom), nullDate(v.ActiveUntil), v.Weight, v.Order,
			boolToInt(v.IsDefault), toUnix(v.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("save video: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("save video: %s belongs to another content", v.ID)
		}
		return bumpRotationVersion(ctx, tx, v.ContentID)
	})
}

func (s *Store) DeleteVideo(ctx context.Context, contentID, videoID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM videos WHERE id = ? AND content_id = ?`, videoID, contentID)
		if err != nil {
			return fmt.Errorf("delete video: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrNotFound
		}
		return bumpRotationVersion(ctx, tx, contentID)
	})
}

func (s *Store) SetDefaultVideo(ctx context.Context, contentID, videoID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM videos WHERE id = ? AND content_id = ?`, videoID, contentID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("set default video: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE videos SET is_default = 0 WHERE content_id = ?`, contentID); err != nil {
			return fmt.Errorf("clear default video: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE videos SET is_default = 1 WHERE id = ?`, videoID); err != nil {
			return fmt.Errorf("set default video: %w", err)
		}
		return bumpRotationVersion(ctx, tx, contentID)
	})
}

func (s *Store) ListRules(ctx context.Context, contentID string) ([]domain.RotationRule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, content_id, kind, timezone, payload, created_at
		FROM rotation_rules WHERE content_id = ? ORDER BY created_at, id`, contentID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []domain.RotationRule
	for rows.Next() {
		var (
			r         domain.RotationRule
			kind      string
			payload   string
			createdAt int64
		)
		if err := rows.Scan(&r.ID, &r.ContentID, &kind, &r.Timezone, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		var p rulePayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, fmt.Errorf("decode rule %s: %w", r.ID, err)
		}
		r.Kind = domain.RuleKind(kind)
		r.DateVideos = p.DateVideos
		r.CycleIDs = p.CycleIDs
		r.PoolIDs = p.PoolIDs
		r.CreatedAt = fromUnix(createdAt)
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// SaveRule upserts r. A content item holds at most one rule per kind, so
// saving a kind that already exists replaces that rule and r.ID takes the
// stored id. Changing the kind of an existing id is rejected.
func (s *Store) SaveRule(ctx context.Context, r *domain.RotationRule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(rulePayload{DateVideos: r.DateVideos, CycleIDs: r.CycleIDs, PoolIDs: r.PoolIDs})
	if err != nil {
		return fmt.Errorf("encode rule: %w", err)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var existingKind, existingContent string
		err := tx.QueryRowContext(ctx, `SELECT kind, content_id FROM rotation_rules WHERE id = ?`, r.ID).
			Scan(&existingKind, &existingContent)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("load rule: %w", err)
		case existingKind != string(r.Kind) || existingContent != r.ContentID:
			return fmt.Errorf("%w: rule %s is %s", domain.ErrRuleKindImmutable, r.ID, existingKind)
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO rotation_rules (id, content_id, kind, timezone, payload, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(content_id, kind) DO UPDATE SET
				timezone = excluded.timezone,
				payload = excluded.payload`,
			r.ID, r.ContentID, string(r.Kind), r.Timezone, string(payload), toUnix(r.CreatedAt),
		); err != nil {
			return fmt.Errorf("save rule: %w", err)
		}
		var createdAt int64
		if err := tx.QueryRowContext(ctx, `SELECT id, created_at FROM rotation_rules WHERE content_id = ? AND kind = ?`,
			r.ContentID, string(r.Kind)).Scan(&r.ID, &createdAt); err != nil {
			return fmt.Errorf("reload rule: %w", err)
		}
		r.CreatedAt = fromUnix(createdAt)
		return bumpRotationVersion(ctx, tx, r.ContentID)
	})
}

func (s *Store) DeleteRule(ctx context.Context, contentID, ruleID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM rotation_rules WHERE id = ? AND content_id = ?`, ruleID, contentID)
		if err != nil {
			return fmt.Errorf("delete rule: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrNotFound
		}
		return bumpRotationVersion(ctx, tx, contentID)
	})
}

// RotationVersion returns the counter bumped by every video, rule and
// timezone edit of contentID. Content never edited reports 0.
func (s *Store) RotationVersion(ctx context.Context, contentID string) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM rotation_versions WHERE content_id = ?`, contentID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("rotation version: %w", err)
	}
	return version, nil
}

func bumpRotationVersion(ctx context.Context, tx *sql.Tx, contentID string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO rotation_versions (content_id, version) VALUES (?, 1)
		ON CONFLICT(content_id) DO UPDATE SET version = version + 1`, contentID)
	if err != nil {
		return fmt.Errorf("bump rotation version: %w", err)
	}
	return nil
}

func nullDate(d *domain.Date) sql.NullString {
	if d == nil || d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDate(s sql.NullString) (*domain.Date, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := domain.ParseDate(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

var _ port.RotationStore = (*Store)(nil)
