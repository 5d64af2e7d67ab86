package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/arpipe/internal/domain"
	"github.com/bnema/arpipe/internal/infrastructure/tracing"
	"github.com/bnema/arpipe/internal/port"
	"github.com/bnema/arpipe/internal/rotation"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

// Resolution is the video a content item plays at a given instant.
type Resolution struct {
	ContentID   string                 `json:"content_id"`
	VideoID     string                 `json:"video_id,omitempty"`
	VideoURL    string                 `json:"selected_video_url,omitempty"`
	Reason      domain.SelectionReason `json:"selection_reason"`
	Date        domain.Date            `json:"evaluated_for"`
	EvaluatedAt time.Time              `json:"evaluated_at"`
}

func (r Resolution) Found() bool {
	return r.VideoID != ""
}

// dayKey pins a cached resolution to the calendar date observed in one
// timezone.
type dayKey struct {
	loc  *time.Location
	date domain.Date
}

type cacheEntry struct {
	days    []dayKey
	// version is the store's rotation version read before the entry's
	// rules and videos were loaded.
	version int64
	memo    domain.RotationEvaluationResult
	url     string
}

func (e *cacheEntry) resolution() Resolution {
	return Resolution{
		ContentID:   e.memo.ContentID,
		VideoID:     e.memo.VideoID,
		VideoURL:    e.url,
		Reason:      e.memo.Reason,
		Date:        e.memo.EvaluatedFor,
		EvaluatedAt: e.memo.EvaluatedAt,
	}
}

// valid reports whether now falls on the same calendar day, in every
// timezone the evaluation depended on, as when the entry was computed.
func (e *cacheEntry) valid(now time.Time) bool {
	for _, d := range e.days {
		if domain.DateOf(now, d.loc) != d.date {
			return false
		}
	}
	return true
}

// Resolver answers which video is active for a content item. Results are
// cached per content until the calendar day changes or the store's rotation
// version moves, so edits made by another process are seen too. A hit costs
// one version lookup instead of loading rules and videos.
type Resolver struct {
	contents   port.ContentStore
	store      port.RotationStore
	defaultLoc *time.Location
	log        zerolog.Logger

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]*cacheEntry
	gen   map[string]uint64
}

func NewResolver(contents port.ContentStore, store port.RotationStore, defaultLoc *time.Location, log zerolog.Logger) *Resolver {
	if defaultLoc == nil {
		defaultLoc = time.UTC
	}
	return &Resolver{
		contents:   contents,
		store:      store,
		defaultLoc: defaultLoc,
		log:        log.With().Str("component", "resolver").Logger(),
		cache:      make(map[string]*cacheEntry),
		gen:        make(map[string]uint64),
	}
}

// Resolve returns the active video for contentID at now. A content item
// with no eligible video resolves to domain.ReasonNoActiveVideo, not an
// error. Content whose marker is not ready yields domain.ErrMarkerNotReady.
func (r *Resolver) Resolve(ctx context.Context, contentID string, now time.Time) (res Resolution, err error) {
	ctx, span := tracing.StartSpan(ctx, "rotation.resolve", attribute.String("content_id", contentID))
	defer func() { tracing.EndSpan(span, err) }()

	version, err := r.store.RotationVersion(ctx, contentID)
	if err != nil {
		return Resolution{}, err
	}
	if e, ok := r.lookup(contentID, now, version); ok {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return e.resolution(), nil
	}
	span.SetAttributes(attribute.Bool("cache_hit", false))

	ch := r.group.DoChan(contentID, func() (any, error) {
		return r.load(context.WithoutCancel(ctx), contentID, now)
	})
	var e *cacheEntry
	select {
	case <-ctx.Done():
		return Resolution{}, ctx.Err()
	case out := <-ch:
		if out.Err != nil {
			return Resolution{}, out.Err
		}
		e = out.Val.(*cacheEntry)
	}

	// A coalesced load may have been computed for a different day, or
	// before an edit this caller already observed.
	if !e.valid(now) || e.version < version {
		e, err = r.load(ctx, contentID, now)
		if err != nil {
			return Resolution{}, err
		}
	}
	return e.resolution(), nil
}

func (r *Resolver) lookup(contentID string, now time.Time, version int64) (*cacheEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.cache[contentID]
	if !ok || e.version != version || !e.valid(now) {
		return nil, false
	}
	return e, true
}

func (r *Resolver) load(ctx context.Context, contentID string, now time.Time) (*cacheEntry, error) {
	r.mu.RLock()
	gen := r.gen[contentID]
	r.mu.RUnlock()

	version, err := r.store.RotationVersion(ctx, contentID)
	if err != nil {
		return nil, err
	}
	content, err := r.contents.GetContent(ctx, contentID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: content %s", domain.ErrNotFound, contentID)
	}
	if err != nil {
		return nil, fmt.Errorf("load content: %w", err)
	}
	if !content.MarkerReady() {
		return nil, fmt.Errorf("%w: %s is %q", domain.ErrMarkerNotReady, contentID, content.MarkerStatus)
	}

	rules, err := r.store.ListRules(ctx, contentID)
	if err != nil {
		return nil, fmt.Errorf("load rotation rules: %w", err)
	}
	videos, err := r.store.ListVideos(ctx, contentID)
	if err != nil {
		return nil, fmt.Errorf("load videos: %w", err)
	}

	loc := content.Location(r.defaultLoc)
	sel := rotation.Evaluate(rotation.Input{
		Now:       now,
		ContentID: contentID,
		Location:  loc,
		Rules:     rules,
		Videos:    videos,
	})

	e := &cacheEntry{
		version: version,
		memo: domain.RotationEvaluationResult{
			ContentID:    contentID,
			EvaluatedFor: sel.Date,
			VideoID:      sel.VideoID,
			Reason:       sel.Reason,
			EvaluatedAt:  now,
		},
	}
	for i := range videos {
		if videos[i].ID == sel.VideoID {
			e.url = videos[i].URL
			break
		}
	}

	e.days = []dayKey{{loc: loc, date: domain.DateOf(now, loc)}}
	for i := range rules {
		rl := rules[i].Location(loc)
		e.days = append(e.days, dayKey{loc: rl, date: domain.DateOf(now, rl)})
	}

	r.mu.Lock()
	if r.gen[contentID] == gen {
		r.cache[contentID] = e
	}
	r.mu.Unlock()

	r.log.Debug().
		Str("content_id", contentID).
		Str("video_id", e.memo.VideoID).
		Str("reason", string(e.memo.Reason)).
		Str("date", e.memo.EvaluatedFor.String()).
		Msg("rotation evaluated")
	return e, nil
}

// Invalidate drops the cached resolution for contentID.
func (r *Resolver) Invalidate(contentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, contentID)
	r.gen[contentID]++
}

func (r *Resolver) SaveContent(ctx context.Context, c *domain.Content) error {
	if err := r.contents.SaveContent(ctx, c); err != nil {
		return err
	}
	r.Invalidate(c.ID)
	return nil
}

func (r *Resolver) ListVideos(ctx context.Context, contentID string) ([]domain.Video, error) {
	return r.store.ListVideos(ctx, contentID)
}

func (r *Resolver) SaveVideo(ctx context.Context, v *domain.Video) error {
	if err := r.store.SaveVideo(ctx, v); err != nil {
		return err
	}
	r.Invalidate(v.ContentID)
	return nil
}

func (r *Resolver) DeleteVideo(ctx context.Context, contentID, videoID string) error {
	if err := r.store.DeleteVideo(ctx, contentID, videoID); err != nil {
		return err
	}
	r.Invalidate(contentID)
	return nil
}

func (r *Resolver) SetDefaultVideo(ctx context.Context, contentID, videoID string) error {
	if err := r.store.SetDefaultVideo(ctx, contentID, videoID); err != nil {
		return err
	}
	r.Invalidate(contentID)
	return nil
}

func (r *Resolver) ListRules(ctx context.Context, contentID string) ([]domain.RotationRule, error) {
	return r.store.ListRules(ctx, contentID)
}

func (r *Resolver) SaveRule(ctx context.Context, rule *domain.RotationRule) error {
	if err := r.store.SaveRule(ctx, rule); err != nil {
		return err
	}
	r.Invalidate(rule.ContentID)
	return nil
}

func (r *Resolver) DeleteRule(ctx context.Context, contentID, ruleID string) error {
	if err := r.store.DeleteRule(ctx, contentID, ruleID); err != nil {
		return err
	}
	r.Invalidate(contentID)
	return nil
}

// Publish drops the cached resolution once a marker job settles, so a
// content item whose marker changed state is evaluated afresh.
func (r *Resolver) Publish(contentID string, event MarkerEvent) {
	if event.Status.IsTerminal() {
		r.Invalidate(contentID)
	}
}
