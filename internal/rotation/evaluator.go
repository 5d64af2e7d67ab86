// Package rotation decides which video is active for a content item on a
// given day. Evaluation is pure: no I/O, no clock, no shared state.
package rotation

import (
	"hash/fnv"
	"sort"
	"time"

	"github.com/bnema/arpipe/internal/domain"
)

type Input struct {
	Now       time.Time
	ContentID string
	// Location is the content timezone, used for rules without their own
	// timezone and for the default fallback. Nil means UTC.
	Location *time.Location
	Rules    []domain.RotationRule
	Videos   []domain.Video
}

// Selection is the evaluation outcome. VideoID is empty when Reason is
// domain.ReasonNoActiveVideo.
type Selection struct {
	VideoID string
	Reason  domain.SelectionReason
	Date    domain.Date
}

func (s Selection) Found() bool {
	return s.VideoID != ""
}

// Evaluate applies the rule kinds in precedence order (date_specific,
// daily_cycle, random_daily) and falls back to the default video. A rule
// whose selection is missing or inactive on the day yields nothing and
// evaluation moves on.
func Evaluate(in Input) Selection {
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}

	byID := make(map[string]*domain.Video, len(in.Videos))
	for i := range in.Videos {
		byID[in.Videos[i].ID] = &in.Videos[i]
	}

	for _, kind := range domain.RuleKindPrecedence {
		rule := findRule(in.Rules, kind)
		if rule == nil {
			continue
		}
		day := domain.DateOf(in.Now, rule.Location(loc))

		var id string
		switch kind {
		case domain.RuleKindDateSpecific:
			id = pickDateSpecific(rule, day, byID)
		case domain.RuleKindDailyCycle:
			id = pickDailyCycle(rule, day, byID)
		case domain.RuleKindRandomDaily:
			id = pickRandomDaily(in.ContentID, rule, day, in.Videos, byID)
		}
		if id != "" {
			return Selection{VideoID: id, Reason: domain.SelectionReason(kind), Date: day}
		}
	}

	day := domain.DateOf(in.Now, loc)
	for i := range in.Videos {
		v := &in.Videos[i]
		if v.IsDefault && v.ActiveOn(day) {
			return Selection{VideoID: v.ID, Reason: domain.ReasonDefault, Date: day}
		}
	}
	return Selection{Reason: domain.ReasonNoActiveVideo, Date: day}
}

func findRule(rules []domain.RotationRule, kind domain.RuleKind) *domain.RotationRule {
	for i := range rules {
		if rules[i].Kind == kind {
			return &rules[i]
		}
	}
	return nil
}

func usable(byID map[string]*domain.Video, id string, day domain.Date) bool {
	v, ok := byID[id]
	return ok && v.ActiveOn(day)
}

func pickDateSpecific(rule *domain.RotationRule, day domain.Date, byID map[string]*domain.Video) string {
	for _, dv := range rule.DateVideos {
		if dv.Date == day && usable(byID, dv.VideoID, day) {
			return dv.VideoID
		}
	}
	return ""
}

func pickDailyCycle(rule *domain.RotationRule, day domain.Date, byID map[string]*domain.Video) string {
	n := int64(len(rule.CycleIDs))
	if n == 0 {
		return ""
	}
	idx := day.DaysSinceEpoch() % n
	if idx < 0 {
		idx += n
	}
	id := rule.CycleIDs[idx]
	if !usable(byID, id, day) {
		return ""
	}
	return id
}

// pickRandomDaily draws from the pool with a seed derived from the content
// id and the calendar day, weighted by Video.Weight. An empty pool means
// every video active that day.
func pickRandomDaily(contentID string, rule *domain.RotationRule, day domain.Date, videos []domain.Video, byID map[string]*domain.Video) string {
	var pool []*domain.Video
	if len(rule.PoolIDs) > 0 {
		seen := make(map[string]bool, len(rule.PoolIDs))
		for _, id := range rule.PoolIDs {
			if seen[id] || !usable(byID, id, day) {
				continue
			}
			seen[id] = true
			pool = append(pool, byID[id])
		}
	} else {
		for i := range videos {
			if videos[i].ActiveOn(day) {
				pool = append(pool, &videos[i])
			}
		}
		sort.SliceStable(pool, func(a, b int) bool {
			if pool[a].Order != pool[b].Order {
				return pool[a].Order < pool[b].Order
			}
			return pool[a].ID < pool[b].ID
		})
	}
	if len(pool) == 0 {
		return ""
	}

	var total uint64
	for _, v := range pool {
		total += weight(v)
	}
	r := DailySeed(contentID, day) % total
	for _, v := range pool {
		w := weight(v)
		if r < w {
			return v.ID
		}
		r -= w
	}
	return pool[len(pool)-1].ID
}

func weight(v *domain.Video) uint64 {
	if v.Weight <= 0 {
		return 1
	}
	return uint64(v.Weight)
}

// DailySeed is the FNV-1a hash of "<contentID>|<YYYY-MM-DD>".
func DailySeed(contentID string, day domain.Date) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(contentID))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(day.String()))
	return h.Sum64()
}
