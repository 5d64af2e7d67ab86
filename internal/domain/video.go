package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar date without a time of day or zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t, time.UTC), nil
}

// DateOf returns the calendar date of t observed in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) IsZero() bool {
	return d == Date{}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// DaysSinceEpoch counts whole days from 1970-01-01 to d.
func (d Date) DaysSinceEpoch() int64 {
	t := time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
	return t.Unix() / 86400
}

func (d Date) Before(other Date) bool {
	return d.DaysSinceEpoch() < other.DaysSinceEpoch()
}

func (d Date) After(other Date) bool {
	return d.DaysSinceEpoch() > other.DaysSinceEpoch()
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Video is a candidate playable asset attached to a content item.
type Video struct {
	ID          string    `json:"id"`
	ContentID   string    `json:"content_id"`
	URL         string    `json:"url"`
	ActiveFrom  *Date     `json:"active_from,omitempty"`
	ActiveUntil *Date     `json:"active_until,omitempty"`
	Weight      int       `json:"weight"`
	Order       int       `json:"order"`
	IsDefault   bool      `json:"is_default"`
	CreatedAt   time.Time `json:"created_at"`
}

// ActiveOn reports whether d falls within the video's optional inclusive
// active range.
func (v *Video) ActiveOn(d Date) bool {
	if v.ActiveFrom != nil && d.Before(*v.ActiveFrom) {
		return false
	}
	if v.ActiveUntil != nil && d.After(*v.ActiveUntil) {
		return false
	}
	return true
}

type RuleKind string

const (
	RuleKindDateSpecific RuleKind = "date_specific"
	RuleKindDailyCycle   RuleKind = "daily_cycle"
	RuleKindRandomDaily  RuleKind = "random_daily"
)

// RuleKindPrecedence lists rule kinds from highest to lowest priority.
var RuleKindPrecedence = []RuleKind{RuleKindDateSpecific, RuleKindDailyCycle, RuleKindRandomDaily}

func ParseRuleKind(s string) (RuleKind, error) {
	for _, k := range RuleKindPrecedence {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown rotation rule kind %q", s)
}

type DateVideo struct {
	Date    Date   `json:"date"`
	VideoID string `json:"video_id"`
}

// RotationRule is a scheduling policy attached to a content item. Only the
// fields matching Kind are meaningful.
type RotationRule struct {
	ID         string      `json:"id"`
	ContentID  string      `json:"content_id"`
	Kind       RuleKind    `json:"kind"`
	Timezone   string      `json:"timezone,omitempty"`
	DateVideos []DateVideo `json:"date_videos,omitempty"`
	CycleIDs   []string    `json:"cycle_video_ids,omitempty"`
	PoolIDs    []string    `json:"pool_video_ids,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

func (r *RotationRule) Validate() error {
	if r.ContentID == "" {
		return fmt.Errorf("rotation rule: content id is required")
	}
	if _, err := ParseRuleKind(string(r.Kind)); err != nil {
		return err
	}
	if r.Timezone != "" {
		if _, err := time.LoadLocation(r.Timezone); err != nil {
			return fmt.Errorf("rotation rule: invalid timezone %q: %w", r.Timezone, err)
		}
	}
	return nil
}

// Location resolves the rule timezone, or fallback when unset.
func (r *RotationRule) Location(fallback *time.Location) *time.Location {
	if r.Timezone == "" {
		return fallback
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return fallback
	}
	return loc
}

type SelectionReason string

const (
	ReasonDateSpecific  SelectionReason = "date_specific"
	ReasonDailyCycle    SelectionReason = "daily_cycle"
	ReasonRandomDaily   SelectionReason = "random_daily"
	ReasonDefault       SelectionReason = "default"
	ReasonNoActiveVideo SelectionReason = "no_active_video"
)

// RotationEvaluationResult memoizes one resolution for a content item and
// calendar date. It is never the source of truth.
type RotationEvaluationResult struct {
	ContentID    string          `json:"content_id"`
	EvaluatedFor Date            `json:"evaluated_for"`
	VideoID      string          `json:"video_id,omitempty"`
	Reason       SelectionReason `json:"reason"`
	EvaluatedAt  time.Time       `json:"evaluated_at"`
}
