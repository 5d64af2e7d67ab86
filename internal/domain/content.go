package domain

import (
	"time"
)

// Content is the pipeline's view of an AR content item: its timezone and the
// currently active marker artifact.
type Content struct {
	ID           string          `json:"id"`
	Timezone     string          `json:"timezone"`
	MarkerStatus MarkerStatus    `json:"marker_status,omitempty"`
	MarkerJobID  string          `json:"marker_job_id,omitempty"`
	Artifact     *MarkerArtifact `json:"artifact,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Location resolves the content timezone, falling back to fallback (or UTC)
// when unset or unknown.
func (c *Content) Location(fallback *time.Location) *time.Location {
	if fallback == nil {
		fallback = time.UTC
	}
	if c == nil || c.Timezone == "" {
		return fallback
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fallback
	}
	return loc
}

// MarkerReady reports whether the content has a usable marker artifact.
func (c *Content) MarkerReady() bool {
	return c != nil && c.MarkerStatus == MarkerStatusReady && c.Artifact != nil && c.Artifact.URL != ""
}
