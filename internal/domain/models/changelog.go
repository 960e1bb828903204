package models

import "time"

// Change line types.
const (
	ChangeInitial = "initial"
	ChangeRegime  = "regime"
	ChangeScore   = "score"
	ChangeWeight  = "weight"
	ChangeNone    = "none"
)

type ChangeLine struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// ChangelogEntry is the narrative record of one run.
type ChangelogEntry struct {
	ID         string             `json:"id"`
	SnapshotID string             `json:"snapshotId"`
	Version    string             `json:"version"`
	RunDate    time.Time          `json:"runDate"`
	Headline   Headline           `json:"headline"`
	Changes    []ChangeLine       `json:"changes"`
	Metrics    map[string]float64 `json:"metrics"`
	CreatedAt  time.Time          `json:"createdAt"`
}

// Headline is the compact metric set shown at the top of an entry and in run summaries.
type Headline struct {
	Regime         string    `json:"regime"`
	CompositeScore float64   `json:"compositeScore"`
	Direction      Direction `json:"direction"`
	GrossExposure  float64   `json:"grossExposure"`
}
